package resilience

import (
	"log/slog"
	"sync"
	"time"
)

// DegradationLevel represents the current degradation state
type DegradationLevel int

const (
	LevelNormal DegradationLevel = iota
	LevelDegraded
	LevelCritical
	LevelEmergency
)

func (l DegradationLevel) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelDegraded:
		return "degraded"
	case LevelCritical:
		return "critical"
	case LevelEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// DegradationConfig holds configuration for upstream health tracking
type DegradationConfig struct {
	DegradedThreshold   float64       `json:"degraded_threshold"`    // Error rate threshold (0.0-1.0)
	CriticalThreshold   float64       `json:"critical_threshold"`    // Error rate threshold (0.0-1.0)
	EmergencyThreshold  float64       `json:"emergency_threshold"`   // Error rate threshold (0.0-1.0)
	RecoveryTimeWindow  time.Duration `json:"recovery_time_window"`  // Time window for error rate calculation
	MaxDegradedDuration time.Duration `json:"max_degraded_duration"` // Max time in degraded state before emergency
}

// DefaultDegradationConfig returns sensible defaults
func DefaultDegradationConfig() DegradationConfig {
	return DegradationConfig{
		DegradedThreshold:   0.1,  // 10% error rate
		CriticalThreshold:   0.25, // 25% error rate
		EmergencyThreshold:  0.5,  // 50% error rate
		RecoveryTimeWindow:  5 * time.Minute,
		MaxDegradedDuration: 10 * time.Minute,
	}
}

// ServiceHealth represents the observed health of one upstream service
type ServiceHealth struct {
	ServiceName   string           `json:"service_name"`
	Level         DegradationLevel `json:"level"`
	ErrorRate     float64          `json:"error_rate"`
	TotalRequests int64            `json:"total_requests"`
	ErrorCount    int64            `json:"error_count"`
	LastError     error            `json:"-"` // Don't serialize
	LastErrorTime time.Time        `json:"last_error_time"`
	DegradedSince *time.Time       `json:"degraded_since,omitempty"`
	StatusMessage string           `json:"status_message"`

	windowStart time.Time
}

// DegradationManager tracks error rates per upstream service. It only
// observes: request gating stays with the circuit breakers.
type DegradationManager struct {
	config   DegradationConfig
	services map[string]*ServiceHealth
	mutex    sync.RWMutex
}

// NewDegradationManager creates a new degradation manager
func NewDegradationManager(config DegradationConfig) *DegradationManager {
	return &DegradationManager{
		config:   config,
		services: make(map[string]*ServiceHealth),
	}
}

// RegisterService starts tracking an upstream service
func (dm *DegradationManager) RegisterService(serviceName string) {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	dm.registerLocked(serviceName)
}

func (dm *DegradationManager) registerLocked(serviceName string) *ServiceHealth {
	if service, exists := dm.services[serviceName]; exists {
		return service
	}

	service := &ServiceHealth{
		ServiceName:   serviceName,
		Level:         LevelNormal,
		StatusMessage: "Service is healthy",
		windowStart:   time.Now(),
	}
	dm.services[serviceName] = service

	slog.Debug("Registered upstream service for health tracking", "service", serviceName)
	return service
}

// RecordRequest records a request and its success/failure
func (dm *DegradationManager) RecordRequest(serviceName string, success bool) {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	service := dm.registerLocked(serviceName)
	dm.rollWindow(service)

	service.TotalRequests++
	if !success {
		service.ErrorCount++
		service.LastErrorTime = time.Now()
	}

	dm.recalculate(service)
}

// RecordError records a failed request with its error
func (dm *DegradationManager) RecordError(serviceName string, err error) {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	service := dm.registerLocked(serviceName)
	dm.rollWindow(service)

	service.TotalRequests++
	service.ErrorCount++
	service.LastError = err
	service.LastErrorTime = time.Now()

	dm.recalculate(service)
}

// rollWindow discards stale counts so an upstream can recover once the
// configured window has passed.
func (dm *DegradationManager) rollWindow(service *ServiceHealth) {
	if dm.config.RecoveryTimeWindow <= 0 {
		return
	}
	if time.Since(service.windowStart) >= dm.config.RecoveryTimeWindow {
		service.TotalRequests = 0
		service.ErrorCount = 0
		service.ErrorRate = 0
		service.windowStart = time.Now()
	}
}

// recalculate updates the error rate and degradation level of a service
func (dm *DegradationManager) recalculate(service *ServiceHealth) {
	if service.TotalRequests > 0 {
		service.ErrorRate = float64(service.ErrorCount) / float64(service.TotalRequests)
	}

	oldLevel := service.Level
	now := time.Now()

	var newLevel DegradationLevel
	var statusMessage string

	switch {
	case service.ErrorRate >= dm.config.EmergencyThreshold:
		newLevel = LevelEmergency
		statusMessage = "Service is in emergency state - high error rate"
	case service.ErrorRate >= dm.config.CriticalThreshold:
		newLevel = LevelCritical
		statusMessage = "Service is in critical state - elevated error rate"
	case service.ErrorRate >= dm.config.DegradedThreshold:
		newLevel = LevelDegraded
		statusMessage = "Service is degraded - moderate error rate"
	default:
		newLevel = LevelNormal
		statusMessage = "Service is healthy"
	}

	// A service stuck in degraded escalates to emergency
	if newLevel == LevelDegraded && service.DegradedSince != nil {
		if now.Sub(*service.DegradedSince) > dm.config.MaxDegradedDuration {
			newLevel = LevelEmergency
			statusMessage = "Service has been degraded too long - entering emergency state"
		}
	}

	if newLevel == LevelDegraded && oldLevel != LevelDegraded {
		service.DegradedSince = &now
	} else if newLevel != LevelDegraded {
		service.DegradedSince = nil
	}

	service.Level = newLevel
	service.StatusMessage = statusMessage

	if oldLevel != newLevel {
		slog.Warn("Service degradation level changed",
			"service", service.ServiceName,
			"old_level", oldLevel.String(),
			"new_level", newLevel.String(),
			"error_rate", service.ErrorRate,
			"total_requests", service.TotalRequests,
			"error_count", service.ErrorCount)
	}
}

// GetServiceHealth returns the health status of a service
func (dm *DegradationManager) GetServiceHealth(serviceName string) (*ServiceHealth, bool) {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	service, exists := dm.services[serviceName]
	if !exists {
		return nil, false
	}

	copied := *service
	return &copied, true
}

// GetAllServiceHealth returns health status for all tracked services
func (dm *DegradationManager) GetAllServiceHealth() map[string]*ServiceHealth {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	result := make(map[string]*ServiceHealth, len(dm.services))
	for name, service := range dm.services {
		copied := *service
		result[name] = &copied
	}

	return result
}

// IsServiceAvailable checks if a service is considered usable
func (dm *DegradationManager) IsServiceAvailable(serviceName string) bool {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	service, exists := dm.services[serviceName]
	if !exists {
		return true
	}

	return service.Level != LevelEmergency
}

// ResetService resets a service's health status
func (dm *DegradationManager) ResetService(serviceName string) {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	if service, exists := dm.services[serviceName]; exists {
		service.Level = LevelNormal
		service.ErrorRate = 0.0
		service.TotalRequests = 0
		service.ErrorCount = 0
		service.LastError = nil
		service.LastErrorTime = time.Time{}
		service.DegradedSince = nil
		service.StatusMessage = "Service is healthy"
		service.windowStart = time.Now()

		slog.Info("Service health reset", "service", serviceName)
	}
}
