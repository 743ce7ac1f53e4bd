package config

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/repopulse/repopulse/internal/types"
)

// weightTolerance is the allowed deviation of the weight sum from 1.0
const weightTolerance = 0.001

// RiskThresholds holds the day gaps at which dependency risk escalates.
// Each threshold is the lower bound of its tier.
type RiskThresholds struct {
	LowDays      int `yaml:"low_days"`
	MediumDays   int `yaml:"medium_days"`
	HighDays     int `yaml:"high_days"`
	CriticalDays int `yaml:"critical_days"`
}

// Config is the immutable process configuration. It is built once in main
// and passed explicitly into every component; nothing reads the environment
// after Load returns.
type Config struct {
	Port           string
	DataDir        string
	LogLevel       slog.Level
	AllowedOrigins []string

	GitHubToken     string
	GitHubBaseURL   string
	RegistryBaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	HistoryDisabled bool

	HTTPTimeout      time.Duration
	MaxRetries       int
	CollectorTimeout time.Duration

	Weights        map[string]float64
	RiskThresholds RiskThresholds

	DependencyBatchSize  int
	DependencyBatchDelay time.Duration
	DependencyLimit      int
	FileBatchSize        int
	FileBatchDelay       time.Duration
	FileSampleSize       int
	MaxFileBytes         int64
}

// fileConfig is the shape of the optional YAML overrides file
type fileConfig struct {
	Weights        map[string]float64 `yaml:"weights"`
	RiskThresholds *RiskThresholds    `yaml:"risk_thresholds"`
}

// Default returns the built-in configuration before any overrides
func Default() *Config {
	return &Config{
		Port:           "8080",
		DataDir:        "./data",
		LogLevel:       slog.LevelInfo,
		AllowedOrigins: []string{"*"},

		GitHubBaseURL:   "https://api.github.com",
		RegistryBaseURL: "https://registry.npmjs.org",

		HTTPTimeout:      12 * time.Second,
		MaxRetries:       2,
		CollectorTimeout: 30 * time.Second,

		Weights: map[string]float64{
			types.SignalSourceMetadata: 0.25,
			types.SignalDocumentation:  0.25,
			types.SignalDependencies:   0.25,
			types.SignalCodeQuality:    0.25,
		},
		RiskThresholds: RiskThresholds{
			LowDays:      90,
			MediumDays:   180,
			HighDays:     365,
			CriticalDays: 730,
		},

		DependencyBatchSize:  5,
		DependencyBatchDelay: 200 * time.Millisecond,
		DependencyLimit:      30,
		FileBatchSize:        5,
		FileBatchDelay:       150 * time.Millisecond,
		FileSampleSize:       30,
		MaxFileBytes:         256 * 1024,
	}
}

// Load builds the configuration from defaults, the optional YAML overrides
// file named by REPOPULSE_CONFIG, and environment variables, in that order.
// A .env file in the working directory is honored when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded environment from .env file")
	}

	cfg := Default()

	if path := os.Getenv("REPOPULSE_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyFile merges the YAML overrides file into the config
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	for signal, weight := range fc.Weights {
		if _, known := c.Weights[signal]; !known {
			return fmt.Errorf("config file %s: unknown signal %q in weights", path, signal)
		}
		c.Weights[signal] = weight
	}

	if fc.RiskThresholds != nil {
		c.RiskThresholds = *fc.RiskThresholds
	}

	slog.Info("Applied configuration overrides", "path", path)
	return nil
}

// applyEnv merges environment variables into the config
func (c *Config) applyEnv() {
	c.Port = getEnvOrDefault("PORT", c.Port)
	c.DataDir = getEnvOrDefault("DATA_DIR", c.DataDir)
	c.GitHubToken = os.Getenv("GITHUB_TOKEN")
	c.GitHubBaseURL = getEnvOrDefault("GITHUB_API_URL", c.GitHubBaseURL)
	c.RegistryBaseURL = getEnvOrDefault("NPM_REGISTRY_URL", c.RegistryBaseURL)

	c.RedisAddr = getEnvOrDefault("REDIS_URL", c.RedisAddr)
	c.RedisPassword = os.Getenv("REDIS_PASSWORD")
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)

	c.HistoryDisabled = getEnvBool("HISTORY_DISABLED", c.HistoryDisabled)

	c.HTTPTimeout = getEnvSeconds("HTTP_TIMEOUT_SECONDS", c.HTTPTimeout)
	c.MaxRetries = getEnvInt("HTTP_MAX_RETRIES", c.MaxRetries)
	c.CollectorTimeout = getEnvSeconds("COLLECTOR_TIMEOUT_SECONDS", c.CollectorTimeout)

	c.DependencyLimit = getEnvInt("DEPENDENCY_LOOKUP_LIMIT", c.DependencyLimit)
	c.FileSampleSize = getEnvInt("FILE_SAMPLE_SIZE", c.FileSampleSize)

	for signal := range c.Weights {
		envKey := "WEIGHT_" + strings.ToUpper(signal)
		if raw := os.Getenv(envKey); raw != "" {
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				c.Weights[signal] = v
			} else {
				slog.Warn("Ignoring unparseable weight override", "key", envKey, "value", raw)
			}
		}
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = splitAndTrim(origins)
	}

	switch getEnvOrDefault("LOG_LEVEL", "info") {
	case "debug":
		c.LogLevel = slog.LevelDebug
	case "warn":
		c.LogLevel = slog.LevelWarn
	case "error":
		c.LogLevel = slog.LevelError
	default:
		c.LogLevel = slog.LevelInfo
	}
}

// Validate checks the invariants the pipeline depends on. It runs once at
// startup so a bad deployment fails before the first request.
func (c *Config) Validate() error {
	if len(c.Weights) != len(types.AllSignals) {
		return fmt.Errorf("weights must cover all %d signals, got %d", len(types.AllSignals), len(c.Weights))
	}

	sum := 0.0
	for _, signal := range types.AllSignals {
		weight, ok := c.Weights[signal]
		if !ok {
			return fmt.Errorf("missing weight for signal %q", signal)
		}
		if weight < 0 {
			return fmt.Errorf("weight for signal %q is negative: %f", signal, weight)
		}
		sum += weight
	}
	if math.Abs(sum-1.0) > weightTolerance {
		return fmt.Errorf("signal weights must sum to 1.0, got %f", sum)
	}

	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http timeout must be positive, got %s", c.HTTPTimeout)
	}
	if c.CollectorTimeout <= 0 {
		return fmt.Errorf("collector timeout must be positive, got %s", c.CollectorTimeout)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries)
	}

	rt := c.RiskThresholds
	if rt.LowDays <= 0 || rt.MediumDays <= rt.LowDays || rt.HighDays <= rt.MediumDays || rt.CriticalDays <= rt.HighDays {
		return fmt.Errorf("risk thresholds must be strictly increasing, got %d/%d/%d/%d",
			rt.LowDays, rt.MediumDays, rt.HighDays, rt.CriticalDays)
	}

	if c.DependencyBatchSize <= 0 || c.FileBatchSize <= 0 {
		return fmt.Errorf("batch sizes must be positive")
	}
	if c.DependencyLimit <= 0 || c.FileSampleSize <= 0 {
		return fmt.Errorf("lookup limits must be positive")
	}

	return nil
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
		slog.Warn("Ignoring unparseable integer", "key", key, "value", value)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
		slog.Warn("Ignoring unparseable boolean", "key", key, "value", value)
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return time.Duration(parsed) * time.Second
		}
		slog.Warn("Ignoring unparseable duration", "key", key, "value", value)
	}
	return defaultValue
}
