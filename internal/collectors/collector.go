package collectors

import (
	"context"
	"math"
	"time"

	"github.com/repopulse/repopulse/internal/types"
)

// Collector is the shared contract for all signal collectors. Collect
// always returns a usable SignalResult; internal failures are folded
// into the value and never escape as errors.
type Collector interface {
	Name() string
	Collect(ctx context.Context, req types.AssessmentRequest) types.SignalResult
}

// bands maps a raw metric onto the shared grading scale. Values at or
// above excellent grade 100, then 80, 60 and 40 at each lower band,
// with a linear ramp from 0 to 40 below poor.
type bands struct {
	excellent, good, average, poor float64
}

func (b bands) grade(v float64) float64 {
	switch {
	case v >= b.excellent:
		return 100
	case v >= b.good:
		return 80
	case v >= b.average:
		return 60
	case v >= b.poor:
		return 40
	case v <= 0:
		return 0
	default:
		return 40 * v / b.poor
	}
}

// gradeInverse grades metrics where smaller is better, such as days
// since the last push. Values past poor ramp linearly down to 0 at
// twice poor.
func (b bands) gradeInverse(v float64) float64 {
	switch {
	case v <= b.excellent:
		return 100
	case v <= b.good:
		return 80
	case v <= b.average:
		return 60
	case v <= b.poor:
		return 40
	default:
		return clamp(40*(2-v/b.poor), 0, 40)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func round2(v float64) float64 { return math.Round(v*100) / 100 }

// forEachBatch walks items in fixed-size groups with a pause between
// groups so collectors do not trip third-party rate limits. It stops
// early when ctx is done and reports whether the walk completed.
func forEachBatch[T any](ctx context.Context, items []T, size int, delay time.Duration, fn func(T)) bool {
	if size <= 0 {
		size = len(items)
	}
	for start := 0; start < len(items); start += size {
		if start > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(delay):
			}
		}
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		for _, item := range items[start:end] {
			fn(item)
		}
	}
	return true
}
