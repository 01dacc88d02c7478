package rhythm

import (
	"sort"

	"github.com/phobologic/codeheal/internal/model"
)

// Thresholds bound the variance of harmony for each rhythm label.
type Thresholds struct {
	Synchronized float64
	Oscillating  float64
}

// DefaultThresholds returns 0.001 and 0.01.
func DefaultThresholds() Thresholds {
	return Thresholds{Synchronized: 0.001, Oscillating: 0.01}
}

// Label names the rhythm for a harmony variance.
func (t Thresholds) Label(variance float64) model.Rhythm {
	switch {
	case variance < t.Synchronized:
		return model.Synchronized
	case variance < t.Oscillating:
		return model.Oscillating
	default:
		return model.Turbulent
	}
}

// Summarize computes session statistics over the post-cycle harmonies.
// Variance is the population variance. With no cycles the mean is the
// initial harmony.
func Summarize(initial float64, cycles []model.CycleRecord, t Thresholds) model.SessionSummary {
	s := model.SessionSummary{
		Cycles:         len(cycles),
		InitialHarmony: initial,
		FinalHarmony:   initial,
		MeanHarmony:    initial,
	}
	if len(cycles) == 0 {
		s.Rhythm = t.Label(0)
		return s
	}

	touched := make(map[string]struct{})
	sum := 0.0
	for _, c := range cycles {
		sum += c.Harmony
		s.ModificationsApplied += c.ModificationsApplied
		s.FailedAttempts += c.FailedAttempts
		for _, f := range c.FilesTouched {
			touched[f] = struct{}{}
		}
	}
	mean := sum / float64(len(cycles))
	variance := 0.0
	for _, c := range cycles {
		d := c.Harmony - mean
		variance += d * d
	}
	variance /= float64(len(cycles))

	s.FinalHarmony = cycles[len(cycles)-1].Harmony
	s.MeanHarmony = mean
	s.HarmonyVariance = variance
	s.Rhythm = t.Label(variance)
	for f := range touched {
		s.FilesTouched = append(s.FilesTouched, f)
	}
	sort.Strings(s.FilesTouched)
	return s
}
