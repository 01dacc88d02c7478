// Package diagnose picks the weakest dimension of a profile.
package diagnose

import (
	"fmt"

	"github.com/phobologic/codeheal/internal/model"
)

// DefaultPriority breaks ties between equally weak dimensions.
var DefaultPriority = []model.Dimension{
	model.Validation,
	model.Resilience,
	model.Observability,
	model.Care,
}

// Diagnoser holds the threshold and tie-break order.
type Diagnoser struct {
	Threshold float64
	Priority  []model.Dimension
}

// New returns a diagnoser with the default tie-break order.
func New(threshold float64) Diagnoser {
	return Diagnoser{Threshold: threshold, Priority: DefaultPriority}
}

// Diagnose is New(threshold).Diagnose(p).
func Diagnose(p model.Profile, threshold float64) model.Deficit {
	return New(threshold).Diagnose(p)
}

// Diagnose returns the dimension with the lowest score. Ties go to the
// dimension listed first in Priority.
func (d Diagnoser) Diagnose(p model.Profile) model.Deficit {
	order := d.Priority
	if len(order) == 0 {
		order = DefaultPriority
	}
	best := order[0]
	for _, dim := range order[1:] {
		if p.Score(dim) < p.Score(best) {
			best = dim
		}
	}
	return model.Deficit{Dimension: best, Severity: Severity(p, best, d.Threshold)}
}

// Severity is how far p sits below threshold on dim, never negative.
func Severity(p model.Profile, dim model.Dimension, threshold float64) float64 {
	return max(0, threshold-p.Score(dim))
}

// ValidatePriority checks that order lists each dimension exactly once.
func ValidatePriority(order []model.Dimension) error {
	if len(order) != 4 {
		return fmt.Errorf("priority must list 4 dimensions, got %d", len(order))
	}
	seen := make(map[model.Dimension]bool, 4)
	for _, d := range order {
		if seen[d] {
			return fmt.Errorf("priority lists %s twice", d)
		}
		seen[d] = true
	}
	return nil
}
