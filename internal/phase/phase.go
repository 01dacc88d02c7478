// Package phase classifies aggregate health and builds system reports.
package phase

import (
	"fmt"
	"math"
	"sort"

	"github.com/phobologic/codeheal/internal/diagnose"
	"github.com/phobologic/codeheal/internal/model"
	"github.com/phobologic/codeheal/internal/score"
)

// Boundaries are the phase thresholds.
type Boundaries struct {
	// Below Entropic harmony the system is ENTROPIC.
	Entropic float64
	// At or above Autopoietic harmony with Care at or above CareFloor the
	// system is AUTOPOIETIC.
	Autopoietic float64
	CareFloor   float64
}

// DefaultBoundaries returns 0.5 / 0.6 / 0.7.
func DefaultBoundaries() Boundaries {
	return Boundaries{Entropic: 0.5, Autopoietic: 0.6, CareFloor: 0.7}
}

// Validate checks that the boundaries are ordered and in range.
func (b Boundaries) Validate() error {
	if b.Entropic < 0 || b.Autopoietic > 1 || b.Entropic > b.Autopoietic {
		return fmt.Errorf("phase boundaries must satisfy 0 <= entropic (%v) <= autopoietic (%v) <= 1", b.Entropic, b.Autopoietic)
	}
	if b.CareFloor < 0 || b.CareFloor > 1 {
		return fmt.Errorf("care floor %v outside [0,1]", b.CareFloor)
	}
	return nil
}

// Classify applies the default boundaries.
func Classify(p model.Profile) model.Phase {
	return DefaultBoundaries().Classify(p)
}

// Classify returns the phase of p.
func (b Boundaries) Classify(p model.Profile) model.Phase {
	h := p.Harmony()
	switch {
	case h < b.Entropic:
		return model.Entropic
	case h >= b.Autopoietic && p.Care >= b.CareFloor:
		return model.Autopoietic
	default:
		return model.Homeostatic
	}
}

// Distance is the Euclidean shortfall of (harmony, care) from the
// autopoietic corner. It is zero once the profile is autopoietic.
func (b Boundaries) Distance(p model.Profile) float64 {
	dh := max(0, b.Autopoietic-p.Harmony())
	dc := max(0, b.CareFloor-p.Care)
	return math.Hypot(dh, dc)
}

// Classifier aggregates file profiles into a SystemHealthReport.
type Classifier struct {
	Boundaries Boundaries
	Scoring    score.Options
	Diagnoser  diagnose.Diagnoser
}

// Report aggregates every unit of every file, classifies the result and
// diagnoses the system deficit. Files are listed in path order.
func (c Classifier) Report(files []model.FileProfile) model.SystemHealthReport {
	sorted := make([]model.FileProfile, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	var units []model.UnitProfile
	for _, f := range sorted {
		units = append(units, f.Units...)
	}
	agg := score.UnitAggregate(units, c.Scoring)

	return model.SystemHealthReport{
		Files:                 len(sorted),
		Functions:             len(units),
		Profile:               agg,
		Harmony:               agg.Harmony(),
		Phase:                 c.Boundaries.Classify(agg),
		Deficit:               c.Diagnoser.Diagnose(agg),
		DistanceToAutopoiesis: c.Boundaries.Distance(agg),
		FileProfiles:          sorted,
	}
}

// File builds the profile of one file from its scored units.
func (c Classifier) File(path string, units []model.UnitProfile) model.FileProfile {
	agg := score.UnitAggregate(units, c.Scoring)
	return model.FileProfile{
		Path:    path,
		Profile: agg,
		Harmony: agg.Harmony(),
		Deficit: c.Diagnoser.Diagnose(agg),
		Units:   units,
	}
}
