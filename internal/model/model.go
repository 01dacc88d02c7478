// Package model defines core data structures for codeheal.
package model

import (
	"fmt"
	"math"
	"strings"
)

// Dimension is one of the four measured quality axes.
type Dimension int

const (
	Care Dimension = iota
	Validation
	Resilience
	Observability
)

var dimensionNames = [...]string{"care", "validation", "resilience", "observability"}
var dimensionLetters = [...]string{"L", "J", "P", "W"}

// AllDimensions returns the four dimensions in canonical L, J, P, W order.
func AllDimensions() []Dimension {
	return []Dimension{Care, Validation, Resilience, Observability}
}

func (d Dimension) valid() bool {
	return d >= Care && d <= Observability
}

func (d Dimension) String() string {
	if !d.valid() {
		return fmt.Sprintf("dimension(%d)", int(d))
	}
	return dimensionNames[d]
}

// Letter returns the single-letter code (L, J, P or W).
func (d Dimension) Letter() string {
	if !d.valid() {
		return "?"
	}
	return dimensionLetters[d]
}

// ParseDimension accepts a dimension name or letter, case-insensitively.
func ParseDimension(s string) (Dimension, error) {
	s = strings.TrimSpace(s)
	for i := range dimensionNames {
		if strings.EqualFold(s, dimensionNames[i]) || strings.EqualFold(s, dimensionLetters[i]) {
			return Dimension(i), nil
		}
	}
	return 0, fmt.Errorf("unknown dimension %q", s)
}

func (d Dimension) MarshalText() ([]byte, error) {
	if !d.valid() {
		return nil, fmt.Errorf("invalid dimension %d", int(d))
	}
	return []byte(d.String()), nil
}

func (d *Dimension) UnmarshalText(text []byte) error {
	parsed, err := ParseDimension(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DimensionScore is a bounded score on one dimension.
type DimensionScore struct {
	Dimension Dimension `json:"dimension" yaml:"dimension"`
	Value     float64   `json:"value" yaml:"value"`
}

// Profile holds one score per dimension. Harmony is derived, never stored.
type Profile struct {
	Care          float64 `json:"care" yaml:"care"`
	Validation    float64 `json:"validation" yaml:"validation"`
	Resilience    float64 `json:"resilience" yaml:"resilience"`
	Observability float64 `json:"observability" yaml:"observability"`
}

// Score returns the value for d.
func (p Profile) Score(d Dimension) float64 {
	switch d {
	case Care:
		return p.Care
	case Validation:
		return p.Validation
	case Resilience:
		return p.Resilience
	case Observability:
		return p.Observability
	}
	return 0
}

// With returns a copy of p with d set to v.
func (p Profile) With(d Dimension, v float64) Profile {
	switch d {
	case Care:
		p.Care = v
	case Validation:
		p.Validation = v
	case Resilience:
		p.Resilience = v
	case Observability:
		p.Observability = v
	}
	return p
}

// Scores returns the four scores in canonical order.
func (p Profile) Scores() []DimensionScore {
	out := make([]DimensionScore, 0, 4)
	for _, d := range AllDimensions() {
		out = append(out, DimensionScore{Dimension: d, Value: p.Score(d)})
	}
	return out
}

// Harmony is the geometric mean of the four scores. It is zero whenever
// any single score is zero.
func (p Profile) Harmony() float64 {
	product := 1.0
	for _, d := range AllDimensions() {
		v := Clamp(p.Score(d))
		if v == 0 {
			return 0
		}
		product *= v
	}
	return math.Pow(product, 0.25)
}

// Clamp bounds v to [0, 1]. NaN becomes 0.
func Clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Deficit names the weakest dimension and how far it sits below threshold.
type Deficit struct {
	Dimension Dimension `json:"dimension" yaml:"dimension"`
	Severity  float64   `json:"severity" yaml:"severity"`
}

// UnitKey identifies a function within one source file across re-analysis.
type UnitKey struct {
	QualifiedName string `json:"qualified_name" yaml:"qualified_name"`
	Ordinal       int    `json:"ordinal" yaml:"ordinal"`
}

func (k UnitKey) String() string {
	if k.Ordinal == 0 {
		return k.QualifiedName
	}
	return fmt.Sprintf("%s#%d", k.QualifiedName, k.Ordinal)
}

// Modification is a proposed replacement of one function's text.
// Valid is set only by the applier after the candidate re-parses.
type Modification struct {
	Path        string    `json:"path" yaml:"path"`
	Unit        UnitKey   `json:"unit" yaml:"unit"`
	Dimension   Dimension `json:"dimension" yaml:"dimension"`
	Start       int       `json:"start" yaml:"start"`
	End         int       `json:"end" yaml:"end"`
	Original    string    `json:"original" yaml:"original"`
	Replacement string    `json:"replacement" yaml:"replacement"`
	Summary     string    `json:"summary" yaml:"summary"`
	Valid       bool      `json:"valid" yaml:"valid"`
}
