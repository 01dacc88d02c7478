// Package score turns function units into bounded dimension scores and
// aggregates them.
package score

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/phobologic/codeheal/internal/model"
)

// Weighting selects how units are weighted during aggregation.
type Weighting string

const (
	ByComplexity Weighting = "complexity"
	Uniform      Weighting = "uniform"
)

// CareWeights are the coefficients of the Care formula.
type CareWeights struct {
	Presence      float64
	Length        float64
	Mentions      float64
	MinWords      float64
	WordsPerParam float64
}

// Options holds every scoring coefficient.
type Options struct {
	Care           CareWeights
	ResilienceBase float64
	Weighting      Weighting
}

// DefaultOptions returns the stock coefficients.
func DefaultOptions() Options {
	return Options{
		Care: CareWeights{
			Presence:      0.4,
			Length:        0.3,
			Mentions:      0.3,
			MinWords:      3,
			WordsPerParam: 2,
		},
		ResilienceBase: 0.7,
		Weighting:      ByComplexity,
	}
}

// Validate checks coefficient ranges.
func (o Options) Validate() error {
	c := o.Care
	if c.Presence < 0 || c.Length < 0 || c.Mentions < 0 {
		return fmt.Errorf("care weights must be non-negative")
	}
	if c.Presence+c.Length+c.Mentions <= 0 {
		return fmt.Errorf("care weights must sum to a positive value")
	}
	if c.MinWords < 0 || c.WordsPerParam < 0 {
		return fmt.Errorf("care word targets must be non-negative")
	}
	if o.ResilienceBase < 0 || o.ResilienceBase > 1 {
		return fmt.Errorf("resilience base %v outside [0,1]", o.ResilienceBase)
	}
	switch o.Weighting {
	case ByComplexity, Uniform:
	default:
		return fmt.Errorf("unknown weighting %q", o.Weighting)
	}
	return nil
}

// Score computes the full profile of one unit.
func Score(u model.FunctionUnit, opts Options) model.Profile {
	return model.Profile{
		Care:          Care(u, opts),
		Validation:    Validation(u),
		Resilience:    Resilience(u, opts),
		Observability: Observability(u),
	}
}

// Care rewards a docstring that exists, has some length, and names every
// parameter. Without a docstring it is zero.
func Care(u model.FunctionUnit, opts Options) float64 {
	if !u.HasDocstring {
		return 0
	}
	c := opts.Care
	total := c.Presence + c.Length + c.Mentions
	if total <= 0 {
		return 0
	}

	params := u.CheckableParams()
	target := c.MinWords + c.WordsPerParam*float64(len(params))
	length := 1.0
	if target > 0 {
		length = min(1, float64(len(strings.Fields(u.Docstring)))/target)
	}

	mentions := 1.0
	if len(params) > 0 {
		n := 0
		for _, p := range params {
			if Mentions(u.Docstring, p.Name) {
				n++
			}
		}
		mentions = float64(n) / float64(len(params))
	}

	return model.Clamp((c.Presence + c.Length*length + c.Mentions*mentions) / total)
}

// Mentions reports whether doc names param as a whole word.
func Mentions(doc, param string) bool {
	re, err := regexp.Compile(`\b` + regexp.QuoteMeta(param) + `\b`)
	if err != nil {
		return strings.Contains(doc, param)
	}
	return re.MatchString(doc)
}

// Validation is the fraction of checkable parameters guarded at entry.
func Validation(u model.FunctionUnit) float64 {
	params := u.CheckableParams()
	if len(params) == 0 {
		return 1
	}
	guarded := make(map[string]struct{}, len(u.GuardedParams))
	for _, name := range u.GuardedParams {
		guarded[name] = struct{}{}
	}
	n := 0
	for _, p := range params {
		if _, ok := guarded[p.Name]; ok {
			n++
		}
	}
	return model.Clamp(float64(n) / float64(len(params)))
}

// Resilience is the fraction of risky operations inside a try with an
// except clause, scaled down when handlers catch generic exceptions.
func Resilience(u model.FunctionUnit, opts Options) float64 {
	risky := u.Body.Risky
	if len(risky) == 0 {
		return 1
	}
	contained := 0
	for _, op := range risky {
		if op.Contained {
			contained++
		}
	}
	specificity := 0.0
	if u.Handlers.Total > 0 {
		specificity = float64(u.Handlers.Specific) / float64(u.Handlers.Total)
	}
	base := model.Clamp(opts.ResilienceBase)
	return model.Clamp(float64(contained) / float64(len(risky)) * (base + (1-base)*specificity))
}

// Observability is the fraction of entry, exit and branch points that log.
func Observability(u model.FunctionUnit) float64 {
	o := u.Observation
	points := 2 + o.Branches
	covered := o.BranchesLogged
	if o.EntryLogged {
		covered++
	}
	if o.ExitLogged {
		covered++
	}
	return model.Clamp(float64(covered) / float64(points))
}

// ErrWeightCount means Aggregate got a weights slice that does not pair
// one weight with each profile.
var ErrWeightCount = errors.New("weights and profiles differ in length")

// Aggregate returns the weighted mean of profiles per dimension. A nil
// weights slice weighs every profile equally; otherwise it must have one
// weight per profile. An empty input or a zero total weight yields the
// zero profile.
func Aggregate(profiles []model.Profile, weights []float64) (model.Profile, error) {
	if weights != nil && len(weights) != len(profiles) {
		return model.Profile{}, fmt.Errorf("%w: %d weights for %d profiles", ErrWeightCount, len(weights), len(profiles))
	}
	return aggregate(profiles, weights), nil
}

func aggregate(profiles []model.Profile, weights []float64) model.Profile {
	var sum model.Profile
	total := 0.0
	for i, p := range profiles {
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		if w <= 0 {
			continue
		}
		total += w
		for _, d := range model.AllDimensions() {
			sum = sum.With(d, sum.Score(d)+w*p.Score(d))
		}
	}
	if total == 0 {
		return model.Profile{}
	}
	var out model.Profile
	for _, d := range model.AllDimensions() {
		out = out.With(d, model.Clamp(sum.Score(d)/total))
	}
	return out
}

// Units scores each unit and returns the per-unit profiles.
func Units(units []model.FunctionUnit, opts Options) []model.UnitProfile {
	out := make([]model.UnitProfile, 0, len(units))
	for _, u := range units {
		p := Score(u, opts)
		out = append(out, model.UnitProfile{
			QualifiedName: u.Key().String(),
			Line:          u.Line,
			Complexity:    u.Complexity(),
			Profile:       p,
			Harmony:       p.Harmony(),
		})
	}
	return out
}

// UnitAggregate aggregates scored units honoring the weighting option.
func UnitAggregate(units []model.UnitProfile, opts Options) model.Profile {
	profiles := make([]model.Profile, len(units))
	weights := make([]float64, len(units))
	for i, u := range units {
		profiles[i] = u.Profile
		weights[i] = 1
		if opts.Weighting != Uniform {
			weights[i] = float64(u.Complexity)
		}
	}
	return aggregate(profiles, weights)
}
