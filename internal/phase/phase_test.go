package phase

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/codeheal/internal/diagnose"
	"github.com/phobologic/codeheal/internal/model"
	"github.com/phobologic/codeheal/internal/score"
)

func uniform(h, care float64) model.Profile {
	// three equal non-care scores chosen so the geometric mean is h
	rest := math.Pow(math.Pow(h, 4)/care, 1.0/3)
	return model.Profile{Care: care, Validation: rest, Resilience: rest, Observability: rest}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		p    model.Profile
		want model.Phase
	}{
		{"zero", model.Profile{}, model.Entropic},
		{"just below entropic", uniform(0.49, 0.49), model.Entropic},
		{"homeostatic band", uniform(0.55, 0.55), model.Homeostatic},
		{"high harmony low care", uniform(0.65, 0.6), model.Homeostatic},
		{"autopoietic", uniform(0.8, 0.8), model.Autopoietic},
		{"perfect", model.Profile{Care: 1, Validation: 1, Resilience: 1, Observability: 1}, model.Autopoietic},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Classify(tt.p), "harmony=%v care=%v", tt.p.Harmony(), tt.p.Care)
		})
	}
}

func TestClassifyBoundariesInclusive(t *testing.T) {
	t.Parallel()

	b := DefaultBoundaries()
	at := model.Profile{Care: 0.5, Validation: 0.5, Resilience: 0.5, Observability: 0.5}
	assert.Equal(t, model.Homeostatic, b.Classify(at), "H = 0.5 is not entropic")

	six := model.Profile{Care: 0.7, Validation: 0.6, Resilience: 0.6, Observability: 0.6}
	require.GreaterOrEqual(t, six.Harmony(), 0.6)
	assert.Equal(t, model.Autopoietic, b.Classify(six))
}

func TestDistance(t *testing.T) {
	t.Parallel()

	b := DefaultBoundaries()
	assert.Equal(t, 0.0, b.Distance(model.Profile{Care: 1, Validation: 1, Resilience: 1, Observability: 1}))
	assert.InDelta(t, math.Hypot(0.6, 0.7), b.Distance(model.Profile{}), 1e-12)
}

func TestBoundariesValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, DefaultBoundaries().Validate())
	assert.Error(t, Boundaries{Entropic: 0.7, Autopoietic: 0.6, CareFloor: 0.7}.Validate())
	assert.Error(t, Boundaries{Entropic: 0.5, Autopoietic: 0.6, CareFloor: 2}.Validate())
}

func TestReport(t *testing.T) {
	t.Parallel()

	c := Classifier{
		Boundaries: DefaultBoundaries(),
		Scoring:    score.DefaultOptions(),
		Diagnoser:  diagnose.New(0.7),
	}
	perfect := model.Profile{Care: 1, Validation: 1, Resilience: 1, Observability: 1}
	weak := model.Profile{Care: 1, Validation: 0, Resilience: 1, Observability: 1}

	files := []model.FileProfile{
		c.File("b.py", []model.UnitProfile{{QualifiedName: "g", Complexity: 1, Profile: weak}}),
		c.File("a.py", []model.UnitProfile{{QualifiedName: "f", Complexity: 3, Profile: perfect}}),
	}
	r := c.Report(files)

	assert.Equal(t, 2, r.Files)
	assert.Equal(t, 2, r.Functions)
	assert.Equal(t, "a.py", r.FileProfiles[0].Path)
	assert.InDelta(t, 0.75, r.Profile.Validation, 1e-12)
	assert.Equal(t, model.Validation, r.Deficit.Dimension)
	assert.Equal(t, r.Profile.Harmony(), r.Harmony)
	assert.Equal(t, model.Autopoietic, r.Phase)

	empty := c.Report(nil)
	assert.Equal(t, model.Entropic, empty.Phase)
	assert.Equal(t, 0.0, empty.Harmony)
}
