package model

import "time"

// Phase is the classification of a system's aggregate health.
type Phase string

const (
	Entropic    Phase = "ENTROPIC"
	Homeostatic Phase = "HOMEOSTATIC"
	Autopoietic Phase = "AUTOPOIETIC"
)

// BreathPhase labels a cycle by the parity of its rotation.
type BreathPhase string

const (
	Inhale BreathPhase = "INHALE"
	Exhale BreathPhase = "EXHALE"
)

// Rhythm describes how much harmony moved across a session.
type Rhythm string

const (
	Synchronized Rhythm = "SYNCHRONIZED"
	Oscillating  Rhythm = "OSCILLATING"
	Turbulent    Rhythm = "TURBULENT"
)

// FailureKind classifies a per-file failure.
type FailureKind string

const (
	ParseFailure      FailureKind = "parse"
	ValidationFailure FailureKind = "validation"
	WriteFailure      FailureKind = "write"
)

// FileFailure records a problem confined to one file.
type FileFailure struct {
	Path    string      `json:"path" yaml:"path"`
	Kind    FailureKind `json:"kind" yaml:"kind"`
	Unit    string      `json:"unit,omitempty" yaml:"unit,omitempty"`
	Cycle   int         `json:"cycle" yaml:"cycle"`
	Message string      `json:"message" yaml:"message"`
	Fatal   bool        `json:"fatal" yaml:"fatal"`
}

// UnitProfile is the measured profile of one function.
type UnitProfile struct {
	QualifiedName string  `json:"qualified_name" yaml:"qualified_name"`
	Line          int     `json:"line" yaml:"line"`
	Complexity    int     `json:"complexity" yaml:"complexity"`
	Profile       Profile `json:"profile" yaml:"profile"`
	Harmony       float64 `json:"harmony" yaml:"harmony"`
}

// FileProfile is the aggregate profile of one file.
type FileProfile struct {
	Path    string        `json:"path" yaml:"path"`
	Profile Profile       `json:"profile" yaml:"profile"`
	Harmony float64       `json:"harmony" yaml:"harmony"`
	Deficit Deficit       `json:"deficit" yaml:"deficit"`
	Units   []UnitProfile `json:"units" yaml:"units"`
}

// SystemHealthReport is a projection of the current source tree.
type SystemHealthReport struct {
	Files                 int           `json:"files" yaml:"files"`
	Functions             int           `json:"functions" yaml:"functions"`
	Profile               Profile       `json:"profile" yaml:"profile"`
	Harmony               float64       `json:"harmony" yaml:"harmony"`
	Phase                 Phase         `json:"phase" yaml:"phase"`
	Deficit               Deficit       `json:"deficit" yaml:"deficit"`
	DistanceToAutopoiesis float64       `json:"distance_to_autopoiesis" yaml:"distance_to_autopoiesis"`
	FileProfiles          []FileProfile `json:"file_profiles" yaml:"file_profiles"`
}

// CycleRecord is the outcome of one healing cycle.
type CycleRecord struct {
	Index                int         `json:"index" yaml:"index"`
	Phase                BreathPhase `json:"phase" yaml:"phase"`
	Dimension            Dimension   `json:"dimension" yaml:"dimension"`
	UnitsConsidered      int         `json:"units_considered" yaml:"units_considered"`
	ModificationsApplied int         `json:"modifications_applied" yaml:"modifications_applied"`
	NoOps                int         `json:"noops" yaml:"noops"`
	FailedAttempts       int         `json:"failed_attempts" yaml:"failed_attempts"`
	FilesTouched         []string    `json:"files_touched,omitempty" yaml:"files_touched,omitempty"`
	HarmonyBefore        float64     `json:"harmony_before" yaml:"harmony_before"`
	Harmony              float64     `json:"harmony" yaml:"harmony"`
	Profile              Profile     `json:"profile" yaml:"profile"`
	Deficit              Deficit     `json:"deficit" yaml:"deficit"`
}

// SessionSummary holds statistics over a session's cycles.
type SessionSummary struct {
	Cycles               int      `json:"cycles" yaml:"cycles"`
	InitialHarmony       float64  `json:"initial_harmony" yaml:"initial_harmony"`
	FinalHarmony         float64  `json:"final_harmony" yaml:"final_harmony"`
	MeanHarmony          float64  `json:"mean_harmony" yaml:"mean_harmony"`
	HarmonyVariance      float64  `json:"harmony_variance" yaml:"harmony_variance"`
	ModificationsApplied int      `json:"modifications_applied" yaml:"modifications_applied"`
	FailedAttempts       int      `json:"failed_attempts" yaml:"failed_attempts"`
	FilesTouched         []string `json:"files_touched,omitempty" yaml:"files_touched,omitempty"`
	Rhythm               Rhythm   `json:"rhythm" yaml:"rhythm"`
}

// BreathSession is the immutable result of RunSession.
type BreathSession struct {
	ID         string             `json:"id" yaml:"id"`
	Root       string             `json:"root" yaml:"root"`
	DryRun     bool               `json:"dry_run" yaml:"dry_run"`
	StartedAt  time.Time          `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time          `json:"finished_at" yaml:"finished_at"`
	Cancelled  bool               `json:"cancelled" yaml:"cancelled"`
	Initial    SystemHealthReport `json:"initial" yaml:"initial"`
	Cycles     []CycleRecord      `json:"cycles" yaml:"cycles"`
	Summary    SessionSummary     `json:"summary" yaml:"summary"`
	Failures   []FileFailure      `json:"failures,omitempty" yaml:"failures,omitempty"`
	Report     SystemHealthReport `json:"report" yaml:"report"`
	Diffs      map[string]string  `json:"diffs,omitempty" yaml:"diffs,omitempty"`
}

// FatalFailures counts failures that stopped healing of a file.
func (s *BreathSession) FatalFailures() int {
	n := 0
	for _, f := range s.Failures {
		if f.Fatal {
			n++
		}
	}
	return n
}
