// Package metrics exposes session counters in Prometheus textfile format.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/phobologic/codeheal/internal/model"
	"github.com/phobologic/codeheal/internal/rhythm"
)

// Session collects metrics for one run. It implements rhythm.Observer.
type Session struct {
	reg      *prometheus.Registry
	attempts *prometheus.CounterVec
	cycles   prometheus.Counter
	delta    prometheus.Histogram
	harmony  prometheus.Gauge
	scores   *prometheus.GaugeVec
	phase    *prometheus.GaugeVec
	failures *prometheus.GaugeVec
	files    prometheus.Gauge
}

var _ rhythm.Observer = (*Session)(nil)

// New registers the session metrics on a private registry.
func New() *Session {
	s := &Session{
		reg: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codeheal_attempts_total",
			Help: "Healing attempts by dimension and outcome.",
		}, []string{"dimension", "outcome"}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codeheal_cycles_total",
			Help: "Completed healing cycles.",
		}),
		delta: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "codeheal_cycle_harmony_delta",
			Help:    "Change in system harmony per cycle.",
			Buckets: []float64{-0.1, -0.01, 0, 0.01, 0.05, 0.1, 0.25},
		}),
		harmony: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "codeheal_harmony",
			Help: "Current system harmony.",
		}),
		scores: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "codeheal_dimension_score",
			Help: "Current aggregate score per dimension.",
		}, []string{"dimension"}),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "codeheal_phase",
			Help: "1 for the current phase, 0 otherwise.",
		}, []string{"phase"}),
		failures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "codeheal_file_failures",
			Help: "File-level failures in the last session by kind.",
		}, []string{"kind"}),
		files: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "codeheal_files_touched",
			Help: "Files modified in the last session.",
		}),
	}
	s.reg.MustRegister(s.attempts, s.cycles, s.delta, s.harmony, s.scores, s.phase, s.failures, s.files)
	return s
}

// Registry returns the registry holding the session metrics.
func (s *Session) Registry() *prometheus.Registry { return s.reg }

// Attempt counts one healing attempt.
func (s *Session) Attempt(dim model.Dimension, outcome rhythm.Outcome) {
	s.attempts.WithLabelValues(dim.String(), string(outcome)).Inc()
}

// Cycle records a finished cycle.
func (s *Session) Cycle(rec model.CycleRecord) {
	s.cycles.Inc()
	s.delta.Observe(rec.Harmony - rec.HarmonyBefore)
	s.setProfile(rec.Harmony, rec.Profile)
}

// Report records a health report, such as a scan or a session's final state.
func (s *Session) Report(r model.SystemHealthReport) {
	s.setProfile(r.Harmony, r.Profile)
	for _, p := range []model.Phase{model.Entropic, model.Homeostatic, model.Autopoietic} {
		v := 0.0
		if p == r.Phase {
			v = 1
		}
		s.phase.WithLabelValues(string(p)).Set(v)
	}
}

// Finish records the outcome of a whole session.
func (s *Session) Finish(bs *model.BreathSession) {
	s.Report(bs.Report)
	counts := map[model.FailureKind]int{}
	for _, f := range bs.Failures {
		counts[f.Kind]++
	}
	for _, k := range []model.FailureKind{model.ParseFailure, model.ValidationFailure, model.WriteFailure} {
		s.failures.WithLabelValues(string(k)).Set(float64(counts[k]))
	}
	s.files.Set(float64(len(bs.Summary.FilesTouched)))
}

func (s *Session) setProfile(h float64, p model.Profile) {
	s.harmony.Set(h)
	for _, d := range model.AllDimensions() {
		s.scores.WithLabelValues(d.String()).Set(p.Score(d))
	}
}

// WriteTextfile writes the metrics atomically for a node-exporter textfile
// collector.
func (s *Session) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, s.reg); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}
