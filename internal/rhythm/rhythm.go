// Package rhythm runs healing sessions: a fixed rotation of dimensions, one
// per cycle, with the system re-measured after every cycle.
package rhythm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/phobologic/codeheal/internal/analyze"
	"github.com/phobologic/codeheal/internal/apply"
	"github.com/phobologic/codeheal/internal/discover"
	"github.com/phobologic/codeheal/internal/heal"
	"github.com/phobologic/codeheal/internal/model"
	"github.com/phobologic/codeheal/internal/phase"
	"github.com/phobologic/codeheal/internal/ranking"
)

var (
	// ErrRootNotFound means the session root does not exist.
	ErrRootNotFound = errors.New("root not found")
	// ErrNoSources means discovery found nothing to analyze.
	ErrNoSources = errors.New("no source files found")
)

// DefaultOrder is the rotation Care, Validation, Resilience, Observability.
var DefaultOrder = []model.Dimension{model.Care, model.Validation, model.Resilience, model.Observability}

// Options configures an Orchestrator.
type Options struct {
	Order      []model.Dimension
	Selector   ranking.Selector
	Discover   discover.Options
	Classifier phase.Classifier
	Thresholds Thresholds
	Workers    int
	DryRun     bool
}

// Outcome labels what happened to one healing attempt.
type Outcome string

const (
	Applied    Outcome = "applied"
	NoOp       Outcome = "noop"
	Invalid    Outcome = "invalid"
	WriteError Outcome = "write_error"
)

// Observer is notified of attempts and finished cycles.
type Observer interface {
	Attempt(dim model.Dimension, outcome Outcome)
	Cycle(rec model.CycleRecord)
}

type nopObserver struct{}

func (nopObserver) Attempt(model.Dimension, Outcome) {}
func (nopObserver) Cycle(model.CycleRecord)          {}

// Orchestrator owns the state of one session. It is not reusable.
type Orchestrator struct {
	root     string
	opts     Options
	analyzer *analyze.Analyzer
	healer   *heal.Healer
	applier  *apply.Applier
	log      logrus.FieldLogger
	observer Observer

	ws       *apply.Workspace
	files    []string
	mu       sync.Mutex
	excluded map[string]bool
	failures []model.FileFailure
	sources  map[string]*model.SourceUnit
	current  model.SystemHealthReport
}

// New creates an orchestrator for root.
func New(root string, opts Options, a *analyze.Analyzer, h *heal.Healer, ap *apply.Applier, log logrus.FieldLogger, obs Observer) *Orchestrator {
	if len(opts.Order) == 0 {
		opts.Order = DefaultOrder
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = DefaultThresholds()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if obs == nil {
		obs = nopObserver{}
	}
	return &Orchestrator{
		root:     root,
		opts:     opts,
		analyzer: a,
		healer:   h,
		applier:  ap,
		log:      log,
		observer: obs,
		excluded: make(map[string]bool),
	}
}

// Target returns the dimension and breath phase of cycle index.
func Target(order []model.Dimension, index int) (model.Dimension, model.BreathPhase) {
	dim := order[index%len(order)]
	if (index/len(order))%2 == 0 {
		return dim, model.Inhale
	}
	return dim, model.Exhale
}

// Start discovers files and takes the initial measurement. RunSession
// calls it; RunCycle calls it on first use.
func (o *Orchestrator) Start(ctx context.Context) (model.SystemHealthReport, error) {
	if o.ws != nil {
		return o.current, nil
	}
	if _, err := os.Stat(o.root); err != nil {
		return model.SystemHealthReport{}, fmt.Errorf("%s: %w", o.root, ErrRootNotFound)
	}
	res, err := discover.Files(o.root, o.opts.Discover)
	if err != nil {
		return model.SystemHealthReport{}, fmt.Errorf("discovering files: %w", err)
	}
	for _, s := range res.Skipped {
		o.log.WithFields(logrus.Fields{"path": s.Path, "reason": s.Reason}).Info("skipping file")
	}
	if len(res.Files) == 0 {
		return model.SystemHealthReport{}, fmt.Errorf("%s: %w", o.root, ErrNoSources)
	}
	for _, f := range res.Files {
		o.files = append(o.files, f.Path)
	}
	o.ws = apply.NewWorkspace(res.Dir, o.opts.DryRun)

	report, err := o.measure(ctx, 0)
	if err != nil {
		return model.SystemHealthReport{}, err
	}
	o.current = report
	return report, nil
}

// RunSession runs exactly n cycles unless ctx is cancelled, which is only
// checked between cycles. The returned session is complete either way.
func (o *Orchestrator) RunSession(ctx context.Context, n int) (*model.BreathSession, error) {
	started := time.Now()
	work := context.WithoutCancel(ctx)
	initial, err := o.Start(work)
	if err != nil {
		return nil, err
	}

	s := &model.BreathSession{
		ID:        newID(),
		Root:      o.root,
		DryRun:    o.opts.DryRun,
		StartedAt: started,
		Initial:   initial,
	}
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			s.Cancelled = true
			o.log.WithField("cycle", i).Warn("session cancelled")
			break
		}
		rec, err := o.RunCycle(work, i)
		if err != nil {
			return nil, err
		}
		s.Cycles = append(s.Cycles, rec)
	}

	s.Report = o.current
	s.Failures = o.sortedFailures()
	s.Summary = Summarize(initial.Harmony, s.Cycles, o.opts.Thresholds)
	if o.opts.DryRun {
		s.Diffs = o.ws.Diffs()
	}
	s.FinishedAt = time.Now()
	return s, nil
}

// fileResult is the outcome of healing one file in one cycle.
type fileResult struct {
	considered, applied, noops, failed int
}

// RunCycle heals every selected unit on the cycle's target dimension and
// re-measures the system.
func (o *Orchestrator) RunCycle(ctx context.Context, index int) (model.CycleRecord, error) {
	if _, err := o.Start(ctx); err != nil {
		return model.CycleRecord{}, err
	}
	dim, breath := Target(o.opts.Order, index)
	rec := model.CycleRecord{
		Index:         index,
		Phase:         breath,
		Dimension:     dim,
		HarmonyBefore: o.current.Harmony,
	}
	log := o.log.WithFields(logrus.Fields{"cycle": index, "dimension": dim.String(), "phase": string(breath)})

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)
	for _, rel := range o.activeFiles() {
		rel := rel
		g.Go(func() error {
			r := o.healFile(gctx, rel, dim, index, log)
			mu.Lock()
			defer mu.Unlock()
			rec.UnitsConsidered += r.considered
			rec.ModificationsApplied += r.applied
			rec.NoOps += r.noops
			rec.FailedAttempts += r.failed
			if r.applied > 0 {
				rec.FilesTouched = append(rec.FilesTouched, rel)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.CycleRecord{}, err
	}
	sort.Strings(rec.FilesTouched)

	report, err := o.measure(ctx, index)
	if err != nil {
		return model.CycleRecord{}, err
	}
	o.current = report
	rec.Harmony = report.Harmony
	rec.Profile = report.Profile
	rec.Deficit = report.Deficit

	log.WithFields(logrus.Fields{
		"applied": rec.ModificationsApplied,
		"noops":   rec.NoOps,
		"failed":  rec.FailedAttempts,
		"harmony": fmt.Sprintf("%.4f", rec.Harmony),
	}).Info("cycle complete")
	o.observer.Cycle(rec)
	return rec, nil
}

// healFile heals the selected units of one file in order. Each unit is
// re-found by key in a fresh analysis, since earlier edits shift offsets.
func (o *Orchestrator) healFile(ctx context.Context, rel string, dim model.Dimension, cycle int, log logrus.FieldLogger) fileResult {
	var r fileResult
	su := o.source(rel)
	if su == nil {
		return r
	}
	strategy := o.healer.For(dim)
	for i, c := range o.opts.Selector.Select(su, dim) {
		if i > 0 && r.applied > 0 {
			fresh, err := o.reanalyze(ctx, rel)
			if err != nil {
				o.fail(model.FileFailure{Path: rel, Kind: model.ParseFailure, Cycle: cycle, Message: err.Error(), Fatal: true})
				return r
			}
			su = fresh
		}
		fn := su.Find(c.Unit.Key())
		if fn == nil {
			r.noops++
			continue
		}
		r.considered++
		ulog := log.WithFields(logrus.Fields{"path": rel, "function": fn.Key().String()})

		mod, err := strategy.Generate(ctx, su, *fn)
		if err != nil {
			ulog.WithError(err).Debug("generation failed")
		}
		if err != nil || mod == nil {
			r.noops++
			o.observer.Attempt(dim, NoOp)
			continue
		}

		err = o.applier.Modify(ctx, o.ws, mod)
		var werr *apply.WriteError
		switch {
		case err == nil:
			r.applied++
			o.observer.Attempt(dim, Applied)
			ulog.WithField("change", mod.Summary).Debug("modification applied")
		case errors.As(err, &werr):
			r.failed++
			o.observer.Attempt(dim, WriteError)
			ulog.WithError(err).Error("commit failed, excluding file")
			o.fail(model.FileFailure{Path: rel, Kind: model.WriteFailure, Unit: fn.Key().String(), Cycle: cycle, Message: err.Error(), Fatal: true})
			return r
		default:
			r.failed++
			o.observer.Attempt(dim, Invalid)
			ulog.WithError(err).Warn("modification discarded")
			o.fail(model.FileFailure{Path: rel, Kind: model.ValidationFailure, Unit: fn.Key().String(), Cycle: cycle, Message: err.Error()})
		}
	}
	return r
}

func (o *Orchestrator) reanalyze(ctx context.Context, rel string) (*model.SourceUnit, error) {
	content, err := o.ws.Read(rel)
	if err != nil {
		return nil, err
	}
	return o.analyzer.AnalyzeSource(ctx, rel, content)
}

// measure analyzes every active file from the workspace and builds the
// system report. Files that cannot be read or parsed are excluded.
func (o *Orchestrator) measure(ctx context.Context, cycle int) (model.SystemHealthReport, error) {
	active := o.activeFiles()
	units := make([]*model.SourceUnit, len(active))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)
	for i, rel := range active {
		rel := rel
		i := i
		g.Go(func() error {
			su, err := o.reanalyze(gctx, rel)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				o.log.WithField("path", rel).WithError(err).Warn("skipping unanalyzable file")
				o.fail(model.FileFailure{Path: rel, Kind: model.ParseFailure, Cycle: cycle, Message: err.Error(), Fatal: true})
				return nil
			}
			units[i] = su
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.SystemHealthReport{}, err
	}

	scan := &analyze.ScanResult{}
	sources := make(map[string]*model.SourceUnit, len(units))
	for _, su := range units {
		if su != nil {
			scan.Sources = append(scan.Sources, su)
			sources[su.Path] = su
		}
	}
	o.mu.Lock()
	o.sources = sources
	o.mu.Unlock()
	return o.opts.Classifier.Report(scan.Profiles(o.opts.Classifier)), nil
}

func (o *Orchestrator) source(rel string) *model.SourceUnit {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sources[rel]
}

func (o *Orchestrator) activeFiles() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []string
	for _, rel := range o.files {
		if !o.excluded[rel] {
			out = append(out, rel)
		}
	}
	return out
}

func (o *Orchestrator) fail(f model.FileFailure) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, f)
	if f.Fatal {
		o.excluded[f.Path] = true
	}
}

func (o *Orchestrator) sortedFailures() []model.FileFailure {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]model.FileFailure, len(o.failures))
	copy(out, o.failures)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Cycle != out[j].Cycle {
			return out[i].Cycle < out[j].Cycle
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// Dir returns the directory discovered paths are relative to.
func (o *Orchestrator) Dir() string {
	if o.ws == nil {
		return filepath.Clean(o.root)
	}
	return o.ws.Dir()
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
