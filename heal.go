package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/phobologic/codeheal/internal/analyze"
	"github.com/phobologic/codeheal/internal/apply"
	"github.com/phobologic/codeheal/internal/archive"
	"github.com/phobologic/codeheal/internal/heal"
	"github.com/phobologic/codeheal/internal/lang"
	"github.com/phobologic/codeheal/internal/metrics"
	"github.com/phobologic/codeheal/internal/model"
	"github.com/phobologic/codeheal/internal/parse"
	"github.com/phobologic/codeheal/internal/rhythm"
)

type healFlags struct {
	cycles         int
	dryRun         bool
	floors         []string
	mode           string
	resilienceMode string
	maxPerFile     int
	format         string
	top            int
	units          bool
	diff           bool
	noArchive      bool
	metricsFile    string
}

func (a *app) healCmd() *cobra.Command {
	var f healFlags
	cmd := &cobra.Command{
		Use:   "heal [root]",
		Short: "Run healing cycles over a file or directory",
		Long: `Run healing cycles. Each cycle targets one dimension in the rotation
Care, Validation, Resilience, Observability and rewrites every selected
function. Rewrites are re-parsed before they are written, and writes are
atomic. With --dry-run nothing is written and the diffs are printed.

Exit status: 0 autopoietic, 2 homeostatic or entropic, 3 finished with
file-level failures, 1 on error.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runHeal(cmd, args, f)
		},
	}
	fl := cmd.Flags()
	fl.IntVarP(&f.cycles, "cycles", "c", 0, "number of cycles (default from config)")
	fl.BoolVar(&f.dryRun, "dry-run", false, "compute changes without writing files")
	fl.StringArrayVar(&f.floors, "floor", nil, "per-dimension floor, e.g. care=0.7 (repeatable)")
	fl.StringVar(&f.mode, "mode", "", "unit selection: below-floor or all")
	fl.StringVar(&f.resilienceMode, "resilience-mode", "", "handler behavior: reraise, wrap or default")
	fl.IntVar(&f.maxPerFile, "max-per-file", 0, "cap on units healed per file per cycle")
	fl.StringVarP(&f.format, "format", "f", "text", "output format (text, json, yaml, toon)")
	fl.IntVarP(&f.top, "top", "n", 10, "list only the n weakest files in text output")
	fl.BoolVar(&f.units, "units", false, "list units under each file in text output")
	fl.BoolVar(&f.diff, "diff", true, "print diffs in text output of a dry run")
	fl.BoolVar(&f.noArchive, "no-archive", false, "do not archive the session")
	fl.StringVar(&f.metricsFile, "metrics-file", "", "write a Prometheus textfile (overrides config)")
	return cmd
}

// applyFlags overrides configuration with the flags the user set.
func (a *app) applyFlags(cmd *cobra.Command, f healFlags) error {
	cfg := a.cfg
	fl := cmd.Flags()
	if fl.Changed("cycles") {
		cfg.Rhythm.Cycles = f.cycles
	}
	for _, spec := range f.floors {
		if err := cfg.SetFloor(spec); err != nil {
			return err
		}
	}
	if fl.Changed("mode") {
		cfg.Selection.Mode = f.mode
	}
	if fl.Changed("resilience-mode") {
		cfg.Healing.ResilienceMode = f.resilienceMode
	}
	if fl.Changed("max-per-file") {
		cfg.Selection.MaxPerFile = f.maxPerFile
	}
	if f.metricsFile != "" {
		cfg.Metrics.Textfile = f.metricsFile
	}
	if f.noArchive {
		cfg.Archive.Enabled = false
	}
	return cfg.Validate()
}

func (a *app) runHeal(cmd *cobra.Command, args []string, f healFlags) error {
	if err := a.applyFlags(cmd, f); err != nil {
		return err
	}
	root, err := resolveRoot(args)
	if err != nil {
		return err
	}
	r, err := a.renderer(f.format)
	if err != nil {
		return err
	}
	r.Top, r.Units, r.Diffs = f.top, f.units, f.diff

	pool := parse.NewPool(lang.Python)
	analyzer, err := analyze.New(pool, a.cfg.AnalyzeOptions(), a.log)
	if err != nil {
		return err
	}
	m := metrics.New()
	o := rhythm.New(root, a.cfg.RhythmOptions(f.dryRun), analyzer,
		heal.New(pool, a.cfg.HealOptions()), apply.New(pool), a.log, m)

	a.log.WithFields(logrus.Fields{"root": root, "cycles": a.cfg.Rhythm.Cycles, "dry_run": f.dryRun}).Info("starting session")
	s, err := o.RunSession(cmd.Context(), a.cfg.Rhythm.Cycles)
	if err != nil {
		return err
	}
	a.code = exitCode(s.Report.Phase, s.Failures)

	m.Finish(s)
	a.writeMetrics(m, a.cfg.Metrics.Textfile)
	a.saveSession(s)

	return r.Session(a.stdout, s)
}

// saveSession archives the session. Archive problems never fail the run.
func (a *app) saveSession(s *model.BreathSession) {
	if !a.cfg.Archive.Enabled {
		return
	}
	store, err := archive.Open(a.cfg.Archive.Path)
	if err != nil {
		a.log.WithError(err).Warn("session not archived")
		return
	}
	defer store.Close()
	if err := store.Save(s); err != nil {
		a.log.WithError(err).Warn("session not archived")
		return
	}
	a.log.WithField("id", s.ID).Debug("session archived")
}
