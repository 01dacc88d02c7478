// codeheal measures Python code health on four dimensions and heals the
// weakest ones in repeated cycles.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/phobologic/codeheal/internal/config"
	"github.com/phobologic/codeheal/internal/logging"
	"github.com/phobologic/codeheal/internal/metrics"
	"github.com/phobologic/codeheal/internal/model"
	"github.com/phobologic/codeheal/internal/report"
)

var version = "dev"

// Exit codes.
const (
	exitHealthy      = 0
	exitError        = 1
	exitUnhealthy    = 2
	exitFileFailures = 3
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// app carries per-invocation state shared by the subcommands.
type app struct {
	stdout, stderr io.Writer

	cfgFile   string
	logLevel  string
	logFormat string
	noColor   bool

	cfg       *config.Config
	log       *logrus.Logger
	logCloser io.Closer
	code      int
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}
	return a.code
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "codeheal",
		Short: "Measure and heal Python code health",
		Long: `codeheal scores every Python function on Care (documentation),
Validation (input checks), Resilience (error handling) and Observability
(logging), reports the harmony of the system, and can rewrite functions
in rotating healing cycles.`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.SetVersionTemplate("codeheal {{.Version}}\n")

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default: .codeheal.yaml or ~/.codeheal/config.yaml)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&a.logFormat, "log-format", "", "log format (text or json)")
	pf.BoolVar(&a.noColor, "no-color", false, "disable colored output")

	root.AddCommand(a.scanCmd(), a.healCmd(), a.historyCmd(), a.initCmd())
	return root
}

// setup loads configuration and builds the logger before any subcommand.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Logging.Format = a.logFormat
	}
	log, closer, err := logging.New(cfg.Logging, a.stderr)
	if err != nil {
		return err
	}
	a.cfg, a.log, a.logCloser = cfg, log, closer
	a.log.WithField("command", cmd.Name()).Debug("configuration loaded")
	return nil
}

// renderer builds a renderer for the --format flag value.
func (a *app) renderer(format string) (report.Renderer, error) {
	f, err := report.ParseFormat(format)
	if err != nil {
		return report.Renderer{}, err
	}
	useColor := !a.noColor && !color.NoColor && a.stdout == io.Writer(os.Stdout)
	return report.Renderer{Format: f, Color: useColor}, nil
}

// resolveRoot makes root absolute. A missing root is reported by the
// caller's typed error.
func resolveRoot(args []string) (string, error) {
	root := "."
	if len(args) > 0 {
		root = args[0]
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving root: %w", err)
	}
	return abs, nil
}

// exitCode maps a final phase and failures to the process exit status.
func exitCode(phase model.Phase, failures []model.FileFailure) int {
	for _, f := range failures {
		if f.Fatal {
			return exitFileFailures
		}
	}
	if phase == model.Autopoietic {
		return exitHealthy
	}
	return exitUnhealthy
}

// writeMetrics writes the textfile when a path is configured.
func (a *app) writeMetrics(m *metrics.Session, path string) {
	if path == "" {
		return
	}
	if err := m.WriteTextfile(path); err != nil {
		a.log.WithError(err).Warn("metrics not written")
		return
	}
	a.log.WithField("path", path).Info("metrics written")
}
