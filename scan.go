package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/phobologic/codeheal/internal/analyze"
	"github.com/phobologic/codeheal/internal/discover"
	"github.com/phobologic/codeheal/internal/lang"
	"github.com/phobologic/codeheal/internal/metrics"
	"github.com/phobologic/codeheal/internal/parse"
	"github.com/phobologic/codeheal/internal/ranking"
	"github.com/phobologic/codeheal/internal/report"
	"github.com/phobologic/codeheal/internal/rhythm"
)

type scanFlags struct {
	format      string
	top         int
	units       bool
	file        string
	unit        string
	cachePath   string
	metricsFile string
}

func (a *app) scanCmd() *cobra.Command {
	var f scanFlags
	cmd := &cobra.Command{
		Use:   "scan [root]",
		Short: "Measure, diagnose and classify without healing",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runScan(cmd, args, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.format, "format", "f", "text", "output format (text, json, yaml, toon)")
	fl.IntVarP(&f.top, "top", "n", 0, "list only the n weakest files in text output")
	fl.BoolVar(&f.units, "units", false, "list units under each file in text output")
	fl.StringVar(&f.file, "file", "", "only show files whose path contains this")
	fl.StringVar(&f.unit, "unit", "", "only show units whose name contains this")
	fl.StringVar(&f.cachePath, "cache", "", "cache file; reused while no source file is newer")
	fl.StringVar(&f.metricsFile, "metrics-file", "", "write a Prometheus textfile (overrides config)")
	return cmd
}

func (a *app) runScan(cmd *cobra.Command, args []string, f scanFlags) error {
	root, err := resolveRoot(args)
	if err != nil {
		return err
	}
	if _, err := os.Stat(root); err != nil {
		return fmt.Errorf("%s: %w", root, rhythm.ErrRootNotFound)
	}
	r, err := a.renderer(f.format)
	if err != nil {
		return err
	}
	r.Top, r.Units = f.top, f.units

	res, err := discover.Files(root, a.cfg.DiscoverOptions())
	if err != nil {
		return fmt.Errorf("discovering files: %w", err)
	}
	for _, s := range res.Skipped {
		a.log.WithFields(logrus.Fields{"path": s.Path, "reason": s.Reason}).Info("skipping file")
	}
	if len(res.Files) == 0 {
		return fmt.Errorf("%s: %w", root, rhythm.ErrNoSources)
	}

	key := cacheKey(f)
	if f.cachePath != "" && cacheIsFresh(f.cachePath, res.Dir, res.Files) {
		if out, code, ok := readCache(f.cachePath, key); ok {
			a.log.WithField("path", f.cachePath).Debug("using cached scan")
			_, _ = a.stdout.Write(out)
			a.code = code
			return nil
		}
	}

	pool := parse.NewPool(lang.Python)
	analyzer, err := analyze.New(pool, a.cfg.AnalyzeOptions(), a.log)
	if err != nil {
		return err
	}
	scan, err := analyzer.Scan(cmd.Context(), res.Dir, res.Files)
	if err != nil {
		return err
	}

	classifier := a.cfg.Classifier()
	health := classifier.Report(scan.Profiles(classifier))
	a.code = exitCode(health.Phase, scan.Failures)

	m := metrics.New()
	m.Report(health)
	metricsFile := a.cfg.Metrics.Textfile
	if f.metricsFile != "" {
		metricsFile = f.metricsFile
	}
	a.writeMetrics(m, metricsFile)

	shown := health
	if f.file != "" {
		shown.FileProfiles = ranking.FilterByFile(shown.FileProfiles, f.file)
	}
	if f.unit != "" {
		shown.FileProfiles = ranking.FilterByUnit(shown.FileProfiles, f.unit)
	}

	var buf bytes.Buffer
	if err := r.Scan(&buf, report.Scan{Root: root, Report: shown, Failures: scan.Failures}); err != nil {
		return err
	}
	if f.cachePath != "" {
		writeCache(f.cachePath, key, a.code, buf.Bytes())
	}
	_, err = a.stdout.Write(buf.Bytes())
	return err
}

func cacheKey(f scanFlags) string {
	return fmt.Sprintf("format=%s top=%d units=%t file=%q unit=%q", f.format, f.top, f.units, f.file, f.unit)
}

const cacheMagic = "codeheal-cache "

// cacheIsFresh reports whether the cache is newer than every source file.
func cacheIsFresh(cachePath, root string, files []discover.FileEntry) bool {
	cacheInfo, err := os.Stat(cachePath)
	if err != nil {
		return false
	}
	cacheMtime := cacheInfo.ModTime()

	for _, f := range files {
		fi, err := os.Stat(filepath.Join(root, f.Path))
		if err != nil {
			return false
		}
		if !fi.ModTime().Before(cacheMtime) {
			return false
		}
	}
	return true
}

// readCache returns the cached output when it was rendered with the same
// flags. The first line holds the key and the exit code.
func readCache(path, key string) ([]byte, int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, false
	}
	header, body, ok := bytes.Cut(data, []byte("\n"))
	if !ok || !strings.HasPrefix(string(header), cacheMagic) {
		return nil, 0, false
	}
	var code int
	rest := strings.TrimPrefix(string(header), cacheMagic)
	codeText, cachedKey, ok := strings.Cut(rest, " ")
	if !ok || cachedKey != key {
		return nil, 0, false
	}
	if _, err := fmt.Sscanf(codeText, "%d", &code); err != nil {
		return nil, 0, false
	}
	return body, code, true
}

func writeCache(path, key string, code int, out []byte) {
	header := fmt.Sprintf("%s%d %s\n", cacheMagic, code, key)
	_ = os.WriteFile(path, append([]byte(header), out...), 0o644)
}
