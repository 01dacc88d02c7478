package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/phobologic/codeheal/internal/model"
)

const divSource = "def div(a, b):\n    return a / b\n"

func writeTestFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// testConfig writes a config whose archive lives in a temp dir, so tests
// never touch the home directory.
func testConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "codeheal.yaml")
	writeTestFile(t, dir, "codeheal.yaml", "archive:\n  path: "+filepath.Join(dir, "sessions.db")+"\n")
	return path
}

func createSampleRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeTestFile(t, dir, "calc.py", divSource)
	writeTestFile(t, dir, "pkg/greet.py", `import logging

logger = logging.getLogger(__name__)


def greet(name):
    """Return a greeting for name.

    Args:
        name: who to greet.
    """
    if not isinstance(name, str):
        raise TypeError("name must be a string")
    try:
        return "Hello, " + name
    except Exception as exc:
        logger.error("greet failed: %s", exc)
        raise
`)
	return dir
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunVersion(t *testing.T) {
	t.Parallel()

	code, out, _ := runCLI(t, "--version")
	if code != exitHealthy {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(out, "codeheal") {
		t.Errorf("version output: %q", out)
	}
}

func TestScanText(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)

	code, out, stderr := runCLI(t, "--config", testConfig(t), "scan", dir)
	if code != exitUnhealthy {
		t.Fatalf("exit %d, want %d\nstderr: %s", code, exitUnhealthy, stderr)
	}
	for _, want := range []string{"Phase:", "Harmony:", "Deficit:", "Weakest files", "calc.py"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("output to a buffer should not be colored")
	}
}

func TestScanJSON(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)

	code, out, stderr := runCLI(t, "--config", testConfig(t), "scan", "-f", "json", dir)
	if code != exitUnhealthy {
		t.Fatalf("exit %d\nstderr: %s", code, stderr)
	}
	var doc struct {
		Root   string                   `json:"root"`
		Report model.SystemHealthReport `json:"report"`
	}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("decoding output: %v\n%s", err, out)
	}
	if doc.Report.Files != 2 || doc.Report.Functions != 2 {
		t.Errorf("files=%d functions=%d, want 2 and 2", doc.Report.Files, doc.Report.Functions)
	}
	if doc.Report.FileProfiles[0].Path != "calc.py" {
		t.Errorf("weakest file = %q, want calc.py", doc.Report.FileProfiles[0].Path)
	}
}

func TestScanFileFilter(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)

	_, out, _ := runCLI(t, "--config", testConfig(t), "scan", "--file", "greet", dir)
	if strings.Contains(out, "calc.py") {
		t.Errorf("--file greet should hide calc.py:\n%s", out)
	}
	if !strings.Contains(out, "greet.py") {
		t.Errorf("missing greet.py:\n%s", out)
	}
}

func TestScanParseFailure(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)
	writeTestFile(t, dir, "broken.py", "def h(:\n")

	code, out, _ := runCLI(t, "--config", testConfig(t), "scan", dir)
	if code != exitFileFailures {
		t.Fatalf("exit %d, want %d", code, exitFileFailures)
	}
	if !strings.Contains(out, "broken.py [parse, file excluded]") {
		t.Errorf("missing failure line:\n%s", out)
	}
}

func TestScanNoFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, "readme.txt", "nothing here")

	code, _, stderr := runCLI(t, "--config", testConfig(t), "scan", dir)
	if code != exitError {
		t.Fatalf("exit %d, want %d", code, exitError)
	}
	if !strings.Contains(stderr, "no source files found") {
		t.Errorf("unexpected error: %s", stderr)
	}
}

func TestScanMissingRoot(t *testing.T) {
	t.Parallel()

	code, _, stderr := runCLI(t, "--config", testConfig(t), "scan", filepath.Join(t.TempDir(), "nope"))
	if code != exitError {
		t.Fatalf("exit %d, want %d", code, exitError)
	}
	if !strings.Contains(stderr, "root not found") {
		t.Errorf("unexpected error: %s", stderr)
	}
}

func TestScanCache(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)
	cfg := testConfig(t)
	cachePath := filepath.Join(t.TempDir(), "scan.cache")

	code1, out1, _ := runCLI(t, "--config", cfg, "scan", "--cache", cachePath, dir)
	if _, err := os.Stat(cachePath); err != nil {
		t.Fatalf("cache not written: %v", err)
	}
	code2, out2, _ := runCLI(t, "--config", cfg, "scan", "--cache", cachePath, dir)
	if out1 != out2 || code1 != code2 {
		t.Errorf("cached run differs:\nfirst (%d):\n%s\nsecond (%d):\n%s", code1, out1, code2, out2)
	}

	_, out3, _ := runCLI(t, "--config", cfg, "scan", "--cache", cachePath, "-f", "json", dir)
	if !strings.HasPrefix(out3, "{") {
		t.Errorf("different flags must not reuse the cache:\n%s", out3)
	}
}

func TestCacheIsFresh(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)
	cachePath := filepath.Join(t.TempDir(), "scan.cache")

	if cacheIsFresh(cachePath, dir, nil) {
		t.Error("missing cache must not be fresh")
	}
	writeCache(cachePath, "k", 2, []byte("out\n"))
	body, code, ok := readCache(cachePath, "k")
	if !ok || code != 2 || string(body) != "out\n" {
		t.Errorf("readCache = %q, %d, %t", body, code, ok)
	}
	if _, _, ok := readCache(cachePath, "other"); ok {
		t.Error("a different key must miss")
	}
}

func TestScanBadConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, "bad.yaml", "selection:\n  mode: some\n")

	code, _, stderr := runCLI(t, "--config", filepath.Join(dir, "bad.yaml"), "scan", createSampleRepo(t))
	if code != exitError {
		t.Fatalf("exit %d, want %d", code, exitError)
	}
	if !strings.Contains(stderr, "error:") {
		t.Errorf("stderr: %s", stderr)
	}
}

func TestHealRotation(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, "calc.py", divSource)
	metricsPath := filepath.Join(t.TempDir(), "codeheal.prom")

	code, out, stderr := runCLI(t, "--config", testConfig(t), "heal", "-c", "4", "--metrics-file", metricsPath, dir)
	if code != exitHealthy {
		t.Fatalf("exit %d, want %d\nstdout: %s\nstderr: %s", code, exitHealthy, out, stderr)
	}
	if !strings.Contains(out, "AUTOPOIETIC") {
		t.Errorf("output missing final phase:\n%s", out)
	}
	data, err := os.ReadFile(filepath.Join(dir, "calc.py"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "raise TypeError") {
		t.Errorf("calc.py was not healed:\n%s", data)
	}
	prom, err := os.ReadFile(metricsPath)
	if err != nil {
		t.Fatalf("metrics textfile: %v", err)
	}
	if !strings.Contains(string(prom), "codeheal_cycles_total 4") {
		t.Errorf("metrics missing cycle count:\n%s", prom)
	}
}

func TestHealDryRun(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, "calc.py", divSource)

	code, out, stderr := runCLI(t, "--config", testConfig(t), "heal", "-c", "4", "--dry-run", dir)
	if code != exitHealthy {
		t.Fatalf("exit %d\nstderr: %s", code, stderr)
	}
	data, err := os.ReadFile(filepath.Join(dir, "calc.py"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != divSource {
		t.Errorf("--dry-run modified calc.py:\n%s", data)
	}
	for _, want := range []string{"(dry run)", "--- a/calc.py", "+++ b/calc.py", "+        raise TypeError"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestHealJSON(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, "calc.py", divSource)

	code, out, stderr := runCLI(t, "--config", testConfig(t), "heal", "-c", "2", "-f", "json", dir)
	if code != exitUnhealthy {
		t.Fatalf("exit %d, want %d\nstderr: %s", code, exitUnhealthy, stderr)
	}
	var s model.BreathSession
	if err := json.Unmarshal([]byte(out), &s); err != nil {
		t.Fatalf("decoding output: %v\n%s", err, out)
	}
	if len(s.Cycles) != 2 || s.Summary.Cycles != 2 {
		t.Fatalf("cycles = %d, summary %d", len(s.Cycles), s.Summary.Cycles)
	}
	if s.Cycles[0].Dimension != model.Care || s.Cycles[1].Dimension != model.Validation {
		t.Errorf("rotation = %s, %s", s.Cycles[0].Dimension, s.Cycles[1].Dimension)
	}
	if s.Summary.FinalHarmony < s.Summary.InitialHarmony {
		t.Errorf("harmony fell from %.4f to %.4f", s.Summary.InitialHarmony, s.Summary.FinalHarmony)
	}
}

func TestHealBadFloor(t *testing.T) {
	t.Parallel()

	code, _, stderr := runCLI(t, "--config", testConfig(t), "heal", "--floor", "speed=0.5", createSampleRepo(t))
	if code != exitError {
		t.Fatalf("exit %d, want %d", code, exitError)
	}
	if !strings.Contains(stderr, "speed") {
		t.Errorf("stderr: %s", stderr)
	}
}

func TestHealZeroCycles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, "calc.py", divSource)

	code, out, _ := runCLI(t, "--config", testConfig(t), "heal", "-c", "0", "-f", "json", dir)
	if code != exitUnhealthy {
		t.Fatalf("exit %d", code)
	}
	var s model.BreathSession
	if err := json.Unmarshal([]byte(out), &s); err != nil {
		t.Fatal(err)
	}
	if len(s.Cycles) != 0 || s.Summary.MeanHarmony != s.Summary.InitialHarmony {
		t.Errorf("zero-cycle session: %+v", s.Summary)
	}
}

func TestHistory(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)

	_, out, _ := runCLI(t, "--config", cfg, "history")
	if !strings.Contains(out, "No archived sessions.") {
		t.Errorf("empty archive output:\n%s", out)
	}

	dir := t.TempDir()
	writeTestFile(t, dir, "calc.py", divSource)
	_, healOut, _ := runCLI(t, "--config", cfg, "heal", "-c", "1", "-f", "json", dir)
	var s model.BreathSession
	if err := json.Unmarshal([]byte(healOut), &s); err != nil {
		t.Fatal(err)
	}

	code, out, stderr := runCLI(t, "--config", cfg, "history")
	if code != exitHealthy {
		t.Fatalf("exit %d\nstderr: %s", code, stderr)
	}
	if !strings.Contains(out, s.ID) {
		t.Errorf("listing missing %s:\n%s", s.ID, out)
	}

	_, out, _ = runCLI(t, "--config", cfg, "history", "-f", "json", s.ID[:13])
	var got model.BreathSession
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decoding session: %v\n%s", err, out)
	}
	if got.ID != s.ID || len(got.Cycles) != 1 {
		t.Errorf("got session %s with %d cycles", got.ID, len(got.Cycles))
	}
}

func TestHealNoArchive(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	dir := t.TempDir()
	writeTestFile(t, dir, "calc.py", divSource)

	runCLI(t, "--config", cfg, "heal", "-c", "1", "--no-archive", dir)
	if _, err := os.Stat(filepath.Join(filepath.Dir(cfg), "sessions.db")); err == nil {
		t.Error("--no-archive created the archive")
	}
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	fatal := []model.FileFailure{{Kind: model.WriteFailure, Fatal: true}}
	recoverable := []model.FileFailure{{Kind: model.ValidationFailure}}
	tests := []struct {
		phase    model.Phase
		failures []model.FileFailure
		want     int
	}{
		{model.Autopoietic, nil, exitHealthy},
		{model.Homeostatic, nil, exitUnhealthy},
		{model.Entropic, nil, exitUnhealthy},
		{model.Autopoietic, recoverable, exitHealthy},
		{model.Autopoietic, fatal, exitFileFailures},
		{model.Entropic, fatal, exitFileFailures},
	}
	for _, tt := range tests {
		if got := exitCode(tt.phase, tt.failures); got != tt.want {
			t.Errorf("exitCode(%s, %d failures) = %d, want %d", tt.phase, len(tt.failures), got, tt.want)
		}
	}
}
