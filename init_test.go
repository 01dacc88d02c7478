package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/phobologic/codeheal/internal/config"
)

// TestApplySectionCreate verifies that applySection on empty content wraps the
// section in sentinels with a trailing newline.
func TestApplySectionCreate(t *testing.T) {
	t.Parallel()
	section := sentinelStart + "\nbody\n" + sentinelEnd
	got := applySection("", section)
	if !strings.Contains(got, sentinelStart) {
		t.Error("missing sentinel start")
	}
	if !strings.Contains(got, sentinelEnd) {
		t.Error("missing sentinel end")
	}
	if !strings.HasSuffix(got, sentinelEnd+"\n") {
		t.Errorf("missing trailing newline: %q", got)
	}
}

// TestApplySectionAppend verifies that existing content without a sentinel block
// is preserved and the section is appended.
func TestApplySectionAppend(t *testing.T) {
	t.Parallel()
	existing := "# My Project\n\nSome existing content."
	section := sentinelStart + "\nnew content\n" + sentinelEnd
	got := applySection(existing, section)

	if !strings.HasPrefix(got, existing+"\n\n") {
		t.Errorf("existing content should be preserved and separated:\n%s", got)
	}
	if !strings.Contains(got, "new content") {
		t.Error("new content missing")
	}
}

// TestApplySectionUpdate verifies that an existing sentinel block is replaced
// precisely, leaving surrounding content intact.
func TestApplySectionUpdate(t *testing.T) {
	t.Parallel()
	before := "# Project\n\n"
	after := "\n\n## Other Section\n"
	old := before + sentinelStart + "\nold content\n" + sentinelEnd + after

	section := sentinelStart + "\nnew content\n" + sentinelEnd
	got := applySection(old, section)

	if got != before+section+after {
		t.Errorf("unexpected result:\n%s", got)
	}
}

func TestInitWritesConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), config.FileName)

	code, _, stderr := runCLI(t, "--config", testConfig(t), "init", path)
	if code != exitHealthy {
		t.Fatalf("exit %d\nstderr: %s", code, stderr)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("written config does not load: %v", err)
	}
	if cfg.Rhythm.Cycles != config.Default().Rhythm.Cycles {
		t.Errorf("cycles = %d", cfg.Rhythm.Cycles)
	}
}

func TestInitKeepsExisting(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, config.FileName, "rhythm:\n  cycles: 3\n")
	path := filepath.Join(dir, config.FileName)

	code, _, stderr := runCLI(t, "--config", testConfig(t), "init", path)
	if code != exitError || !strings.Contains(stderr, "--force") {
		t.Fatalf("exit %d, stderr: %s", code, stderr)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "rhythm:\n  cycles: 3\n" {
		t.Error("existing config was modified")
	}

	if code, _, _ := runCLI(t, "--config", testConfig(t), "init", "--force", path); code != exitHealthy {
		t.Fatalf("--force exit %d", code)
	}
	data, _ = os.ReadFile(path)
	if !strings.Contains(string(data), "cycles: 8") {
		t.Errorf("--force did not rewrite the config:\n%s", data)
	}
}

// TestInitDryRun verifies that --dry-run prints the would-be content and
// creates nothing.
func TestInitDryRun(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, config.FileName)
	doc := filepath.Join(dir, "CLAUDE.md")

	code, out, _ := runCLI(t, "--config", testConfig(t), "init", "--dry-run", "--agent-doc", doc, path)
	if code != exitHealthy {
		t.Fatalf("exit %d", code)
	}
	for _, p := range []string{path, doc} {
		if _, err := os.Stat(p); err == nil {
			t.Errorf("--dry-run created %s", p)
		}
	}
	for _, want := range []string{"rhythm:", sentinelStart, sentinelEnd} {
		if !strings.Contains(out, want) {
			t.Errorf("dry-run output missing %q", want)
		}
	}
}

// TestInitAgentDocIdempotent verifies that writing the agent section twice
// leaves the file unchanged after the first write.
func TestInitAgentDocIdempotent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	doc := filepath.Join(dir, "CLAUDE.md")
	writeTestFile(t, dir, "CLAUDE.md", "# My Project\n")
	cfg := testConfig(t)

	if code, _, stderr := runCLI(t, "--config", cfg, "init", "--agent-doc", doc, filepath.Join(dir, "a.yaml")); code != exitHealthy {
		t.Fatalf("first run exit %d: %s", code, stderr)
	}
	first, _ := os.ReadFile(doc)
	if code, _, stderr := runCLI(t, "--config", cfg, "init", "--agent-doc", doc, filepath.Join(dir, "b.yaml")); code != exitHealthy {
		t.Fatalf("second run exit %d: %s", code, stderr)
	}
	second, _ := os.ReadFile(doc)

	if !strings.HasPrefix(string(first), "# My Project\n") {
		t.Errorf("existing content lost:\n%s", first)
	}
	if string(first) != string(second) {
		t.Errorf("init is not idempotent:\nfirst:\n%s\nsecond:\n%s", first, second)
	}
}

// TestInitSectionContainsExamples verifies the generated section includes
// example invocations for every subcommand.
func TestInitSectionContainsExamples(t *testing.T) {
	t.Parallel()
	section := generateSection()

	for _, ex := range []string{"codeheal scan", "codeheal heal --dry-run", "--floor care=0.8", "codeheal history", "--version"} {
		if !strings.Contains(section, ex) {
			t.Errorf("generated section missing example %q", ex)
		}
	}
}

// TestInitAgentDocUnreadable verifies that an agent doc that exists but
// cannot be read is an error rather than an empty file to overwrite.
func TestInitAgentDocUnreadable(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	doc := filepath.Join(dir, "docs")
	if err := os.Mkdir(doc, 0o755); err != nil {
		t.Fatal(err)
	}

	code, stdout, stderr := runCLI(t, "--config", testConfig(t), "init", "--dry-run", "--agent-doc", doc, filepath.Join(dir, "a.yaml"))
	if code != exitError {
		t.Fatalf("exit %d, want %d", code, exitError)
	}
	if strings.Contains(stdout, "codeheal:start") {
		t.Errorf("section printed for unreadable doc:\n%s", stdout)
	}
	if !strings.Contains(stderr, "reading "+doc) {
		t.Errorf("stderr %q does not name the doc", stderr)
	}
}

// TestInitAgentDocPermissionDenied verifies that a doc without read
// permission is left untouched.
func TestInitAgentDocPermissionDenied(t *testing.T) {
	t.Parallel()
	if os.Geteuid() == 0 {
		t.Skip("root ignores file permissions")
	}
	dir := t.TempDir()
	doc := filepath.Join(dir, "CLAUDE.md")
	writeTestFile(t, dir, "CLAUDE.md", "# My Project\n")
	if err := os.Chmod(doc, 0o200); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(doc, 0o644) })

	code, _, _ := runCLI(t, "--config", testConfig(t), "init", "--agent-doc", doc, filepath.Join(dir, "a.yaml"))
	if code != exitError {
		t.Fatalf("exit %d, want %d", code, exitError)
	}
	if err := os.Chmod(doc, 0o644); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(doc)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "# My Project\n" {
		t.Errorf("doc changed:\n%s", data)
	}
}
