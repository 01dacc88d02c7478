// Package discover finds the source files a session should analyze.
package discover

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/phobologic/codeheal/internal/lang"
)

// ErrUnsupported is returned when the root is a single file of an
// unsupported language.
var ErrUnsupported = errors.New("unsupported source file")

// FileEntry represents a discovered source file.
type FileEntry struct {
	Path     string // Relative to Result.Dir
	Language string
	Size     int64
}

// Skipped records a file left out and why.
type Skipped struct {
	Path   string
	Reason string
}

// Options filters discovery.
type Options struct {
	// Languages restricts results to the named languages when non-empty.
	Languages []string
	// Include and Exclude are doublestar patterns matched against the
	// slash-separated relative path. An empty Include admits everything.
	Include []string
	Exclude []string
	// MaxFileSize skips larger files. Zero means no limit.
	MaxFileSize int64
	// IncludeTests keeps files that look like tests.
	IncludeTests bool
}

// Result lists discovered files relative to Dir.
type Result struct {
	Dir     string
	Files   []FileEntry
	Skipped []Skipped
}

var skipDirs = map[string]struct{}{
	"__pycache__":   {},
	"node_modules":  {},
	".git":          {},
	".hg":           {},
	".svn":          {},
	"venv":          {},
	".venv":         {},
	"env":           {},
	".env":          {},
	"build":         {},
	"dist":          {},
	".tox":          {},
	".mypy_cache":   {},
	".ruff_cache":   {},
	".pytest_cache": {},
	"egg-info":      {},
}

// Files discovers source files under root. A root naming a single file
// yields just that file, subject to the size limit.
func Files(root string, opts Options) (*Result, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return single(root, info, opts)
	}

	langSet := make(map[string]struct{}, len(opts.Languages))
	for _, l := range opts.Languages {
		langSet[l] = struct{}{}
	}
	gitFiles := gitLsFiles(root)
	var gi *ignore.GitIgnore
	if gitFiles == nil {
		gi = loadGitignore(root)
	}

	res := &Result{Dir: root}

	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip errors
		}

		name := d.Name()

		if d.IsDir() {
			if path == root {
				return nil
			}
			if _, skip := skipDirs[name]; skip || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".egg-info") {
				return filepath.SkipDir
			}
			return nil
		}

		if strings.HasPrefix(name, ".") {
			return nil
		}

		// Skip symlinks
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}

		if gitFiles != nil {
			if _, ok := gitFiles[rel]; !ok {
				return nil
			}
		} else if gi != nil && gi.MatchesPath(rel) {
			return nil
		}

		l := lang.ForPath(name)
		if l == nil {
			return nil
		}
		if len(langSet) > 0 {
			if _, ok := langSet[l.Name]; !ok {
				return nil
			}
		}

		slashed := filepath.ToSlash(rel)
		if !selected(slashed, opts) {
			return nil
		}
		if !opts.IncludeTests && IsTestFile(slashed) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return nil
		}
		if opts.MaxFileSize > 0 && fi.Size() > opts.MaxFileSize {
			res.Skipped = append(res.Skipped, Skipped{Path: rel, Reason: fmt.Sprintf("exceeds %d bytes", opts.MaxFileSize)})
			return nil
		}

		res.Files = append(res.Files, FileEntry{Path: rel, Language: l.Name, Size: fi.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(res.Files, func(i, j int) bool {
		return res.Files[i].Path < res.Files[j].Path
	})

	return res, nil
}

func single(path string, info os.FileInfo, opts Options) (*Result, error) {
	l := lang.ForPath(path)
	if l == nil {
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupported)
	}
	res := &Result{Dir: filepath.Dir(path)}
	name := filepath.Base(path)
	if opts.MaxFileSize > 0 && info.Size() > opts.MaxFileSize {
		res.Skipped = append(res.Skipped, Skipped{Path: name, Reason: fmt.Sprintf("exceeds %d bytes", opts.MaxFileSize)})
		return res, nil
	}
	res.Files = []FileEntry{{Path: name, Language: l.Name, Size: info.Size()}}
	return res, nil
}

// selected applies the include and exclude patterns. Invalid patterns never
// match; ValidatePatterns reports them up front.
func selected(rel string, opts Options) bool {
	for _, pat := range opts.Exclude {
		if ok, _ := doublestar.Match(pat, rel); ok {
			return false
		}
	}
	if len(opts.Include) == 0 {
		return true
	}
	for _, pat := range opts.Include {
		if ok, _ := doublestar.Match(pat, rel); ok {
			return true
		}
	}
	return false
}

// ValidatePatterns checks that every pattern is well formed.
func ValidatePatterns(patterns []string) error {
	for _, pat := range patterns {
		if !doublestar.ValidatePattern(pat) {
			return fmt.Errorf("invalid glob pattern %q", pat)
		}
	}
	return nil
}

var testDirs = map[string]struct{}{
	"tests":     {},
	"test":      {},
	"spec":      {},
	"__tests__": {},
}

// IsTestFile reports whether a slash-separated relative path looks like a
// test: it sits under a test directory or its name follows a test naming
// convention.
func IsTestFile(rel string) bool {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for _, dir := range parts[:len(parts)-1] {
		if _, ok := testDirs[dir]; ok {
			return true
		}
	}
	name := parts[len(parts)-1]
	base := strings.TrimSuffix(name, filepath.Ext(name))
	switch {
	case strings.HasPrefix(base, "test_"),
		strings.HasSuffix(base, "_test"),
		strings.HasSuffix(base, "_spec"),
		strings.HasSuffix(base, ".test"),
		strings.HasSuffix(base, ".spec"),
		strings.HasSuffix(base, "Test") && base != "Test":
		return true
	}
	return false
}

func gitLsFiles(root string) map[string]struct{} {
	gitDir := filepath.Join(root, ".git")
	info, err := os.Stat(gitDir)
	if err != nil || !info.IsDir() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		return nil
	}

	files := make(map[string]struct{})
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if line != "" {
			files[filepath.FromSlash(line)] = struct{}{}
		}
	}
	return files
}

func loadGitignore(root string) *ignore.GitIgnore {
	path := filepath.Join(root, ".gitignore")
	gi, err := ignore.CompileIgnoreFile(path)
	if err != nil {
		return nil
	}
	return gi
}
