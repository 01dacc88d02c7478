package analyze

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/codeheal/internal/diagnose"
	"github.com/phobologic/codeheal/internal/discover"
	"github.com/phobologic/codeheal/internal/lang"
	"github.com/phobologic/codeheal/internal/model"
	"github.com/phobologic/codeheal/internal/parse"
	"github.com/phobologic/codeheal/internal/phase"
	"github.com/phobologic/codeheal/internal/score"
)

func newAnalyzer(t *testing.T) (*Analyzer, *test.Hook) {
	t.Helper()
	log, hook := test.NewNullLogger()
	a, err := New(parse.NewPool(lang.Python), DefaultOptions(), log)
	require.NoError(t, err)
	return a, hook
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestAnalyzeSource(t *testing.T) {
	t.Parallel()

	a, _ := newAnalyzer(t)
	su, err := a.AnalyzeSource(context.Background(), "m.py", []byte("import os\n\ndef f(a):\n    return a\n\nclass C:\n    def g(self):\n        pass\n"))
	require.NoError(t, err)
	assert.Equal(t, "m.py", su.Path)
	require.Len(t, su.Functions, 2)
	assert.Equal(t, "f", su.Functions[0].QualifiedName)
	assert.Equal(t, "C.g", su.Functions[1].QualifiedName)
	assert.Equal(t, []string{"os"}, su.Module.Imported)
}

func TestAnalyzeSourceCached(t *testing.T) {
	t.Parallel()

	a, _ := newAnalyzer(t)
	src := []byte("def f(a):\n    return a\n")
	first, err := a.AnalyzeSource(context.Background(), "a.py", src)
	require.NoError(t, err)
	second, err := a.AnalyzeSource(context.Background(), "b.py", src)
	require.NoError(t, err)

	assert.Equal(t, "b.py", second.Path)
	assert.Equal(t, first.Functions, second.Functions)
	assert.Equal(t, 1, a.cache.Len())
}

func TestAnalyzeSourceEmpty(t *testing.T) {
	t.Parallel()

	a, _ := newAnalyzer(t)
	su, err := a.AnalyzeSource(context.Background(), "empty.py", nil)
	require.NoError(t, err)
	assert.Empty(t, su.Functions)
}

func TestAnalyzeSourceParseError(t *testing.T) {
	t.Parallel()

	a, _ := newAnalyzer(t)
	_, err := a.AnalyzeSource(context.Background(), "bad.py", []byte("def f(:\n"))
	var perr *parse.Error
	require.True(t, errors.As(err, &perr), "err = %v", err)
	assert.Equal(t, "bad.py", perr.Path)
}

func TestScan(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "good.py", "def f(a):\n    \"\"\"Return a.\"\"\"\n    return a\n")
	writeFile(t, dir, "pkg/other.py", "def g():\n    pass\n")
	writeFile(t, dir, "broken.py", "def h(:\n")
	writeFile(t, dir, "consts.py", "X = 1\n")

	res, err := discover.Files(dir, discover.Options{})
	require.NoError(t, err)

	a, hook := newAnalyzer(t)
	scan, err := a.Scan(context.Background(), dir, res.Files)
	require.NoError(t, err)

	paths := make([]string, len(scan.Sources))
	for i, su := range scan.Sources {
		paths[i] = su.Path
	}
	assert.Equal(t, []string{"consts.py", "good.py", filepath.Join("pkg", "other.py")}, paths)

	require.Len(t, scan.Failures, 1)
	assert.Equal(t, "broken.py", scan.Failures[0].Path)
	assert.Equal(t, model.ParseFailure, scan.Failures[0].Kind)
	assert.True(t, scan.Failures[0].Fatal)
	require.NotEmpty(t, hook.AllEntries())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	c := phase.Classifier{Boundaries: phase.DefaultBoundaries(), Scoring: score.DefaultOptions(), Diagnoser: diagnose.New(0.7)}
	profiles := scan.Profiles(c)
	require.Len(t, profiles, 2, "files without functions are omitted")
	assert.Equal(t, "good.py", profiles[0].Path)
}

func TestScanCancelled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "a.py", "def f():\n    pass\n")
	a, _ := newAnalyzer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Scan(ctx, dir, []discover.FileEntry{{Path: "a.py", Language: "python"}})
	assert.ErrorIs(t, err, context.Canceled)
}
