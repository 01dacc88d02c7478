package apply

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Workspace is an overlay of file contents rooted at a directory. In dry
// run mode writes stay in memory; otherwise each write is committed to
// disk before the overlay is updated. Either way reads see the latest
// content, so a dry run follows the same path as a real session.
type Workspace struct {
	dir    string
	dryRun bool

	mu    sync.Mutex
	files map[string]*file
}

type file struct {
	mu       sync.Mutex
	loaded   bool
	original []byte
	current  []byte
	writes   int
}

// NewWorkspace creates a workspace over dir.
func NewWorkspace(dir string, dryRun bool) *Workspace {
	return &Workspace{dir: dir, dryRun: dryRun, files: make(map[string]*file)}
}

// Dir returns the workspace root.
func (w *Workspace) Dir() string { return w.dir }

// DryRun reports whether writes stay in memory.
func (w *Workspace) DryRun() bool { return w.dryRun }

func (w *Workspace) entry(rel string) *file {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, ok := w.files[rel]
	if !ok {
		f = &file{}
		w.files[rel] = f
	}
	return f
}

// Lock serializes access to one file and returns the unlock function.
func (w *Workspace) Lock(rel string) func() {
	f := w.entry(rel)
	f.mu.Lock()
	return f.mu.Unlock
}

// Read returns the current content of rel.
func (w *Workspace) Read(rel string) ([]byte, error) {
	unlock := w.Lock(rel)
	defer unlock()
	return w.read(rel)
}

// read requires the file lock.
func (w *Workspace) read(rel string) ([]byte, error) {
	f := w.entry(rel)
	if !f.loaded {
		data, err := os.ReadFile(filepath.Join(w.dir, rel))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", rel, err)
		}
		f.original, f.current, f.loaded = data, data, true
	}
	return f.current, nil
}

// write requires the file lock.
func (w *Workspace) write(rel string, content []byte) error {
	f := w.entry(rel)
	if !w.dryRun {
		if err := Commit(filepath.Join(w.dir, rel), content); err != nil {
			return err
		}
	}
	f.current = content
	f.writes++
	return nil
}

// Touched lists files written at least once, sorted.
func (w *Workspace) Touched() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for rel, f := range w.files {
		if f.writes > 0 {
			out = append(out, rel)
		}
	}
	sort.Strings(out)
	return out
}

// Diffs returns a unified diff per touched file, from the content first
// read to the current content.
func (w *Workspace) Diffs() map[string]string {
	out := make(map[string]string)
	for _, rel := range w.Touched() {
		f := w.entry(rel)
		f.mu.Lock()
		if d := Diff(rel, f.original, f.current); d != "" {
			out[rel] = d
		}
		f.mu.Unlock()
	}
	return out
}
