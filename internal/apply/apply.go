// Package apply splices, validates and commits modifications.
package apply

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"

	"github.com/phobologic/codeheal/internal/model"
	"github.com/phobologic/codeheal/internal/parse"
)

var (
	// ErrStale means the modification's original text is no longer at its
	// recorded offsets.
	ErrStale = errors.New("stale modification")
	// ErrInvalidCandidate means the modified source does not parse.
	ErrInvalidCandidate = errors.New("candidate source does not parse")
)

// WriteError is a failed commit of a file.
type WriteError struct {
	Path string
	Op   string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("writing %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Apply splices mod into source.
func Apply(source []byte, mod *model.Modification) ([]byte, error) {
	if mod.Start < 0 || mod.End < mod.Start || mod.End > len(source) || string(source[mod.Start:mod.End]) != mod.Original {
		return nil, fmt.Errorf("%s %s: %w", mod.Path, mod.Unit, ErrStale)
	}
	out := make([]byte, 0, len(source)-len(mod.Original)+len(mod.Replacement))
	out = append(out, source[:mod.Start]...)
	out = append(out, mod.Replacement...)
	out = append(out, source[mod.End:]...)
	return out, nil
}

// Applier validates candidates with the analyzer's parsers.
type Applier struct {
	pool *parse.Pool
}

// New returns an applier that re-parses with pool.
func New(pool *parse.Pool) *Applier {
	return &Applier{pool: pool}
}

// Validate re-parses candidate, the result of splicing mod, and finds the
// modified function again by key. A syntax error is reported as
// ErrInvalidCandidate wrapping the parse error. So is a candidate where the
// function is gone, has no statements, or no longer spans the replacement,
// which happens when a rewrite dedents its tail out of the body.
func (a *Applier) Validate(ctx context.Context, candidate []byte, mod *model.Modification) error {
	tree, err := a.pool.Parse(ctx, candidate)
	if err != nil {
		var perr *parse.Error
		if errors.As(err, &perr) {
			return fmt.Errorf("%w: %w", ErrInvalidCandidate, err)
		}
		return err
	}
	defer tree.Close()

	def, err := parse.FindFunction(a.pool.Language(), tree, candidate, mod.Unit)
	if err != nil {
		return err
	}
	if def == nil {
		return fmt.Errorf("%w: %s not found", ErrInvalidCandidate, mod.Unit)
	}
	if len(parse.Statements(parse.Body(def))) == 0 {
		return fmt.Errorf("%w: %s has an empty body", ErrInvalidCandidate, mod.Unit)
	}
	if int(def.StartByte()) > mod.Start || lastLine(candidate, int(def.EndByte())) < lastLine(candidate, mod.Start+len(mod.Replacement)) {
		return fmt.Errorf("%w: replacement escapes %s", ErrInvalidCandidate, mod.Unit)
	}
	return nil
}

// lastLine returns the line of the last non-blank byte before end.
func lastLine(src []byte, end int) int {
	trimmed := bytes.TrimRight(src[:end], " \t\r\n")
	return bytes.Count(trimmed, []byte("\n"))
}

// Modify applies mod to the workspace copy of its file: splice, validate,
// then write. The file is locked for the duration.
func (a *Applier) Modify(ctx context.Context, ws *Workspace, mod *model.Modification) error {
	unlock := ws.Lock(mod.Path)
	defer unlock()

	current, err := ws.read(mod.Path)
	if err != nil {
		return err
	}
	candidate, err := Apply(current, mod)
	if err != nil {
		return err
	}
	if err := a.Validate(ctx, candidate, mod); err != nil {
		return fmt.Errorf("%s %s: %w", mod.Path, mod.Unit, err)
	}
	mod.Valid = true
	return ws.write(mod.Path, candidate)
}

// Commit atomically replaces path with content: a temp file in the same
// directory is written, synced, given the original mode and renamed over
// the target.
func Commit(path string, content []byte) error {
	mode := os.FileMode(0o644)
	if fi, err := os.Stat(path); err == nil {
		mode = fi.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".codeheal-*")
	if err != nil {
		return &WriteError{Path: path, Op: "create temp", Err: err}
	}
	tmpName := tmp.Name()
	fail := func(op string, err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return &WriteError{Path: path, Op: op, Err: err}
	}

	if _, err := tmp.Write(content); err != nil {
		return fail("write", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		return fail("chmod", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return &WriteError{Path: path, Op: "close", Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return &WriteError{Path: path, Op: "rename", Err: err}
	}
	return nil
}

// Diff renders a unified diff of before and after labelled with path.
func Diff(path string, before, after []byte) string {
	if string(before) == string(after) {
		return ""
	}
	slashed := filepath.ToSlash(path)
	edits := myers.ComputeEdits(span.URIFromPath(slashed), string(before), string(after))
	return fmt.Sprint(gotextdiff.ToUnified("a/"+slashed, "b/"+slashed, string(before), edits))
}
