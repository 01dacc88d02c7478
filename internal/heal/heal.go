// Package heal synthesizes minimal source modifications, one strategy per
// dimension. Every modification stays inside a single function.
package heal

import (
	"context"
	"errors"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/codeheal/internal/model"
	"github.com/phobologic/codeheal/internal/parse"
	"github.com/phobologic/codeheal/internal/score"
)

// ErrUnitNotFound means the function could not be re-found in its file.
var ErrUnitNotFound = errors.New("function not found")

// ResilienceMode selects what an inserted exception handler does after
// logging.
type ResilienceMode string

const (
	// Reraise re-raises the original exception unchanged.
	Reraise ResilienceMode = "reraise"
	// Wrap raises RuntimeError chained from the original.
	Wrap ResilienceMode = "wrap"
	// ReturnNone swallows the exception and returns None.
	ReturnNone ResilienceMode = "default"
)

// Options configures the strategies.
type Options struct {
	Scoring        score.Options
	Parse          parse.Options
	CareAdequacy   float64
	ResilienceMode ResilienceMode
	// IndentUnit is used when a file's own indentation cannot be detected.
	IndentUnit string
}

// DefaultOptions returns the stock healer configuration.
func DefaultOptions() Options {
	return Options{
		Scoring:        score.DefaultOptions(),
		Parse:          parse.DefaultOptions(),
		CareAdequacy:   0.7,
		ResilienceMode: Reraise,
		IndentUnit:     "    ",
	}
}

// Strategy proposes a modification for one dimension. A nil modification
// with a nil error is a NoOp.
type Strategy interface {
	Dimension() model.Dimension
	Generate(ctx context.Context, src *model.SourceUnit, fn model.FunctionUnit) (*model.Modification, error)
}

// Healer owns the four strategies.
type Healer struct {
	pool          *parse.Pool
	opts          Options
	care          Strategy
	validation    Strategy
	resilience    Strategy
	observability Strategy
}

// New creates a healer that parses with pool.
func New(pool *parse.Pool, opts Options) *Healer {
	if opts.IndentUnit == "" {
		opts.IndentUnit = "    "
	}
	if opts.ResilienceMode == "" {
		opts.ResilienceMode = Reraise
	}
	h := &Healer{pool: pool, opts: opts}
	h.care = &careStrategy{h: h}
	h.validation = &validationStrategy{h: h}
	h.resilience = &resilienceStrategy{h: h}
	h.observability = &observabilityStrategy{h: h}
	return h
}

// For returns the strategy for d.
func (h *Healer) For(d model.Dimension) Strategy {
	switch d {
	case model.Care:
		return h.care
	case model.Validation:
		return h.validation
	case model.Resilience:
		return h.resilience
	case model.Observability:
		return h.observability
	}
	panic(fmt.Sprintf("heal: unknown dimension %d", int(d)))
}

// target is a function located in one version of its file's text.
type target struct {
	src       []byte
	tree      *sitter.Tree
	def       *sitter.Node
	body      *sitter.Node
	stmts     []*sitter.Node
	entry     int
	defIndent string
	indent    string
	unit      string
	module    model.ModuleInfo
	fn        model.FunctionUnit
}

func (t *target) close() {
	t.tree.Close()
}

func (h *Healer) locate(ctx context.Context, src []byte, su *model.SourceUnit, fn model.FunctionUnit) (*target, error) {
	tree, err := h.pool.Parse(ctx, src)
	if err != nil {
		return nil, err
	}
	def, err := parse.FindFunction(h.pool.Language(), tree, src, fn.Key())
	if err != nil || def == nil {
		tree.Close()
		if err == nil {
			err = ErrUnitNotFound
		}
		return nil, fmt.Errorf("%s: %w", fn.Key(), err)
	}
	body := parse.Body(def)
	stmts := parse.Statements(body)
	if len(stmts) == 0 {
		tree.Close()
		return nil, fmt.Errorf("%s: empty body: %w", fn.Key(), ErrUnitNotFound)
	}

	t := &target{
		src:       src,
		tree:      tree,
		def:       def,
		body:      body,
		stmts:     stmts,
		entry:     parse.EntryLength(stmts, src),
		defIndent: indentAt(src, int(def.StartByte())),
		indent:    indentAt(src, int(stmts[0].StartByte())),
		module:    su.Module,
		fn:        fn,
	}
	t.unit = h.opts.IndentUnit
	if len(t.indent) > len(t.defIndent) && t.indent[:len(t.defIndent)] == t.defIndent {
		t.unit = t.indent[len(t.defIndent):]
	}
	return t, nil
}

// pass computes edits against one located version of the function.
type pass func(t *target) ([]edit, error)

// rewrite runs passes in order, re-parsing between them, and returns the
// resulting modification or nil when no pass changed anything.
func (h *Healer) rewrite(ctx context.Context, dim model.Dimension, su *model.SourceUnit, fn model.FunctionUnit, summary func() string, passes ...pass) (*model.Modification, error) {
	t, err := h.locate(ctx, su.Source, su, fn)
	if err != nil {
		return nil, err
	}
	start := int(t.def.StartByte())
	end := lineEnd(su.Source, int(t.def.EndByte()))
	cur := su.Source
	if e, ok := h.expandInline(t); ok {
		cur = applyEdits(cur, []edit{e})
	}
	t.close()

	changed := false
	for _, p := range passes {
		t, err := h.locate(ctx, cur, su, fn)
		if err != nil {
			return nil, err
		}
		edits, err := p(t)
		t.close()
		if err != nil {
			return nil, err
		}
		if len(edits) == 0 {
			continue
		}
		cur = applyEdits(cur, edits)
		changed = true
	}
	if !changed {
		return nil, nil
	}

	delta := len(cur) - len(su.Source)
	return &model.Modification{
		Path:        su.Path,
		Unit:        fn.Key(),
		Dimension:   dim,
		Start:       start,
		End:         end,
		Original:    string(su.Source[start:end]),
		Replacement: string(cur[start : end+delta]),
		Summary:     summary(),
	}, nil
}

// expandInline moves a one-line body onto its own indented line.
func (h *Healer) expandInline(t *target) (edit, bool) {
	i := int(t.body.StartByte()) - 1
	for i >= 0 && (t.src[i] == ' ' || t.src[i] == '\t') {
		i--
	}
	if i < 0 || t.src[i] != ':' {
		return edit{}, false
	}
	unit := detectUnit(t.src, h.opts.IndentUnit)
	return edit{start: i + 1, end: int(t.body.StartByte()), text: "\n" + t.defIndent + unit}, true
}

// logTarget returns the expression to log through and whether a local
// import of logging must precede it. A module logger is used only when its
// name is recognizable as one.
func logTarget(m model.ModuleInfo) (expr string, needsImport bool) {
	if m.LoggerName != "" && parse.IsLoggerName(m.LoggerName) {
		return m.LoggerName, false
	}
	return "logging.getLogger(__name__)", !m.ImportsLogging
}
