// Package parse turns Python source into function units using tree-sitter.
package parse

import (
	"context"
	"fmt"
	"sort"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/codeheal/internal/lang"
	"github.com/phobologic/codeheal/internal/model"
)

// Error is a syntax error in a source file. The file is skipped and the
// session carries on.
type Error struct {
	Path   string
	Line   int
	Column int
	Near   string
	// Reason replaces the generic message for errors the grammar recovers
	// from silently, such as a block with no statements.
	Reason string
}

func (e *Error) Error() string {
	loc := fmt.Sprintf("%d:%d", e.Line, e.Column)
	if e.Path != "" {
		loc = e.Path + ":" + loc
	}
	if e.Reason != "" {
		return loc + ": " + e.Reason
	}
	if e.Near != "" {
		return fmt.Sprintf("%s: syntax error near %q", loc, e.Near)
	}
	return loc + ": syntax error"
}

// Pool hands out parsers for one language. A tree-sitter parser is not
// safe for concurrent use, so each Parse call borrows its own.
type Pool struct {
	lang *lang.Language
	pool sync.Pool
}

// NewPool creates a parser pool for l.
func NewPool(l *lang.Language) *Pool {
	p := &Pool{lang: l}
	p.pool.New = func() any { return l.NewParser() }
	return p
}

// Language returns the pool's language.
func (p *Pool) Language() *lang.Language {
	return p.lang
}

// Parse parses source and returns a tree the caller must Close. Source
// containing ERROR or MISSING nodes, an empty block or inconsistent
// indentation yields *Error and no tree.
//
// ctx is checked before parsing only. The parse itself runs detached: a
// cancellation landing after ParseCtx returns would set the cancel flag of
// a parser already back in the pool and halt the next borrower's parse.
func (p *Pool) Parse(ctx context.Context, source []byte) (*sitter.Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	parser := p.pool.Get().(*sitter.Parser)
	tree, err := parser.ParseCtx(context.WithoutCancel(ctx), nil, source)
	if err != nil {
		// A halted parser would resume its old parse; drop it.
		return nil, fmt.Errorf("parsing: %w", err)
	}
	p.pool.Put(parser)
	root := tree.RootNode()
	if root.HasError() {
		perr := locateError(root, source)
		tree.Close()
		return nil, perr
	}
	if perr := checkLayout(root, source); perr != nil {
		tree.Close()
		return nil, perr
	}
	return tree, nil
}

// Valid reports whether source parses cleanly.
func (p *Pool) Valid(ctx context.Context, source []byte) bool {
	tree, err := p.Parse(ctx, source)
	if err != nil {
		return false
	}
	tree.Close()
	return true
}

func locateError(root *sitter.Node, source []byte) *Error {
	var found *sitter.Node
	var search func(n *sitter.Node)
	search = func(n *sitter.Node) {
		if found != nil {
			return
		}
		if n.Type() == "ERROR" || n.IsMissing() {
			found = n
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			c := n.Child(i)
			if c != nil && (c.HasError() || c.IsMissing()) {
				search(c)
			}
		}
	}
	search(root)
	if found == nil {
		return &Error{Line: 1, Column: 1}
	}
	pt := found.StartPoint()
	near := lang.CollapseWhitespace(lang.NodeText(found, source))
	if len(near) > 40 {
		near = near[:40]
	}
	return &Error{Line: int(pt.Row) + 1, Column: int(pt.Column) + 1, Near: near}
}

// checkLayout finds the indentation mistakes tree-sitter accepts without an
// ERROR node. A def whose body is not indented gets an empty block, and a
// dedent to a column no enclosing block uses moves the statement outward.
func checkLayout(n *sitter.Node, source []byte) *Error {
	if err := checkSuite(n, source); err != nil {
		return err
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c != nil {
			if err := checkLayout(c, source); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkSuite(n *sitter.Node, source []byte) *Error {
	want := -1
	switch n.Type() {
	case "module":
		want = 0
	case "block":
	default:
		return nil
	}
	empty := true
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c == nil || c.Type() == "comment" {
			continue
		}
		empty = false
		col, leading := indentation(c, source)
		if !leading {
			continue
		}
		if want < 0 {
			want = col
			continue
		}
		if col > want {
			return layoutError(c, "unexpected indent")
		}
		if col < want {
			return layoutError(c, "unindent does not match any outer indentation level")
		}
	}
	if empty && n.Type() == "block" {
		return layoutError(n, "expected an indented block")
	}
	return nil
}

// indentation returns the column of n and whether only blanks precede it on
// its line.
func indentation(n *sitter.Node, source []byte) (int, bool) {
	start := int(n.StartByte())
	col := int(n.StartPoint().Column)
	if col > start {
		return col, false
	}
	for _, b := range source[start-col : start] {
		if b != ' ' && b != '\t' {
			return col, false
		}
	}
	return col, true
}

func layoutError(n *sitter.Node, reason string) *Error {
	pt := n.StartPoint()
	return &Error{Line: int(pt.Row) + 1, Column: int(pt.Column) + 1, Reason: reason}
}

// definitions returns module-level functions and class methods in document
// order. Functions nested inside other functions are part of their parent.
func definitions(l *lang.Language, tree *sitter.Tree, source []byte) ([]*sitter.Node, error) {
	q, err := l.FunctionQuery()
	if err != nil {
		return nil, err
	}

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q, tree.RootNode())

	var defs []*sitter.Node
	for {
		match, ok := qc.NextMatch()
		if !ok {
			break
		}
		match = qc.FilterPredicates(match, source)
		for _, c := range match.Captures {
			if q.CaptureNameForId(c.Index) != "definition.function" {
				continue
			}
			if l.EnclosingDef(c.Node, source) != "" {
				continue
			}
			defs = append(defs, c.Node)
		}
	}
	sort.SliceStable(defs, func(i, j int) bool {
		return defs[i].StartByte() < defs[j].StartByte()
	})
	return defs, nil
}

func qualifiedName(l *lang.Language, def *sitter.Node, source []byte) (name, class, qualified string) {
	if n := def.ChildByFieldName("name"); n != nil {
		name = lang.NodeText(n, source)
	}
	class = l.EnclosingClass(def, source)
	qualified = name
	if class != "" {
		qualified = class + "." + name
	}
	return name, class, qualified
}

// ExtractFunctions returns one unit per module-level function or method.
func ExtractFunctions(l *lang.Language, tree *sitter.Tree, source []byte, mod model.ModuleInfo, opts Options) ([]model.FunctionUnit, error) {
	defs, err := definitions(l, tree, source)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]int)
	units := make([]model.FunctionUnit, 0, len(defs))
	for _, def := range defs {
		u := analyzeFunction(l, def, source, mod, opts)
		u.Ordinal = seen[u.QualifiedName]
		seen[u.QualifiedName]++
		units = append(units, u)
	}
	return units, nil
}

// FindFunction returns the definition node identified by key, or nil.
func FindFunction(l *lang.Language, tree *sitter.Tree, source []byte, key model.UnitKey) (*sitter.Node, error) {
	defs, err := definitions(l, tree, source)
	if err != nil {
		return nil, err
	}
	ordinal := 0
	for _, def := range defs {
		_, _, qualified := qualifiedName(l, def, source)
		if qualified != key.QualifiedName {
			continue
		}
		if ordinal == key.Ordinal {
			return def, nil
		}
		ordinal++
	}
	return nil, nil
}

func analyzeFunction(l *lang.Language, def *sitter.Node, source []byte, mod model.ModuleInfo, opts Options) model.FunctionUnit {
	name, class, qualified := qualifiedName(l, def, source)
	u := model.FunctionUnit{
		Name:          name,
		QualifiedName: qualified,
		Class:         class,
		Line:          int(def.StartPoint().Row) + 1,
		Start:         int(def.StartByte()),
		End:           int(def.EndByte()),
		Signature:     l.Signature(def, source),
	}
	if rt := def.ChildByFieldName("return_type"); rt != nil {
		u.ReturnType = lang.NodeText(rt, source)
	}
	u.Params = Params(def, source, class != "" && !isStatic(def, source))

	body := Body(def)
	if body == nil {
		return u
	}
	stmts := Statements(body)
	entry := EntryLength(stmts, source)

	if doc := Docstring(stmts); doc != nil {
		u.HasDocstring = true
		u.Docstring = DocstringText(doc, source)
	}
	u.GuardedParams = GuardedParams(stmts[:entry], source, u.Params)
	u.HasRuntimeChecks = hasGuards(stmts[:entry])
	u.Body = summarize(body, source)
	u.Body.Risky = RiskyOps(stmts, entry, source, mod, opts)
	u.Handlers = CountHandlers(body, source)
	u.HasErrorHandling = u.Handlers.Total > 0
	u.Observation = Observe(stmts, entry, source)
	u.HasLoggingCalls = containsLogging(body, source)
	return u
}

// ExtractModule collects imports and the module-level logger name.
func ExtractModule(tree *sitter.Tree, source []byte) model.ModuleInfo {
	var info model.ModuleInfo
	imported := make(map[string]struct{})
	root := tree.RootNode()

	visit := func(n *sitter.Node) bool {
		switch n.Type() {
		case "import_statement":
			for i := 0; i < int(n.NamedChildCount()); i++ {
				c := n.NamedChild(i)
				switch c.Type() {
				case "dotted_name":
					full := lang.NodeText(c, source)
					if full == "logging" {
						info.ImportsLogging = true
					}
					imported[firstSegment(full)] = struct{}{}
				case "aliased_import":
					if alias := c.ChildByFieldName("alias"); alias != nil {
						imported[lang.NodeText(alias, source)] = struct{}{}
					}
				}
			}
			return false
		case "import_from_statement":
			module := n.ChildByFieldName("module_name")
			for i := 0; i < int(n.NamedChildCount()); i++ {
				c := n.NamedChild(i)
				if module != nil && c.StartByte() == module.StartByte() {
					continue
				}
				switch c.Type() {
				case "dotted_name":
					imported[lang.NodeText(c, source)] = struct{}{}
				case "aliased_import":
					if alias := c.ChildByFieldName("alias"); alias != nil {
						imported[lang.NodeText(alias, source)] = struct{}{}
					}
				}
			}
			return false
		case "assignment":
			if info.LoggerName != "" || !atModuleLevel(n) {
				return false
			}
			left, right := n.ChildByFieldName("left"), n.ChildByFieldName("right")
			if left != nil && right != nil && left.Type() == "identifier" && right.Type() == "call" {
				if fn := right.ChildByFieldName("function"); fn != nil && lastSegment(lang.NodeText(fn, source)) == "getLogger" {
					info.LoggerName = lang.NodeText(left, source)
				}
			}
			return false
		}
		return true
	}
	walk(root, visit)

	delete(imported, "logging")
	for name := range imported {
		info.Imported = append(info.Imported, name)
	}
	sort.Strings(info.Imported)
	return info
}
