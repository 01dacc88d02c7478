package parse

import (
	"slices"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/codeheal/internal/lang"
	"github.com/phobologic/codeheal/internal/model"
)

// Options tunes which calls count as failure-prone.
type Options struct {
	// IOCalls are bare or dotted call names that perform I/O.
	IOCalls []string
	// IOMethods are method names that perform I/O on any receiver.
	IOMethods []string
	// ConversionCalls are conversions that raise on malformed input.
	ConversionCalls []string
}

// DefaultOptions returns the built-in risk vocabulary.
func DefaultOptions() Options {
	return Options{
		IOCalls: []string{
			"open", "input", "urlopen",
			"os.remove", "os.rename", "os.makedirs", "os.listdir", "os.unlink",
			"shutil.copy", "shutil.move", "shutil.rmtree",
			"subprocess.run", "subprocess.check_output", "subprocess.check_call",
		},
		IOMethods: []string{
			"read", "write", "readline", "readlines", "read_text", "write_text",
			"read_bytes", "write_bytes", "recv", "send", "sendall", "connect",
			"unlink", "mkdir", "rmdir", "execute", "executemany", "fetchone", "fetchall", "commit",
		},
		ConversionCalls: []string{"int", "float", "complex", "Decimal", "Fraction"},
	}
}

// RiskyOps lists failure-prone operations in the statements after the entry
// region. Handler and finally code and logging calls are not counted.
func RiskyOps(stmts []*sitter.Node, entry int, source []byte, mod model.ModuleInfo, opts Options) []model.RiskyOp {
	imported := make(map[string]struct{}, len(mod.Imported))
	for _, name := range mod.Imported {
		imported[name] = struct{}{}
	}

	var ops []model.RiskyOp
	for idx := entry; idx < len(stmts); idx++ {
		add := func(kind model.RiskKind, n *sitter.Node) {
			text := lang.CollapseWhitespace(lang.NodeText(n, source))
			if len(text) > 60 {
				text = text[:57] + "..."
			}
			ops = append(ops, model.RiskyOp{
				Kind:      kind,
				Text:      text,
				Line:      int(n.StartPoint().Row) + 1,
				Statement: idx,
				Contained: IsContained(n),
			})
		}
		visitTree(stmts[idx], func(n *sitter.Node) bool {
			switch n.Type() {
			case "except_clause", "finally_clause":
				return false
			case "call":
				if IsLoggingCall(n, source) {
					return false
				}
				if kind, ok := classifyCall(n, source, imported, opts); ok {
					add(kind, n)
				}
			case "binary_operator":
				if isRiskyArithmetic(n, source) {
					add(model.RiskArithmetic, n)
				}
			case "augmented_assignment":
				if op := n.ChildByFieldName("operator"); op != nil {
					switch lang.NodeText(op, source) {
					case "/=", "//=", "%=":
						add(model.RiskArithmetic, n)
					}
				}
			}
			return true
		})
	}
	return ops
}

func isRiskyArithmetic(n *sitter.Node, source []byte) bool {
	op := n.ChildByFieldName("operator")
	if op == nil {
		return false
	}
	switch lang.NodeText(op, source) {
	case "/", "//":
		return true
	case "%":
		// string formatting, not modulo
		left := n.ChildByFieldName("left")
		return left == nil || (left.Type() != "string" && left.Type() != "concatenated_string")
	}
	return false
}

func classifyCall(call *sitter.Node, source []byte, imported map[string]struct{}, opts Options) (model.RiskKind, bool) {
	fn := call.ChildByFieldName("function")
	if fn == nil {
		return "", false
	}
	name := lang.NodeText(fn, source)
	switch fn.Type() {
	case "identifier":
		switch {
		case slices.Contains(opts.ConversionCalls, name):
			return model.RiskConversion, true
		case slices.Contains(opts.IOCalls, name):
			return model.RiskIO, true
		}
		if _, ok := imported[name]; ok {
			return model.RiskExternal, true
		}
	case "attribute":
		if slices.Contains(opts.IOCalls, name) {
			return model.RiskIO, true
		}
		if attr := fn.ChildByFieldName("attribute"); attr != nil && slices.Contains(opts.IOMethods, lang.NodeText(attr, source)) {
			return model.RiskIO, true
		}
		if root := rootIdentifier(fn); root != nil {
			if _, ok := imported[lang.NodeText(root, source)]; ok {
				return model.RiskExternal, true
			}
		}
	}
	return "", false
}

func rootIdentifier(n *sitter.Node) *sitter.Node {
	for n != nil && n.Type() == "attribute" {
		n = n.ChildByFieldName("object")
	}
	if n != nil && n.Type() == "identifier" {
		return n
	}
	return nil
}

// IsContained reports whether n sits in the body of a try statement that
// has at least one except clause.
func IsContained(n *sitter.Node) bool {
	for child, parent := n, n.Parent(); parent != nil; child, parent = parent, parent.Parent() {
		switch parent.Type() {
		case "function_definition", "lambda", "class_definition":
			return false
		case "try_statement":
			body := parent.ChildByFieldName("body")
			if body != nil && sameNode(body, child) && hasExcept(parent) {
				return true
			}
		}
	}
	return false
}

func sameNode(a, b *sitter.Node) bool {
	return a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}

func hasExcept(try *sitter.Node) bool {
	for i := 0; i < int(try.NamedChildCount()); i++ {
		if try.NamedChild(i).Type() == "except_clause" {
			return true
		}
	}
	return false
}

// CountHandlers counts except clauses and how many name a concrete
// exception type.
func CountHandlers(body *sitter.Node, source []byte) model.Handlers {
	var h model.Handlers
	walk(body, func(n *sitter.Node) bool {
		if n.Type() == "except_clause" {
			h.Total++
			if handlerSpecific(n, source) {
				h.Specific++
			}
		}
		return true
	})
	return h
}

var genericExceptions = map[string]struct{}{
	"Exception":     {},
	"BaseException": {},
}

func handlerSpecific(clause *sitter.Node, source []byte) bool {
	typ := clause.NamedChild(0)
	if typ == nil || typ.Type() == "block" {
		return false
	}
	if typ.Type() == "as_pattern" {
		typ = typ.NamedChild(0)
		if typ == nil {
			return false
		}
	}

	var names []string
	switch typ.Type() {
	case "tuple", "parenthesized_expression", "expression_list":
		for i := 0; i < int(typ.NamedChildCount()); i++ {
			names = append(names, lastSegment(lang.NodeText(typ.NamedChild(i), source)))
		}
	default:
		names = append(names, lastSegment(lang.NodeText(typ, source)))
	}
	if len(names) == 0 {
		return false
	}
	for _, name := range names {
		if _, generic := genericExceptions[name]; generic {
			return false
		}
	}
	return true
}
