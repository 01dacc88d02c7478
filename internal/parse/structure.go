package parse

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/codeheal/internal/lang"
	"github.com/phobologic/codeheal/internal/model"
)

var scopeTypes = map[string]struct{}{
	"function_definition":  {},
	"decorated_definition": {},
	"class_definition":     {},
	"lambda":               {},
}

// walk visits the named descendants of n in document order without entering
// nested scopes. Returning false from visit skips that node's children.
func walk(n *sitter.Node, visit func(*sitter.Node) bool) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c == nil {
			continue
		}
		if isScope(c) {
			continue
		}
		if visit(c) {
			walk(c, visit)
		}
	}
}

// visitTree applies visit to n itself and then to its descendants. A nested
// definition is opaque: when n is one, nothing is visited.
func visitTree(n *sitter.Node, visit func(*sitter.Node) bool) {
	if isScope(n) {
		return
	}
	if visit(n) {
		walk(n, visit)
	}
}

func isScope(n *sitter.Node) bool {
	_, ok := scopeTypes[n.Type()]
	return ok
}

func atModuleLevel(n *sitter.Node) bool {
	p := n.Parent()
	if p == nil {
		return false
	}
	if p.Type() == "expression_statement" {
		p = p.Parent()
	}
	return p != nil && p.Type() == "module"
}

// Body returns the block of a function definition.
func Body(def *sitter.Node) *sitter.Node {
	return def.ChildByFieldName("body")
}

// Statements returns the statements of a block, skipping comments.
func Statements(block *sitter.Node) []*sitter.Node {
	if block == nil {
		return nil
	}
	var out []*sitter.Node
	for i := 0; i < int(block.NamedChildCount()); i++ {
		c := block.NamedChild(i)
		if c == nil || c.Type() == "comment" {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Docstring returns the string node of a leading docstring, or nil.
func Docstring(stmts []*sitter.Node) *sitter.Node {
	if len(stmts) == 0 || stmts[0].Type() != "expression_statement" || stmts[0].NamedChildCount() != 1 {
		return nil
	}
	s := stmts[0].NamedChild(0)
	switch s.Type() {
	case "string", "concatenated_string":
		return s
	}
	return nil
}

// DocstringText returns the cleaned content of a docstring node.
func DocstringText(node *sitter.Node, source []byte) string {
	if node.Type() == "concatenated_string" {
		var parts []string
		for i := 0; i < int(node.NamedChildCount()); i++ {
			_, _, content := SplitStringLiteral(lang.NodeText(node.NamedChild(i), source))
			parts = append(parts, content)
		}
		return CleanDoc(strings.Join(parts, ""))
	}
	_, _, content := SplitStringLiteral(lang.NodeText(node, source))
	return CleanDoc(content)
}

// SplitStringLiteral splits a string literal into prefix letters, quote
// delimiter and raw content.
func SplitStringLiteral(raw string) (prefix, quote, content string) {
	i := 0
	for i < len(raw) && strings.IndexByte("rRuUbBfF", raw[i]) >= 0 {
		i++
	}
	prefix, rest := raw[:i], raw[i:]
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(rest, q) && strings.HasSuffix(rest, q) && len(rest) >= 2*len(q) {
			return prefix, q, rest[len(q) : len(rest)-len(q)]
		}
	}
	return prefix, "", rest
}

// CleanDoc strips docstring indentation the way inspect.cleandoc does.
func CleanDoc(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\t", "    "), "\n")
	margin := -1
	for _, line := range lines[1:] {
		trimmed := strings.TrimLeft(line, " ")
		if trimmed == "" {
			continue
		}
		if indent := len(line) - len(trimmed); margin < 0 || indent < margin {
			margin = indent
		}
	}
	lines[0] = strings.TrimSpace(lines[0])
	for i := 1; i < len(lines); i++ {
		if margin > 0 && len(lines[i]) >= margin {
			lines[i] = lines[i][margin:]
		}
		lines[i] = strings.TrimRight(lines[i], " ")
	}
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// EntryLength returns how many leading statements form the entry region:
// the docstring followed by guards, asserts, local imports and logging calls.
func EntryLength(stmts []*sitter.Node, source []byte) int {
	i := 0
	if Docstring(stmts) != nil {
		i = 1
	}
	for ; i < len(stmts); i++ {
		if !isEntryStatement(stmts[i], source) {
			break
		}
	}
	return i
}

func isEntryStatement(st *sitter.Node, source []byte) bool {
	switch st.Type() {
	case "import_statement", "import_from_statement", "assert_statement":
		return true
	case "if_statement":
		return IsGuard(st)
	case "expression_statement":
		return IsLoggingStatement(st, source)
	}
	return false
}

// IsGuard reports whether an if statement has no alternatives and raises
// from its consequence.
func IsGuard(ifNode *sitter.Node) bool {
	if ifNode.Type() != "if_statement" {
		return false
	}
	for i := 0; i < int(ifNode.NamedChildCount()); i++ {
		switch ifNode.NamedChild(i).Type() {
		case "elif_clause", "else_clause":
			return false
		}
	}
	for _, st := range Statements(ifNode.ChildByFieldName("consequence")) {
		if st.Type() == "raise_statement" {
			return true
		}
	}
	return false
}

func hasGuards(entry []*sitter.Node) bool {
	for _, st := range entry {
		if st.Type() == "assert_statement" || IsGuard(st) {
			return true
		}
	}
	return false
}

// GuardedParams returns the checkable parameters referenced by guard
// conditions or asserts in the entry region, in declaration order.
func GuardedParams(entry []*sitter.Node, source []byte, params []model.Param) []string {
	referenced := make(map[string]struct{})
	for _, st := range entry {
		var target *sitter.Node
		switch {
		case st.Type() == "assert_statement":
			target = st
		case IsGuard(st):
			target = st.ChildByFieldName("condition")
		}
		if target == nil {
			continue
		}
		for _, name := range identifiers(target, source) {
			referenced[name] = struct{}{}
		}
	}

	var out []string
	for _, p := range params {
		if !p.Checkable() {
			continue
		}
		if _, ok := referenced[p.Name]; ok {
			out = append(out, p.Name)
		}
	}
	return out
}

// identifiers lists variable references under n. Attribute names and
// keyword argument names are not references.
func identifiers(n *sitter.Node, source []byte) []string {
	var out []string
	visitTree(n, func(c *sitter.Node) bool {
		switch c.Type() {
		case "identifier":
			out = append(out, lang.NodeText(c, source))
		case "attribute":
			if obj := c.ChildByFieldName("object"); obj != nil {
				out = append(out, identifiers(obj, source)...)
			}
			return false
		case "keyword_argument":
			if v := c.ChildByFieldName("value"); v != nil {
				out = append(out, identifiers(v, source)...)
			}
			return false
		}
		return true
	})
	return out
}

// Params extracts the declared parameters. When hasReceiver is set the
// first plain parameter is the method receiver.
func Params(def *sitter.Node, source []byte, hasReceiver bool) []model.Param {
	list := def.ChildByFieldName("parameters")
	if list == nil {
		return nil
	}

	var params []model.Param
	for i := 0; i < int(list.NamedChildCount()); i++ {
		c := list.NamedChild(i)
		var p model.Param
		switch c.Type() {
		case "identifier", "list_splat_pattern", "dictionary_splat_pattern":
			p = patternParam(c, source)
		case "typed_parameter":
			p = patternParam(c.NamedChild(0), source)
			if t := c.ChildByFieldName("type"); t != nil {
				p.Type = lang.NodeText(t, source)
			}
		case "default_parameter", "typed_default_parameter":
			if n := c.ChildByFieldName("name"); n != nil {
				p = patternParam(n, source)
			}
			if t := c.ChildByFieldName("type"); t != nil {
				p.Type = lang.NodeText(t, source)
			}
			if v := c.ChildByFieldName("value"); v != nil {
				p.Default = lang.NodeText(v, source)
				p.HasDefault = true
			}
		default:
			continue
		}
		if p.Name == "" {
			continue
		}
		if hasReceiver && len(params) == 0 && p.Kind == model.PlainParam {
			p.Kind = model.ReceiverParam
		}
		params = append(params, p)
	}
	return params
}

func patternParam(n *sitter.Node, source []byte) model.Param {
	if n == nil {
		return model.Param{}
	}
	switch n.Type() {
	case "list_splat_pattern":
		return model.Param{Name: strings.TrimLeft(lang.NodeText(n, source), "*"), Kind: model.ArgsParam}
	case "dictionary_splat_pattern":
		return model.Param{Name: strings.TrimLeft(lang.NodeText(n, source), "*"), Kind: model.KwargsParam}
	case "identifier":
		return model.Param{Name: lang.NodeText(n, source), Kind: model.PlainParam}
	}
	return model.Param{}
}

func isStatic(def *sitter.Node, source []byte) bool {
	parent := def.Parent()
	if parent == nil || parent.Type() != "decorated_definition" {
		return false
	}
	for i := 0; i < int(parent.NamedChildCount()); i++ {
		c := parent.NamedChild(i)
		if c.Type() == "decorator" && strings.Contains(lang.NodeText(c, source), "staticmethod") {
			return true
		}
	}
	return false
}

func summarize(body *sitter.Node, source []byte) model.BodySummary {
	var s model.BodySummary
	walk(body, func(n *sitter.Node) bool {
		switch n.Type() {
		case "if_statement", "elif_clause", "conditional_expression", "except_clause", "case_clause":
			s.Branches++
		case "for_statement", "while_statement", "for_in_clause":
			s.Loops++
		case "boolean_operator":
			s.BoolOps++
		case "call":
			s.CallSites++
		case "return_statement":
			s.Returns++
			if n.NamedChildCount() > 0 && lang.NodeText(n.NamedChild(0), source) != "None" {
				s.Values++
			}
		case "yield":
			s.Values++
		}
		return true
	})
	return s
}

func firstSegment(dotted string) string {
	if i := strings.IndexByte(dotted, '.'); i >= 0 {
		return dotted[:i]
	}
	return dotted
}

// lastSegment returns the final dotted component of an expression, ignoring
// any call arguments.
func lastSegment(expr string) string {
	if i := strings.IndexByte(expr, '('); i >= 0 {
		expr = expr[:i]
	}
	if i := strings.LastIndexByte(expr, '.'); i >= 0 {
		return expr[i+1:]
	}
	return expr
}
