package heal

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/codeheal/internal/lang"
	"github.com/phobologic/codeheal/internal/model"
)

type validationStrategy struct {
	h *Healer
}

func (s *validationStrategy) Dimension() model.Dimension { return model.Validation }

// Generate inserts one entry guard per unguarded parameter whose expected
// type can be inferred. Parameters with nothing to go on are left alone.
func (s *validationStrategy) Generate(ctx context.Context, su *model.SourceUnit, fn model.FunctionUnit) (*model.Modification, error) {
	guarded := make(map[string]bool, len(fn.GuardedParams))
	for _, name := range fn.GuardedParams {
		guarded[name] = true
	}
	var open []model.Param
	for _, p := range fn.CheckableParams() {
		if !guarded[p.Name] {
			open = append(open, p)
		}
	}
	if len(open) == 0 {
		return nil, nil
	}

	var names []string
	return s.h.rewrite(ctx, model.Validation, su, fn, func() string {
		return "guard " + strings.Join(names, ", ")
	}, func(t *target) ([]edit, error) {
		numeric := numericOperands(t.body, t.src)
		var guards snippet
		for _, p := range open {
			g := guardFor(p, numeric[p.Name])
			if g == nil {
				continue
			}
			guards = append(guards, g...)
			names = append(names, p.Name)
		}
		if len(guards) == 0 {
			return nil, nil
		}
		if t.entry < len(t.stmts) {
			return []edit{t.insertBefore(t.entry, guards)}, nil
		}
		return []edit{t.appendAfterLast(guards)}, nil
	})
}

// check is an inferred guard condition, true when the argument is bad.
type check struct {
	cond string
	exc  string
	msg  string
}

// guardFor infers a guard for p from, in order: its annotation, its use as
// an arithmetic operand, its name, its default value, and finally its
// being required.
func guardFor(p model.Param, numeric bool) snippet {
	allowNone := p.Default == "None" || optionalAnnotation(p.Type)
	name := p.Name

	c, ok := annotationCheck(name, p.Type)
	if !ok && numeric {
		c, ok = isinstance(name, "(int, float)", "a number"), true
	}
	if !ok {
		c, ok = namingCheck(name)
	}
	if !ok {
		c, ok = defaultCheck(name, p.Default)
	}
	if !ok {
		if p.HasDefault {
			return nil
		}
		c = check{
			cond: name + " is None",
			exc:  "ValueError",
			msg:  fmt.Sprintf(`"%s is required"`, name),
		}
		allowNone = false
	}

	if allowNone {
		cond := c.cond
		if strings.Contains(cond, " or ") || strings.Contains(cond, " and ") {
			cond = "(" + cond + ")"
		}
		c.cond = name + " is not None and " + cond
	}

	var s snippet
	s.add(0, "if "+c.cond+":")
	s.add(1, fmt.Sprintf("raise %s(%s)", c.exc, c.msg))
	return s
}

func isinstance(name, types, desc string) check {
	return check{
		cond: fmt.Sprintf("not isinstance(%s, %s)", name, types),
		exc:  "TypeError",
		msg:  fmt.Sprintf(`f"%s must be %s, got {type(%s).__name__}"`, name, desc, name),
	}
}

var annotationTypes = map[string]struct{ types, desc string }{
	"int":       {"int", "an int"},
	"float":     {"(int, float)", "a number"},
	"complex":   {"(int, float, complex)", "a number"},
	"str":       {"str", "a str"},
	"bool":      {"bool", "a bool"},
	"bytes":     {"bytes", "bytes"},
	"list":      {"list", "a list"},
	"List":      {"list", "a list"},
	"dict":      {"dict", "a dict"},
	"Dict":      {"dict", "a dict"},
	"tuple":     {"tuple", "a tuple"},
	"Tuple":     {"tuple", "a tuple"},
	"set":       {"set", "a set"},
	"Set":       {"set", "a set"},
	"frozenset": {"frozenset", "a frozenset"},
	"Callable":  {"", "callable"},
}

var optionalRe = regexp.MustCompile(`^Optional\[(.*)\]$`)

// annotationCheck maps a simple annotation onto an isinstance check.
// Unions and unknown classes are not checked.
func annotationCheck(name, annotation string) (check, bool) {
	t := strings.Trim(strings.TrimSpace(annotation), `"'`)
	if t == "" {
		return check{}, false
	}
	if m := optionalRe.FindStringSubmatch(t); m != nil {
		t = strings.TrimSpace(m[1])
	}
	if parts := strings.Split(t, "|"); len(parts) > 1 {
		var rest []string
		for _, part := range parts {
			if part = strings.TrimSpace(part); part != "None" {
				rest = append(rest, part)
			}
		}
		if len(rest) != 1 {
			return check{}, false
		}
		t = rest[0]
	}
	if i := strings.IndexByte(t, '['); i >= 0 {
		t = t[:i]
	}
	if i := strings.LastIndexByte(t, '.'); i >= 0 {
		t = t[i+1:]
	}
	known, ok := annotationTypes[t]
	if !ok {
		return check{}, false
	}
	if known.types == "" {
		return callableCheck(name), true
	}
	return isinstance(name, known.types, known.desc), true
}

func optionalAnnotation(annotation string) bool {
	t := strings.TrimSpace(annotation)
	if strings.HasPrefix(t, "Optional[") {
		return true
	}
	for _, part := range strings.Split(t, "|") {
		if strings.TrimSpace(part) == "None" {
			return true
		}
	}
	return strings.HasPrefix(t, "Union[") && strings.Contains(t, "None")
}

func callableCheck(name string) check {
	return check{
		cond: fmt.Sprintf("not callable(%s)", name),
		exc:  "TypeError",
		msg:  fmt.Sprintf(`f"%s must be callable, got {type(%s).__name__}"`, name, name),
	}
}

var (
	countWords    = wordSet("count", "num", "number", "size", "length", "len", "index", "idx", "limit", "total", "offset", "retries", "depth", "port", "timeout")
	pathWords     = wordSet("path", "filepath", "filename", "dir", "directory", "folder")
	textWords     = wordSet("name", "text", "msg", "message", "label", "title", "prefix", "suffix", "url", "email")
	flagWords     = wordSet("is", "has", "should", "can", "enable", "enabled", "use", "allow")
	callableWords = wordSet("callback", "func", "fn", "handler", "hook", "cb")
)

func wordSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// namingCheck infers a check from naming conventions.
func namingCheck(name string) (check, bool) {
	w := words(name)
	if len(w) == 0 {
		return check{}, false
	}
	first, last := w[0], w[len(w)-1]
	switch {
	case name == "n" || countWords[last] || first == "num":
		return check{
			cond: fmt.Sprintf("not isinstance(%s, int) or %s < 0", name, name),
			exc:  "ValueError",
			msg:  fmt.Sprintf(`f"%s must be a non-negative int, got {%s!r}"`, name, name),
		}, true
	case pathWords[last]:
		return check{
			cond: fmt.Sprintf(`not isinstance(%s, (str, bytes)) and not hasattr(%s, "__fspath__")`, name, name),
			exc:  "TypeError",
			msg:  fmt.Sprintf(`f"%s must be a path, got {type(%s).__name__}"`, name, name),
		}, true
	case textWords[last]:
		return isinstance(name, "str", "a str"), true
	case flagWords[first] && len(w) > 1:
		return isinstance(name, "bool", "a bool"), true
	case callableWords[last]:
		return callableCheck(name), true
	case plural(name):
		return check{
			cond: fmt.Sprintf(`not hasattr(%s, "__iter__")`, name),
			exc:  "TypeError",
			msg:  fmt.Sprintf(`f"%s must be iterable, got {type(%s).__name__}"`, name, name),
		}, true
	}
	return check{}, false
}

func plural(name string) bool {
	if len(name) <= 3 || !strings.HasSuffix(name, "s") {
		return false
	}
	for _, suffix := range []string{"ss", "us", "is", "ous"} {
		if strings.HasSuffix(name, suffix) {
			return false
		}
	}
	return true
}

var (
	intLiteral   = regexp.MustCompile(`^-?\d[\d_]*$`)
	floatLiteral = regexp.MustCompile(`^-?(\d[\d_]*)?\.\d*([eE][-+]?\d+)?$|^-?\d+[eE][-+]?\d+$`)
)

// defaultCheck infers the type from a literal default value.
func defaultCheck(name, def string) (check, bool) {
	def = strings.TrimSpace(def)
	switch {
	case def == "" || def == "None":
		return check{}, false
	case def == "True" || def == "False":
		return isinstance(name, "bool", "a bool"), true
	case intLiteral.MatchString(def):
		return isinstance(name, "int", "an int"), true
	case floatLiteral.MatchString(def):
		return isinstance(name, "(int, float)", "a number"), true
	case def == "[]" || strings.HasPrefix(def, "[") && strings.HasSuffix(def, "]"):
		return isinstance(name, "list", "a list"), true
	case def == "{}":
		return isinstance(name, "dict", "a dict"), true
	case def == "()":
		return isinstance(name, "tuple", "a tuple"), true
	}
	if len(def) >= 2 && (def[0] == '"' || def[0] == '\'') && def[len(def)-1] == def[0] {
		return isinstance(name, "str", "a str"), true
	}
	return check{}, false
}

// numericOperands returns identifiers used directly as an operand of
// division, subtraction or power, outside nested scopes.
func numericOperands(body *sitter.Node, src []byte) map[string]bool {
	out := make(map[string]bool)
	var visit func(*sitter.Node)
	visit = func(n *sitter.Node) {
		switch n.Type() {
		case "function_definition", "class_definition", "lambda", "decorated_definition":
			return
		case "binary_operator":
			if op := n.ChildByFieldName("operator"); op != nil {
				switch lang.NodeText(op, src) {
				case "/", "//", "-", "**":
					for _, side := range []string{"left", "right"} {
						if c := n.ChildByFieldName(side); c != nil && c.Type() == "identifier" {
							out[lang.NodeText(c, src)] = true
						}
					}
				}
			}
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if c := n.NamedChild(i); c != nil {
				visit(c)
			}
		}
	}
	visit(body)
	return out
}
