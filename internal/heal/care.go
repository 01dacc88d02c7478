package heal

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/phobologic/codeheal/internal/lang"
	"github.com/phobologic/codeheal/internal/model"
	"github.com/phobologic/codeheal/internal/parse"
	"github.com/phobologic/codeheal/internal/score"
)

type careStrategy struct {
	h *Healer
}

func (s *careStrategy) Dimension() model.Dimension { return model.Care }

// Generate adds a docstring, or completes the existing one with a summary,
// missing parameter entries and a Returns section.
func (s *careStrategy) Generate(ctx context.Context, su *model.SourceUnit, fn model.FunctionUnit) (*model.Modification, error) {
	if score.Care(fn, s.h.opts.Scoring) >= s.h.opts.CareAdequacy {
		return nil, nil
	}
	action := "add docstring"
	return s.h.rewrite(ctx, model.Care, su, fn, func() string { return action }, func(t *target) ([]edit, error) {
		doc := parse.Docstring(t.stmts)
		if doc == nil {
			text := synthesizeDoc(fn)
			return []edit{t.insertBefore(0, snippet{{text: docLiteral(text, "", t.indent)}})}, nil
		}

		existing := parse.DocstringText(doc, t.src)
		if strings.TrimSpace(existing) == "" {
			existing = ""
		}
		var text string
		if existing == "" {
			text = synthesizeDoc(fn)
		} else {
			text = completeDoc(existing, fn, s.h.opts.Scoring.Care)
		}
		if text == existing {
			return nil, nil
		}
		action = "complete docstring"
		prefix, _, _ := parse.SplitStringLiteral(lang.NodeText(doc, t.src))
		if doc.Type() == "concatenated_string" {
			prefix = ""
		}
		return []edit{{
			start: int(doc.StartByte()),
			end:   int(doc.EndByte()),
			text:  docLiteral(text, keepPrefix(prefix), t.indent),
		}}, nil
	})
}

// keepPrefix retains the raw and unicode markers of a string prefix.
func keepPrefix(prefix string) string {
	var b strings.Builder
	for _, r := range prefix {
		switch r {
		case 'r', 'R', 'u', 'U':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// docLiteral formats text as a triple-quoted literal whose continuation
// lines sit at indent, so that cleaning it yields text again.
func docLiteral(text, prefix, indent string) string {
	quote := `"""`
	if strings.Contains(text, `"""`) {
		quote = `'''`
	}
	lines := strings.Split(text, "\n")
	if len(lines) == 1 && !strings.HasSuffix(text, quote[:1]) {
		return prefix + quote + text + quote
	}
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(quote)
	b.WriteString(lines[0])
	b.WriteByte('\n')
	for _, l := range lines[1:] {
		if l != "" {
			b.WriteString(indent)
			b.WriteString(l)
		}
		b.WriteByte('\n')
	}
	b.WriteString(indent)
	b.WriteString(quote)
	return b.String()
}

// synthesizeDoc builds a docstring from the function's name, parameters
// and return behavior.
func synthesizeDoc(fn model.FunctionUnit) string {
	lines := []string{summaryLine(fn.Name)}
	if params := fn.CheckableParams(); len(params) > 0 {
		lines = append(lines, "", "Args:")
		for _, p := range params {
			lines = append(lines, "    "+paramEntry(p))
		}
	}
	if fn.ReturnsValue() {
		lines = append(lines, "", "Returns:", "    "+returnsEntry(fn))
	}
	return strings.Join(lines, "\n")
}

var sectionHeaders = []string{"Args:", "Arguments:", "Parameters:", "Params:"}

// completeDoc returns existing with whatever a synthesized docstring would
// add. Applying it to its own output returns the output unchanged.
func completeDoc(existing string, fn model.FunctionUnit, w score.CareWeights) string {
	lines := strings.Split(existing, "\n")

	var missing []string
	for _, p := range fn.CheckableParams() {
		if !score.Mentions(existing, p.Name) {
			missing = append(missing, "    "+paramEntry(p))
		}
	}
	if len(missing) > 0 {
		header := -1
		for i, l := range lines {
			for _, h := range sectionHeaders {
				if strings.TrimSpace(l) == h {
					header = i
				}
			}
		}
		if header >= 0 {
			at := header + 1
			if at < len(lines) && strings.Trim(lines[at], "- ") == "" && strings.Contains(lines[at], "-") {
				at++
			}
			lines = append(lines[:at], append(missing, lines[at:]...)...)
		} else {
			lines = append(lines, "", "Args:")
			lines = append(lines, missing...)
		}
	}

	if fn.ReturnsValue() && !hasReturnsSection(lines) {
		lines = append(lines, "", "Returns:", "    "+returnsEntry(fn))
	}

	text := strings.Join(lines, "\n")
	summary := summaryLine(fn.Name)
	target := w.MinWords + w.WordsPerParam*float64(len(fn.CheckableParams()))
	if float64(len(strings.Fields(text))) < target && !strings.HasPrefix(text, summary) {
		text = summary + "\n\n" + text
	}
	return text
}

func hasReturnsSection(lines []string) bool {
	for _, l := range lines {
		t := strings.TrimSpace(l)
		if strings.HasPrefix(t, "Returns") || strings.HasPrefix(t, "Return:") || strings.HasPrefix(t, "Yields") || strings.HasPrefix(t, ":return") {
			return true
		}
	}
	return false
}

func paramEntry(p model.Param) string {
	var b strings.Builder
	b.WriteString(p.Name)
	typ := docSafe(p.Type)
	switch {
	case typ != "" && p.HasDefault:
		fmt.Fprintf(&b, " (%s, optional)", typ)
	case typ != "":
		fmt.Fprintf(&b, " (%s)", typ)
	case p.HasDefault:
		b.WriteString(" (optional)")
	}
	fmt.Fprintf(&b, ": The %s value.", strings.Join(words(p.Name), " "))
	if p.HasDefault {
		def := docSafe(p.Default)
		if len(def) > 40 {
			def = def[:37] + "..."
		}
		fmt.Fprintf(&b, " Defaults to %s.", def)
	}
	return b.String()
}

func returnsEntry(fn model.FunctionUnit) string {
	what := "The result of " + strings.Join(words(fn.Name), " ") + "."
	if rt := docSafe(fn.ReturnType); rt != "" {
		return rt + ": " + what
	}
	return what
}

// docSafe collapses s onto one line and removes characters that would
// break out of or alter a docstring literal.
func docSafe(s string) string {
	s = lang.CollapseWhitespace(s)
	s = strings.ReplaceAll(s, `\`, "/")
	s = strings.ReplaceAll(s, `"`, "'")
	return s
}

var verbs = map[string]string{
	"get": "Return", "fetch": "Fetch", "load": "Load", "read": "Read",
	"save": "Save", "write": "Write", "store": "Store", "set": "Set",
	"create": "Create", "make": "Create", "build": "Build", "new": "Create",
	"compute": "Compute", "calculate": "Calculate", "calc": "Calculate",
	"parse": "Parse", "validate": "Validate", "check": "Check",
	"update": "Update", "delete": "Delete", "remove": "Remove", "add": "Add",
	"find": "Find", "search": "Search", "handle": "Handle", "process": "Process",
	"run": "Run", "start": "Start", "stop": "Stop", "send": "Send",
	"format": "Format", "render": "Render", "convert": "Convert", "to": "Convert to",
	"apply": "Apply", "register": "Register", "reset": "Reset", "clear": "Clear",
	"open": "Open", "close": "Close", "merge": "Merge", "sort": "Sort",
}

var predicates = map[string]bool{"is": true, "has": true, "can": true, "should": true}

// summaryLine derives a one-sentence summary of at least three words from
// a function name.
func summaryLine(name string) string {
	w := words(name)
	if len(w) == 0 {
		return "Handle the operation."
	}
	if len(w) == 1 && w[0] == "init" {
		return "Initialize the instance."
	}
	head, rest := w[0], strings.Join(w[1:], " ")
	if predicates[head] {
		if rest == "" {
			rest = "applies"
		}
		return fmt.Sprintf("Return whether the object %s %s.", head, rest)
	}
	if verb, ok := verbs[head]; ok {
		if rest == "" {
			rest = "value"
		}
		return fmt.Sprintf("%s the %s.", verb, rest)
	}
	return fmt.Sprintf("Handle the %s operation.", strings.Join(w, " "))
}

// words splits snake_case and camelCase identifiers into lower-case words.
func words(name string) []string {
	var out []string
	for _, part := range strings.Split(name, "_") {
		if part == "" {
			continue
		}
		var cur []rune
		runes := []rune(part)
		for i, r := range runes {
			if i > 0 && unicode.IsUpper(r) && !unicode.IsUpper(runes[i-1]) {
				out = append(out, strings.ToLower(string(cur)))
				cur = cur[:0]
			}
			cur = append(cur, r)
		}
		out = append(out, strings.ToLower(string(cur)))
	}
	return out
}
