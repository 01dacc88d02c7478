package heal

import (
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// edit replaces src[start:end] with text.
type edit struct {
	start, end int
	text       string
}

// applyEdits applies non-overlapping edits, last first so earlier offsets
// stay valid.
func applyEdits(src []byte, edits []edit) []byte {
	sorted := make([]edit, len(edits))
	copy(sorted, edits)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].start > sorted[j].start })

	out := make([]byte, len(src))
	copy(out, src)
	for _, e := range sorted {
		next := make([]byte, 0, len(out)-(e.end-e.start)+len(e.text))
		next = append(next, out[:e.start]...)
		next = append(next, e.text...)
		next = append(next, out[e.end:]...)
		out = next
	}
	return out
}

func lineStart(src []byte, off int) int {
	for off > 0 && src[off-1] != '\n' {
		off--
	}
	return off
}

func lineEnd(src []byte, off int) int {
	for off < len(src) && src[off] != '\n' {
		off++
	}
	return off
}

// indentAt returns the leading whitespace of the line holding off.
func indentAt(src []byte, off int) string {
	start := lineStart(src, off)
	i := start
	for i < len(src) && (src[i] == ' ' || src[i] == '\t') {
		i++
	}
	return string(src[start:i])
}

// ownLine reports whether only whitespace precedes off on its line.
func ownLine(src []byte, off int) bool {
	return strings.TrimSpace(string(src[lineStart(src, off):off])) == ""
}

// detectUnit guesses a file's indentation step from the first block
// opener followed by a deeper line.
func detectUnit(src []byte, fallback string) string {
	lines := strings.Split(string(src), "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || !strings.HasSuffix(trimmed, ":") || strings.HasPrefix(trimmed, "#") {
			continue
		}
		outer := leading(line)
		for _, next := range lines[i+1:] {
			if strings.TrimSpace(next) == "" {
				continue
			}
			inner := leading(next)
			if len(inner) > len(outer) && strings.HasPrefix(inner, outer) {
				return inner[len(outer):]
			}
			break
		}
	}
	return fallback
}

func leading(line string) string {
	return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
}

// snippet is generated code as (depth, text) lines.
type snippet []line

type line struct {
	depth int
	text  string
}

func (s *snippet) add(depth int, text string) {
	*s = append(*s, line{depth: depth, text: text})
}

// render writes each line on its own row at indent plus depth units.
func (s snippet) render(indent, unit string) string {
	var b strings.Builder
	for _, l := range s {
		b.WriteString(indent)
		b.WriteString(strings.Repeat(unit, l.depth))
		b.WriteString(l.text)
		b.WriteByte('\n')
	}
	return b.String()
}

// inline joins the lines with "; " for a single-line block.
func (s snippet) inline() string {
	parts := make([]string, len(s))
	for i, l := range s {
		parts[i] = l.text
	}
	return strings.Join(parts, "; ")
}

type span struct{ start, end int }

// multilineStrings returns the byte spans of string literals under n that
// cross a line boundary. Their content must never be re-indented.
func multilineStrings(n *sitter.Node) []span {
	var out []span
	var visit func(*sitter.Node)
	visit = func(c *sitter.Node) {
		if c.Type() == "string" {
			if c.StartPoint().Row != c.EndPoint().Row {
				out = append(out, span{int(c.StartByte()), int(c.EndByte())})
			}
			return
		}
		for i := 0; i < int(c.NamedChildCount()); i++ {
			if child := c.NamedChild(i); child != nil {
				visit(child)
			}
		}
	}
	visit(n)
	return out
}

// reindent prefixes every non-blank line of src[start:end] with unit,
// except lines that begin inside a multi-line string.
func reindent(src []byte, start, end int, unit string, strs []span) string {
	var b strings.Builder
	off := start
	for _, ln := range strings.SplitAfter(string(src[start:end]), "\n") {
		if ln == "" {
			continue
		}
		inString := false
		for _, s := range strs {
			if s.start < off && off < s.end {
				inString = true
				break
			}
		}
		if !inString && strings.TrimSpace(ln) != "" {
			b.WriteString(unit)
		}
		b.WriteString(ln)
		off += len(ln)
	}
	return b.String()
}

// insertBefore inserts s ahead of statement i. A statement sharing its line
// with a previous one is moved to a fresh line first.
func (t *target) insertBefore(i int, s snippet) edit {
	st := int(t.stmts[i].StartByte())
	if ownLine(t.src, st) {
		ls := lineStart(t.src, st)
		return edit{start: ls, end: ls, text: s.render(t.indent, t.unit)}
	}
	return edit{start: st, end: st, text: "\n" + s.render(t.indent, t.unit) + t.indent}
}

// appendAfterLast inserts s after the final statement of the body.
func (t *target) appendAfterLast(s snippet) edit {
	end := lineEnd(t.src, int(t.stmts[len(t.stmts)-1].EndByte()))
	text := s.render(t.indent, t.unit)
	return edit{start: end, end: end, text: "\n" + strings.TrimSuffix(text, "\n")}
}

// wrapRange returns the byte range of top-level statements from..to
// expanded to whole lines. It fails when another statement shares the
// first line, since wrapping would then drag it into the block.
func (t *target) wrapRange(from, to int) (int, int, bool) {
	first := int(t.stmts[from].StartByte())
	if !ownLine(t.src, first) {
		return 0, 0, false
	}
	return lineStart(t.src, first), lineEnd(t.src, int(t.stmts[to].EndByte())), true
}
