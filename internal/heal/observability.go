package heal

import (
	"context"
	"fmt"
	"strings"

	"github.com/phobologic/codeheal/internal/model"
	"github.com/phobologic/codeheal/internal/parse"
)

type observabilityStrategy struct {
	h *Healer
}

func (s *observabilityStrategy) Dimension() model.Dimension { return model.Observability }

// Generate logs every unlogged branch, then adds an entry log after the
// entry region and a finally block that logs on exit.
func (s *observabilityStrategy) Generate(ctx context.Context, su *model.SourceUnit, fn model.FunctionUnit) (*model.Modification, error) {
	o := fn.Observation
	if o.EntryLogged && o.ExitLogged && o.BranchesLogged >= o.Branches {
		return nil, nil
	}

	var added []string
	summary := func() string { return "log " + strings.Join(added, ", ") }
	return s.h.rewrite(ctx, model.Observability, su, fn, summary, func(t *target) ([]edit, error) {
		var edits []edit
		for _, b := range parse.Branches(t.stmts[t.entry:], t.src) {
			if b.Logged {
				continue
			}
			log := logSnippet(t.module, fn.QualifiedName, fmt.Sprintf("branch %s@%d", b.Kind, b.Line), "branch")
			st := parse.Statements(b.Block)
			if len(st) == 0 {
				continue
			}
			at := int(st[0].StartByte())
			if ownLine(t.src, at) {
				ls := lineStart(t.src, at)
				edits = append(edits, edit{start: ls, end: ls, text: log.render(indentAt(t.src, at), t.unit)})
			} else {
				edits = append(edits, edit{start: at, end: at, text: log.inline() + "; "})
			}
		}
		if len(edits) > 0 {
			added = append(added, fmt.Sprintf("%d branch(es)", len(edits)))
		}
		return edits, nil
	}, func(t *target) ([]edit, error) {
		obs := parse.Observe(t.stmts, t.entry, t.src)
		enter := logSnippet(t.module, fn.QualifiedName, "enter", "enter")
		exit := logSnippet(t.module, fn.QualifiedName, "exit", "exit")

		switch {
		case obs.EntryLogged && obs.ExitLogged:
			return nil, nil
		case obs.ExitLogged:
			added = append(added, "entry")
			if t.entry < len(t.stmts) {
				return []edit{t.insertBefore(t.entry, enter)}, nil
			}
			return []edit{t.appendAfterLast(enter)}, nil
		}

		start, end, ok := t.wrapRange(t.entry, len(t.stmts)-1)
		if !ok {
			return nil, nil
		}
		var b strings.Builder
		if !obs.EntryLogged {
			added = append(added, "entry")
			b.WriteString(enter.render(t.indent, t.unit))
		}
		added = append(added, "exit")
		b.WriteString(t.indent + "try:\n")
		b.WriteString(reindent(t.src, start, end, t.unit, multilineStrings(t.def)))
		b.WriteString("\n" + t.indent + "finally:\n")
		b.WriteString(strings.TrimSuffix(exit.render(t.indent+t.unit, t.unit), "\n"))
		return []edit{{start: start, end: end, text: b.String()}}, nil
	})
}

// logSnippet builds a debug call carrying structured extra fields,
// preceded by a local import when the module has no logging import.
func logSnippet(m model.ModuleInfo, function, what, event string) snippet {
	expr, needsImport := logTarget(m)
	var s snippet
	if needsImport {
		s.add(0, "import logging")
	}
	s.add(0, fmt.Sprintf(`%s.debug("%s: %s", extra={"event": "%s", "function": "%s"})`, expr, function, what, event, function))
	return s
}
