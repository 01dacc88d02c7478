package heal

import (
	"context"
	"fmt"
	"strings"

	"github.com/phobologic/codeheal/internal/model"
	"github.com/phobologic/codeheal/internal/parse"
)

type resilienceStrategy struct {
	h *Healer
}

func (s *resilienceStrategy) Dimension() model.Dimension { return model.Resilience }

// exceptionOrder fixes the order in which caught types are listed.
var exceptionOrder = []string{"ArithmeticError", "TypeError", "ValueError", "OSError", "RuntimeError"}

var exceptionsByKind = map[model.RiskKind][]string{
	model.RiskArithmetic: {"ArithmeticError"},
	model.RiskConversion: {"TypeError", "ValueError"},
	model.RiskIO:         {"OSError"},
	model.RiskExternal:   {"OSError", "ValueError", "RuntimeError"},
}

// Generate wraps the statements holding uncontained risky operations in a
// try statement whose handler names the specific exceptions they raise
// and logs before re-raising.
func (s *resilienceStrategy) Generate(ctx context.Context, su *model.SourceUnit, fn model.FunctionUnit) (*model.Modification, error) {
	open := 0
	for _, op := range fn.Body.Risky {
		if !op.Contained {
			open++
		}
	}
	if open == 0 {
		return nil, nil
	}

	var caught string
	return s.h.rewrite(ctx, model.Resilience, su, fn, func() string {
		return fmt.Sprintf("contain %d risky operation(s) with %s", open, caught)
	}, func(t *target) ([]edit, error) {
		ops := parse.RiskyOps(t.stmts, t.entry, t.src, t.module, s.h.opts.Parse)
		first, last := -1, -1
		kinds := make(map[model.RiskKind]bool)
		for _, op := range ops {
			if op.Contained {
				continue
			}
			if first < 0 || op.Statement < first {
				first = op.Statement
			}
			last = max(last, op.Statement)
			kinds[op.Kind] = true
		}
		if first < 0 {
			return nil, nil
		}
		start, end, ok := t.wrapRange(first, last)
		if !ok {
			return nil, nil
		}

		caught = exceptionTuple(kinds)
		var handler snippet
		logExpr, needsImport := logTarget(t.module)
		if needsImport {
			handler.add(0, "import logging")
		}
		handler.add(0, fmt.Sprintf(`%s.exception("%s failed", extra={"event": "error", "function": "%s"})`, logExpr, fn.QualifiedName, fn.QualifiedName))

		clause := "except " + caught + ":"
		switch s.h.opts.ResilienceMode {
		case Wrap:
			clause = "except " + caught + " as exc:"
			handler.add(0, fmt.Sprintf(`raise RuntimeError(f"%s failed: {exc}") from exc`, fn.QualifiedName))
		case ReturnNone:
			handler.add(0, "return None")
		default:
			handler.add(0, "raise")
		}

		var b strings.Builder
		b.WriteString(t.indent + "try:\n")
		b.WriteString(reindent(t.src, start, end, t.unit, multilineStrings(t.def)))
		b.WriteString("\n" + t.indent + clause + "\n")
		b.WriteString(strings.TrimSuffix(handler.render(t.indent+t.unit, t.unit), "\n"))
		return []edit{{start: start, end: end, text: b.String()}}, nil
	})
}

// exceptionTuple lists the exceptions for kinds, deduplicated, as a single
// name or a parenthesized tuple.
func exceptionTuple(kinds map[model.RiskKind]bool) string {
	want := make(map[string]bool)
	for kind := range kinds {
		for _, e := range exceptionsByKind[kind] {
			want[e] = true
		}
	}
	var names []string
	for _, e := range exceptionOrder {
		if want[e] {
			names = append(names, e)
		}
	}
	if len(names) == 1 {
		return names[0]
	}
	return "(" + strings.Join(names, ", ") + ")"
}
