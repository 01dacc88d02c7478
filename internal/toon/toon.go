// Package toon implements TOON (Token-Oriented Object Notation) encoding of
// health reports and sessions.
package toon

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/phobologic/codeheal/internal/model"
)

var (
	needsQuoting = regexp.MustCompile(`[,:"\\{}\[\]]`)
	looksNumeric = regexp.MustCompile(`^-?(?:0|[1-9]\d*)(?:\.\d+)?$`)
	keywords     = map[string]struct{}{
		"true":  {},
		"false": {},
		"null":  {},
	}
)

// EncodeReport converts a health report into TOON format.
func EncodeReport(root string, r model.SystemHealthReport) string {
	return strings.Join(reportParts(root, r), "\n")
}

// EncodeSession converts a finished session into TOON format. The final
// report follows the session tables.
func EncodeSession(s *model.BreathSession) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("session: %s", encodeValue(s.ID)))
	parts = append(parts, fmt.Sprintf("dry_run: %t", s.DryRun))
	parts = append(parts, fmt.Sprintf("cancelled: %t", s.Cancelled))

	sum := s.Summary
	parts = append(parts, formatTabular("summary",
		[]string{"cycles", "initial", "final", "mean", "variance", "rhythm", "applied", "failed", "files"},
		[][]string{{
			strconv.Itoa(sum.Cycles),
			num(sum.InitialHarmony),
			num(sum.FinalHarmony),
			num(sum.MeanHarmony),
			fmt.Sprintf("%.6f", sum.HarmonyVariance),
			string(sum.Rhythm),
			strconv.Itoa(sum.ModificationsApplied),
			strconv.Itoa(sum.FailedAttempts),
			strconv.Itoa(len(sum.FilesTouched)),
		}}))

	var cycleRows [][]string
	for i := range s.Cycles {
		c := &s.Cycles[i]
		cycleRows = append(cycleRows, []string{
			strconv.Itoa(c.Index),
			string(c.Phase),
			c.Dimension.String(),
			strconv.Itoa(c.UnitsConsidered),
			strconv.Itoa(c.ModificationsApplied),
			strconv.Itoa(c.NoOps),
			strconv.Itoa(c.FailedAttempts),
			num(c.HarmonyBefore),
			num(c.Harmony),
			c.Deficit.Dimension.String(),
		})
	}
	parts = append(parts, formatTabular("cycles",
		[]string{"index", "phase", "dimension", "considered", "applied", "noops", "failed", "before", "after", "deficit"},
		cycleRows))

	if len(s.Failures) > 0 {
		var failRows [][]string
		for i := range s.Failures {
			f := &s.Failures[i]
			failRows = append(failRows, []string{
				f.Path,
				string(f.Kind),
				f.Unit,
				strconv.Itoa(f.Cycle),
				severity(f),
				f.Message,
			})
		}
		parts = append(parts, formatTabular("failures", []string{"path", "kind", "unit", "cycle", "severity", "message"}, failRows))
	}

	parts = append(parts, reportParts(s.Root, s.Report)...)
	return strings.Join(parts, "\n")
}

func reportParts(root string, r model.SystemHealthReport) []string {
	var parts []string

	parts = append(parts, fmt.Sprintf("root: %s", encodeValue(root)))
	parts = append(parts, fmt.Sprintf("phase: %s", r.Phase))
	parts = append(parts, fmt.Sprintf("harmony: %s", num(r.Harmony)))
	parts = append(parts, fmt.Sprintf("deficit: %s", r.Deficit.Dimension))
	parts = append(parts, fmt.Sprintf("distance: %s", num(r.DistanceToAutopoiesis)))

	var scoreRows [][]string
	for _, ds := range r.Profile.Scores() {
		scoreRows = append(scoreRows, []string{ds.Dimension.String(), ds.Dimension.Letter(), num(ds.Value)})
	}
	parts = append(parts, formatTabular("profile", []string{"dimension", "letter", "score"}, scoreRows))

	var fileRows [][]string
	for i := range r.FileProfiles {
		fp := &r.FileProfiles[i]
		fileRows = append(fileRows, append([]string{fp.Path, num(fp.Harmony)}, append(scores(fp.Profile), fp.Deficit.Dimension.String())...))
	}
	parts = append(parts, formatTabular("files",
		[]string{"path", "harmony", "care", "validation", "resilience", "observability", "deficit"}, fileRows))

	var unitRows [][]string
	for i := range r.FileProfiles {
		fp := &r.FileProfiles[i]
		for j := range fp.Units {
			u := &fp.Units[j]
			unitRows = append(unitRows, append([]string{
				fp.Path,
				u.QualifiedName,
				strconv.Itoa(u.Line),
				strconv.Itoa(u.Complexity),
				num(u.Harmony),
			}, scores(u.Profile)...))
		}
	}
	parts = append(parts, formatTabular("units",
		[]string{"file", "name", "line", "complexity", "harmony", "care", "validation", "resilience", "observability"}, unitRows))

	return parts
}

func severity(f *model.FileFailure) string {
	if f.Fatal {
		return "fatal"
	}
	return "recoverable"
}

func scores(p model.Profile) []string {
	return []string{num(p.Care), num(p.Validation), num(p.Resilience), num(p.Observability)}
}

func num(v float64) string {
	return fmt.Sprintf("%.4f", v)
}

func formatTabular(name string, columns []string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%d]{%s}:", name, len(rows), strings.Join(columns, ","))
	for _, row := range rows {
		encoded := make([]string, len(row))
		for i, cell := range row {
			encoded[i] = encodeValue(cell)
		}
		fmt.Fprintf(&b, "\n  %s", strings.Join(encoded, ","))
	}
	return b.String()
}

func encodeValue(value string) string {
	if value == "" {
		return `""`
	}

	if value != strings.TrimSpace(value) {
		return quote(value)
	}

	if strings.ContainsAny(value, "\n\r\t") {
		return quote(value)
	}

	if _, ok := keywords[strings.ToLower(value)]; ok {
		return quote(value)
	}

	if looksNumeric.MatchString(value) {
		return value
	}

	if needsQuoting.MatchString(value) {
		return quote(value)
	}

	if strings.HasPrefix(value, "-") {
		return quote(value)
	}

	return value
}

func quote(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	escaped = strings.ReplaceAll(escaped, "\r", `\r`)
	escaped = strings.ReplaceAll(escaped, "\t", `\t`)
	return `"` + escaped + `"`
}
