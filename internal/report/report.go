// Package report renders scans, sessions and archive listings.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/phobologic/codeheal/internal/archive"
	"github.com/phobologic/codeheal/internal/model"
	"github.com/phobologic/codeheal/internal/ranking"
	"github.com/phobologic/codeheal/internal/toon"
)

// Format is an output encoding.
type Format string

const (
	Text Format = "text"
	JSON Format = "json"
	YAML Format = "yaml"
	TOON Format = "toon"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case Text, JSON, YAML, TOON:
		return f, nil
	}
	return "", fmt.Errorf("unknown format %q (want text, json, yaml or toon)", s)
}

// Scan is the document written for a measurement without healing.
type Scan struct {
	Root     string                   `json:"root" yaml:"root"`
	Report   model.SystemHealthReport `json:"report" yaml:"report"`
	Failures []model.FileFailure      `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// Renderer writes documents in one format.
type Renderer struct {
	Format Format
	Color  bool
	// Top limits the files listed in text output. Zero lists all.
	Top int
	// Units lists every unit under its file in text output.
	Units bool
	// Diffs includes dry-run diffs in text output.
	Diffs bool
}

// Scan writes a scan result.
func (r Renderer) Scan(w io.Writer, s Scan) error {
	switch r.Format {
	case JSON:
		return writeJSON(w, s)
	case YAML:
		return writeYAML(w, s)
	case TOON:
		_, err := fmt.Fprintln(w, toon.EncodeReport(s.Root, s.Report))
		return err
	}
	p := r.printer(w)
	p.health(s.Report)
	p.failures(s.Failures)
	return p.err
}

// Session writes a finished session.
func (r Renderer) Session(w io.Writer, s *model.BreathSession) error {
	switch r.Format {
	case JSON:
		return writeJSON(w, s)
	case YAML:
		return writeYAML(w, s)
	case TOON:
		_, err := fmt.Fprintln(w, toon.EncodeSession(s))
		return err
	}
	p := r.printer(w)
	p.session(s)
	return p.err
}

// History writes an archive listing.
func (r Renderer) History(w io.Writer, entries []archive.Entry) error {
	switch r.Format {
	case JSON:
		return writeJSON(w, entries)
	case YAML:
		return writeYAML(w, entries)
	}
	p := r.printer(w)
	if len(entries) == 0 {
		p.printf("No archived sessions.\n")
		return p.err
	}
	tw := tabwriter.NewWriter(p, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tCYCLES\tHARMONY\tPHASE\tRHYTHM\t")
	for _, e := range entries {
		id := e.ID
		if e.DryRun {
			id += " (dry)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.4f → %.4f\t%s\t%s\t\n",
			id, e.StartedAt.Local().Format("2006-01-02 15:04"), e.Cycles,
			e.InitialHarmony, e.FinalHarmony, p.phase(e.Phase), e.Rhythm)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return p.err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// printer accumulates the first write error.
type printer struct {
	Renderer
	w   io.Writer
	err error

	bold, green, yellow, red, cyan, gray *color.Color
}

func (r Renderer) printer(w io.Writer) *printer {
	p := &printer{
		Renderer: r,
		w:        w,
		bold:     color.New(color.Bold),
		green:    color.New(color.FgGreen),
		yellow:   color.New(color.FgYellow),
		red:      color.New(color.FgRed),
		cyan:     color.New(color.FgCyan, color.Bold),
		gray:     color.New(color.FgHiBlack),
	}
	for _, c := range []*color.Color{p.bold, p.green, p.yellow, p.red, p.cyan, p.gray} {
		if r.Color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p *printer) Write(b []byte) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	n, err := p.w.Write(b)
	p.err = err
	return n, err
}

func (p *printer) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p, format, args...)
}

func (p *printer) phase(ph model.Phase) string {
	switch ph {
	case model.Autopoietic:
		return p.green.Sprint(ph)
	case model.Homeostatic:
		return p.yellow.Sprint(ph)
	default:
		return p.red.Sprint(ph)
	}
}

func (p *printer) score(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	switch {
	case v >= 0.7:
		return p.green.Sprint(s)
	case v >= 0.5:
		return p.yellow.Sprint(s)
	default:
		return p.red.Sprint(s)
	}
}

func (p *printer) profile(pr model.Profile) string {
	var parts []string
	for _, ds := range pr.Scores() {
		parts = append(parts, ds.Dimension.Letter()+" "+p.score(ds.Value))
	}
	return strings.Join(parts, "  ")
}

func (p *printer) health(r model.SystemHealthReport) {
	p.printf("%s %s  %s %.4f  %s %.4f\n",
		p.bold.Sprint("Phase:"), p.phase(r.Phase),
		p.bold.Sprint("Harmony:"), r.Harmony,
		p.bold.Sprint("Distance to autopoiesis:"), r.DistanceToAutopoiesis)
	p.printf("%s %s\n", p.bold.Sprint("Profile:"), p.profile(r.Profile))
	p.printf("%s %s (severity %.2f)\n", p.bold.Sprint("Deficit:"), r.Deficit.Dimension, r.Deficit.Severity)
	p.printf("%s %d  %s %d\n", p.bold.Sprint("Files:"), r.Files, p.bold.Sprint("Functions:"), r.Functions)
	if len(r.FileProfiles) == 0 {
		return
	}

	files := ranking.WorstFiles(r.FileProfiles, p.Top)
	p.printf("\n%s\n", p.cyan.Sprint("Weakest files"))
	tw := tabwriter.NewWriter(p, 0, 4, 2, ' ', 0)
	for _, f := range files {
		fmt.Fprintf(tw, "  %s\t%.4f\t%s\t%s\t\n", f.Path, f.Harmony, p.profile(f.Profile), p.gray.Sprint(f.Deficit.Dimension))
		if !p.Units {
			continue
		}
		units := append([]model.UnitProfile(nil), f.Units...)
		sort.SliceStable(units, func(i, j int) bool { return units[i].Harmony < units[j].Harmony })
		for _, u := range units {
			fmt.Fprintf(tw, "    %s:%d\t%.4f\t%s\t\t\n", u.QualifiedName, u.Line, u.Harmony, p.profile(u.Profile))
		}
	}
	_ = tw.Flush()
	if len(files) < len(r.FileProfiles) {
		p.printf("  %s\n", p.gray.Sprintf("... %d more", len(r.FileProfiles)-len(files)))
	}
}

func (p *printer) failures(fs []model.FileFailure) {
	if len(fs) == 0 {
		return
	}
	p.printf("\n%s\n", p.red.Sprintf("Failures (%d)", len(fs)))
	for _, f := range fs {
		where := f.Path
		if f.Unit != "" {
			where += ":" + f.Unit
		}
		tag := string(f.Kind)
		if f.Fatal {
			tag += ", file excluded"
		}
		p.printf("  %s [%s] %s\n", where, tag, f.Message)
	}
}

func (p *printer) session(s *model.BreathSession) {
	title := "Session " + s.ID
	if s.DryRun {
		title += " " + p.yellow.Sprint("(dry run)")
	}
	p.printf("%s\n", p.cyan.Sprint(title))
	if s.Cancelled {
		p.printf("%s\n", p.yellow.Sprintf("Cancelled after %d cycle(s)", len(s.Cycles)))
	}

	if len(s.Cycles) > 0 {
		tw := tabwriter.NewWriter(p, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CYCLE\tPHASE\tDIM\tCONSIDERED\tAPPLIED\tNOOP\tFAILED\tHARMONY\tDEFICIT\t")
		for _, c := range s.Cycles {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\t%d\t%.4f → %.4f\t%s\t\n",
				c.Index, c.Phase, c.Dimension.Letter(), c.UnitsConsidered, c.ModificationsApplied,
				c.NoOps, c.FailedAttempts, c.HarmonyBefore, c.Harmony, c.Deficit.Dimension)
		}
		_ = tw.Flush()
	}

	sum := s.Summary
	p.printf("\n%s harmony %.4f → %.4f, mean %.4f, variance %.6f, %s\n",
		p.bold.Sprint("Summary:"), sum.InitialHarmony, sum.FinalHarmony, sum.MeanHarmony, sum.HarmonyVariance, sum.Rhythm)
	p.printf("%s %d applied, %d failed, %d file(s) touched\n\n",
		p.bold.Sprint("Changes:"), sum.ModificationsApplied, sum.FailedAttempts, len(sum.FilesTouched))

	p.health(s.Report)
	p.failures(s.Failures)

	if p.Diffs && len(s.Diffs) > 0 {
		paths := make([]string, 0, len(s.Diffs))
		for path := range s.Diffs {
			paths = append(paths, path)
		}
		sort.Strings(paths)
		p.printf("\n")
		for _, path := range paths {
			p.printf("%s", s.Diffs[path])
		}
	}
}
