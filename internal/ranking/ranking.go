// Package ranking picks which units to heal and which files to show.
package ranking

import (
	"fmt"
	"sort"
	"strings"

	"github.com/phobologic/codeheal/internal/model"
	"github.com/phobologic/codeheal/internal/score"
)

// Mode decides which units a cycle considers.
type Mode string

const (
	// BelowFloor selects units scoring under the dimension's floor.
	BelowFloor Mode = "below-floor"
	// All selects every unit.
	All Mode = "all"
)

// ParseMode validates a selection mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case BelowFloor, All:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown selection mode %q (want %q or %q)", s, BelowFloor, All)
}

// Selector chooses units for a cycle.
type Selector struct {
	Mode    Mode
	Floors  map[model.Dimension]float64
	Scoring score.Options
	// MaxPerFile caps units per file per cycle. Zero means no cap.
	MaxPerFile int
}

// Candidate is a unit selected for healing with its current score.
type Candidate struct {
	Unit  model.FunctionUnit
	Score float64
}

// Select returns the units of su to heal on dim, weakest first. Ties keep
// source order.
func (s Selector) Select(su *model.SourceUnit, dim model.Dimension) []Candidate {
	floor, ok := s.Floors[dim]
	if !ok {
		floor = 1
	}
	var out []Candidate
	for _, fn := range su.Functions {
		v := score.Score(fn, s.Scoring).Score(dim)
		if s.Mode != All && v >= floor {
			continue
		}
		out = append(out, Candidate{Unit: fn, Score: v})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score < out[j].Score })
	if s.MaxPerFile > 0 && len(out) > s.MaxPerFile {
		out = out[:s.MaxPerFile]
	}
	return out
}

// WorstFiles returns the n files with the lowest harmony. If n is <= 0 or
// >= len(files), all files are returned in that order.
func WorstFiles(files []model.FileProfile, n int) []model.FileProfile {
	sorted := make([]model.FileProfile, len(files))
	copy(sorted, files)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Harmony != sorted[j].Harmony {
			return sorted[i].Harmony < sorted[j].Harmony
		}
		return sorted[i].Path < sorted[j].Path
	})
	if n <= 0 || n >= len(sorted) {
		return sorted
	}
	return sorted[:n]
}

// FilterByFile keeps files whose path contains substr (case-insensitive).
func FilterByFile(files []model.FileProfile, substr string) []model.FileProfile {
	lower := strings.ToLower(substr)
	var out []model.FileProfile
	for i := range files {
		if strings.Contains(strings.ToLower(files[i].Path), lower) {
			out = append(out, files[i])
		}
	}
	return out
}

// FilterByUnit keeps units whose qualified name contains substr
// (case-insensitive), and the files that hold them. File aggregates are
// left as measured so the filter only narrows what is displayed.
func FilterByUnit(files []model.FileProfile, substr string) []model.FileProfile {
	lower := strings.ToLower(substr)
	var out []model.FileProfile
	for i := range files {
		var units []model.UnitProfile
		for _, u := range files[i].Units {
			if strings.Contains(strings.ToLower(u.QualifiedName), lower) {
				units = append(units, u)
			}
		}
		if len(units) == 0 {
			continue
		}
		fp := files[i]
		fp.Units = units
		out = append(out, fp)
	}
	return out
}
