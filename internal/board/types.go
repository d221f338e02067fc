// Package board holds the leaderboard domain types shared by the collectors,
// the diff engine and the history store, plus the last-run snapshot file.
package board

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Snapshot maps a source name to its ordered leaderboard entries for one run.
type Snapshot map[string][]Entry

// Details is the opaque metric bag attached to an entry by its upstream
// source. Values are whatever JSON carries (string, number, bool, null,
// nested map/array); the core only ever compares them for equality.
type Details map[string]any

// Entry is one leaderboard row. Score is a pointer so a source that reports
// no usable score (or a corrupt state file) yields nil instead of a fake 0.
type Entry struct {
	Model   string   `json:"model"`
	Rank    int      `json:"rank"`
	Score   *float64 `json:"score"`
	Details Details  `json:"details,omitempty"`
}

// UnmarshalJSON tolerates sloppy upstream data: scores and ranks arrive as
// numbers or numeric strings, and anything non-numeric degrades to the zero
// value instead of failing the whole snapshot. Callers skip entries with an
// empty model or rank < 1.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw struct {
		Model   string          `json:"model"`
		Rank    json.RawMessage `json:"rank"`
		Score   json.RawMessage `json:"score"`
		Details Details         `json:"details"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Model = raw.Model
	e.Details = raw.Details
	e.Rank = 0
	e.Score = nil
	if f, ok := coerceFloat(raw.Rank); ok {
		e.Rank = int(f)
	}
	if f, ok := coerceFloat(raw.Score); ok {
		e.Score = &f
	}
	return nil
}

func coerceFloat(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// ScoreValue returns the score and whether one is present.
func (e Entry) ScoreValue() (float64, bool) {
	if e.Score == nil {
		return 0, false
	}
	return *e.Score, true
}

// Float is a convenience for building entries literally (tests, collectors).
func Float(v float64) *float64 { return &v }

// Sources returns the snapshot's source names in deterministic order.
// Go maps iterate randomly; sorted order is the stable substitute for the
// insertion order the on-disk JSON implies.
func (s Snapshot) Sources() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
