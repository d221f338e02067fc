// Package diff compares two leaderboard snapshots and reports the movement
// that survives noise suppression.
package diff

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"rankwatch/internal/board"
	"rankwatch/internal/canonical"
)

// Options holds the suppression tuning. The defaults are empirically tuned
// against real feeds; they are plain fields so deployments can override them
// from config instead of patching code.
type Options struct {
	// MaxRank bounds the watched slice of each leaderboard. Entries below
	// it are out of scope entirely.
	MaxRank int
	// MinRankDelta: moves smaller than this are suppressible.
	MinRankDelta int
	// RankFloor: suppression of small moves only applies when both old and
	// new rank sit below this floor.
	RankFloor int
	// CascadeTolerance: a model whose new rank is within this distance of
	// the rank explained by insertions above it moved mechanically, not on
	// merit.
	CascadeTolerance int
	// ScoreThresholds maps source name to the minimum |score delta| worth
	// reporting. Sources absent from the map use DefaultScoreThreshold.
	ScoreThresholds       map[string]float64
	DefaultScoreThreshold float64
}

func defaultScoreThresholds() map[string]float64 {
	return map[string]float64{
		"arena_text":          20.0,
		"arena_vision":        20.0,
		"arena_code":          20.0,
		"llmstats":            20.0,
		"vellum":              2.0,
		"artificial_analysis": 2.0,
		"openrouter":          0.5, // usage-share percentage, not Elo
	}
}

func (o Options) withDefaults() Options {
	if o.MaxRank <= 0 {
		o.MaxRank = 20
	}
	if o.MinRankDelta <= 0 {
		o.MinRankDelta = 2
	}
	if o.RankFloor <= 0 {
		o.RankFloor = 5
	}
	if o.CascadeTolerance <= 0 {
		o.CascadeTolerance = 1
	}
	if o.ScoreThresholds == nil {
		o.ScoreThresholds = defaultScoreThresholds()
	}
	if o.DefaultScoreThreshold <= 0 {
		o.DefaultScoreThreshold = 20.0
	}
	return o
}

const (
	EntryTypeVariant   = "variant"
	EntryTypeNewFamily = "new_family"
)

// NewEntry is a model that appeared in the watched slice this run.
type NewEntry struct {
	Source    string        `json:"source"`
	Model     string        `json:"model"`
	Rank      int           `json:"rank"`
	Score     *float64      `json:"score"`
	Details   board.Details `json:"details,omitempty"`
	EntryType string        `json:"entry_type"`
	VariantOf string        `json:"variant_of,omitempty"`
	// Context notes which model previously held this rank number. It is an
	// informational displacement hint, not a causal claim.
	Context string `json:"context"`
}

// RankChange is a surviving (non-mechanical) rank move.
type RankChange struct {
	Source  string        `json:"source"`
	Model   string        `json:"model"`
	OldRank int           `json:"old_rank"`
	NewRank int           `json:"new_rank"`
	Score   *float64      `json:"score"`
	Details board.Details `json:"details,omitempty"`
	// Change is old minus new: positive means the model climbed.
	Change  int    `json:"change"`
	Context string `json:"context"`
}

// ScoreChange is a score delta that beat the per-source threshold.
type ScoreChange struct {
	Source   string  `json:"source"`
	Model    string  `json:"model"`
	OldScore float64 `json:"old_score"`
	NewScore float64 `json:"new_score"`
	Diff     float64 `json:"diff"`
}

// Report aggregates the run's changes across all sources, in source order
// then per-source item order. It is ephemeral: produced once per run, never
// persisted.
type Report struct {
	NewEntries   []NewEntry    `json:"new_entries"`
	RankChanges  []RankChange  `json:"rank_changes"`
	ScoreChanges []ScoreChange `json:"score_changes"`
	Summary      []string      `json:"summary"`
}

// Empty reports whether nothing survived suppression.
func (r *Report) Empty() bool {
	return r == nil || (len(r.NewEntries) == 0 && len(r.RankChanges) == 0 && len(r.ScoreChanges) == 0)
}

type Engine struct {
	opts Options
	log  zerolog.Logger
}

func New(opts Options, log zerolog.Logger) *Engine {
	return &Engine{opts: opts.withDefaults(), log: log}
}

// Diff compares current against previous. It returns nil iff previous is
// empty: the first run has no baseline, and nil must not be read as "no
// changes".
func (e *Engine) Diff(current, previous board.Snapshot) *Report {
	if len(previous) == 0 {
		e.log.Info().Msg("no previous state, first run")
		return nil
	}

	report := &Report{}
	for _, source := range current.Sources() {
		e.analyzeSource(report, source, current[source], previous[source])
	}
	return report
}

func (e *Engine) analyzeSource(report *Report, source string, current, previous []board.Entry) {
	prevIdx := make(map[string]board.Entry, len(previous))
	for _, it := range previous {
		if it.Model != "" {
			prevIdx[it.Model] = it
		}
	}

	watched := make([]board.Entry, 0, len(current))
	for _, it := range current {
		if !watchable(it, e.opts.MaxRank) {
			continue
		}
		watched = append(watched, it)
	}

	// New entries first: cascade suppression needs to know where this run's
	// debuts landed before rank moves can be judged.
	var newRanks []int
	for _, it := range watched {
		if _, known := prevIdx[it.Model]; known {
			continue
		}
		ne := e.newEntry(source, it, watched, previous, prevIdx)
		newRanks = append(newRanks, it.Rank)
		report.NewEntries = append(report.NewEntries, ne)
		report.Summary = append(report.Summary, fmt.Sprintf("[%s] NEW: %s at #%d", source, it.Model, it.Rank))
	}

	for _, it := range watched {
		prev, known := prevIdx[it.Model]
		if !known {
			continue
		}
		if rc, ok := e.rankChange(source, it, prev, newRanks); ok {
			report.RankChanges = append(report.RankChanges, rc)
			report.Summary = append(report.Summary,
				fmt.Sprintf("[%s] %s %s to #%d (was #%d)", source, it.Model, direction(rc.Change), rc.NewRank, rc.OldRank))
		}
		if sc, ok := e.scoreChange(source, it, prev); ok {
			report.ScoreChanges = append(report.ScoreChanges, sc)
		}
	}
}

// watchable filters out placeholder names, malformed ranks and everything
// below the watched slice.
func watchable(it board.Entry, maxRank int) bool {
	switch strings.ToLower(it.Model) {
	case "", "none", "unknown", "null":
		return false
	}
	return it.Rank >= 1 && it.Rank <= maxRank
}

func (e *Engine) newEntry(source string, it board.Entry, watched, previous []board.Entry, prevIdx map[string]board.Entry) NewEntry {
	ne := NewEntry{
		Source:    source,
		Model:     it.Model,
		Rank:      it.Rank,
		Score:     it.Score,
		Details:   it.Details,
		EntryType: EntryTypeNewFamily,
		Context:   fmt.Sprintf("Debuted at #%d", it.Rank),
	}

	// Variant check: if stripping the qualifier tokens leaves the stem of a
	// model that is tracked in both lists, this is a rename/variant, not a
	// genuinely new family.
	stem := canonical.Normalize(it.Model)
	for _, other := range watched {
		if other.Model == it.Model {
			continue
		}
		if _, tracked := prevIdx[other.Model]; !tracked {
			continue
		}
		if canonical.Normalize(other.Model) == stem {
			ne.EntryType = EntryTypeVariant
			ne.VariantOf = other.Model
			break
		}
	}

	if displaced := modelAtRank(previous, it.Rank); displaced != "" {
		ne.Context += fmt.Sprintf(", likely pushing %s down.", displaced)
	}
	return ne
}

func modelAtRank(list []board.Entry, rank int) string {
	for _, it := range list {
		if it.Rank == rank {
			return it.Model
		}
	}
	return ""
}

func (e *Engine) rankChange(source string, it, prev board.Entry, newRanks []int) (RankChange, bool) {
	if it.Rank == prev.Rank {
		return RankChange{}, false
	}

	// Insertions above a model push it down mechanically. expected is where
	// the model would sit if this run's debuts were the only movement; a
	// landing within tolerance of that is pure insertion noise.
	inserted := 0
	for _, r := range newRanks {
		if r <= prev.Rank {
			inserted++
		}
	}
	expected := prev.Rank + inserted
	if abs(it.Rank-expected) <= e.opts.CascadeTolerance {
		return RankChange{}, false
	}

	delta := prev.Rank - it.Rank // positive = climbed
	if abs(delta) < e.opts.MinRankDelta && it.Rank > e.opts.RankFloor && prev.Rank > e.opts.RankFloor {
		return RankChange{}, false
	}

	return RankChange{
		Source:  source,
		Model:   it.Model,
		OldRank: prev.Rank,
		NewRank: it.Rank,
		Score:   it.Score,
		Details: it.Details,
		Change:  delta,
		Context: fmt.Sprintf("%s %d spots (was #%d, now #%d)", direction(delta), abs(delta), prev.Rank, it.Rank),
	}, true
}

func (e *Engine) scoreChange(source string, it, prev board.Entry) (ScoreChange, bool) {
	cur, ok := it.ScoreValue()
	if !ok {
		return ScoreChange{}, false
	}
	old, ok := prev.ScoreValue()
	if !ok {
		return ScoreChange{}, false
	}

	diff := cur - old
	threshold, known := e.opts.ScoreThresholds[source]
	if !known {
		threshold = e.opts.DefaultScoreThreshold
	}
	if abs64(diff) < threshold {
		return ScoreChange{}, false
	}
	return ScoreChange{Source: source, Model: it.Model, OldScore: old, NewScore: cur, Diff: diff}, true
}

func direction(delta int) string {
	if delta > 0 {
		return "CLIMBED"
	}
	return "DROPPED"
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func abs64(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
