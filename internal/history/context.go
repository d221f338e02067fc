package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"rankwatch/internal/canonical"
	"rankwatch/internal/diff"
)

// ContextOptions bounds the history summary handed to report generation.
type ContextOptions struct {
	MaxEventsPerModel int // default 3
	LookbackDays      int // default: the store's lookback window
	MaxModels         int // default 12
}

func (o ContextOptions) withDefaults(store *Store) ContextOptions {
	if o.MaxEventsPerModel <= 0 {
		o.MaxEventsPerModel = 3
	}
	if o.LookbackDays <= 0 {
		o.LookbackDays = store.lookbackDays
	}
	if o.MaxModels <= 0 {
		o.MaxModels = 12
	}
	return o
}

// BuildContext renders one compact line per model referenced by the diff
// report: first-seen date, net rank/score movement since baseline, movement
// counts, and the latest individual change. Read-only; missing or corrupt
// partitions are skipped. Returns "" when nothing qualifies.
func (s *Store) BuildContext(report *diff.Report, opts ContextOptions) string {
	if report == nil {
		return ""
	}
	opts = opts.withDefaults(s)

	type label struct{ source, model string }
	var orderedKeys []string
	labels := map[string]label{}
	add := func(source, model string) bool {
		if source == "" || model == "" {
			return len(orderedKeys) >= opts.MaxModels
		}
		key := canonical.Key(source, model)
		if _, seen := labels[key]; !seen {
			labels[key] = label{source, model}
			orderedKeys = append(orderedKeys, key)
		}
		return len(orderedKeys) >= opts.MaxModels
	}

	full := false
	for _, ne := range report.NewEntries {
		if full = add(ne.Source, ne.Model); full {
			break
		}
	}
	if !full {
		for _, rc := range report.RankChanges {
			if full = add(rc.Source, rc.Model); full {
				break
			}
		}
	}
	if !full {
		for _, sc := range report.ScoreChanges {
			if add(sc.Source, sc.Model) {
				break
			}
		}
	}
	if len(orderedKeys) == 0 {
		return ""
	}

	now := s.now()
	cutoff := now.AddDate(0, 0, -opts.LookbackDays)
	recent := make(map[string][]Event, len(orderedKeys))
	for _, month := range monthKeysBetween(cutoff, now) {
		s.scanEvents(month, func(ev Event) {
			if _, wanted := labels[ev.CanonicalKey]; !wanted {
				return
			}
			ts, ok := parseEventTime(ev.TS)
			if !ok || ts.Before(cutoff) {
				return
			}
			recent[ev.CanonicalKey] = append(recent[ev.CanonicalKey], ev)
		})
	}

	baselines := s.loadBaselines()
	var lines []string
	for _, key := range orderedKeys {
		events := recent[key]
		bl, hasBaseline := baselines[key]
		if len(events) == 0 && !hasBaseline {
			continue
		}
		var blp *Baseline
		if hasBaseline {
			blp = &bl
		}
		lb := labels[key]
		lines = append(lines, fmt.Sprintf("- %s:%s | %s", lb.source, lb.model,
			summarizeModel(events, blp, opts.MaxEventsPerModel)))
	}
	return strings.Join(lines, "\n")
}

// scanEvents streams a month partition line by line. Unreadable files and
// unparsable lines are skipped, never fatal.
func (s *Store) scanEvents(month string, fn func(Event)) {
	f, err := os.Open(s.eventsPath(month))
	if err != nil {
		return
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		fn(ev)
	}
}

func monthKeysBetween(start, end time.Time) []string {
	cursor := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	limit := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC)
	var keys []string
	for !cursor.After(limit) {
		keys = append(keys, cursor.Format(monthFormat))
		cursor = cursor.AddDate(0, 1, 0)
	}
	return keys
}

// summarizeModel folds a model's recent events into one line.
func summarizeModel(events []Event, baseline *Baseline, maxEvents int) string {
	sort.SliceStable(events, func(i, j int) bool {
		ti, _ := parseEventTime(events[i].TS)
		tj, _ := parseEventTime(events[j].TS)
		return ti.Before(tj)
	})
	if maxEvents > 0 && len(events) > maxEvents {
		events = events[len(events)-maxEvents:]
	}

	var baseRank, baseScore any
	firstSeen := ""
	if baseline != nil {
		baseRank = baseline.BaseState.Rank
		if baseline.BaseState.Score != nil {
			baseScore = *baseline.BaseState.Score
		}
		firstSeen = baseline.FirstSeenAt
	}
	if firstSeen == "" && len(events) > 0 {
		firstSeen = events[0].TS
	}

	latestRank, latestScore := baseRank, baseScore
	rankMoves, scoreMoves := 0, 0
	lastChange := ""

	for _, ev := range events {
		rankFrom, rankTo := extractChange(ev.Delta["rank"])
		scoreFrom, scoreTo := extractChange(ev.Delta["score"])
		rankChanged := changed(rankFrom, rankTo)
		scoreChanged := changed(scoreFrom, scoreTo)

		if rankChanged {
			rankMoves++
		}
		if scoreChanged {
			scoreMoves++
		}

		if rankTo != nil {
			latestRank = rankTo
		} else if rankFrom != nil && latestRank == nil {
			latestRank = rankFrom
		}
		if scoreTo != nil {
			latestScore = scoreTo
		} else if scoreFrom != nil && latestScore == nil {
			latestScore = scoreFrom
		}

		if rankChanged || scoreChanged {
			var parts []string
			if p := formatChange("rank", rankFrom, rankTo); p != "" {
				parts = append(parts, p)
			}
			if p := formatChange("score", scoreFrom, scoreTo); p != "" {
				parts = append(parts, p)
			}
			lastChange = fmt.Sprintf("%s (%s)", ev.TS, strings.Join(parts, "; "))
		}
	}

	seenPart := "first_seen=?"
	if firstSeen != "" {
		if len(firstSeen) > 10 {
			seenPart = "first_seen=" + firstSeen[:10]
		} else {
			seenPart = "first_seen=" + firstSeen
		}
	}

	parts := []string{seenPart}
	if p := formatChange("rank", baseRank, latestRank); p != "" {
		parts = append(parts, p)
	}
	if p := formatChange("score", baseScore, latestScore); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, fmt.Sprintf("moves(rank=%d,score=%d)", rankMoves, scoreMoves))
	if lastChange != "" {
		parts = append(parts, "last_change="+lastChange)
	}
	return strings.Join(parts, " | ")
}

// extractChange reads a delta field that is either a {from,to} object
// (state_diff) or a bare value (re-appearance record).
func extractChange(v any) (from, to any) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return x["from"], x["to"]
	default:
		return nil, x
	}
}

func changed(from, to any) bool {
	return !valueEqual(from, to) && (from != nil || to != nil)
}

func formatChange(field string, before, after any) string {
	if before == nil && after == nil {
		return ""
	}
	if valueEqual(before, after) {
		return ""
	}
	if before == nil {
		return fmt.Sprintf("%s=%s", field, formatValue(after))
	}
	return fmt.Sprintf("%s:%s->%s", field, formatValue(before), formatValue(after))
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "?"
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return fmt.Sprintf("%.2f", x)
	case int:
		return strconv.Itoa(x)
	default:
		return fmt.Sprint(x)
	}
}
