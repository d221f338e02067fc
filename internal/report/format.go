package report

import (
	"fmt"
	"sort"
	"strings"

	"rankwatch/internal/board"
	"rankwatch/internal/diff"
)

// metricCandidateKeys is the priority order for picking a handful of
// headline metrics out of an entry's details bag.
var metricCandidateKeys = []string{
	"elo",
	"rating",
	"score",
	"overall",
	"quality_index",
	"intelligence_index",
	"gpqa",
	"gpqa_diamond",
	"mmlu",
	"mmlu_pro",
	"aime_24",
	"aime_25",
	"math_index",
	"math_500",
	"livecodebench",
	"swe_bench",
	"humanitys_last_exam",
	"p50_latency",
	"p50_throughput",
	"provider_count",
	"request_count",
	"usage_share_pct",
	"usage_metric_key",
}

const maxMetricsPerEntry = 5

type metric struct {
	key   string
	value any
}

func extractMetrics(details board.Details) []metric {
	if len(details) == 0 {
		return nil
	}

	selected := make([]metric, 0, maxMetricsPerEntry)
	used := map[string]struct{}{}

	for _, key := range metricCandidateKeys {
		v, ok := details[key]
		if !ok {
			continue
		}
		switch v.(type) {
		case string, float64, int:
		default:
			continue
		}
		selected = append(selected, metric{key, v})
		used[key] = struct{}{}
		if len(selected) >= maxMetricsPerEntry {
			return selected
		}
	}

	// Top up with whatever numeric extras the source provided, in stable
	// key order.
	for _, key := range sortedKeys(details) {
		if _, taken := used[key]; taken {
			continue
		}
		switch details[key].(type) {
		case float64, int:
			selected = append(selected, metric{key, details[key]})
			if len(selected) >= maxMetricsPerEntry {
				return selected
			}
		}
	}
	return selected
}

func formatMetricsInline(details board.Details) string {
	metrics := extractMetrics(details)
	if len(metrics) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(metrics))
	for _, m := range metrics {
		parts = append(parts, fmt.Sprintf("%s=%v", m.key, m.value))
	}
	return strings.Join(parts, " | ")
}

// formatChangesMarkdown renders the diff report as the Markdown block list
// the reporting prompt consumes.
func formatChangesMarkdown(rep *diff.Report) string {
	var lines []string
	add := func(ls ...string) { lines = append(lines, ls...) }

	for _, c := range rep.NewEntries {
		add("### new_entry",
			"Source: "+orUnknown(c.Source),
			"Model: "+orUnknown(c.Model),
			fmt.Sprintf("Rank: %d", c.Rank),
			"Score: "+scoreCell(c.Score),
			"Entry Type: "+c.EntryType)
		if c.VariantOf != "" {
			add("Variant Of: " + c.VariantOf)
		}
		if c.Context != "" {
			add("Context: " + c.Context)
		}
		add("Metrics: "+formatMetricsInline(c.Details), "")
	}
	for _, c := range rep.RankChanges {
		add("### rank_change",
			"Source: "+orUnknown(c.Source),
			"Model: "+orUnknown(c.Model),
			fmt.Sprintf("Old Rank: %d", c.OldRank),
			fmt.Sprintf("New Rank: %d", c.NewRank),
			"Score: "+scoreCell(c.Score),
			fmt.Sprintf("Rank Delta: %d", c.Change))
		if c.Context != "" {
			add("Context: " + c.Context)
		}
		add("Metrics: "+formatMetricsInline(c.Details), "")
	}
	for _, c := range rep.ScoreChanges {
		add("### score_change",
			"Source: "+orUnknown(c.Source),
			"Model: "+orUnknown(c.Model),
			fmt.Sprintf("Old Score: %v", c.OldScore),
			fmt.Sprintf("New Score: %v", c.NewScore),
			fmt.Sprintf("Score Delta: %v", c.Diff),
			"Metrics: -", "")
	}

	if len(lines) == 0 {
		return "No changes."
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// buildCSVContext formats the top 10 models per source as CSV so the
// reporter sees the full board, not just the deltas.
func buildCSVContext(current board.Snapshot) string {
	if len(current) == 0 {
		return ""
	}

	var lines []string
	for _, source := range current.Sources() {
		entries := current[source]
		if len(entries) == 0 {
			continue
		}
		lines = append(lines, "", "Source: "+strings.ToUpper(source), "Rank,Model,Score,Metrics")
		for i, e := range entries {
			if i >= 10 {
				break
			}
			lines = append(lines, strings.Join([]string{
				csvCell(fmt.Sprintf("%d", e.Rank)),
				csvCell(e.Model),
				csvCell(scoreCell(e.Score)),
				csvCell(formatMetricsInline(e.Details)),
			}, ","))
		}
	}
	return strings.Join(lines, "\n")
}

func scoreCell(score *float64) string {
	if score == nil {
		return ""
	}
	return fmt.Sprintf("%.2f", *score)
}

func csvCell(v string) string {
	v = strings.ReplaceAll(v, "\n", " ")
	v = strings.ReplaceAll(v, "\r", " ")
	return strings.ReplaceAll(v, ",", ";")
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func sortedKeys(d board.Details) []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
