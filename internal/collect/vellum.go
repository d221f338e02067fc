package collect

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"rankwatch/internal/board"
)

const vellumURL = "https://www.vellum.ai/llm-leaderboard"

// Vellum scrapes the Vellum leaderboard page. The data sits in an inline
// script as a near-JSON object literal keyed by model name, so the collector
// repairs the literal into valid JSON before decoding.
type Vellum struct {
	name string
	url  string
	http *http.Client
	log  zerolog.Logger
}

func NewVellum(name string, log zerolog.Logger) *Vellum {
	return &Vellum{name: name, url: vellumURL, http: newHTTPClient(), log: log}
}

func (c *Vellum) Name() string { return c.name }

var (
	vellumDataRe     = regexp.MustCompile(`(?s)var dataModels\s*=\s*(\{.*?\});`)
	vellumBareKeysRe = regexp.MustCompile(`\b(xValues|yValues)\s*:`)
	trailingCommaRe  = regexp.MustCompile(`,\s*([}\]])`)
)

// scoreTargets are matched (case-insensitive substring) against metric names
// to pick the headline score; the first hit wins.
var scoreTargets = []string{"elo", "win rate", "average", "overall"}

func (c *Vellum) Collect(ctx context.Context) ([]board.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vellum returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, err
	}
	m := vellumDataRe.FindSubmatch(body)
	if m == nil {
		return nil, fmt.Errorf("no dataModels block found in page")
	}
	blob := vellumBareKeysRe.ReplaceAll(m[1], []byte(`"$1":`))
	blob = trailingCommaRe.ReplaceAll(blob, []byte("$1"))

	var models map[string]any
	if err := json.Unmarshal(blob, &models); err != nil {
		return nil, fmt.Errorf("decode dataModels: %w", err)
	}
	return c.normalize(models), nil
}

// modelMetrics pairs metric names with values from the two chart axes. The
// page flips which axis carries the names, so whichever one holds strings is
// treated as the name axis.
func modelMetrics(row map[string]any) map[string]float64 {
	xs, _ := row["xValues"].([]any)
	ys, _ := row["yValues"].([]any)
	names, values := xs, ys
	for _, v := range xs {
		if _, ok := v.(string); ok {
			break
		}
		if v != nil {
			names, values = ys, xs
			break
		}
	}
	metrics := map[string]float64{}
	for i, n := range names {
		name, ok := n.(string)
		if !ok || i >= len(values) {
			continue
		}
		if f, ok := coerceNumber(values[i]); ok {
			metrics[name] = f
		}
	}
	return metrics
}

func headlineScore(metrics map[string]float64) float64 {
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, target := range scoreTargets {
		for _, k := range keys {
			if strings.Contains(strings.ToLower(k), target) {
				return metrics[k]
			}
		}
	}
	if len(keys) > 0 {
		return metrics[keys[0]]
	}
	return 0
}

func (c *Vellum) normalize(models map[string]any) []board.Entry {
	type scored struct {
		model   string
		score   float64
		metrics map[string]float64
	}
	rows := make([]scored, 0, len(models))
	for name, raw := range models {
		row, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		metrics := modelMetrics(row)
		rows = append(rows, scored{model: name, score: headlineScore(metrics), metrics: metrics})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].score != rows[j].score {
			return rows[i].score > rows[j].score
		}
		return rows[i].model < rows[j].model
	})

	entries := make([]board.Entry, 0, len(rows))
	for i, r := range rows {
		entries = append(entries, board.Entry{
			Model: r.model,
			Rank:  i + 1,
			Score: board.Float(r.score),
			Details: board.Details{
				"raw_score": r.score,
				"metrics":   r.metrics,
			},
		})
	}
	c.log.Info().Int("models", len(entries)).Msg("vellum extracted")
	return entries
}
