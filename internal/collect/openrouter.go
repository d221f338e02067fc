package collect

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"rankwatch/internal/board"
)

const openRouterURL = "https://openrouter.ai/rankings?view=week"

// OpenRouter ranks models by usage share on the OpenRouter platform. The
// rankings page streams React Server Component payloads; the collector digs
// the data array out of the RSC lines and converts raw usage counters into a
// percentage share, so platform-wide traffic growth does not read as every
// model "improving" at once.
type OpenRouter struct {
	name string
	url  string
	http *http.Client
	log  zerolog.Logger
}

func NewOpenRouter(name string, log zerolog.Logger) *OpenRouter {
	return &OpenRouter{name: name, url: openRouterURL, http: newHTTPClient(), log: log}
}

func (c *OpenRouter) Name() string { return c.name }

func (c *OpenRouter) Collect(ctx context.Context) ([]board.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("RSC", "1")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openrouter returned %s", resp.Status)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 1<<20), 16<<20)
	for sc.Scan() {
		line := sc.Text()
		if !strings.Contains(line, `"data":[{`) {
			continue
		}
		// RSC line format: <id>:<json_value>
		_, payload, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			continue
		}
		if raw := findRankingData(v, 0); raw != nil {
			return c.normalize(raw), nil
		}
	}
	if err := sc.Err(); err != nil && err != io.EOF {
		return nil, err
	}
	return nil, fmt.Errorf("no data line found in response")
}

// findRankingData walks the RSC structure for a {"data": [...]} object whose
// rows look like model usage records.
func findRankingData(v any, depth int) []map[string]any {
	if depth > 15 {
		return nil
	}
	switch x := v.(type) {
	case map[string]any:
		if data, ok := x["data"].([]any); ok && len(data) > 0 {
			if first, ok := data[0].(map[string]any); ok {
				if _, ok := first["request_count"]; ok {
					rows := make([]map[string]any, 0, len(data))
					for _, item := range data {
						if m, ok := item.(map[string]any); ok {
							rows = append(rows, m)
						}
					}
					return rows
				}
			}
		}
		for _, child := range x {
			if rows := findRankingData(child, depth+1); rows != nil {
				return rows
			}
		}
	case []any:
		for _, item := range x {
			if rows := findRankingData(item, depth+1); rows != nil {
				return rows
			}
		}
	}
	return nil
}

// usageValue picks the best available usage counter, preferring token-based
// metrics over request counts.
func usageValue(row map[string]any) (float64, string) {
	for _, key := range []string{"token_count", "total_tokens", "tokens", "request_count"} {
		if f, ok := coerceNumber(row[key]); ok {
			return f, key
		}
	}
	return 0, "unknown"
}

func (c *OpenRouter) normalize(rows []map[string]any) []board.Entry {
	values := make([]float64, len(rows))
	metricKey := "unknown"
	total := 0.0
	for i, row := range rows {
		v, key := usageValue(row)
		values[i] = v
		total += v
		if metricKey == "unknown" && key != "unknown" {
			metricKey = key
		}
	}
	if total <= 0 {
		total = 1
	}

	entries := make([]board.Entry, 0, len(rows))
	for i, row := range rows {
		share := math.Round(values[i]/total*100.0*1000) / 1000
		name, _ := row["name"].(string)
		if name == "" {
			name = "Unknown"
		}
		details := board.Details{}
		for k, v := range row {
			details[k] = v
		}
		details["usage_metric_key"] = metricKey
		details["usage_value"] = values[i]
		details["usage_share_pct"] = share
		details["usage_total"] = total
		entries = append(entries, board.Entry{
			Model:   name,
			Score:   board.Float(share), // usage share percentage (0-100)
			Details: details,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		vi, _ := entries[i].Details["usage_value"].(float64)
		vj, _ := entries[j].Details["usage_value"].(float64)
		if vi != vj {
			return vi > vj
		}
		return entries[i].Model < entries[j].Model
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}

	c.log.Info().Int("models", len(entries)).Str("metric", metricKey).Msg("openrouter normalized by usage share")
	return entries
}
