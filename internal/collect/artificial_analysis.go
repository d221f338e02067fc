package collect

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"rankwatch/internal/board"
)

const artificialAnalysisURL = "https://artificialanalysis.ai/leaderboards/models"

// ArtificialAnalysis ranks models by the Artificial Analysis intelligence
// index. Like OpenRouter the page streams RSC lines; the model table is the
// list whose rows carry an "intelligence_index" field.
type ArtificialAnalysis struct {
	name string
	url  string
	http *http.Client
	log  zerolog.Logger
}

func NewArtificialAnalysis(name string, log zerolog.Logger) *ArtificialAnalysis {
	return &ArtificialAnalysis{name: name, url: artificialAnalysisURL, http: newHTTPClient(), log: log}
}

func (c *ArtificialAnalysis) Name() string { return c.name }

func (c *ArtificialAnalysis) Collect(ctx context.Context) ([]board.Entry, error) {
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
		return nil, fmt.Errorf("artificial analysis returned %s", resp.Status)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 1<<20), 16<<20)
	for sc.Scan() {
		line := sc.Text()
		if !strings.Contains(line, "intelligence_index") {
			continue
		}
		// RSC line format: <id>:<payload>, sometimes with an "I" marker
		// ahead of the JSON value.
		_, payload, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		payload = strings.TrimPrefix(strings.TrimSpace(payload), "I")
		if !strings.HasPrefix(payload, "[") && !strings.HasPrefix(payload, "{") {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			continue
		}
		if rows := findIntelligenceRows(v, 0); rows != nil {
			return c.normalize(rows), nil
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("no intelligence_index line found in response")
}

// findIntelligenceRows walks the payload for a list whose rows carry the
// intelligence index.
func findIntelligenceRows(v any, depth int) []map[string]any {
	if depth > 15 {
		return nil
	}
	switch x := v.(type) {
	case []any:
		if len(x) > 0 {
			if first, ok := x[0].(map[string]any); ok {
				if _, ok := first["intelligence_index"]; ok {
					rows := make([]map[string]any, 0, len(x))
					for _, item := range x {
						if m, ok := item.(map[string]any); ok {
							rows = append(rows, m)
						}
					}
					return rows
				}
			}
		}
		for _, item := range x {
			if rows := findIntelligenceRows(item, depth+1); rows != nil {
				return rows
			}
		}
	case map[string]any:
		for _, child := range x {
			if rows := findIntelligenceRows(child, depth+1); rows != nil {
				return rows
			}
		}
	}
	return nil
}

func (c *ArtificialAnalysis) normalize(rows []map[string]any) []board.Entry {
	type scored struct {
		row   map[string]any
		score float64
	}
	kept := make([]scored, 0, len(rows))
	for _, row := range rows {
		score := 0.0
		if v, present := row["intelligence_index"]; present {
			f, ok := coerceNumber(v)
			if !ok {
				continue
			}
			score = f
		}
		kept = append(kept, scored{row: row, score: score})
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].score != kept[j].score {
			return kept[i].score > kept[j].score
		}
		ni, _ := kept[i].row["name"].(string)
		nj, _ := kept[j].row["name"].(string)
		return ni < nj
	})

	entries := make([]board.Entry, 0, len(kept))
	for i, s := range kept {
		name, _ := s.row["name"].(string)
		if name == "" {
			name = "Unknown"
		}
		entries = append(entries, board.Entry{
			Model:   name,
			Rank:    i + 1,
			Score:   board.Float(s.score),
			Details: board.Details(s.row),
		})
	}
	c.log.Info().Int("models", len(entries)).Msg("artificial analysis extracted")
	return entries
}
