package collect

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/rs/zerolog"

	"rankwatch/internal/board"
)

const llmStatsURL = "https://api.zeroeval.com/leaderboard/models/full?justCanonicals=true"

// LLMStats pulls the LLM-Stats leaderboard from the ZeroEval API. The feed
// has no explicit rank, so entries are ranked by score descending with model
// name as tiebreak.
type LLMStats struct {
	name string
	url  string
	http *http.Client
	log  zerolog.Logger
}

func NewLLMStats(name string, log zerolog.Logger) *LLMStats {
	return &LLMStats{name: name, url: llmStatsURL, http: newHTTPClient(), log: log}
}

func (c *LLMStats) Name() string { return c.name }

// scoreKeys are tried in order; the feed has renamed its rating field before.
var scoreKeys = []string{"elo", "score", "rating", "overall", "Elo", "Score", "Rating", "Overall", "ELO"}

func rowScore(row map[string]any) float64 {
	for _, key := range scoreKeys {
		if v, ok := row[key].(float64); ok {
			return v
		}
	}
	return 0
}

func (c *LLMStats) Collect(ctx context.Context) ([]board.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", "https://llm-stats.com/")
	req.Header.Set("Origin", "https://llm-stats.com")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llmstats returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode llmstats payload: %w", err)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		si, sj := rowScore(rows[i]), rowScore(rows[j])
		if si != sj {
			return si > sj
		}
		ni, _ := rows[i]["name"].(string)
		nj, _ := rows[j]["name"].(string)
		return ni < nj
	})

	entries := make([]board.Entry, 0, len(rows))
	for i, row := range rows {
		name, _ := row["name"].(string)
		if name == "" {
			name, _ = row["model"].(string)
		}
		if name == "" {
			name = "Unknown"
		}
		entries = append(entries, board.Entry{
			Model:   name,
			Rank:    i + 1,
			Score:   board.Float(rowScore(row)),
			Details: board.Details(row),
		})
	}
	c.log.Info().Int("models", len(entries)).Msg("llmstats extracted")
	return entries, nil
}
