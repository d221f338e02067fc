package collect

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"rankwatch/internal/board"
)

const arenaBaseURL = "https://arena.ai/leaderboard/"

// Arena scrapes one category (text, vision, code) of the Arena leaderboard.
// The page streams RSC lines; the ranking payload sits on the line tagged
// "b:" as an array holding a {"leaderboard":{"entries":[...]}} element.
type Arena struct {
	name     string
	category string
	url      string
	http     *http.Client
	log      zerolog.Logger
}

func NewArena(name, category string, log zerolog.Logger) *Arena {
	return &Arena{
		name:     name,
		category: category,
		url:      arenaBaseURL + category,
		http:     newHTTPClient(),
		log:      log,
	}
}

func (c *Arena) Name() string { return c.name }

func (c *Arena) Collect(ctx context.Context) ([]board.Entry, error) {
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
		return nil, fmt.Errorf("arena returned %s", resp.Status)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 1<<20), 16<<20)
	for sc.Scan() {
		payload, found := strings.CutPrefix(sc.Text(), "b:")
		if !found {
			continue
		}
		var items []any
		if err := json.Unmarshal([]byte(payload), &items); err != nil {
			continue
		}
		for _, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			lb, ok := m["leaderboard"].(map[string]any)
			if !ok {
				continue
			}
			rows, _ := lb["entries"].([]any)
			return c.normalize(rows), nil
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("no leaderboard line found in response")
}

// normalize maps the raw rows; the feed carries explicit ranks, so order is
// taken as given. Malformed rows are skipped.
func (c *Arena) normalize(rows []any) []board.Entry {
	entries := make([]board.Entry, 0, len(rows))
	for _, raw := range rows {
		row, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		// A missing rank sinks the row far below the watched slice rather
		// than dropping it, same as a missing rating reads as zero.
		rank := 9999.0
		if f, ok := coerceNumber(row["rank"]); ok {
			rank = f
		}
		score := 0.0
		if f, ok := coerceNumber(row["rating"]); ok {
			score = f
		}
		name, _ := row["modelDisplayName"].(string)
		if name == "" {
			name = "Unknown"
		}
		entries = append(entries, board.Entry{
			Model:   name,
			Rank:    int(rank),
			Score:   board.Float(score),
			Details: board.Details(row),
		})
	}
	c.log.Info().Int("models", len(entries)).Str("category", c.category).Msg("arena extracted")
	return entries
}
