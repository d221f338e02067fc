// Package collect fetches already-normalized leaderboard entries per source.
//
// Collectors are deliberately dumb: they fetch, normalize to board.Entry and
// return. Everything judgemental (noise filters, identity, history) lives in
// the core packages.
package collect

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"rankwatch/internal/board"
)

// Collector yields one source's ordered entry list for the current run.
type Collector interface {
	Name() string
	Collect(ctx context.Context) ([]board.Entry, error)
}

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// coerceNumber reads a decoded JSON value as a float, accepting numeric
// strings. Upstream feeds are sloppy about which one they send.
func coerceNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// Run executes every collector and assembles the run snapshot. A failing
// source logs and contributes an empty list; it never aborts the run.
func Run(ctx context.Context, collectors []Collector, log zerolog.Logger) board.Snapshot {
	snap := board.Snapshot{}
	for _, c := range collectors {
		entries, err := c.Collect(ctx)
		if err != nil {
			log.Error().Err(err).Str("source", c.Name()).Msg("collect failed")
			entries = nil
		} else {
			log.Info().Str("source", c.Name()).Int("entries", len(entries)).Msg("collected")
		}
		snap[c.Name()] = entries
	}
	return snap
}
