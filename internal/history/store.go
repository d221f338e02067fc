// Package history keeps the long-horizon ledger: a permanent baseline per
// canonical model identity, an append-only month-partitioned event log, and
// periodic full-state snapshots, all under the state directory.
package history

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"rankwatch/internal/board"
	"rankwatch/internal/canonical"
)

const (
	DefaultLookbackDays = 60

	baselinesFile = "model_baselines.json"
	metaFile      = "history_meta.json"
	eventsDir     = "events"
	snapshotsDir  = "snapshots"

	monthFormat = "2006-01"
)

const (
	EventBaselineCreated = "baseline_created"
	EventStateDiff       = "state_diff"
)

// Baseline is the first-observed state of a canonical model. Created once,
// never mutated; the table has no pruning policy on purpose.
type Baseline struct {
	Source        string      `json:"source"`
	CanonicalKey  string      `json:"canonical_key"`
	FirstSeenAt   string      `json:"first_seen_at"`
	BaseModelName string      `json:"base_model_name"`
	BaseState     board.Entry `json:"base_state"`
}

// Event is one immutable ledger line. TS stays a string so a mangled
// timestamp corrupts one line, not the partition.
type Event struct {
	TS           string         `json:"ts"`
	Source       string         `json:"source"`
	CanonicalKey string         `json:"canonical_key"`
	Model        string         `json:"model"`
	EventType    string         `json:"event_type"`
	Delta        map[string]any `json:"delta"`
}

type meta struct {
	LastSeenAt    string `json:"last_seen_at"`
	LastSeenMonth string `json:"last_seen_month"`
	LookbackDays  int    `json:"lookback_days"`
}

type monthlySnapshot struct {
	Month      string         `json:"month"`
	SnapshotAt string         `json:"snapshot_at"`
	State      board.Snapshot `json:"state"`
}

// Store is the on-disk history ledger. Reads always degrade to empty
// defaults; only failed writes surface as errors.
type Store struct {
	dir          string
	lookbackDays int
	log          zerolog.Logger

	// now is swappable so tests can stage month rollovers.
	now func() time.Time
}

func NewStore(stateDir string, lookbackDays int, log zerolog.Logger) *Store {
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}
	return &Store{dir: stateDir, lookbackDays: lookbackDays, log: log, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) baselinesPath() string { return filepath.Join(s.dir, baselinesFile) }
func (s *Store) metaPath() string      { return filepath.Join(s.dir, metaFile) }
func (s *Store) eventsPath(month string) string {
	return filepath.Join(s.dir, eventsDir, month+".jsonl")
}
func (s *Store) snapshotPath(month string) string {
	return filepath.Join(s.dir, snapshotsDir, month+".json")
}

// Update records the current run into the ledger. It runs once per run,
// unconditionally, independent of what the diff engine decided.
func (s *Store) Update(current, previous board.Snapshot) error {
	now := s.now()
	nowISO := now.Format(time.RFC3339)
	month := now.Format(monthFormat)

	baselines := s.loadBaselines()
	m := s.loadMeta()
	prevMap := buildModelMap(previous)

	// Month rollover: freeze the prior month with the previous snapshot
	// before anything else, so the boundary is captured even when
	// processing straddles it.
	if m.LastSeenMonth != "" && m.LastSeenMonth != month && len(previous) > 0 {
		if err := s.writeMonthSnapshot(m.LastSeenMonth, previous, nowISO); err != nil {
			return err
		}
	}

	var events []Event
	for _, source := range current.Sources() {
		for _, item := range current[source] {
			if item.Model == "" {
				continue
			}
			key := canonical.Key(source, item.Model)
			if _, seen := baselines[key]; !seen {
				baselines[key] = Baseline{
					Source:        source,
					CanonicalKey:  key,
					FirstSeenAt:   nowISO,
					BaseModelName: item.Model,
					BaseState:     item,
				}
				events = append(events, Event{
					TS: nowISO, Source: source, CanonicalKey: key, Model: item.Model,
					EventType: EventBaselineCreated,
					Delta:     map[string]any{"created": true},
				})
				continue
			}

			delta := computeDelta(item, prevMap[modelKey{source, item.Model}])
			if len(delta) > 0 {
				events = append(events, Event{
					TS: nowISO, Source: source, CanonicalKey: key, Model: item.Model,
					EventType: EventStateDiff,
					Delta:     delta,
				})
			}
		}
	}

	if err := s.dumpJSON(s.baselinesPath(), baselines); err != nil {
		return err
	}
	if err := s.appendEvents(month, events); err != nil {
		return err
	}
	if err := s.writeMonthSnapshot(month, current, nowISO); err != nil {
		return err
	}
	if err := s.dumpJSON(s.metaPath(), meta{LastSeenAt: nowISO, LastSeenMonth: month, LookbackDays: s.lookbackDays}); err != nil {
		return err
	}

	s.prune(now.AddDate(0, 0, -s.lookbackDays))
	return nil
}

type modelKey struct {
	source, model string
}

func buildModelMap(state board.Snapshot) map[modelKey]*board.Entry {
	m := make(map[modelKey]*board.Entry)
	for source, entries := range state {
		for i := range entries {
			if entries[i].Model == "" {
				continue
			}
			m[modelKey{source, entries[i].Model}] = &entries[i]
		}
	}
	return m
}

// computeDelta builds the field-level delta between the current entry and
// its previous observation. A nil previous means the model re-appeared after
// being absent (its baseline already exists): the delta records the full
// current state.
func computeDelta(cur board.Entry, prev *board.Entry) map[string]any {
	if prev == nil {
		return map[string]any{
			"created": true,
			"rank":    cur.Rank,
			"score":   cur.Score,
			"details": cur.Details,
		}
	}

	delta := map[string]any{}
	if cur.Rank != prev.Rank {
		delta["rank"] = map[string]any{"from": prev.Rank, "to": cur.Rank}
	}
	if !scoreEqual(cur.Score, prev.Score) {
		delta["score"] = map[string]any{"from": prev.Score, "to": cur.Score}
	}

	detailsDelta := map[string]any{}
	for key := range unionKeys(prev.Details, cur.Details) {
		if !valueEqual(prev.Details[key], cur.Details[key]) {
			detailsDelta[key] = map[string]any{"from": prev.Details[key], "to": cur.Details[key]}
		}
	}
	if len(detailsDelta) > 0 {
		delta["details"] = detailsDelta
	}
	return delta
}

func scoreEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func unionKeys(a, b board.Details) map[string]struct{} {
	keys := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}
	return keys
}

// valueEqual compares two detail values by their canonical JSON rendering.
// That treats 1 and 1.0 as equal and handles nested maps without caring
// about in-memory types.
func valueEqual(a, b any) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

func (s *Store) loadBaselines() map[string]Baseline {
	out := map[string]Baseline{}
	s.loadJSON(s.baselinesPath(), &out)
	if out == nil {
		out = map[string]Baseline{}
	}
	return out
}

func (s *Store) loadMeta() meta {
	var m meta
	s.loadJSON(s.metaPath(), &m)
	return m
}

// loadJSON fills dst from path, falling back to whatever dst already holds
// when the file is missing or corrupt.
func (s *Store) loadJSON(path string, dst any) {
	b, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn().Err(err).Str("path", path).Msg("history file unreadable, using empty default")
		}
		return
	}
	if err := json.Unmarshal(b, dst); err != nil {
		s.log.Warn().Err(err).Str("path", path).Msg("history file corrupt, using empty default")
	}
}

func (s *Store) dumpJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// appendEvents appends to the month partition; a crash mid-write loses at
// most the last unflushed line.
func (s *Store) appendEvents(month string, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	path := s.eventsPath(month)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create events dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open events partition: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, ev := range events {
		b, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		_, _ = w.Write(b)
		_ = w.WriteByte('\n')
	}
	ferr := w.Flush()
	cerr := f.Close()
	if ferr != nil {
		return fmt.Errorf("append events: %w", ferr)
	}
	if cerr != nil {
		return fmt.Errorf("close events partition: %w", cerr)
	}
	return nil
}

func (s *Store) writeMonthSnapshot(month string, state board.Snapshot, atISO string) error {
	return s.dumpJSON(s.snapshotPath(month), monthlySnapshot{Month: month, SnapshotAt: atISO, State: state})
}

// prune drops every event/snapshot partition whose entire month lies before
// the cutoff.
func (s *Store) prune(cutoff time.Time) {
	for _, part := range []struct{ dir, ext string }{
		{filepath.Join(s.dir, eventsDir), ".jsonl"},
		{filepath.Join(s.dir, snapshotsDir), ".json"},
	} {
		entries, err := os.ReadDir(part.dir)
		if err != nil {
			continue
		}
		for _, de := range entries {
			name := de.Name()
			if !strings.HasSuffix(name, part.ext) {
				continue
			}
			month, err := time.Parse(monthFormat, strings.TrimSuffix(name, part.ext))
			if err != nil {
				continue
			}
			if month.AddDate(0, 1, 0).Before(cutoff) {
				path := filepath.Join(part.dir, name)
				if err := os.Remove(path); err != nil {
					s.log.Warn().Err(err).Str("path", path).Msg("failed to prune partition")
					continue
				}
				s.log.Info().Str("path", path).Msg("pruned expired partition")
			}
		}
	}
}

func parseEventTime(ts string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, ts); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
