package history

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"rankwatch/internal/board"
)

func testStore(t *testing.T, at time.Time) *Store {
	t.Helper()
	s := NewStore(t.TempDir(), 0, zerolog.Nop())
	s.now = func() time.Time { return at }
	return s
}

func readEvents(t *testing.T, s *Store, month string) []Event {
	t.Helper()
	f, err := os.Open(s.eventsPath(month))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatal(err)
	}
	defer f.Close()

	var out []Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("bad event line %q: %v", sc.Text(), err)
		}
		out = append(out, ev)
	}
	return out
}

func TestUpdateCreatesBaselines(t *testing.T) {
	at := time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)
	s := testStore(t, at)

	current := board.Snapshot{"arena_text": {
		{Model: "GPT-5.2", Rank: 1, Score: board.Float(1400)},
		{Model: "Claude Opus 4.5", Rank: 2, Score: board.Float(1390)},
	}}
	if err := s.Update(current, board.Snapshot{}); err != nil {
		t.Fatal(err)
	}

	baselines := s.loadBaselines()
	if len(baselines) != 2 {
		t.Fatalf("baselines = %d, want 2", len(baselines))
	}
	bl, ok := baselines["arena_text:gpt 5 2"]
	if !ok {
		t.Fatalf("missing canonical key, have %v", baselines)
	}
	if bl.BaseModelName != "GPT-5.2" || bl.BaseState.Rank != 1 {
		t.Errorf("baseline = %+v", bl)
	}
	if bl.FirstSeenAt != at.Format(time.RFC3339) {
		t.Errorf("first_seen_at = %q", bl.FirstSeenAt)
	}

	events := readEvents(t, s, "2026-08")
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	for _, ev := range events {
		if ev.EventType != EventBaselineCreated {
			t.Errorf("event type = %q", ev.EventType)
		}
	}
}

func TestUpdateRecordsStateDiffs(t *testing.T) {
	at := time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)
	s := testStore(t, at)

	previous := board.Snapshot{"arena_text": {
		{Model: "a", Rank: 1, Score: board.Float(1400), Details: board.Details{"elo": 1400.0}},
	}}
	// Seed the baseline so the second update records a diff, not a creation.
	if err := s.Update(previous, board.Snapshot{}); err != nil {
		t.Fatal(err)
	}

	current := board.Snapshot{"arena_text": {
		{Model: "a", Rank: 2, Score: board.Float(1380), Details: board.Details{"elo": 1380.0}},
	}}
	if err := s.Update(current, previous); err != nil {
		t.Fatal(err)
	}

	events := readEvents(t, s, "2026-08")
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	ev := events[1]
	if ev.EventType != EventStateDiff {
		t.Fatalf("event type = %q", ev.EventType)
	}
	rank, ok := ev.Delta["rank"].(map[string]any)
	if !ok {
		t.Fatalf("rank delta = %v", ev.Delta["rank"])
	}
	if rank["from"] != float64(1) || rank["to"] != float64(2) {
		t.Errorf("rank delta = %v", rank)
	}
	if _, ok := ev.Delta["score"]; !ok {
		t.Error("score delta missing")
	}
	if _, ok := ev.Delta["details"]; !ok {
		t.Error("details delta missing")
	}
}

func TestUpdateUnchangedEmitsNoEvents(t *testing.T) {
	at := time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)
	s := testStore(t, at)

	snap := board.Snapshot{"arena_text": {{Model: "a", Rank: 1, Score: board.Float(1400)}}}
	if err := s.Update(snap, board.Snapshot{}); err != nil {
		t.Fatal(err)
	}
	if err := s.Update(snap, snap); err != nil {
		t.Fatal(err)
	}

	events := readEvents(t, s, "2026-08")
	if len(events) != 1 {
		t.Fatalf("expected only the baseline event, got %d", len(events))
	}
}

func TestUpdateReappearanceRecordsFullState(t *testing.T) {
	at := time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)
	s := testStore(t, at)

	first := board.Snapshot{"arena_text": {{Model: "a", Rank: 1}}}
	if err := s.Update(first, board.Snapshot{}); err != nil {
		t.Fatal(err)
	}

	// a vanishes, then returns: its baseline exists but the previous
	// snapshot has no entry for it.
	gone := board.Snapshot{"arena_text": {{Model: "b", Rank: 1}}}
	if err := s.Update(gone, first); err != nil {
		t.Fatal(err)
	}
	back := board.Snapshot{"arena_text": {{Model: "a", Rank: 3}, {Model: "b", Rank: 1}}}
	if err := s.Update(back, gone); err != nil {
		t.Fatal(err)
	}

	events := readEvents(t, s, "2026-08")
	last := events[len(events)-1]
	if last.Model != "a" || last.EventType != EventStateDiff {
		t.Fatalf("last event = %+v", last)
	}
	if last.Delta["created"] != true {
		t.Errorf("re-appearance delta should carry created flag: %v", last.Delta)
	}
	if last.Delta["rank"] != float64(3) {
		t.Errorf("re-appearance delta rank = %v", last.Delta["rank"])
	}
}

func TestMonthRolloverFreezesPriorMonth(t *testing.T) {
	aug := time.Date(2026, 8, 31, 23, 0, 0, 0, time.UTC)
	s := testStore(t, aug)

	augState := board.Snapshot{"arena_text": {{Model: "a", Rank: 1}}}
	if err := s.Update(augState, board.Snapshot{}); err != nil {
		t.Fatal(err)
	}

	sep := time.Date(2026, 9, 1, 1, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return sep }
	sepState := board.Snapshot{"arena_text": {{Model: "a", Rank: 2}}}
	if err := s.Update(sepState, augState); err != nil {
		t.Fatal(err)
	}

	var frozen monthlySnapshot
	b, err := os.ReadFile(s.snapshotPath("2026-08"))
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(b, &frozen); err != nil {
		t.Fatal(err)
	}
	// The frozen August snapshot holds the last state observed in August,
	// which is the September run's previous.
	if frozen.State["arena_text"][0].Rank != 1 {
		t.Errorf("frozen august state = %+v", frozen.State)
	}

	if _, err := os.Stat(s.snapshotPath("2026-09")); err != nil {
		t.Errorf("september snapshot missing: %v", err)
	}
}

func TestPruneDropsExpiredPartitions(t *testing.T) {
	at := time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)
	s := testStore(t, at) // 60-day lookback, cutoff 2026-06-11

	for _, month := range []string{"2026-03", "2026-06", "2026-08"} {
		if err := os.MkdirAll(filepath.Join(s.dir, eventsDir), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(s.eventsPath(month), []byte("{}\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.Update(board.Snapshot{"x": {{Model: "m", Rank: 1}}}, board.Snapshot{}); err != nil {
		t.Fatal(err)
	}

	// March ended before the cutoff; June straddles it and must survive.
	if _, err := os.Stat(s.eventsPath("2026-03")); !os.IsNotExist(err) {
		t.Error("2026-03 should have been pruned")
	}
	for _, month := range []string{"2026-06", "2026-08"} {
		if _, err := os.Stat(s.eventsPath(month)); err != nil {
			t.Errorf("%s should survive: %v", month, err)
		}
	}
}

func TestLoadTolerantOfCorruptFiles(t *testing.T) {
	at := time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)
	s := testStore(t, at)

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.baselinesPath(), []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.metaPath(), []byte("also broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := s.Update(board.Snapshot{"x": {{Model: "m", Rank: 1}}}, board.Snapshot{}); err != nil {
		t.Fatal(err)
	}
	baselines := s.loadBaselines()
	if len(baselines) != 1 {
		t.Fatalf("baselines after recovery = %v", baselines)
	}
}
