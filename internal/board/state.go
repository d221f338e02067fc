package board

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// StateFile is the name of the previous-run snapshot inside the state dir.
const StateFile = "last_run.json"

// StateStore persists the "previous run" snapshot as one whole JSON file.
// A missing or corrupt file reads as an empty snapshot; first-run detection
// happens downstream in the diff engine.
type StateStore struct {
	path string
	log  zerolog.Logger
}

func NewStateStore(stateDir string, log zerolog.Logger) *StateStore {
	return &StateStore{path: filepath.Join(stateDir, StateFile), log: log}
}

func (s *StateStore) Load() Snapshot {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn().Err(err).Str("path", s.path).Msg("state file unreadable, treating as empty")
		}
		return Snapshot{}
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("state file corrupt, treating as empty")
		return Snapshot{}
	}
	return snap
}

func (s *StateStore) Save(snap Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.WriteFile(s.path, b, 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}

// DropModels removes every entry whose model name matches one of names, in
// all sources, and saves the result. It exists so operators can rehearse the
// next run's diff output against a known state. Returns how many entries
// were removed.
func (s *StateStore) DropModels(names []string) (int, error) {
	snap := s.Load()
	if len(snap) == 0 {
		return 0, fmt.Errorf("no state at %s", s.path)
	}

	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}

	removed := 0
	for source, entries := range snap {
		kept := entries[:0]
		for _, e := range entries {
			if _, gone := drop[e.Model]; gone {
				removed++
				s.log.Info().Str("source", source).Str("model", e.Model).Int("rank", e.Rank).Msg("dropped from state")
				continue
			}
			kept = append(kept, e)
		}
		snap[source] = kept
	}

	if err := s.Save(snap); err != nil {
		return removed, err
	}
	return removed, nil
}
