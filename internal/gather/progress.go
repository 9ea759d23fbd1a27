package gather

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const stateFile = ".gather-state.json"

// state is the resume record of a gatherer: the last end date completed
// and the symbols that returned no bars for the day in progress.
type state struct {
	mu   sync.Mutex
	path string

	LastCompleted string   `json:"last_completed"`
	Day           string   `json:"day"`
	Empty         []string `json:"empty"`

	empty map[string]struct{}
}

func loadState(dir string) (*state, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	st := &state{path: filepath.Join(dir, stateFile), empty: make(map[string]struct{})}
	data, err := os.ReadFile(st.path)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading gather state: %w", err)
	}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("decoding gather state: %w", err)
	}
	for _, sym := range st.Empty {
		st.empty[sym] = struct{}{}
	}
	return st, nil
}

func (s *state) completed(day string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LastCompleted == day
}

// beginDay discards empty markers recorded for a different day.
func (s *state) beginDay(day string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Day != day {
		s.Day = day
		s.empty = make(map[string]struct{})
	}
}

func (s *state) isEmpty(sym string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.empty[sym]
	return ok
}

func (s *state) markEmpty(sym string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.empty[sym] = struct{}{}
}

func (s *state) markCompleted(day string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastCompleted = day
}

// save writes the state through a temp file and rename.
func (s *state) save() error {
	s.mu.Lock()
	s.Empty = s.Empty[:0]
	for sym := range s.empty {
		s.Empty = append(s.Empty, sym)
	}
	sort.Strings(s.Empty)
	data, err := json.MarshalIndent(s, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encoding gather state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing gather state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing gather state: %w", err)
	}
	return nil
}
