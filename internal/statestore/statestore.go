// Package statestore implements the persistent last-known-state store:
// a JSON map from device sender id to its last decoded state, written
// on every successful decode and read once at startup to republish
// within the configurable restore window.
package statestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/tostmann/enocean-mqtt-bridge/internal/eep"
	"github.com/tostmann/enocean-mqtt-bridge/internal/logging"
)

// State is a decoded state snapshot for one device: shortcut to Value,
// matching the dispatcher's decoded map.
type State map[string]eep.Value

// Store is the disk-backed last-known-state map, keyed by sender id.
// Writes serialize against disk I/O through mu, same as the device
// registry.
type Store struct {
	mu     sync.RWMutex
	path   string
	logger *zap.Logger
	byID   map[string]State
}

// DefaultPath mirrors registry.DefaultPath's /data-then-cwd selection,
// under the "last_states.json" file name.
func DefaultPath() string {
	if info, err := os.Stat("/data"); err == nil && info.IsDir() {
		probe := filepath.Join("/data", ".write-test")
		if f, err := os.OpenFile(probe, os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
			f.Close()
			os.Remove(probe)
			return filepath.Join("/data", "last_states.json")
		}
	}
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return filepath.Join(cwd, "last_states.json")
}

// Load reads the state store from path, starting empty if the file is
// absent or unparsable (logged, never fatal).
func Load(path string) *Store {
	s := &Store{
		path:   path,
		logger: logging.With(zap.String("component", "statestore")),
		byID:   make(map[string]State),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read state store", zap.String("path", path), zap.Error(err))
		}
		return s
	}
	var raw map[string]State
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Error("failed to parse state store, starting empty", zap.String("path", path), zap.Error(err))
		return s
	}
	s.byID = raw
	s.logger.Info("loaded state store", zap.Int("devices", len(s.byID)))
	return s
}

// Save writes state for senderID and persists immediately. Unlike the
// device registry, the state store has no in-memory-only fast path.
func (s *Store) Save(senderID string, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[senderID] = state
	return s.saveLocked()
}

// Get returns a copy of the last saved state for senderID.
func (s *Store) Get(senderID string) (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.byID[senderID]
	if !ok {
		return nil, false
	}
	out := make(State, len(st))
	for k, v := range st {
		out[k] = v
	}
	return out, true
}

// All returns a snapshot copy of every stored state, keyed by sender id.
func (s *Store) All() map[string]State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]State, len(s.byID))
	for id, st := range s.byID {
		cp := make(State, len(st))
		for k, v := range st {
			cp[k] = v
		}
		out[id] = cp
	}
	return out
}

func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("statestore: mkdir %s: %w", dir, err)
		}
	}
	data, err := json.MarshalIndent(s.byID, "", "  ")
	if err != nil {
		return fmt.Errorf("statestore: marshal: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("statestore: write %s: %w", s.path, err)
	}
	return nil
}
