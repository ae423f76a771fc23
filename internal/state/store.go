// Package state persists what a finished run leaves behind and serializes
// concurrent runs against the same host.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sync"

	"github.com/brimblehq/mediastack/internal/host"
	"github.com/brimblehq/mediastack/internal/types"
)

const FileName = "state.json"

// Store keeps the last-run state as JSON on the managed host.
type Store struct {
	mu   sync.RWMutex
	host host.Host
	path string
}

func NewStore(h host.Host, stateDir string) *Store {
	return &Store{host: h, path: path.Join(stateDir, FileName)}
}

func (s *Store) Path() string {
	return s.path
}

// Load returns the saved state and whether one existed. A corrupt file is
// removed and reported as absent.
func (s *Store) Load(ctx context.Context) (types.RunState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st types.RunState
	data, err := s.host.ReadFile(ctx, s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return st, false, nil
	}
	if err != nil {
		return st, false, err
	}

	if err := json.Unmarshal(data, &st); err != nil {
		_ = s.host.RemoveFile(ctx, s.path)
		return types.RunState{}, false, nil
	}
	return st, true, nil
}

func (s *Store) Save(ctx context.Context, st types.RunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(st, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := s.host.WriteFile(ctx, s.path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

// Clear removes the state file; uninstall leaves nothing behind.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.host.RemoveFile(ctx, s.path)
}
