// Package memstore provides an in-memory implementation of resolution.Store.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/linnemanlabs/settle/internal/resolution"
)

// Store holds runs in memory. Suitable for dev/testing and single-shot use.
type Store struct {
	mu   sync.RWMutex
	runs map[string]*resolution.Run // run ID -> run
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{runs: make(map[string]*resolution.Run)}
}

// Get retrieves a run by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*resolution.Run, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, false, nil
	}
	return r.Clone(), true, nil
}

// Put stores a copy of the run, replacing any run with the same ID.
func (s *Store) Put(_ context.Context, r *resolution.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.ID] = r.Clone()
	return nil
}

// List returns copies of the most recent runs by start time, newest first.
func (s *Store) List(_ context.Context, limit int) ([]*resolution.Run, error) {
	if limit <= 0 {
		limit = resolution.DefaultListLimit
	}

	s.mu.RLock()
	out := make([]*resolution.Run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
