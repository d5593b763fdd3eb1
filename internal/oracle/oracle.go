package oracle

import (
	"context"
	"sync"
)

// Resolver supplies the authenticated winner of a match, or reports
// that no trusted result is available yet. Authenticating the winner
// claim is the oracle's responsibility, not the core's.
type Resolver interface {
	Resolve(ctx context.Context, matchID uint64) (winner string, ok bool, err error)
}

// Store is an in-memory result store fed by the results consumer.
// Results are retained so a failed settlement can be retried after
// the gateway recovers.
type Store struct {
	mu      sync.RWMutex
	results map[uint64]string
}

// NewStore creates an empty result store
func NewStore() *Store {
	return &Store{results: make(map[uint64]string)}
}

// Record stores the winner reported for a match. The first result
// wins; a conflicting report for an already-resolved match is
// ignored.
func (s *Store) Record(matchID uint64, winner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[matchID]; ok {
		return
	}
	s.results[matchID] = winner
}

// Resolve implements Resolver
func (s *Store) Resolve(ctx context.Context, matchID uint64) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	winner, ok := s.results[matchID]
	return winner, ok, nil
}
