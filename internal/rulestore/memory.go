package rulestore

import (
	"context"
	"sync"
)

// MemoryStore implements Store with an in-memory chain. It backs unit
// tests and dry-run mode, where the live chain is cloned into it and
// the migration replayed without touching the system.
type MemoryStore struct {
	mu    sync.Mutex
	rules []Rule
}

// NewMemoryStore creates a memory store seeded with the given rules.
func NewMemoryStore(seed []Rule) *MemoryStore {
	s := &MemoryStore{}
	s.rules = append(s.rules, seed...)
	return s
}

// List returns a copy of the current rules in order.
func (s *MemoryStore) List(ctx context.Context) ([]Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out, nil
}

// InsertAt inserts a rule at the given 1-indexed position, shifting
// rules at or after that position down by one. Positions beyond the
// end of the chain append.
func (s *MemoryStore) InsertAt(ctx context.Context, pos int, rule Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := pos - 1
	if idx < 0 {
		idx = 0
	}
	if idx > len(s.rules) {
		idx = len(s.rules)
	}

	s.rules = append(s.rules, Rule{})
	copy(s.rules[idx+1:], s.rules[idx:])
	s.rules[idx] = rule
	return nil
}

// Delete removes the first rule matching the given predicate and action.
// A missing rule returns (false, nil).
func (s *MemoryStore) Delete(ctx context.Context, rule Rule) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range s.rules {
		if r.Equal(rule) {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// Exists reports whether a matching rule is present.
func (s *MemoryStore) Exists(ctx context.Context, rule Rule) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.rules {
		if r.Equal(rule) {
			return true, nil
		}
	}
	return false, nil
}

// Close closes the memory store.
func (s *MemoryStore) Close() error {
	return nil
}
