package stream

import (
	"context"
	"sync"
)

// MemoryDeadLetterStore keeps dead letters in memory, newest first on List.
type MemoryDeadLetterStore struct {
	mu      sync.RWMutex
	letters []DeadLetter
}

func NewMemoryDeadLetterStore() *MemoryDeadLetterStore {
	return &MemoryDeadLetterStore{}
}

func (s *MemoryDeadLetterStore) Add(_ context.Context, dl DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.letters = append(s.letters, dl)
	return nil
}

func (s *MemoryDeadLetterStore) List(_ context.Context, limit int) ([]DeadLetter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]DeadLetter, 0, min(limit, len(s.letters)))
	for i := len(s.letters) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.letters[i])
	}
	return out, nil
}
