package store

import (
	"context"
	"sync"
	"time"

	"sante/internal/identity/models"
	id "sante/pkg/domain"
	"sante/pkg/platform/sentinel"
)

// MemoryStore is a mutex-guarded map implementation of Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[id.RecordID]*models.Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[id.RecordID]*models.Record)}
}

func (s *MemoryStore) Create(_ context.Context, record *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.records {
		if existing.RealmID == record.RealmID &&
			existing.UserID == record.UserID &&
			existing.Kind == record.Kind {
			return sentinel.ErrConflict
		}
	}
	s.records[record.ID] = clone(record)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, recordID id.RecordID) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[recordID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(record), nil
}

func (s *MemoryStore) GetByUser(_ context.Context, userID id.UserID) ([]*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Record
	for _, record := range s.records {
		if record.UserID == userID {
			out = append(out, clone(record))
		}
	}
	return out, nil
}

func (s *MemoryStore) GetByUserAndKind(_ context.Context, userID id.UserID, kind models.Kind) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, record := range s.records {
		if record.UserID == userID && record.Kind == kind {
			return clone(record), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *MemoryStore) Update(_ context.Context, record *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[record.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.records[record.ID] = clone(record)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, recordID id.RecordID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[recordID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.records, recordID)
	return nil
}

func (s *MemoryStore) ListAnonymizeDue(_ context.Context, cutoff time.Time, grace time.Duration, limit int) ([]*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Record
	for _, record := range s.records {
		if len(out) >= limit {
			break
		}
		if record.AnonymizeDueBy(cutoff, grace) {
			out = append(out, clone(record))
		}
	}
	return out, nil
}

func (s *MemoryStore) FindByCorrelationHash(_ context.Context, hash string) ([]*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Record
	for _, record := range s.records {
		if record.IsAnonymized() && record.CorrelationHash == hash {
			out = append(out, clone(record))
		}
	}
	return out, nil
}

func clone(record *models.Record) *models.Record {
	c := *record
	if record.SoftDeletedAt != nil {
		t := *record.SoftDeletedAt
		c.SoftDeletedAt = &t
	}
	if record.AnonymizedAt != nil {
		t := *record.AnonymizedAt
		c.AnonymizedAt = &t
	}
	return &c
}
