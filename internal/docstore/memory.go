package docstore

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[Key]*Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[Key]*Record)}
}

// FindOne returns the record for key, or ErrNotFound.
func (s *MemoryStore) FindOne(ctx context.Context, key Key) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

// FindOrCreate returns the existing record or stores defaultRecord.
func (s *MemoryStore) FindOrCreate(ctx context.Context, key Key, defaultRecord *Record) (bool, *Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.records[key]; ok {
		return true, r.Clone(), nil
	}
	s.records[key] = defaultRecord.Clone()
	return false, defaultRecord.Clone(), nil
}

// InsertOne creates a new record, failing with ErrDuplicateKey on collision.
func (s *MemoryStore) InsertOne(ctx context.Context, record *Record) error {
	key := Key{TenantID: record.TenantID, DocumentID: record.DocumentID}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[key]; ok {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateKey, key.TenantID, key.DocumentID)
	}
	s.records[key] = record.Clone()
	return nil
}

// Update applies sets and appends under the store lock, so concurrent
// appends to the same record are serialized rather than lost.
func (s *MemoryStore) Update(ctx context.Context, key Key, sets map[string]any, appends map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[key]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, key.TenantID, key.DocumentID)
	}

	for field, value := range sets {
		switch field {
		case FieldSequenceNumber:
			n, ok := value.(int64)
			if !ok {
				return fmt.Errorf("set %s: expected int64, got %T", field, value)
			}
			r.SequenceNumber = n
		case FieldMinimumSequenceNumber:
			n, ok := value.(int64)
			if !ok {
				return fmt.Errorf("set %s: expected int64, got %T", field, value)
			}
			r.MinimumSequenceNumber = n
		case FieldLogOffset:
			n, ok := value.(int64)
			if !ok {
				return fmt.Errorf("set %s: expected int64, got %T", field, value)
			}
			r.LogOffset = n
		default:
			return fmt.Errorf("set %s: unsupported field", field)
		}
	}

	for field, value := range appends {
		switch field {
		case FieldForks:
			fork, ok := value.(ForkRef)
			if !ok {
				return fmt.Errorf("append %s: expected ForkRef, got %T", field, value)
			}
			r.Forks = append(r.Forks, fork)
		default:
			return fmt.Errorf("append %s: unsupported field", field)
		}
	}

	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}
