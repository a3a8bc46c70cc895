package provenance

import (
	"context"
	"sync"

	"github.com/CJ-Wright/SHED/errors"
)

// Store persists provenance records. Put assigns the record's Order and
// rejects a document uid that was already recorded.
type Store interface {
	Put(ctx context.Context, record *Record) error
	Get(ctx context.Context, documentUID string) (*Record, error)
	ByRun(ctx context.Context, runStartUID string) ([]*Record, error)
	List(ctx context.Context) ([]*Record, error)
}

// MemoryStore keeps records in process memory, in insertion order. It is
// safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	byUID   map[string]*Record
	ordered []*Record
	next    uint64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byUID: make(map[string]*Record)}
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, record *Record) error {
	if err := record.Validate(); err != nil {
		return errors.Wrap(err, "MemoryStore", "Put", "validate record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byUID[record.DocumentUID]; exists {
		return errors.WrapInvalid(errors.ErrDuplicateUID, "MemoryStore", "Put",
			"document "+record.DocumentUID)
	}

	s.next++
	record.Order = s.next
	stored := *record
	s.byUID[record.DocumentUID] = &stored
	s.ordered = append(s.ordered, &stored)
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, documentUID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.byUID[documentUID]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrRecordNotFound, "MemoryStore", "Get",
			"document "+documentUID)
	}
	out := *record
	return &out, nil
}

// ByRun implements Store. Records are returned in insertion order.
func (s *MemoryStore) ByRun(_ context.Context, runStartUID string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	for _, record := range s.ordered {
		if record.RunStart == runStartUID {
			copied := *record
			out = append(out, &copied)
		}
	}
	return out, nil
}

// List implements Store. Records are returned in insertion order.
func (s *MemoryStore) List(_ context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Record, 0, len(s.ordered))
	for _, record := range s.ordered {
		copied := *record
		out = append(out, &copied)
	}
	return out, nil
}
