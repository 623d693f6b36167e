package conversation

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	record  Record
	expires time.Time
}

// MemoryStore keeps records in process until they expire.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	records map[string]memoryEntry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, now: time.Now, records: map[string]memoryEntry{}}
}

func memoryKey(tenantID, conversationID string) string {
	return tenantID + ":" + conversationID
}

func (s *MemoryStore) Get(_ context.Context, tenantID, conversationID string) (Record, error) {
	if err := ValidateKey(tenantID, conversationID); err != nil {
		return Record{}, err
	}
	key := memoryKey(tenantID, conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.records[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	if s.ttl > 0 && !s.now().Before(entry.expires) {
		delete(s.records, key)
		return Record{}, ErrNotFound
	}
	return entry.record, nil
}

func (s *MemoryStore) Save(_ context.Context, record Record) error {
	if err := ValidateKey(record.TenantID, record.ConversationID); err != nil {
		return err
	}
	now := s.now()
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}
	record.History = append([]Turn(nil), record.History...)
	s.mu.Lock()
	s.records[memoryKey(record.TenantID, record.ConversationID)] = memoryEntry{record: record, expires: now.Add(s.ttl)}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, tenantID, conversationID string) error {
	if err := ValidateKey(tenantID, conversationID); err != nil {
		return err
	}
	key := memoryKey(tenantID, conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; !ok {
		return ErrNotFound
	}
	delete(s.records, key)
	return nil
}
