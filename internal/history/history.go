// Package history records executed questions per conversation.
package history

import (
	"context"
	"sync"
	"time"
)

type Entry struct {
	ID             int64         `json:"id"`
	TenantID       string        `json:"tenant_id"`
	ConversationID string        `json:"conversation_id"`
	Question       string        `json:"question"`
	SQL            string        `json:"sql"`
	Source         string        `json:"source"`
	TemplateName   string        `json:"template_name,omitempty"`
	Success        bool          `json:"success"`
	RowCount       int           `json:"row_count"`
	Error          string        `json:"error,omitempty"`
	Duration       time.Duration `json:"duration_ns"`
	CreatedAt      time.Time     `json:"created_at"`
}

type Store interface {
	Append(ctx context.Context, entry Entry) (Entry, error)
	ListByConversation(ctx context.Context, tenantID, conversationID string, limit int) ([]Entry, error)
}

const DefaultListLimit = 50

// MemoryStore keeps entries in process. It backs the service when no
// history database is configured.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	entries []Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, entry Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	entry.ID = s.nextID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.entries = append(s.entries, entry)
	return entry, nil
}

// ListByConversation returns the newest entries first.
func (s *MemoryStore) ListByConversation(_ context.Context, tenantID, conversationID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0)
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		entry := s.entries[i]
		if entry.TenantID == tenantID && entry.ConversationID == conversationID {
			out = append(out, entry)
		}
	}
	return out, nil
}
