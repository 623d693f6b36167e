// Package conversation keeps per-conversation workflow state: the pending
// clarification, if any, and a bounded history of turns. Records are keyed
// by tenant and conversation id and are never visible across either.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/querypilot/querypilot/internal/nl2sql"
)

var ErrNotFound = errors.New("conversation not found")

type State string

const (
	StateAwaitingInput         State = "awaiting_input"
	StateClassifyingIntent     State = "classifying_intent"
	StateAwaitingClarification State = "awaiting_clarification"
	StateProcessingDataQuery   State = "processing_data_query"
	StateConversationalReply   State = "conversational_reply"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// PendingExtraction is an extraction stalled on missing parameters.
type PendingExtraction struct {
	Template      nl2sql.QueryTemplate      `json:"template"`
	Known         map[string]any            `json:"known"`
	Missing       []nl2sql.MissingParameter `json:"missing"`
	OriginalQuery string                    `json:"original_query"`
	CreatedAt     time.Time                 `json:"created_at"`
}

type Record struct {
	TenantID       string             `json:"tenant_id"`
	ConversationID string             `json:"conversation_id"`
	State          State              `json:"state"`
	Pending        *PendingExtraction `json:"pending,omitempty"`
	History        []Turn             `json:"history"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// AppendTurn adds a turn and keeps at most limit turns. A limit of zero or
// less keeps everything.
func (r *Record) AppendTurn(role Role, content string, at time.Time, limit int) {
	r.History = append(r.History, Turn{Role: role, Content: content, At: at})
	if limit > 0 && len(r.History) > limit {
		r.History = append([]Turn(nil), r.History[len(r.History)-limit:]...)
	}
}

type Store interface {
	Get(ctx context.Context, tenantID, conversationID string) (Record, error)
	Save(ctx context.Context, record Record) error
	Delete(ctx context.Context, tenantID, conversationID string) error
}

// ValidateKey rejects ids that would make keys ambiguous.
func ValidateKey(tenantID, conversationID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return fmt.Errorf("tenant id is required")
	}
	if strings.TrimSpace(conversationID) == "" {
		return fmt.Errorf("conversation id is required")
	}
	if strings.ContainsAny(tenantID, ":\x00") || strings.ContainsAny(conversationID, ":\x00") {
		return fmt.Errorf("ids must not contain ':'")
	}
	return nil
}
