// Package postgres stores query history in the history database.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/querypilot/querypilot/internal/history"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Append(ctx context.Context, entry history.Entry) (history.Entry, error) {
	query := `
INSERT INTO query_history (
	tenant_id, conversation_id, question, sql_text, source, template_name,
	success, row_count, error_message, duration_ms
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query,
		entry.TenantID,
		entry.ConversationID,
		entry.Question,
		entry.SQL,
		entry.Source,
		entry.TemplateName,
		entry.Success,
		entry.RowCount,
		entry.Error,
		entry.Duration.Milliseconds(),
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return history.Entry{}, fmt.Errorf("insert query history: %w", err)
	}
	return entry, nil
}

func (r *Repository) ListByConversation(ctx context.Context, tenantID, conversationID string, limit int) ([]history.Entry, error) {
	if limit <= 0 {
		limit = history.DefaultListLimit
	}
	query := `
SELECT id, tenant_id, conversation_id, question, sql_text, source, template_name,
	success, row_count, error_message, duration_ms, created_at
FROM query_history
WHERE tenant_id = $1 AND conversation_id = $2
ORDER BY created_at DESC, id DESC
LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, tenantID, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]history.Entry, 0)
	for rows.Next() {
		var (
			entry      history.Entry
			durationMS int64
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.TenantID,
			&entry.ConversationID,
			&entry.Question,
			&entry.SQL,
			&entry.Source,
			&entry.TemplateName,
			&entry.Success,
			&entry.RowCount,
			&entry.Error,
			&durationMS,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan query history: %w", err)
		}
		entry.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate query history: %w", err)
	}
	return out, nil
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping history db: %w", err)
	}
	return nil
}
