package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/querypilot/querypilot/internal/history"
)

func TestAppendReturnsGeneratedFields(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	created := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO query_history`).
		WithArgs("t1", "c1", "orders for customer 42", "SELECT 1", "template", "orders_by_customer", true, 3, "", int64(250)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), created))

	entry, err := repo.Append(context.Background(), history.Entry{
		TenantID:       "t1",
		ConversationID: "c1",
		Question:       "orders for customer 42",
		SQL:            "SELECT 1",
		Source:         "template",
		TemplateName:   "orders_by_customer",
		Success:        true,
		RowCount:       3,
		Duration:       250 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if entry.ID != 7 || !entry.CreatedAt.Equal(created) {
		t.Fatalf("Append() = %+v", entry)
	}
	assertSQLMock(t, mock)
}

func TestAppendWrapsErrors(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectQuery(`INSERT INTO query_history`).WillReturnError(sql.ErrConnDone)

	_, err := NewRepository(db).Append(context.Background(), history.Entry{TenantID: "t1"})
	if !errors.Is(err, sql.ErrConnDone) {
		t.Fatalf("Append() error = %v, want wrapped ErrConnDone", err)
	}
	assertSQLMock(t, mock)
}

func TestListByConversation(t *testing.T) {
	db, mock := newSQLMock(t)
	created := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	columns := []string{"id", "tenant_id", "conversation_id", "question", "sql_text", "source", "template_name",
		"success", "row_count", "error_message", "duration_ms", "created_at"}

	mock.ExpectQuery(`SELECT id, tenant_id, conversation_id, question, sql_text, source, template_name`).
		WithArgs("t1", "c1", history.DefaultListLimit).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(int64(2), "t1", "c1", "how many customers", "SELECT COUNT(*) FROM customers", "builder", "", true, 1, "", int64(40), created).
			AddRow(int64(1), "t1", "c1", "drop it", "", "builder", "", false, 0, "query rejected", int64(0), created.Add(-time.Minute)))

	entries, err := NewRepository(db).ListByConversation(context.Background(), "t1", "c1", 0)
	if err != nil {
		t.Fatalf("ListByConversation() error = %v", err)
	}
	if len(entries) != 2 || entries[0].ID != 2 || entries[0].Duration != 40*time.Millisecond {
		t.Fatalf("ListByConversation() = %+v", entries)
	}
	if entries[1].Success || entries[1].Error != "query rejected" {
		t.Fatalf("failed entry = %+v", entries[1])
	}
	assertSQLMock(t, mock)
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
