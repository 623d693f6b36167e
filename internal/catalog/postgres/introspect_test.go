package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestIntrospectorGroupsColumnsByTable(t *testing.T) {
	db, mock := newSQLMock(t)
	introspector := NewIntrospector(db, "sales")

	mock.ExpectQuery(`FROM information_schema.columns c`).
		WithArgs("sales").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name", "data_type", "is_nullable"}).
			AddRow("customers", "customer_id", "integer", "NO").
			AddRow("customers", "name", "text", "YES").
			AddRow("orders", "order_id", "integer", "NO"))

	tables, err := introspector.ListTables(context.Background())
	if err != nil {
		t.Fatalf("ListTables() error = %v", err)
	}
	if len(tables) != 2 {
		t.Fatalf("len(tables) = %d", len(tables))
	}
	if tables[0].Name != "customers" || len(tables[0].Columns) != 2 {
		t.Fatalf("tables[0] = %+v", tables[0])
	}
	if tables[0].Columns[0].Nullable || !tables[0].Columns[1].Nullable {
		t.Fatalf("nullable flags = %+v", tables[0].Columns)
	}
	if tables[1].QualifiedName() != "sales.orders" {
		t.Fatalf("QualifiedName() = %q", tables[1].QualifiedName())
	}
	assertSQLMock(t, mock)
}

func TestIntrospectorWrapsQueryErrors(t *testing.T) {
	db, mock := newSQLMock(t)
	introspector := NewIntrospector(db, "")

	mock.ExpectQuery(`FROM information_schema.columns c`).
		WithArgs("public").
		WillReturnError(sql.ErrConnDone)

	_, err := introspector.ListTables(context.Background())
	if !errors.Is(err, sql.ErrConnDone) {
		t.Fatalf("ListTables() error = %v", err)
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
