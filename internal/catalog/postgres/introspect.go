package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/querypilot/querypilot/internal/catalog"
)

// Introspector reads table metadata from information_schema. It works against
// Postgres and, with Placeholder set to "?", MySQL.
type Introspector struct {
	db     *sql.DB
	schema string
	// Placeholder is the bind parameter syntax of the driver.
	Placeholder string
}

func NewIntrospector(db *sql.DB, schema string) *Introspector {
	if strings.TrimSpace(schema) == "" {
		schema = "public"
	}
	return &Introspector{db: db, schema: schema, Placeholder: "$1"}
}

func (i *Introspector) HealthCheck(ctx context.Context) error {
	if err := i.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping target db: %w", err)
	}
	return nil
}

func (i *Introspector) ListTables(ctx context.Context) ([]catalog.TableMetadata, error) {
	query := `
SELECT c.table_name, c.column_name, c.data_type, c.is_nullable
FROM information_schema.columns c
JOIN information_schema.tables t
  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
WHERE c.table_schema = ` + i.Placeholder + ` AND t.table_type IN ('BASE TABLE', 'VIEW')
ORDER BY c.table_name ASC, c.ordinal_position ASC`

	rows, err := i.db.QueryContext(ctx, query, i.schema)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := make([]catalog.TableMetadata, 0)
	index := map[string]int{}
	for rows.Next() {
		var tableName, columnName, dataType, nullable string
		if err := rows.Scan(&tableName, &columnName, &dataType, &nullable); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		pos, ok := index[tableName]
		if !ok {
			pos = len(tables)
			index[tableName] = pos
			tables = append(tables, catalog.TableMetadata{Name: tableName, Schema: i.schema})
		}
		tables[pos].Columns = append(tables[pos].Columns, catalog.Column{
			Name:     columnName,
			Type:     dataType,
			Nullable: strings.EqualFold(nullable, "YES"),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column rows: %w", err)
	}
	return tables, nil
}
