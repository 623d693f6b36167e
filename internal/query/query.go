// Package query executes read-only SQL and shapes the outcome for callers.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type Request struct {
	SQL      string
	RowLimit int
}

type Result struct {
	Columns   []string
	Rows      [][]any
	Truncated bool
	Duration  time.Duration
}

type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
	// Dialect names the SQL flavour the engine understands.
	Dialect() string
	HealthCheck(ctx context.Context) error
}

// ExecutionResult is the tool-shaped outcome of a query. It always carries
// non-nil Columns and Rows so it encodes as arrays.
type ExecutionResult struct {
	Success   bool             `json:"success"`
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	RowCount  int              `json:"row_count"`
	Error     *string          `json:"error"`
	Truncated bool             `json:"truncated,omitempty"`
}

func failure(message string) ExecutionResult {
	return ExecutionResult{
		Success: false,
		Columns: []string{},
		Rows:    []map[string]any{},
		Error:   &message,
	}
}

func rowsToMaps(columns []string, rows [][]any) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		record := make(map[string]any, len(columns))
		for i, column := range columns {
			if i < len(row) {
				record[column] = row[i]
			}
		}
		out = append(out, record)
	}
	return out
}

// ScanRows reads at most limit rows (all rows when limit <= 0) and reports
// whether more were available.
func ScanRows(rows *sql.Rows, limit int) ([]string, [][]any, bool, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, false, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	truncated := false
	for rows.Next() {
		if limit > 0 && len(resultRows) == limit {
			truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, nil, false, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return nil, nil, false, fmt.Errorf("iterate rows: %w", err)
	}
	return columns, resultRows, truncated, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

// LimitSQL wraps a statement so the database returns at most limit+1 rows,
// which lets ScanRows detect truncation.
func LimitSQL(statement string, limit int) string {
	if limit <= 0 {
		return statement
	}
	return fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", statement, limit+1)
}
