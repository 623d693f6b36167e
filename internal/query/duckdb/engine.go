// Package duckdb runs queries in DuckDB over an optional database file and
// parquet datasets pulled from the object store.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	duckdbdriver "github.com/marcboeker/go-duckdb/v2"

	"github.com/querypilot/querypilot/internal/query"
	"github.com/querypilot/querypilot/internal/storage"
)

type Config struct {
	// Path is the DuckDB database file; empty means in-memory.
	Path     string
	Store    storage.ObjectStore
	Datasets []storage.Dataset
}

type Engine struct {
	db       *sql.DB
	store    storage.ObjectStore
	datasets []storage.Dataset

	mu      sync.Mutex
	workDir string
}

// Open opens DuckDB and exposes every dataset as a view.
func Open(ctx context.Context, cfg Config) (*Engine, error) {
	if len(cfg.Datasets) > 0 && cfg.Store == nil {
		return nil, fmt.Errorf("object store is required for parquet datasets")
	}
	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	engine := &Engine{db: db, store: cfg.Store, datasets: cfg.Datasets}
	if err := engine.Refresh(ctx); err != nil {
		_ = engine.Close()
		return nil, err
	}
	return engine, nil
}

func (e *Engine) Dialect() string {
	return "duckdb"
}

// DB exposes the underlying connection for schema introspection.
func (e *Engine) DB() *sql.DB {
	return e.db
}

func (e *Engine) HealthCheck(ctx context.Context) error {
	if err := e.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping duckdb: %w", err)
	}
	return nil
}

// Refresh downloads the current dataset objects and recreates the views.
func (e *Engine) Refresh(ctx context.Context) error {
	if len(e.datasets) == 0 {
		return nil
	}
	workDir, err := os.MkdirTemp("", "querypilot-duckdb-")
	if err != nil {
		return fmt.Errorf("create dataset temp dir: %w", err)
	}

	groupedPaths := map[string][]string{}
	for _, dataset := range e.datasets {
		objects, err := storage.ResolveObjects(ctx, e.store, dataset)
		if err != nil {
			_ = os.RemoveAll(workDir)
			return err
		}
		for index, object := range objects {
			localPath := filepath.Join(workDir, fmt.Sprintf("%s_%d.parquet", sanitizeFileComponent(dataset.Table), index))
			if err := e.download(ctx, object.Key, localPath); err != nil {
				_ = os.RemoveAll(workDir)
				return err
			}
			groupedPaths[dataset.Table] = append(groupedPaths[dataset.Table], localPath)
		}
	}

	for tableName, localPaths := range groupedPaths {
		viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)`, quoteIdent(tableName), quoteStringArray(localPaths))
		if _, err := e.db.ExecContext(ctx, viewSQL); err != nil {
			_ = os.RemoveAll(workDir)
			return fmt.Errorf("create view for table %q: %w", tableName, err)
		}
	}

	e.mu.Lock()
	previous := e.workDir
	e.workDir = workDir
	e.mu.Unlock()
	if previous != "" {
		_ = os.RemoveAll(previous)
	}
	return nil
}

func (e *Engine) download(ctx context.Context, key, localPath string) error {
	reader, err := e.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("get object %q: %w", key, err)
	}
	if err := writeFile(localPath, reader); err != nil {
		_ = reader.Close()
		return fmt.Errorf("write local parquet file %q: %w", localPath, err)
	}
	if err := reader.Close(); err != nil {
		return fmt.Errorf("close object %q: %w", key, err)
	}
	return nil
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	sqlText := stripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}
	start := time.Now()

	statement := query.LimitSQL(sqlText, request.RowLimit)
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return query.Result{}, fmt.Errorf("acquire duckdb connection: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if err := conn.Raw(func(driverConn any) error { return requireSingleSelect(driverConn, statement) }); err != nil {
		return query.Result{}, err
	}

	rows, err := conn.QueryContext(ctx, statement)
	if err != nil {
		return query.Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, resultRows, truncated, err := query.ScanRows(rows, request.RowLimit)
	if err != nil {
		return query.Result{}, err
	}
	return query.Result{
		Columns:   columns,
		Rows:      resultRows,
		Truncated: truncated,
		Duration:  time.Since(start),
	}, nil
}

// requireSingleSelect prepares statement without running it. The driver has
// no read-only transactions and executes every statement in a batch, so the
// text must parse as exactly one SELECT.
func requireSingleSelect(driverConn any, statement string) error {
	conn, ok := driverConn.(*duckdbdriver.Conn)
	if !ok {
		return fmt.Errorf("unexpected duckdb driver connection %T", driverConn)
	}
	stmt, err := conn.Prepare(statement)
	if err != nil {
		return fmt.Errorf("prepare query: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	prepared, ok := stmt.(*duckdbdriver.Stmt)
	if !ok {
		return fmt.Errorf("unexpected duckdb statement %T", stmt)
	}
	kind, err := prepared.StatementType()
	if err != nil {
		return fmt.Errorf("inspect query: %w", err)
	}
	if kind != duckdbdriver.STATEMENT_TYPE_SELECT {
		return fmt.Errorf("only single SELECT statements can run on duckdb")
	}
	return nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	workDir := e.workDir
	e.workDir = ""
	e.mu.Unlock()
	err := e.db.Close()
	if workDir != "" {
		_ = os.RemoveAll(workDir)
	}
	return err
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, `'`+strings.ReplaceAll(value, `'`, `''`)+`'`)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "table"
	}
	return value
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
