// Package sqldb runs queries against Postgres or MySQL through database/sql.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/querypilot/querypilot/internal/query"
)

type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

func driverName(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "pgx":
		return "pgx", nil
	case "mysql":
		return "mysql", nil
	default:
		return "", fmt.Errorf("unsupported sql driver %q", driver)
	}
}

// Open connects to the target database and pings it.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	name, err := driverName(cfg.Driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(name, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", cfg.Driver, err)
	}
	return db, nil
}

// Engine executes each query inside a read-only transaction that is always
// rolled back.
type Engine struct {
	db      *sql.DB
	dialect string
}

func NewEngine(db *sql.DB, dialect string) *Engine {
	if dialect == "" {
		dialect = "postgres"
	}
	return &Engine{db: db, dialect: dialect}
}

func (e *Engine) Dialect() string {
	return e.dialect
}

func (e *Engine) HealthCheck(ctx context.Context) error {
	if err := e.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping target db: %w", err)
	}
	return nil
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	if strings.TrimSpace(request.SQL) == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}
	start := time.Now()

	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return query.Result{}, fmt.Errorf("begin read-only transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, query.LimitSQL(request.SQL, request.RowLimit))
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
