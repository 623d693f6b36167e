package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/sqlguard"
)

type ToolOptions struct {
	RowLimit int
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Tool runs guarded SQL on an engine. Run never returns an error or panics;
// every failure becomes an ExecutionResult with Success false.
type Tool struct {
	engine   Engine
	rowLimit int
	timeout  time.Duration
	logger   *slog.Logger
}

func NewTool(engine Engine, opts ToolOptions) (*Tool, error) {
	if engine == nil {
		return nil, fmt.Errorf("query engine is required")
	}
	rowLimit := opts.RowLimit
	if rowLimit <= 0 {
		rowLimit = 500
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tool{engine: engine, rowLimit: rowLimit, timeout: timeout, logger: logger}, nil
}

func (t *Tool) Dialect() string {
	return t.engine.Dialect()
}

func (t *Tool) RowLimit() int {
	return t.rowLimit
}

func (t *Tool) Run(ctx context.Context, sql string) ExecutionResult {
	return t.RunWithLimit(ctx, sql, 0)
}

// RunWithLimit is Run with a per-call row limit. Limits above the tool's
// configured limit are clamped.
func (t *Tool) RunWithLimit(ctx context.Context, sql string, rowLimit int) (result ExecutionResult) {
	defer func() {
		if recovered := recover(); recovered != nil {
			t.logger.ErrorContext(ctx, "query execution panicked", append(observability.RequestAttrs(ctx), "panic", recovered)...)
			observability.ObserveQueryExecution("failed", 0)
			result = failure(fmt.Sprintf("query execution failed: %v", recovered))
		}
	}()

	guard := sqlguard.Validate(sql)
	if !guard.Valid {
		observability.ObserveQueryExecution("rejected", 0)
		return failure("query rejected: " + guard.Reason)
	}
	if rowLimit <= 0 || rowLimit > t.rowLimit {
		rowLimit = t.rowLimit
	}

	execCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	res, err := t.engine.Execute(execCtx, Request{SQL: guard.Statement, RowLimit: rowLimit})
	if err != nil {
		observability.ObserveQueryExecution("failed", 0)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return failure(fmt.Sprintf("query timed out after %s", t.timeout))
		}
		t.logger.WarnContext(ctx, "query execution failed", append(observability.RequestAttrs(ctx), "error", err)...)
		return failure(err.Error())
	}

	columns := res.Columns
	if columns == nil {
		columns = []string{}
	}
	rows := rowsToMaps(columns, res.Rows)
	observability.ObserveQueryExecution("success", len(rows))
	t.logger.DebugContext(ctx, "query executed", append(observability.RequestAttrs(ctx),
		"rows", len(rows),
		"duration_ms", res.Duration.Milliseconds(),
	)...)
	return ExecutionResult{
		Success:   true,
		Columns:   columns,
		Rows:      rows,
		RowCount:  len(rows),
		Truncated: res.Truncated,
	}
}
