package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/querypilot/querypilot/internal/auth"
	"github.com/querypilot/querypilot/internal/query"
)

func TestQueryEndpointReturnsToolResult(t *testing.T) {
	cfg := loadConfig(t, map[string]string{})
	engine := &fakeQueryEngine{result: query.Result{Columns: []string{"c"}, Rows: [][]any{{int64(2)}}}}
	service := NewHandler(cfg, Dependencies{SQL: newTool(t, engine)})

	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"sql":"SELECT 2 AS c;","row_limit":5}`))
	rr := httptest.NewRecorder()
	service.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	body := decodeJSON(t, rr)
	if body["success"] != true || body["row_count"] != float64(1) {
		t.Fatalf("body = %v", body)
	}
	rows, ok := body["rows"].([]any)
	if !ok || len(rows) != 1 || rows[0].(map[string]any)["c"] != float64(2) {
		t.Fatalf("rows = %v", body["rows"])
	}
	if len(engine.requests) != 1 || engine.requests[0].RowLimit != 5 {
		t.Fatalf("engine requests = %+v", engine.requests)
	}
}

func TestQueryEndpointShapesExecutionErrors(t *testing.T) {
	cfg := loadConfig(t, map[string]string{})
	engine := &fakeQueryEngine{err: errors.New(`relation "nope" does not exist`)}
	service := NewHandler(cfg, Dependencies{SQL: newTool(t, engine)})

	rr := httptest.NewRecorder()
	service.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"sql":"SELECT * FROM nope"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	body := decodeJSON(t, rr)
	if body["success"] != false || body["error"] != `relation "nope" does not exist` {
		t.Fatalf("body = %v", body)
	}
	if columns, ok := body["columns"].([]any); !ok || len(columns) != 0 {
		t.Fatalf("columns = %v", body["columns"])
	}
}

func TestQueryEndpointRejectsWrites(t *testing.T) {
	cfg := loadConfig(t, map[string]string{})
	engine := &fakeQueryEngine{}
	service := NewHandler(cfg, Dependencies{SQL: newTool(t, engine)})

	for _, payload := range []string{
		`{"sql":"DELETE FROM orders"}`,
		`{"sql":"SELECT 1; DROP TABLE orders"}`,
		`{"sql":"  "}`,
		`{"sql":"SELECT 1","unknown":true}`,
	} {
		rr := httptest.NewRecorder()
		service.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(payload)))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("payload %s status = %d", payload, rr.Code)
		}
	}
	if len(engine.requests) != 0 {
		t.Fatalf("engine should not be called, got %d requests", len(engine.requests))
	}
}

func TestQueryEndpointRequiresSQLRunnerRole(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"QUERYPILOT_AUTH_REQUIRED": "true"})
	validator, err := auth.NewStaticAPIKeyValidator("reader:t1:query_reader,runner:t1:sql_runner")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}
	engine := &fakeQueryEngine{result: query.Result{Columns: []string{"one"}, Rows: [][]any{{int64(1)}}}}
	service := NewHandler(cfg, Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		SQL:            newTool(t, engine),
	})

	for key, want := range map[string]int{"reader": http.StatusForbidden, "runner": http.StatusOK} {
		req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"sql":"SELECT 1 AS one"}`))
		req.Header.Set("X-API-Key", key)
		rr := httptest.NewRecorder()
		service.ServeHTTP(rr, req)
		if rr.Code != want {
			t.Fatalf("key %s status = %d, want %d", key, rr.Code, want)
		}
	}
}

func newTool(t *testing.T, engine query.Engine) *query.Tool {
	t.Helper()
	tool, err := query.NewTool(engine, query.ToolOptions{RowLimit: 100})
	if err != nil {
		t.Fatalf("query.NewTool() error = %v", err)
	}
	return tool
}

type fakeQueryEngine struct {
	requests []query.Request
	result   query.Result
	err      error
}

func (f *fakeQueryEngine) Execute(_ context.Context, request query.Request) (query.Result, error) {
	f.requests = append(f.requests, request)
	if f.err != nil {
		return query.Result{}, f.err
	}
	return f.result, nil
}

func (f *fakeQueryEngine) Dialect() string { return "postgres" }

func (f *fakeQueryEngine) HealthCheck(context.Context) error { return nil }
