package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/querypilot/querypilot/internal/auth"
	"github.com/querypilot/querypilot/internal/catalog"
	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/conversation"
	"github.com/querypilot/querypilot/internal/history"
	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/query"
	"github.com/querypilot/querypilot/internal/workflow"
)

type ReadinessCheck func(ctx context.Context) error

// ChatService is the conversational surface of the workflow orchestrator.
type ChatService interface {
	Handle(ctx context.Context, msg workflow.Message) (workflow.Reply, error)
	Conversation(ctx context.Context, tenantID, conversationID string) (conversation.Record, error)
	Reset(ctx context.Context, tenantID, conversationID string) error
	QueryHistory(ctx context.Context, tenantID, conversationID string, limit int) ([]history.Entry, error)
}

// SQLRunner executes read-only SQL. *query.Tool satisfies it.
type SQLRunner interface {
	RunWithLimit(ctx context.Context, sql string, rowLimit int) query.ExecutionResult
	Dialect() string
	RowLimit() int
}

type TemplateCatalog interface {
	Lookup(name string) (nl2sql.QueryTemplate, bool)
	Names() []string
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Chat              ChatService
	SQL               SQLRunner
	Translator        nl2sql.Translator
	Tables            catalog.Provider
	Extractor         workflow.Extractor
	Templates         TemplateCatalog
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	protected.HandleFunc("POST /v1/chat", func(w http.ResponseWriter, r *http.Request) {
		handleChat(deps, w, r)
	})
	protected.Handle("POST /v1/query", auth.RequireRole(auth.RoleSQLRunner, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleQuery(deps, w, r)
	})))
	protected.HandleFunc("POST /v1/query/translate", func(w http.ResponseWriter, r *http.Request) {
		handleTranslateQuery(deps, w, r)
	})
	protected.HandleFunc("GET /v1/schema", func(w http.ResponseWriter, r *http.Request) {
		handleSchema(deps, w, r)
	})
	protected.HandleFunc("POST /v1/extract", func(w http.ResponseWriter, r *http.Request) {
		handleExtract(deps, w, r)
	})
	protected.HandleFunc("GET /v1/templates", func(w http.ResponseWriter, r *http.Request) {
		handleListTemplates(deps, w, r)
	})
	protected.HandleFunc("GET /v1/conversations/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleGetConversation(deps, w, r)
	})
	protected.HandleFunc("DELETE /v1/conversations/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteConversation(deps, w, r)
	})
	protected.HandleFunc("GET /v1/conversations/{id}/history", func(w http.ResponseWriter, r *http.Request) {
		handleConversationHistory(deps, w, r)
	})

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	} else {
		protectedHandler = auth.Anonymous(protectedHandler)
	}
	mux.Handle("POST /v1/chat", protectedHandler)
	mux.Handle("POST /v1/query", protectedHandler)
	mux.Handle("POST /v1/query/translate", protectedHandler)
	mux.Handle("GET /v1/schema", protectedHandler)
	mux.Handle("POST /v1/extract", protectedHandler)
	mux.Handle("GET /v1/templates", protectedHandler)
	mux.Handle("GET /v1/conversations/{id}", protectedHandler)
	mux.Handle("DELETE /v1/conversations/{id}", protectedHandler)
	mux.Handle("GET /v1/conversations/{id}/history", protectedHandler)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckDatabaseDSN(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Database.Driver != "duckdb" && cfg.Database.DSN == "" {
			return errors.New("database dsn is not configured")
		}
		return nil
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if !cfg.ObjectStore.Enabled {
			return nil
		}
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

// HealthChecker is any dependency that can ping its backend.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

func CheckHealth(name string, checker HealthChecker) ReadinessCheck {
	return func(ctx context.Context) error {
		if err := checker.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func tenantFromRequest(r *http.Request) (string, error) {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		if strings.TrimSpace(identity.TenantID) != "" {
			return identity.TenantID, nil
		}
	}
	return "", fmt.Errorf("tenant context is required")
}

func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.HasRole(role) {
		return nil
	}
	return fmt.Errorf("missing required role %q", role)
}

func decodeBody(r *http.Request, out any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
