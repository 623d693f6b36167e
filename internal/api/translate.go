package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/querypilot/querypilot/internal/catalog"
	"github.com/querypilot/querypilot/internal/nl2sql"
)

const translateTableLimit = 12

type translateRequest struct {
	Prompt string `json:"prompt"`
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Tables == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "table metadata is not configured", false, nil)
		return
	}
	if err := requireRole(r, "query_reader"); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	tables, err := deps.Tables.ListTables(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_FETCH_FAILED", "failed to load schema context", true, map[string]any{"details": err.Error()})
		return
	}
	if tables == nil {
		tables = []catalog.TableMetadata{}
	}
	response := map[string]any{"tables": tables}
	if deps.SQL != nil {
		response["dialect"] = deps.SQL.Dialect()
	}
	writeJSON(w, http.StatusOK, response)
}

func handleTranslateQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Translator == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "TRANSLATE_NOT_CONFIGURED", "query translation is not configured", false, nil)
		return
	}

	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "TENANT_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := requireRole(r, "query_reader"); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var req translateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid translation request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "PROMPT_REQUIRED", "prompt is required", false, nil)
		return
	}

	tables, err := relevantTables(r.Context(), deps, req.Prompt)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_FETCH_FAILED", "failed to load schema context", true, map[string]any{"details": err.Error()})
		return
	}
	request := nl2sql.Request{
		TenantID:        tenantID,
		NaturalLanguage: req.Prompt,
		Tables:          tables,
	}
	if deps.SQL != nil {
		request.Dialect = deps.SQL.Dialect()
		request.RowLimit = deps.SQL.RowLimit()
	}

	result, err := deps.Translator.Translate(r.Context(), request)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "TRANSLATE_FAILED", "failed to translate query", true, map[string]any{"details": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sql":      result.SQL,
		"provider": result.Provider,
		"model":    result.Model,
	})
}

func relevantTables(ctx context.Context, deps Dependencies, prompt string) ([]catalog.TableMetadata, error) {
	if deps.Tables == nil {
		return []catalog.TableMetadata{}, nil
	}
	tables, err := deps.Tables.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return catalog.Relevant(tables, prompt, translateTableLimit), nil
}
