package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/validate"
)

// extractRequest names a catalog template or carries one inline.
type extractRequest struct {
	Template json.RawMessage `json:"template"`
	Query    string          `json:"query"`
	Known    map[string]any  `json:"known"`
}

type extractResponse struct {
	Draft      nl2sql.SQLDraft   `json:"draft"`
	Validation *validate.Summary `json:"validation,omitempty"`
}

func handleExtract(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Extractor == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXTRACT_NOT_CONFIGURED", "parameter extraction is not configured", false, nil)
		return
	}
	if err := requireRole(r, "query_reader"); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request extractRequest
	if err := decodeBody(r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid extraction request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Query) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUERY_REQUIRED", "query is required", false, nil)
		return
	}
	tpl, status, code, err := resolveTemplate(deps, request.Template)
	if err != nil {
		writeError(r.Context(), w, status, code, err.Error(), false, nil)
		return
	}

	draft, err := deps.Extractor.Extract(r.Context(), nl2sql.ExtractionRequest{
		UserQuery: request.Query,
		Template:  tpl,
		Known:     request.Known,
	})
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "EXTRACTION_FAILED", err.Error(), false, map[string]any{"template": tpl.Name})
		return
	}
	response := extractResponse{Draft: draft}
	if draft.Status == nl2sql.StatusSuccess {
		summary := validate.All(draft)
		response.Validation = &summary
	}
	writeJSON(w, http.StatusOK, response)
}

func resolveTemplate(deps Dependencies, raw json.RawMessage) (nl2sql.QueryTemplate, int, string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nl2sql.QueryTemplate{}, http.StatusBadRequest, "TEMPLATE_REQUIRED", fmt.Errorf("template is required")
	}
	if raw[0] == '"' {
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return nl2sql.QueryTemplate{}, http.StatusBadRequest, "INVALID_TEMPLATE", fmt.Errorf("decode template name: %w", err)
		}
		if deps.Templates == nil {
			return nl2sql.QueryTemplate{}, http.StatusNotImplemented, "TEMPLATES_NOT_CONFIGURED", fmt.Errorf("template catalog is not configured")
		}
		tpl, ok := deps.Templates.Lookup(strings.TrimSpace(name))
		if !ok {
			return nl2sql.QueryTemplate{}, http.StatusNotFound, "TEMPLATE_NOT_FOUND", fmt.Errorf("template %q was not found", name)
		}
		return tpl, 0, "", nil
	}
	var tpl nl2sql.QueryTemplate
	if err := json.Unmarshal(raw, &tpl); err != nil {
		return nl2sql.QueryTemplate{}, http.StatusBadRequest, "INVALID_TEMPLATE", fmt.Errorf("decode template: %w", err)
	}
	if err := tpl.Validate(); err != nil {
		return nl2sql.QueryTemplate{}, http.StatusBadRequest, "INVALID_TEMPLATE", err
	}
	return tpl, 0, "", nil
}
