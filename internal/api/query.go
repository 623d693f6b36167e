package api

import (
	"net/http"
	"strings"

	"github.com/querypilot/querypilot/internal/sqlguard"
)

type queryRequest struct {
	SQL      string `json:"sql"`
	RowLimit int    `json:"row_limit"`
}

// handleQuery runs caller-supplied SQL through the execution tool. Tool
// failures are part of the result body, not HTTP errors.
func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.SQL == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query dependencies are not configured", false, nil)
		return
	}

	var request queryRequest
	if err := decodeBody(r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}
	if check := sqlguard.Validate(request.SQL); !check.Valid {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_NOT_ALLOWED", "only a single read-only SELECT/WITH query is allowed", false, map[string]any{"reason": check.Reason})
		return
	}
	if request.RowLimit < 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ROW_LIMIT", "row_limit must not be negative", false, nil)
		return
	}

	writeJSON(w, http.StatusOK, deps.SQL.RunWithLimit(r.Context(), request.SQL, request.RowLimit))
}
