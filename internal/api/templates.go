package api

import (
	"net/http"

	"github.com/querypilot/querypilot/internal/nl2sql"
)

type templateSummary struct {
	Name        string                       `json:"name"`
	Description string                       `json:"description"`
	Questions   []string                     `json:"questions"`
	Parameters  []nl2sql.ParameterDefinition `json:"parameters"`
}

func handleListTemplates(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Templates == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "TEMPLATES_NOT_CONFIGURED", "template catalog is not configured", false, nil)
		return
	}
	if err := requireRole(r, "query_reader"); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	names := deps.Templates.Names()
	out := make([]templateSummary, 0, len(names))
	for _, name := range names {
		tpl, ok := deps.Templates.Lookup(name)
		if !ok {
			continue
		}
		summary := templateSummary{
			Name:        tpl.Name,
			Description: tpl.Description,
			Questions:   tpl.Questions,
			Parameters:  tpl.Parameters,
		}
		if summary.Questions == nil {
			summary.Questions = []string{}
		}
		if summary.Parameters == nil {
			summary.Parameters = []nl2sql.ParameterDefinition{}
		}
		out = append(out, summary)
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": out, "count": len(out)})
}
