package nl2sql

type DraftStatus string

const (
	StatusSuccess            DraftStatus = "success"
	StatusNeedsClarification DraftStatus = "needs_clarification"
	StatusError              DraftStatus = "error"
)

type DraftSource string

const (
	SourceTemplate DraftSource = "template"
	SourceBuilder  DraftSource = "builder"
)

type MissingParameter struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	ValidationHint string `json:"validation_hint"`
}

// ExtractionRequest pairs a user query with a matched template. Known carries
// values resolved in earlier turns of the same conversation.
type ExtractionRequest struct {
	UserQuery string         `json:"user_query"`
	Template  QueryTemplate  `json:"template"`
	Known     map[string]any `json:"known,omitempty"`
}

// SQLDraft is the result of extraction or query building. Drafts are never
// mutated once returned; later stages produce new values.
type SQLDraft struct {
	Status               DraftStatus           `json:"status"`
	Source               DraftSource           `json:"source"`
	CompletedSQL         *string               `json:"completed_sql"`
	UserQuery            string                `json:"user_query"`
	TemplateName         string                `json:"template_name,omitempty"`
	ExtractedParameters  map[string]any        `json:"extracted_parameters"`
	ParameterDefinitions []ParameterDefinition `json:"parameter_definitions"`
	PartialCacheParams   []string              `json:"partial_cache_params"`
	MissingParameters    []MissingParameter    `json:"missing_parameters,omitempty"`
	Error                string                `json:"error,omitempty"`
}

func (d SQLDraft) SQL() string {
	if d.CompletedSQL == nil {
		return ""
	}
	return *d.CompletedSQL
}

func BuilderDraft(userQuery, sql string) SQLDraft {
	return SQLDraft{
		Status:               StatusSuccess,
		Source:               SourceBuilder,
		CompletedSQL:         &sql,
		UserQuery:            userQuery,
		ParameterDefinitions: []ParameterDefinition{},
		PartialCacheParams:   []string{},
	}
}

func ErrorDraft(source DraftSource, userQuery, message string) SQLDraft {
	return SQLDraft{
		Status:               StatusError,
		Source:               source,
		UserQuery:            userQuery,
		ParameterDefinitions: []ParameterDefinition{},
		PartialCacheParams:   []string{},
		Error:                message,
	}
}

// Response is the caller-facing result of a data question.
type Response struct {
	Success  bool             `json:"success"`
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
	Error    *string          `json:"error"`
	SQL      string           `json:"sql,omitempty"`
	Source   DraftSource      `json:"source,omitempty"`
}

func ErrorResponse(message string) Response {
	return Response{
		Success: false,
		Columns: []string{},
		Rows:    []map[string]any{},
		Error:   &message,
	}
}
