package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/querypilot/querypilot/internal/catalog"
	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/progress"
	"github.com/querypilot/querypilot/internal/query"
	"github.com/querypilot/querypilot/internal/sqlguard"
	"github.com/querypilot/querypilot/internal/templates"
	"github.com/querypilot/querypilot/internal/validate"
)

const defaultBuilderTables = 12

// Extractor resolves template parameters.
type Extractor interface {
	Extract(ctx context.Context, req nl2sql.ExtractionRequest) (nl2sql.SQLDraft, error)
}

// Executor runs guarded read-only SQL. *query.Tool satisfies it.
type Executor interface {
	Run(ctx context.Context, sql string) query.ExecutionResult
	Dialect() string
	RowLimit() int
}

// TemplateLookup resolves a catalog template by name.
type TemplateLookup func(name string) (nl2sql.QueryTemplate, bool)

type PipelineOptions struct {
	Search templates.Searcher
	// Templates resolves templates named by resumed extractions. Resume
	// refuses every request without it.
	Templates  TemplateLookup
	Extractor  Extractor
	Translator nl2sql.Translator
	Tables     catalog.Provider
	Executor   Executor
	Reporter   progress.Reporter
	Logger     *slog.Logger
	// TopK bounds the template candidates requested from search.
	TopK int
}

// Pipeline answers one data question: template search, extraction,
// validation, guard, execution, with the query builder as fallback.
type Pipeline struct {
	search     templates.Searcher
	templates  TemplateLookup
	extractor  Extractor
	translator nl2sql.Translator
	tables     catalog.Provider
	executor   Executor
	reporter   progress.Reporter
	logger     *slog.Logger
	topK       int
}

func NewPipeline(opts PipelineOptions) (*Pipeline, error) {
	if opts.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if opts.Search == nil && opts.Translator == nil {
		return nil, fmt.Errorf("template search or query builder is required")
	}
	if opts.Search != nil && opts.Extractor == nil {
		return nil, fmt.Errorf("extractor is required with template search")
	}
	p := &Pipeline{
		search:     opts.Search,
		templates:  opts.Templates,
		extractor:  opts.Extractor,
		translator: opts.Translator,
		tables:     opts.Tables,
		executor:   opts.Executor,
		reporter:   opts.Reporter,
		logger:     opts.Logger,
		topK:       opts.TopK,
	}
	if p.reporter == nil {
		p.reporter = progress.Nop{}
	}
	if p.logger == nil {
		p.logger = observability.DiscardLogger()
	}
	if p.topK <= 0 {
		p.topK = 3
	}
	return p, nil
}

type Result struct {
	Draft nl2sql.SQLDraft `json:"draft"`
	// Template is the matched template on the template path.
	Template   *nl2sql.QueryTemplate `json:"template,omitempty"`
	Validation *validate.Summary     `json:"validation,omitempty"`
	Response   nl2sql.Response       `json:"response"`
	Duration   time.Duration         `json:"-"`
}

// NeedsClarification reports whether the question stalled on missing values.
func (r Result) NeedsClarification() bool {
	return r.Draft.Status == nl2sql.StatusNeedsClarification
}

// Run answers a new question for a tenant.
func (p *Pipeline) Run(ctx context.Context, tenantID, question string) Result {
	started := time.Now()
	if p.search != nil {
		tpl, ok := p.findTemplate(ctx, question)
		if ok {
			result := p.extractAndFinish(ctx, nl2sql.ExtractionRequest{UserQuery: question, Template: tpl})
			result.Duration = time.Since(started)
			return result
		}
	}
	result := p.build(ctx, tenantID, question)
	result.Duration = time.Since(started)
	return result
}

// Resume retries a stalled extraction with more text and known values. The
// template is replaced by the catalog copy of the same name; only the name of
// req.Template is trusted.
func (p *Pipeline) Resume(ctx context.Context, req nl2sql.ExtractionRequest) Result {
	started := time.Now()
	if p.extractor == nil || p.templates == nil {
		return refused(req.UserQuery, "template extraction is not configured")
	}
	name := strings.TrimSpace(req.Template.Name)
	tpl, ok := p.templates(name)
	if name == "" || !ok {
		p.logger.WarnContext(ctx, "resume refused for unknown template",
			append(observability.RequestAttrs(ctx), "template", name)...)
		return refused(req.UserQuery, fmt.Sprintf("template %q is not in the catalog", name))
	}
	req.Template = tpl
	result := p.extractAndFinish(ctx, req)
	result.Duration = time.Since(started)
	return result
}

func refused(question, message string) Result {
	return Result{
		Draft:    nl2sql.ErrorDraft(nl2sql.SourceTemplate, question, message),
		Response: nl2sql.ErrorResponse(message),
	}
}

func (p *Pipeline) findTemplate(ctx context.Context, question string) (nl2sql.QueryTemplate, bool) {
	done := progress.Start(ctx, p.reporter, progress.PhaseTemplateSearch)
	matches, err := p.search.Search(ctx, question, p.topK)
	switch {
	case errors.Is(err, templates.ErrNoMatch):
		done(nil, "no match")
		return nl2sql.QueryTemplate{}, false
	case err != nil:
		done(err, "")
		p.logger.WarnContext(ctx, "template search failed, falling back to query builder",
			append(observability.RequestAttrs(ctx), "error", err)...)
		return nl2sql.QueryTemplate{}, false
	case len(matches) == 0:
		done(nil, "no match")
		return nl2sql.QueryTemplate{}, false
	}
	done(nil, matches[0].Template.Name)
	return matches[0].Template, true
}

func (p *Pipeline) extractAndFinish(ctx context.Context, req nl2sql.ExtractionRequest) Result {
	tpl := req.Template
	draft, err := p.extractor.Extract(ctx, req)
	result := Result{Draft: draft, Template: &tpl}
	if err != nil {
		p.logger.WarnContext(ctx, "parameter extraction failed",
			append(observability.RequestAttrs(ctx), "template", tpl.Name, "error", err)...)
		result.Response = nl2sql.ErrorResponse(draftError(draft, err))
		return result
	}
	if draft.Status == nl2sql.StatusNeedsClarification {
		return result
	}

	done := progress.Start(ctx, p.reporter, progress.PhaseValidation)
	summary := validate.All(draft)
	result.Validation = &summary
	if !summary.Valid {
		done(fmt.Errorf("%d invalid parameters", len(summary.Failures)), tpl.Name)
		result.Draft = invalidDraft(draft, tpl, summary)
		return result
	}
	done(nil, tpl.Name)
	result.Response = p.execute(ctx, draft)
	return result
}

// invalidDraft turns validation failures into a clarification request so
// the user can supply acceptable values.
func invalidDraft(draft nl2sql.SQLDraft, tpl nl2sql.QueryTemplate, summary validate.Summary) nl2sql.SQLDraft {
	known := make(map[string]any, len(draft.ExtractedParameters))
	for name, value := range draft.ExtractedParameters {
		known[name] = value
	}
	missing := make([]nl2sql.MissingParameter, 0, len(summary.Failures))
	for _, failure := range summary.Failures {
		delete(known, failure.Name)
		def, _ := tpl.Parameter(failure.Name)
		hint := def.ValidationHint()
		if hint != "" {
			hint = failure.Reason + "; " + hint
		} else {
			hint = failure.Reason
		}
		missing = append(missing, nl2sql.MissingParameter{Name: failure.Name, Description: def.Description, ValidationHint: hint})
	}
	return nl2sql.SQLDraft{
		Status:               nl2sql.StatusNeedsClarification,
		Source:               draft.Source,
		UserQuery:            draft.UserQuery,
		TemplateName:         draft.TemplateName,
		ExtractedParameters:  known,
		ParameterDefinitions: draft.ParameterDefinitions,
		PartialCacheParams:   draft.PartialCacheParams,
		MissingParameters:    missing,
	}
}

func (p *Pipeline) build(ctx context.Context, tenantID, question string) Result {
	if p.translator == nil {
		draft := nl2sql.ErrorDraft(nl2sql.SourceBuilder, question, "no template matches the question")
		return Result{Draft: draft, Response: nl2sql.ErrorResponse(draft.Error)}
	}
	done := progress.Start(ctx, p.reporter, progress.PhaseQueryBuild)
	var tables []catalog.TableMetadata
	if p.tables != nil {
		listed, err := p.tables.ListTables(ctx)
		if err != nil {
			p.logger.WarnContext(ctx, "table metadata unavailable",
				append(observability.RequestAttrs(ctx), "error", err)...)
		}
		tables = catalog.Relevant(listed, question, defaultBuilderTables)
	}
	draft := nl2sql.Build(ctx, p.translator, nl2sql.Request{
		TenantID:        tenantID,
		NaturalLanguage: question,
		Dialect:         p.executor.Dialect(),
		Tables:          tables,
		RowLimit:        p.executor.RowLimit(),
	})
	observability.ObserveDraft(string(draft.Source), string(draft.Status))
	if draft.Status != nl2sql.StatusSuccess {
		done(errors.New(draft.Error), "")
		return Result{Draft: draft, Response: nl2sql.ErrorResponse(draft.Error)}
	}
	done(nil, "")
	return Result{Draft: draft, Response: p.execute(ctx, draft)}
}

func (p *Pipeline) execute(ctx context.Context, draft nl2sql.SQLDraft) nl2sql.Response {
	sql := draft.SQL()
	if check := sqlguard.Validate(sql); !check.Valid {
		response := nl2sql.ErrorResponse("query rejected: " + check.Reason)
		response.SQL = sql
		response.Source = draft.Source
		return response
	}
	done := progress.Start(ctx, p.reporter, progress.PhaseExecution)
	executed := p.executor.Run(ctx, sql)
	var execErr error
	if !executed.Success && executed.Error != nil {
		execErr = errors.New(*executed.Error)
	}
	done(execErr, fmt.Sprintf("%d rows", executed.RowCount))
	return nl2sql.Response{
		Success:  executed.Success,
		Columns:  executed.Columns,
		Rows:     executed.Rows,
		RowCount: executed.RowCount,
		Error:    executed.Error,
		SQL:      sql,
		Source:   draft.Source,
	}
}

func draftError(draft nl2sql.SQLDraft, err error) string {
	if strings.TrimSpace(draft.Error) != "" {
		return draft.Error
	}
	return err.Error()
}
