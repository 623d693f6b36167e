// Package extract resolves template parameters from a natural-language
// question. A deterministic pass handles allowed values, dates, numbers and
// flags; whatever remains is sent to the extraction agent in one call.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/progress"
	"github.com/querypilot/querypilot/internal/validate"
)

const (
	DefaultSimilarityThreshold = 0.82
	DefaultMinNameLength       = 2

	promptValueCap = 50
)

// JSONCompleter is the extraction agent capability.
type JSONCompleter interface {
	CompleteJSON(ctx context.Context, input string, out any) error
}

type Options struct {
	// Agent is optional; without it unresolved parameters go straight to the
	// missing/default rules.
	Agent  JSONCompleter
	Values AllowedValuesProvider
	// Dialect selects string escaping for substituted values.
	Dialect             string
	Clock               func() time.Time
	SimilarityThreshold float64
	MinNameLength       int
	Reporter            progress.Reporter
	Logger              *slog.Logger
}

type Extractor struct {
	agent     JSONCompleter
	values    AllowedValuesProvider
	dialect   string
	clock     func() time.Time
	threshold float64
	minName   int
	reporter  progress.Reporter
	logger    *slog.Logger
}

func New(opts Options) *Extractor {
	e := &Extractor{
		agent:     opts.Agent,
		values:    opts.Values,
		dialect:   opts.Dialect,
		clock:     opts.Clock,
		threshold: opts.SimilarityThreshold,
		minName:   opts.MinNameLength,
		reporter:  opts.Reporter,
		logger:    opts.Logger,
	}
	if e.values == nil {
		e.values = StaticValues{}
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.threshold <= 0 || e.threshold > 1 {
		e.threshold = DefaultSimilarityThreshold
	}
	if e.minName <= 0 {
		e.minName = DefaultMinNameLength
	}
	if e.reporter == nil {
		e.reporter = progress.Nop{}
	}
	if e.logger == nil {
		e.logger = observability.DiscardLogger()
	}
	return e
}

// resolution tracks one extraction run.
type resolution struct {
	values  map[string]any
	methods map[string]string
	partial []string
	allowed map[string][]string
}

func (r *resolution) set(name string, value any, method string) {
	r.values[name] = value
	r.methods[name] = method
	observability.ObserveParameterResolution(method)
}

func (r *resolution) resolved(name string) bool {
	_, ok := r.methods[name]
	return ok
}

// Extract resolves every parameter of the request's template. The returned
// draft is success with completed SQL, or needs_clarification listing the
// missing parameters. An invalid template yields an error draft and error.
func (e *Extractor) Extract(ctx context.Context, req nl2sql.ExtractionRequest) (nl2sql.SQLDraft, error) {
	tpl := req.Template
	if err := tpl.Validate(); err != nil {
		draft := nl2sql.ErrorDraft(nl2sql.SourceTemplate, req.UserQuery, err.Error())
		draft.TemplateName = tpl.Name
		observability.ObserveDraft(string(draft.Source), string(draft.Status))
		return draft, fmt.Errorf("extract parameters: %w", err)
	}

	now := e.clock()
	state := &resolution{
		values:  make(map[string]any, len(tpl.Parameters)),
		methods: make(map[string]string, len(tpl.Parameters)),
		partial: []string{},
		allowed: make(map[string][]string),
	}
	for _, def := range tpl.Parameters {
		if value, ok := req.Known[def.Name]; ok && value != nil {
			state.set(def.Name, value, "known")
		}
	}

	e.deterministicPass(ctx, req.UserQuery, tpl, state, now)
	e.llmPass(ctx, req.UserQuery, tpl, state, now)

	missing := make([]nl2sql.MissingParameter, 0)
	for _, def := range tpl.Parameters {
		if state.resolved(def.Name) {
			continue
		}
		switch {
		case def.Required && !def.HasDefault():
			missing = append(missing, missingFor(def))
		case !def.AskIfMissing:
			state.set(def.Name, e.defaultValue(def, now), "default")
		default:
			missing = append(missing, missingFor(def))
		}
	}

	draft := nl2sql.SQLDraft{
		Source:               nl2sql.SourceTemplate,
		UserQuery:            req.UserQuery,
		TemplateName:         tpl.Name,
		ExtractedParameters:  state.values,
		ParameterDefinitions: tpl.Parameters,
		PartialCacheParams:   state.partial,
	}
	if len(missing) > 0 {
		for range missing {
			observability.ObserveParameterResolution("missing")
		}
		draft.Status = nl2sql.StatusNeedsClarification
		draft.MissingParameters = missing
		observability.ObserveDraft(string(draft.Source), string(draft.Status))
		return draft, nil
	}

	done := progress.Start(ctx, e.reporter, progress.PhaseSubstitution)
	sql, err := SubstituteFor(tpl, state.values, e.dialect)
	done(err, tpl.Name)
	if err != nil {
		failed := nl2sql.ErrorDraft(nl2sql.SourceTemplate, req.UserQuery, err.Error())
		failed.TemplateName = tpl.Name
		failed.ExtractedParameters = state.values
		failed.ParameterDefinitions = tpl.Parameters
		observability.ObserveDraft(string(failed.Source), string(failed.Status))
		return failed, fmt.Errorf("extract parameters: %w", err)
	}
	draft.Status = nl2sql.StatusSuccess
	draft.CompletedSQL = &sql
	observability.ObserveDraft(string(draft.Source), string(draft.Status))
	return draft, nil
}

func (e *Extractor) deterministicPass(ctx context.Context, userQuery string, tpl nl2sql.QueryTemplate, state *resolution, now time.Time) {
	done := progress.Start(ctx, e.reporter, progress.PhaseDeterministicMatch)
	tokens := Tokens(userQuery)
	consumed := make([]bool, len(tokens))
	dates := findDates(tokens, now)
	for _, match := range dates {
		for i := match.start; i < match.end; i++ {
			consumed[i] = true
		}
	}

	dateParams := make([]nl2sql.ParameterDefinition, 0)
	for _, def := range tpl.Parameters {
		if state.resolved(def.Name) {
			continue
		}
		if len([]rune(def.Name)) < e.minName {
			e.logger.DebugContext(ctx, "parameter name too short for fuzzy matching",
				append(observability.RequestAttrs(ctx), "parameter", def.Name)...)
			continue
		}
		typ := inferType(def)
		if allowed := e.allowedValues(ctx, def, state); len(allowed) > 0 {
			if value, exact, ok := matchAllowed(tokens, allowed, e.threshold, e.minName); ok {
				if exact {
					state.set(def.Name, coerceAllowed(typ, value), "exact")
				} else {
					state.set(def.Name, coerceAllowed(typ, value), "fuzzy")
					state.partial = append(state.partial, def.Name)
				}
			}
			continue
		}
		keywords := keywordsFor(def)
		switch typ {
		case nl2sql.TypeDate, nl2sql.TypeDateTime:
			dateParams = append(dateParams, def)
		case nl2sql.TypeInteger, nl2sql.TypeNumber:
			if index, value, ok := numberNear(tokens, consumed, keywords, e.threshold); ok {
				consumed[index] = true
				state.set(def.Name, numericValue(typ, value), "keyword")
			}
		case nl2sql.TypeBoolean:
			if value, ok := boolNear(tokens, keywords, e.threshold); ok {
				state.set(def.Name, value, "keyword")
			}
		}
	}
	e.assignDates(dateParams, dates, state)
	done(nil, fmt.Sprintf("%d of %d resolved", len(state.methods), len(tpl.Parameters)))
}

// assignDates hands date expressions to date parameters in order. A single
// expression only fills start-like parameters, so "since last week" leaves
// an end date to its default.
func (e *Extractor) assignDates(params []nl2sql.ParameterDefinition, dates []dateMatch, state *resolution) {
	if len(params) == 0 || len(dates) == 0 {
		return
	}
	if len(dates) == 1 {
		for _, def := range params {
			if isEndParameter(def) && len(params) > 1 {
				continue
			}
			state.set(def.Name, formatDate(inferType(def), dates[0].value), "temporal")
			return
		}
		return
	}
	for i, def := range params {
		if i >= len(dates) {
			return
		}
		state.set(def.Name, formatDate(inferType(def), dates[i].value), "temporal")
	}
}

func (e *Extractor) llmPass(ctx context.Context, userQuery string, tpl nl2sql.QueryTemplate, state *resolution, now time.Time) {
	remaining := make([]nl2sql.ParameterDefinition, 0)
	for _, def := range tpl.Parameters {
		if !state.resolved(def.Name) {
			remaining = append(remaining, def)
		}
	}
	if len(remaining) == 0 || e.agent == nil {
		return
	}

	done := progress.Start(ctx, e.reporter, progress.PhaseLLMExtraction)
	prompt := e.extractionPrompt(ctx, userQuery, remaining, state, now)
	var out map[string]any
	if err := e.agent.CompleteJSON(ctx, prompt, &out); err != nil {
		e.logger.WarnContext(ctx, "llm parameter extraction failed",
			append(observability.RequestAttrs(ctx), "template", tpl.Name, "error", err)...)
		done(err, "")
		return
	}
	resolved := 0
	for _, def := range remaining {
		raw, ok := out[def.Name]
		if !ok {
			continue
		}
		if value, ok := e.normalizeValue(ctx, def, raw, state, now); ok {
			state.set(def.Name, value, "llm")
			resolved++
		}
	}
	done(nil, fmt.Sprintf("%d of %d resolved", resolved, len(remaining)))
}

func (e *Extractor) extractionPrompt(ctx context.Context, userQuery string, params []nl2sql.ParameterDefinition, state *resolution, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Today is %s.\n", now.Format(time.DateOnly))
	fmt.Fprintf(&b, "Question: %s\n", userQuery)
	b.WriteString("Parameters:\n")
	for _, def := range params {
		fmt.Fprintf(&b, "- %s (%s)", def.Name, inferType(def))
		if def.Description != "" {
			fmt.Fprintf(&b, ": %s", def.Description)
		}
		if allowed := e.allowedValues(ctx, def, state); len(allowed) > 0 {
			shown := allowed
			if len(shown) > promptValueCap {
				shown = shown[:promptValueCap]
			}
			fmt.Fprintf(&b, ". Allowed values: %s", strings.Join(shown, ", "))
		}
		if hint := def.ValidationHint(); hint != "" {
			fmt.Fprintf(&b, ". Hint: %s", hint)
		}
		b.WriteString("\n")
	}
	b.WriteString(`Reply with a JSON object mapping each parameter name to its value, or "unknown" when the question does not state it.`)
	return b.String()
}

// normalizeValue applies the deterministic rules to a value returned by the
// agent. The second result is false when the value should stay unresolved.
func (e *Extractor) normalizeValue(ctx context.Context, def nl2sql.ParameterDefinition, raw any, state *resolution, now time.Time) (any, bool) {
	if raw == nil {
		return nil, false
	}
	if text, ok := raw.(string); ok {
		text = strings.TrimSpace(text)
		switch strings.ToLower(text) {
		case "", "unknown", "null", "none", "n/a":
			return nil, false
		}
		raw = text
	}
	typ := inferType(def)
	if allowed := e.allowedValues(ctx, def, state); len(allowed) > 0 {
		text := fmt.Sprint(raw)
		if len([]rune(text)) < e.minName {
			return nil, false
		}
		for _, candidate := range allowed {
			if Normalize(candidate) == Normalize(text) {
				return coerceAllowed(typ, candidate), true
			}
		}
		if snapped, ok := snapAllowed(text, allowed, e.threshold); ok {
			return coerceAllowed(typ, snapped), true
		}
		return nil, false
	}
	switch typ {
	case nl2sql.TypeDate, nl2sql.TypeDateTime:
		text := fmt.Sprint(raw)
		if parsed, ok := parseISODate(text); ok {
			return formatDate(typ, parsed), true
		}
		if parsed, err := time.Parse(time.RFC3339, text); err == nil {
			return formatDate(typ, parsed), true
		}
		if parsed, ok := ResolveDate(text, now); ok {
			return formatDate(typ, parsed), true
		}
		return nil, false
	case nl2sql.TypeInteger, nl2sql.TypeNumber, nl2sql.TypeBoolean:
		value, err := validate.Coerce(typ, raw)
		if err != nil {
			return nil, false
		}
		return value, true
	default:
		text := fmt.Sprint(raw)
		if len([]rune(text)) < e.minName {
			return nil, false
		}
		return text, true
	}
}

func (e *Extractor) allowedValues(ctx context.Context, def nl2sql.ParameterDefinition, state *resolution) []string {
	if values, ok := state.allowed[def.Name]; ok {
		return values
	}
	values, err := e.values.AllowedValues(ctx, def)
	if err != nil {
		e.logger.WarnContext(ctx, "allowed values lookup failed",
			append(observability.RequestAttrs(ctx), "parameter", def.Name, "error", err)...)
		values = nil
	}
	state.allowed[def.Name] = values
	return values
}

func (e *Extractor) defaultValue(def nl2sql.ParameterDefinition, now time.Time) any {
	if !def.HasDefault() {
		return nil
	}
	typ := inferType(def)
	if text, ok := def.DefaultValue.(string); ok && (typ == nl2sql.TypeDate || typ == nl2sql.TypeDateTime) {
		if parsed, ok := parseISODate(text); ok {
			return formatDate(typ, parsed)
		}
		if parsed, ok := ResolveDate(text, now); ok {
			return formatDate(typ, parsed)
		}
	}
	return def.DefaultValue
}

func missingFor(def nl2sql.ParameterDefinition) nl2sql.MissingParameter {
	return nl2sql.MissingParameter{
		Name:           def.Name,
		Description:    def.Description,
		ValidationHint: def.ValidationHint(),
	}
}

func formatDate(typ nl2sql.ParameterType, value time.Time) string {
	if typ == nl2sql.TypeDateTime {
		return value.Format(time.DateTime)
	}
	return value.Format(time.DateOnly)
}

func numericValue(typ nl2sql.ParameterType, value float64) any {
	if typ == nl2sql.TypeInteger && value == float64(int64(value)) {
		return int64(value)
	}
	return value
}

func coerceAllowed(typ nl2sql.ParameterType, value string) any {
	switch typ {
	case nl2sql.TypeInteger:
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	case nl2sql.TypeNumber:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return value
}
