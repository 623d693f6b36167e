package extract

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/progress"
)

var fixedNow = time.Date(2026, time.October, 19, 15, 30, 0, 0, time.UTC)

type stubAgent struct {
	reply   string
	err     error
	prompts []string
}

func (s *stubAgent) CompleteJSON(_ context.Context, input string, out any) error {
	s.prompts = append(s.prompts, input)
	if s.err != nil {
		return s.err
	}
	return json.Unmarshal([]byte(s.reply), out)
}

func newTestExtractor(agent JSONCompleter, reporter progress.Reporter) *Extractor {
	opts := Options{
		Clock:    func() time.Time { return fixedNow },
		Reporter: reporter,
	}
	if agent != nil {
		opts.Agent = agent
	}
	return New(opts)
}

func ordersTemplate() nl2sql.QueryTemplate {
	return nl2sql.QueryTemplate{
		Name: "orders_by_customer",
		SQL:  "SELECT * FROM Orders WHERE CustomerID = {cust_id} AND OrderDate >= {start_date}",
		Parameters: []nl2sql.ParameterDefinition{
			{Name: "cust_id", Description: "Customer identifier", Required: true},
			{Name: "start_date", Description: "Earliest order date", Required: true},
		},
	}
}

func TestExtractResolvesCustomerAndRelativeDate(t *testing.T) {
	recorder := &progress.Recorder{}
	agent := &stubAgent{reply: `{}`}
	extractor := newTestExtractor(agent, recorder)

	draft, err := extractor.Extract(context.Background(), nl2sql.ExtractionRequest{
		UserQuery: "orders for customer 42 since last week",
		Template:  ordersTemplate(),
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if draft.Status != nl2sql.StatusSuccess {
		t.Fatalf("Status = %q, missing = %+v", draft.Status, draft.MissingParameters)
	}
	want := "SELECT * FROM Orders WHERE CustomerID = 42 AND OrderDate >= '2026-10-12'"
	if draft.SQL() != want {
		t.Fatalf("SQL() = %q, want %q", draft.SQL(), want)
	}
	if draft.ExtractedParameters["cust_id"] != int64(42) {
		t.Fatalf("cust_id = %#v", draft.ExtractedParameters["cust_id"])
	}
	if draft.ExtractedParameters["start_date"] != "2026-10-12" {
		t.Fatalf("start_date = %#v", draft.ExtractedParameters["start_date"])
	}
	if len(agent.prompts) != 0 {
		t.Fatalf("agent should not be called when the fast path resolves everything, got %d calls", len(agent.prompts))
	}
	if draft.Source != nl2sql.SourceTemplate || draft.TemplateName != "orders_by_customer" {
		t.Fatalf("draft = %+v", draft)
	}
	phases := strings.Join(recorder.Phases(), ",")
	if phases != "deterministic_match,substitution" {
		t.Fatalf("Phases() = %q", phases)
	}
}

func TestExtractAsksForEverythingTheQuestionOmits(t *testing.T) {
	agent := &stubAgent{reply: `{"cust_id": "unknown", "start_date": null}`}
	extractor := newTestExtractor(agent, nil)

	draft, err := extractor.Extract(context.Background(), nl2sql.ExtractionRequest{
		UserQuery: "orders for a customer",
		Template:  ordersTemplate(),
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if draft.Status != nl2sql.StatusNeedsClarification {
		t.Fatalf("Status = %q", draft.Status)
	}
	if draft.CompletedSQL != nil {
		t.Fatalf("CompletedSQL = %q, want nil", *draft.CompletedSQL)
	}
	if len(draft.MissingParameters) != 2 {
		t.Fatalf("MissingParameters = %+v", draft.MissingParameters)
	}
	if draft.MissingParameters[0].Name != "cust_id" || draft.MissingParameters[1].Name != "start_date" {
		t.Fatalf("MissingParameters = %+v", draft.MissingParameters)
	}
	if len(agent.prompts) != 1 {
		t.Fatalf("agent calls = %d, want 1", len(agent.prompts))
	}
	if !strings.Contains(agent.prompts[0], "Today is 2026-10-19") || !strings.Contains(agent.prompts[0], "- cust_id (integer)") {
		t.Fatalf("prompt = %q", agent.prompts[0])
	}
}

func TestExtractUsesAgentForLeftovers(t *testing.T) {
	agent := &stubAgent{reply: `{"cust_id": 7, "start_date": "beginning of this year"}`}
	extractor := newTestExtractor(agent, nil)

	draft, err := extractor.Extract(context.Background(), nl2sql.ExtractionRequest{
		UserQuery: "what did our favourite customer buy",
		Template:  ordersTemplate(),
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	want := "SELECT * FROM Orders WHERE CustomerID = 7 AND OrderDate >= '2026-01-01'"
	if draft.SQL() != want {
		t.Fatalf("SQL() = %q, want %q", draft.SQL(), want)
	}
}

func TestExtractLeavesParametersUnresolvedWhenAgentFails(t *testing.T) {
	agent := &stubAgent{err: errors.New("service unavailable")}
	recorder := &progress.Recorder{}
	extractor := newTestExtractor(agent, recorder)

	draft, err := extractor.Extract(context.Background(), nl2sql.ExtractionRequest{
		UserQuery: "orders for customer 42",
		Template:  ordersTemplate(),
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if draft.Status != nl2sql.StatusNeedsClarification {
		t.Fatalf("Status = %q", draft.Status)
	}
	if len(draft.MissingParameters) != 1 || draft.MissingParameters[0].Name != "start_date" {
		t.Fatalf("MissingParameters = %+v", draft.MissingParameters)
	}
	if draft.ExtractedParameters["cust_id"] != int64(42) {
		t.Fatalf("partial parameters = %+v", draft.ExtractedParameters)
	}
	var failed bool
	for _, event := range recorder.Events() {
		if event.Phase == progress.PhaseLLMExtraction && event.Done && event.Err != nil {
			failed = true
		}
	}
	if !failed {
		t.Fatalf("expected a failed llm_extraction event, got %+v", recorder.Events())
	}
}

func TestExtractTakesKnownValuesAsIs(t *testing.T) {
	agent := &stubAgent{reply: `{}`}
	extractor := newTestExtractor(agent, nil)

	draft, err := extractor.Extract(context.Background(), nl2sql.ExtractionRequest{
		UserQuery: "since last week",
		Template:  ordersTemplate(),
		Known:     map[string]any{"cust_id": int64(9)},
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	want := "SELECT * FROM Orders WHERE CustomerID = 9 AND OrderDate >= '2026-10-12'"
	if draft.SQL() != want {
		t.Fatalf("SQL() = %q, want %q", draft.SQL(), want)
	}
	if len(agent.prompts) != 0 {
		t.Fatalf("agent calls = %d", len(agent.prompts))
	}
}

func TestExtractAppliesUnresolvedParameterRules(t *testing.T) {
	tpl := nl2sql.QueryTemplate{
		Name: "sales",
		SQL:  "SELECT * FROM sales WHERE region = {region} AND status = {status} AND note = {note} AND top = {top_n}",
		Parameters: []nl2sql.ParameterDefinition{
			{Name: "region", DefaultValue: "EMEA"},
			{Name: "status", DefaultValue: "open", AskIfMissing: true},
			{Name: "note"},
			{Name: "top_n", Type: nl2sql.TypeInteger, DefaultValue: 10},
		},
	}
	extractor := newTestExtractor(nil, nil)

	draft, err := extractor.Extract(context.Background(), nl2sql.ExtractionRequest{UserQuery: "show sales", Template: tpl})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if draft.Status != nl2sql.StatusNeedsClarification {
		t.Fatalf("Status = %q", draft.Status)
	}
	if len(draft.MissingParameters) != 1 || draft.MissingParameters[0].Name != "status" {
		t.Fatalf("MissingParameters = %+v", draft.MissingParameters)
	}
	if !strings.Contains(draft.MissingParameters[0].ValidationHint, "default open") {
		t.Fatalf("ValidationHint = %q", draft.MissingParameters[0].ValidationHint)
	}

	draft, err = extractor.Extract(context.Background(), nl2sql.ExtractionRequest{
		UserQuery: "show sales",
		Template:  tpl,
		Known:     map[string]any{"status": "closed"},
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	want := "SELECT * FROM sales WHERE region = 'EMEA' AND status = 'closed' AND note = NULL AND top = 10"
	if draft.SQL() != want {
		t.Fatalf("SQL() = %q, want %q", draft.SQL(), want)
	}
}

func TestExtractFuzzyAllowedValueIsMarkedPartial(t *testing.T) {
	tpl := nl2sql.QueryTemplate{
		Name: "category_sales",
		SQL:  "SELECT * FROM products WHERE category = {category}",
		Parameters: []nl2sql.ParameterDefinition{{
			Name:       "category",
			Required:   true,
			Validation: &nl2sql.ParameterValidation{AllowedValues: []string{"Beverages", "Condiments", "Seafood"}},
		}},
	}
	extractor := newTestExtractor(nil, nil)

	draft, err := extractor.Extract(context.Background(), nl2sql.ExtractionRequest{UserQuery: "sales of bevrages", Template: tpl})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if draft.SQL() != "SELECT * FROM products WHERE category = 'Beverages'" {
		t.Fatalf("SQL() = %q", draft.SQL())
	}
	if len(draft.PartialCacheParams) != 1 || draft.PartialCacheParams[0] != "category" {
		t.Fatalf("PartialCacheParams = %v", draft.PartialCacheParams)
	}

	draft, err = extractor.Extract(context.Background(), nl2sql.ExtractionRequest{UserQuery: "Séafood sales", Template: tpl})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if draft.SQL() != "SELECT * FROM products WHERE category = 'Seafood'" {
		t.Fatalf("SQL() = %q", draft.SQL())
	}
	if len(draft.PartialCacheParams) != 0 {
		t.Fatalf("exact match should not be partial, got %v", draft.PartialCacheParams)
	}
}

func TestExtractSkipsFastPathForShortNames(t *testing.T) {
	tpl := nl2sql.QueryTemplate{
		Name: "by_category",
		SQL:  "SELECT * FROM products WHERE category = {c}",
		Parameters: []nl2sql.ParameterDefinition{{
			Name:       "c",
			Required:   true,
			Validation: &nl2sql.ParameterValidation{AllowedValues: []string{"Beverages", "Seafood"}},
		}},
	}
	agent := &stubAgent{reply: `{"c": "seafod"}`}
	extractor := newTestExtractor(agent, nil)

	draft, err := extractor.Extract(context.Background(), nl2sql.ExtractionRequest{UserQuery: "beverages please", Template: tpl})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(agent.prompts) != 1 {
		t.Fatalf("agent calls = %d, want 1", len(agent.prompts))
	}
	if draft.SQL() != "SELECT * FROM products WHERE category = 'Seafood'" {
		t.Fatalf("SQL() = %q", draft.SQL())
	}
}

func TestExtractRejectsAgentValueOutsideAllowedSet(t *testing.T) {
	tpl := nl2sql.QueryTemplate{
		Name: "by_region",
		SQL:  "SELECT * FROM sales WHERE region = {region}",
		Parameters: []nl2sql.ParameterDefinition{{
			Name:       "region",
			Required:   true,
			Validation: &nl2sql.ParameterValidation{AllowedValues: []string{"North", "South"}},
		}},
	}
	agent := &stubAgent{reply: `{"region": "Antarctica"}`}
	extractor := newTestExtractor(agent, nil)

	draft, err := extractor.Extract(context.Background(), nl2sql.ExtractionRequest{UserQuery: "sales somewhere", Template: tpl})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if draft.Status != nl2sql.StatusNeedsClarification {
		t.Fatalf("Status = %q", draft.Status)
	}
	if !strings.Contains(draft.MissingParameters[0].ValidationHint, "one of: North, South") {
		t.Fatalf("ValidationHint = %q", draft.MissingParameters[0].ValidationHint)
	}
}

func TestExtractBooleanAndDateRange(t *testing.T) {
	tpl := nl2sql.QueryTemplate{
		Name: "shipments",
		SQL:  "SELECT * FROM shipments WHERE express = {is_express} AND shipped BETWEEN {start_date} AND {end_date}",
		Parameters: []nl2sql.ParameterDefinition{
			{Name: "is_express", Keywords: []string{"express"}},
			{Name: "start_date", Required: true},
			{Name: "end_date", DefaultValue: "today"},
		},
	}
	extractor := newTestExtractor(nil, nil)

	draft, err := extractor.Extract(context.Background(), nl2sql.ExtractionRequest{
		UserQuery: "express yes, shipments since last month",
		Template:  tpl,
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	want := "SELECT * FROM shipments WHERE express = TRUE AND shipped BETWEEN '2026-09-19' AND '2026-10-19'"
	if draft.SQL() != want {
		t.Fatalf("SQL() = %q, want %q", draft.SQL(), want)
	}

	draft, err = extractor.Extract(context.Background(), nl2sql.ExtractionRequest{
		UserQuery: "shipments between 2026-01-01 and 2026-03-31",
		Template:  tpl,
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	want = "SELECT * FROM shipments WHERE express = NULL AND shipped BETWEEN '2026-01-01' AND '2026-03-31'"
	if draft.SQL() != want {
		t.Fatalf("SQL() = %q, want %q", draft.SQL(), want)
	}
}

func TestExtractInvalidTemplateReturnsErrorDraft(t *testing.T) {
	tpl := nl2sql.QueryTemplate{
		Name:       "broken",
		SQL:        "SELECT {a}",
		Parameters: []nl2sql.ParameterDefinition{{Name: "a"}, {Name: "a"}},
	}
	draft, err := newTestExtractor(nil, nil).Extract(context.Background(), nl2sql.ExtractionRequest{Template: tpl})
	if err == nil {
		t.Fatal("Extract() expected error for duplicate parameter names")
	}
	if draft.Status != nl2sql.StatusError || draft.Error == "" {
		t.Fatalf("draft = %+v", draft)
	}
}
