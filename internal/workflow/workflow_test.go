package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/querypilot/querypilot/internal/conversation"
	"github.com/querypilot/querypilot/internal/extract"
	"github.com/querypilot/querypilot/internal/history"
	"github.com/querypilot/querypilot/internal/llm"
	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/progress"
	"github.com/querypilot/querypilot/internal/query"
	"github.com/querypilot/querypilot/internal/templates"
)

var fixedNow = time.Date(2026, time.October, 19, 15, 30, 0, 0, time.UTC)

type stubSearcher struct {
	matches []templates.Match
	err     error
}

func (s stubSearcher) Search(context.Context, string, int) ([]templates.Match, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.matches) == 0 {
		return nil, templates.ErrNoMatch
	}
	return s.matches, nil
}

type stubTranslator struct {
	sql   string
	err   error
	calls int
}

func (s *stubTranslator) Translate(_ context.Context, req nl2sql.Request) (nl2sql.Result, error) {
	s.calls++
	if s.err != nil {
		return nl2sql.Result{}, s.err
	}
	return nl2sql.Result{SQL: s.sql, Provider: "stub", Model: "stub"}, nil
}

type stubExecutor struct {
	mu   sync.Mutex
	sqls []string
	rows []map[string]any
}

func (s *stubExecutor) Run(_ context.Context, sql string) query.ExecutionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sqls = append(s.sqls, sql)
	rows := s.rows
	if rows == nil {
		rows = []map[string]any{{"OrderID": int64(1)}}
	}
	return query.ExecutionResult{Success: true, Columns: []string{"OrderID"}, Rows: rows, RowCount: len(rows)}
}

func (s *stubExecutor) Dialect() string { return "postgres" }
func (s *stubExecutor) RowLimit() int   { return 100 }

func (s *stubExecutor) executed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sqls...)
}

type stubConversational struct {
	reply   string
	err     error
	history [][]llm.Message
}

func (s *stubConversational) Complete(_ context.Context, _ string, history []llm.Message) (string, error) {
	s.history = append(s.history, history)
	return s.reply, s.err
}

func ordersTemplate() nl2sql.QueryTemplate {
	return nl2sql.QueryTemplate{
		Name:        "orders_by_customer",
		Description: "Orders placed by a customer since a date",
		SQL:         "SELECT * FROM Orders WHERE CustomerID = {cust_id} AND OrderDate >= '{start_date}'",
		Parameters: []nl2sql.ParameterDefinition{
			{Name: "cust_id", Description: "Customer identifier", Required: true},
			{Name: "start_date", Description: "Earliest order date", Required: true},
		},
	}
}

func topProductsTemplate() nl2sql.QueryTemplate {
	lowest, highest := 1.0, 10.0
	return nl2sql.QueryTemplate{
		Name: "top_products",
		SQL:  "SELECT ProductName FROM Products ORDER BY UnitsSold DESC LIMIT {limit}",
		Parameters: []nl2sql.ParameterDefinition{
			{Name: "limit", Description: "How many products", Type: nl2sql.TypeInteger, Required: true,
				Validation: &nl2sql.ParameterValidation{Min: &lowest, Max: &highest}},
		},
	}
}

func catalogLookup(tpls ...nl2sql.QueryTemplate) TemplateLookup {
	return func(name string) (nl2sql.QueryTemplate, bool) {
		for _, tpl := range tpls {
			if tpl.Name == name {
				return tpl, true
			}
		}
		return nl2sql.QueryTemplate{}, false
	}
}

type fixture struct {
	orchestrator *Orchestrator
	store        *conversation.MemoryStore
	history      *history.MemoryStore
	executor     *stubExecutor
	translator   *stubTranslator
	recorder     *progress.Recorder
}

func newFixture(t *testing.T, search templates.Searcher, classifier Classifier, chat Completer) fixture {
	t.Helper()
	recorder := &progress.Recorder{}
	executor := &stubExecutor{}
	translator := &stubTranslator{sql: "SELECT COUNT(*) FROM Orders"}
	extractor := extract.New(extract.Options{
		Clock:    func() time.Time { return fixedNow },
		Reporter: recorder,
	})
	pipeline, err := NewPipeline(PipelineOptions{
		Search:     search,
		Templates:  catalogLookup(ordersTemplate(), topProductsTemplate()),
		Extractor:  extractor,
		Translator: translator,
		Executor:   executor,
		Reporter:   recorder,
	})
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	store := conversation.NewMemoryStore(time.Hour)
	log := history.NewMemoryStore()
	ids := 0
	orchestrator, err := New(Options{
		Classifier:     classifier,
		Pipeline:       pipeline,
		Store:          store,
		History:        log,
		Conversational: chat,
		Clock:          func() time.Time { return fixedNow },
		NewID: func() string {
			ids++
			return "conv-" + strings.Repeat("x", ids)
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return fixture{
		orchestrator: orchestrator,
		store:        store,
		history:      log,
		executor:     executor,
		translator:   translator,
		recorder:     recorder,
	}
}

func ordersSearch() stubSearcher {
	return stubSearcher{matches: []templates.Match{{Template: ordersTemplate(), Score: 0.9}}}
}

func TestClarificationRoundTrip(t *testing.T) {
	f := newFixture(t, ordersSearch(), nil, nil)
	ctx := context.Background()

	first, err := f.orchestrator.Handle(ctx, Message{TenantID: "acme", ConversationID: "c1", Text: "orders for a customer"})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if first.Kind != ReplyClarification {
		t.Fatalf("Kind = %q, text = %q", first.Kind, first.Text)
	}
	if len(first.Missing) != 2 {
		t.Fatalf("Missing = %+v, want 2 parameters", first.Missing)
	}
	if first.State != conversation.StateAwaitingClarification {
		t.Fatalf("State = %q", first.State)
	}
	if !strings.Contains(first.Text, "cust_id") || !strings.Contains(first.Text, "start_date") {
		t.Fatalf("clarification text should name the missing parameters, got %q", first.Text)
	}
	record, err := f.store.Get(ctx, "acme", "c1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if record.Pending == nil || record.Pending.Template.Name != "orders_by_customer" {
		t.Fatalf("Pending = %+v", record.Pending)
	}
	if len(f.executor.executed()) != 0 {
		t.Fatal("nothing should run while parameters are missing")
	}

	second, err := f.orchestrator.Handle(ctx, Message{TenantID: "acme", ConversationID: "c1", Text: "customer 42 since last week"})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if second.Kind != ReplyAnswer {
		t.Fatalf("Kind = %q, text = %q", second.Kind, second.Text)
	}
	want := "SELECT * FROM Orders WHERE CustomerID = 42 AND OrderDate >= '2026-10-12'"
	if got := f.executor.executed(); len(got) != 1 || got[0] != want {
		t.Fatalf("executed = %v, want %q", got, want)
	}
	if second.Response == nil || second.Response.RowCount != 1 || second.Response.Source != nl2sql.SourceTemplate {
		t.Fatalf("Response = %+v", second.Response)
	}
	if second.State != conversation.StateAwaitingInput {
		t.Fatalf("State = %q", second.State)
	}
	record, err = f.store.Get(ctx, "acme", "c1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if record.Pending != nil {
		t.Fatalf("pending clarification should be cleared, got %+v", record.Pending)
	}
	if len(record.History) != 4 {
		t.Fatalf("History has %d turns, want 4", len(record.History))
	}

	entries, err := f.orchestrator.QueryHistory(ctx, "acme", "c1", 10)
	if err != nil {
		t.Fatalf("QueryHistory() error = %v", err)
	}
	if len(entries) != 1 || entries[0].SQL != want || !entries[0].Success {
		t.Fatalf("history = %+v", entries)
	}
	if entries[0].TemplateName != "orders_by_customer" {
		t.Fatalf("TemplateName = %q", entries[0].TemplateName)
	}
}

func TestClarificationStateIsIsolated(t *testing.T) {
	f := newFixture(t, ordersSearch(), nil, nil)
	ctx := context.Background()

	if _, err := f.orchestrator.Handle(ctx, Message{TenantID: "acme", ConversationID: "c1", Text: "orders for a customer"}); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	for _, msg := range []Message{
		{TenantID: "globex", ConversationID: "c1", Text: "show orders for customer 42"},
		{TenantID: "acme", ConversationID: "c2", Text: "show orders for customer 42"},
	} {
		reply, err := f.orchestrator.Handle(ctx, msg)
		if err != nil {
			t.Fatalf("Handle(%+v) error = %v", msg, err)
		}
		if reply.Kind != ReplyClarification {
			t.Fatalf("Handle(%+v) Kind = %q, want a fresh clarification", msg, reply.Kind)
		}
		if len(reply.Missing) != 1 || reply.Missing[0].Name != "start_date" {
			t.Fatalf("Handle(%+v) Missing = %+v", msg, reply.Missing)
		}
	}

	record, err := f.store.Get(ctx, "acme", "c1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if record.Pending == nil || record.Pending.OriginalQuery != "orders for a customer" {
		t.Fatalf("acme/c1 pending = %+v", record.Pending)
	}
	if len(record.Pending.Missing) != 2 {
		t.Fatalf("acme/c1 missing = %+v", record.Pending.Missing)
	}
	if len(f.executor.executed()) != 0 {
		t.Fatalf("executed = %v", f.executor.executed())
	}
}

func TestHandleFallsBackToQueryBuilder(t *testing.T) {
	f := newFixture(t, stubSearcher{}, nil, nil)

	reply, err := f.orchestrator.Handle(context.Background(), Message{TenantID: "acme", Text: "how many orders are there"})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if reply.Kind != ReplyAnswer {
		t.Fatalf("Kind = %q, text = %q", reply.Kind, reply.Text)
	}
	if reply.ConversationID == "" {
		t.Fatal("a conversation id should be assigned")
	}
	if reply.Draft == nil || reply.Draft.Source != nl2sql.SourceBuilder {
		t.Fatalf("Draft = %+v", reply.Draft)
	}
	if got := f.executor.executed(); len(got) != 1 || got[0] != "SELECT COUNT(*) FROM Orders" {
		t.Fatalf("executed = %v", got)
	}
	phases := strings.Join(f.recorder.Phases(), ",")
	if phases != "template_search,query_build,execution" {
		t.Fatalf("phases = %q", phases)
	}
}

func TestHandleFallsBackWhenSearchFails(t *testing.T) {
	f := newFixture(t, stubSearcher{err: errors.New("search unavailable")}, nil, nil)

	reply, err := f.orchestrator.Handle(context.Background(), Message{TenantID: "acme", ConversationID: "c1", Text: "show total sales"})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if reply.Kind != ReplyAnswer || f.translator.calls != 1 {
		t.Fatalf("Kind = %q, translator calls = %d", reply.Kind, f.translator.calls)
	}
}

func TestHandleRejectsUnsafeBuilderSQL(t *testing.T) {
	f := newFixture(t, stubSearcher{}, nil, nil)
	f.translator.sql = "DELETE FROM Orders"

	reply, err := f.orchestrator.Handle(context.Background(), Message{TenantID: "acme", ConversationID: "c1", Text: "show orders"})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if reply.Kind != ReplyError {
		t.Fatalf("Kind = %q", reply.Kind)
	}
	if reply.Response == nil || reply.Response.Success || reply.Response.Error == nil {
		t.Fatalf("Response = %+v", reply.Response)
	}
	if len(f.executor.executed()) != 0 {
		t.Fatalf("rejected SQL must not run, executed = %v", f.executor.executed())
	}
	entries, _ := f.history.ListByConversation(context.Background(), "acme", "c1", 10)
	if len(entries) != 1 || entries[0].Success {
		t.Fatalf("history = %+v", entries)
	}
}

func TestHandleTurnsValidationFailuresIntoClarification(t *testing.T) {
	f := newFixture(t, stubSearcher{}, nil, nil)
	raw, err := nl2sql.EncodeMessage(nl2sql.ExtractionRequestMessage{Request: nl2sql.ExtractionRequest{
		UserQuery: "top products",
		Template:  topProductsTemplate(),
		Known:     map[string]any{"limit": 50},
	}})
	if err != nil {
		t.Fatalf("EncodeMessage() error = %v", err)
	}

	reply, err := f.orchestrator.Handle(context.Background(), Message{TenantID: "acme", ConversationID: "c1", Text: raw})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if reply.Kind != ReplyClarification {
		t.Fatalf("Kind = %q, text = %q", reply.Kind, reply.Text)
	}
	if reply.Validation == nil || reply.Validation.Valid {
		t.Fatalf("Validation = %+v", reply.Validation)
	}
	if len(reply.Missing) != 1 || !strings.Contains(reply.Missing[0].ValidationHint, "above maximum") {
		t.Fatalf("Missing = %+v", reply.Missing)
	}
	if len(f.executor.executed()) != 0 {
		t.Fatal("invalid parameters must not run")
	}
}

func TestHandleRefusesExtractionForUnknownTemplate(t *testing.T) {
	f := newFixture(t, stubSearcher{}, nil, nil)
	raw, err := nl2sql.EncodeMessage(nl2sql.ExtractionRequestMessage{Request: nl2sql.ExtractionRequest{
		UserQuery: "drop everything",
		Template: nl2sql.QueryTemplate{
			Name: "not_in_catalog",
			SQL:  "DELETE FROM Orders",
		},
	}})
	if err != nil {
		t.Fatalf("EncodeMessage() error = %v", err)
	}

	reply, err := f.orchestrator.Handle(context.Background(), Message{TenantID: "acme", ConversationID: "c1", Text: raw})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if reply.Kind != ReplyError || !strings.Contains(reply.Text, "not in the catalog") {
		t.Fatalf("Kind = %q, text = %q", reply.Kind, reply.Text)
	}
	if len(f.executor.executed()) != 0 {
		t.Fatalf("unknown template must not run, executed = %v", f.executor.executed())
	}
}

func TestHandleUsesCatalogCopyOfInlineTemplate(t *testing.T) {
	f := newFixture(t, stubSearcher{}, nil, nil)
	inline := topProductsTemplate()
	inline.SQL = "SELECT * FROM Customers WHERE 1 = {limit}"
	raw, err := nl2sql.EncodeMessage(nl2sql.ExtractionRequestMessage{Request: nl2sql.ExtractionRequest{
		UserQuery: "top products",
		Template:  inline,
		Known:     map[string]any{"limit": 5},
	}})
	if err != nil {
		t.Fatalf("EncodeMessage() error = %v", err)
	}

	reply, err := f.orchestrator.Handle(context.Background(), Message{TenantID: "acme", ConversationID: "c1", Text: raw})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if reply.Kind != ReplyAnswer {
		t.Fatalf("Kind = %q, text = %q", reply.Kind, reply.Text)
	}
	executed := f.executor.executed()
	want := "SELECT ProductName FROM Products ORDER BY UnitsSold DESC LIMIT 5"
	if len(executed) != 1 || executed[0] != want {
		t.Fatalf("executed = %v, want [%s]", executed, want)
	}
}

func TestResumeRequiresTemplateCatalog(t *testing.T) {
	pipeline, err := NewPipeline(PipelineOptions{
		Search:    ordersSearch(),
		Extractor: extract.New(extract.Options{}),
		Executor:  &stubExecutor{},
	})
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	result := pipeline.Resume(context.Background(), nl2sql.ExtractionRequest{UserQuery: "orders", Template: ordersTemplate()})
	if result.Response.Success || result.Draft.SQL() != "" {
		t.Fatalf("Resume() = %+v, want refusal without a catalog", result)
	}
}

func TestHandleConversationalTurnKeepsPendingClarification(t *testing.T) {
	chat := &stubConversational{reply: "Hello! Ask me about your orders."}
	f := newFixture(t, ordersSearch(), nil, chat)
	ctx := context.Background()

	if _, err := f.orchestrator.Handle(ctx, Message{TenantID: "acme", ConversationID: "c1", Text: "orders for a customer"}); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	f.orchestrator.classifier = classifierFunc(func(context.Context, ClassifyInput) (Intent, error) {
		return IntentConversation, nil
	})

	reply, err := f.orchestrator.Handle(ctx, Message{TenantID: "acme", ConversationID: "c1", Text: "hello there"})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if reply.Kind != ReplyMessage || reply.Text != chat.reply {
		t.Fatalf("reply = %+v", reply)
	}
	if reply.State != conversation.StateAwaitingClarification {
		t.Fatalf("State = %q", reply.State)
	}
	if len(chat.history) != 1 || len(chat.history[0]) != 2 {
		t.Fatalf("conversational history = %+v", chat.history)
	}
	if chat.history[0][0].Role != llm.RoleUser || chat.history[0][1].Role != llm.RoleAssistant {
		t.Fatalf("history roles = %+v", chat.history[0])
	}
}

func TestHandleConversationalFallbackReply(t *testing.T) {
	chat := &stubConversational{err: errors.New("agent down")}
	f := newFixture(t, ordersSearch(), nil, chat)

	reply, err := f.orchestrator.Handle(context.Background(), Message{TenantID: "acme", ConversationID: "c1", Text: "hello"})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if reply.Kind != ReplyMessage || reply.Text != fallbackReply {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestHandleRejectsBadInput(t *testing.T) {
	f := newFixture(t, ordersSearch(), nil, nil)
	ctx := context.Background()

	if _, err := f.orchestrator.Handle(ctx, Message{TenantID: "acme", ConversationID: "c1", Text: "   "}); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("Handle(empty) error = %v", err)
	}
	if _, err := f.orchestrator.Handle(ctx, Message{TenantID: "acme", ConversationID: "a:b", Text: "hi"}); err == nil {
		t.Fatal("Handle() expected error for conversation id with ':'")
	}
	if _, err := f.orchestrator.Handle(ctx, Message{ConversationID: "c1", Text: "hi"}); err == nil {
		t.Fatal("Handle() expected error without tenant")
	}
}

func TestResetForgetsConversation(t *testing.T) {
	f := newFixture(t, ordersSearch(), nil, nil)
	ctx := context.Background()
	if _, err := f.orchestrator.Handle(ctx, Message{TenantID: "acme", ConversationID: "c1", Text: "orders for a customer"}); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if err := f.orchestrator.Reset(ctx, "acme", "c1"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if _, err := f.orchestrator.Conversation(ctx, "acme", "c1"); !errors.Is(err, conversation.ErrNotFound) {
		t.Fatalf("Conversation() error = %v, want ErrNotFound", err)
	}
	if err := f.orchestrator.Reset(ctx, "acme", "c1"); !errors.Is(err, conversation.ErrNotFound) {
		t.Fatalf("second Reset() error = %v, want ErrNotFound", err)
	}
}

func TestNewPipelineRequiresCollaborators(t *testing.T) {
	if _, err := NewPipeline(PipelineOptions{}); err == nil {
		t.Fatal("NewPipeline() expected error without executor")
	}
	if _, err := NewPipeline(PipelineOptions{Executor: &stubExecutor{}}); err == nil {
		t.Fatal("NewPipeline() expected error without search or builder")
	}
	if _, err := NewPipeline(PipelineOptions{Executor: &stubExecutor{}, Search: stubSearcher{}}); err == nil {
		t.Fatal("NewPipeline() expected error for search without extractor")
	}
}

type classifierFunc func(context.Context, ClassifyInput) (Intent, error)

func (f classifierFunc) Classify(ctx context.Context, in ClassifyInput) (Intent, error) {
	return f(ctx, in)
}
