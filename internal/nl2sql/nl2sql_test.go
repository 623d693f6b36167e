package nl2sql

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/querypilot/querypilot/internal/catalog"
	"github.com/querypilot/querypilot/internal/llm"
)

func TestAgentTranslatorStripsFencesAndSendsSchema(t *testing.T) {
	agent := &stubAgent{reply: "```sql\nSELECT CustomerID FROM Orders LIMIT 50;\n```"}
	translator, err := NewAgentTranslator(agent, "querypilot-query-builder")
	if err != nil {
		t.Fatalf("NewAgentTranslator() error = %v", err)
	}
	result, err := translator.Translate(context.Background(), Request{
		NaturalLanguage: "customers with orders",
		Dialect:         "mysql",
		RowLimit:        50,
		Tables: []catalog.TableMetadata{{
			Name:    "Orders",
			Columns: []catalog.Column{{Name: "CustomerID", Type: "int"}},
		}},
	})
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if result.SQL != "SELECT CustomerID FROM Orders LIMIT 50;" {
		t.Fatalf("SQL = %q", result.SQL)
	}
	for _, want := range []string{"SQL dialect: mysql", `"CustomerID"`, "customers with orders", "LIMIT 50"} {
		if !strings.Contains(agent.input, want) {
			t.Fatalf("prompt missing %q:\n%s", want, agent.input)
		}
	}
}

func TestBuildReturnsErrorDraftOnFailure(t *testing.T) {
	translator, _ := NewAgentTranslator(&stubAgent{err: errors.New("timeout")}, "b")
	draft := Build(context.Background(), translator, Request{NaturalLanguage: "top products"})
	if draft.Status != StatusError || draft.Source != SourceBuilder {
		t.Fatalf("draft = %+v", draft)
	}
	if draft.CompletedSQL != nil {
		t.Fatal("error draft must not carry SQL")
	}

	ok, _ := NewAgentTranslator(&stubAgent{reply: "SELECT 1"}, "b")
	draft = Build(context.Background(), ok, Request{NaturalLanguage: "one"})
	if draft.Status != StatusSuccess || draft.SQL() != "SELECT 1" {
		t.Fatalf("draft = %+v", draft)
	}
}

func TestTemplateValidateRejectsDuplicateParameters(t *testing.T) {
	tpl := QueryTemplate{
		Name: "orders",
		SQL:  "SELECT 1",
		Parameters: []ParameterDefinition{
			{Name: "cust_id"},
			{Name: "cust_id"},
		},
	}
	if err := tpl.Validate(); err == nil {
		t.Fatal("Validate() expected duplicate parameter error")
	}
	tpl.Parameters[1].Name = "start_date"
	tpl.Parameters[1].Type = "timestamp"
	if err := tpl.Validate(); err == nil {
		t.Fatal("Validate() expected unsupported type error")
	}
	tpl.Parameters[1].Type = TypeDate
	if err := tpl.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidationHintDescribesShape(t *testing.T) {
	lo, hi := 1.0, 10.0
	def := ParameterDefinition{
		Name:         "region",
		Type:         TypeString,
		DefaultValue: "EU",
		Validation:   &ParameterValidation{AllowedValues: []string{"EU", "US"}, Min: &lo, Max: &hi},
	}
	hint := def.ValidationHint()
	for _, want := range []string{"one of: EU, US", "between 1 and 10", "default EU"} {
		if !strings.Contains(hint, want) {
			t.Fatalf("ValidationHint() = %q, missing %q", hint, want)
		}
	}
}

func TestDecodeMessageRoundTrip(t *testing.T) {
	raw, err := EncodeMessage(ClarificationMessage{Text: "customer 42", Original: "orders for a customer"})
	if err != nil {
		t.Fatalf("EncodeMessage() error = %v", err)
	}
	msg, err := DecodeMessage(raw)
	if err != nil {
		t.Fatalf("DecodeMessage() error = %v", err)
	}
	clarification, ok := msg.(ClarificationMessage)
	if !ok || clarification.Text != "customer 42" || clarification.Original != "orders for a customer" {
		t.Fatalf("DecodeMessage() = %#v", msg)
	}

	plain, err := DecodeMessage("how many orders?")
	if err != nil {
		t.Fatalf("DecodeMessage(plain) error = %v", err)
	}
	if q, ok := plain.(UserQuestionMessage); !ok || q.Text != "how many orders?" {
		t.Fatalf("DecodeMessage(plain) = %#v", plain)
	}

	if _, err := DecodeMessage(`{"kind":"bogus","payload":{}}`); err == nil {
		t.Fatal("DecodeMessage() expected error for unknown kind")
	}
}

type stubAgent struct {
	reply string
	err   error
	input string
}

func (s *stubAgent) Complete(_ context.Context, input string, _ []llm.Message) (string, error) {
	s.input = input
	return s.reply, s.err
}
