package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/querypilot/querypilot/internal/extract"
	"github.com/querypilot/querypilot/internal/observability"
)

type Intent string

const (
	IntentDataQuery     Intent = "data_query"
	IntentClarification Intent = "clarification"
	IntentConversation  Intent = "conversation"
)

func (i Intent) valid() bool {
	switch i {
	case IntentDataQuery, IntentClarification, IntentConversation:
		return true
	}
	return false
}

// ClassifyInput is what a classifier sees of a turn.
type ClassifyInput struct {
	Text string
	// Pending lists the parameter names an open clarification is waiting for.
	Pending []string
}

type Classifier interface {
	Classify(ctx context.Context, in ClassifyInput) (Intent, error)
}

// JSONCompleter is the agent capability used for classification.
type JSONCompleter interface {
	CompleteJSON(ctx context.Context, input string, out any) error
}

// AgentClassifier asks the intent agent for {"intent": ...}.
type AgentClassifier struct {
	agent JSONCompleter
}

func NewAgentClassifier(agent JSONCompleter) *AgentClassifier {
	return &AgentClassifier{agent: agent}
}

func (c *AgentClassifier) Classify(ctx context.Context, in ClassifyInput) (Intent, error) {
	var b strings.Builder
	if len(in.Pending) > 0 {
		fmt.Fprintf(&b, "The assistant is waiting for: %s\n", strings.Join(in.Pending, ", "))
	} else {
		b.WriteString("The assistant is not waiting for anything.\n")
	}
	fmt.Fprintf(&b, "Message: %s", in.Text)

	var out struct {
		Intent string `json:"intent"`
	}
	if err := c.agent.CompleteJSON(ctx, b.String(), &out); err != nil {
		return "", fmt.Errorf("classify intent: %w", err)
	}
	intent := Intent(strings.ToLower(strings.TrimSpace(out.Intent)))
	if !intent.valid() {
		return "", fmt.Errorf("classify intent: unknown intent %q", out.Intent)
	}
	return intent, nil
}

var dataWords = map[string]struct{}{
	"show": {}, "list": {}, "how": {}, "many": {}, "much": {}, "count": {}, "total": {}, "sum": {},
	"average": {}, "avg": {}, "top": {}, "which": {}, "what": {}, "find": {}, "report": {},
	"revenue": {}, "sales": {}, "orders": {}, "compare": {}, "trend": {}, "per": {}, "since": {},
	"between": {}, "number": {}, "most": {}, "least": {}, "latest": {}, "customers": {}, "products": {},
}

var chatWords = map[string]struct{}{
	"hi": {}, "hello": {}, "hey": {}, "thanks": {}, "thank": {}, "bye": {}, "help": {},
	"who": {}, "you": {}, "ok": {}, "okay": {}, "great": {}, "cool": {},
}

var questionStarts = map[string]struct{}{
	"show": {}, "list": {}, "how": {}, "what": {}, "which": {}, "who": {}, "give": {}, "find": {}, "count": {},
}

// HeuristicClassifier classifies by word lists. It backs the intent agent
// when that agent fails.
type HeuristicClassifier struct{}

func (HeuristicClassifier) Classify(_ context.Context, in ClassifyInput) (Intent, error) {
	tokens := extract.Tokens(in.Text)
	if len(tokens) == 0 {
		return IntentConversation, nil
	}
	if len(in.Pending) > 0 {
		_, starts := questionStarts[tokens[0]]
		if !starts || len(tokens) <= 4 {
			return IntentClarification, nil
		}
	}
	data, chat := 0, 0
	for _, token := range tokens {
		if _, ok := dataWords[token]; ok {
			data++
		}
		if _, ok := chatWords[token]; ok {
			chat++
		}
	}
	if data > 0 && data >= chat {
		return IntentDataQuery, nil
	}
	return IntentConversation, nil
}

// FallbackClassifier uses primary and falls back when it errors.
type FallbackClassifier struct {
	primary  Classifier
	fallback Classifier
	logger   *slog.Logger
}

func NewFallbackClassifier(primary, fallback Classifier, logger *slog.Logger) *FallbackClassifier {
	if fallback == nil {
		fallback = HeuristicClassifier{}
	}
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &FallbackClassifier{primary: primary, fallback: fallback, logger: logger}
}

func (c *FallbackClassifier) Classify(ctx context.Context, in ClassifyInput) (Intent, error) {
	if c.primary != nil {
		intent, err := c.primary.Classify(ctx, in)
		if err == nil {
			return intent, nil
		}
		c.logger.WarnContext(ctx, "intent agent failed, using heuristic",
			append(observability.RequestAttrs(ctx), "error", err)...)
	}
	return c.fallback.Classify(ctx, in)
}
