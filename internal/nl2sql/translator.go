package nl2sql

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/querypilot/querypilot/internal/catalog"
	"github.com/querypilot/querypilot/internal/llm"
)

type Request struct {
	TenantID        string                  `json:"tenant_id"`
	NaturalLanguage string                  `json:"natural_language"`
	Dialect         string                  `json:"dialect"`
	Tables          []catalog.TableMetadata `json:"tables"`
	RowLimit        int                     `json:"row_limit"`
}

type Result struct {
	SQL      string `json:"sql"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type Translator interface {
	Translate(ctx context.Context, req Request) (Result, error)
}

// AgentCompleter is the part of an agent the builder needs.
type AgentCompleter interface {
	Complete(ctx context.Context, input string, history []llm.Message) (string, error)
}

// AgentTranslator builds SQL straight from table metadata with the builder
// agent. The agent has no tools: schema in, SQL text out.
type AgentTranslator struct {
	agent AgentCompleter
	name  string
}

func NewAgentTranslator(agent AgentCompleter, name string) (*AgentTranslator, error) {
	if agent == nil {
		return nil, fmt.Errorf("builder agent is required")
	}
	return &AgentTranslator{agent: agent, name: name}, nil
}

func (t *AgentTranslator) Translate(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.NaturalLanguage) == "" {
		return Result{}, fmt.Errorf("natural language request is required")
	}
	prompt, err := buildPrompt(req)
	if err != nil {
		return Result{}, err
	}
	text, err := t.agent.Complete(ctx, prompt, nil)
	if err != nil {
		return Result{}, fmt.Errorf("build sql: %w", err)
	}
	sql := llm.StripMarkdown(text)
	if strings.TrimSpace(sql) == "" {
		return Result{}, fmt.Errorf("model returned empty SQL")
	}
	return Result{
		SQL:      sql,
		Provider: "agent",
		Model:    t.name,
	}, nil
}

func buildPrompt(req Request) (string, error) {
	tablesJSON, err := json.Marshal(req.Tables)
	if err != nil {
		return "", fmt.Errorf("marshal table context: %w", err)
	}
	dialect := strings.TrimSpace(req.Dialect)
	if dialect == "" {
		dialect = "postgres"
	}
	limit := req.RowLimit
	if limit <= 0 {
		limit = 200
	}
	return fmt.Sprintf(
		"SQL dialect: %s\nSchema context (JSON):\n%s\n\nUser request:\n%s\n\nRules:\n- Use only listed tables.\n- Add LIMIT %d unless user asks otherwise.\n- Output a single SQL query only.",
		dialect,
		string(tablesJSON),
		strings.TrimSpace(req.NaturalLanguage),
		limit,
	), nil
}

// Build runs the translator and wraps the outcome in a builder draft.
func Build(ctx context.Context, translator Translator, req Request) SQLDraft {
	result, err := translator.Translate(ctx, req)
	if err != nil {
		return ErrorDraft(SourceBuilder, req.NaturalLanguage, err.Error())
	}
	return BuilderDraft(req.NaturalLanguage, result.SQL)
}
