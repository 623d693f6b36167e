package agents

import (
	"context"
	"fmt"

	"github.com/querypilot/querypilot/internal/prompts"
)

const (
	IntentAgentName       = "querypilot-intent"
	ExtractionAgentName   = "querypilot-parameter-extractor"
	BuilderAgentName      = "querypilot-query-builder"
	ConversationAgentName = "querypilot-conversation"
)

// Set holds the agents the workflow talks to.
type Set struct {
	Intent       *Agent
	Extraction   *Agent
	Builder      *Agent
	Conversation *Agent
}

// PromptSource returns the instruction text of a named prompt.
type PromptSource interface {
	Load(name string) (string, error)
}

// LoadSet resolves every workflow agent through provider.
func LoadSet(ctx context.Context, provider *Provider, source PromptSource, model string) (Set, error) {
	var set Set
	specs := []struct {
		name   string
		prompt string
		target **Agent
	}{
		{IntentAgentName, prompts.Intent, &set.Intent},
		{ExtractionAgentName, prompts.Extraction, &set.Extraction},
		{BuilderAgentName, prompts.Builder, &set.Builder},
		{ConversationAgentName, prompts.Conversation, &set.Conversation},
	}
	for _, spec := range specs {
		instructions, err := source.Load(spec.prompt)
		if err != nil {
			return Set{}, fmt.Errorf("load %s prompt: %w", spec.prompt, err)
		}
		agent, err := provider.Get(ctx, Definition{Name: spec.name, Instructions: instructions, Model: model})
		if err != nil {
			return Set{}, err
		}
		*spec.target = agent
	}
	return set, nil
}
