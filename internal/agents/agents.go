// Package agents wraps remote agent identities and serves their completions.
//
// An agent is a name, a static instruction prompt and a model. Its remote
// identifier is created once by a Service and remembered in an IDCache so
// restarts and sibling instances reuse it instead of creating duplicates.
//
// Completions never go through the Service. Every agent completes through the
// shared llm.Completer with its local instructions as system prompt, so the
// remote agent's own instructions and threads are not used. The remote
// identity registers the agent with the service and scopes cleanup.
package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/querypilot/querypilot/internal/llm"
	"github.com/querypilot/querypilot/internal/observability"
)

var ErrNotFound = errors.New("agents: not found")

type Definition struct {
	Name         string
	Instructions string
	Model        string
}

func (d Definition) validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("agent name is required")
	}
	return nil
}

// RemoteAgent is an agent as known by the agent service.
type RemoteAgent struct {
	ID   string
	Name string
}

type Service interface {
	List(ctx context.Context) ([]RemoteAgent, error)
	Create(ctx context.Context, def Definition) (RemoteAgent, error)
	Delete(ctx context.Context, id string) error
}

// IDCache maps agent names to remote identifiers.
type IDCache interface {
	Get(ctx context.Context, name string) (string, bool, error)
	Set(ctx context.Context, name, id string) error
	Delete(ctx context.Context, name string) error
}

type Agent struct {
	// ID is the remote identifier. Completions do not use it.
	ID           string
	Name         string
	Instructions string
	// Owned agents were created by this process and are deleted on cleanup.
	Owned bool

	completer llm.Completer
}

// Complete runs one completion with the agent's instructions as system prompt.
func (a *Agent) Complete(ctx context.Context, input string, history []llm.Message) (string, error) {
	resp, err := a.complete(ctx, input, history, false)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// CompleteJSON asks for a JSON object and decodes it into out.
func (a *Agent) CompleteJSON(ctx context.Context, input string, out any) error {
	resp, err := a.complete(ctx, input, nil, true)
	if err != nil {
		return err
	}
	if err := llm.DecodeJSON(resp.Text, out); err != nil {
		return fmt.Errorf("agent %s: %w", a.Name, err)
	}
	return nil
}

func (a *Agent) complete(ctx context.Context, input string, history []llm.Message, jsonMode bool) (llm.Response, error) {
	if a.completer == nil {
		return llm.Response{}, fmt.Errorf("agent %s has no completer", a.Name)
	}
	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: input})

	resp, err := a.completer.Complete(ctx, llm.Request{
		System:   a.Instructions,
		Messages: messages,
		JSON:     jsonMode,
	})
	observability.ObserveLLMCall(a.Name, err)
	if err != nil {
		return llm.Response{}, fmt.Errorf("agent %s completion: %w", a.Name, err)
	}
	return resp, nil
}
