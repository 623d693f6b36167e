// Package llm defines the completion capability used by every agent and
// the hosted endpoints that serve it.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	System   string
	Messages []Message
	// JSON asks the endpoint for a JSON object response.
	JSON bool
}

type Response struct {
	Text     string
	Provider string
	Model    string
}

type Completer interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, req Request) (Response, error)

func (f CompleterFunc) Complete(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// StripMarkdown removes a surrounding markdown code fence, with or without a language tag.
func StripMarkdown(value string) string {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		tag := strings.TrimSpace(trimmed[:idx])
		if tag == "" || !strings.ContainsAny(tag, " {[") {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// DecodeJSON parses a JSON object out of a completion, tolerating fences and
// prose around the object.
func DecodeJSON(text string, out any) error {
	body := StripMarkdown(text)
	start := strings.IndexByte(body, '{')
	end := strings.LastIndexByte(body, '}')
	if start < 0 || end < start {
		return fmt.Errorf("completion does not contain a JSON object")
	}
	if err := json.Unmarshal([]byte(body[start:end+1]), out); err != nil {
		return fmt.Errorf("decode completion JSON: %w", err)
	}
	return nil
}
