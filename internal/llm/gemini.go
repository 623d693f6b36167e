package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float64
	// BaseURL overrides the Gemini API endpoint.
	BaseURL string
}

// GeminiCompleter serves completions through the Google GenAI SDK.
type GeminiCompleter struct {
	client      *genai.Client
	model       string
	temperature float64
}

func NewGeminiCompleter(ctx context.Context, cfg GeminiConfig) (*GeminiCompleter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.0-flash"
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiCompleter{client: client, model: model, temperature: cfg.Temperature}, nil
}

func (c *GeminiCompleter) Complete(ctx context.Context, req Request) (Response, error) {
	contents := geminiContents(req.Messages)
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(c.temperature)),
	}
	if strings.TrimSpace(req.System) != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.Role(genai.RoleUser))
	}
	if req.JSON {
		config.ResponseMIMEType = "application/json"
	}
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return Response{}, fmt.Errorf("gemini generate content: %w", err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return Response{}, fmt.Errorf("gemini returned an empty completion")
	}
	return Response{Text: text, Provider: "gemini", Model: c.model}, nil
}

// geminiContents maps chat messages to Gemini turns. Gemini only knows user
// and model roles.
func geminiContents(messages []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		var role genai.Role = genai.RoleUser
		if msg.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}
	return contents
}
