package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// OpenAICompleter calls an OpenAI-compatible chat completions endpoint.
type OpenAICompleter struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
}

func NewOpenAICompleter(cfg OpenAIConfig) (*OpenAICompleter, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAICompleter{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: timeoutOrDefault(cfg.Timeout)},
	}, nil
}

func (c *OpenAICompleter) Complete(ctx context.Context, req Request) (Response, error) {
	payload := chatPayload(req, c.temperature)
	payload["model"] = c.model
	text, err := postChatCompletion(ctx, c.client, c.baseURL+"/v1/chat/completions", payload, func(r *http.Request) error {
		r.Header.Set("Authorization", "Bearer "+c.apiKey)
		return nil
	})
	if err != nil {
		return Response{}, err
	}
	return Response{Text: text, Provider: "openai-compatible", Model: c.model}, nil
}

func chatPayload(req Request, temperature float64) map[string]any {
	messages := make([]map[string]string, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.System})
	}
	for _, msg := range req.Messages {
		messages = append(messages, map[string]string{"role": string(msg.Role), "content": msg.Content})
	}
	payload := map[string]any{
		"messages":    messages,
		"temperature": temperature,
	}
	if req.JSON {
		payload["response_format"] = map[string]string{"type": "json_object"}
	}
	return payload
}

func postChatCompletion(ctx context.Context, client *http.Client, url string, payload map[string]any, authorize func(*http.Request) error) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal chat payload: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if err := authorize(httpReq); err != nil {
		return "", err
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request chat completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read chat response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("chat completion failed status=%d body=%s", resp.StatusCode, string(rawRespBody))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return "", fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty chat completion choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func timeoutOrDefault(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return 30 * time.Second
	}
	return timeout
}
