package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
)

const foundryScope = "https://ai.azure.com/.default"

type FoundryConfig struct {
	// Endpoint is the project endpoint, e.g. https://<resource>.services.ai.azure.com/api/projects/<project>.
	Endpoint   string
	APIVersion string
	Model      string
	Credential azcore.TokenCredential
	Timeout    time.Duration
}

// FoundryService manages agents through the Azure AI Foundry agents REST API.
type FoundryService struct {
	endpoint   string
	apiVersion string
	model      string
	credential azcore.TokenCredential
	client     *http.Client
}

func NewFoundryService(cfg FoundryConfig) (*FoundryService, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("foundry endpoint is required")
	}
	if cfg.Credential == nil {
		return nil, fmt.Errorf("foundry credential is required")
	}
	apiVersion := strings.TrimSpace(cfg.APIVersion)
	if apiVersion == "" {
		apiVersion = "v1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &FoundryService{
		endpoint:   endpoint,
		apiVersion: apiVersion,
		model:      strings.TrimSpace(cfg.Model),
		credential: cfg.Credential,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

type foundryAgent struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (s *FoundryService) List(ctx context.Context) ([]RemoteAgent, error) {
	out := make([]RemoteAgent, 0)
	after := ""
	for {
		query := url.Values{"limit": {"100"}}
		if after != "" {
			query.Set("after", after)
		}
		var page struct {
			Data    []foundryAgent `json:"data"`
			HasMore bool           `json:"has_more"`
			LastID  string         `json:"last_id"`
		}
		if err := s.do(ctx, http.MethodGet, "/assistants", query, nil, &page); err != nil {
			return nil, fmt.Errorf("list agents: %w", err)
		}
		for _, agent := range page.Data {
			out = append(out, RemoteAgent{ID: agent.ID, Name: agent.Name})
		}
		if !page.HasMore || page.LastID == "" {
			return out, nil
		}
		after = page.LastID
	}
}

func (s *FoundryService) Create(ctx context.Context, def Definition) (RemoteAgent, error) {
	model := strings.TrimSpace(def.Model)
	if model == "" {
		model = s.model
	}
	body := map[string]string{
		"name":         def.Name,
		"instructions": def.Instructions,
		"model":        model,
	}
	var created foundryAgent
	if err := s.do(ctx, http.MethodPost, "/assistants", nil, body, &created); err != nil {
		return RemoteAgent{}, fmt.Errorf("create agent: %w", err)
	}
	if created.ID == "" {
		return RemoteAgent{}, fmt.Errorf("create agent: response has no id")
	}
	return RemoteAgent{ID: created.ID, Name: def.Name}, nil
}

func (s *FoundryService) Delete(ctx context.Context, id string) error {
	if err := s.do(ctx, http.MethodDelete, "/assistants/"+url.PathEscape(id), nil, nil, nil); err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	return nil
}

func (s *FoundryService) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api-version", s.apiVersion)

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.endpoint+path+"?"+query.Encode(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	token, err := s.credential.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{foundryScope}})
	if err != nil {
		return fmt.Errorf("acquire token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, string(raw))
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
