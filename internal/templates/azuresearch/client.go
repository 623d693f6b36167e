// Package azuresearch ranks query templates with an Azure AI Search index.
// The index holds one document per template; the catalog stays the source
// of truth for template content.
package azuresearch

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

	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/templates"
)

const searchScope = "https://search.azure.com/.default"

type Config struct {
	Endpoint   string
	Index      string
	APIKey     string
	APIVersion string
	MinScore   float64
	Timeout    time.Duration
	// Credential is used when APIKey is empty.
	Credential azcore.TokenCredential
}

// Lookup resolves a template name returned by the index.
type Lookup func(name string) (nl2sql.QueryTemplate, bool)

type Client struct {
	endpoint   string
	index      string
	apiKey     string
	apiVersion string
	minScore   float64
	credential azcore.TokenCredential
	lookup     Lookup
	client     *http.Client
}

func New(cfg Config, lookup Lookup) (*Client, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("azure search endpoint is required")
	}
	index := strings.TrimSpace(cfg.Index)
	if index == "" {
		return nil, fmt.Errorf("azure search index is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" && cfg.Credential == nil {
		return nil, fmt.Errorf("azure search requires an api key or a token credential")
	}
	if lookup == nil {
		return nil, fmt.Errorf("template lookup is required")
	}
	apiVersion := strings.TrimSpace(cfg.APIVersion)
	if apiVersion == "" {
		apiVersion = "2023-11-01"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint:   endpoint,
		index:      index,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		apiVersion: apiVersion,
		minScore:   cfg.MinScore,
		credential: cfg.Credential,
		lookup:     lookup,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

type searchRequest struct {
	Search       string `json:"search"`
	Top          int    `json:"top"`
	Select       string `json:"select"`
	SearchFields string `json:"searchFields,omitempty"`
}

type searchResponse struct {
	Value []struct {
		Score float64 `json:"@search.score"`
		Name  string  `json:"name"`
	} `json:"value"`
}

// Search queries the index and maps hits back to catalog templates. Hits
// for templates missing from the catalog are skipped.
func (c *Client) Search(ctx context.Context, question string, topK int) ([]templates.Match, error) {
	if strings.TrimSpace(question) == "" {
		return nil, templates.ErrNoMatch
	}
	if topK <= 0 {
		topK = 3
	}
	var decoded searchResponse
	payload := searchRequest{Search: question, Top: topK, Select: "name", SearchFields: "name,description,questions"}
	if err := c.do(ctx, http.MethodPost, "/docs/search", payload, &decoded); err != nil {
		return nil, err
	}
	matches := make([]templates.Match, 0, len(decoded.Value))
	for _, hit := range decoded.Value {
		if hit.Score < c.minScore {
			continue
		}
		tpl, ok := c.lookup(hit.Name)
		if !ok {
			continue
		}
		matches = append(matches, templates.Match{Template: tpl, Score: hit.Score})
	}
	if len(matches) == 0 {
		return nil, templates.ErrNoMatch
	}
	return matches, nil
}

type indexDocument struct {
	Action      string   `json:"@search.action"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Questions   []string `json:"questions"`
}

type indexResponse struct {
	Value []struct {
		Key          string `json:"key"`
		Status       bool   `json:"status"`
		ErrorMessage string `json:"errorMessage"`
	} `json:"value"`
}

// Upload merges the catalog templates into the index.
func (c *Client) Upload(ctx context.Context, tpls []nl2sql.QueryTemplate) error {
	if len(tpls) == 0 {
		return nil
	}
	docs := make([]indexDocument, 0, len(tpls))
	for _, tpl := range tpls {
		questions := tpl.Questions
		if questions == nil {
			questions = []string{}
		}
		docs = append(docs, indexDocument{
			Action:      "mergeOrUpload",
			Name:        tpl.Name,
			Description: tpl.Description,
			Questions:   questions,
		})
	}
	var decoded indexResponse
	if err := c.do(ctx, http.MethodPost, "/docs/index", map[string]any{"value": docs}, &decoded); err != nil {
		return err
	}
	for _, result := range decoded.Value {
		if !result.Status {
			return fmt.Errorf("index template %s: %s", result.Key, result.ErrorMessage)
		}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode search request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/indexes/%s%s?api-version=%s", c.endpoint, url.PathEscape(c.index), path, url.QueryEscape(c.apiVersion))
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.authorize(req); err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("search service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode search response: %w", err)
	}
	return nil
}

func (c *Client) authorize(r *http.Request) error {
	if c.apiKey != "" {
		r.Header.Set("api-key", c.apiKey)
		return nil
	}
	token, err := c.credential.GetToken(r.Context(), policy.TokenRequestOptions{Scopes: []string{searchScope}})
	if err != nil {
		return fmt.Errorf("acquire search token: %w", err)
	}
	r.Header.Set("Authorization", "Bearer "+token.Token)
	return nil
}
