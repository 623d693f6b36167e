package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
)

const cognitiveServicesScope = "https://cognitiveservices.azure.com/.default"

type AzureConfig struct {
	Endpoint    string
	Deployment  string
	APIVersion  string
	APIKey      string
	Temperature float64
	Timeout     time.Duration
	// Credential is used when APIKey is empty.
	Credential azcore.TokenCredential
}

// AzureCompleter calls an Azure OpenAI deployment.
type AzureCompleter struct {
	url         string
	deployment  string
	apiKey      string
	temperature float64
	credential  azcore.TokenCredential
	client      *http.Client
}

func NewAzureCompleter(cfg AzureConfig) (*AzureCompleter, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("azure openai endpoint is required")
	}
	deployment := strings.TrimSpace(cfg.Deployment)
	if deployment == "" {
		return nil, fmt.Errorf("azure openai deployment is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" && cfg.Credential == nil {
		return nil, fmt.Errorf("azure openai requires an api key or a token credential")
	}
	apiVersion := strings.TrimSpace(cfg.APIVersion)
	if apiVersion == "" {
		apiVersion = "2024-08-01-preview"
	}
	return &AzureCompleter{
		url: fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			endpoint, url.PathEscape(deployment), url.QueryEscape(apiVersion)),
		deployment:  deployment,
		apiKey:      strings.TrimSpace(cfg.APIKey),
		temperature: cfg.Temperature,
		credential:  cfg.Credential,
		client:      &http.Client{Timeout: timeoutOrDefault(cfg.Timeout)},
	}, nil
}

func (c *AzureCompleter) Complete(ctx context.Context, req Request) (Response, error) {
	text, err := postChatCompletion(ctx, c.client, c.url, chatPayload(req, c.temperature), c.authorize)
	if err != nil {
		return Response{}, err
	}
	return Response{Text: text, Provider: "azure-openai", Model: c.deployment}, nil
}

func (c *AzureCompleter) authorize(r *http.Request) error {
	if c.apiKey != "" {
		r.Header.Set("api-key", c.apiKey)
		return nil
	}
	token, err := c.credential.GetToken(r.Context(), policy.TokenRequestOptions{Scopes: []string{cognitiveServicesScope}})
	if err != nil {
		return fmt.Errorf("acquire azure openai token: %w", err)
	}
	r.Header.Set("Authorization", "Bearer "+token.Token)
	return nil
}
