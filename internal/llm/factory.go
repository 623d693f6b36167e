package llm

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"github.com/querypilot/querypilot/internal/config"
)

// FromConfig builds the completer selected by cfg.Provider. credential is only
// consulted for Azure OpenAI with managed identity.
func FromConfig(ctx context.Context, cfg config.LLMConfig, credential azcore.TokenCredential) (Completer, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAICompleter(OpenAIConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		})
	case "azure":
		azureCfg := AzureConfig{
			Endpoint:    cfg.BaseURL,
			Deployment:  cfg.AzureDeployment,
			APIVersion:  cfg.AzureAPIVersion,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		}
		if cfg.UseManagedIdentity {
			azureCfg.Credential = credential
		} else {
			azureCfg.APIKey = cfg.APIKey
		}
		return NewAzureCompleter(azureCfg)
	case "gemini":
		return NewGeminiCompleter(ctx, GeminiConfig{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
		})
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}
