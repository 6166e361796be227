package providers

import (
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
)

// Azure API version used when none is configured.
const azureDefaultAPIVersion = "2024-02-01"

func init() {
	Register("azure_openai", NewAzureOpenAIProvider)
}

// NewAzureOpenAIProvider builds an Azure OpenAI provider. The dialect is the
// OpenAI one; only authentication, endpoint and model naming differ. Azure
// models are deployment names. Recognized keys: api_key (required),
// azure_endpoint (required), api_version, deployment_name.
func NewAzureOpenAIProvider(config map[string]any) (Provider, error) {
	apiKey := configString(config, "api_key")
	if apiKey == "" {
		return nil, &AuthenticationError{
			Provider: "azure_openai",
			Message:  "AZURE_OPENAI_API_KEY environment variable or api_key config required",
		}
	}
	endpoint := configString(config, "azure_endpoint")
	if endpoint == "" {
		return nil, &AuthenticationError{
			Provider: "azure_openai",
			Message:  "AZURE_OPENAI_ENDPOINT environment variable or azure_endpoint config required",
		}
	}

	clientConfig := openai.DefaultAzureConfig(apiKey, endpoint)
	if version := configString(config, "api_version"); version != "" {
		clientConfig.APIVersion = version
	} else {
		clientConfig.APIVersion = azureDefaultAPIVersion
	}

	deployment := configString(config, "deployment_name")
	if deployment == "" {
		deployment = openaiDefaultModel
	}

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientConfig),
		name:         "azure_openai",
		defaultModel: deployment,
		maxRetries:   defaultMaxRetries,
		retryDelay:   defaultRetryDelay,
		logger:       slog.Default().With("provider", "azure_openai"),
	}, nil
}
