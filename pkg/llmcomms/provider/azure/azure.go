// Package azure adapts provider/openai's payload shaping and response
// parsing to Azure OpenAI's deployment-path URL and header conventions
// (spec.md §6): path
// /openai/deployments/{deployment}/chat/completions?api-version=...,
// authentication via api-key (or bearer), and Config.RequestID forwarded
// as x-ms-client-request-id.
package azure

import (
	"fmt"

	"github.com/liranbd/llmcomms-go/pkg/llmcomms"
	"github.com/liranbd/llmcomms-go/pkg/llmcomms/provider/openai"
	"github.com/liranbd/llmcomms-go/pkg/llmcomms/transport"
)

// Config holds the Azure-specific connection details.
type Config struct {
	// Endpoint is the resource endpoint, e.g. https://my-resource.openai.azure.com.
	Endpoint string

	// Deployment is the deployment name bound to a specific model.
	Deployment string

	// APIVersion is the api-version query parameter, e.g. "2024-06-01".
	APIVersion string

	// APIKey authenticates via the api-key header. Leave empty and set
	// BearerToken to authenticate via Authorization instead.
	APIKey string

	// BearerToken authenticates via "Authorization: Bearer <token>"
	// (Entra ID / managed identity flows) when APIKey is empty.
	BearerToken string

	// RequestID, when set, is forwarded as x-ms-client-request-id on
	// every call this adapter makes. The per-invocation
	// ProviderCallContext.RequestID is not forwarded, so all calls carry
	// this same fixed value.
	RequestID string
}

// New constructs a provider.Adapter that speaks Azure OpenAI's wire
// format by reusing openai.Adapter's payload shaping and parsing with
// Azure's URL and header rules substituted in.
func New(t transport.Port, cfg Config) *openai.Adapter {
	base := fmt.Sprintf("%s/openai/deployments/%s", trimSlash(cfg.Endpoint), cfg.Deployment)

	a := &openai.Adapter{
		Transport:    t,
		BaseURL:      base,
		NameOverride: "azure-openai",
		Caps: llmcomms.ProviderCapabilities{
			SupportsStreaming: true,
			SupportsJSONMode:  true,
			SupportsTools:     true,
		},
	}
	a.PathFn = func(model string) string {
		return fmt.Sprintf("%s/chat/completions?api-version=%s", base, cfg.APIVersion)
	}
	a.HeaderFn = func() map[string]string {
		h := map[string]string{"Content-Type": "application/json"}
		if cfg.APIKey != "" {
			h["api-key"] = cfg.APIKey
		} else if cfg.BearerToken != "" {
			h["Authorization"] = "Bearer " + cfg.BearerToken
		}
		if cfg.RequestID != "" {
			h["x-ms-client-request-id"] = cfg.RequestID
		}
		return h
	}
	return a
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
