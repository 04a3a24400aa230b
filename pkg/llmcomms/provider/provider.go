// Package provider defines the adapter contract every vendor integration
// implements, plus shared shaping/mapping helpers used by the concrete
// adapters in its subpackages.
package provider

import (
	"context"

	"github.com/liranbd/llmcomms-go/pkg/llmcomms"
)

// Adapter is the contract every provider integration must satisfy.
// Implementations translate the abstract Request/Response/StreamEvent
// contracts to and from one vendor's wire format.
type Adapter interface {
	// Name returns a short, lowercase, stable identifier, e.g. "openai".
	Name() string

	// Capabilities reports what this adapter's underlying model family
	// supports. Assumed constant for the adapter's lifetime.
	Capabilities() llmcomms.ProviderCapabilities

	// CreateModel yields an opaque model handle for id. Options is
	// adapter-specific and may be nil.
	CreateModel(ctx context.Context, id string, options map[string]any) (llmcomms.ProviderModel, error)

	// Send performs one unary completion.
	Send(ctx context.Context, model llmcomms.ProviderModel, req llmcomms.Request, call *llmcomms.ProviderCallContext) (llmcomms.Response, error)

	// Stream performs one streaming completion. Must fail with
	// llmcomms.KindNotSupported without contacting transport if
	// Capabilities().SupportsStreaming is false.
	Stream(ctx context.Context, model llmcomms.ProviderModel, req llmcomms.Request, call *llmcomms.ProviderCallContext) (<-chan llmcomms.StreamEvent, error)
}
