// Package client assembles the middleware chain into the library's
// public entry point, grounded on the teacher's functional-option
// constructors (openai.New(apiKey, model, opts...)): a Builder configures
// the chain once, and the resulting Client is cheap to call repeatedly.
package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/liranbd/llmcomms-go/pkg/llmcomms"
	"github.com/liranbd/llmcomms-go/pkg/llmcomms/cache"
	"github.com/liranbd/llmcomms-go/pkg/llmcomms/middleware"
	"github.com/liranbd/llmcomms-go/pkg/llmcomms/provider"
	"github.com/liranbd/llmcomms-go/pkg/llmcomms/util"
)

// Client is the constructed, immutable entry point for one provider
// adapter. Build the chain once via Builder and reuse the Client across
// requests; it holds no per-request mutable state.
type Client struct {
	chain    *middleware.Chain
	adapter  provider.Adapter
	provider string
	options  llmcomms.ClientOptions
}

// Builder configures a Client before Build. Each With* method returns
// the Builder for chaining.
type Builder struct {
	adapter      provider.Adapter
	providerName string
	cacheStore   cache.Cache
	instruments  *middleware.Instruments
	options      llmcomms.ClientOptions
	customStages []middleware.Middleware
}

// NewBuilder returns a Builder with spec-mandated ClientOptions defaults
// and a fresh in-memory cache.
func NewBuilder(adapter provider.Adapter) *Builder {
	return &Builder{
		adapter:    adapter,
		cacheStore: cache.NewMemoryCache(),
		options:    llmcomms.DefaultClientOptions(),
	}
}

// WithProviderName overrides the provider label recorded on spans,
// metrics, and cache keys. Defaults to adapter.Name().
func (b *Builder) WithProviderName(name string) *Builder { b.providerName = name; return b }

// WithCache overrides the cache backend used by the Cache middleware.
func (b *Builder) WithCache(store cache.Cache) *Builder { b.cacheStore = store; return b }

// WithInstruments overrides the metric instruments used by the Metrics
// middleware, letting multiple Clients share one MeterProvider.
func (b *Builder) WithInstruments(in *middleware.Instruments) *Builder { b.instruments = in; return b }

// WithOptions replaces the ClientOptions snapshot entirely.
func (b *Builder) WithOptions(opts llmcomms.ClientOptions) *Builder {
	b.options = opts
	return b
}

// Use inserts a caller-supplied middleware between Metrics and Validator,
// in call order.
func (b *Builder) Use(m middleware.Middleware) *Builder {
	b.customStages = append(b.customStages, m)
	return b
}

// Build assembles the middleware chain (Tracing → Redaction → Logging →
// Metrics → [custom] → Validator → Cache → Terminal) and returns the
// immutable Client. The ClientOptions snapshot is copied at this point —
// later mutation of a value passed to WithOptions does not affect the
// built Client.
func (b *Builder) Build() (*Client, error) {
	if b.adapter == nil {
		return nil, fmt.Errorf("llmcomms/client: adapter must not be nil")
	}
	instruments := b.instruments
	if instruments == nil {
		instruments = middleware.DefaultInstruments()
	}

	builder := middleware.NewBuilder().
		WithTracing(middleware.NewTracing()).
		WithRedaction(middleware.NewRedaction()).
		WithLogging(middleware.NewLogging()).
		WithMetrics(&middleware.Metrics{Instruments: instruments})
	for _, m := range b.customStages {
		builder.Add(m)
	}
	builder = builder.
		WithValidator(middleware.NewValidator()).
		WithCache(middleware.NewCache(b.cacheStore)).
		WithTerminal(middleware.NewTerminal(b.adapter))

	chain, err := builder.Build()
	if err != nil {
		return nil, err
	}

	name := b.providerName
	if name == "" {
		name = b.adapter.Name()
	}

	return &Client{chain: chain, adapter: b.adapter, provider: name, options: b.options}, nil
}

// Send performs one unary completion against modelID, applying
// defaultMaxOutputTokens when req omits it, seeding a fresh request id,
// and invoking the built chain.
func (c *Client) Send(ctx context.Context, modelID string, req llmcomms.Request) (llmcomms.Response, error) {
	lctx, err := c.prepare(ctx, modelID, req)
	if err != nil {
		return llmcomms.Response{}, err
	}
	return c.chain.Invoke(lctx)
}

// Stream performs one streaming completion. Per spec.md §4.13, streaming
// is rejected at the entry boundary — before any ExecutionContext is
// built — when the adapter does not advertise SupportsStreaming.
//
// When options.CoalesceFinalStreamText is set (spec §6), the delta events
// the chain emits are swallowed and concatenated into the terminal
// complete event's TextDelta instead of being forwarded individually;
// tool-call, reasoning, and error events pass through unchanged.
func (c *Client) Stream(ctx context.Context, modelID string, req llmcomms.Request) (<-chan llmcomms.StreamEvent, error) {
	if !c.adapter.Capabilities().SupportsStreaming {
		return nil, llmcomms.NewError(llmcomms.KindNotSupported, fmt.Sprintf("%s: streaming not supported", c.provider), nil)
	}
	lctx, err := c.prepare(ctx, modelID, req)
	if err != nil {
		return nil, err
	}
	lctx.Stream = true
	events, err := c.chain.InvokeStream(lctx)
	if err != nil {
		return nil, err
	}
	if !c.options.CoalesceFinalStreamText {
		return events, nil
	}
	return coalesceText(events), nil
}

// coalesceText wraps events so that every StreamEventDelta fragment is
// accumulated rather than forwarded, then spliced into the TextDelta of
// the terminal complete event as one concatenated string.
func coalesceText(events <-chan llmcomms.StreamEvent) <-chan llmcomms.StreamEvent {
	out := make(chan llmcomms.StreamEvent)
	go func() {
		defer close(out)
		var text strings.Builder
		for ev := range events {
			if ev.Kind == llmcomms.StreamEventDelta {
				text.WriteString(ev.TextDelta)
				continue
			}
			if ev.Kind == llmcomms.StreamEventComplete {
				ev.TextDelta = text.String()
			}
			out <- ev
		}
	}()
	return out
}

func (c *Client) prepare(ctx context.Context, modelID string, req llmcomms.Request) (*llmcomms.LLMContext, error) {
	model, err := c.adapter.CreateModel(ctx, modelID, nil)
	if err != nil {
		return nil, err
	}
	if !req.HasMaxOutputTokens() && c.options.DefaultMaxOutputTokens > 0 {
		req.MaxOutputTokens = c.options.DefaultMaxOutputTokens
	}
	call := llmcomms.NewProviderCallContext(util.NewRequestID())
	return &llmcomms.LLMContext{
		Ctx:      ctx,
		Provider: c.provider,
		Model:    model,
		Request:  req,
		Call:     call,
		Options:  c.options,
	}, nil
}
