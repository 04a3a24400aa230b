// Package llmcomms defines the data contracts shared by every provider
// adapter, middleware, and client surface in the module: requests,
// messages, responses, usage accounting, streaming events, and the
// execution context threaded through a single invocation.
//
// Values are treated as logically immutable past the client entry point;
// middlewares that need to transform a Request or Response materialize a
// new copy rather than mutating the caller's value in place.
package llmcomms

import "context"

// Role identifies the speaker of a Message.
type Role string

// Canonical roles recognised by every provider adapter.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single turn in a conversation. Two messages are equivalent
// iff every field is equal. Values are immutable after construction —
// callers must not mutate a Message obtained from a Request or Response;
// construct a new one instead.
type Message struct {
	// Role is one of system, user, assistant, or tool.
	Role Role

	// Content is the textual content of the message.
	Content string

	// Name is an optional participant name for multi-speaker contexts.
	Name string

	// ToolCallID is set when Role is tool, identifying which tool call
	// this message answers.
	ToolCallID string
}

// ToolCall is a tool invocation emitted by the model. Callers never
// construct a ToolCall to send to a provider — it is always a provider
// output, echoed back in a follow-up Message when the caller relays the
// tool's result.
type ToolCall struct {
	// Name is the invoked tool's name.
	Name string

	// ArgumentsJSON is the raw JSON string holding the tool's arguments,
	// exactly as the provider emitted it.
	ArgumentsJSON string
}

// ToolDefinition describes a tool that may be offered to the model.
type ToolDefinition struct {
	// Name must be non-empty and unique within a ToolCollection.
	Name string

	// Description explains what the tool does; included in provider
	// requests where the wire format supports it.
	Description string

	// Parameters is a JSON-schema-like descriptor: a mapping from string
	// to arbitrary value, typically containing at least "type" and
	// optionally "properties" and "required". "required" may be a list
	// of property names.
	Parameters map[string]any
}

// RequiredProperties returns the names listed under the "required" key of
// Parameters, or nil if absent or malformed. Duplicate names collapse to
// one entry.
func (t ToolDefinition) RequiredProperties() []string {
	raw, ok := t.Parameters["required"]
	if !ok {
		return nil
	}
	list, ok := raw.([]string)
	if ok {
		return dedupeStrings(list)
	}
	anyList, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(anyList))
	for _, v := range anyList {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return dedupeStrings(out)
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// ToolCollection is an ordered sequence of ToolDefinitions with unique
// names. Uniqueness is by exact, case-sensitive name match.
type ToolCollection []ToolDefinition

// Find returns the ToolDefinition with the given name (case-sensitive) and
// whether it was found.
func (tc ToolCollection) Find(name string) (ToolDefinition, bool) {
	for _, t := range tc {
		if t.Name == name {
			return t, true
		}
	}
	return ToolDefinition{}, false
}

// ResponseFormat constrains the shape of the model's textual output.
type ResponseFormat string

const (
	ResponseFormatText ResponseFormat = "text"
	ResponseFormatJSON ResponseFormat = "json_object"
)

// Request carries everything needed to produce one completion.
type Request struct {
	// Messages is the ordered conversation history. May be empty; whether
	// that is acceptable is left to the provider adapter.
	Messages []Message

	// Tools is the set of function/tool definitions offered to the model.
	Tools ToolCollection

	// Temperature controls output randomness, 0.0–2.0. Zero means
	// "unset" — the field is omitted from the wire payload.
	Temperature float64

	// TopP is nucleus-sampling mass, 0.0–1.0. Zero means "unset".
	TopP float64

	// MaxOutputTokens caps completion length. Zero/negative means
	// "unset" — adapters fall back to a provider or client default.
	MaxOutputTokens int

	// ResponseFormat constrains the output shape. Empty means "unset".
	ResponseFormat ResponseFormat

	// ProviderHints carries adapter- and middleware-specific directives
	// (e.g. no_cache, cache_ttl_seconds, ollama.options.*). Hints are
	// stripped by normalization before hashing (spec §4.9).
	ProviderHints map[string]any
}

// HasTemperature reports whether Temperature was explicitly set.
func (r Request) HasTemperature() bool { return r.Temperature != 0 }

// HasTopP reports whether TopP was explicitly set.
func (r Request) HasTopP() bool { return r.TopP != 0 }

// HasMaxOutputTokens reports whether MaxOutputTokens was explicitly set.
func (r Request) HasMaxOutputTokens() bool { return r.MaxOutputTokens > 0 }

// WithMessages returns a shallow copy of r with Messages replaced. Used by
// middlewares that must materialize a modified copy rather than mutate the
// caller's Request.
func (r Request) WithMessages(messages []Message) Request {
	cp := r
	cp.Messages = messages
	return cp
}

// Usage is the token accounting triple accompanying a Response.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Add returns the element-wise sum of u and o. Used to accumulate usage
// across streamed complete events.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// FinishReason is why the model stopped generating.
type FinishReason string

const (
	FinishStop     FinishReason = "stop"
	FinishLength   FinishReason = "length"
	FinishToolCall FinishReason = "tool_call"
	FinishUnknown  FinishReason = "unknown"
)

// MapFinishReason maps a vendor finish-reason string to FinishReason per
// spec §4.11: stop→stop, length→length, tool_call|tool_calls|tool→tool_call,
// else→unknown.
func MapFinishReason(vendor string) FinishReason {
	switch vendor {
	case "stop":
		return FinishStop
	case "length":
		return FinishLength
	case "tool_call", "tool_calls", "tool":
		return FinishToolCall
	default:
		return FinishUnknown
	}
}

// Response is the normalized result of a unary completion.
type Response struct {
	// Message is the assistant's reply.
	Message Message

	// Usage is the token accounting for this request/response pair.
	Usage Usage

	// FinishReason is why generation stopped, if known.
	FinishReason FinishReason

	// ToolCalls lists tool invocations requested by the model, in order.
	ToolCalls []ToolCall

	// Raw holds provider-specific passthrough fields (vendor id, model,
	// created timestamp, system fingerprint, and validator annotations
	// such as json_invalid/tool_mismatch in lenient mode). Mutable even
	// though Response is otherwise treated as immutable — this is the
	// one sanctioned escape hatch (spec §9 "tagged response wrapper").
	Raw map[string]any
}

// Clone returns a deep-enough copy of r suitable for cache storage: Raw is
// copied into a fresh map and ToolCalls into a fresh slice so that
// mutating the returned Response never affects r (spec invariant I4).
func (r Response) Clone() Response {
	cp := r
	if r.ToolCalls != nil {
		cp.ToolCalls = append([]ToolCall(nil), r.ToolCalls...)
	}
	if r.Raw != nil {
		cp.Raw = make(map[string]any, len(r.Raw))
		for k, v := range r.Raw {
			cp.Raw[k] = v
		}
	}
	return cp
}

// StreamEventKind tags the payload carried by a StreamEvent.
type StreamEventKind string

const (
	StreamEventDelta     StreamEventKind = "delta"
	StreamEventToolCall  StreamEventKind = "tool_call"
	StreamEventReasoning StreamEventKind = "reasoning"
	StreamEventComplete  StreamEventKind = "complete"
	StreamEventError     StreamEventKind = "error"
)

// StreamEvent is one element of an ordered streaming sequence. Exactly one
// terminal event (Kind == complete or error) is emitted on graceful
// completion; IsTerminal marks it.
type StreamEvent struct {
	Kind StreamEventKind

	// TextDelta carries the incremental text fragment for Kind == delta.
	TextDelta string

	// ToolCallDelta carries the tool call for Kind == tool_call. Adapters
	// accumulate vendor fragments internally and only emit a fully-formed
	// ToolCall.
	ToolCallDelta ToolCall

	// Reasoning carries a reasoning segment for Kind == reasoning.
	Reasoning string

	// Usage carries final token accounting for Kind == complete.
	Usage Usage

	// FinishReason is set on the terminal complete event when known.
	FinishReason FinishReason

	// Err carries the error payload for Kind == error.
	Err error

	// IsTerminal marks the last event of a graceful stream.
	IsTerminal bool
}

// ProviderCallContext is a mutable sideband bag scoped to one client
// invocation. Middlewares publish and consume items by string key; see the
// "Context items surface" keys in spec §6 (llm.redacted.preview,
// llm.cache.hit, and so on).
type ProviderCallContext struct {
	// RequestID is an opaque 32-char hex identifier, stable for the
	// lifetime of one client invocation.
	RequestID string

	items map[string]any
}

// NewProviderCallContext creates a ProviderCallContext for requestID.
func NewProviderCallContext(requestID string) *ProviderCallContext {
	return &ProviderCallContext{RequestID: requestID, items: make(map[string]any)}
}

// Set publishes value under key, overwriting any prior value.
func (c *ProviderCallContext) Set(key string, value any) {
	if c.items == nil {
		c.items = make(map[string]any)
	}
	c.items[key] = value
}

// Get returns the value published under key and whether it was present.
func (c *ProviderCallContext) Get(key string) (any, bool) {
	v, ok := c.items[key]
	return v, ok
}

// ClientOptions are the recognised configuration knobs (spec §3, §6).
type ClientOptions struct {
	// ThrowOnInvalidJson selects strict (true) or lenient (false)
	// Validator behavior. Default true.
	ThrowOnInvalidJson bool

	// EnableRedaction toggles whether Redaction produces a masked
	// message copy. Default true. The preview is always produced
	// regardless of this flag.
	EnableRedaction bool

	// EnableTokenUsageEvents toggles whether Metrics emits token
	// histograms. Default true.
	EnableTokenUsageEvents bool

	// CoalesceFinalStreamText makes the client concatenate streamed text
	// into one final event. Default false.
	CoalesceFinalStreamText bool

	// DefaultMaxOutputTokens is applied when a Request omits
	// MaxOutputTokens. Default 512.
	DefaultMaxOutputTokens int
}

// DefaultClientOptions returns the spec-mandated defaults.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		ThrowOnInvalidJson:      true,
		EnableRedaction:         true,
		EnableTokenUsageEvents:  true,
		CoalesceFinalStreamText: false,
		DefaultMaxOutputTokens:  512,
	}
}

// ProviderCapabilities advertises what a provider adapter's underlying
// model supports. Assumed constant for the lifetime of the adapter.
type ProviderCapabilities struct {
	SupportsStreaming bool
	SupportsJSONMode  bool
	SupportsTools     bool
	SupportsBatch     bool
	SupportsVision    bool
	SupportsAudio     bool
}

// ModelFormat tags the prompting convention a ProviderModel expects.
type ModelFormat string

const (
	ModelFormatChat     ModelFormat = "chat"
	ModelFormatInstruct ModelFormat = "instruct"
	ModelFormatJSON     ModelFormat = "json"
)

// ProviderModel is an opaque model handle plus static metadata.
type ProviderModel struct {
	// ID is the opaque, adapter-defined model identifier.
	ID string

	Format ModelFormat

	// MaxInputTokens and MaxOutputTokens are optional hints; zero means
	// unknown.
	MaxInputTokens  int
	MaxOutputTokens int

	// Handle is the adapter-private opaque value returned by
	// CreateModel (e.g. a cached vendor SDK client). Opaque to callers.
	Handle any
}

// LLMContext (spec's ExecutionContext) is passed by reference through the
// middleware chain for the lifetime of one invocation. Middlewares may
// replace Request with a derived copy but must not reassign the other
// fields.
type LLMContext struct {
	// Ctx is the standard cancellation/deadline carrier. It is not a
	// struct field replacement for context.Context — it IS the
	// context.Context for this invocation, stored here so middlewares can
	// reach it via the LLMContext they're handed.
	Ctx context.Context

	Provider string
	Model    ProviderModel
	Request  Request
	Call     *ProviderCallContext
	Options  ClientOptions
	Stream   bool
}

// WithRequest returns ctx with Request replaced by req; all other fields,
// including the Call pointer, are shared with the original.
func (c *LLMContext) WithRequest(req Request) *LLMContext {
	cp := *c
	cp.Request = req
	return &cp
}
