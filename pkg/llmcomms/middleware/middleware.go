// Package middleware implements the request execution pipeline: an
// ordered chain of Middleware values terminating in exactly one terminal
// stage, built once per Client and invoked once per request.
package middleware

import (
	"errors"

	"github.com/liranbd/llmcomms-go/pkg/llmcomms"
)

// Next is the continuation a non-terminal Middleware invokes to proceed
// to the rest of the chain. It must be called at most once.
type Next func(ctx *llmcomms.LLMContext) (llmcomms.Response, error)

// StreamNext is the streaming counterpart of Next: it returns an ordered
// channel of StreamEvents, closed once the terminal event has been sent.
type StreamNext func(ctx *llmcomms.LLMContext) (<-chan llmcomms.StreamEvent, error)

// Middleware is one link in the chain. Invoke is used for unary calls;
// InvokeStream for streaming calls. A Middleware that has no streaming
// behavior of its own should simply delegate to next unmodified.
type Middleware interface {
	// Name identifies this middleware in error messages and build
	// diagnostics.
	Name() string

	// IsTerminal reports whether this Middleware is the chain's leaf —
	// the one that actually calls a provider.Adapter and has no next.
	IsTerminal() bool

	// Invoke runs this middleware's unary logic, calling next at most
	// once.
	Invoke(ctx *llmcomms.LLMContext, next Next) (llmcomms.Response, error)

	// InvokeStream runs this middleware's streaming logic, calling next
	// at most once and preserving event order.
	InvokeStream(ctx *llmcomms.LLMContext, next StreamNext) (<-chan llmcomms.StreamEvent, error)
}

// ErrNoTerminal is returned by Builder.Build when no terminal middleware
// was registered.
var ErrNoTerminal = errors.New("llmcomms/middleware: no terminal middleware registered")

// Builder assembles a Chain from a registration-order list of
// middlewares plus a designated terminal. Unless overridden, the default
// order is Tracing → Redaction → Logging → Metrics → Validator → Cache →
// Terminal, with caller-supplied custom middlewares (via Add) inserted
// between Metrics and Validator, in registration order.
type Builder struct {
	pre      []Middleware // Tracing, Redaction, Logging, Metrics
	custom   []Middleware // caller-supplied, inserted after Metrics
	post     []Middleware // Validator, Cache
	terminal Middleware
}

// NewBuilder returns an empty Builder. Use the With* methods to populate
// the default stages, or Add for a fully custom chain.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithTracing registers the Tracing stage.
func (b *Builder) WithTracing(m Middleware) *Builder { b.pre = append(b.pre, m); return b }

// WithRedaction registers the Redaction stage.
func (b *Builder) WithRedaction(m Middleware) *Builder { b.pre = append(b.pre, m); return b }

// WithLogging registers the Logging stage.
func (b *Builder) WithLogging(m Middleware) *Builder { b.pre = append(b.pre, m); return b }

// WithMetrics registers the Metrics stage.
func (b *Builder) WithMetrics(m Middleware) *Builder { b.pre = append(b.pre, m); return b }

// Add inserts a custom middleware between Metrics and Validator, in
// registration order.
func (b *Builder) Add(m Middleware) *Builder { b.custom = append(b.custom, m); return b }

// WithValidator registers the Validator stage.
func (b *Builder) WithValidator(m Middleware) *Builder { b.post = append(b.post, m); return b }

// WithCache registers the Cache stage.
func (b *Builder) WithCache(m Middleware) *Builder { b.post = append(b.post, m); return b }

// WithTerminal sets the chain's terminal stage. Calling it again replaces
// the prior terminal.
func (b *Builder) WithTerminal(m Middleware) *Builder { b.terminal = m; return b }

// Build assembles the final Chain. Fails with ErrNoTerminal if no
// terminal was set.
func (b *Builder) Build() (*Chain, error) {
	if b.terminal == nil {
		return nil, ErrNoTerminal
	}
	if !b.terminal.IsTerminal() {
		return nil, errors.New("llmcomms/middleware: registered terminal does not report IsTerminal()=true")
	}
	ordered := make([]Middleware, 0, len(b.pre)+len(b.custom)+len(b.post)+1)
	ordered = append(ordered, b.pre...)
	ordered = append(ordered, b.custom...)
	ordered = append(ordered, b.post...)
	ordered = append(ordered, b.terminal)
	return &Chain{stages: ordered}, nil
}

// Chain is the built, immutable pipeline. Construction happens once per
// Client; Invoke/InvokeStream run once per request.
type Chain struct {
	stages []Middleware
}

// Invoke runs the chain for a unary call by right-folding the stage list
// into nested continuations, so the innermost continuation invokes the
// terminal.
func (c *Chain) Invoke(ctx *llmcomms.LLMContext) (llmcomms.Response, error) {
	return c.invokeFrom(0)(ctx)
}

func (c *Chain) invokeFrom(i int) Next {
	if i >= len(c.stages) {
		return func(ctx *llmcomms.LLMContext) (llmcomms.Response, error) {
			return llmcomms.Response{}, errors.New("llmcomms/middleware: chain exhausted without terminal")
		}
	}
	stage := c.stages[i]
	nextFn := c.invokeFrom(i + 1)
	return func(ctx *llmcomms.LLMContext) (llmcomms.Response, error) {
		return stage.Invoke(ctx, nextFn)
	}
}

// InvokeStream runs the chain for a streaming call, same right-fold
// structure as Invoke.
func (c *Chain) InvokeStream(ctx *llmcomms.LLMContext) (<-chan llmcomms.StreamEvent, error) {
	return c.invokeStreamFrom(0)(ctx)
}

func (c *Chain) invokeStreamFrom(i int) StreamNext {
	if i >= len(c.stages) {
		return func(ctx *llmcomms.LLMContext) (<-chan llmcomms.StreamEvent, error) {
			return nil, errors.New("llmcomms/middleware: chain exhausted without terminal")
		}
	}
	stage := c.stages[i]
	nextFn := c.invokeStreamFrom(i + 1)
	return func(ctx *llmcomms.LLMContext) (<-chan llmcomms.StreamEvent, error) {
		return stage.InvokeStream(ctx, nextFn)
	}
}
