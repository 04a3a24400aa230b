package middleware

import (
	"github.com/liranbd/llmcomms-go/pkg/llmcomms"
	"github.com/liranbd/llmcomms-go/pkg/llmcomms/provider"
)

// Terminal is the chain's fixed leaf: it has no continuation and calls
// the provider adapter's unary or streaming method directly.
type Terminal struct {
	Adapter provider.Adapter
}

// NewTerminal constructs a Terminal middleware bound to adapter.
func NewTerminal(adapter provider.Adapter) *Terminal {
	return &Terminal{Adapter: adapter}
}

func (t *Terminal) Name() string     { return "terminal" }
func (t *Terminal) IsTerminal() bool { return true }

func (t *Terminal) Invoke(ctx *llmcomms.LLMContext, next Next) (llmcomms.Response, error) {
	return t.Adapter.Send(ctx.Ctx, ctx.Model, ctx.Request, ctx.Call)
}

func (t *Terminal) InvokeStream(ctx *llmcomms.LLMContext, next StreamNext) (<-chan llmcomms.StreamEvent, error) {
	return t.Adapter.Stream(ctx.Ctx, ctx.Model, ctx.Request, ctx.Call)
}
