package client

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/liranbd/llmcomms-go/pkg/llmcomms"
)

type fakeAdapter struct {
	calls int32
	resp  llmcomms.Response
	err   error
	caps  llmcomms.ProviderCapabilities
}

func (f *fakeAdapter) Name() string { return "fake" }
func (f *fakeAdapter) Capabilities() llmcomms.ProviderCapabilities { return f.caps }
func (f *fakeAdapter) CreateModel(ctx context.Context, id string, opts map[string]any) (llmcomms.ProviderModel, error) {
	return llmcomms.ProviderModel{ID: id}, nil
}
func (f *fakeAdapter) Send(ctx context.Context, model llmcomms.ProviderModel, req llmcomms.Request, call *llmcomms.ProviderCallContext) (llmcomms.Response, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.resp, f.err
}
func (f *fakeAdapter) Stream(ctx context.Context, model llmcomms.ProviderModel, req llmcomms.Request, call *llmcomms.ProviderCallContext) (<-chan llmcomms.StreamEvent, error) {
	atomic.AddInt32(&f.calls, 1)
	out := make(chan llmcomms.StreamEvent, 1)
	out <- llmcomms.StreamEvent{Kind: llmcomms.StreamEventComplete, IsTerminal: true}
	close(out)
	return out, f.err
}

func simpleRequest() llmcomms.Request {
	return llmcomms.Request{Messages: []llmcomms.Message{{Role: llmcomms.RoleUser, Content: "hi"}}}
}

func TestClientSendAppliesDefaultMaxOutputTokens(t *testing.T) {
	adapter := &fakeAdapter{resp: llmcomms.Response{Message: llmcomms.Message{Role: llmcomms.RoleAssistant, Content: "ok"}}}
	c, err := NewBuilder(adapter).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var captured llmcomms.Request
	adapter2 := &capturingAdapter{fakeAdapter: adapter, capture: &captured}
	c2, err := NewBuilder(adapter2).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if _, err := c2.Send(context.Background(), "gpt-4", simpleRequest()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if captured.MaxOutputTokens != 512 {
		t.Fatalf("expected default 512, got %d", captured.MaxOutputTokens)
	}

	if _, err := c.Send(context.Background(), "gpt-4", simpleRequest()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if atomic.LoadInt32(&adapter.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", adapter.calls)
	}
}

func TestClientSendPreservesExplicitMaxOutputTokens(t *testing.T) {
	var captured llmcomms.Request
	adapter := &capturingAdapter{fakeAdapter: &fakeAdapter{resp: llmcomms.Response{}}, capture: &captured}
	c, err := NewBuilder(adapter).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	req := simpleRequest()
	req.MaxOutputTokens = 64
	if _, err := c.Send(context.Background(), "gpt-4", req); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if captured.MaxOutputTokens != 64 {
		t.Fatalf("expected explicit 64 to survive, got %d", captured.MaxOutputTokens)
	}
}

func TestClientStreamRejectsUnsupportedProviderBeforeBuildingContext(t *testing.T) {
	adapter := &fakeAdapter{caps: llmcomms.ProviderCapabilities{SupportsStreaming: false}}
	c, err := NewBuilder(adapter).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	_, err = c.Stream(context.Background(), "gpt-4", simpleRequest())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if llmcomms.KindOf(err) != llmcomms.KindNotSupported {
		t.Fatalf("expected not_supported, got %v", llmcomms.KindOf(err))
	}
	if atomic.LoadInt32(&adapter.calls) != 0 {
		t.Fatalf("expected adapter never invoked, got %d calls", adapter.calls)
	}
}

func TestClientStreamInvokesChainWhenSupported(t *testing.T) {
	adapter := &fakeAdapter{caps: llmcomms.ProviderCapabilities{SupportsStreaming: true}}
	c, err := NewBuilder(adapter).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	events, err := c.Stream(context.Background(), "gpt-4", simpleRequest())
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	count := 0
	for range events {
		count++
	}
	if count == 0 {
		t.Fatal("expected at least one stream event")
	}
}

// streamingAdapter streams a fixed, caller-supplied sequence of events
// instead of fakeAdapter's single synthesized complete event.
type streamingAdapter struct {
	fakeAdapter
	events []llmcomms.StreamEvent
}

func (s *streamingAdapter) Stream(ctx context.Context, model llmcomms.ProviderModel, req llmcomms.Request, call *llmcomms.ProviderCallContext) (<-chan llmcomms.StreamEvent, error) {
	atomic.AddInt32(&s.calls, 1)
	out := make(chan llmcomms.StreamEvent, len(s.events))
	for _, ev := range s.events {
		out <- ev
	}
	close(out)
	return out, nil
}

func TestClientStreamCoalescesTextWhenEnabled(t *testing.T) {
	adapter := &streamingAdapter{
		fakeAdapter: fakeAdapter{caps: llmcomms.ProviderCapabilities{SupportsStreaming: true}},
		events: []llmcomms.StreamEvent{
			{Kind: llmcomms.StreamEventDelta, TextDelta: "Hel"},
			{Kind: llmcomms.StreamEventDelta, TextDelta: "lo, "},
			{Kind: llmcomms.StreamEventToolCall, ToolCallDelta: llmcomms.ToolCall{Name: "lookup", ArgumentsJSON: "{}"}},
			{Kind: llmcomms.StreamEventDelta, TextDelta: "world"},
			{Kind: llmcomms.StreamEventComplete, FinishReason: llmcomms.FinishStop, IsTerminal: true},
		},
	}
	opts := llmcomms.DefaultClientOptions()
	opts.CoalesceFinalStreamText = true
	c, err := NewBuilder(adapter).WithOptions(opts).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// The strict Validator rejects undeclared tools, so declare "lookup".
	req := simpleRequest()
	req.Tools = llmcomms.ToolCollection{{Name: "lookup"}}
	events, err := c.Stream(context.Background(), "gpt-4", req)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var got []llmcomms.StreamEvent
	for ev := range events {
		got = append(got, ev)
	}

	if len(got) != 2 {
		t.Fatalf("expected tool_call + complete only (deltas coalesced), got %d events: %+v", len(got), got)
	}
	if got[0].Kind != llmcomms.StreamEventToolCall {
		t.Fatalf("expected first event tool_call, got %v", got[0].Kind)
	}
	last := got[len(got)-1]
	if last.Kind != llmcomms.StreamEventComplete || last.TextDelta != "Hello, world" {
		t.Fatalf("expected complete event with coalesced text %q, got %+v", "Hello, world", last)
	}
}

func TestClientStreamPassesThroughDeltasWhenCoalesceDisabled(t *testing.T) {
	adapter := &streamingAdapter{
		fakeAdapter: fakeAdapter{caps: llmcomms.ProviderCapabilities{SupportsStreaming: true}},
		events: []llmcomms.StreamEvent{
			{Kind: llmcomms.StreamEventDelta, TextDelta: "Hel"},
			{Kind: llmcomms.StreamEventDelta, TextDelta: "lo"},
			{Kind: llmcomms.StreamEventComplete, IsTerminal: true},
		},
	}
	c, err := NewBuilder(adapter).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	events, err := c.Stream(context.Background(), "gpt-4", simpleRequest())
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	count := 0
	for range events {
		count++
	}
	if count != 3 {
		t.Fatalf("expected all 3 events forwarded unchanged, got %d", count)
	}
}

func TestBuilderRejectsNilAdapter(t *testing.T) {
	if _, err := NewBuilder(nil).Build(); err == nil {
		t.Fatal("expected error for nil adapter")
	}
}

func TestClientOptionsSnapshotIsImmutable(t *testing.T) {
	adapter := &fakeAdapter{}
	opts := llmcomms.DefaultClientOptions()
	opts.DefaultMaxOutputTokens = 77

	c, err := NewBuilder(adapter).WithOptions(opts).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	opts.DefaultMaxOutputTokens = 999

	if c.options.DefaultMaxOutputTokens != 77 {
		t.Fatalf("expected snapshot 77 unaffected by later mutation, got %d", c.options.DefaultMaxOutputTokens)
	}
}

// capturingAdapter records the request its Send was called with, after
// client-side defaulting, to verify defaultMaxOutputTokens application.
type capturingAdapter struct {
	*fakeAdapter
	capture *llmcomms.Request
}

func (c *capturingAdapter) Send(ctx context.Context, model llmcomms.ProviderModel, req llmcomms.Request, call *llmcomms.ProviderCallContext) (llmcomms.Response, error) {
	*c.capture = req
	return c.fakeAdapter.Send(ctx, model, req, call)
}
