package openai

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/liranbd/llmcomms-go/pkg/llmcomms"
	"github.com/liranbd/llmcomms-go/pkg/llmcomms/transport"
	"github.com/liranbd/llmcomms-go/pkg/llmcomms/transport/transporttest"
)

func simpleRequest() llmcomms.Request {
	return llmcomms.Request{Messages: []llmcomms.Message{{Role: llmcomms.RoleUser, Content: "hi"}}}
}

func TestSendParsesChoiceAndUsage(t *testing.T) {
	fake := &transporttest.Fake{}
	fake.EnqueueJSON(200, []byte(`{
		"id": "cmpl-1",
		"model": "gpt-4",
		"choices": [{"message": {"content": "hello there"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
	}`))

	a := New(fake, "sk-test", "")
	resp, err := a.Send(context.Background(), llmcomms.ProviderModel{ID: "gpt-4"}, simpleRequest(), llmcomms.NewProviderCallContext("req-1"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Message.Content != "hello there" {
		t.Fatalf("unexpected content: %q", resp.Message.Content)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Fatalf("expected total 15, got %d", resp.Usage.TotalTokens)
	}
	if resp.FinishReason != llmcomms.FinishStop {
		t.Fatalf("expected stop, got %v", resp.FinishReason)
	}

	req := fake.Calls[0]
	if req.Headers["Authorization"] != "Bearer sk-test" {
		t.Fatalf("expected bearer auth header, got %q", req.Headers["Authorization"])
	}
}

func TestSendMapsHTTPErrorStatus(t *testing.T) {
	fake := &transporttest.Fake{}
	fake.EnqueueJSON(429, []byte(`{"error": "rate limited"}`))

	a := New(fake, "sk-test", "")
	_, err := a.Send(context.Background(), llmcomms.ProviderModel{ID: "gpt-4"}, simpleRequest(), llmcomms.NewProviderCallContext("req-1"))
	if err == nil {
		t.Fatal("expected error")
	}
	if llmcomms.KindOf(err) != llmcomms.KindRateLimited {
		t.Fatalf("expected rate_limited, got %v", llmcomms.KindOf(err))
	}
}

func TestSendWrapsTransportFailure(t *testing.T) {
	fake := &transporttest.Fake{}
	fake.EnqueueError(context.DeadlineExceeded)

	a := New(fake, "sk-test", "")
	_, err := a.Send(context.Background(), llmcomms.ProviderModel{ID: "gpt-4"}, simpleRequest(), llmcomms.NewProviderCallContext("req-1"))
	if err == nil {
		t.Fatal("expected error")
	}
	if llmcomms.KindOf(err) != llmcomms.KindGeneric {
		t.Fatalf("expected generic, got %v", llmcomms.KindOf(err))
	}
}

func TestStreamParsesSSEAndSynthesizesComplete(t *testing.T) {
	fake := &transporttest.Fake{}
	sse := "" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"He\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"llo\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":3,\"completion_tokens\":2,\"total_tokens\":5}}\n\n" +
		"data: [DONE]\n\n"
	fake.Enqueue(func(ctx context.Context, req transport.Request) (*transport.Response, error) {
		return &transport.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader(sse))}, nil
	})

	a := New(fake, "sk-test", "")
	events, err := a.Stream(context.Background(), llmcomms.ProviderModel{ID: "gpt-4"}, simpleRequest(), llmcomms.NewProviderCallContext("req-1"))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var text string
	var sawComplete bool
	for ev := range events {
		switch ev.Kind {
		case llmcomms.StreamEventDelta:
			text += ev.TextDelta
		case llmcomms.StreamEventComplete:
			sawComplete = true
			if ev.Usage.TotalTokens != 5 {
				t.Fatalf("expected usage total 5, got %d", ev.Usage.TotalTokens)
			}
			if ev.FinishReason != llmcomms.FinishStop {
				t.Fatalf("expected stop, got %v", ev.FinishReason)
			}
		}
	}
	if text != "Hello" {
		t.Fatalf("expected concatenated %q, got %q", "Hello", text)
	}
	if !sawComplete {
		t.Fatal("expected a terminal complete event")
	}
}

func TestStreamRejectedWhenNotSupported(t *testing.T) {
	fake := &transporttest.Fake{}
	a := New(fake, "sk-test", "")
	a.Caps.SupportsStreaming = false

	_, err := a.Stream(context.Background(), llmcomms.ProviderModel{ID: "gpt-4"}, simpleRequest(), llmcomms.NewProviderCallContext("req-1"))
	if err == nil {
		t.Fatal("expected error")
	}
	if llmcomms.KindOf(err) != llmcomms.KindNotSupported {
		t.Fatalf("expected not_supported, got %v", llmcomms.KindOf(err))
	}
}
