package ollama

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

func TestSendParsesSingleEvent(t *testing.T) {
	fake := &transporttest.Fake{}
	fake.EnqueueJSON(200, []byte(`{
		"message": {"role": "assistant", "content": "hello"},
		"done": true,
		"prompt_eval_count": 4,
		"eval_count": 6
	}`))

	a := New(fake, "")
	resp, err := a.Send(context.Background(), llmcomms.ProviderModel{ID: "llama3"}, simpleRequest(), llmcomms.NewProviderCallContext("req-1"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Message.Content != "hello" {
		t.Fatalf("unexpected content: %q", resp.Message.Content)
	}
	if resp.Usage.TotalTokens != 10 {
		t.Fatalf("expected total 10, got %d", resp.Usage.TotalTokens)
	}
	if resp.FinishReason != llmcomms.FinishStop {
		t.Fatalf("expected stop, got %v", resp.FinishReason)
	}
}

// TestStreamDecodesNDJSONUntilDone exercises the literal S5 scenario:
// multiple NDJSON chat events decoded one Decode() call at a time, ending
// on the event carrying done:true.
func TestStreamDecodesNDJSONUntilDone(t *testing.T) {
	fake := &transporttest.Fake{}
	ndjson := `{"message":{"role":"assistant","content":"Hel"},"done":false}
{"message":{"role":"assistant","content":"lo"},"done":false}
{"message":{"role":"assistant","content":""},"done":true,"prompt_eval_count":3,"eval_count":2}
`
	fake.Enqueue(func(ctx context.Context, req transport.Request) (*transport.Response, error) {
		return &transport.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader(ndjson))}, nil
	})

	a := New(fake, "")
	events, err := a.Stream(context.Background(), llmcomms.ProviderModel{ID: "llama3"}, simpleRequest(), llmcomms.NewProviderCallContext("req-1"))
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
			if ev.FinishReason != llmcomms.FinishStop {
				t.Fatalf("expected stop, got %v", ev.FinishReason)
			}
			if ev.Usage.TotalTokens != 5 {
				t.Fatalf("expected usage total 5, got %d", ev.Usage.TotalTokens)
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

func TestStreamEndsOnEOFWithoutDone(t *testing.T) {
	fake := &transporttest.Fake{}
	ndjson := `{"message":{"role":"assistant","content":"partial"},"done":false}
`
	fake.Enqueue(func(ctx context.Context, req transport.Request) (*transport.Response, error) {
		return &transport.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader(ndjson))}, nil
	})

	a := New(fake, "")
	events, err := a.Stream(context.Background(), llmcomms.ProviderModel{ID: "llama3"}, simpleRequest(), llmcomms.NewProviderCallContext("req-1"))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var sawComplete bool
	for ev := range events {
		if ev.Kind == llmcomms.StreamEventComplete {
			sawComplete = true
		}
	}
	if !sawComplete {
		t.Fatal("expected a synthesized complete event even without an in-band done:true")
	}
}

func TestSendMapsHTTPErrorStatus(t *testing.T) {
	fake := &transporttest.Fake{}
	fake.EnqueueJSON(500, []byte(`{"error": "model crashed"}`))

	a := New(fake, "")
	_, err := a.Send(context.Background(), llmcomms.ProviderModel{ID: "llama3"}, simpleRequest(), llmcomms.NewProviderCallContext("req-1"))
	if err == nil {
		t.Fatal("expected error")
	}
	if llmcomms.KindOf(err) != llmcomms.KindProviderUnavailable {
		t.Fatalf("expected provider_unavailable, got %v", llmcomms.KindOf(err))
	}
}
