package azure

import (
	"context"
	"testing"

	"github.com/liranbd/llmcomms-go/pkg/llmcomms"
	"github.com/liranbd/llmcomms-go/pkg/llmcomms/transport/transporttest"
)

func TestNewBuildsDeploymentPathAndAPIKeyHeader(t *testing.T) {
	fake := &transporttest.Fake{}
	fake.EnqueueJSON(200, []byte(`{
		"choices": [{"message": {"content": "hi"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2}
	}`))

	a := New(fake, Config{
		Endpoint:   "https://my-resource.openai.azure.com/",
		Deployment: "gpt-4-deploy",
		APIVersion: "2024-06-01",
		APIKey:     "secret-key",
		RequestID:  "req-abc",
	})

	if a.Name() != "azure-openai" {
		t.Fatalf("expected azure-openai, got %q", a.Name())
	}

	req := llmcomms.Request{Messages: []llmcomms.Message{{Role: llmcomms.RoleUser, Content: "hi"}}}
	_, err := a.Send(context.Background(), llmcomms.ProviderModel{ID: "gpt-4-deploy"}, req, llmcomms.NewProviderCallContext("req-1"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(fake.Calls) != 1 {
		t.Fatalf("expected 1 transport call, got %d", len(fake.Calls))
	}
	call := fake.Calls[0]
	wantURL := "https://my-resource.openai.azure.com/openai/deployments/gpt-4-deploy/chat/completions?api-version=2024-06-01"
	if call.URL != wantURL {
		t.Fatalf("expected url %q, got %q", wantURL, call.URL)
	}
	if call.Headers["api-key"] != "secret-key" {
		t.Fatalf("expected api-key header, got %q", call.Headers["api-key"])
	}
	if call.Headers["x-ms-client-request-id"] != "req-abc" {
		t.Fatalf("expected x-ms-client-request-id header, got %q", call.Headers["x-ms-client-request-id"])
	}
	if _, ok := call.Headers["Authorization"]; ok {
		t.Fatal("did not expect Authorization header when api-key is set")
	}
}

func TestNewFallsBackToBearerTokenWhenNoAPIKey(t *testing.T) {
	fake := &transporttest.Fake{}
	fake.EnqueueJSON(200, []byte(`{"choices": [{"message": {"content": "hi"}}]}`))

	a := New(fake, Config{
		Endpoint:    "https://my-resource.openai.azure.com",
		Deployment:  "gpt-4-deploy",
		APIVersion:  "2024-06-01",
		BearerToken: "entra-token",
	})

	req := llmcomms.Request{Messages: []llmcomms.Message{{Role: llmcomms.RoleUser, Content: "hi"}}}
	if _, err := a.Send(context.Background(), llmcomms.ProviderModel{ID: "gpt-4-deploy"}, req, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}

	call := fake.Calls[0]
	if call.Headers["Authorization"] != "Bearer entra-token" {
		t.Fatalf("expected bearer auth header, got %q", call.Headers["Authorization"])
	}
	if _, ok := call.Headers["api-key"]; ok {
		t.Fatal("did not expect api-key header when BearerToken is set")
	}
}
