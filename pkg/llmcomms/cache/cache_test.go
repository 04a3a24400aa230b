package cache

import (
	"testing"
	"time"

	"github.com/liranbd/llmcomms-go/pkg/llmcomms"
)

func TestMemoryCacheSetGet(t *testing.T) {
	c := NewMemoryCache()
	resp := llmcomms.Response{Message: llmcomms.Message{Content: "hi"}}
	c.Set("k", resp, time.Minute)

	got, ok := c.Get("k")
	if !ok {
		t.Fatalf("expected hit")
	}
	if got.Message.Content != "hi" {
		t.Errorf("got content %q", got.Message.Content)
	}
}

func TestMemoryCacheMiss(t *testing.T) {
	c := NewMemoryCache()
	if _, ok := c.Get("missing"); ok {
		t.Fatalf("expected miss")
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	fixed := time.Unix(1000, 0)
	c.now = func() time.Time { return fixed }
	c.Set("k", llmcomms.Response{}, time.Second)

	c.now = func() time.Time { return fixed.Add(2 * time.Second) }
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected expiry")
	}
	if c.Len() != 0 {
		t.Errorf("expected lazy eviction to remove entry, len=%d", c.Len())
	}
}

func TestMemoryCacheDefensiveCopy(t *testing.T) {
	c := NewMemoryCache()
	resp := llmcomms.Response{ToolCalls: []llmcomms.ToolCall{{Name: "a"}}}
	c.Set("k", resp, 0)

	got, _ := c.Get("k")
	got.ToolCalls[0].Name = "mutated"

	got2, _ := c.Get("k")
	if got2.ToolCalls[0].Name != "a" {
		t.Errorf("mutation leaked into cache: %q", got2.ToolCalls[0].Name)
	}
}

func TestMemoryCacheRemove(t *testing.T) {
	c := NewMemoryCache()
	c.Set("k", llmcomms.Response{}, 0)
	c.Remove("k")
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected removed entry to miss")
	}
}
