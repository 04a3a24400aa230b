package middleware

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/liranbd/llmcomms-go/pkg/llmcomms"
)

// newTestInstruments returns Instruments backed by a ManualReader for
// programmatic metric inspection.
func newTestInstruments(t *testing.T) (*Instruments, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	in, err := NewInstruments(mp)
	if err != nil {
		t.Fatalf("NewInstruments: %v", err)
	}
	return in, reader
}

func testInstruments(t *testing.T) *Instruments {
	in, _ := newTestInstruments(t)
	return in
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewInstrumentsCreatesWithoutError(t *testing.T) {
	in, _ := newTestInstruments(t)
	if in == nil {
		t.Fatal("NewInstruments returned nil")
	}
}

func simpleRequest() llmcomms.Request {
	return llmcomms.Request{Messages: []llmcomms.Message{{Role: llmcomms.RoleUser, Content: "hi"}}}
}

// I6 — exactly one llm.requests.total increment and one
// llm.request.duration sample per invocation; token histograms recorded
// iff the respective count is positive.
func TestMetricsI6OneRequestOneDuration(t *testing.T) {
	in, reader := newTestInstruments(t)
	m := &Metrics{Instruments: in}

	adapter := &fakeAdapter{resp: llmcomms.Response{
		Message: llmcomms.Message{Content: "hi"},
		Usage:   llmcomms.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}}
	b := NewBuilder().WithMetrics(m).WithTerminal(NewTerminal(adapter))
	c, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	ctx := newTestContext(simpleRequest())
	if _, err := c.Invoke(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rm := collect(t, reader)

	total := findMetric(rm, "llm.requests.total")
	if total == nil {
		t.Fatal("llm.requests.total not found")
	}
	sum, ok := total.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Errorf("llm.requests.total = %+v, want exactly one increment", total.Data)
	}

	dur := findMetric(rm, "llm.request.duration")
	if dur == nil {
		t.Fatal("llm.request.duration not found")
	}
	hist, ok := dur.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Errorf("llm.request.duration = %+v, want exactly one sample", dur.Data)
	}

	for _, name := range []string{"llm.tokens.prompt", "llm.tokens.completion", "llm.tokens.total"} {
		met := findMetric(rm, name)
		if met == nil {
			t.Fatalf("%s not found", name)
		}
		h, ok := met.Data.(metricdata.Histogram[int64])
		if !ok || len(h.DataPoints) != 1 {
			t.Errorf("%s = %+v, want exactly one sample since all token counts are positive", name, met.Data)
		}
	}
}

func TestMetricsSkipsZeroTokenHistograms(t *testing.T) {
	in, reader := newTestInstruments(t)
	m := &Metrics{Instruments: in}
	adapter := &fakeAdapter{resp: llmcomms.Response{Message: llmcomms.Message{Content: "hi"}}}
	b := NewBuilder().WithMetrics(m).WithTerminal(NewTerminal(adapter))
	c, _ := b.Build()

	ctx := newTestContext(simpleRequest())
	c.Invoke(ctx)

	rm := collect(t, reader)
	for _, name := range []string{"llm.tokens.prompt", "llm.tokens.completion", "llm.tokens.total"} {
		met := findMetric(rm, name)
		if met == nil {
			continue
		}
		h, ok := met.Data.(metricdata.Histogram[int64])
		if ok && len(h.DataPoints) != 0 {
			t.Errorf("%s recorded a sample for zero token count", name)
		}
	}
}

func TestMetricsHonorsEnableTokenUsageEventsFalse(t *testing.T) {
	in, reader := newTestInstruments(t)
	m := &Metrics{Instruments: in}
	adapter := &fakeAdapter{resp: llmcomms.Response{
		Message: llmcomms.Message{Content: "hi"},
		Usage:   llmcomms.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}}
	b := NewBuilder().WithMetrics(m).WithTerminal(NewTerminal(adapter))
	c, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	ctx := newTestContext(simpleRequest())
	ctx.Options.EnableTokenUsageEvents = false
	if _, err := c.Invoke(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rm := collect(t, reader)

	total := findMetric(rm, "llm.requests.total")
	sum, ok := total.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) != 1 {
		t.Errorf("llm.requests.total = %+v, want exactly one increment even with token events disabled", total.Data)
	}

	for _, name := range []string{"llm.tokens.prompt", "llm.tokens.completion", "llm.tokens.total"} {
		met := findMetric(rm, name)
		if met == nil {
			continue
		}
		h, ok := met.Data.(metricdata.Histogram[int64])
		if ok && len(h.DataPoints) != 0 {
			t.Errorf("%s recorded a sample despite EnableTokenUsageEvents=false", name)
		}
	}
}

func TestMetricsFailureOutcome(t *testing.T) {
	in, reader := newTestInstruments(t)
	m := &Metrics{Instruments: in}
	adapter := &fakeAdapter{err: llmcomms.NewError(llmcomms.KindValidation, "bad", nil)}
	b := NewBuilder().WithMetrics(m).WithTerminal(NewTerminal(adapter))
	c, _ := b.Build()

	ctx := newTestContext(simpleRequest())
	if _, err := c.Invoke(ctx); err == nil {
		t.Fatal("expected error")
	}

	rm := collect(t, reader)
	total := findMetric(rm, "llm.requests.total")
	sum, ok := total.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) != 1 {
		t.Fatalf("expected exactly one request recorded even on failure")
	}
}
