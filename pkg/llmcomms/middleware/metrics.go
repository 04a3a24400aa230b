package middleware

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/liranbd/llmcomms-go/pkg/llmcomms"
)

// meterName is the instrumentation scope name for every instrument this
// module creates.
const meterName = "LlmComms"

// Instruments holds the five metric instruments the Metrics middleware
// records to. Exported so callers wiring a custom MeterProvider can build
// one with NewInstruments and share it across multiple Clients.
type Instruments struct {
	RequestsTotal     metric.Int64Counter
	RequestDuration   metric.Float64Histogram
	TokensPrompt      metric.Int64Histogram
	TokensCompletion  metric.Int64Histogram
	TokensTotal       metric.Int64Histogram
}

// NewInstruments creates the five LlmComms instruments against mp.
func NewInstruments(mp metric.MeterProvider) (*Instruments, error) {
	m := mp.Meter(meterName)
	var err error
	in := &Instruments{}

	if in.RequestsTotal, err = m.Int64Counter("llm.requests.total",
		metric.WithDescription("Total client invocations."),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if in.RequestDuration, err = m.Float64Histogram("llm.request.duration",
		metric.WithDescription("Invocation duration."),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if in.TokensPrompt, err = m.Int64Histogram("llm.tokens.prompt",
		metric.WithDescription("Prompt tokens per invocation."),
		metric.WithUnit("{token}"),
	); err != nil {
		return nil, err
	}
	if in.TokensCompletion, err = m.Int64Histogram("llm.tokens.completion",
		metric.WithDescription("Completion tokens per invocation."),
		metric.WithUnit("{token}"),
	); err != nil {
		return nil, err
	}
	if in.TokensTotal, err = m.Int64Histogram("llm.tokens.total",
		metric.WithDescription("Total tokens per invocation."),
		metric.WithUnit("{token}"),
	); err != nil {
		return nil, err
	}
	return in, nil
}

var (
	defaultInstruments     *Instruments
	defaultInstrumentsOnce sync.Once
)

// DefaultInstruments returns the process-global Instruments, created
// lazily and idempotently against otel.GetMeterProvider so multiple
// Clients in one process share telemetry. Panics if instrument creation
// fails against the global provider, which should not happen.
func DefaultInstruments() *Instruments {
	defaultInstrumentsOnce.Do(func() {
		var err error
		defaultInstruments, err = NewInstruments(otel.GetMeterProvider())
		if err != nil {
			panic("llmcomms/middleware: failed to create default instruments: " + err.Error())
		}
	})
	return defaultInstruments
}

// Metrics is the fourth default stage: records exactly one request and
// one duration sample per invocation, plus token histograms when the
// corresponding count is positive.
type Metrics struct {
	Instruments *Instruments
}

// NewMetrics constructs a Metrics middleware against DefaultInstruments.
func NewMetrics() *Metrics { return &Metrics{Instruments: DefaultInstruments()} }

func (me *Metrics) Name() string     { return "metrics" }
func (me *Metrics) IsTerminal() bool { return false }

func (me *Metrics) baseAttrs(ctx *llmcomms.LLMContext) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("provider", ctx.Provider),
		attribute.String("model", ctx.Model.ID),
		attribute.Bool("streaming", ctx.Stream),
	}
}

func (me *Metrics) record(ctx context.Context, attrs []attribute.KeyValue, duration time.Duration, usage llmcomms.Usage, in *Instruments, enableTokenUsageEvents bool) {
	opt := metric.WithAttributes(attrs...)
	in.RequestsTotal.Add(ctx, 1, opt)
	in.RequestDuration.Record(ctx, float64(duration.Microseconds())/1000.0, opt)
	if !enableTokenUsageEvents {
		return
	}
	if usage.PromptTokens > 0 {
		in.TokensPrompt.Record(ctx, int64(usage.PromptTokens), opt)
	}
	if usage.CompletionTokens > 0 {
		in.TokensCompletion.Record(ctx, int64(usage.CompletionTokens), opt)
	}
	if usage.TotalTokens > 0 {
		in.TokensTotal.Record(ctx, int64(usage.TotalTokens), opt)
	}
}

func (me *Metrics) Invoke(ctx *llmcomms.LLMContext, next Next) (llmcomms.Response, error) {
	in := me.Instruments
	if in == nil {
		in = DefaultInstruments()
	}
	start := time.Now()
	resp, err := next(ctx)
	duration := time.Since(start)

	attrs := me.baseAttrs(ctx)
	if err != nil {
		attrs = append(attrs,
			attribute.String("outcome", "failure"),
			attribute.String("error_type", string(llmcomms.KindOf(err))),
		)
		me.record(ctx.Ctx, attrs, duration, llmcomms.Usage{}, in, ctx.Options.EnableTokenUsageEvents)
		return resp, err
	}
	attrs = append(attrs,
		attribute.String("outcome", "success"),
		attribute.String("finish_reason", string(resp.FinishReason)),
	)
	me.record(ctx.Ctx, attrs, duration, resp.Usage, in, ctx.Options.EnableTokenUsageEvents)
	return resp, nil
}

func (me *Metrics) InvokeStream(ctx *llmcomms.LLMContext, next StreamNext) (<-chan llmcomms.StreamEvent, error) {
	in := me.Instruments
	if in == nil {
		in = DefaultInstruments()
	}
	start := time.Now()
	inner, err := next(ctx)
	if err != nil {
		attrs := append(me.baseAttrs(ctx),
			attribute.String("outcome", "failure"),
			attribute.String("error_type", string(llmcomms.KindOf(err))),
		)
		me.record(ctx.Ctx, attrs, time.Since(start), llmcomms.Usage{}, in, ctx.Options.EnableTokenUsageEvents)
		return nil, err
	}

	out := make(chan llmcomms.StreamEvent)
	go func() {
		defer close(out)
		var usage llmcomms.Usage
		var finish llmcomms.FinishReason
		sawError := false
		for ev := range inner {
			if ev.Kind == llmcomms.StreamEventError {
				sawError = true
			}
			if ev.Kind == llmcomms.StreamEventComplete {
				usage = usage.Add(ev.Usage)
				finish = ev.FinishReason
			}
			out <- ev
		}
		outcome := "success"
		if sawError {
			outcome = "warning"
		}
		attrs := append(me.baseAttrs(ctx),
			attribute.String("outcome", outcome),
			attribute.String("finish_reason", string(finish)),
		)
		me.record(ctx.Ctx, attrs, time.Since(start), usage, in, ctx.Options.EnableTokenUsageEvents)
	}()
	return out, nil
}
