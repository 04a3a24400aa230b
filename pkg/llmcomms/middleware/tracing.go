package middleware

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/liranbd/llmcomms-go/pkg/llmcomms"
)

const tracerName = "github.com/liranbd/llmcomms-go"

// Tracer returns the package-level Tracer for this module, using
// whatever TracerProvider is globally registered via otel.SetTracerProvider.
func Tracer() oteltrace.Tracer {
	return otel.Tracer(tracerName)
}

// Tracing is the chain's outermost default stage. It starts one span per
// invocation named llm.<provider>.<model>, tags it with invocation
// metadata, and on completion records the outcome.
type Tracing struct{}

// NewTracing constructs a Tracing middleware.
func NewTracing() *Tracing { return &Tracing{} }

func (t *Tracing) Name() string     { return "tracing" }
func (t *Tracing) IsTerminal() bool { return false }

func (t *Tracing) Invoke(ctx *llmcomms.LLMContext, next Next) (llmcomms.Response, error) {
	spanCtx, span := Tracer().Start(ctx.Ctx, spanName(ctx), oteltrace.WithSpanKind(oteltrace.SpanKindClient))
	defer span.End()
	span.SetAttributes(baseAttributes(ctx)...)

	cp := *ctx
	cp.Ctx = spanCtx
	resp, err := next(&cp)

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("llm.error.kind", string(llmcomms.KindOf(err))))
		return resp, err
	}
	span.SetStatus(codes.Ok, "")
	span.SetAttributes(
		attribute.String("llm.finish_reason", string(resp.FinishReason)),
		attribute.Int("llm.tokens.prompt", resp.Usage.PromptTokens),
		attribute.Int("llm.tokens.completion", resp.Usage.CompletionTokens),
		attribute.Int("llm.tokens.total", resp.Usage.TotalTokens),
	)
	return resp, nil
}

func (t *Tracing) InvokeStream(ctx *llmcomms.LLMContext, next StreamNext) (<-chan llmcomms.StreamEvent, error) {
	spanCtx, span := Tracer().Start(ctx.Ctx, spanName(ctx), oteltrace.WithSpanKind(oteltrace.SpanKindClient))
	span.SetAttributes(baseAttributes(ctx)...)

	cp := *ctx
	cp.Ctx = spanCtx
	inner, err := next(&cp)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, err
	}

	out := make(chan llmcomms.StreamEvent)
	go func() {
		defer close(out)
		defer span.End()
		var usage llmcomms.Usage
		sawError := false
		for ev := range inner {
			if ev.Kind == llmcomms.StreamEventError {
				sawError = true
			}
			if ev.Kind == llmcomms.StreamEventComplete {
				usage = usage.Add(ev.Usage)
			}
			out <- ev
		}
		if sawError {
			span.SetStatus(codes.Error, "stream error event observed")
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.SetAttributes(
			attribute.Int("llm.tokens.prompt", usage.PromptTokens),
			attribute.Int("llm.tokens.completion", usage.CompletionTokens),
			attribute.Int("llm.tokens.total", usage.TotalTokens),
		)
	}()
	return out, nil
}

func spanName(ctx *llmcomms.LLMContext) string {
	return fmt.Sprintf("llm.%s.%s", ctx.Provider, ctx.Model.ID)
}

func baseAttributes(ctx *llmcomms.LLMContext) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("llm.provider", ctx.Provider),
		attribute.String("llm.model", ctx.Model.ID),
		attribute.String("llm.request_id", ctx.Call.RequestID),
		attribute.Bool("llm.streaming", ctx.Stream),
	}
	if ctx.Request.HasTemperature() {
		attrs = append(attrs, attribute.Float64("llm.temperature", ctx.Request.Temperature))
	}
	if ctx.Request.HasMaxOutputTokens() {
		attrs = append(attrs, attribute.Int("llm.max_output_tokens", ctx.Request.MaxOutputTokens))
	}
	return attrs
}
