package middleware

import (
	"log/slog"
	"time"

	"github.com/liranbd/llmcomms-go/pkg/llmcomms"
	"github.com/liranbd/llmcomms-go/pkg/llmcomms/util"
)

// Stable event ids so downstream log consumers can filter without string
// matching on the message text.
const (
	eventRequestStart   = 1000
	eventRequestSuccess = 1001
	eventRequestFailure = 1002
	eventRequestWarning = 1003
)

// Logging is the third default stage: it observes the outcome Metrics
// will also observe, logging via log/slog.
type Logging struct {
	Logger *slog.Logger
	Debug  bool
}

// NewLogging constructs a Logging middleware against slog.Default.
func NewLogging() *Logging { return &Logging{Logger: slog.Default()} }

func (l *Logging) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func (l *Logging) Name() string     { return "logging" }
func (l *Logging) IsTerminal() bool { return false }

func (l *Logging) Invoke(ctx *llmcomms.LLMContext, next Next) (llmcomms.Response, error) {
	start := time.Now()
	l.logStart(ctx)

	resp, err := next(ctx)
	duration := time.Since(start)

	if err != nil {
		l.logger().LogAttrs(ctx.Ctx, slog.LevelWarn, "request.failure",
			slog.Int("event_id", eventRequestFailure),
			slog.String("request_id", ctx.Call.RequestID),
			slog.Duration("duration", duration),
			slog.String("error_kind", string(llmcomms.KindOf(err))),
		)
		return resp, err
	}

	l.logger().LogAttrs(ctx.Ctx, slog.LevelInfo, "request.success",
		slog.Int("event_id", eventRequestSuccess),
		slog.String("request_id", ctx.Call.RequestID),
		slog.Duration("duration", duration),
		slog.String("finish_reason", string(resp.FinishReason)),
		slog.Int("prompt_tokens", resp.Usage.PromptTokens),
		slog.Int("completion_tokens", resp.Usage.CompletionTokens),
		slog.Int("total_tokens", resp.Usage.TotalTokens),
	)
	return resp, nil
}

func (l *Logging) InvokeStream(ctx *llmcomms.LLMContext, next StreamNext) (<-chan llmcomms.StreamEvent, error) {
	start := time.Now()
	l.logStart(ctx)

	inner, err := next(ctx)
	if err != nil {
		l.logger().LogAttrs(ctx.Ctx, slog.LevelWarn, "request.failure",
			slog.Int("event_id", eventRequestFailure),
			slog.String("request_id", ctx.Call.RequestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error_kind", string(llmcomms.KindOf(err))),
		)
		return nil, err
	}

	out := make(chan llmcomms.StreamEvent)
	go func() {
		defer close(out)
		var usage llmcomms.Usage
		sawError := false
		sawTerminal := false
		for ev := range inner {
			if ev.Kind == llmcomms.StreamEventError {
				sawError = true
			}
			if ev.Kind == llmcomms.StreamEventComplete {
				usage = usage.Add(ev.Usage)
			}
			if ev.IsTerminal {
				sawTerminal = true
			}
			out <- ev
		}
		duration := time.Since(start)
		switch {
		case sawError:
			l.logger().LogAttrs(ctx.Ctx, slog.LevelWarn, "request.warning",
				slog.Int("event_id", eventRequestWarning),
				slog.String("request_id", ctx.Call.RequestID),
				slog.Duration("duration", duration),
			)
		default:
			l.logger().LogAttrs(ctx.Ctx, slog.LevelInfo, "request.success",
				slog.Int("event_id", eventRequestSuccess),
				slog.String("request_id", ctx.Call.RequestID),
				slog.Duration("duration", duration),
				slog.Int("prompt_tokens", usage.PromptTokens),
				slog.Int("completion_tokens", usage.CompletionTokens),
				slog.Int("total_tokens", usage.TotalTokens),
				slog.Bool("terminal_observed", sawTerminal),
			)
		}
	}()
	return out, nil
}

func (l *Logging) logStart(ctx *llmcomms.LLMContext) {
	hash := util.Hash(ctx.Model.ID, ctx.Request)
	l.logger().LogAttrs(ctx.Ctx, slog.LevelInfo, "request.start",
		slog.Int("event_id", eventRequestStart),
		slog.String("request_id", ctx.Call.RequestID),
		slog.String("provider", ctx.Provider),
		slog.String("model", ctx.Model.ID),
		slog.Bool("streaming", ctx.Stream),
		slog.Int("message_count", len(ctx.Request.Messages)),
		slog.String("request_hash", hash),
	)
	if l.Debug {
		if preview, ok := ctx.Call.Get(ctxRedactedPreview); ok {
			l.logger().LogAttrs(ctx.Ctx, slog.LevelDebug, "request.preview",
				slog.String("request_id", ctx.Call.RequestID),
				slog.Any("preview", preview),
			)
		}
	}
}
