// Package anyllm implements provider.Adapter on top of
// github.com/mozilla-ai/any-llm-go, adapted directly from the teacher's
// pkg/provider/llm/anyllm/anyllm.go: the same createBackend/buildParams/
// tool-call-accumulation shape, fanning out to nine backend names the
// way the teacher does for its own LLM backends.
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/liranbd/llmcomms-go/pkg/llmcomms"
	"github.com/liranbd/llmcomms-go/pkg/llmcomms/provider"
)

// Adapter implements provider.Adapter by wrapping any-llm-go, fanning out
// to whichever of its nine backend packages New was constructed with.
type Adapter struct {
	backend     anyllmlib.Provider
	backendName string
	caps        llmcomms.ProviderCapabilities
}

// New constructs an Adapter for the given backend name: one of openai,
// anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile.
// opts are any-llm-go configuration options (WithAPIKey, WithBaseURL,
// ...); without an API key option each backend falls back to its
// standard environment variable.
func New(backendName string, opts ...anyllmlib.Option) (*Adapter, error) {
	if backendName == "" {
		return nil, fmt.Errorf("anyllm: backendName must not be empty")
	}
	backend, err := createBackend(backendName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", backendName, err)
	}
	return &Adapter{
		backend:     backend,
		backendName: strings.ToLower(backendName),
		caps: llmcomms.ProviderCapabilities{
			SupportsStreaming: true,
			SupportsTools:     true,
		},
	}, nil
}

func createBackend(backendName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(backendName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", backendName)
	}
}

func (a *Adapter) Name() string                               { return "anyllm-" + a.backendName }
func (a *Adapter) Capabilities() llmcomms.ProviderCapabilities { return a.caps }

func (a *Adapter) CreateModel(ctx context.Context, id string, opts map[string]any) (llmcomms.ProviderModel, error) {
	return llmcomms.ProviderModel{ID: id, Format: llmcomms.ModelFormatChat}, nil
}

func buildParams(model string, req llmcomms.Request) anyllmlib.CompletionParams {
	messages := make([]anyllmlib.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, convertMessage(m))
	}

	params := anyllmlib.CompletionParams{Model: model, Messages: messages}
	if req.HasTemperature() {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.HasMaxOutputTokens() {
		mt := req.MaxOutputTokens
		params.MaxTokens = &mt
	}
	for _, td := range req.Tools {
		params.Tools = append(params.Tools, anyllmlib.Tool{
			Type:     "function",
			Function: anyllmlib.Function{Name: td.Name, Description: td.Description, Parameters: td.Parameters},
		})
	}
	return params
}

func convertMessage(m llmcomms.Message) anyllmlib.Message {
	return anyllmlib.Message{
		Role:       string(m.Role),
		Content:    m.Content,
		Name:       m.Name,
		ToolCallID: m.ToolCallID,
	}
}

// Send performs one unary completion.
func (a *Adapter) Send(ctx context.Context, model llmcomms.ProviderModel, req llmcomms.Request, call *llmcomms.ProviderCallContext) (llmcomms.Response, error) {
	params := buildParams(model.ID, req)

	resp, err := a.backend.Completion(ctx, params)
	if err != nil {
		return llmcomms.Response{}, llmcomms.NewError(llmcomms.KindGeneric, "anyllm: completion", err)
	}
	if len(resp.Choices) == 0 {
		return llmcomms.Response{}, llmcomms.NewError(llmcomms.KindProviderUnavailable, "empty choices in response", nil)
	}

	choice := resp.Choices[0]
	var toolCalls []llmcomms.ToolCall
	for _, tc := range choice.Message.ToolCalls {
		if tc.Function.Name == "" {
			continue
		}
		toolCalls = append(toolCalls, llmcomms.ToolCall{Name: tc.Function.Name, ArgumentsJSON: tc.Function.Arguments})
	}

	var usage llmcomms.Usage
	if resp.Usage != nil {
		usage = provider.ComputeUsage(resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
	}

	return llmcomms.Response{
		Message:      llmcomms.Message{Role: llmcomms.RoleAssistant, Content: choice.Message.ContentString()},
		Usage:        usage,
		FinishReason: llmcomms.MapFinishReason(string(choice.FinishReason)),
		ToolCalls:    toolCalls,
	}, nil
}

// Stream performs one streaming completion, accumulating tool-call
// fragments by index exactly as the teacher's StreamCompletion did.
func (a *Adapter) Stream(ctx context.Context, model llmcomms.ProviderModel, req llmcomms.Request, call *llmcomms.ProviderCallContext) (<-chan llmcomms.StreamEvent, error) {
	if !a.caps.SupportsStreaming {
		return nil, llmcomms.NewError(llmcomms.KindNotSupported, "anyllm: streaming not supported", nil)
	}
	params := buildParams(model.ID, req)
	backendChunks, backendErrs := a.backend.CompletionStream(ctx, params)

	out := make(chan llmcomms.StreamEvent, 16)
	go func() {
		defer close(out)

		accum := provider.NewToolAccumulator()
		finish := llmcomms.FinishUnknown

		for chunk := range backendChunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			delta := choice.Delta

			if delta.Content != "" {
				if !emit(ctx, out, llmcomms.StreamEvent{Kind: llmcomms.StreamEventDelta, TextDelta: delta.Content}) {
					return
				}
			}
			for i, tc := range delta.ToolCalls {
				accum.Add(i, tc.Function.Name, tc.Function.Arguments)
			}
			if choice.FinishReason != "" {
				finish = llmcomms.MapFinishReason(string(choice.FinishReason))
			}
		}

		for _, tc := range accum.Finish() {
			if !emit(ctx, out, llmcomms.StreamEvent{Kind: llmcomms.StreamEventToolCall, ToolCallDelta: tc}) {
				return
			}
		}

		if err := <-backendErrs; err != nil {
			emit(ctx, out, llmcomms.StreamEvent{Kind: llmcomms.StreamEventError, Err: llmcomms.NewError(llmcomms.KindGeneric, "anyllm: stream failure", err), IsTerminal: true})
			return
		}
		emit(ctx, out, llmcomms.StreamEvent{Kind: llmcomms.StreamEventComplete, FinishReason: finish, IsTerminal: true})
	}()

	return out, nil
}

func emit(ctx context.Context, out chan<- llmcomms.StreamEvent, ev llmcomms.StreamEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
