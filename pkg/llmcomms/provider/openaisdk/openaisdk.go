// Package openaisdk implements provider.Adapter on top of
// github.com/openai/openai-go, adapted directly from the teacher's
// pkg/provider/llm/openai/openai.go: the same buildParams/convertMessage
// shape and streaming tool-call accumulation, reworked against
// llmcomms.Request/Response instead of the teacher's CompletionRequest.
// Use this when vendor-SDK connection pooling/retries are preferred over
// the hand-rolled provider/openai Transport-port adapter.
package openaisdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/liranbd/llmcomms-go/pkg/llmcomms"
	"github.com/liranbd/llmcomms-go/pkg/llmcomms/provider"
	"github.com/liranbd/llmcomms-go/pkg/llmcomms/util"
)

// Adapter implements provider.Adapter using the official OpenAI Go SDK.
type Adapter struct {
	client oai.Client
	caps   llmcomms.ProviderCapabilities
}

type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
}

// Option configures New.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL (e.g. to target
// an OpenAI-compatible third-party endpoint).
func WithBaseURL(url string) Option { return func(c *config) { c.baseURL = url } }

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option { return func(c *config) { c.organization = org } }

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option { return func(c *config) { c.timeout = d } }

// New constructs an Adapter backed by the openai-go SDK client.
func New(apiKey string, opts ...Option) (*Adapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openaisdk: apiKey must not be empty")
	}
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Adapter{
		client: oai.NewClient(reqOpts...),
		caps: llmcomms.ProviderCapabilities{
			SupportsStreaming: true,
			SupportsJSONMode:  true,
			SupportsTools:     true,
		},
	}, nil
}

func (a *Adapter) Name() string                               { return "openai-sdk" }
func (a *Adapter) Capabilities() llmcomms.ProviderCapabilities { return a.caps }

func (a *Adapter) CreateModel(ctx context.Context, id string, opts map[string]any) (llmcomms.ProviderModel, error) {
	return llmcomms.ProviderModel{ID: id, Format: llmcomms.ModelFormatChat}, nil
}

// buildParams converts an llmcomms.Request into openai-go SDK params,
// mirroring the teacher's buildParams/convertMessage shape.
func buildParams(model string, req llmcomms.Request) (oai.ChatCompletionNewParams, error) {
	var messages []oai.ChatCompletionMessageParamUnion
	for _, m := range req.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: messages,
	}
	if req.HasTemperature() {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.HasTopP() {
		params.TopP = param.NewOpt(req.TopP)
	}
	if req.HasMaxOutputTokens() {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxOutputTokens))
	}
	if req.ResponseFormat == llmcomms.ResponseFormatJSON {
		params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	for _, td := range req.Tools {
		params.Tools = append(params.Tools, oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        td.Name,
				Description: param.NewOpt(td.Description),
				Parameters:  shared.FunctionParameters(td.Parameters),
			},
		})
	}
	return params, nil
}

func convertMessage(m llmcomms.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case llmcomms.RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case llmcomms.RoleUser:
		return oai.UserMessage(m.Content), nil
	case llmcomms.RoleAssistant:
		asst := oai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			asst.Content.OfString = oai.String(m.Content)
		}
		if m.Name != "" {
			asst.Name = oai.String(m.Name)
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil
	case llmcomms.RoleTool:
		return oai.ToolMessage(m.Content, m.ToolCallID), nil
	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openaisdk: unknown message role %q", m.Role)
	}
}

// Send performs one unary completion.
func (a *Adapter) Send(ctx context.Context, model llmcomms.ProviderModel, req llmcomms.Request, call *llmcomms.ProviderCallContext) (llmcomms.Response, error) {
	params, err := buildParams(model.ID, req)
	if err != nil {
		return llmcomms.Response{}, llmcomms.NewError(llmcomms.KindValidation, "build params", err)
	}

	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return llmcomms.Response{}, translateSDKErr(err)
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

	return llmcomms.Response{
		Message:      llmcomms.Message{Role: llmcomms.RoleAssistant, Content: choice.Message.Content},
		Usage:        provider.ComputeUsage(int(resp.Usage.PromptTokens), int(resp.Usage.CompletionTokens), int(resp.Usage.TotalTokens)),
		FinishReason: llmcomms.MapFinishReason(string(choice.FinishReason)),
		ToolCalls:    toolCalls,
		Raw:          map[string]any{"id": resp.ID, "model": resp.Model, "created": resp.Created},
	}, nil
}

// Stream performs one streaming completion, accumulating tool-call
// fragments by index exactly as the teacher's StreamCompletion did.
func (a *Adapter) Stream(ctx context.Context, model llmcomms.ProviderModel, req llmcomms.Request, call *llmcomms.ProviderCallContext) (<-chan llmcomms.StreamEvent, error) {
	if !a.caps.SupportsStreaming {
		return nil, llmcomms.NewError(llmcomms.KindNotSupported, "openaisdk: streaming not supported", nil)
	}
	params, err := buildParams(model.ID, req)
	if err != nil {
		return nil, llmcomms.NewError(llmcomms.KindValidation, "build params", err)
	}

	stream := a.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, translateSDKErr(err)
	}

	out := make(chan llmcomms.StreamEvent, 16)
	go func() {
		defer close(out)
		defer stream.Close()

		accum := provider.NewToolAccumulator()
		var usage llmcomms.Usage
		finish := llmcomms.FinishUnknown

		for stream.Next() {
			chunk := stream.Current()
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
			for _, tc := range delta.ToolCalls {
				accum.Add(int(tc.Index), tc.Function.Name, tc.Function.Arguments)
			}
			if choice.FinishReason != "" {
				finish = llmcomms.MapFinishReason(string(choice.FinishReason))
			}
			usage = usage.Add(llmcomms.Usage{
				PromptTokens:     int(chunk.Usage.PromptTokens),
				CompletionTokens: int(chunk.Usage.CompletionTokens),
				TotalTokens:      int(chunk.Usage.TotalTokens),
			})
		}

		for _, tc := range accum.Finish() {
			if !emit(ctx, out, llmcomms.StreamEvent{Kind: llmcomms.StreamEventToolCall, ToolCallDelta: tc}) {
				return
			}
		}

		if err := stream.Err(); err != nil {
			emit(ctx, out, llmcomms.StreamEvent{Kind: llmcomms.StreamEventError, Err: translateSDKErr(err), IsTerminal: true})
			return
		}
		emit(ctx, out, llmcomms.StreamEvent{Kind: llmcomms.StreamEventComplete, Usage: usage, FinishReason: finish, IsTerminal: true})
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

// translateSDKErr maps an openai-go error to the closest llmcomms.Kind via
// its HTTP status when the SDK surfaces one, including a Retry-After
// parse off the SDK's underlying *http.Response when present.
func translateSDKErr(err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		e := llmcomms.NewError(util.StatusToErrorKind(apiErr.StatusCode), apiErr.Message, err)
		e.StatusCode = apiErr.StatusCode
		if e.Kind == llmcomms.KindRateLimited && apiErr.Response != nil {
			if d, ok := util.ParseRetryAfterHeader(apiErr.Response.Header); ok {
				e.RetryAfter = d
			}
		}
		return e
	}
	return llmcomms.NewError(llmcomms.KindGeneric, "openaisdk: request failed", err)
}
