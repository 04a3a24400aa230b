// Package openai implements provider.Adapter against OpenAI's chat
// completions wire format over a raw transport.Port, including SSE
// streaming. It never imports a vendor SDK — see provider/openaisdk for
// the vendor-SDK-backed alternative.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/liranbd/llmcomms-go/pkg/llmcomms"
	"github.com/liranbd/llmcomms-go/pkg/llmcomms/provider"
	"github.com/liranbd/llmcomms-go/pkg/llmcomms/transport"
	"github.com/liranbd/llmcomms-go/pkg/llmcomms/util"
)

// Adapter talks to api.openai.com (or an OpenAI-compatible endpoint) over
// transport.Port.
type Adapter struct {
	Transport transport.Port
	APIKey    string
	BaseURL   string
	Caps      llmcomms.ProviderCapabilities

	// NameOverride, PathFn, and HeaderFn let an OpenAI-wire-compatible
	// variant (provider/azure) reuse this Adapter's payload shaping and
	// response/stream parsing while substituting its own URL and auth
	// scheme. Nil means the plain OpenAI defaults.
	NameOverride string
	PathFn       func(model string) string
	HeaderFn     func() map[string]string
}

// New constructs an Adapter. baseURL defaults to https://api.openai.com/v1
// when empty.
func New(t transport.Port, apiKey, baseURL string) *Adapter {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &Adapter{
		Transport: t,
		APIKey:    apiKey,
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Caps: llmcomms.ProviderCapabilities{
			SupportsStreaming: true,
			SupportsJSONMode:  true,
			SupportsTools:     true,
		},
	}
}

func (a *Adapter) Name() string {
	if a.NameOverride != "" {
		return a.NameOverride
	}
	return "openai"
}

func (a *Adapter) Capabilities() llmcomms.ProviderCapabilities { return a.Caps }

func (a *Adapter) CreateModel(ctx context.Context, id string, opts map[string]any) (llmcomms.ProviderModel, error) {
	return llmcomms.ProviderModel{ID: id, Format: llmcomms.ModelFormatChat}, nil
}

func (a *Adapter) headers() map[string]string {
	if a.HeaderFn != nil {
		return a.HeaderFn()
	}
	return map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer " + a.APIKey,
	}
}

func (a *Adapter) path(model string) string {
	if a.PathFn != nil {
		return a.PathFn(model)
	}
	return a.BaseURL + "/chat/completions"
}

// chatPayload shapes req into OpenAI's /chat/completions body (spec §4.11
// payload-shaping rules: role mapping, temp/top_p/max_tokens only-if-present,
// tools array shape, response_format).
func chatPayload(model string, req llmcomms.Request, stream bool) map[string]any {
	messages := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		entry := map[string]any{"role": util.VendorRole(m.Role), "content": m.Content}
		if m.Name != "" {
			entry["name"] = m.Name
		}
		if m.Role == llmcomms.RoleTool && m.ToolCallID != "" {
			entry["tool_call_id"] = m.ToolCallID
		}
		messages = append(messages, entry)
	}

	body := map[string]any{"model": model, "messages": messages}
	if req.HasTemperature() {
		body["temperature"] = req.Temperature
	}
	if req.HasTopP() {
		body["top_p"] = req.TopP
	}
	if req.HasMaxOutputTokens() {
		body["max_tokens"] = req.MaxOutputTokens
	}
	if tools := util.ToolDescriptors(req.Tools); tools != nil {
		body["tools"] = tools
	}
	if req.ResponseFormat == llmcomms.ResponseFormatJSON {
		body["response_format"] = map[string]any{"type": "json_object"}
	}
	if stream {
		body["stream"] = true
	}
	return body
}

type chatChoice struct {
	Message struct {
		Content   any `json:"content"`
		ToolCalls []struct {
			ID       string `json:"id"`
			Function struct {
				Name      string `json:"name"`
				Arguments string `json:"arguments"`
			} `json:"function"`
		} `json:"tool_calls"`
	} `json:"message"`
	Delta struct {
		Content   string `json:"content"`
		ToolCalls []struct {
			Index    int    `json:"index"`
			Function struct {
				Name      string `json:"name"`
				Arguments string `json:"arguments"`
			} `json:"function"`
		} `json:"tool_calls"`
	} `json:"delta"`
	FinishReason string `json:"finish_reason"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	ID               string `json:"id"`
	Model            string `json:"model"`
	Created          int64  `json:"created"`
	SystemFingerprint string `json:"system_fingerprint"`
}

func (a *Adapter) doRequest(ctx context.Context, model llmcomms.ProviderModel, req llmcomms.Request, stream bool) (*transport.Response, error) {
	body, err := json.Marshal(chatPayload(model.ID, req, stream))
	if err != nil {
		return nil, llmcomms.NewError(llmcomms.KindValidation, "marshal request", err)
	}
	tr := transport.Request{
		Method:  "POST",
		URL:     a.path(model.ID),
		Headers: a.headers(),
		Body:    body,
	}
	if stream {
		return a.Transport.DoStream(ctx, tr)
	}
	return a.Transport.Do(ctx, tr)
}

// Send performs one unary completion.
func (a *Adapter) Send(ctx context.Context, model llmcomms.ProviderModel, req llmcomms.Request, call *llmcomms.ProviderCallContext) (llmcomms.Response, error) {
	resp, err := a.doRequest(ctx, model, req, false)
	if err != nil {
		return llmcomms.Response{}, translateTransportErr(err)
	}
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return llmcomms.Response{}, llmcomms.NewError(llmcomms.KindGeneric, "read response body", err)
	}
	if resp.StatusCode >= 300 {
		return llmcomms.Response{}, httpError(resp.StatusCode, resp.Headers, buf.String(), call)
	}

	var cr chatResponse
	if err := json.Unmarshal(buf.Bytes(), &cr); err != nil {
		return llmcomms.Response{}, llmcomms.NewError(llmcomms.KindValidation, "decode response", err)
	}
	if len(cr.Choices) == 0 {
		return llmcomms.Response{}, llmcomms.NewError(llmcomms.KindProviderUnavailable, "empty choices", nil)
	}
	choice := cr.Choices[0]

	var toolCalls []llmcomms.ToolCall
	for _, tc := range choice.Message.ToolCalls {
		if tc.Function.Name == "" {
			continue
		}
		toolCalls = append(toolCalls, llmcomms.ToolCall{Name: tc.Function.Name, ArgumentsJSON: tc.Function.Arguments})
	}

	return llmcomms.Response{
		Message:      llmcomms.Message{Role: llmcomms.RoleAssistant, Content: provider.ExtractContent(choice.Message.Content)},
		Usage:        provider.ComputeUsage(cr.Usage.PromptTokens, cr.Usage.CompletionTokens, cr.Usage.TotalTokens),
		FinishReason: llmcomms.MapFinishReason(choice.FinishReason),
		ToolCalls:    toolCalls,
		Raw: map[string]any{
			"id": cr.ID, "model": cr.Model, "created": cr.Created, "system_fingerprint": cr.SystemFingerprint,
		},
	}, nil
}

// Stream performs one streaming completion, parsing OpenAI's SSE `data:`
// lines per spec.md's Open Question: each data line is one JSON object,
// a blank line separates events, and `data: [DONE]` ends the stream. A
// trailing buffer with no terminal event observed is flushed as a
// synthesized complete event.
func (a *Adapter) Stream(ctx context.Context, model llmcomms.ProviderModel, req llmcomms.Request, call *llmcomms.ProviderCallContext) (<-chan llmcomms.StreamEvent, error) {
	if !a.Caps.SupportsStreaming {
		return nil, llmcomms.NewError(llmcomms.KindNotSupported, "openai: streaming not supported", nil)
	}
	resp, err := a.doRequest(ctx, model, req, true)
	if err != nil {
		return nil, translateTransportErr(err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		buf := new(bytes.Buffer)
		buf.ReadFrom(resp.Body)
		return nil, httpError(resp.StatusCode, resp.Headers, buf.String(), call)
	}

	out := make(chan llmcomms.StreamEvent, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		accum := provider.NewToolAccumulator()
		var usage llmcomms.Usage
		finish := llmcomms.FinishUnknown

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				break
			}
			if payload == "" {
				continue
			}

			var cr chatResponse
			if err := json.Unmarshal([]byte(payload), &cr); err != nil {
				emit(ctx, out, llmcomms.StreamEvent{Kind: llmcomms.StreamEventError, Err: llmcomms.NewError(llmcomms.KindValidation, "decode SSE event", err), IsTerminal: true})
				return
			}
			usage = usage.Add(llmcomms.Usage{PromptTokens: cr.Usage.PromptTokens, CompletionTokens: cr.Usage.CompletionTokens, TotalTokens: cr.Usage.TotalTokens})
			if len(cr.Choices) == 0 {
				continue
			}
			choice := cr.Choices[0]
			if choice.Delta.Content != "" {
				if !emit(ctx, out, llmcomms.StreamEvent{Kind: llmcomms.StreamEventDelta, TextDelta: choice.Delta.Content}) {
					return
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				accum.Add(tc.Index, tc.Function.Name, tc.Function.Arguments)
			}
			if choice.FinishReason != "" {
				finish = llmcomms.MapFinishReason(choice.FinishReason)
			}
		}

		for _, tc := range accum.Finish() {
			if !emit(ctx, out, llmcomms.StreamEvent{Kind: llmcomms.StreamEventToolCall, ToolCallDelta: tc}) {
				return
			}
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

// translateTransportErr wraps a transport-level failure (connection
// refused, DNS, etc — anything before an HTTP status was observed) as the
// generic Kind; failures with a status code are translated by httpError
// instead.
func translateTransportErr(err error) error {
	if _, ok := err.(*llmcomms.Error); ok {
		return err
	}
	return llmcomms.NewError(llmcomms.KindGeneric, "openai: transport failure", err)
}

func httpError(status int, headers map[string]string, body string, call *llmcomms.ProviderCallContext) error {
	e := llmcomms.NewError(util.StatusToErrorKind(status), fmt.Sprintf("openai: http %d", status), fmt.Errorf("%s", body))
	e.StatusCode = status
	if call != nil {
		e.RequestID = call.RequestID
	}
	if e.Kind == llmcomms.KindRateLimited {
		if d, ok := util.ParseRetryAfter(headers); ok {
			e.RetryAfter = d
		}
	}
	return e
}
