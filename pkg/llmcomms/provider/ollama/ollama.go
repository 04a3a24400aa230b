// Package ollama implements provider.Adapter against a local or remote
// Ollama server's /api/chat endpoint over transport.Port, including its
// newline-delimited-JSON streaming format (spec.md §8 scenario S5),
// grounded on the NDJSON decode-loop shape used by the pack's textual
// Ollama response processor.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/liranbd/llmcomms-go/pkg/llmcomms"
	"github.com/liranbd/llmcomms-go/pkg/llmcomms/provider"
	"github.com/liranbd/llmcomms-go/pkg/llmcomms/transport"
	"github.com/liranbd/llmcomms-go/pkg/llmcomms/util"
)

// Adapter talks to Ollama's /api/chat over transport.Port.
type Adapter struct {
	Transport transport.Port
	BaseURL   string
	caps      llmcomms.ProviderCapabilities
}

// New constructs an Adapter. baseURL defaults to http://localhost:11434
// when empty.
func New(t transport.Port, baseURL string) *Adapter {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &Adapter{
		Transport: t,
		BaseURL:   strings.TrimRight(baseURL, "/"),
		caps: llmcomms.ProviderCapabilities{
			SupportsStreaming: true,
			SupportsJSONMode:  true,
			SupportsTools:     true,
		},
	}
}

func (a *Adapter) Name() string                               { return "ollama" }
func (a *Adapter) Capabilities() llmcomms.ProviderCapabilities { return a.caps }

func (a *Adapter) CreateModel(ctx context.Context, id string, opts map[string]any) (llmcomms.ProviderModel, error) {
	return llmcomms.ProviderModel{ID: id, Format: llmcomms.ModelFormatChat}, nil
}

type chatMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	ToolCalls []struct {
		Function struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		} `json:"function"`
	} `json:"tool_calls,omitempty"`
}

type chatEvent struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error"`

	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

func payload(model string, req llmcomms.Request, stream bool) map[string]any {
	messages := make([]chatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, chatMessage{Role: util.VendorRole(m.Role), Content: m.Content})
	}
	body := map[string]any{"model": model, "messages": messages, "stream": stream}
	if req.ResponseFormat == llmcomms.ResponseFormatJSON {
		body["format"] = "json"
	}
	if tools := util.ToolDescriptors(req.Tools); tools != nil {
		body["tools"] = tools
	}
	opts := map[string]any{}
	if req.HasTemperature() {
		opts["temperature"] = req.Temperature
	}
	if req.HasTopP() {
		opts["top_p"] = req.TopP
	}
	if req.HasMaxOutputTokens() {
		opts["num_predict"] = req.MaxOutputTokens
	}
	if len(opts) > 0 {
		body["options"] = opts
	}
	return body
}

func (a *Adapter) doRequest(ctx context.Context, model llmcomms.ProviderModel, req llmcomms.Request, stream bool) (*transport.Response, error) {
	body, err := json.Marshal(payload(model.ID, req, stream))
	if err != nil {
		return nil, llmcomms.NewError(llmcomms.KindValidation, "marshal request", err)
	}
	tr := transport.Request{
		Method:  "POST",
		URL:     a.BaseURL + "/api/chat",
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
	}
	if stream {
		return a.Transport.DoStream(ctx, tr)
	}
	return a.Transport.Do(ctx, tr)
}

// Send performs one unary completion by reading a single chat event with
// stream=false (Ollama still returns one complete NDJSON object).
func (a *Adapter) Send(ctx context.Context, model llmcomms.ProviderModel, req llmcomms.Request, call *llmcomms.ProviderCallContext) (llmcomms.Response, error) {
	resp, err := a.doRequest(ctx, model, req, false)
	if err != nil {
		return llmcomms.Response{}, wrapTransportErr(err)
	}
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	buf.ReadFrom(resp.Body)
	if resp.StatusCode >= 300 {
		return llmcomms.Response{}, httpError(resp.StatusCode, resp.Headers, buf.String(), call)
	}

	var ev chatEvent
	if err := json.Unmarshal(buf.Bytes(), &ev); err != nil {
		return llmcomms.Response{}, llmcomms.NewError(llmcomms.KindValidation, "decode response", err)
	}
	if ev.Error != "" {
		return llmcomms.Response{}, llmcomms.NewError(llmcomms.KindProviderUnavailable, ev.Error, nil)
	}

	var toolCalls []llmcomms.ToolCall
	for _, tc := range ev.Message.ToolCalls {
		if tc.Function.Name == "" {
			continue
		}
		args, _ := json.Marshal(tc.Function.Arguments)
		toolCalls = append(toolCalls, llmcomms.ToolCall{Name: tc.Function.Name, ArgumentsJSON: string(args)})
	}

	finish := llmcomms.FinishStop
	if len(toolCalls) > 0 {
		finish = llmcomms.FinishToolCall
	}

	return llmcomms.Response{
		Message:      llmcomms.Message{Role: llmcomms.RoleAssistant, Content: ev.Message.Content},
		Usage:        provider.ComputeUsage(ev.PromptEvalCount, ev.EvalCount, 0),
		FinishReason: finish,
		ToolCalls:    toolCalls,
	}, nil
}

// Stream performs one streaming completion, decoding Ollama's
// newline-delimited JSON events one object per Decode call until the
// final event (done == true) or the body is exhausted (S5).
func (a *Adapter) Stream(ctx context.Context, model llmcomms.ProviderModel, req llmcomms.Request, call *llmcomms.ProviderCallContext) (<-chan llmcomms.StreamEvent, error) {
	if !a.caps.SupportsStreaming {
		return nil, llmcomms.NewError(llmcomms.KindNotSupported, "ollama: streaming not supported", nil)
	}
	resp, err := a.doRequest(ctx, model, req, true)
	if err != nil {
		return nil, wrapTransportErr(err)
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

		dec := json.NewDecoder(resp.Body)
		for {
			var ev chatEvent
			if err := dec.Decode(&ev); err != nil {
				if err == io.EOF {
					break
				}
				emit(ctx, out, llmcomms.StreamEvent{Kind: llmcomms.StreamEventError, Err: llmcomms.NewError(llmcomms.KindValidation, "decode NDJSON event", err), IsTerminal: true})
				return
			}
			if ev.Error != "" {
				emit(ctx, out, llmcomms.StreamEvent{Kind: llmcomms.StreamEventError, Err: llmcomms.NewError(llmcomms.KindProviderUnavailable, ev.Error, nil), IsTerminal: true})
				return
			}
			if ev.Message.Content != "" {
				if !emit(ctx, out, llmcomms.StreamEvent{Kind: llmcomms.StreamEventDelta, TextDelta: ev.Message.Content}) {
					return
				}
			}
			for i, tc := range ev.Message.ToolCalls {
				if tc.Function.Name == "" {
					continue
				}
				args, _ := json.Marshal(tc.Function.Arguments)
				accum.Add(i, tc.Function.Name, string(args))
			}
			usage = usage.Add(provider.ComputeUsage(ev.PromptEvalCount, ev.EvalCount, 0))
			if ev.Done {
				finish = llmcomms.FinishStop
				break
			}
		}

		for _, tc := range accum.Finish() {
			if !emit(ctx, out, llmcomms.StreamEvent{Kind: llmcomms.StreamEventToolCall, ToolCallDelta: tc}) {
				return
			}
			finish = llmcomms.FinishToolCall
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

func wrapTransportErr(err error) error {
	if _, ok := err.(*llmcomms.Error); ok {
		return err
	}
	return llmcomms.NewError(llmcomms.KindGeneric, "ollama: transport failure", err)
}

func httpError(status int, headers map[string]string, body string, call *llmcomms.ProviderCallContext) error {
	e := llmcomms.NewError(util.StatusToErrorKind(status), fmt.Sprintf("ollama: http %d", status), fmt.Errorf("%s", body))
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
