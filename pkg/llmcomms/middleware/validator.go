package middleware

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/liranbd/llmcomms-go/pkg/llmcomms"
)

const (
	ctxValidationJSONInvalid  = "llm.validation.json_invalid"
	ctxValidationToolMismatch = "llm.validation.tool_mismatch"
)

// Validator is the fifth default stage: enforces JSON-mode and tool-call
// validity, either failing the invocation (strict) or annotating the
// response (lenient), per ctx.Options.ThrowOnInvalidJson.
type Validator struct{}

// NewValidator constructs a Validator middleware.
func NewValidator() *Validator { return &Validator{} }

func (v *Validator) Name() string     { return "validator" }
func (v *Validator) IsTerminal() bool { return false }

func (v *Validator) Invoke(ctx *llmcomms.LLMContext, next Next) (llmcomms.Response, error) {
	resp, err := next(ctx)
	if err != nil {
		return resp, err
	}

	strict := ctx.Options.ThrowOnInvalidJson

	if ctx.Request.ResponseFormat == llmcomms.ResponseFormatJSON {
		if !isJSONObject(resp.Message.Content) {
			if strict {
				return llmcomms.Response{}, llmcomms.NewError(llmcomms.KindValidation,
					"response content is not valid JSON (expected a JSON object)", nil)
			}
			resp = annotate(resp, "json_invalid", true)
		}
	}

	if len(resp.ToolCalls) > 0 {
		if msg, ok := validateToolCalls(ctx.Request.Tools, resp.ToolCalls); !ok {
			if strict {
				return llmcomms.Response{}, llmcomms.NewError(llmcomms.KindValidation, msg, nil)
			}
			resp = annotate(resp, "tool_mismatch", true)
		}
	}

	return resp, nil
}

func (v *Validator) InvokeStream(ctx *llmcomms.LLMContext, next StreamNext) (<-chan llmcomms.StreamEvent, error) {
	inner, err := next(ctx)
	if err != nil {
		return nil, err
	}
	strict := ctx.Options.ThrowOnInvalidJson
	jsonMode := ctx.Request.ResponseFormat == llmcomms.ResponseFormatJSON

	out := make(chan llmcomms.StreamEvent)
	go func() {
		defer close(out)
		var buf strings.Builder
		var toolCalls []llmcomms.ToolCall
		for ev := range inner {
			if ev.Kind == llmcomms.StreamEventDelta {
				buf.WriteString(ev.TextDelta)
			}
			if ev.Kind == llmcomms.StreamEventToolCall {
				toolCalls = append(toolCalls, ev.ToolCallDelta)
			}
			if ev.Kind == llmcomms.StreamEventComplete {
				if jsonMode && !isJSONObject(buf.String()) {
					if strict {
						out <- llmcomms.StreamEvent{
							Kind:       llmcomms.StreamEventError,
							Err:        llmcomms.NewError(llmcomms.KindValidation, "response content is not valid JSON (expected a JSON object)", nil),
							IsTerminal: true,
						}
						return
					}
					ctx.Call.Set(ctxValidationJSONInvalid, true)
				}
				if len(toolCalls) > 0 {
					if msg, ok := validateToolCalls(ctx.Request.Tools, toolCalls); !ok {
						if strict {
							out <- llmcomms.StreamEvent{
								Kind:       llmcomms.StreamEventError,
								Err:        llmcomms.NewError(llmcomms.KindValidation, msg, nil),
								IsTerminal: true,
							}
							return
						}
						ctx.Call.Set(ctxValidationToolMismatch, true)
					}
				}
			}
			out <- ev
		}
	}()
	return out, nil
}

func isJSONObject(s string) bool {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return false
	}
	_, ok := v.(map[string]any)
	return ok
}

// validateToolCalls checks every call's name against tools and its
// arguments JSON validity plus required-property presence, returning a
// descriptive failure message and false on the first violation.
func validateToolCalls(tools llmcomms.ToolCollection, calls []llmcomms.ToolCall) (string, bool) {
	for _, c := range calls {
		def, found := tools.Find(c.Name)
		if !found {
			return fmt.Sprintf("tool call %q is not part of the declared tool collection", c.Name), false
		}
		var args map[string]any
		if err := json.Unmarshal([]byte(c.ArgumentsJSON), &args); err != nil {
			return fmt.Sprintf("tool call %q arguments are not valid JSON", c.Name), false
		}
		for _, req := range def.RequiredProperties() {
			if _, ok := args[req]; !ok {
				return fmt.Sprintf("tool call %q is missing required property %q", c.Name, req), false
			}
		}
	}
	return "", true
}

func annotate(resp llmcomms.Response, key string, value any) llmcomms.Response {
	cp := resp.Clone()
	if cp.Raw == nil {
		cp.Raw = make(map[string]any, 1)
	}
	cp.Raw[key] = value
	return cp
}
