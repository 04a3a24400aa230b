package provider

import "github.com/liranbd/llmcomms-go/pkg/llmcomms"

// ExtractContent pulls assistant text out of a vendor content field that
// may be a plain string or an array-of-parts representation
// ([{"type":"text","text":"..."}] style). Unrecognized part shapes are
// skipped.
func ExtractContent(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case []any:
		var out string
		for _, part := range v {
			m, ok := part.(map[string]any)
			if !ok {
				continue
			}
			if t, ok := m["text"].(string); ok {
				out += t
			}
		}
		return out
	default:
		return ""
	}
}

// ComputeUsage fills Usage.TotalTokens as prompt+completion when the
// vendor payload omitted a total.
func ComputeUsage(prompt, completion, total int) llmcomms.Usage {
	if total == 0 {
		total = prompt + completion
	}
	return llmcomms.Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: total}
}

// ToolAccumulator assembles fragmentary tool-call deltas, keyed by index,
// into complete ToolCall values. Vendor streaming APIs emit a call's
// name and arguments across multiple chunks addressed by a stable index.
type ToolAccumulator struct {
	order []int
	names map[int]string
	args  map[int]string
}

// NewToolAccumulator returns an empty ToolAccumulator.
func NewToolAccumulator() *ToolAccumulator {
	return &ToolAccumulator{names: map[int]string{}, args: map[int]string{}}
}

// Add merges a fragment into the call at index, preserving first-seen
// order of indices.
func (a *ToolAccumulator) Add(index int, name, argsFragment string) {
	if _, ok := a.names[index]; !ok && !a.seen(index) {
		a.order = append(a.order, index)
	}
	if name != "" {
		a.names[index] = name
	}
	a.args[index] += argsFragment
}

func (a *ToolAccumulator) seen(index int) bool {
	for _, i := range a.order {
		if i == index {
			return true
		}
	}
	return false
}

// Finish returns the accumulated calls in first-seen index order,
// dropping any entry without a name.
func (a *ToolAccumulator) Finish() []llmcomms.ToolCall {
	out := make([]llmcomms.ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		name := a.names[idx]
		if name == "" {
			continue
		}
		out = append(out, llmcomms.ToolCall{Name: name, ArgumentsJSON: a.args[idx]})
	}
	return out
}
