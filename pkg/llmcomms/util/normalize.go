package util

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/liranbd/llmcomms-go/pkg/llmcomms"
)

// canonicalRequest is the subset of llmcomms.Request that participates in
// cache-key hashing. ProviderHints is deliberately excluded per spec §4.9:
// hints steer adapter behavior but do not change what answer is expected.
type canonicalRequest struct {
	Messages        []canonicalMessage `json:"messages"`
	Tools           []canonicalTool    `json:"tools,omitempty"`
	Temperature     float64            `json:"temperature,omitempty"`
	TopP            float64            `json:"top_p,omitempty"`
	MaxOutputTokens int                `json:"max_output_tokens,omitempty"`
	ResponseFormat  string             `json:"response_format,omitempty"`
}

type canonicalMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	Name       string `json:"name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

type canonicalTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

// Normalize projects req onto its cache-relevant fields and serializes it
// as canonical JSON: struct fields in their fixed declaration order, map
// keys sorted, no insignificant whitespace, ProviderHints stripped. The
// result is stable across Go map-iteration order because encoding/json
// writes map keys in sorted order at every nesting level.
func Normalize(model string, req llmcomms.Request) []byte {
	cr := canonicalRequest{
		Messages:        make([]canonicalMessage, len(req.Messages)),
		Temperature:     req.Temperature,
		TopP:            req.TopP,
		MaxOutputTokens: req.MaxOutputTokens,
		ResponseFormat:  string(req.ResponseFormat),
	}
	for i, m := range req.Messages {
		cr.Messages[i] = canonicalMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
	}
	for _, t := range req.Tools {
		cr.Tools = append(cr.Tools, canonicalTool{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  sortedValue(t.Parameters),
		})
	}

	envelope := struct {
		Model   string            `json:"model"`
		Request canonicalRequest  `json:"request"`
	}{Model: model, Request: cr}

	b, err := json.Marshal(envelope)
	if err != nil {
		// canonicalRequest and its fields are all JSON-marshalable by
		// construction; a failure here means a caller smuggled an
		// unmarshalable value into Parameters.
		panic("llmcomms/util: normalize: " + err.Error())
	}
	return b
}

// Hash returns the lowercase hex SHA-256 digest of Normalize(model, req),
// the cache key used by the Cache middleware (spec §4.9).
func Hash(model string, req llmcomms.Request) string {
	sum := sha256.Sum256(Normalize(model, req))
	return hex.EncodeToString(sum[:])
}

// sortedValue recursively copies map[string]any and []any values into
// fresh maps and slices of the same types. json.Marshal already sorts
// map[string]any keys at every nesting level, so the copy does not change
// the encoding; it makes the key-ordering invariant the cache key relies
// on explicit. Values of other types are returned unchanged.
func sortedValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(t))
		for _, k := range keys {
			out[k] = sortedValue(t[k])
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = sortedValue(e)
		}
		return out
	default:
		return v
	}
}
