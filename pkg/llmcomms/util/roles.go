package util

import "github.com/liranbd/llmcomms-go/pkg/llmcomms"

// VendorRole maps a llmcomms.Role to the wire-format role string most
// vendor chat APIs expect. Adapters that diverge (e.g. a provider without
// a "tool" role) override individual cases locally rather than branching
// here. Role mapping is total: an unrecognized role falls back to "user"
// per spec §4.11.
func VendorRole(r llmcomms.Role) string {
	switch r {
	case llmcomms.RoleSystem:
		return "system"
	case llmcomms.RoleUser:
		return "user"
	case llmcomms.RoleAssistant:
		return "assistant"
	case llmcomms.RoleTool:
		return "tool"
	default:
		return "user"
	}
}

// ParseRole is the inverse of VendorRole, defaulting to RoleUser for an
// unrecognized wire value so a malformed echo never produces an empty
// Role.
func ParseRole(wire string) llmcomms.Role {
	switch wire {
	case "system":
		return llmcomms.RoleSystem
	case "user":
		return llmcomms.RoleUser
	case "assistant":
		return llmcomms.RoleAssistant
	case "tool":
		return llmcomms.RoleTool
	default:
		return llmcomms.RoleUser
	}
}

// ToolDescriptors renders a llmcomms.ToolCollection into the generic
// {type, function: {name, description, parameters}} wire shape shared by
// OpenAI-compatible and Ollama APIs.
func ToolDescriptors(tools llmcomms.ToolCollection) []map[string]any {
	if len(tools) == 0 {
		return nil
	}
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return out
}
