// internal/checkpoint/message.go
package checkpoint

import (
	"encoding/json"
	"strings"
)

// Message is one parsed transcript line. Transcript lines are JSONL records
// in the session log format: a type, an optional nested message payload with
// role and usage, and an optional tool result attached by the harness.
type Message struct {
	Type          string                 `json:"type"`
	UUID          string                 `json:"uuid,omitempty"`
	Timestamp     string                 `json:"timestamp,omitempty"`
	Message       map[string]interface{} `json:"message,omitempty"`
	ToolUseResult map[string]interface{} `json:"toolUseResult,omitempty"`
}

// ParseMessage decodes a single transcript line. Lines that are not valid
// JSON yield a nil message rather than an error; the engine tracks raw
// transcript bytes regardless of whether it understands them.
func ParseMessage(line string) *Message {
	line = strings.TrimSpace(line)
	if line == "" || line[0] != '{' {
		return nil
	}

	var msg Message
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return nil
	}
	return &msg
}

// Role returns the message role, preferring the nested payload's role over
// the line type
func (m *Message) Role() string {
	if m == nil {
		return ""
	}
	if role, ok := m.Message["role"].(string); ok && role != "" {
		return role
	}
	return m.Type
}

// IsUserPrompt reports whether the message is a genuine user prompt, as
// opposed to a tool result delivered on a user-role line
func (m *Message) IsUserPrompt() bool {
	if m == nil || m.Role() != "user" {
		return false
	}
	return m.ToolUseResult == nil
}

// MutatedFiles returns the file paths touched by a completed tool
// invocation, if this line reports one. Mutating tool results carry the
// affected path under filePath (single edit) or as a list of per-file
// entries.
func (m *Message) MutatedFiles() []string {
	if m == nil || m.ToolUseResult == nil {
		return nil
	}

	var paths []string
	if p, ok := m.ToolUseResult["filePath"].(string); ok && p != "" {
		paths = append(paths, p)
	}
	if p, ok := m.ToolUseResult["file_path"].(string); ok && p != "" {
		paths = append(paths, p)
	}
	if edits, ok := m.ToolUseResult["edits"].([]interface{}); ok {
		for _, e := range edits {
			if em, ok := e.(map[string]interface{}); ok {
				if p, ok := em["filePath"].(string); ok && p != "" {
					paths = append(paths, p)
				}
			}
		}
	}
	return paths
}

// TokenUsage returns the input+output token count reported by the message,
// or zero when no usage is attached
func (m *Message) TokenUsage() int64 {
	if m == nil {
		return 0
	}
	usage, ok := m.Message["usage"].(map[string]interface{})
	if !ok {
		return 0
	}

	var total int64
	for _, key := range []string{"input_tokens", "output_tokens"} {
		if v, ok := usage[key].(float64); ok {
			total += int64(v)
		}
	}
	return total
}
