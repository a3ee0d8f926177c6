// Package transcript is TranscriptStream (§4.2): a lazy, restartable
// sequence of TranscriptMessage values parsed line-by-line from a JSONL
// transcript file, plus derived aggregates. Grounded on the teacher's
// internal/attractor/runstate.LoadSnapshot (reading progress.ndjson/live.json
// off disk, tolerating absence) and internal/server.Broadcaster (fanning
// live events to lazy subscribers without buffering history in a client's
// own memory).
package transcript

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role is who produced a transcript line (§3).
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Todo is one entry of a session's current TODO list, when the agent emits
// one in its transcript.
type Todo struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// Message is one parsed line of a JSONL transcript (§3 TranscriptMessage).
type Message struct {
	Role          Role      `json:"role"`
	Timestamp     time.Time `json:"timestamp"`
	Content       string    `json:"content"`
	ToolName      string    `json:"tool_name,omitempty"`
	FilesModified []string  `json:"files_modified,omitempty"`
	Todos         []Todo    `json:"todos,omitempty"`
	IsSessionEnd  bool      `json:"is_session_end,omitempty"`
	SessionID     string    `json:"session_id,omitempty"`

	// rawToolName and rawToolArgs carry the decoded tool call for
	// FilesModified derivation against a configurable editor-tool allowlist
	// (the allowlist is a stream-level concern, not a per-line one, so it is
	// applied by the caller against these fields rather than baked into
	// decode).
	rawToolName string
	rawToolArgs map[string]any
}

// rawLine is the on-disk JSONL shape, intentionally looser than Message:
// agent transcript formats vary in exact field names for tool calls, so
// decoding tolerates a few common shapes rather than rejecting anything
// that isn't byte-for-byte the canonical one.
type rawLine struct {
	Role      string         `json:"role"`
	Type      string         `json:"type"` // legacy alias for role
	Timestamp string         `json:"timestamp"`
	Content   string         `json:"content"`
	Text      string         `json:"text"` // legacy alias for content
	Tool      string         `json:"tool"`
	ToolName  string         `json:"tool_name"`
	ToolInput map[string]any `json:"tool_input"`
	ToolArgs  map[string]any `json:"tool_args"`
	Todos     []Todo         `json:"todos"`
	SessionID string         `json:"session_id"`
	End       bool           `json:"session_end"`
	Done      bool           `json:"done"`
}

// parseLine decodes one JSONL line into a Message. Malformed lines return
// an error; the caller (stream.go) is responsible for skipping them with a
// single warning rather than breaking the stream (§4.2).
func parseLine(line []byte) (Message, error) {
	var raw rawLine
	if err := json.Unmarshal(line, &raw); err != nil {
		return Message{}, fmt.Errorf("decoding transcript line: %w", err)
	}

	role := raw.Role
	if role == "" {
		role = raw.Type
	}
	if role == "" {
		return Message{}, fmt.Errorf("transcript line missing role/type")
	}

	content := raw.Content
	if content == "" {
		content = raw.Text
	}

	toolName := raw.ToolName
	if toolName == "" {
		toolName = raw.Tool
	}
	toolArgs := raw.ToolInput
	if toolArgs == nil {
		toolArgs = raw.ToolArgs
	}

	ts := time.Now().UTC()
	if raw.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, raw.Timestamp); err == nil {
			ts = parsed
		} else if parsed, err := time.Parse(time.RFC3339, raw.Timestamp); err == nil {
			ts = parsed
		}
	}

	return Message{
		Role:         Role(role),
		Timestamp:    ts,
		Content:      content,
		ToolName:     toolName,
		Todos:        raw.Todos,
		IsSessionEnd: raw.End || raw.Done,
		SessionID:    raw.SessionID,
		rawToolName:  toolName,
		rawToolArgs:  toolArgs,
	}, nil
}
