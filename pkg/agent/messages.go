// Package agent defines the wire contract with the backend agent runtime: the
// closed set of tagged messages it emits, the content blocks they carry, and
// the Runtime/Conn interfaces the engine consumes them through.
package agent

import (
	"encoding/json"
	"fmt"
)

// MessageType discriminates between backend message kinds.
type MessageType string

const (
	MessageTypeSystem      MessageType = "system"
	MessageTypeAssistant   MessageType = "assistant"
	MessageTypeUser        MessageType = "user"
	MessageTypeResult      MessageType = "result"
	MessageTypeStreamEvent MessageType = "stream_event"
)

// Message is the interface for all backend messages.
type Message interface {
	MsgType() MessageType
	// ConversationID returns the backend's own session id, or "" when the
	// message does not carry one.
	ConversationID() string
	// Raw returns the message exactly as received, for verbatim passthrough.
	Raw() json.RawMessage
}

// SystemMessage carries session initialization and other backend system events.
type SystemMessage struct {
	Type           MessageType `json:"type"`
	Subtype        string      `json:"subtype,omitempty"`
	SessionID      string      `json:"session_id,omitempty"`
	Model          string      `json:"model,omitempty"`
	CWD            string      `json:"cwd,omitempty"`
	PermissionMode string      `json:"permissionMode,omitempty"`
	Tools          []string    `json:"tools,omitempty"`

	raw json.RawMessage
}

func (m SystemMessage) MsgType() MessageType   { return MessageTypeSystem }
func (m SystemMessage) ConversationID() string { return m.SessionID }
func (m SystemMessage) Raw() json.RawMessage   { return m.raw }

// MessageBody is the inner content of assistant and user messages.
type MessageBody struct {
	Role    string  `json:"role,omitempty"`
	Model   string  `json:"model,omitempty"`
	Content Content `json:"content"`
}

// AssistantMessage is a complete turn message from the model.
type AssistantMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Message   MessageBody `json:"message"`

	raw json.RawMessage
}

func (m AssistantMessage) MsgType() MessageType   { return MessageTypeAssistant }
func (m AssistantMessage) ConversationID() string { return m.SessionID }
func (m AssistantMessage) Raw() json.RawMessage   { return m.raw }

// UserMessage carries tool results echoed back by the backend.
type UserMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Message   MessageBody `json:"message"`

	raw json.RawMessage
}

func (m UserMessage) MsgType() MessageType   { return MessageTypeUser }
func (m UserMessage) ConversationID() string { return m.SessionID }
func (m UserMessage) Raw() json.RawMessage   { return m.raw }

// Usage tracks token consumption for a completed turn.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}

// ResultMessage terminates a turn and carries completion metrics.
type ResultMessage struct {
	Type          MessageType `json:"type"`
	Subtype       string      `json:"subtype,omitempty"`
	SessionID     string      `json:"session_id,omitempty"`
	Result        string      `json:"result,omitempty"`
	IsError       bool        `json:"is_error"`
	DurationMs    int64       `json:"duration_ms"`
	DurationAPIMs int64       `json:"duration_api_ms"`
	NumTurns      int         `json:"num_turns"`
	TotalCostUSD  float64     `json:"total_cost_usd"`
	Usage         Usage       `json:"usage"`

	raw json.RawMessage
}

func (m ResultMessage) MsgType() MessageType   { return MessageTypeResult }
func (m ResultMessage) ConversationID() string { return m.SessionID }
func (m ResultMessage) Raw() json.RawMessage   { return m.raw }

// UnknownMessage preserves backend messages of a kind this engine does not
// recognize. It is forwarded, never interpreted.
type UnknownMessage struct {
	Type MessageType

	raw json.RawMessage
}

func (m UnknownMessage) MsgType() MessageType   { return m.Type }
func (m UnknownMessage) ConversationID() string { return "" }
func (m UnknownMessage) Raw() json.RawMessage   { return m.raw }

// Content holds message content that is either a plain string or an array of
// content blocks, decided by the backend per message.
type Content struct {
	raw json.RawMessage
}

func (c *Content) UnmarshalJSON(data []byte) error {
	c.raw = append(c.raw[:0], data...)
	return nil
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.raw == nil {
		return []byte("null"), nil
	}
	return c.raw, nil
}

// AsText returns the content as a plain string, if it is one.
func (c Content) AsText() (string, bool) {
	if len(c.raw) == 0 || c.raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(c.raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// AsBlocks returns the content as content blocks, if it is an array.
func (c Content) AsBlocks() (ContentBlocks, bool) {
	if len(c.raw) == 0 || c.raw[0] != '[' {
		return nil, false
	}
	var blocks ContentBlocks
	if err := json.Unmarshal(c.raw, &blocks); err != nil {
		return nil, false
	}
	return blocks, true
}

// ParseMessage parses one JSON line from the backend into its tagged variant.
// Unrecognized type tags yield an UnknownMessage rather than an error; only
// malformed JSON or a missing tag fails.
func ParseMessage(line []byte) (Message, error) {
	var head struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(line, &head); err != nil {
		return nil, fmt.Errorf("parse backend message: %w", err)
	}
	if head.Type == "" {
		return nil, fmt.Errorf("backend message has no type tag")
	}

	raw := append(json.RawMessage(nil), line...)

	switch head.Type {
	case MessageTypeSystem:
		var m SystemMessage
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, fmt.Errorf("parse system message: %w", err)
		}
		m.raw = raw
		return m, nil
	case MessageTypeAssistant:
		var m AssistantMessage
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, fmt.Errorf("parse assistant message: %w", err)
		}
		m.raw = raw
		return m, nil
	case MessageTypeUser:
		var m UserMessage
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, fmt.Errorf("parse user message: %w", err)
		}
		m.raw = raw
		return m, nil
	case MessageTypeResult:
		var m ResultMessage
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, fmt.Errorf("parse result message: %w", err)
		}
		m.raw = raw
		return m, nil
	case MessageTypeStreamEvent:
		var m StreamEventMessage
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, fmt.Errorf("parse stream event: %w", err)
		}
		m.raw = raw
		return m, nil
	default:
		return UnknownMessage{Type: head.Type, raw: raw}, nil
	}
}
