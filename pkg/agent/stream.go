package agent

import "encoding/json"

// StreamEventMessage wraps an incremental streaming update. The nested event
// payload is one of the StreamPayload variants below.
type StreamEventMessage struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Event     json.RawMessage `json:"event"`

	raw json.RawMessage
}

func (m StreamEventMessage) MsgType() MessageType   { return MessageTypeStreamEvent }
func (m StreamEventMessage) ConversationID() string { return m.SessionID }
func (m StreamEventMessage) Raw() json.RawMessage   { return m.raw }

// StreamPayloadType discriminates the nested stream event kinds.
type StreamPayloadType string

const (
	StreamPayloadContentBlockStart StreamPayloadType = "content_block_start"
	StreamPayloadContentBlockDelta StreamPayloadType = "content_block_delta"
	StreamPayloadContentBlockStop  StreamPayloadType = "content_block_stop"
	StreamPayloadMessageStart      StreamPayloadType = "message_start"
	StreamPayloadMessageDelta      StreamPayloadType = "message_delta"
	StreamPayloadMessageStop       StreamPayloadType = "message_stop"
)

// StreamPayload is the interface for parsed stream event payloads.
type StreamPayload interface {
	PayloadType() StreamPayloadType
}

// ContentBlockStart opens a new content block at the given index.
type ContentBlockStart struct {
	Type         StreamPayloadType `json:"type"`
	Index        int               `json:"index"`
	ContentBlock json.RawMessage   `json:"content_block"`
}

func (p ContentBlockStart) PayloadType() StreamPayloadType { return StreamPayloadContentBlockStart }

// ParsedBlock parses the declared content block that opens this index.
func (p ContentBlockStart) ParsedBlock() (ContentBlock, error) {
	return UnmarshalContentBlock(p.ContentBlock)
}

// ContentBlockDelta appends incremental content to an open block.
type ContentBlockDelta struct {
	Type  StreamPayloadType `json:"type"`
	Index int               `json:"index"`
	Delta json.RawMessage   `json:"delta"`
}

func (p ContentBlockDelta) PayloadType() StreamPayloadType { return StreamPayloadContentBlockDelta }

// ContentBlockStop finalizes the block at the given index.
type ContentBlockStop struct {
	Type  StreamPayloadType `json:"type"`
	Index int               `json:"index"`
}

func (p ContentBlockStop) PayloadType() StreamPayloadType { return StreamPayloadContentBlockStop }

// MessageBoundary covers the message_start/message_delta/message_stop payloads
// the assembler does not act on but callers may still observe.
type MessageBoundary struct {
	Type StreamPayloadType `json:"type"`
}

func (p MessageBoundary) PayloadType() StreamPayloadType { return p.Type }

// Delta is a parsed content block delta payload.
type Delta interface {
	DeltaType() string
}

// TextDelta is an incremental text chunk.
type TextDelta struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (d TextDelta) DeltaType() string { return d.Type }

// ThinkingDelta is an incremental reasoning chunk.
type ThinkingDelta struct {
	Type     string `json:"type"`
	Thinking string `json:"thinking"`
}

func (d ThinkingDelta) DeltaType() string { return d.Type }

// InputJSONDelta is a fragment of tool input JSON. Individual fragments are
// not valid JSON; only the full concatenation is.
type InputJSONDelta struct {
	Type        string `json:"type"`
	PartialJSON string `json:"partial_json"`
}

func (d InputJSONDelta) DeltaType() string { return d.Type }

// ParseDelta parses the inner delta of a ContentBlockDelta. Unknown delta
// types return (nil, nil).
func ParseDelta(data json.RawMessage) (Delta, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	switch head.Type {
	case "text_delta":
		var d TextDelta
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		return d, nil
	case "thinking_delta":
		var d ThinkingDelta
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		return d, nil
	case "input_json_delta":
		var d InputJSONDelta
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, nil
	}
}

// ParseStreamPayload parses the nested event of a StreamEventMessage. Unknown
// payload types return (nil, nil).
func ParseStreamPayload(data json.RawMessage) (StreamPayload, error) {
	var head struct {
		Type StreamPayloadType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	switch head.Type {
	case StreamPayloadContentBlockStart:
		var p ContentBlockStart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case StreamPayloadContentBlockDelta:
		var p ContentBlockDelta
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case StreamPayloadContentBlockStop:
		var p ContentBlockStop
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case StreamPayloadMessageStart, StreamPayloadMessageDelta, StreamPayloadMessageStop:
		return MessageBoundary{Type: head.Type}, nil
	default:
		return nil, nil
	}
}
