// Package stream assembles a session's backend messages into finalized
// content blocks, correlates tool invocations with their results, detects
// pending-question and pending-plan interrupts, and merges everything into a
// single ordered event sequence both protocol encoders consume.
package stream

import (
	"encoding/json"

	"github.com/tandem-dev/tandem/pkg/agent"
)

// BlockKind identifies the kind of an assembled content block.
type BlockKind string

const (
	BlockKindText       BlockKind = "text"
	BlockKindThinking   BlockKind = "thinking"
	BlockKindToolUse    BlockKind = "tool_use"
	BlockKindToolResult BlockKind = "tool_result"
)

// Block is one finalized unit of model output. Blocks assembled from streamed
// deltas and blocks lifted from complete messages share this representation.
type Block struct {
	Kind  BlockKind `json:"kind"`
	Index int       `json:"index"`
	// Text holds the accumulated text for text and thinking blocks.
	Text string `json:"text,omitempty"`
	// ToolUseID and ToolName identify a tool invocation or the invocation a
	// result refers to. ToolName is "unknown" when correlation missed.
	ToolUseID string `json:"toolUseId,omitempty"`
	ToolName  string `json:"toolName,omitempty"`
	// Input is the concatenated tool input JSON.
	Input json.RawMessage `json:"input,omitempty"`
	// Content is the tool result payload.
	Content json.RawMessage `json:"content,omitempty"`
	IsError bool            `json:"isError,omitempty"`
}

// Event is one element of a session turn's ordered output sequence.
type Event interface {
	isEvent()
}

// MessageEvent carries one backend message plus, for assistant and user
// messages, the content blocks derived from it with tool names resolved.
type MessageEvent struct {
	Message agent.Message
	Blocks  []Block
}

func (MessageEvent) isEvent() {}

// BlockEvent carries a block finalized from streamed deltas, in emission
// order; complete-message blocks travel on their MessageEvent instead.
type BlockEvent struct {
	Block Block
}

func (BlockEvent) isEvent() {}

// QuestionPendingEvent signals that the session is blocked on user answers.
type QuestionPendingEvent struct {
	// InteractionID is freshly generated per interrupt; answers reference it.
	InteractionID string     `json:"interactionId"`
	ToolUseID     string     `json:"toolUseId"`
	Questions     []Question `json:"questions"`
}

func (QuestionPendingEvent) isEvent() {}

// PlanPendingEvent signals that the session is blocked on plan approval.
type PlanPendingEvent struct {
	InteractionID string `json:"interactionId"`
	ToolUseID     string `json:"toolUseId"`
	Plan          string `json:"plan"`
}

func (PlanPendingEvent) isEvent() {}

// ErrorEvent terminates a turn that failed at the engine or transport level.
// It is always the last event of its turn.
type ErrorEvent struct {
	Err error
}

func (ErrorEvent) isEvent() {}

// Wire names for control events.
const (
	ControlNameQuestionPending = "question_pending"
	ControlNamePlanPending     = "plan_pending"
)
