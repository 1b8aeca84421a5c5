package stream

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Reserved tool names whose invocations signal that the session needs
// external input before continuing.
const (
	ToolNameAskUserQuestion = "AskUserQuestion"
	ToolNameExitPlanMode    = "ExitPlanMode"
)

// QuestionOption is one labeled choice offered to the user.
type QuestionOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// Question is one parsed question from an AskUserQuestion invocation.
type Question struct {
	Question    string           `json:"question"`
	Header      string           `json:"header,omitempty"`
	Options     []QuestionOption `json:"options,omitempty"`
	MultiSelect bool             `json:"multiSelect"`
}

// InterruptDetector inspects finalized tool invocation blocks for the
// reserved question and plan tool names. Parse failures are swallowed: the
// raw tool invocation event still flows through, only the control signal is
// skipped. Each invocation id raises at most once, so a block observed both
// while streaming and again inside the complete assistant message does not
// signal twice.
type InterruptDetector struct {
	raised map[string]bool
	newID  func() string
}

// NewInterruptDetector creates a detector scoped to one session processor.
func NewInterruptDetector() *InterruptDetector {
	return &InterruptDetector{
		raised: make(map[string]bool),
		newID:  uuid.NewString,
	}
}

// Inspect returns a control event if block is a reserved-tool invocation with
// a parseable payload, nil otherwise.
func (d *InterruptDetector) Inspect(block Block) Event {
	if block.Kind != BlockKindToolUse || d.raised[block.ToolUseID] {
		return nil
	}

	switch block.ToolName {
	case ToolNameAskUserQuestion:
		questions, err := parseQuestions(block.Input)
		if err != nil {
			return nil
		}
		d.raised[block.ToolUseID] = true
		return QuestionPendingEvent{
			InteractionID: d.newID(),
			ToolUseID:     block.ToolUseID,
			Questions:     questions,
		}
	case ToolNameExitPlanMode:
		plan, err := parsePlan(block.Input)
		if err != nil {
			return nil
		}
		d.raised[block.ToolUseID] = true
		return PlanPendingEvent{
			InteractionID: d.newID(),
			ToolUseID:     block.ToolUseID,
			Plan:          plan,
		}
	}
	return nil
}

func parseQuestions(input json.RawMessage) ([]Question, error) {
	var payload struct {
		Questions []Question `json:"questions"`
	}
	if err := json.Unmarshal(input, &payload); err != nil {
		return nil, err
	}
	if len(payload.Questions) == 0 {
		return nil, fmt.Errorf("no questions in payload")
	}
	for _, q := range payload.Questions {
		if q.Question == "" {
			return nil, fmt.Errorf("question without prompt text")
		}
	}
	return payload.Questions, nil
}

func parsePlan(input json.RawMessage) (string, error) {
	var payload struct {
		Plan string `json:"plan"`
	}
	if err := json.Unmarshal(input, &payload); err != nil {
		return "", err
	}
	if payload.Plan == "" {
		return "", fmt.Errorf("empty plan body")
	}
	return payload.Plan, nil
}
