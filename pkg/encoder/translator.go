package encoder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"trpc.group/trpc-go/trpc-a2a-go/protocol"

	"github.com/tandem-dev/tandem/pkg/agent"
	"github.com/tandem-dev/tandem/pkg/apperrors"
	"github.com/tandem-dev/tandem/pkg/session"
	"github.com/tandem-dev/tandem/pkg/stream"
)

// A2ATranslator maps a turn's event sequence onto the A2A streaming
// vocabulary: one Task, working and terminal status updates, and a Message
// per completed backend message. Every turn emits exactly one final status
// update.
type A2ATranslator struct {
	log logr.Logger
}

// NewA2ATranslator creates an A2A encoder.
func NewA2ATranslator(log logr.Logger) *A2ATranslator {
	return &A2ATranslator{log: log.WithName("a2a")}
}

// turnState tracks the per-turn task identity and whether the terminal
// status update went out.
type turnState struct {
	taskID    string
	contextID string
	finalDone bool
}

// Encode opens the turn with a submitted Task and a working status update,
// then translates events until a terminal status update closes the turn.
func (t *A2ATranslator) Encode(ctx context.Context, w *SSEWriter, sess session.Info, events <-chan stream.Event) error {
	st := &turnState{
		taskID:    protocol.GenerateTaskID(),
		contextID: sess.ConversationID,
	}
	if st.contextID == "" {
		st.contextID = protocol.GenerateContextID()
	}

	task := protocol.Task{
		ID:        st.taskID,
		ContextID: st.contextID,
		Kind:      protocol.KindTask,
		Status: protocol.TaskStatus{
			State:     protocol.TaskStateSubmitted,
			Timestamp: a2aTimestamp(),
		},
	}
	if err := w.WriteEvent(string(protocol.KindTask), task); err != nil {
		return err
	}
	if err := t.writeStatus(w, st, protocol.TaskStateWorking, false, nil, nil); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if !st.finalDone {
					// The turn source guarantees a result or error event
					// before closing, so a bare close means the turn was
					// cut off mid-stream.
					meta := map[string]interface{}{
						"error": "turn aborted before a result",
						"code":  apperrors.ErrCodeAgentError,
					}
					if err := t.writeStatus(w, st, protocol.TaskStateFailed, true, nil, meta); err != nil {
						return err
					}
				}
				return nil
			}
			if err := t.encodeEvent(w, st, ev); err != nil {
				return err
			}
		}
	}
}

func (t *A2ATranslator) encodeEvent(w *SSEWriter, st *turnState, ev stream.Event) error {
	switch e := ev.(type) {
	case stream.MessageEvent:
		return t.encodeMessage(w, st, e)
	case stream.QuestionPendingEvent:
		meta := map[string]interface{}{
			"interactionId": e.InteractionID,
			"toolUseId":     e.ToolUseID,
			"questions":     e.Questions,
		}
		summary := t.newAgentMessage(st, []protocol.Part{
			protocol.NewTextPart("The agent is waiting for answers to its questions."),
		}, nil)
		return t.writeStatus(w, st, protocol.TaskStateInputRequired, false, &summary, meta)
	case stream.PlanPendingEvent:
		meta := map[string]interface{}{
			"interactionId": e.InteractionID,
			"toolUseId":     e.ToolUseID,
			"plan":          e.Plan,
		}
		summary := t.newAgentMessage(st, []protocol.Part{
			protocol.NewTextPart("The agent is waiting for plan approval."),
		}, nil)
		return t.writeStatus(w, st, protocol.TaskStateInputRequired, false, &summary, meta)
	case stream.ErrorEvent:
		if st.finalDone {
			return nil
		}
		meta := map[string]interface{}{
			"error": e.Err.Error(),
			"code":  apperrors.Code(e.Err),
		}
		summary := t.newAgentMessage(st, []protocol.Part{
			protocol.NewTextPart(e.Err.Error()),
		}, nil)
		return t.writeStatus(w, st, protocol.TaskStateFailed, true, &summary, meta)
	case stream.BlockEvent:
		// Incremental blocks reappear inside the completed assistant
		// message; translating both would duplicate content.
		return nil
	default:
		t.log.V(1).Info("skipping unhandled event", "type", fmt.Sprintf("%T", ev))
		return nil
	}
}

func (t *A2ATranslator) encodeMessage(w *SSEWriter, st *turnState, ev stream.MessageEvent) error {
	switch m := ev.Message.(type) {
	case agent.StreamEventMessage:
		// Raw delta envelopes have no A2A shape; their content arrives with
		// the completed message.
		return nil
	case agent.SystemMessage:
		data := map[string]interface{}{
			"type":    "session_init",
			"subtype": m.Subtype,
		}
		if m.Model != "" {
			data["model"] = m.Model
		}
		if m.PermissionMode != "" {
			data["permissionMode"] = m.PermissionMode
		}
		if len(m.Tools) > 0 {
			data["tools"] = m.Tools
		}
		msg := t.newAgentMessage(st, []protocol.Part{protocol.NewDataPart(data)}, nil)
		return w.WriteEvent(string(protocol.KindMessage), msg)
	case agent.AssistantMessage:
		msg := t.newAgentMessage(st, partsFromBlocks(ev.Blocks), nil)
		if len(msg.Parts) == 0 {
			return nil
		}
		return w.WriteEvent(string(protocol.KindMessage), msg)
	case agent.UserMessage:
		msg := t.newMessage(st, protocol.MessageRoleUser, partsFromBlocks(ev.Blocks), nil)
		if len(msg.Parts) == 0 {
			return nil
		}
		return w.WriteEvent(string(protocol.KindMessage), msg)
	case agent.ResultMessage:
		if st.finalDone {
			return nil
		}
		state := protocol.TaskStateCompleted
		if m.IsError {
			state = protocol.TaskStateFailed
		}
		meta := map[string]interface{}{
			"durationMs":    m.DurationMs,
			"durationApiMs": m.DurationAPIMs,
			"numTurns":      m.NumTurns,
			"totalCostUsd":  m.TotalCostUSD,
			"usage": map[string]interface{}{
				"inputTokens":              m.Usage.InputTokens,
				"outputTokens":             m.Usage.OutputTokens,
				"cacheReadInputTokens":     m.Usage.CacheReadInputTokens,
				"cacheCreationInputTokens": m.Usage.CacheCreationInputTokens,
			},
		}
		var summary *protocol.Message
		if m.Result != "" {
			s := t.newAgentMessage(st, []protocol.Part{protocol.NewTextPart(m.Result)}, nil)
			summary = &s
		}
		return t.writeStatus(w, st, state, true, summary, meta)
	default:
		// Unrecognized backend messages survive translation as a single
		// data part tagged with their original type.
		data := map[string]interface{}{
			"type": string(ev.Message.MsgType()),
			"raw":  json.RawMessage(ev.Message.Raw()),
		}
		msg := t.newAgentMessage(st, []protocol.Part{protocol.NewDataPart(data)}, nil)
		return w.WriteEvent(string(protocol.KindMessage), msg)
	}
}

// partsFromBlocks converts assembled content blocks into A2A parts. Text
// becomes a text part; everything structured becomes a data part.
func partsFromBlocks(blocks []stream.Block) []protocol.Part {
	parts := make([]protocol.Part, 0, len(blocks))
	for _, b := range blocks {
		switch b.Kind {
		case stream.BlockKindText:
			parts = append(parts, protocol.NewTextPart(b.Text))
		case stream.BlockKindThinking:
			parts = append(parts, protocol.NewDataPart(map[string]interface{}{
				"type":     "thinking",
				"thinking": b.Text,
			}))
		case stream.BlockKindToolUse:
			parts = append(parts, protocol.NewDataPart(map[string]interface{}{
				"type":      "tool_use",
				"toolUseId": b.ToolUseID,
				"toolName":  b.ToolName,
				"input":     json.RawMessage(b.Input),
			}))
		case stream.BlockKindToolResult:
			parts = append(parts, protocol.NewDataPart(map[string]interface{}{
				"type":      "tool_result",
				"toolUseId": b.ToolUseID,
				"toolName":  b.ToolName,
				"content":   json.RawMessage(b.Content),
				"isError":   b.IsError,
			}))
		}
	}
	return parts
}

func (t *A2ATranslator) newAgentMessage(st *turnState, parts []protocol.Part, meta map[string]interface{}) protocol.Message {
	return t.newMessage(st, protocol.MessageRoleAgent, parts, meta)
}

func (t *A2ATranslator) newMessage(st *turnState, role protocol.MessageRole, parts []protocol.Part, meta map[string]interface{}) protocol.Message {
	taskID := st.taskID
	contextID := st.contextID
	return protocol.Message{
		MessageID: protocol.GenerateMessageID(),
		Kind:      protocol.KindMessage,
		Role:      role,
		Parts:     parts,
		TaskID:    &taskID,
		ContextID: &contextID,
		Metadata:  meta,
	}
}

func (t *A2ATranslator) writeStatus(w *SSEWriter, st *turnState, state protocol.TaskState, final bool, msg *protocol.Message, meta map[string]interface{}) error {
	update := protocol.TaskStatusUpdateEvent{
		TaskID:    st.taskID,
		ContextID: st.contextID,
		Kind:      protocol.KindTaskStatusUpdate,
		Status: protocol.TaskStatus{
			State:     state,
			Message:   msg,
			Timestamp: a2aTimestamp(),
		},
		Final:    final,
		Metadata: meta,
	}
	if final {
		st.finalDone = true
	}
	return w.WriteEvent(string(protocol.KindTaskStatusUpdate), update)
}

func a2aTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
