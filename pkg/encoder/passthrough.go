package encoder

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/tandem-dev/tandem/pkg/apperrors"
	"github.com/tandem-dev/tandem/pkg/session"
	"github.com/tandem-dev/tandem/pkg/stream"
)

// Encoder renders one turn's event sequence onto an SSE response.
type Encoder interface {
	Encode(ctx context.Context, w *SSEWriter, sess session.Info, events <-chan stream.Event) error
}

// Lifecycle and error frame names used by the passthrough protocol.
const (
	eventSessionStarted = "session_started"
	eventSessionEnded   = "session_ended"
	eventError          = "error"
)

const (
	endReasonCompleted = "completed"
	endReasonError     = "error"
)

type sessionStartedPayload struct {
	SessionID      string `json:"sessionId"`
	ConversationID string `json:"conversationId,omitempty"`
}

type sessionEndedPayload struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

type errorPayload struct {
	SessionID     string `json:"sessionId"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	IsRecoverable bool   `json:"isRecoverable"`
}

// Passthrough forwards backend messages byte-for-byte, framed by lifecycle
// events. Clients that already speak the backend's native protocol consume
// this encoding without re-parsing.
type Passthrough struct {
	log logr.Logger
}

// NewPassthrough creates a passthrough encoder.
func NewPassthrough(log logr.Logger) *Passthrough {
	return &Passthrough{log: log.WithName("passthrough")}
}

// Encode writes session_started, then every backend message verbatim under
// its own type tag, then session_ended. Engine failures become a single
// error frame before the ended frame. Block events never appear here; the
// raw stream_event envelopes already carry the deltas.
func (p *Passthrough) Encode(ctx context.Context, w *SSEWriter, sess session.Info, events <-chan stream.Event) error {
	started := sessionStartedPayload{
		SessionID:      sess.ID,
		ConversationID: sess.ConversationID,
	}
	if err := w.WriteEvent(eventSessionStarted, started); err != nil {
		return err
	}

	reason := endReasonCompleted
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return w.WriteEvent(eventSessionEnded, sessionEndedPayload{
					SessionID: sess.ID,
					Reason:    reason,
				})
			}
			if err := p.encodeEvent(w, sess, ev, &reason); err != nil {
				return err
			}
		}
	}
}

func (p *Passthrough) encodeEvent(w *SSEWriter, sess session.Info, ev stream.Event, reason *string) error {
	switch e := ev.(type) {
	case stream.MessageEvent:
		return w.WriteEvent(string(e.Message.MsgType()), e.Message.Raw())
	case stream.QuestionPendingEvent:
		return w.WriteEvent(stream.ControlNameQuestionPending, struct {
			SessionID string `json:"sessionId"`
			stream.QuestionPendingEvent
		}{sess.ID, e})
	case stream.PlanPendingEvent:
		return w.WriteEvent(stream.ControlNamePlanPending, struct {
			SessionID string `json:"sessionId"`
			stream.PlanPendingEvent
		}{sess.ID, e})
	case stream.ErrorEvent:
		*reason = endReasonError
		return w.WriteEvent(eventError, errorPayload{
			SessionID:     sess.ID,
			Code:          apperrors.Code(e.Err),
			Message:       e.Err.Error(),
			IsRecoverable: false,
		})
	case stream.BlockEvent:
		// Assembled blocks are an A2A concern; the raw deltas already went
		// through as stream_event messages.
		return nil
	default:
		p.log.V(1).Info("skipping unhandled event", "type", ev)
		return nil
	}
}
