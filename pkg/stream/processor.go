package stream

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/tandem-dev/tandem/pkg/agent"
	"github.com/tandem-dev/tandem/pkg/apperrors"
)

// Source is a finite, ordered supply of backend messages for one turn.
// Err reports why Messages closed; nil means the turn ended with a terminal
// result.
type Source interface {
	Messages() <-chan agent.Message
	Err() error
}

// Processor drives one session's assembly pipeline: it pulls backend
// messages from a Source and produces the merged, ordered Event sequence of
// raw messages, finalized blocks, and control signals. One Processor serves
// exactly one session; its buffers are never shared.
type Processor struct {
	correlator *Correlator
	assembler  *Assembler
	detector   *InterruptDetector
	log        logr.Logger
}

// NewProcessor creates a Processor with fresh per-session state.
func NewProcessor(log logr.Logger) *Processor {
	correlator := NewCorrelator()
	return &Processor{
		correlator: correlator,
		assembler:  NewAssembler(correlator),
		detector:   NewInterruptDetector(),
		log:        log.WithName("processor"),
	}
}

// Run consumes src until it ends and returns the turn's event channel. The
// channel preserves arrival order, ends after the terminal result message or
// a single trailing ErrorEvent, and is closed exactly once. Abandoning the
// returned channel is safe once ctx is cancelled.
func (p *Processor) Run(ctx context.Context, src Source) <-chan Event {
	out := make(chan Event, 16)

	go func() {
		defer close(out)

		for msg := range src.Messages() {
			for _, ev := range p.process(msg) {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
			if msg.MsgType() == agent.MessageTypeResult {
				// Terminal for this turn; the source drains on its own.
				return
			}
		}

		err := src.Err()
		if err == nil {
			// The backend went away without a result message. Callers need a
			// well-formed terminal event regardless.
			err = apperrors.New(apperrors.ErrCodeAgentError, "backend stream ended without a result", nil)
		}
		select {
		case out <- ErrorEvent{Err: err}:
		case <-ctx.Done():
		}
	}()

	return out
}

// process maps one backend message onto zero or more ordered events.
func (p *Processor) process(msg agent.Message) []Event {
	switch m := msg.(type) {
	case agent.StreamEventMessage:
		events := []Event{MessageEvent{Message: m}}
		for _, block := range p.assembler.HandleStreamEvent(m) {
			events = append(events, BlockEvent{Block: block})
			if ctrl := p.detector.Inspect(block); ctrl != nil {
				events = append(events, ctrl)
			}
		}
		return events

	case agent.AssistantMessage:
		blocks := p.assembler.BlocksFromMessage(m.Message)
		events := []Event{MessageEvent{Message: m, Blocks: blocks}}
		for _, block := range blocks {
			if ctrl := p.detector.Inspect(block); ctrl != nil {
				events = append(events, ctrl)
			}
		}
		return events

	case agent.UserMessage:
		blocks := p.assembler.BlocksFromMessage(m.Message)
		return []Event{MessageEvent{Message: m, Blocks: blocks}}

	default:
		// system, result, unknown: forwarded as-is.
		return []Event{MessageEvent{Message: msg}}
	}
}
