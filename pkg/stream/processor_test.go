package stream

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandem-dev/tandem/pkg/agent"
	"github.com/tandem-dev/tandem/pkg/apperrors"
)

// fakeSource feeds a fixed message sequence and a terminal error.
type fakeSource struct {
	msgs chan agent.Message
	err  error
}

func newFakeSource(t *testing.T, err error, lines ...string) *fakeSource {
	t.Helper()
	src := &fakeSource{msgs: make(chan agent.Message, len(lines)), err: err}
	for _, line := range lines {
		msg, perr := agent.ParseMessage([]byte(line))
		require.NoError(t, perr)
		src.msgs <- msg
	}
	close(src.msgs)
	return src
}

func (s *fakeSource) Messages() <-chan agent.Message { return s.msgs }
func (s *fakeSource) Err() error                     { return s.err }

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out draining events")
		}
	}
}

func TestProcessor_FullTurn(t *testing.T) {
	src := newFakeSource(t, nil,
		`{"type":"system","subtype":"init","session_id":"conv-1","model":"m1","tools":["Bash"]}`,
		`{"type":"stream_event","session_id":"conv-1","event":{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}}`,
		`{"type":"stream_event","session_id":"conv-1","event":{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi"}}}`,
		`{"type":"stream_event","session_id":"conv-1","event":{"type":"content_block_stop","index":0}}`,
		`{"type":"assistant","session_id":"conv-1","message":{"role":"assistant","content":[{"type":"text","text":"Hi"}]}}`,
		`{"type":"result","session_id":"conv-1","result":"Hi","is_error":false}`,
	)

	events := collect(t, NewProcessor(logr.Discard()).Run(context.Background(), src))

	// 4 stream/system/assistant message events + 1 block event + result.
	require.Len(t, events, 7)

	var blockEvents []BlockEvent
	var messageEvents []MessageEvent
	for _, ev := range events {
		switch e := ev.(type) {
		case BlockEvent:
			blockEvents = append(blockEvents, e)
		case MessageEvent:
			messageEvents = append(messageEvents, e)
		}
	}
	require.Len(t, blockEvents, 1)
	assert.Equal(t, "Hi", blockEvents[0].Block.Text)
	require.Len(t, messageEvents, 6)

	// The assistant message event carries its derived blocks.
	assistant := messageEvents[4]
	assert.Equal(t, agent.MessageTypeAssistant, assistant.Message.MsgType())
	require.Len(t, assistant.Blocks, 1)
	assert.Equal(t, "Hi", assistant.Blocks[0].Text)

	// The terminal result is last and carries no blocks.
	last := messageEvents[5]
	assert.Equal(t, agent.MessageTypeResult, last.Message.MsgType())
	assert.Empty(t, last.Blocks)
}

func TestProcessor_QuestionInterruptRaisedOnce(t *testing.T) {
	toolStart := `{"type":"stream_event","session_id":"c","event":{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_q","name":"AskUserQuestion","input":{}}}}`
	toolDelta := `{"type":"stream_event","session_id":"c","event":{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"questions\":[{\"question\":\"Deploy now?\",\"options\":[{\"label\":\"Yes\"},{\"label\":\"No\"}]}]}"}}}`
	toolStop := `{"type":"stream_event","session_id":"c","event":{"type":"content_block_stop","index":0}}`
	// The same invocation arrives again in the complete assistant message.
	assistant := `{"type":"assistant","session_id":"c","message":{"role":"assistant","content":[{"type":"tool_use","id":"toolu_q","name":"AskUserQuestion","input":{"questions":[{"question":"Deploy now?","options":[{"label":"Yes"},{"label":"No"}]}]}}]}}`
	result := `{"type":"result","session_id":"c","result":"","is_error":false}`

	src := newFakeSource(t, nil, toolStart, toolDelta, toolStop, assistant, result)
	events := collect(t, NewProcessor(logr.Discard()).Run(context.Background(), src))

	var questions []QuestionPendingEvent
	for _, ev := range events {
		if q, ok := ev.(QuestionPendingEvent); ok {
			questions = append(questions, q)
		}
	}
	require.Len(t, questions, 1)
	assert.Equal(t, "toolu_q", questions[0].ToolUseID)
	require.Len(t, questions[0].Questions, 1)
	assert.Equal(t, "Deploy now?", questions[0].Questions[0].Question)
	assert.Equal(t, "Yes", questions[0].Questions[0].Options[0].Label)
}

func TestProcessor_PlanInterruptFromCompleteMessage(t *testing.T) {
	// No streaming envelopes at all; the invocation only appears complete.
	assistant := `{"type":"assistant","session_id":"c","message":{"role":"assistant","content":[{"type":"tool_use","id":"toolu_p","name":"ExitPlanMode","input":{"plan":"Step one."}}]}}`
	result := `{"type":"result","session_id":"c","result":"","is_error":false}`

	src := newFakeSource(t, nil, assistant, result)
	events := collect(t, NewProcessor(logr.Discard()).Run(context.Background(), src))

	var plans []PlanPendingEvent
	for _, ev := range events {
		if p, ok := ev.(PlanPendingEvent); ok {
			plans = append(plans, p)
		}
	}
	require.Len(t, plans, 1)
	assert.Equal(t, "Step one.", plans[0].Plan)
}

func TestProcessor_ToolResultCorrelation(t *testing.T) {
	assistant := `{"type":"assistant","session_id":"c","message":{"role":"assistant","content":[{"type":"tool_use","id":"toolu_c","name":"Glob","input":{"pattern":"*.go"}}]}}`
	user := `{"type":"user","session_id":"c","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_c","content":"main.go"}]}}`
	result := `{"type":"result","session_id":"c","result":"","is_error":false}`

	src := newFakeSource(t, nil, assistant, user, result)
	events := collect(t, NewProcessor(logr.Discard()).Run(context.Background(), src))

	var userEvent *MessageEvent
	for _, ev := range events {
		if me, ok := ev.(MessageEvent); ok && me.Message.MsgType() == agent.MessageTypeUser {
			userEvent = &me
			break
		}
	}
	require.NotNil(t, userEvent)
	require.Len(t, userEvent.Blocks, 1)
	assert.Equal(t, BlockKindToolResult, userEvent.Blocks[0].Kind)
	assert.Equal(t, "Glob", userEvent.Blocks[0].ToolName)
}

func TestProcessor_EndWithoutResult(t *testing.T) {
	tests := []struct {
		name     string
		srcErr   error
		wantCode string
	}{
		{name: "source error propagated", srcErr: apperrors.New(apperrors.ErrCodeAgentError, "broken pipe", nil), wantCode: apperrors.ErrCodeAgentError},
		{name: "silent close synthesizes an error", srcErr: nil, wantCode: apperrors.ErrCodeAgentError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeSource(t, tt.srcErr,
				`{"type":"assistant","session_id":"c","message":{"role":"assistant","content":"partial"}}`,
			)
			events := collect(t, NewProcessor(logr.Discard()).Run(context.Background(), src))

			require.NotEmpty(t, events)
			last, ok := events[len(events)-1].(ErrorEvent)
			require.True(t, ok, "last event must be an error event")
			assert.Equal(t, tt.wantCode, apperrors.Code(last.Err))
		})
	}
}

func TestProcessor_UnknownMessageForwarded(t *testing.T) {
	src := newFakeSource(t, nil,
		`{"type":"telemetry","data":{"x":1}}`,
		`{"type":"result","session_id":"c","result":"","is_error":false}`,
	)
	events := collect(t, NewProcessor(logr.Discard()).Run(context.Background(), src))

	require.Len(t, events, 2)
	me, ok := events[0].(MessageEvent)
	require.True(t, ok)
	assert.Equal(t, agent.MessageType("telemetry"), me.Message.MsgType())
	assert.Empty(t, me.Blocks)
}

func TestProcessor_ContextCancelStopsEmission(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := newFakeSource(t, nil,
		`{"type":"assistant","session_id":"c","message":{"role":"assistant","content":"x"}}`,
	)
	ch := NewProcessor(logr.Discard()).Run(ctx, src)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after cancellation")
		}
	}
}
