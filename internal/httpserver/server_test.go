package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandem-dev/tandem/internal/metrics"
	"github.com/tandem-dev/tandem/pkg/agent"
	"github.com/tandem-dev/tandem/pkg/session"
	"github.com/tandem-dev/tandem/pkg/stream"
)

// scriptedConn replies to every sent turn with a short assistant exchange.
type scriptedConn struct {
	mu     sync.Mutex
	queue  chan agent.Message
	closed bool
}

func (c *scriptedConn) Send(ctx context.Context, text string) error {
	for _, line := range []string{
		`{"type":"system","subtype":"init","session_id":"conv-1","model":"m1"}`,
		fmt.Sprintf(`{"type":"assistant","session_id":"conv-1","message":{"role":"assistant","content":[{"type":"text","text":"echo: %s"}]}}`, text),
		`{"type":"result","session_id":"conv-1","result":"done","is_error":false}`,
	} {
		msg, err := agent.ParseMessage([]byte(line))
		if err != nil {
			return err
		}
		c.queue <- msg
	}
	return nil
}

func (c *scriptedConn) Recv(ctx context.Context) (agent.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-c.queue:
		if !ok {
			return nil, agent.ErrConnClosed
		}
		return msg, nil
	}
}

func (c *scriptedConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
	return nil
}

type scriptedRuntime struct{}

func (scriptedRuntime) Open(ctx context.Context, opts agent.Options) (agent.Conn, error) {
	return &scriptedConn{queue: make(chan agent.Message, 16)}, nil
}

// Prometheus collectors register globally, so the test server shares one set.
var (
	metricsOnce sync.Once
	testMetrics *metrics.Metrics
)

func newTestServer(t *testing.T) (*Server, *session.Registry) {
	t.Helper()
	registry := session.NewRegistry(scriptedRuntime{})
	metricsOnce.Do(func() {
		testMetrics = metrics.New(registry.Count)
	})
	srv := New("127.0.0.1:0", registry, testMetrics, "default-model", logr.Discard())
	t.Cleanup(func() { _ = registry.CloseAll(context.Background()) })
	return srv, registry
}

func eventNames(body string) []string {
	var names []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "event: ") {
			names = append(names, strings.TrimPrefix(line, "event: "))
		}
	}
	return names
}

func TestServer_CreateSessionStreamsFirstTurn(t *testing.T) {
	srv, registry := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/sessions", strings.NewReader(`{"prompt":"hi"}`))
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, []string{
		"session_started", "system", "assistant", "result", "session_ended",
	}, eventNames(rec.Body.String()))
	assert.Equal(t, 1, registry.Count())
}

func TestServer_CreateSessionA2AProtocol(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/sessions?protocol=a2a", strings.NewReader(`{"prompt":"hi"}`))
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)

	names := eventNames(rec.Body.String())
	require.NotEmpty(t, names)
	assert.Equal(t, "task", names[0])
	assert.Equal(t, "status-update", names[1])
	assert.Equal(t, "status-update", names[len(names)-1])
}

func TestServer_CreateSessionValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "missing prompt", body: `{}`, want: http.StatusBadRequest},
		{name: "bad mode", body: `{"prompt":"p","mode":"yolo"}`, want: http.StatusBadRequest},
		{name: "invalid json", body: `{`, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/sessions", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			srv.srv.Handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestServer_SendMessageContinuesSession(t *testing.T) {
	srv, registry := newTestServer(t)

	sess, err := registry.Create(context.Background(), session.CreateOptions{Prompt: "first"})
	require.NoError(t, err)
	// Drain the first turn so the next one starts clean.
	turn, err := registry.Stream(context.Background(), sess.ID())
	require.NoError(t, err)
	for range turn.Messages() {
	}

	req := httptest.NewRequest("POST", "/api/sessions/"+sess.ID()+"/messages", strings.NewReader(`{"text":"second"}`))
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.Contains(t, eventNames(body), "assistant")
	assert.Contains(t, body, "echo: second")
}

func TestServer_SendMessageUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/sessions/ghost/messages", strings.NewReader(`{"text":"hi"}`))
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)

	// One error frame, no lifecycle events.
	names := eventNames(rec.Body.String())
	assert.Equal(t, []string{"error"}, names)
}

func TestServer_DeleteSession(t *testing.T) {
	srv, registry := newTestServer(t)

	sess, err := registry.Create(context.Background(), session.CreateOptions{Prompt: "p"})
	require.NoError(t, err)

	req := httptest.NewRequest("DELETE", "/api/sessions/"+sess.ID(), nil)
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, registry.Count())

	// Deleting again stays 204.
	rec = httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, httptest.NewRequest("DELETE", "/api/sessions/"+sess.ID(), nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestServer_ListSessions(t *testing.T) {
	srv, registry := newTestServer(t)

	_, err := registry.Create(context.Background(), session.CreateOptions{Prompt: "p", Mode: session.ModePlan})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Sessions []session.Info `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Sessions, 1)
	assert.Equal(t, session.ModePlan, resp.Sessions[0].Mode)
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_InstrumentStopsOnCancel(t *testing.T) {
	srv, _ := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan stream.Event)
	out := srv.instrument(ctx, in)

	// Park the forwarder on a send with no reader, the way an abandoned
	// turn leaves it, then cancel the request context.
	go func() {
		in <- stream.BlockEvent{Block: stream.Block{Kind: stream.BlockKindText}}
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-out:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("instrument goroutine still running after cancellation")
		}
	}
}

func TestServer_UnknownProtocol(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/sessions?protocol=grpc", strings.NewReader(`{"prompt":"p"}`))
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
