package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/tandem-dev/tandem/pkg/agent"
	"github.com/tandem-dev/tandem/pkg/apperrors"
)

// Recorder receives best-effort session metadata snapshots. Failures are
// logged by the registry, never surfaced to callers.
type Recorder interface {
	Save(ctx context.Context, info Info) error
}

// Registry creates, resumes, feeds, and closes sessions. All map mutation is
// serialized on one mutex; each session's stream is driven by its own
// goroutine.
type Registry struct {
	runtime  agent.Runtime
	recorder Recorder
	log      logr.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// Option configures a Registry.
type Option func(*Registry)

// WithRecorder attaches a session metadata recorder.
func WithRecorder(rec Recorder) Option {
	return func(r *Registry) { r.recorder = rec }
}

// WithLogger sets the registry logger.
func WithLogger(log logr.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// NewRegistry creates an empty Registry backed by the given runtime.
func NewRegistry(runtime agent.Runtime, opts ...Option) *Registry {
	r := &Registry{
		runtime:  runtime,
		log:      logr.Discard(),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.WithName("registry")
	return r
}

// CreateOptions parameterizes a new session.
type CreateOptions struct {
	// Prompt is sent as the first turn immediately after the backend
	// conversation opens.
	Prompt string
	Model  string
	Mode   Mode
	// SystemPrompt augments the backend's system prompt.
	SystemPrompt string
	WorkDir      string
	// ResumeID asks the backend to resume an earlier conversation.
	ResumeID string
}

// Create opens a backend conversation (fresh or resumed), registers the
// session under a generated id, and sends the initial prompt. The session is
// Streaming on return.
func (r *Registry) Create(ctx context.Context, opts CreateOptions) (*Session, error) {
	if opts.Mode == "" {
		opts.Mode = ModeDefault
	}
	if opts.Mode != ModeDefault && opts.Mode != ModePlan {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput,
			fmt.Sprintf("unknown mode %q", opts.Mode), nil)
	}
	if opts.Prompt == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "prompt is required", nil)
	}

	conn, err := r.runtime.Open(ctx, agentOptions(opts))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	s := &Session{
		id:             uuid.NewString(),
		mode:           opts.Mode,
		model:          opts.Model,
		conn:           conn,
		conversationID: opts.ResumeID,
		status:         StatusIdle,
		createdAt:      now,
		lastActivityAt: now,
	}

	if err := conn.Send(ctx, opts.Prompt); err != nil {
		_ = conn.Close()
		return nil, apperrors.New(apperrors.ErrCodeAgentError, "send initial prompt", err)
	}
	s.setStatus(StatusStreaming)

	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()

	r.log.Info("session created", "session", s.id, "mode", opts.Mode, "resumed", opts.ResumeID != "")
	r.record(ctx, s)
	return s, nil
}

// Get returns the session for id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil, apperrors.New(apperrors.ErrCodeSessionNotFound,
			fmt.Sprintf("session %s not found", id), nil)
	}
	return s, nil
}

// Send forwards one user message to the session's backend conversation and
// marks the session Streaming.
func (r *Registry) Send(ctx context.Context, id, text string) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	if err := s.conn.Send(ctx, text); err != nil {
		return apperrors.New(apperrors.ErrCodeAgentError, "send message", err)
	}
	s.touch()
	s.setStatus(StatusStreaming)
	r.record(ctx, s)
	return nil
}

// Turn is the finite message sequence of one session turn. Messages closes
// after the terminal result message or on failure; Err is valid afterwards
// and nil for a normal end.
type Turn struct {
	msgs chan agent.Message
	err  error
}

// Messages returns the turn's backend message channel.
func (t *Turn) Messages() <-chan agent.Message { return t.msgs }

// Err reports why Messages closed. Only valid after the channel closed.
func (t *Turn) Err() error { return t.err }

// Stream starts draining the session's current turn. The returned Turn ends
// at the terminal result message or on error; either way the session returns
// to Idle. Restart by calling Stream again after the previous turn ended.
// One concurrent reader per session.
func (r *Registry) Stream(ctx context.Context, id string) (*Turn, error) {
	s, err := r.Get(id)
	if err != nil {
		return nil, err
	}

	t := &Turn{msgs: make(chan agent.Message, 16)}

	go func() {
		defer close(t.msgs)
		defer func() {
			s.setStatus(StatusIdle)
			s.touch()
			r.record(context.Background(), s)
		}()

		for {
			msg, err := s.conn.Recv(ctx)
			if err != nil {
				switch {
				case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
					t.err = err
				case errors.Is(err, agent.ErrConnClosed):
					t.err = apperrors.New(apperrors.ErrCodeAgentError, "backend closed the conversation", err)
				default:
					t.err = apperrors.New(apperrors.ErrCodeAgentError, "receive from backend", err)
				}
				return
			}

			s.observeConversationID(msg.ConversationID())

			select {
			case t.msgs <- msg:
			case <-ctx.Done():
				t.err = ctx.Err()
				return
			}

			if msg.MsgType() == agent.MessageTypeResult {
				return
			}
		}
	}()

	return t, nil
}

// Close releases the session's backend resources and removes it from the
// registry. Closing an unknown or already-closed id is a no-op.
func (r *Registry) Close(ctx context.Context, id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}

	err := s.conn.Close()
	s.mu.Lock()
	s.status = StatusClosed
	s.mu.Unlock()
	r.log.Info("session closed", "session", id)
	r.record(ctx, s)
	if err != nil {
		return apperrors.New(apperrors.ErrCodeAgentError, "close backend conversation", err)
	}
	return nil
}

// CloseAll closes every registered session. Used at process shutdown.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var result *multierror.Error
	for _, id := range ids {
		if err := r.Close(ctx, id); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// List returns snapshots of all live sessions.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	infos := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, s.Snapshot())
	}
	return infos
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) record(ctx context.Context, s *Session) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.Save(ctx, s.Snapshot()); err != nil {
		r.log.Error(err, "session record not saved", "session", s.id)
	}
}
