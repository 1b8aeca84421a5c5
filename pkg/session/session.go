// Package session owns the set of live backend conversations. The Registry
// is the sole authority for session existence; callers hold only session ids.
package session

import (
	"sync"
	"time"

	"github.com/tandem-dev/tandem/pkg/agent"
)

// Mode selects the tool permission profile for a session. Exactly two
// profiles exist; anything else is rejected at create time.
type Mode string

const (
	// ModeDefault runs unrestricted: permission mode bypass, no allow-list.
	ModeDefault Mode = "default"
	// ModePlan runs the restricted read-only planning profile.
	ModePlan Mode = "plan"
)

// planAllowedTools is the fixed allow-list for ModePlan.
var planAllowedTools = []string{
	"Read",
	"Glob",
	"Grep",
	"WebFetch",
	"WebSearch",
	"Task",
	"TodoWrite",
	"AskUserQuestion",
	"ExitPlanMode",
}

// Status is a session's lifecycle state. Idle and Streaming alternate until
// Closed, which is terminal.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusStreaming Status = "streaming"
	StatusClosed    Status = "closed"
)

// Session is one live conversation, owned exclusively by the Registry.
type Session struct {
	id    string
	mode  Mode
	model string
	conn  agent.Conn

	mu             sync.Mutex
	conversationID string
	// observedBackendID records whether conversationID came from a backend
	// message rather than the resume seed.
	observedBackendID bool
	status            Status
	createdAt         time.Time
	lastActivityAt    time.Time
}

// ID returns the engine-local session id.
func (s *Session) ID() string { return s.id }

// Mode returns the session's permission profile.
func (s *Session) Mode() Mode { return s.mode }

// Model returns the model identifier the session was created with.
func (s *Session) Model() string { return s.model }

// ConversationID returns the backend's own conversation id, or "" if no
// backend message has carried one yet. Resumes must use this id.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// observeConversationID captures the backend conversation id the first time
// any message carries one. It replaces a resume seed; resumes must use the
// backend's current id, not the one the session was opened with.
func (s *Session) observeConversationID(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.observedBackendID {
		s.conversationID = id
		s.observedBackendID = true
	}
}

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusClosed {
		return
	}
	s.status = st
}

func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivityAt = time.Now().UTC()
}

// Info is a read-only snapshot of a session for listings and the store.
type Info struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId,omitempty"`
	Model          string    `json:"model,omitempty"`
	Mode           Mode      `json:"mode"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// Snapshot returns the session's current Info.
func (s *Session) Snapshot() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:             s.id,
		ConversationID: s.conversationID,
		Model:          s.model,
		Mode:           s.mode,
		Status:         s.status,
		CreatedAt:      s.createdAt,
		LastActivityAt: s.lastActivityAt,
	}
}

// agentOptions maps the session mode onto one of the two fixed backend
// permission profiles.
func agentOptions(opts CreateOptions) agent.Options {
	out := agent.Options{
		Model:        opts.Model,
		SystemPrompt: opts.SystemPrompt,
		WorkDir:      opts.WorkDir,
		ResumeID:     opts.ResumeID,
	}
	if opts.Mode == ModePlan {
		out.PermissionMode = agent.PermissionModePlan
		out.AllowedTools = append([]string(nil), planAllowedTools...)
	} else {
		out.PermissionMode = agent.PermissionModeBypass
	}
	return out
}
