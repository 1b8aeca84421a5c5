package agent

import (
	"context"
	"errors"
)

// ErrConnClosed is returned by Recv after the backend connection has ended.
var ErrConnClosed = errors.New("agent: connection closed")

// PermissionMode selects the backend's tool permission profile.
type PermissionMode string

const (
	PermissionModePlan   PermissionMode = "plan"
	PermissionModeBypass PermissionMode = "bypassPermissions"
)

// Options configures a new or resumed backend conversation.
type Options struct {
	Model          string
	SystemPrompt   string
	WorkDir        string
	PermissionMode PermissionMode
	// AllowedTools restricts the tool set; empty means unrestricted.
	AllowedTools []string
	// ResumeID resumes an existing backend conversation instead of starting
	// a fresh one.
	ResumeID string
}

// Conn is one live backend conversation.
type Conn interface {
	// Send forwards one user turn to the backend.
	Send(ctx context.Context, text string) error
	// Recv blocks until the next backend message arrives. It returns
	// ErrConnClosed once the backend has shut the conversation down.
	Recv(ctx context.Context) (Message, error)
	// Close releases backend resources. Safe to call more than once.
	Close() error
}

// Runtime opens conversations with the backend agent.
type Runtime interface {
	Open(ctx context.Context, opts Options) (Conn, error)
}
