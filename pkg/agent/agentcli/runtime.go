// Package agentcli runs the backend agent as a subprocess speaking newline-
// delimited JSON on stdin/stdout, and adapts it to the agent.Runtime contract.
package agentcli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/go-logr/logr"

	"github.com/tandem-dev/tandem/pkg/agent"
	"github.com/tandem-dev/tandem/pkg/apperrors"
)

// Backend stdout lines can carry whole content blocks; allow generously sized
// lines before giving up.
const maxLineBytes = 8 * 1024 * 1024

// Config locates the backend CLI binary.
type Config struct {
	// Command is the executable to spawn.
	Command string
	// Args are prepended before the per-session flags.
	Args []string
}

// Runtime spawns one backend CLI process per conversation.
type Runtime struct {
	cfg Config
	log logr.Logger
}

// New creates a Runtime for the given CLI configuration.
func New(cfg Config, log logr.Logger) *Runtime {
	return &Runtime{cfg: cfg, log: log.WithName("agentcli")}
}

// Open spawns the CLI with flags derived from opts and returns the live
// conversation.
func (r *Runtime) Open(ctx context.Context, opts agent.Options) (agent.Conn, error) {
	args := append([]string{}, r.cfg.Args...)
	args = append(args,
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--verbose",
	)
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", opts.SystemPrompt)
	}
	if opts.PermissionMode != "" {
		args = append(args, "--permission-mode", string(opts.PermissionMode))
	}
	if len(opts.AllowedTools) > 0 {
		args = append(args, "--allowed-tools", strings.Join(opts.AllowedTools, ","))
	}
	if opts.ResumeID != "" {
		args = append(args, "--resume", opts.ResumeID)
	}

	cmd := exec.Command(r.cfg.Command, args...)
	if opts.WorkDir != "" {
		cmd.Dir = opts.WorkDir
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeBackendSpawn, "open stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeBackendSpawn, "open stdout pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeBackendSpawn,
			fmt.Sprintf("start %s", r.cfg.Command), err)
	}
	r.log.V(1).Info("backend process started", "pid", cmd.Process.Pid, "resume", opts.ResumeID != "")

	c := &conn{
		cmd:   cmd,
		stdin: stdin,
		msgs:  make(chan agent.Message, 64),
		done:  make(chan struct{}),
		log:   r.log,
	}
	go c.readLoop(stdout)
	return c, nil
}

type conn struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	msgs  chan agent.Message
	done  chan struct{}
	log   logr.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// readLoop parses stdout lines into messages until the process exits. Lines
// that fail to parse are dropped with a log entry; a malformed line must not
// kill the conversation.
func (c *conn) readLoop(stdout io.Reader) {
	defer close(c.msgs)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := agent.ParseMessage(line)
		if err != nil {
			c.log.V(1).Info("dropping unparseable backend line", "error", err.Error())
			continue
		}
		select {
		case c.msgs <- msg:
		case <-c.done:
			return
		}
	}
}

type userTurn struct {
	Type    string      `json:"type"`
	Message userPayload `json:"message"`
}

type userPayload struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (c *conn) Send(ctx context.Context, text string) error {
	line, err := json.Marshal(userTurn{
		Type:    "user",
		Message: userPayload{Role: "user", Content: text},
	})
	if err != nil {
		return fmt.Errorf("marshal user turn: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.stdin.Write(append(line, '\n')); err != nil {
		return apperrors.New(apperrors.ErrCodeAgentError, "write to backend", err)
	}
	return nil
}

func (c *conn) Recv(ctx context.Context) (agent.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-c.msgs:
		if !ok {
			return nil, agent.ErrConnClosed
		}
		return msg, nil
	}
}

func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.stdin.Close()
		if c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
		}
		_ = c.cmd.Wait()
	})
	return nil
}
