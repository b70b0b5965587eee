package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Command handler exit codes. Exit 2 is a blocking failure whose stderr
// is fed back into the conversation; any other nonzero exit is logged
// and ignored.
const (
	exitSuccess  = 0
	exitBlocking = 2
)

// DefaultTimeout bounds a handler that declares none.
const DefaultTimeout = 60 * time.Second

// CommandHandler runs an external process for each matched event. The
// event is written as JSON to the process's stdin; a JSON Output is
// parsed from its stdout when present.
type CommandHandler struct {
	Command string
	Timeout time.Duration
}

// Kind returns the handler kind for logging.
func (h CommandHandler) Kind() string { return "command" }

// Describe returns a short identifier for logging.
func (h CommandHandler) Describe() string {
	cmd := h.Command
	if len(cmd) > 40 {
		cmd = cmd[:40] + "..."
	}
	return "command(" + cmd + ")"
}

// Run executes the command and interprets its exit status. A timeout is
// reported as ErrTimeout so the engine can discard the handler silently.
func (h CommandHandler) Run(ctx context.Context, ev Event) (Output, error) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	input, err := json.Marshal(ev)
	if err != nil {
		return Output{}, fmt.Errorf("marshal hook input: %w", err)
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", h.Command)
	// A backgrounded grandchild can hold the pipes open after sh exits;
	// WaitDelay abandons the pipe wait so resolution stays bounded by
	// the timeout plus a fixed overhead.
	cmd.WaitDelay = 100 * time.Millisecond
	cmd.Stdin = bytes.NewReader(input)
	if ev.Cwd != "" {
		cmd.Dir = ev.Cwd
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()

	if ctx.Err() == context.DeadlineExceeded {
		return Output{}, ErrTimeout
	}

	if err != nil {
		if errors.Is(err, exec.ErrWaitDelay) {
			// The command itself exited cleanly; only orphaned pipe
			// holders were abandoned
			return parseOutput(stdout.Bytes())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if exitErr.ExitCode() == exitBlocking {
				reason := strings.TrimSpace(stderr.String())
				if reason == "" {
					reason = strings.TrimSpace(stdout.String())
				}
				if reason == "" {
					reason = "blocked by hook"
				}
				blocked := false
				return Output{Continue: &blocked, Reason: reason}, nil
			}
			// Non-blocking failure, logged by the engine
			return Output{}, fmt.Errorf("hook exited %d: %s", exitErr.ExitCode(),
				strings.TrimSpace(stderr.String()))
		}
		return Output{}, fmt.Errorf("hook failed to run: %w", err)
	}

	return parseOutput(stdout.Bytes())
}

// parseOutput decodes a handler's stdout. Empty or non-JSON stdout is a
// plain success with nothing to merge.
func parseOutput(raw []byte) (Output, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Output{}, nil
	}
	var out Output
	if err := json.Unmarshal(trimmed, &out); err != nil {
		// Malformed stdout degrades to a plain success
		return Output{}, nil
	}
	return out, nil
}

// ErrTimeout marks a handler abandoned after exceeding its timeout.
// It contributes nothing to the event resolution.
var ErrTimeout = errors.New("hook handler timed out")
