// Package executor runs shell commands inside the workspace with enforced
// timeouts and bounded output. It does no command screening itself; callers
// are expected to have classified the command before it gets here.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/wardenhq/warden/internal/workspace"
)

// ErrEmptyCommand is returned when the command is blank.
var ErrEmptyCommand = errors.New("empty command")

// outputCharsPerLine converts the configured line cap into a rough
// per-stream character limit.
const outputCharsPerLine = 100

const truncationMarker = "\n... (output truncated)"

// Request describes one command execution.
type Request struct {
	Command    string            `json:"command"`
	TimeoutSec int               `json:"timeout,omitempty"`
	Cwd        string            `json:"cwd,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
}

// Result captures the outcome of a command execution.
type Result struct {
	Success    bool   `json:"success"`
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	DurationMs int64  `json:"duration_ms"`
	Truncated  bool   `json:"truncated"`

	// TimedOut is set when the command was killed at the deadline.
	TimedOut bool `json:"-"`
}

// Runner executes commands through the system shell with HOME pinned to the
// workspace root.
type Runner struct {
	val            *workspace.Validator
	defaultTimeout int
	maxTimeout     int
	maxOutputChars int
}

// New creates a Runner. Timeouts are in seconds; maxOutputLines bounds each
// output stream at maxOutputLines*100 characters.
func New(val *workspace.Validator, defaultTimeoutSec, maxTimeoutSec, maxOutputLines int) *Runner {
	return &Runner{
		val:            val,
		defaultTimeout: defaultTimeoutSec,
		maxTimeout:     maxTimeoutSec,
		maxOutputChars: maxOutputLines * outputCharsPerLine,
	}
}

// WithValidator returns a copy of the runner that validates working
// directories against val instead of the base validator. Used for per-user
// pattern overlays.
func (r *Runner) WithValidator(val *workspace.Validator) *Runner {
	clone := *r
	clone.val = val
	return &clone
}

// Run executes the command and waits for completion or timeout. A timeout
// kills the whole process group and reports exit code -1 with an
// explanatory stderr; it is not an error.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Command) == "" {
		return nil, ErrEmptyCommand
	}

	timeoutSec := req.TimeoutSec
	if timeoutSec <= 0 {
		timeoutSec = r.defaultTimeout
	}
	if timeoutSec > r.maxTimeout {
		timeoutSec = r.maxTimeout
	}

	cwd := r.val.Root()
	if req.Cwd != "" {
		resolved, err := r.val.Validate(req.Cwd)
		if err != nil {
			return nil, fmt.Errorf("invalid cwd: %w", err)
		}
		cwd = resolved
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", req.Command)
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(),
		"HOME="+r.val.Root(),
		"PWD="+cwd,
	)
	for k, v := range req.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	// Run the shell in its own process group so a timeout takes down its
	// children too, not just the shell.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start command: %w", err)
	}

	stdout := &cappedBuffer{limit: r.maxOutputChars}
	stderr := &cappedBuffer{limit: r.maxOutputChars}

	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(stdout, stdoutPipe)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(stderr, stderrPipe)
		return err
	})
	drainErr := g.Wait()
	waitErr := cmd.Wait()
	durationMs := time.Since(start).Milliseconds()

	if runCtx.Err() == context.DeadlineExceeded {
		return &Result{
			ExitCode:   -1,
			Stderr:     fmt.Sprintf("Command timed out after %d seconds", timeoutSec),
			DurationMs: durationMs,
			TimedOut:   true,
		}, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("command failed: %w", waitErr)
		}
	}
	if drainErr != nil && waitErr == nil {
		return nil, fmt.Errorf("failed to read command output: %w", drainErr)
	}

	return &Result{
		Success:    exitCode == 0,
		ExitCode:   exitCode,
		Stdout:     stdout.Render(),
		Stderr:     stderr.Render(),
		DurationMs: durationMs,
		Truncated:  stdout.Clipped() || stderr.Clipped(),
	}, nil
}

// cappedBuffer keeps the first limit bytes and counts the rest so the
// child's pipes always drain without holding unbounded output.
type cappedBuffer struct {
	limit int
	buf   bytes.Buffer
	total int64
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	b.total += int64(n)
	if remain := b.limit - b.buf.Len(); remain > 0 {
		if len(p) > remain {
			p = p[:remain]
		}
		b.buf.Write(p)
	}
	return n, nil
}

func (b *cappedBuffer) Clipped() bool {
	return b.total > int64(b.limit)
}

func (b *cappedBuffer) Render() string {
	if b.Clipped() {
		return b.buf.String() + truncationMarker
	}
	return b.buf.String()
}
