package executor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/workspace"
)

func newTestRunner(t *testing.T) (*Runner, *workspace.Validator) {
	t.Helper()
	root := t.TempDir()
	val, err := workspace.NewValidator(root, nil)
	require.NoError(t, err)
	return New(val, 30, 60, 100), val
}

func TestRunCapturesStdout(t *testing.T) {
	r, _ := newTestRunner(t)

	res, err := r.Run(context.Background(), Request{Command: "echo hello"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Empty(t, res.Stderr)
	assert.False(t, res.Truncated)
}

func TestRunReportsExitCode(t *testing.T) {
	r, _ := newTestRunner(t)

	res, err := r.Run(context.Background(), Request{Command: "exit 3"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 3, res.ExitCode)
}

func TestRunCapturesStderr(t *testing.T) {
	r, _ := newTestRunner(t)

	res, err := r.Run(context.Background(), Request{Command: "echo oops 1>&2; exit 1"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, "oops\n", res.Stderr)
	assert.Empty(t, res.Stdout)
}

func TestRunEnvironment(t *testing.T) {
	r, val := newTestRunner(t)

	res, err := r.Run(context.Background(), Request{
		Command: "printenv HOME; printenv WARDEN_TEST_VAR",
		Env:     map[string]string{"WARDEN_TEST_VAR": "42"},
	})
	require.NoError(t, err)
	assert.Equal(t, val.Root()+"\n42\n", res.Stdout)
}

func TestRunCwd(t *testing.T) {
	r, val := newTestRunner(t)
	require.NoError(t, os.MkdirAll(filepath.Join(val.Root(), "sub"), 0755))

	res, err := r.Run(context.Background(), Request{Command: "pwd", Cwd: "sub"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(val.Root(), "sub")+"\n", res.Stdout)
}

func TestRunDefaultCwdIsRoot(t *testing.T) {
	r, val := newTestRunner(t)

	res, err := r.Run(context.Background(), Request{Command: "pwd"})
	require.NoError(t, err)
	assert.Equal(t, val.Root()+"\n", res.Stdout)
}

func TestRunTimeout(t *testing.T) {
	r, _ := newTestRunner(t)

	start := time.Now()
	res, err := r.Run(context.Background(), Request{Command: "sleep 5", TimeoutSec: 1})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, -1, res.ExitCode)
	assert.Equal(t, "Command timed out after 1 seconds", res.Stderr)
	assert.Empty(t, res.Stdout)
	assert.False(t, res.Truncated)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestRunTimeoutClampedToMax(t *testing.T) {
	root := t.TempDir()
	val, err := workspace.NewValidator(root, nil)
	require.NoError(t, err)
	r := New(val, 30, 1, 100)

	res, err := r.Run(context.Background(), Request{Command: "sleep 5", TimeoutSec: 100})
	require.NoError(t, err)
	assert.Equal(t, -1, res.ExitCode)
	assert.Equal(t, "Command timed out after 1 seconds", res.Stderr)
}

func TestRunZeroTimeoutUsesDefault(t *testing.T) {
	root := t.TempDir()
	val, err := workspace.NewValidator(root, nil)
	require.NoError(t, err)
	r := New(val, 1, 60, 100)

	res, err := r.Run(context.Background(), Request{Command: "sleep 5"})
	require.NoError(t, err)
	assert.Equal(t, -1, res.ExitCode)
	assert.Equal(t, "Command timed out after 1 seconds", res.Stderr)
}

func TestRunKillsProcessGroup(t *testing.T) {
	r, _ := newTestRunner(t)

	// The background child holds the stdout pipe open; killing the whole
	// group is what lets Run return promptly.
	start := time.Now()
	res, err := r.Run(context.Background(), Request{Command: "sleep 30 & sleep 30", TimeoutSec: 1})
	require.NoError(t, err)
	assert.Equal(t, -1, res.ExitCode)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestRunTruncatesOutput(t *testing.T) {
	root := t.TempDir()
	val, err := workspace.NewValidator(root, nil)
	require.NoError(t, err)
	r := New(val, 30, 60, 1) // 100 character cap per stream

	res, err := r.Run(context.Background(), Request{Command: "head -c 500 /dev/zero | tr '\\0' a"})
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.True(t, strings.HasSuffix(res.Stdout, "... (output truncated)"))
	assert.Equal(t, strings.Repeat("a", 100)+truncationMarker, res.Stdout)
	assert.Empty(t, res.Stderr)
}

func TestRunEmptyCommand(t *testing.T) {
	r, _ := newTestRunner(t)

	_, err := r.Run(context.Background(), Request{Command: ""})
	assert.ErrorIs(t, err, ErrEmptyCommand)

	_, err = r.Run(context.Background(), Request{Command: "   "})
	assert.ErrorIs(t, err, ErrEmptyCommand)
}

func TestRunRejectsEscapingCwd(t *testing.T) {
	r, _ := newTestRunner(t)

	_, err := r.Run(context.Background(), Request{Command: "pwd", Cwd: "../outside"})
	assert.ErrorIs(t, err, workspace.ErrEscapesWorkspace)
}

func TestRunCancelledContext(t *testing.T) {
	r, _ := newTestRunner(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, Request{Command: "echo hi"})
	assert.ErrorIs(t, err, context.Canceled)
}
