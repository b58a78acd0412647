// Package audit appends one JSON line per gateway decision to a dedicated
// journal. Writes are best-effort: a failing journal falls back to the
// process logger and the entry is otherwise dropped. Entries are never
// mutated or read back by this package.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/wardenhq/warden/internal/metrics"
)

// Op identifies the kind of gateway operation being audited.
type Op string

const (
	OpGetStructure      Op = "get_structure"
	OpReadFile          Op = "read_file"
	OpEditFile          Op = "edit_file"
	OpExecute           Op = "execute"
	OpApprovalRequested Op = "approval_requested"
	OpApprovalGranted   Op = "approval_granted"
	OpApprovalDenied    Op = "approval_denied"
	OpApprovalExpired   Op = "approval_expired"
)

// Result values for audit entries.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultBlocked = "blocked"
	ResultPending = "pending"
)

// Entry is a single audit record.
type Entry struct {
	ID          string                 `json:"id"`
	Timestamp   string                 `json:"timestamp"`
	UserID      string                 `json:"user_id"`
	Operation   Op                     `json:"operation"`
	Target      string                 `json:"target"`
	Result      string                 `json:"result"`
	Details     map[string]interface{} `json:"details"`
	Sensitivity string                 `json:"sensitivity,omitempty"`
	ApprovalID  string                 `json:"approval_id,omitempty"`
}

// Logger appends entries to a JSON-lines file. Each entry is a single
// Write on an O_APPEND descriptor, so concurrent entries never interleave.
type Logger struct {
	mu    sync.Mutex
	path  string
	file  *os.File
	nowFn func() time.Time
}

// NewLogger opens (or creates) the journal at path.
func NewLogger(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	log.Info().Str("path", path).Msg("Audit log opened")
	return &Logger{path: path, file: f, nowFn: time.Now}, nil
}

// Close releases the journal file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Log writes one entry. ID and Timestamp are filled in when empty. Failures
// are reported to the process logger and swallowed.
func (l *Logger) Log(e Entry) {
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.Timestamp == "" {
		e.Timestamp = l.nowFn().UTC().Format(time.RFC3339)
	}
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}

	data, err := json.Marshal(e)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode audit entry")
		log.Info().
			Str("user", e.UserID).
			Str("operation", string(e.Operation)).
			Str("target", e.Target).
			Str("result", e.Result).
			Msg("AUDIT")
		return
	}

	l.mu.Lock()
	_, err = l.file.Write(append(data, '\n'))
	l.mu.Unlock()
	if err != nil {
		metrics.Get().RecordAuditWriteFailure()
		log.Error().Err(err).Msg("Failed to write audit log")
		log.Info().RawJSON("entry", data).Msg("AUDIT")
	}
}

// ReadFile records a file read.
func (l *Logger) ReadFile(userID, path string, success bool, linesRead int) {
	l.Log(Entry{
		UserID:    userID,
		Operation: OpReadFile,
		Target:    path,
		Result:    resultString(success),
		Details:   map[string]interface{}{"lines_read": linesRead},
	})
}

// EditFile records a file edit.
func (l *Logger) EditFile(userID, path string, success bool, editsApplied int) {
	l.Log(Entry{
		UserID:    userID,
		Operation: OpEditFile,
		Target:    path,
		Result:    resultString(success),
		Details:   map[string]interface{}{"edits_applied": editsApplied},
	})
}

// GetStructure records a structure query.
func (l *Logger) GetStructure(userID, path string, success bool) {
	if path == "" {
		path = "/"
	}
	l.Log(Entry{
		UserID:    userID,
		Operation: OpGetStructure,
		Target:    path,
		Result:    resultString(success),
	})
}

// Execute records a command execution.
func (l *Logger) Execute(userID, command string, success bool, exitCode int, durationMs int64) {
	l.Log(Entry{
		UserID:    userID,
		Operation: OpExecute,
		Target:    command,
		Result:    resultString(success),
		Details:   map[string]interface{}{"exit_code": exitCode, "duration_ms": durationMs},
	})
}

// Blocked records an operation refused before execution.
func (l *Logger) Blocked(userID string, op Op, target, reason, sensitivity string) {
	l.Log(Entry{
		UserID:      userID,
		Operation:   op,
		Target:      target,
		Result:      ResultBlocked,
		Details:     map[string]interface{}{"reason": reason},
		Sensitivity: sensitivity,
	})
}

func resultString(success bool) string {
	if success {
		return ResultSuccess
	}
	return ResultFailure
}
