// Package gateway drives the full pipeline for each caller operation:
// classify the request, obtain human approval when the sensitivity level
// demands it, invoke the filesystem or executor service, and record the
// outcome in the audit trail. Blocked requests never reach the services.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wardenhq/warden/internal/approval"
	"github.com/wardenhq/warden/internal/audit"
	"github.com/wardenhq/warden/internal/executor"
	"github.com/wardenhq/warden/internal/fsops"
	"github.com/wardenhq/warden/internal/metrics"
	"github.com/wardenhq/warden/internal/sensitivity"
	"github.com/wardenhq/warden/internal/usersettings"
	"github.com/wardenhq/warden/internal/workspace"
)

var (
	// ErrBlocked marks operations refused by the sensitivity classifier.
	ErrBlocked = errors.New("operation blocked")

	// ErrCancelled marks operations abandoned because the human rejected
	// them or never answered.
	ErrCancelled = errors.New("operation cancelled")
)

// approvalPollInterval is how often a waiting operation re-checks its
// approval request.
const approvalPollInterval = 2 * time.Second

// ApprovalQueue is the slice of the approval store the adapter drives.
type ApprovalQueue interface {
	Queue(ctx context.Context, userID, operation string, details map[string]interface{}, sensitivity string, ttl time.Duration) (*approval.Request, error)
	WaitForDecision(ctx context.Context, id string, pollInterval, maxWait time.Duration) (*approval.Request, error)
}

// AuditTrail records gateway decisions. *audit.Logger satisfies it.
type AuditTrail interface {
	Log(e audit.Entry)
	ReadFile(userID, path string, success bool, linesRead int)
	EditFile(userID, path string, success bool, editsApplied int)
	GetStructure(userID, path string, success bool)
	Execute(userID, command string, success bool, exitCode int, durationMs int64)
	Blocked(userID string, op audit.Op, target, reason, sensitivity string)
}

// SettingsSource returns the per-user overlay consulted on every request.
type SettingsSource interface {
	Get(ctx context.Context, userID string) usersettings.Settings
}

// Deps bundles the collaborators an Adapter needs.
type Deps struct {
	Validator   *workspace.Validator
	Classifier  *sensitivity.Classifier
	Files       *fsops.Service
	Runner      *executor.Runner
	Approvals   ApprovalQueue
	Audit       AuditTrail
	Settings    SettingsSource
	HITLTimeout time.Duration

	// PollInterval overrides how often the approval wait re-checks.
	// Zero means the default.
	PollInterval time.Duration
}

// Adapter orchestrates classify, approve, invoke, audit for one operation.
type Adapter struct {
	val          *workspace.Validator
	classifier   *sensitivity.Classifier
	files        *fsops.Service
	runner       *executor.Runner
	approvals    ApprovalQueue
	trail        AuditTrail
	settings     SettingsSource
	hitlTimeout  time.Duration
	pollInterval time.Duration
}

// New creates an Adapter from its collaborators.
func New(d Deps) *Adapter {
	poll := d.PollInterval
	if poll <= 0 {
		poll = approvalPollInterval
	}
	return &Adapter{
		val:          d.Validator,
		classifier:   d.Classifier,
		files:        d.Files,
		runner:       d.Runner,
		approvals:    d.Approvals,
		trail:        d.Audit,
		settings:     d.Settings,
		hitlTimeout:  d.HITLTimeout,
		pollInterval: poll,
	}
}

// Structure serves a directory view. Read-only, so it normally runs without
// approval; blocked patterns still apply.
func (a *Adapter) Structure(ctx context.Context, userID string, req fsops.StructureRequest) (*fsops.StructureResult, error) {
	st, files, _ := a.userServices(ctx, userID)

	d := a.classifier.ClassifyFileOp(sensitivity.OpGetStructure, req.Path)
	if d.Level == sensitivity.Blocked {
		a.refuse(userID, audit.OpGetStructure, req.Path, d)
		return nil, fmt.Errorf("%w: path matches blocked pattern: %s", ErrBlocked, req.Path)
	}
	if needsApproval(d.Level, st, "get_structure") {
		err := a.requireApproval(ctx, userID, audit.OpGetStructure, req.Path,
			fmt.Sprintf("Read structure: %s", displayPath(req.Path)),
			fmt.Sprintf("Depth: %d", req.Depth), d.Level)
		if err != nil {
			metrics.Get().RecordOperation("get_structure", "cancelled")
			return nil, err
		}
	}

	res, err := files.Structure(req)
	if err != nil {
		a.recordFailure(userID, audit.OpGetStructure, req.Path, err, func() {
			a.trail.GetStructure(userID, req.Path, false)
		})
		return nil, err
	}

	a.trail.GetStructure(userID, req.Path, true)
	metrics.Get().RecordOperation("get_structure", "success")
	return res, nil
}

// Read returns file content. Reads of configuration-like files are PROMPT
// level and go through the approval queue.
func (a *Adapter) Read(ctx context.Context, userID string, req fsops.ReadRequest) (*fsops.ReadResult, error) {
	st, files, _ := a.userServices(ctx, userID)

	d := a.classifier.ClassifyFileOp(sensitivity.OpReadFile, req.Path)
	if d.Level == sensitivity.Blocked {
		a.refuse(userID, audit.OpReadFile, req.Path, d)
		return nil, fmt.Errorf("%w: reading this file is blocked: %s", ErrBlocked, req.Path)
	}
	if needsApproval(d.Level, st, "read_file") {
		err := a.requireApproval(ctx, userID, audit.OpReadFile, req.Path,
			fmt.Sprintf("Read file: %s", req.Path), rangeDescription(req), d.Level)
		if err != nil {
			metrics.Get().RecordOperation("read_file", "cancelled")
			return nil, err
		}
	}

	res, err := files.Read(req)
	if err != nil {
		a.recordFailure(userID, audit.OpReadFile, req.Path, err, func() {
			a.trail.ReadFile(userID, req.Path, false, 0)
		})
		return nil, err
	}

	a.trail.ReadFile(userID, req.Path, true, res.LinesReturned)
	metrics.Get().RecordOperation("read_file", "success")
	return res, nil
}

// Edit applies an atomic batch of line edits. Edits are PROMPT by default,
// HIGH for configuration-like files.
func (a *Adapter) Edit(ctx context.Context, userID string, req fsops.EditRequest) (*fsops.EditResult, error) {
	st, files, _ := a.userServices(ctx, userID)

	d := a.classifier.ClassifyFileOp(sensitivity.OpEditFile, req.Path)
	if d.Level == sensitivity.Blocked {
		a.refuse(userID, audit.OpEditFile, req.Path, d)
		return nil, fmt.Errorf("%w: editing this file is blocked: %s", ErrBlocked, req.Path)
	}
	if needsApproval(d.Level, st, "edit_file") {
		err := a.requireApproval(ctx, userID, audit.OpEditFile, req.Path,
			fmt.Sprintf("Edit file: %s", req.Path),
			fmt.Sprintf("Edits: %d operations", len(req.Edits)), d.Level)
		if err != nil {
			metrics.Get().RecordOperation("edit_file", "cancelled")
			return nil, err
		}
	}

	res, err := files.Edit(req)
	if err != nil {
		a.recordFailure(userID, audit.OpEditFile, req.Path, err, func() {
			a.trail.EditFile(userID, req.Path, false, 0)
		})
		return nil, err
	}

	a.trail.EditFile(userID, req.Path, true, res.EditsApplied)
	metrics.Get().RecordOperation("edit_file", "success")
	return res, nil
}

// Execute runs a shell command. The classifier decides between immediate
// execution, the approval queue, and outright refusal.
func (a *Adapter) Execute(ctx context.Context, userID string, req executor.Request) (*executor.Result, error) {
	st, _, runner := a.userServices(ctx, userID)

	if strings.TrimSpace(req.Command) == "" {
		return nil, executor.ErrEmptyCommand
	}

	d := a.classifier.ClassifyCommand(req.Command)
	if d.Level == sensitivity.Blocked {
		a.refuse(userID, audit.OpExecute, req.Command, d)
		return nil, fmt.Errorf("%w: command blocked for security: %s", ErrBlocked, req.Command)
	}

	if req.TimeoutSec == 0 && st.DefaultTimeoutSec > 0 {
		req.TimeoutSec = st.DefaultTimeoutSec
	}

	if needsApproval(d.Level, st, "execute") {
		cwd := req.Cwd
		if cwd == "" {
			cwd = "workspace root"
		}
		err := a.requireApproval(ctx, userID, audit.OpExecute, req.Command,
			fmt.Sprintf("Execute command: %s", req.Command),
			fmt.Sprintf("Working directory: %s", cwd), d.Level)
		if err != nil {
			metrics.Get().RecordOperation("execute", "cancelled")
			return nil, err
		}
	}

	res, err := runner.Run(ctx, req)
	if err != nil {
		a.recordFailure(userID, audit.OpExecute, req.Command, err, func() {
			a.trail.Execute(userID, req.Command, false, -1, 0)
		})
		return nil, err
	}

	if res.TimedOut {
		metrics.Get().RecordCommandTimeout()
	}
	metrics.Get().ObserveCommandDuration(float64(res.DurationMs) / 1000)

	a.trail.Execute(userID, req.Command, res.Success, res.ExitCode, res.DurationMs)
	if res.Success {
		metrics.Get().RecordOperation("execute", "success")
	} else {
		metrics.Get().RecordOperation("execute", "failure")
	}
	return res, nil
}

// userServices applies the caller's settings overlay, returning services
// bound to a validator extended with any extra blocked patterns.
func (a *Adapter) userServices(ctx context.Context, userID string) (usersettings.Settings, *fsops.Service, *executor.Runner) {
	var st usersettings.Settings
	if a.settings != nil {
		st = a.settings.Get(ctx, userID)
	}
	files, runner := a.files, a.runner
	if len(st.ExtraBlockedPatterns) > 0 {
		val := a.val.WithUserPatterns(st.ExtraBlockedPatterns)
		files = files.WithValidator(val)
		runner = runner.WithValidator(val)
	}
	return st, files, runner
}

// requireApproval queues a request and blocks until the human decides or
// the HITL timeout lapses. Returns nil only on approval.
func (a *Adapter) requireApproval(ctx context.Context, userID string, op audit.Op, target, operation, description string, level sensitivity.Level) error {
	req, err := a.approvals.Queue(ctx, userID, operation, map[string]interface{}{
		"description": description,
		"sensitivity": level.String(),
	}, level.String(), a.hitlTimeout)
	if err != nil {
		return fmt.Errorf("failed to queue approval: %w", err)
	}

	metrics.Get().RecordApprovalRequest(level.String())
	a.trail.Log(audit.Entry{
		UserID:      userID,
		Operation:   audit.OpApprovalRequested,
		Target:      target,
		Result:      audit.ResultPending,
		Sensitivity: level.String(),
		ApprovalID:  req.ID,
	})
	log.Info().
		Str("approval_id", req.ID).
		Str("user", userID).
		Str("operation", operation).
		Msg("Waiting for approval")

	start := time.Now()
	decision, err := a.approvals.WaitForDecision(ctx, req.ID, a.pollInterval, a.hitlTimeout)
	metrics.Get().ObserveApprovalWait(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("failed to wait for approval: %w", err)
	}

	switch {
	case decision != nil && decision.Status == approval.StatusApproved:
		metrics.Get().RecordApprovalDecision(string(approval.StatusApproved))
		a.trail.Log(audit.Entry{
			UserID:      userID,
			Operation:   audit.OpApprovalGranted,
			Target:      target,
			Result:      audit.ResultSuccess,
			Sensitivity: level.String(),
			ApprovalID:  req.ID,
		})
		return nil

	case decision != nil && decision.Status == approval.StatusRejected:
		metrics.Get().RecordApprovalDecision(string(approval.StatusRejected))
		a.trail.Log(audit.Entry{
			UserID:      userID,
			Operation:   audit.OpApprovalDenied,
			Target:      target,
			Result:      audit.ResultBlocked,
			Details:     map[string]interface{}{"reason": "rejected"},
			Sensitivity: level.String(),
			ApprovalID:  req.ID,
		})
		return fmt.Errorf("%w: approval rejected", ErrCancelled)

	default:
		// Expired from the store, or still pending when the wait ran out.
		metrics.Get().RecordApprovalDecision(string(approval.StatusExpired))
		a.trail.Log(audit.Entry{
			UserID:      userID,
			Operation:   audit.OpApprovalExpired,
			Target:      target,
			Result:      audit.ResultBlocked,
			Details:     map[string]interface{}{"reason": "timeout"},
			Sensitivity: level.String(),
			ApprovalID:  req.ID,
		})
		return fmt.Errorf("%w: approval timed out", ErrCancelled)
	}
}

// refuse records a classification block. The services are never invoked.
func (a *Adapter) refuse(userID string, op audit.Op, target string, d sensitivity.Decision) {
	reason := "blocked pattern"
	if op == audit.OpExecute {
		reason = "blocked command"
	}
	metrics.Get().RecordOperation(string(op), "blocked")
	metrics.Get().RecordBlocked(strings.ReplaceAll(reason, " ", "_"))
	a.trail.Blocked(userID, op, target, reason, d.Level.String())
	log.Warn().
		Str("user", userID).
		Str("operation", string(op)).
		Str("target", target).
		Str("rule", d.Rule).
		Msg("Operation blocked")
}

// recordFailure audits a failed invocation. Validator refusals surface as
// input rejections: counted in metrics, never written to the trail, since
// the operation itself never ran.
func (a *Adapter) recordFailure(userID string, op audit.Op, target string, err error, onFailure func()) {
	switch {
	case errors.Is(err, workspace.ErrBlocked):
		metrics.Get().RecordOperation(string(op), "blocked")
		metrics.Get().RecordBlocked("blocked_pattern")
		log.Warn().
			Str("user", userID).
			Str("operation", string(op)).
			Str("target", target).
			Msg("Path rejected by blocklist")
	case errors.Is(err, workspace.ErrEscapesWorkspace):
		metrics.Get().RecordOperation(string(op), "blocked")
		metrics.Get().RecordBlocked("workspace_escape")
		log.Warn().
			Str("user", userID).
			Str("operation", string(op)).
			Str("target", target).
			Msg("Path escapes workspace")
	default:
		metrics.Get().RecordOperation(string(op), "failure")
		onFailure()
	}
}

// needsApproval decides whether a classified level goes through the queue.
// HIGH always queues; PROMPT may be standing-approved per user; AUTO and
// BLOCKED never reach this point with a queue in their future.
func needsApproval(level sensitivity.Level, st usersettings.Settings, op string) bool {
	switch level {
	case sensitivity.High:
		return true
	case sensitivity.Prompt:
		return !st.AutoApproves(op)
	default:
		return false
	}
}

func displayPath(path string) string {
	if path == "" {
		return "/"
	}
	return path
}

func rangeDescription(req fsops.ReadRequest) string {
	if req.LineStart > 0 || req.LineEnd > 0 {
		return fmt.Sprintf("Lines: %d-%d", req.LineStart, req.LineEnd)
	}
	return "Full file"
}
