// Package interceptor turns short chat replies into approval decisions.
// When a user has pending approvals, an affirmative or negative message
// resolves the oldest one instead of flowing on to the model.
package interceptor

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/wardenhq/warden/internal/approval"
)

var approvePatterns = compilePatterns([]string{
	`^yes$`, `^y$`, `^approve$`, `^approved$`, `^ok$`, `^okay$`,
	`^go ahead$`, `^do it$`, `^proceed$`, `^confirm$`, `^confirmed$`,
	`^allow$`, `^allowed$`, `^accept$`, `^accepted$`,
	`^yes,?\s*please$`, `^yes,?\s*go ahead$`,
})

var rejectPatterns = compilePatterns([]string{
	`^no$`, `^n$`, `^reject$`, `^rejected$`, `^deny$`, `^denied$`,
	`^cancel$`, `^cancelled$`, `^stop$`, `^abort$`, `^don'?t$`,
	`^no,?\s*thanks$`, `^no,?\s*don'?t$`, `^nevermind$`, `^never\s*mind$`,
})

func compilePatterns(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

func matchesAny(text string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// ApprovalQueue is the slice of the approval store the interceptor needs.
type ApprovalQueue interface {
	PendingForUser(ctx context.Context, userID string) ([]*approval.Request, error)
	Approve(ctx context.Context, id, approvedBy string) (bool, error)
	Reject(ctx context.Context, id, rejectedBy, reason string) (bool, error)
}

// Result is the outcome of an intercepted message.
type Result struct {
	Approved bool   `json:"approved"`
	Message  string `json:"message"`
}

// Interceptor matches chat messages against pending approvals.
type Interceptor struct {
	queue ApprovalQueue
}

// New creates an Interceptor over the given approval queue.
func New(queue ApprovalQueue) *Interceptor {
	return &Interceptor{queue: queue}
}

// CheckMessage decides whether message is an approval or rejection of the
// user's oldest pending request. Returns nil when the message is not an
// approval response or nothing is pending.
func (ic *Interceptor) CheckMessage(ctx context.Context, userID, message string) (*Result, error) {
	pending, err := ic.queue.PendingForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}

	text := strings.ToLower(strings.TrimSpace(message))
	isApprove := matchesAny(text, approvePatterns)
	isReject := matchesAny(text, rejectPatterns)
	if !isApprove && !isReject {
		return nil, nil
	}

	oldest := pending[0]

	if isApprove {
		ok, err := ic.queue.Approve(ctx, oldest.ID, userID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return &Result{Message: "Failed to process approval. The request may have expired."}, nil
		}
		log.Info().Str("user", userID).Str("id", oldest.ID).Msg("User approved operation via chat")
		return &Result{
			Approved: true,
			Message:  fmt.Sprintf("✓ Approved: %s\n\nExecuting operation...", oldest.Operation),
		}, nil
	}

	ok, err := ic.queue.Reject(ctx, oldest.ID, userID, "User rejected via chat")
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Result{Message: "Failed to process rejection. The request may have expired."}, nil
	}
	log.Info().Str("user", userID).Str("id", oldest.ID).Msg("User rejected operation via chat")
	return &Result{
		Approved: false,
		Message:  fmt.Sprintf("✗ Rejected: %s\n\nOperation cancelled.", oldest.Operation),
	}, nil
}

// FormatPendingPrompt renders the user's pending approvals for injection
// into the model's system context. Returns "" when nothing is pending.
func (ic *Interceptor) FormatPendingPrompt(ctx context.Context, userID string) (string, error) {
	pending, err := ic.queue.PendingForUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(pending) == 0 {
		return "", nil
	}

	lines := []string{"⚠️ PENDING APPROVAL REQUIRED:"}
	for _, req := range pending {
		lines = append(lines, fmt.Sprintf("\n• %s", req.Operation))
		if desc, ok := req.Details["description"].(string); ok && desc != "" {
			lines = append(lines, fmt.Sprintf("  Details: %s", desc))
		}
		lines = append(lines, fmt.Sprintf("  Sensitivity: %s", req.Sensitivity))
		lines = append(lines, fmt.Sprintf("  Expires: %s", req.ExpiresAt.Format("15:04:05")))
	}
	lines = append(lines, "\nRespond with 'yes' to approve or 'no' to reject.")

	return strings.Join(lines, "\n"), nil
}
