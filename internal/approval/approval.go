// Package approval implements the human-in-the-loop queue. Requests live in
// the KV store under a TTL, so an undecided request simply disappears; a
// decided request is re-persisted briefly so the waiting caller can observe
// the outcome before it too expires.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wardenhq/warden/internal/kv"
)

var (
	// ErrNotFound marks lookups whose request is absent or already expired.
	ErrNotFound = errors.New("approval request not found")
	// ErrAlreadyDecided marks decisions on requests that have left the
	// pending state.
	ErrAlreadyDecided = errors.New("approval already decided")
)

const (
	keyPrefix       = "hitl:approval:"
	userIndexPrefix = "hitl:user:"

	// residualTTL keeps a decided record around long enough for the
	// waiter's next poll.
	residualTTL = 60 * time.Second

	// indexTTLSlack keeps the per-user index alive slightly longer than
	// the requests it points at.
	indexTTLSlack = 60 * time.Second
)

// Status of an approval request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// Request is one queued approval. Details carries operation-specific fields
// plus decision metadata once resolved.
type Request struct {
	ID          string                 `json:"id"`
	UserID      string                 `json:"user_id"`
	Operation   string                 `json:"operation"`
	Details     map[string]interface{} `json:"details"`
	Sensitivity string                 `json:"sensitivity"`
	Status      Status                 `json:"status"`
	CreatedAt   time.Time              `json:"created_at"`
	ExpiresAt   time.Time              `json:"expires_at"`
}

// Notifier receives queue events for fan-out (e.g. to websocket clients).
// Events are "approval_requested" and "approval_resolved".
type Notifier func(event string, req Request)

// Store manages approval requests on top of the KV client.
type Store struct {
	kv         kv.Client
	defaultTTL time.Duration
	notify     Notifier
	nowFn      func() time.Time
}

// NewStore creates a Store. defaultTTL bounds how long a request waits for
// a human before it expires.
func NewStore(client kv.Client, defaultTTL time.Duration) *Store {
	return &Store{
		kv:         client,
		defaultTTL: defaultTTL,
		nowFn:      time.Now,
	}
}

// SetNotifier registers a callback invoked after queue and decision events.
func (s *Store) SetNotifier(fn Notifier) {
	s.notify = fn
}

// Queue creates a pending request with the given TTL (the store default
// when ttl <= 0) and indexes it under the user.
func (s *Store) Queue(ctx context.Context, userID, operation string, details map[string]interface{}, sensitivity string, ttl time.Duration) (*Request, error) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	if details == nil {
		details = map[string]interface{}{}
	}

	now := s.nowFn().UTC()
	req := &Request{
		ID:          uuid.NewString(),
		UserID:      userID,
		Operation:   operation,
		Details:     details,
		Sensitivity: sensitivity,
		Status:      StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Truncate(time.Second).Add(ttl),
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode approval request: %w", err)
	}
	if err := s.kv.SetEx(ctx, keyPrefix+req.ID, string(data), ttl); err != nil {
		return nil, fmt.Errorf("failed to persist approval request: %w", err)
	}

	userKey := userIndexPrefix + userID
	if err := s.kv.SAdd(ctx, userKey, req.ID); err != nil {
		return nil, fmt.Errorf("failed to index approval request: %w", err)
	}
	if err := s.kv.Expire(ctx, userKey, ttl+indexTTLSlack); err != nil {
		return nil, fmt.Errorf("failed to set user index TTL: %w", err)
	}

	log.Info().
		Str("id", req.ID).
		Str("user", userID).
		Str("operation", operation).
		Str("sensitivity", sensitivity).
		Msg("Queued approval request")

	if s.notify != nil {
		s.notify("approval_requested", *req)
	}
	return req, nil
}

// Get returns the current state of a request, or nil if it has expired or
// never existed.
func (s *Store) Get(ctx context.Context, id string) (*Request, error) {
	data, err := s.kv.Get(ctx, keyPrefix+id)
	if err == kv.ErrNil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch approval request: %w", err)
	}

	var req Request
	if err := json.Unmarshal([]byte(data), &req); err != nil {
		return nil, fmt.Errorf("failed to decode approval request: %w", err)
	}
	return &req, nil
}

// PendingForUser returns the user's pending requests, oldest first. IDs
// whose record has expired are removed from the index as a side effect.
func (s *Store) PendingForUser(ctx context.Context, userID string) ([]*Request, error) {
	userKey := userIndexPrefix + userID
	ids, err := s.kv.SMembers(ctx, userKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read user approval index: %w", err)
	}

	var pending []*Request
	var expired []string
	for _, id := range ids {
		req, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		switch {
		case req == nil:
			expired = append(expired, id)
		case req.Status == StatusPending:
			pending = append(pending, req)
		}
	}

	if len(expired) > 0 {
		if err := s.kv.SRem(ctx, userKey, expired...); err != nil {
			log.Warn().Err(err).Str("user", userID).Msg("Failed to prune expired approval IDs")
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		if pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].ID < pending[j].ID
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending, nil
}

// Approve marks a pending request approved. Returns false when the request
// is gone or already decided.
func (s *Store) Approve(ctx context.Context, id, approvedBy string) (bool, error) {
	req, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if req == nil || req.Status != StatusPending {
		return false, nil
	}

	req.Status = StatusApproved
	if req.Details == nil {
		req.Details = map[string]interface{}{}
	}
	if approvedBy != "" {
		req.Details["approved_by"] = approvedBy
	}
	req.Details["approved_at"] = s.nowFn().UTC().Format(time.RFC3339)

	if err := s.persistDecision(ctx, req); err != nil {
		return false, err
	}
	log.Info().Str("id", id).Msg("Approved request")
	if s.notify != nil {
		s.notify("approval_resolved", *req)
	}
	return true, nil
}

// Reject marks a pending request rejected with an optional reason. Returns
// false when the request is gone or already decided.
func (s *Store) Reject(ctx context.Context, id, rejectedBy, reason string) (bool, error) {
	req, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if req == nil || req.Status != StatusPending {
		return false, nil
	}

	req.Status = StatusRejected
	if req.Details == nil {
		req.Details = map[string]interface{}{}
	}
	if rejectedBy != "" {
		req.Details["rejected_by"] = rejectedBy
	}
	req.Details["rejected_at"] = s.nowFn().UTC().Format(time.RFC3339)
	if reason != "" {
		req.Details["rejection_reason"] = reason
	}

	if err := s.persistDecision(ctx, req); err != nil {
		return false, err
	}
	log.Info().Str("id", id).Str("reason", reason).Msg("Rejected request")
	if s.notify != nil {
		s.notify("approval_resolved", *req)
	}
	return true, nil
}

func (s *Store) persistDecision(ctx context.Context, req *Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode approval decision: %w", err)
	}
	if err := s.kv.SetEx(ctx, keyPrefix+req.ID, string(data), residualTTL); err != nil {
		return fmt.Errorf("failed to persist approval decision: %w", err)
	}
	return nil
}

// WaitForDecision polls the request until it is decided, it disappears
// (expired, returns nil), or maxWait elapses while still pending (returns
// the pending record unchanged). maxWait <= 0 waits until expiry.
func (s *Store) WaitForDecision(ctx context.Context, id string, pollInterval, maxWait time.Duration) (*Request, error) {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	var deadline time.Time
	if maxWait > 0 {
		deadline = s.nowFn().Add(maxWait)
	}

	for {
		req, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if req == nil {
			return nil, nil
		}
		if req.Status != StatusPending {
			return req, nil
		}
		if !deadline.IsZero() && !s.nowFn().Before(deadline) {
			return req, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
