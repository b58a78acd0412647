package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/wardenhq/warden/internal/approval"
)

// errNotOwner marks approval access by a user other than the requester.
var errNotOwner = errors.New("not authorized for this approval")

type approvalActionRequest struct {
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
}

// handleListApprovals returns the caller's pending approval requests.
func (r *Router) handleListApprovals(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	pending, err := r.approvals.PendingForUser(req.Context(), callerID(req))
	if err != nil {
		log.Error().Err(err).Msg("Failed to list pending approvals")
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if pending == nil {
		pending = []*approval.Request{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"approvals": pending,
		"count":     len(pending),
	})
}

// handleApprovalByID dispatches GET and PATCH for a single approval.
func (r *Router) handleApprovalByID(w http.ResponseWriter, req *http.Request) {
	id := strings.TrimPrefix(req.URL.Path, "/approvals/")
	if id == "" || strings.Contains(id, "/") {
		writeDetail(w, http.StatusNotFound, "Approval request not found or expired")
		return
	}

	switch req.Method {
	case http.MethodGet:
		r.getApproval(w, req, id)
	case http.MethodPatch:
		r.updateApproval(w, req, id)
	default:
		writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (r *Router) getApproval(w http.ResponseWriter, req *http.Request, id string) {
	rec, err := r.fetchOwned(req.Context(), id, callerID(req))
	if err != nil {
		r.writeApprovalError(w, err, "view")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    rec,
	})
}

// updateApproval approves or rejects a pending request. Only the user who
// initiated the request can decide it.
func (r *Router) updateApproval(w http.ResponseWriter, req *http.Request, id string) {
	var body approvalActionRequest
	if err := decodeBody(req, &body); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Action != "approve" && body.Action != "reject" {
		writeDetail(w, http.StatusBadRequest, "action must be approve or reject")
		return
	}

	userID := callerID(req)
	rec, err := r.fetchPending(req.Context(), id, userID)
	if errors.Is(err, approval.ErrAlreadyDecided) {
		writeDetail(w, http.StatusConflict, fmt.Sprintf("Approval already processed: %s", rec.Status))
		return
	}
	if err != nil {
		r.writeApprovalError(w, err, "modify")
		return
	}

	var ok bool
	var status approval.Status
	var message string
	if body.Action == "approve" {
		ok, err = r.approvals.Approve(req.Context(), id, userID)
		status = approval.StatusApproved
		message = "Operation approved"
	} else {
		ok, err = r.approvals.Reject(req.Context(), id, userID, body.Reason)
		status = approval.StatusRejected
		message = "Operation rejected"
		if body.Reason != "" {
			message = "Operation rejected: " + body.Reason
		}
	}
	if err != nil {
		log.Error().Err(err).Str("id", id).Msg("Failed to update approval")
		writeDetail(w, http.StatusInternalServerError, "Failed to update approval status")
		return
	}
	if !ok {
		// Decided or expired between fetch and update.
		writeDetail(w, http.StatusConflict, "Approval already processed")
		return
	}

	log.Info().Str("user", userID).Str("id", id).Str("action", body.Action).Msg("Approval updated")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"approval_id": id,
		"status":      status,
		"message":     message,
	})
}

// fetchOwned loads an approval and checks caller ownership.
func (r *Router) fetchOwned(ctx context.Context, id, userID string) (*approval.Request, error) {
	rec, err := r.approvals.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", approval.ErrNotFound, id)
	}
	if rec.UserID != userID {
		return nil, errNotOwner
	}
	return rec, nil
}

// fetchPending loads an owned approval that must still be pending. On
// ErrAlreadyDecided the record is returned alongside the error so callers
// can report its terminal status.
func (r *Router) fetchPending(ctx context.Context, id, userID string) (*approval.Request, error) {
	rec, err := r.fetchOwned(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if rec.Status != approval.StatusPending {
		return rec, approval.ErrAlreadyDecided
	}
	return rec, nil
}

func (r *Router) writeApprovalError(w http.ResponseWriter, err error, verb string) {
	switch {
	case errors.Is(err, approval.ErrNotFound):
		writeDetail(w, http.StatusNotFound, "Approval request not found or expired")
	case errors.Is(err, errNotOwner):
		writeDetail(w, http.StatusForbidden, "Not authorized to "+verb+" this approval")
	default:
		log.Error().Err(err).Msg("Approval lookup failed")
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
	}
}

type interceptRequest struct {
	UserID  string `json:"user_id,omitempty"`
	Message string `json:"message"`
}

// handleIntercept checks whether a chat message decides the caller's oldest
// pending approval.
func (r *Router) handleIntercept(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var body interceptRequest
	if err := decodeBody(req, &body); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Message == "" {
		writeDetail(w, http.StatusBadRequest, "message is required")
		return
	}

	userID := body.UserID
	if userID == "" {
		userID = callerID(req)
	}

	res, err := r.interceptor.CheckMessage(req.Context(), userID, body.Message)
	if err != nil {
		log.Error().Err(err).Str("user", userID).Msg("Intercept check failed")
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if res == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"intercepted": false})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"intercepted": true,
		"approved":    res.Approved,
		"message":     res.Message,
	})
}

// handleApprovalPrompt renders the caller's pending approvals as a system
// prompt fragment. The prompt is empty when nothing is pending.
func (r *Router) handleApprovalPrompt(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	prompt, err := r.interceptor.FormatPendingPrompt(req.Context(), callerID(req))
	if err != nil {
		log.Error().Err(err).Msg("Failed to format pending prompt")
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"prompt": prompt})
}
