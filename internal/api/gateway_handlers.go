package api

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/wardenhq/warden/internal/executor"
	"github.com/wardenhq/warden/internal/fsops"
	"github.com/wardenhq/warden/internal/gateway"
	"github.com/wardenhq/warden/internal/workspace"
)

// handleStructure serves directory listings from the tree index.
func (r *Router) handleStructure(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var body fsops.StructureRequest
	if err := decodeBody(req, &body); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := r.gateway.Structure(req.Context(), callerID(req), body)
	if err != nil {
		status, detail := statusForError(err)
		writeDetail(w, status, detail)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleRead serves file content within an optional line range.
func (r *Router) handleRead(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var body fsops.ReadRequest
	if err := decodeBody(req, &body); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Path == "" {
		writeDetail(w, http.StatusBadRequest, "path is required")
		return
	}

	res, err := r.gateway.Read(req.Context(), callerID(req), body)
	if err != nil {
		status, detail := statusForError(err)
		writeDetail(w, status, detail)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleEdit applies a batch of line edits to one file.
func (r *Router) handleEdit(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var body fsops.EditRequest
	if err := decodeBody(req, &body); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Path == "" {
		writeDetail(w, http.StatusBadRequest, "path is required")
		return
	}
	if len(body.Edits) == 0 {
		writeDetail(w, http.StatusBadRequest, "edits array is required")
		return
	}

	res, err := r.gateway.Edit(req.Context(), callerID(req), body)
	if err != nil {
		status, detail := statusForError(err)
		writeDetail(w, status, detail)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleExecute runs a shell command inside the workspace.
func (r *Router) handleExecute(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var body executor.Request
	if err := decodeBody(req, &body); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := r.gateway.Execute(req.Context(), callerID(req), body)
	if err != nil {
		status, detail := statusForError(err)
		writeDetail(w, status, detail)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// statusForError translates gateway errors into HTTP status codes. Sentinel
// errors keep their message as the detail; anything unclassified is logged
// and hidden behind a generic 500.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, gateway.ErrBlocked),
		errors.Is(err, workspace.ErrEscapesWorkspace),
		errors.Is(err, workspace.ErrBlocked):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, gateway.ErrCancelled):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, fsops.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, fsops.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, fsops.ErrIsDirectory),
		errors.Is(err, fsops.ErrInvalidRange),
		errors.Is(err, fsops.ErrInvalidEdit),
		errors.Is(err, executor.ErrEmptyCommand):
		return http.StatusBadRequest, err.Error()
	default:
		log.Error().Err(err).Msg("Gateway operation failed")
		return http.StatusInternalServerError, "Internal server error"
	}
}
