// Package api exposes the gateway over HTTP. Handlers are thin: decode,
// resolve the caller, invoke the gateway or a store, encode. Error bodies
// are {"detail": "..."} with the status selected from sentinel errors.
package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wardenhq/warden/internal/approval"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/gateway"
	"github.com/wardenhq/warden/internal/indexer"
	"github.com/wardenhq/warden/internal/interceptor"
	"github.com/wardenhq/warden/internal/usersettings"
	"github.com/wardenhq/warden/internal/websocket"
)

// Router handles HTTP routing.
type Router struct {
	mux         *http.ServeMux
	cfg         *config.Config
	gateway     *gateway.Adapter
	approvals   *approval.Store
	interceptor *interceptor.Interceptor
	indexer     *indexer.Indexer
	settings    *usersettings.Store
	wsHub       *websocket.Hub
}

// NewRouter creates a new router instance.
func NewRouter(cfg *config.Config, gw *gateway.Adapter, approvals *approval.Store, ic *interceptor.Interceptor, ix *indexer.Indexer, settings *usersettings.Store, wsHub *websocket.Hub) http.Handler {
	r := &Router{
		mux:         http.NewServeMux(),
		cfg:         cfg,
		gateway:     gw,
		approvals:   approvals,
		interceptor: ic,
		indexer:     ix,
		settings:    settings,
		wsHub:       wsHub,
	}

	r.setupRoutes()
	return r
}

// setupRoutes configures all routes.
func (r *Router) setupRoutes() {
	r.mux.HandleFunc("/health", r.handleHealth)

	// Gateway operations
	r.mux.HandleFunc("/structure", r.handleStructure)
	r.mux.HandleFunc("/read", r.handleRead)
	r.mux.HandleFunc("/edit", r.handleEdit)
	r.mux.HandleFunc("/execute", r.handleExecute)
	r.mux.HandleFunc("/index/refresh", r.handleIndexRefresh)

	// Approval management. The exact "/approvals/prompt" pattern takes
	// precedence over the "/approvals/" prefix match.
	r.mux.HandleFunc("/approvals", r.handleListApprovals)
	r.mux.HandleFunc("/approvals/prompt", r.handleApprovalPrompt)
	r.mux.HandleFunc("/approvals/", r.handleApprovalByID)
	r.mux.HandleFunc("/intercept", r.handleIntercept)

	// Per-user settings overlay
	r.mux.HandleFunc("/settings", r.handleSettings)

	// WebSocket endpoint
	r.mux.HandleFunc("/ws", r.wsHub.HandleWebSocket)
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// WebSocket upgrades need the raw connection.
	if req.Header.Get("Upgrade") == "websocket" {
		r.mux.ServeHTTP(w, req)
		return
	}

	r.addSecurityHeaders(w)

	rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Interface("error", rec).
				Str("path", req.URL.Path).
				Str("method", req.Method).
				Bytes("stack", debug.Stack()).
				Msg("Panic recovered in API handler")
			writeDetail(rw, http.StatusInternalServerError, "Internal server error")
		}
	}()

	r.mux.ServeHTTP(rw, req)

	if rw.statusCode >= 400 {
		log.Warn().
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("status", rw.statusCode).
			Msg("Request failed")
	}
	log.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Dur("duration", time.Since(start)).
		Msg("Request handled")
}

// addSecurityHeaders adds security headers to the response.
func (r *Router) addSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("X-XSS-Protection", "1; mode=block")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
}

// handleHealth handles health check requests.
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	info, err := os.Stat(r.cfg.WorkspaceRoot)
	exists := err == nil && info.IsDir()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "healthy",
		"workspace_root":   r.cfg.WorkspaceRoot,
		"workspace_exists": exists,
	})
}

// handleIndexRefresh forces a full rescan of the workspace tree.
func (r *Router) handleIndexRefresh(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if _, err := r.indexer.Refresh(); err != nil {
		log.Error().Err(err).Msg("Index refresh failed")
		writeDetail(w, http.StatusInternalServerError, "Index refresh failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Index refresh completed",
	})
}

// callerID resolves the requesting user from the X-User-ID header.
func callerID(req *http.Request) string {
	if id := strings.TrimSpace(req.Header.Get("X-User-ID")); id != "" {
		return id
	}
	return "default"
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeDetail writes an error body in the {"detail": ...} shape.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func decodeBody(req *http.Request, v interface{}) error {
	defer req.Body.Close()
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode request body: %w", err)
	}
	return nil
}

// responseWriter wraps http.ResponseWriter to capture status codes.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.ResponseWriter.WriteHeader(code)
		rw.written = true
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Hijack implements http.Hijacker for the websocket upgrade path.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("ResponseWriter does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

// Flush implements http.Flusher when the underlying writer supports it.
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
