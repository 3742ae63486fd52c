package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tidecast/tidecast/internal/auth"
	"github.com/tidecast/tidecast/internal/config"
	"github.com/tidecast/tidecast/internal/logging"
)

type loginRequest struct {
	Password string `json:"password"`
}

// AdminLogin exchanges the operator password for a bearer token.
func AdminLogin(w http.ResponseWriter, r *http.Request) {
	if AdminTokens == nil || config.Cfg.AdminPasswordHash == "" {
		writeError(w, http.StatusServiceUnavailable, "Admin API disabled")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !auth.CheckPassword(req.Password, config.Cfg.AdminPasswordHash) {
		writeError(w, http.StatusUnauthorized, "Invalid password")
		return
	}

	token, err := AdminTokens.Issue()
	if err != nil {
		log.Printf("[handlers] admin token issue failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

type deviceResponse struct {
	ID          string `json:"id"`
	ElapsedSecs uint64 `json:"elapsed_secs"`
	Key         string `json:"key,omitempty"`
	Hostname    string `json:"hostname"`
	User        string `json:"user"`
	CPU         string `json:"cpu"`
	MemoryMB    uint64 `json:"memory_mb"`
	OSInfo      string `json:"os_info"`
	Shells      int    `json:"shells"`
	LatencyMs   uint64 `json:"latency_ms"`
}

// ListSessions returns every live session with its owner telemetry.
func ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := Registry.List()
	devices := make([]deviceResponse, len(sessions))
	now := time.Now()
	for i, sess := range sessions {
		md := sess.Metadata()
		devices[i] = deviceResponse{
			ID:          sess.ID,
			ElapsedSecs: uint64(now.Sub(sess.CreatedAt()).Seconds()),
			Key:         md.EncryptionKey,
			Hostname:    md.Hostname,
			User:        md.Name,
			CPU:         md.CPU,
			MemoryMB:    md.MemoryMB,
			OSInfo:      md.OSInfo,
			Shells:      len(sess.Shells()),
			LatencyMs:   sess.Latency(),
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"devices": devices})
}

// ForceCloseSession terminates a session without the owner token.
func ForceCloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if err := Registry.Shutdown(sessionID); err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	log.Printf("[handlers] admin closed session %s", sessionID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// ServerLogs returns the tail of the server log file.
func ServerLogs(w http.ResponseWriter, r *http.Request) {
	tail, err := logging.ReadTail(500)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": tail})
}

// ClearServerLogs truncates the server log file.
func ClearServerLogs(w http.ResponseWriter, r *http.Request) {
	if err := logging.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to clear logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// HealthCheck reports liveness and the current session count.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": Registry.Count(),
	})
}
