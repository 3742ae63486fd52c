package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/tidecast/tidecast/internal/auth"
	"github.com/tidecast/tidecast/internal/registry"
)

// Registry is set from main.go during init.
var Registry *registry.Registry

// AdminTokens is set from main.go during init. The admin API is disabled
// while it is nil.
var AdminTokens *auth.TokenIssuer

type openRequest struct {
	Origin            string `json:"origin"`
	Name              string `json:"name"`
	WritePasswordHash string `json:"writePasswordHash"`
	EncryptedZeros    []byte `json:"encryptedZeros"`
}

type openResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
	Token     string `json:"token"`
}

// OpenSession creates a session and returns its identifier, URL and owner
// token.
func OpenSession(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := Registry.Open(req.Origin, req.Name, req.WritePasswordHash, req.EncryptedZeros)
	switch {
	case errors.Is(err, registry.ErrOriginEmpty):
		writeError(w, http.StatusBadRequest, "Origin is empty")
		return
	case errors.Is(err, registry.ErrSessionExists):
		writeError(w, http.StatusConflict, "Session ID already exists")
		return
	case err != nil:
		log.Printf("[handlers] open session failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to open session")
		return
	}

	writeJSON(w, http.StatusOK, openResponse{
		SessionID: result.SessionID,
		URL:       result.URL,
		Token:     result.Token,
	})
}

type closeRequest struct {
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
}

// CloseSession lets the owner terminate a session explicitly.
func CloseSession(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err := Registry.Close(req.SessionID, req.Token)
	switch {
	case errors.Is(err, registry.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "Invalid token")
		return
	case err != nil:
		log.Printf("[handlers] close session %s failed: %v", req.SessionID, err)
		writeError(w, http.StatusInternalServerError, "Failed to close session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}
