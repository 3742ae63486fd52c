// Package registry is the process-wide directory of live sessions. It owns
// the shared secret used to mint and verify session tokens. The registry is
// constructed explicitly and injected into whatever needs it, so tests can
// build an isolated registry per test case.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/tidecast/tidecast/internal/logutil"
	"github.com/tidecast/tidecast/internal/session"
)

// SessionIDLength is the length of generated session identifiers.
const SessionIDLength = 10

var (
	// ErrOriginEmpty is returned by Open when no origin is available.
	ErrOriginEmpty = errors.New("origin is empty")
	// ErrSessionExists is returned by Open or Insert on an identifier collision.
	ErrSessionExists = errors.New("session ID already exists")
	// ErrInvalidToken is returned when token verification fails.
	ErrInvalidToken = errors.New("invalid token")
	// ErrSessionNotFound is returned for operations on an unknown session.
	ErrSessionNotFound = errors.New("session not found")
)

// Registry maps session identifiers to live sessions.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*session.Session

	secret         []byte
	overrideOrigin string
}

// New creates an empty registry. secret is the MAC key for session tokens;
// overrideOrigin, when non-empty, takes precedence over any client-presented
// origin when composing session URLs.
func New(secret []byte, overrideOrigin string) *Registry {
	return &Registry{
		sessions:       make(map[string]*session.Session),
		secret:         secret,
		overrideOrigin: overrideOrigin,
	}
}

// OpenResult is the reply to a successful Open.
type OpenResult struct {
	SessionID string
	URL       string
	Token     string
}

// Open creates a session and returns its identifier, URL and token.
//
// A name starting with the reconnection marker reuses the embedded old
// identifier so the protocol treats the new session as a continuation of the
// same logical session; otherwise a fresh random identifier is generated.
// An identifier already mapped to a live session is a hard conflict, not a
// merge: reconnecting clients race the closing of their old session against
// this check.
func (r *Registry) Open(origin, rawName, writePasswordHash string, encryptedZeros []byte) (OpenResult, error) {
	if r.overrideOrigin != "" {
		origin = r.overrideOrigin
	}
	if origin == "" {
		return OpenResult{}, ErrOriginEmpty
	}

	sessionID, name, reconnect := session.SplitReconnect(rawName)
	if !reconnect {
		sessionID = session.RandomID(SessionIDLength)
		name = rawName
	}

	metadata := session.ParseMetadata(name, writePasswordHash, encryptedZeros)
	sess := session.New(sessionID, metadata)
	if err := r.Insert(sessionID, sess); err != nil {
		return OpenResult{}, err
	}

	url := fmt.Sprintf("%s/s/%s", origin, sessionID)
	if metadata.EncryptionKey != "" {
		log.Printf("[registry] new connection: %s -> %s#%s", logutil.Sanitize(metadata.Name), url, logutil.Sanitize(metadata.EncryptionKey))
	} else {
		log.Printf("[registry] new connection: %s -> %s", logutil.Sanitize(metadata.Name), url)
	}

	return OpenResult{
		SessionID: sessionID,
		URL:       url,
		Token:     MintToken(r.secret, sessionID),
	}, nil
}

// Insert reserves an identifier for a session. The existence check and the
// insertion happen under one critical section, so concurrent opens for the
// same identifier cannot both succeed.
func (r *Registry) Insert(id string, sess *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		return fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	r.sessions[id] = sess
	return nil
}

// Lookup returns the session for an identifier, or nil.
func (r *Registry) Lookup(id string) *session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// Connect resolves the session a streaming connection should attach to.
// The context is accepted so that a backing store can be consulted here
// without changing callers; the in-memory registry never fails.
func (r *Registry) Connect(ctx context.Context, id string) (*session.Session, error) {
	_ = ctx
	return r.Lookup(id), nil
}

// Remove deletes a session entry. It reports whether the entry existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// List returns all live sessions sorted by identifier.
func (r *Registry) List() []*session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*session.Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// VerifyToken checks a client credential for the named session.
func (r *Registry) VerifyToken(name, token string) bool {
	return VerifyToken(r.secret, name, token)
}

// Close verifies the owner token, terminates the session and removes it.
func (r *Registry) Close(id, token string) error {
	if !VerifyToken(r.secret, id, token) {
		return ErrInvalidToken
	}
	log.Printf("[registry] closing session %s", id)
	return r.Shutdown(id)
}

// Shutdown terminates and removes a session without a token check. Used by
// Close after verification and by the admin API.
func (r *Registry) Shutdown(id string) error {
	sess := r.Lookup(id)
	if sess == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess.Terminate()
	if !r.Remove(id) {
		return fmt.Errorf("session %s already removed", id)
	}
	return nil
}

// ReapIdle terminates and removes sessions whose last access is older than
// maxIdle. It returns how many sessions were reaped.
func (r *Registry) ReapIdle(maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-maxIdle)

	r.mu.Lock()
	var idle []*session.Session
	for _, sess := range r.sessions {
		if sess.LastAccess().Before(cutoff) {
			idle = append(idle, sess)
		}
	}
	for _, sess := range idle {
		delete(r.sessions, sess.ID)
	}
	r.mu.Unlock()

	for _, sess := range idle {
		sess.Terminate()
		log.Printf("[registry] reaped idle session %s (last access %s)",
			sess.ID, sess.LastAccess().Format(time.RFC3339))
	}
	return len(idle)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
