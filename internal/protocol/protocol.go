// Package protocol runs the per-connection session protocol: the Hello
// handshake, shell recovery, and the multiplexed streaming loop between one
// host client and its session.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidecast/tidecast/internal/logutil"
	"github.com/tidecast/tidecast/internal/proto"
	"github.com/tidecast/tidecast/internal/session"
)

// SyncInterval is how often the server pushes sequence numbers to the client.
const SyncInterval = 5 * time.Second

// PingInterval is how often the server measures client latency.
const PingInterval = 2 * time.Second

// Window size sent with the forced resize on reconnection. The value only
// needs to differ from whatever the shell currently has so that the host
// repaints its full screen buffer.
const (
	recoverRows = 24
	recoverCols = 80
)

var (
	// ErrMissingFirstMessage means the stream ended before any message.
	ErrMissingFirstMessage = errors.New("missing first message")
	// ErrInvalidFirstMessage means the first message was not a Hello.
	ErrInvalidFirstMessage = errors.New("invalid first message")
	// ErrMissingCredentials means the Hello payload had no name,token pair.
	ErrMissingCredentials = errors.New("missing name and token")
	// ErrUnauthenticated means token verification failed.
	ErrUnauthenticated = errors.New("invalid token")
	// ErrSessionNotFound means the named session does not exist.
	ErrSessionNotFound = errors.New("session not found")
)

// Stream is one bidirectional message stream to a host client. Recv blocks
// until a message arrives or the stream ends.
type Stream interface {
	Recv() (proto.ClientMessage, error)
	Send(proto.ServerMessage) error
}

// Backend resolves sessions and verifies credentials for the handler. The
// session registry satisfies it; tests substitute fakes.
type Backend interface {
	Connect(ctx context.Context, name string) (*session.Session, error)
	VerifyToken(name, token string) bool
}

// Handler coordinates one client connection. A zero interval field falls back
// to the package default; tests shorten them.
type Handler struct {
	backend      Backend
	SyncInterval time.Duration
	PingInterval time.Duration
}

// NewHandler creates a handler with default timer intervals.
func NewHandler(backend Backend) *Handler {
	return &Handler{
		backend:      backend,
		SyncInterval: SyncInterval,
		PingInterval: PingInterval,
	}
}

// Serve drives a connection from handshake to close. It returns nil when the
// client hangs up or the session is terminated, and an error for handshake
// failures or a dead outbound stream.
func (h *Handler) Serve(ctx context.Context, stream Stream) error {
	first, err := stream.Recv()
	if err != nil {
		return ErrMissingFirstMessage
	}
	hello, ok := first.(proto.Hello)
	if !ok {
		return ErrInvalidFirstMessage
	}

	creds, recoverIDs, _ := strings.Cut(string(hello), ";")
	name, token, found := strings.Cut(creds, ",")
	if !found {
		return ErrMissingCredentials
	}
	if !h.backend.VerifyToken(name, token) {
		return ErrUnauthenticated
	}

	sess, err := h.backend.Connect(ctx, name)
	if err != nil {
		return fmt.Errorf("connect to backend session: %w", err)
	}
	if sess == nil {
		return ErrSessionNotFound
	}

	connID := uuid.New().String()
	log.Printf("[protocol] conn %s attached to session %s", connID, sess.ID)

	h.recoverShells(sess, recoverIDs)

	att := sess.Attach()
	defer att.Close()

	err = h.stream(ctx, stream, sess, att)
	log.Printf("[protocol] conn %s detached from session %s", connID, sess.ID)
	return err
}

// recoverShells re-registers the shells a reconnecting client already knows
// about. Existing shells keep their position hint; missing ones are created
// with a placeholder. Each listed shell gets one forced resize so the host
// repaints it; an individual resize failure is logged and does not abort the
// recovery of the remaining shells.
func (h *Handler) recoverShells(sess *session.Session, ids string) {
	if ids == "" {
		return
	}
	for _, raw := range strings.Split(ids, ",") {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			continue
		}
		sid := proto.Sid(id)
		sess.EnsureShell(sid)
		if err := sess.SendResize(sid, recoverRows, recoverCols); err != nil {
			log.Printf("[protocol] session %s: force resize of shell %d failed: %v", sess.ID, sid, err)
		}
	}
}

type inbound struct {
	msg proto.ClientMessage
	err error
}

// stream runs the attached-state loop: a single select over the sync timer,
// the ping timer, the session's buffered updates, inbound client messages,
// the session termination signal and eviction by a newer attachment.
// First-ready wins; there is no priority among the sources.
func (h *Handler) stream(ctx context.Context, stream Stream, sess *session.Session, att *session.Attachment) error {
	syncTicker := time.NewTicker(h.SyncInterval)
	defer syncTicker.Stop()
	pingTicker := time.NewTicker(h.PingInterval)
	defer pingTicker.Stop()

	done := make(chan struct{})
	defer close(done)
	in := make(chan inbound)
	go func() {
		for {
			msg, err := stream.Recv()
			select {
			case in <- inbound{msg, err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-syncTicker.C:
			if err := stream.Send(sess.SequenceNumbers()); err != nil {
				return fmt.Errorf("send sync message: %w", err)
			}
		case <-pingTicker.C:
			// Latency probes are best-effort.
			_ = stream.Send(proto.Ping(nowMs()))
		case msg := <-sess.Updates():
			if err := stream.Send(msg); err != nil {
				return fmt.Errorf("send update message: %w", err)
			}
		case recv := <-in:
			if recv.err != nil {
				// The client has hung up on their end.
				return nil
			}
			if err := h.dispatch(stream, sess, recv.msg); err != nil {
				return err
			}
		case <-sess.Terminated():
			_ = stream.Send(proto.ServerError("disconnecting because session is closed"))
			return nil
		case <-att.Evicted():
			_ = stream.Send(proto.ServerError("disconnecting because another client attached"))
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// dispatch handles a single inbound message. Domain failures are answered
// with an in-band error and keep the connection open; only a failure to
// deliver that reply is fatal.
func (h *Handler) dispatch(stream Stream, sess *session.Session, msg proto.ClientMessage) error {
	sess.Access()
	switch m := msg.(type) {
	case proto.Hello:
		return sendErr(stream, "unexpected hello")
	case proto.Data:
		if err := sess.AddData(m.ID, m.Data, m.Seq); err != nil {
			return sendErr(stream, fmt.Sprintf("add data: %v", err))
		}
	case proto.CreatedShell:
		if err := sess.AddShell(m.ID, m.X, m.Y); err != nil {
			return sendErr(stream, fmt.Sprintf("add shell: %v", err))
		}
	case proto.ClosedShell:
		if err := sess.CloseShell(proto.Sid(m)); err != nil {
			return sendErr(stream, fmt.Sprintf("close shell: %v", err))
		}
	case proto.Pong:
		// Clamp to zero under clock skew; latency is never negative.
		var latency uint64
		if now := nowMs(); now > uint64(m) {
			latency = now - uint64(m)
		}
		sess.RecordLatency(latency)
	case proto.ClientError:
		log.Printf("[protocol] session %s: client error: %s", sess.ID, logutil.Sanitize(string(m)))
	case proto.Heartbeat:
		// Keep-alive only.
	}
	return nil
}

func sendErr(stream Stream, text string) error {
	if err := stream.Send(proto.ServerError(text)); err != nil {
		return fmt.Errorf("send error reply: %w", err)
	}
	return nil
}

func nowMs() uint64 {
	return uint64(time.Now().UnixMilli())
}
