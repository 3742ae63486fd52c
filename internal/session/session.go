package session

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidecast/tidecast/internal/proto"
)

// updateBuffer is the capacity of the outbound update channel to the host.
const updateBuffer = 64

// viewerBuffer is the capacity of each viewer's mirror-event channel. Viewers
// that fall behind have events dropped rather than blocking the host path.
const viewerBuffer = 256

// latencySmoothing is the weight of the newest sample in the rolling latency
// average, in percent.
const latencySmoothing = 20

// Shell is the mutable state of one terminal pane. It is owned by its Session
// and mutated only under the session mutex.
type Shell struct {
	// X, Y are the last-known screen-position hint for client rendering.
	X, Y int32
	// NextSeq is the sequence number expected from the next data chunk.
	// Chunks with any other sequence number are rejected.
	NextSeq uint64
	// scrollback retains recent output for late-joining viewers.
	scrollback *Scrollback
}

// Attachment represents one streaming connection currently consuming a
// session's update channel. Attaching a new connection evicts the previous
// one: its Evicted channel closes and its loop is expected to exit.
type Attachment struct {
	s       *Session
	evicted chan struct{}
}

// Evicted is closed when a newer connection attaches to the same session.
func (a *Attachment) Evicted() <-chan struct{} {
	return a.evicted
}

// Close releases the attachment if it is still the current one.
func (a *Attachment) Close() {
	a.s.mu.Lock()
	if a.s.attached == a {
		a.s.attached = nil
	}
	a.s.mu.Unlock()
}

// Session is the server-side aggregate of state shared by a terminal host and
// its viewers. It is shared by the registry entry and every connection task
// currently attached; the registry removes it, and the Go runtime reclaims it
// once the last handler drops its reference.
type Session struct {
	// ID is the externally visible session identifier.
	ID string

	metadata Metadata
	created  time.Time

	mu          sync.Mutex
	shells      map[proto.Sid]*Shell
	attached    *Attachment
	subscribers map[uint64]chan proto.ClientMessage
	nextSubID   uint64

	updates    chan proto.ServerMessage
	terminated chan struct{}
	termOnce   sync.Once

	lastAccess atomic.Int64 // epoch milliseconds
	latencyMs  atomic.Uint64
}

// New constructs a session with the given identifier and metadata.
func New(id string, metadata Metadata) *Session {
	s := &Session{
		ID:          id,
		metadata:    metadata,
		created:     time.Now(),
		shells:      make(map[proto.Sid]*Shell),
		subscribers: make(map[uint64]chan proto.ClientMessage),
		updates:     make(chan proto.ServerMessage, updateBuffer),
		terminated:  make(chan struct{}),
	}
	s.Access()
	return s
}

// Metadata returns the immutable owner description.
func (s *Session) Metadata() Metadata {
	return s.metadata
}

// CreatedAt returns when the session was opened.
func (s *Session) CreatedAt() time.Time {
	return s.created
}

// Access refreshes the last-access timestamp. Called on every inbound client
// message; the idle reaper watches this.
func (s *Session) Access() {
	s.lastAccess.Store(time.Now().UnixMilli())
}

// LastAccess returns the time of the most recent inbound client message.
func (s *Session) LastAccess() time.Time {
	return time.UnixMilli(s.lastAccess.Load())
}

// RecordLatency feeds one round-trip measurement (milliseconds) into the
// rolling latency average.
func (s *Session) RecordLatency(ms uint64) {
	prev := s.latencyMs.Load()
	if prev == 0 {
		s.latencyMs.Store(ms)
		return
	}
	s.latencyMs.Store((prev*(100-latencySmoothing) + ms*latencySmoothing) / 100)
}

// Latency returns the rolling round-trip latency in milliseconds.
func (s *Session) Latency() uint64 {
	return s.latencyMs.Load()
}

// AddShell registers a new shell with the given position hint. It fails if a
// shell with the same ID is already live.
func (s *Session) AddShell(id proto.Sid, x, y int32) error {
	s.mu.Lock()
	if _, ok := s.shells[id]; ok {
		s.mu.Unlock()
		return fmt.Errorf("shell %d already exists", id)
	}
	s.shells[id] = &Shell{X: x, Y: y, scrollback: NewScrollback(0)}
	s.mu.Unlock()

	s.mirror(proto.CreatedShell{ID: id, X: x, Y: y})
	return nil
}

// EnsureShell idempotently registers a shell with a placeholder position.
// Used on reconnection: an existing shell keeps its position hint unchanged.
// It reports whether the shell was created.
func (s *Session) EnsureShell(id proto.Sid) bool {
	s.mu.Lock()
	if _, ok := s.shells[id]; ok {
		s.mu.Unlock()
		return false
	}
	s.shells[id] = &Shell{scrollback: NewScrollback(0)}
	s.mu.Unlock()

	s.mirror(proto.CreatedShell{ID: id})
	return true
}

// CloseShell removes a shell.
func (s *Session) CloseShell(id proto.Sid) error {
	s.mu.Lock()
	if _, ok := s.shells[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("shell %d not found", id)
	}
	delete(s.shells, id)
	s.mu.Unlock()

	s.mirror(proto.ClosedShell(id))
	return nil
}

// AddData accepts one terminal output chunk for a shell. The chunk's sequence
// number must equal the shell's expected NextSeq; matching chunks advance the
// cursor by one and are mirrored to viewers, anything else is rejected
// without changing state (duplicates and reordered chunks are dropped, never
// buffered).
func (s *Session) AddData(id proto.Sid, data []byte, seq uint64) error {
	s.mu.Lock()
	shell, ok := s.shells[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("shell %d not found", id)
	}
	if seq != shell.NextSeq {
		expected := shell.NextSeq
		s.mu.Unlock()
		return fmt.Errorf("shell %d: out-of-order chunk seq=%d, expected %d", id, seq, expected)
	}
	shell.NextSeq++
	shell.scrollback.Write(data)
	s.mu.Unlock()

	s.mirror(proto.Data{ID: id, Seq: seq, Data: data})
	return nil
}

// SequenceNumbers returns the expected next sequence number for every live
// shell. Sent to the client periodically so it can detect gaps.
func (s *Session) SequenceNumbers() proto.Sync {
	s.mu.Lock()
	defer s.mu.Unlock()
	seqs := make(proto.Sync, len(s.shells))
	for id, shell := range s.shells {
		seqs[id] = shell.NextSeq
	}
	return seqs
}

// Shells returns a snapshot of the live shell IDs.
func (s *Session) Shells() []proto.Sid {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]proto.Sid, 0, len(s.shells))
	for id := range s.shells {
		ids = append(ids, id)
	}
	return ids
}

// ShellCenter returns the position hint of a shell.
func (s *Session) ShellCenter(id proto.Sid) (x, y int32, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	shell, ok := s.shells[id]
	if !ok {
		return 0, 0, false
	}
	return shell.X, shell.Y, true
}

// SendResize queues a resize instruction for the host. On reconnection this
// provokes the shell into repainting its full screen buffer.
func (s *Session) SendResize(id proto.Sid, rows, cols uint16) error {
	s.mu.Lock()
	_, ok := s.shells[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("shell %d not found", id)
	}
	return s.Broadcast(proto.Resize{ID: id, Rows: rows, Cols: cols})
}

// SendInput queues viewer keystrokes for the host.
func (s *Session) SendInput(id proto.Sid, data []byte) error {
	s.mu.Lock()
	_, ok := s.shells[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("shell %d not found", id)
	}
	return s.Broadcast(proto.Input{ID: id, Data: data})
}

// Broadcast queues a server message for the attached host connection. It
// fails when the session has terminated or the host is too far behind.
func (s *Session) Broadcast(msg proto.ServerMessage) error {
	select {
	case <-s.terminated:
		return fmt.Errorf("session %s is closed", s.ID)
	default:
	}
	select {
	case s.updates <- msg:
		return nil
	default:
		return fmt.Errorf("session %s: update buffer full", s.ID)
	}
}

// Updates returns the outbound update channel. Exactly one attached
// connection consumes it at a time.
func (s *Session) Updates() <-chan proto.ServerMessage {
	return s.updates
}

// Attach registers the calling connection as the session's update consumer,
// evicting any previously attached connection.
func (s *Session) Attach() *Attachment {
	a := &Attachment{s: s, evicted: make(chan struct{})}
	s.mu.Lock()
	prev := s.attached
	s.attached = a
	s.mu.Unlock()
	if prev != nil {
		close(prev.evicted)
	}
	return a
}

// Subscribe registers a viewer for mirrored client events. The returned
// cancel function must be called when the viewer disconnects.
func (s *Session) Subscribe() (<-chan proto.ClientMessage, func()) {
	ch := make(chan proto.ClientMessage, viewerBuffer)
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
	return ch, cancel
}

// SubscribeWithReplay registers a viewer and returns a replay of the current
// session state: one CreatedShell per live shell followed by its retained
// scrollback as a single coalesced Data event. Registration and the snapshot
// happen under the same lock, so the live channel carries exactly the events
// after the replay, with no gap and no duplication.
func (s *Session) SubscribeWithReplay() (replay []proto.ClientMessage, events <-chan proto.ClientMessage, cancel func()) {
	ch := make(chan proto.ClientMessage, viewerBuffer)
	s.mu.Lock()
	ids := make([]proto.Sid, 0, len(s.shells))
	for id := range s.shells {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		shell := s.shells[id]
		replay = append(replay, proto.CreatedShell{ID: id, X: shell.X, Y: shell.Y})
		if shell.scrollback.Len() > 0 {
			replay = append(replay, proto.Data{ID: id, Seq: shell.NextSeq, Data: shell.scrollback.Snapshot()})
		}
	}
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch
	s.mu.Unlock()

	cancel = func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
	return replay, ch, cancel
}

// mirror fans a client-originated event out to all subscribed viewers.
// Slow viewers lose events instead of stalling the host.
func (s *Session) mirror(event proto.ClientMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// Terminate fires the session's termination signal. It is level-triggered:
// every attached handler observes it and exits; late observers see it too.
func (s *Session) Terminate() {
	s.termOnce.Do(func() {
		close(s.terminated)
	})
}

// Terminated returns the termination signal channel.
func (s *Session) Terminated() <-chan struct{} {
	return s.terminated
}
