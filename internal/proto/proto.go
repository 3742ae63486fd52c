// Package proto defines the wire messages exchanged over a session channel.
//
// Messages are kind-tagged unions: each direction has a sealed interface with
// one implementing type per message kind, and a JSON envelope with exactly one
// field set. Dispatch sites use exhaustive type switches so that adding a new
// kind is a compile-visible change everywhere it is handled.
package proto

import (
	"encoding/json"
	"fmt"
)

// Sid identifies one shell (terminal pane) within a session.
type Sid uint32

// ClientMessage is the closed set of messages a host client may send.
type ClientMessage interface {
	isClientMessage()
}

// Hello is the mandatory first message on a channel. Its payload is
// "<name>,<token>" optionally followed by ";<id1>,<id2>,..." listing shells
// the client wants to recover from a previous connection.
type Hello string

// Data carries one terminal output chunk for a shell.
type Data struct {
	ID   Sid    `json:"id"`
	Seq  uint64 `json:"seq"`
	Data []byte `json:"data"`
}

// CreatedShell announces a new shell and its screen-position hint.
type CreatedShell struct {
	ID Sid   `json:"id"`
	X  int32 `json:"x"`
	Y  int32 `json:"y"`
}

// ClosedShell announces that a shell has exited.
type ClosedShell Sid

// Pong echoes a server Ping timestamp (epoch milliseconds).
type Pong uint64

// ClientError reports a client-side failure. Logged only.
type ClientError string

// Heartbeat is the empty keep-alive message.
type Heartbeat struct{}

func (Hello) isClientMessage()        {}
func (Data) isClientMessage()         {}
func (CreatedShell) isClientMessage() {}
func (ClosedShell) isClientMessage()  {}
func (Pong) isClientMessage()         {}
func (ClientError) isClientMessage()  {}
func (Heartbeat) isClientMessage()    {}

// ServerMessage is the closed set of messages the server sends to the host.
type ServerMessage interface {
	isServerMessage()
}

// Sync carries the expected next sequence number for every live shell,
// letting the client detect gaps and retransmit.
type Sync map[Sid]uint64

// Ping carries the server's current epoch-millisecond timestamp.
type Ping uint64

// ServerError is an in-band error notice. It does not close the channel.
type ServerError string

// Input forwards viewer keystrokes to a shell on the host.
type Input struct {
	ID   Sid    `json:"id"`
	Data []byte `json:"data"`
}

// Resize asks the host to resize a shell's window. Also used on reconnect to
// provoke a full repaint.
type Resize struct {
	ID   Sid    `json:"id"`
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}

func (Sync) isServerMessage()        {}
func (Ping) isServerMessage()        {}
func (ServerError) isServerMessage() {}
func (Input) isServerMessage()       {}
func (Resize) isServerMessage()      {}

// ViewerMessage is the closed set of messages a viewer may send on a watch
// stream. Both kinds are forwarded to the host through the session's update
// channel.
type ViewerMessage interface {
	isViewerMessage()
}

func (Input) isViewerMessage()  {}
func (Resize) isViewerMessage() {}

type clientEnvelope struct {
	Hello        *string       `json:"hello,omitempty"`
	Data         *Data         `json:"data,omitempty"`
	CreatedShell *CreatedShell `json:"createdShell,omitempty"`
	ClosedShell  *uint32       `json:"closedShell,omitempty"`
	Pong         *uint64       `json:"pong,omitempty"`
	Error        *string       `json:"error,omitempty"`
}

type serverEnvelope struct {
	Sync   map[string]uint64 `json:"sync,omitempty"`
	Ping   *uint64           `json:"ping,omitempty"`
	Error  *string           `json:"error,omitempty"`
	Input  *Input            `json:"input,omitempty"`
	Resize *Resize           `json:"resize,omitempty"`
}

// EncodeClient marshals a client message into its JSON envelope.
func EncodeClient(msg ClientMessage) ([]byte, error) {
	var env clientEnvelope
	switch m := msg.(type) {
	case Hello:
		s := string(m)
		env.Hello = &s
	case Data:
		env.Data = &m
	case CreatedShell:
		env.CreatedShell = &m
	case ClosedShell:
		id := uint32(m)
		env.ClosedShell = &id
	case Pong:
		ts := uint64(m)
		env.Pong = &ts
	case ClientError:
		s := string(m)
		env.Error = &s
	case Heartbeat:
		// Empty envelope.
	default:
		return nil, fmt.Errorf("unknown client message %T", msg)
	}
	return json.Marshal(env)
}

// DecodeClient parses a JSON envelope into a client message. An envelope with
// no recognized field set decodes as a Heartbeat.
func DecodeClient(b []byte) (ClientMessage, error) {
	var env clientEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode client message: %w", err)
	}
	switch {
	case env.Hello != nil:
		return Hello(*env.Hello), nil
	case env.Data != nil:
		return *env.Data, nil
	case env.CreatedShell != nil:
		return *env.CreatedShell, nil
	case env.ClosedShell != nil:
		return ClosedShell(*env.ClosedShell), nil
	case env.Pong != nil:
		return Pong(*env.Pong), nil
	case env.Error != nil:
		return ClientError(*env.Error), nil
	}
	return Heartbeat{}, nil
}

// EncodeServer marshals a server message into its JSON envelope.
func EncodeServer(msg ServerMessage) ([]byte, error) {
	var env serverEnvelope
	switch m := msg.(type) {
	case Sync:
		env.Sync = make(map[string]uint64, len(m))
		for id, seq := range m {
			env.Sync[fmt.Sprint(uint32(id))] = seq
		}
	case Ping:
		ts := uint64(m)
		env.Ping = &ts
	case ServerError:
		s := string(m)
		env.Error = &s
	case Input:
		env.Input = &m
	case Resize:
		env.Resize = &m
	default:
		return nil, fmt.Errorf("unknown server message %T", msg)
	}
	return json.Marshal(env)
}

// DecodeServer parses a JSON envelope into a server message.
func DecodeServer(b []byte) (ServerMessage, error) {
	var env serverEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode server message: %w", err)
	}
	switch {
	case env.Sync != nil:
		sync := make(Sync, len(env.Sync))
		for key, seq := range env.Sync {
			var id uint32
			if _, err := fmt.Sscan(key, &id); err != nil {
				return nil, fmt.Errorf("decode sync shell id %q: %w", key, err)
			}
			sync[Sid(id)] = seq
		}
		return sync, nil
	case env.Ping != nil:
		return Ping(*env.Ping), nil
	case env.Error != nil:
		return ServerError(*env.Error), nil
	case env.Input != nil:
		return *env.Input, nil
	case env.Resize != nil:
		return *env.Resize, nil
	}
	// A session with no live shells syncs an empty map, which the envelope
	// serializes as {}.
	return Sync{}, nil
}

// DecodeViewer parses a JSON envelope into a viewer message.
func DecodeViewer(b []byte) (ViewerMessage, error) {
	var env serverEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode viewer message: %w", err)
	}
	switch {
	case env.Input != nil:
		return *env.Input, nil
	case env.Resize != nil:
		return *env.Resize, nil
	}
	return nil, fmt.Errorf("unsupported viewer message")
}

// EncodeViewer marshals a viewer message (used by tests and clients).
func EncodeViewer(msg ViewerMessage) ([]byte, error) {
	switch m := msg.(type) {
	case Input:
		return json.Marshal(serverEnvelope{Input: &m})
	case Resize:
		return json.Marshal(serverEnvelope{Resize: &m})
	default:
		return nil, fmt.Errorf("unknown viewer message %T", msg)
	}
}
