package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/coder/websocket"
	"github.com/tidecast/tidecast/internal/proto"
	"github.com/tidecast/tidecast/internal/protocol"
)

// Websocket close codes mirroring the single-shot error taxonomy.
const (
	closeInvalidArgument websocket.StatusCode = 4400
	closeUnauthenticated websocket.StatusCode = 4401
	closeNotFound        websocket.StatusCode = 4404
	closeInternal        websocket.StatusCode = 4500
)

// maxMessageSize bounds a single inbound websocket frame.
const maxMessageSize = 1024 * 1024

// ChannelWS runs the bidirectional host stream. The first message must be a
// Hello carrying "name,token" credentials; see the protocol package for the
// full lifecycle.
func ChannelWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[handlers] failed to accept channel websocket: %v", err)
		return
	}
	defer conn.CloseNow()

	conn.SetReadLimit(maxMessageSize)
	ctx := r.Context()

	handler := protocol.NewHandler(Registry)
	serveErr := handler.Serve(ctx, &wsStream{conn: conn, ctx: ctx})

	switch {
	case serveErr == nil:
		conn.Close(websocket.StatusNormalClosure, "")
	case errors.Is(serveErr, protocol.ErrMissingFirstMessage),
		errors.Is(serveErr, protocol.ErrInvalidFirstMessage),
		errors.Is(serveErr, protocol.ErrMissingCredentials):
		conn.Close(closeInvalidArgument, serveErr.Error())
	case errors.Is(serveErr, protocol.ErrUnauthenticated):
		conn.Close(closeUnauthenticated, "Invalid token")
	case errors.Is(serveErr, protocol.ErrSessionNotFound):
		conn.Close(closeNotFound, "Session not found")
	default:
		log.Printf("[handlers] channel connection exiting early: %v", serveErr)
		conn.Close(closeInternal, "Internal error")
	}
}

// wsStream adapts a websocket connection to the protocol.Stream interface,
// carrying JSON envelopes in text frames.
type wsStream struct {
	conn *websocket.Conn
	ctx  context.Context
}

func (s *wsStream) Recv() (proto.ClientMessage, error) {
	_, data, err := s.conn.Read(s.ctx)
	if err != nil {
		return nil, err
	}
	return proto.DecodeClient(data)
}

func (s *wsStream) Send(msg proto.ServerMessage) error {
	data, err := proto.EncodeServer(msg)
	if err != nil {
		return err
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}
