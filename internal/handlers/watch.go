package handlers

import (
	"context"
	"log"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/tidecast/tidecast/internal/proto"
	"github.com/tidecast/tidecast/internal/session"
)

// WatchWS streams a session's mirrored events (shell lifecycle and accepted
// data chunks) to a viewer, and forwards viewer input and resize requests to
// the host. Write-password enforcement happens in the web layer in front of
// this server; the feed itself is available to anyone holding the session
// URL.
func WatchWS(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[handlers] failed to accept watch websocket: %v", err)
		return
	}
	defer conn.CloseNow()

	sess := Registry.Lookup(sessionID)
	if sess == nil {
		conn.Close(closeNotFound, "Session not found")
		return
	}

	conn.SetReadLimit(maxMessageSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	replay, events, unsubscribe := sess.SubscribeWithReplay()
	defer unsubscribe()

	// Catch the viewer up on existing shells and their retained output
	// before streaming live events.
	for _, event := range replay {
		data, err := proto.EncodeClient(event)
		if err != nil {
			log.Printf("[handlers] session %s: encode replay event: %v", sess.ID, err)
			continue
		}
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			return
		}
	}

	// Viewer -> host input and resize requests.
	go func() {
		defer cancel()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			msg, err := proto.DecodeViewer(data)
			if err != nil {
				continue
			}
			forwardViewerMessage(sess, msg)
		}
	}()

	for {
		select {
		case event := <-events:
			data, err := proto.EncodeClient(event)
			if err != nil {
				log.Printf("[handlers] session %s: encode watch event: %v", sess.ID, err)
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		case <-sess.Terminated():
			conn.Close(websocket.StatusNormalClosure, "session closed")
			return
		case <-ctx.Done():
			return
		}
	}
}

// forwardViewerMessage relays one viewer message into the session. Failures
// (unknown shell, host too far behind) are logged and dropped; a viewer
// cannot take down the session.
func forwardViewerMessage(sess *session.Session, msg proto.ViewerMessage) {
	var err error
	switch m := msg.(type) {
	case proto.Input:
		err = sess.SendInput(m.ID, m.Data)
	case proto.Resize:
		err = sess.SendResize(m.ID, m.Rows, m.Cols)
	}
	if err != nil {
		log.Printf("[handlers] session %s: drop viewer message: %v", sess.ID, err)
	}
}
