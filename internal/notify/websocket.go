package notify

import (
	"net/http"
	"time"

	"golang.org/x/net/websocket"
)

// writeTimeout bounds a single event write so a peer that stops reading is
// dropped instead of stalling the session that notifies it.
var writeTimeout = 5 * time.Second

type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) Send(ev Event) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return websocket.JSON.Send(c.ws, ev)
}

func (c *wsConn) Close() error        { return c.ws.Close() }

// acceptAnyOrigin lets browser front ends served from other origins connect.
func acceptAnyOrigin(*websocket.Config, *http.Request) error { return nil }

// ServeSession returns a websocket handler that attaches the connection to
// sessionID and holds it open until the client disconnects or is replaced.
func (h *Hub) ServeSession(sessionID string) http.Handler {
	return websocket.Server{
		Handshake: acceptAnyOrigin,
		Handler: func(ws *websocket.Conn) {
			c := &wsConn{ws: ws}
			h.Attach(sessionID, c)
			defer h.Detach(sessionID, c)

			// Inbound frames are ignored; Receive returns once the peer goes away.
			var discard string
			for {
				if err := websocket.Message.Receive(ws, &discard); err != nil {
					return
				}
			}
		},
	}
}
