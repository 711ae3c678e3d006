package eventfeed

import (
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeHTTP upgrades the connection and registers it with the hub,
// draining (and discarding) inbound frames until the client disconnects —
// this feed is one-directional, server to client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.Register(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.Unregister(conn)
			return
		}
	}
}
