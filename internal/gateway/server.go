package gateway

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // campus clients connect from arbitrary origins
	},
}

// HandleWebSocket upgrades GET /gateway, greets the client with HELLO, and
// starts the connection loops. Authentication happens later via IDENTIFY,
// not at upgrade time.
func (m *Manager) HandleWebSocket(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error("gateway upgrade failed", "remote", c.RealIP(), "error", err)
		return nil
	}

	conn := newConnection(ws, m)
	conn.SendPayload(Payload{
		Op:   OpHello,
		Data: mustMarshal(HelloData{HeartbeatInterval: int(heartbeatInterval.Milliseconds())}),
	})

	go conn.writeLoop()
	go conn.readLoop()

	return nil
}
