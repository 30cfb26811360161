package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// heartbeatInterval is advertised in HELLO; the server also probes on
	// this cadence.
	heartbeatInterval = 41250 * time.Millisecond
	// heartbeatGrace is how far past the interval a client may drift
	// before the server drops the connection as dead.
	heartbeatGrace = 10 * time.Second

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Connection is one WebSocket client. UserID stays empty until the client
// identifies; an unidentified connection receives nothing but HELLO and
// heartbeat traffic.
type Connection struct {
	UserID    string
	SessionID string
	Conn      *websocket.Conn
	Send      chan []byte

	manager  *Manager
	sequence atomic.Int64

	closeOnce sync.Once
	done      chan struct{}

	lastHeartbeat atomic.Int64 // unix millis of the client's last heartbeat
}

func newConnection(ws *websocket.Conn, m *Manager) *Connection {
	c := &Connection{
		Conn:    ws,
		Send:    make(chan []byte, sendBufferSize),
		manager: m,
		done:    make(chan struct{}),
	}
	c.lastHeartbeat.Store(time.Now().UnixMilli())
	return c
}

// NextSequence returns the next dispatch sequence number.
func (c *Connection) NextSequence() int64 {
	return c.sequence.Add(1)
}

// SendPayload queues a payload for the write loop. A slow consumer loses
// frames rather than blocking the fan-out; sync events are full snapshots,
// so a lost frame costs latency, not consistency.
func (c *Connection) SendPayload(p Payload) {
	data, err := json.Marshal(p)
	if err != nil {
		slog.Error("marshal error", "userID", c.UserID, "error", err)
		return
	}
	select {
	case c.Send <- data:
	default:
		slog.Warn("send buffer full, dropping frame", "userID", c.UserID)
	}
}

// SendEvent queues a sequenced dispatch event.
func (c *Connection) SendEvent(name string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		slog.Error("marshal event error", "event", name, "error", err)
		return
	}
	seq := c.NextSequence()
	c.SendPayload(Payload{Op: OpDispatch, Data: raw, Sequence: &seq, Event: &name})
}

// Close terminates the connection. Safe to call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.Conn.Close()
	})
}

// alive reports whether the client heartbeated recently enough.
func (c *Connection) alive() bool {
	last := time.UnixMilli(c.lastHeartbeat.Load())
	return time.Since(last) <= heartbeatInterval+heartbeatGrace
}

// readLoop consumes client frames until the socket errors or closes, then
// unregisters the connection.
func (c *Connection) readLoop() {
	defer func() {
		c.manager.unregister(c)
		c.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Error("gateway read error", "userID", c.UserID, "error", err)
			}
			return
		}
		c.dispatch(frame)
	}
}

// writeLoop drains the Send queue and enforces heartbeat liveness.
func (c *Connection) writeLoop() {
	probe := time.NewTicker(heartbeatInterval)
	defer func() {
		probe.Stop()
		c.Close()
	}()

	for {
		select {
		case frame, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-probe.C:
			if !c.alive() {
				slog.Warn("heartbeat timeout, dropping connection", "userID", c.UserID)
				return
			}
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.SendPayload(Payload{Op: OpHeartbeat})

		case <-c.done:
			return
		}
	}
}

// dispatch routes one inbound payload by op code.
func (c *Connection) dispatch(frame []byte) {
	var p Payload
	if err := json.Unmarshal(frame, &p); err != nil {
		slog.Error("invalid gateway payload", "userID", c.UserID, "error", err)
		return
	}

	switch p.Op {
	case OpHeartbeat:
		c.lastHeartbeat.Store(time.Now().UnixMilli())
		c.SendPayload(Payload{Op: OpHeartbeatAck})

	case OpIdentify:
		c.manager.handleIdentify(c, p.Data)

	case OpTyping:
		c.manager.handleTyping(c)

	case OpAutoReplyMode:
		c.manager.handleAutoReplyMode(c, p.Data)
	}
}
