// Package gateway pushes the reconciled message view, typing signals, and
// presence changes to WebSocket clients. Every sync carries the whole view;
// clients replace rather than patch, so a dropped frame cannot desynchronize
// them.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iwasamnot/campuschat/internal/auth"
	"github.com/iwasamnot/campuschat/internal/directory"
	"github.com/iwasamnot/campuschat/internal/models"
	"github.com/iwasamnot/campuschat/internal/presence"
	"github.com/iwasamnot/campuschat/internal/reconcile"
)

const presenceGrace = 10 * time.Second

// View is the reconciled message state served to newly identified clients.
type View interface {
	Messages() []models.Message
	Err() *reconcile.ViewError
}

// AutoReplyToggler flips the assistant mode on behalf of a client. The
// toggle is scoped to the identified user.
type AutoReplyToggler interface {
	SetAutoReplyMode(userID string, on bool)
}

// ReceiptBatcher consumes view snapshots on behalf of one viewer. Seed
// takes the backlog present at identify time, which must never raise
// notifications.
type ReceiptBatcher interface {
	Seed(msgs []models.Message)
	Observe(msgs []models.Message)
	Stop()
}

// BatcherFactory builds a ReceiptBatcher for a newly identified viewer.
type BatcherFactory func(viewerID string) ReceiptBatcher

// Manager manages all active WebSocket connections and event fan-out.
type Manager struct {
	mu          sync.RWMutex
	connections map[string]*Connection // userID → connection
	sessions    map[string]*Connection // sessionID → connection
	batchers    map[string]ReceiptBatcher

	tokens     *auth.TokenService
	view       View
	dir        *directory.Cache
	presence   *presence.Client
	replies    AutoReplyToggler
	newBatcher BatcherFactory
}

// NewManager creates a gateway Manager. presence and replies may be nil.
func NewManager(tokens *auth.TokenService, view View, dir *directory.Cache, pres *presence.Client, replies AutoReplyToggler) *Manager {
	return &Manager{
		connections: make(map[string]*Connection),
		sessions:    make(map[string]*Connection),
		batchers:    make(map[string]ReceiptBatcher),
		tokens:      tokens,
		view:        view,
		dir:         dir,
		presence:    pres,
		replies:     replies,
	}
}

// SetReceiptFactory enables per-session read-receipt batching. Each
// identified viewer gets their own batcher, stopped when the last
// connection for that user goes away.
func (m *Manager) SetReceiptFactory(f BatcherFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.newBatcher = f
}

// register adds a connection, displacing any previous one for the user.
func (m *Manager) register(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.connections[c.UserID]; ok {
		old.Close()
		delete(m.sessions, old.SessionID)
	}

	m.connections[c.UserID] = c
	m.sessions[c.SessionID] = c

	if m.newBatcher != nil && m.batchers[c.UserID] == nil {
		m.batchers[c.UserID] = m.newBatcher(c.UserID)
	}
}

// unregister removes a connection and schedules presence cleanup.
func (m *Manager) unregister(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.connections[c.UserID]; ok && existing == c {
		delete(m.connections, c.UserID)
		if b, ok := m.batchers[c.UserID]; ok {
			b.Stop()
			delete(m.batchers, c.UserID)
		}
		go m.clearPresenceWithGrace(c.UserID)
	}

	delete(m.sessions, c.SessionID)
}

// clearPresenceWithGrace waits before setting offline, allowing a quick
// reconnect to keep the user online.
func (m *Manager) clearPresenceWithGrace(userID string) {
	time.Sleep(presenceGrace)

	m.mu.RLock()
	_, stillConnected := m.connections[userID]
	m.mu.RUnlock()

	if stillConnected || m.presence == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.presence.SetOffline(ctx, userID); err != nil {
		slog.Error("failed to clear presence", "userID", userID, "error", err)
	}

	m.broadcast(EventPresenceUpdate, PresenceUpdateData{UserID: userID, Status: "offline"})
}

// broadcast sends a dispatch event to every identified connection.
func (m *Manager) broadcast(event string, data any) {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		c.SendEvent(event, data)
	}
}

// broadcastExcept sends a dispatch event to everyone but one user.
func (m *Manager) broadcastExcept(exceptUserID, event string, data any) {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.connections))
	for userID, c := range m.connections {
		if userID == exceptUserID {
			continue
		}
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		c.SendEvent(event, data)
	}
}

// BroadcastSync pushes the reconciled view to every client. Wire this as a
// reconciler listener.
func (m *Manager) BroadcastSync(messages []models.Message) {
	m.broadcast(EventSyncUpdate, SyncUpdateData{Messages: messages})

	m.mu.RLock()
	batchers := make([]ReceiptBatcher, 0, len(m.batchers))
	for _, b := range m.batchers {
		batchers = append(batchers, b)
	}
	m.mu.RUnlock()

	for _, b := range batchers {
		b.Observe(messages)
	}
}

// BroadcastViewError tells every client to raise the error banner.
func (m *Manager) BroadcastViewError(ve *reconcile.ViewError) {
	if ve == nil {
		return
	}
	m.broadcast(EventViewError, ViewErrorData{
		Code:   ve.Category.String(),
		Banner: ve.Banner(),
	})
}

// ConnectedUsers returns the ids of currently identified users.
func (m *Manager) ConnectedUsers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.connections))
	for id := range m.connections {
		ids = append(ids, id)
	}
	return ids
}

// handleIdentify processes an IDENTIFY payload from a client.
func (m *Manager) handleIdentify(c *Connection, data json.RawMessage) {
	var identify IdentifyData
	if err := json.Unmarshal(data, &identify); err != nil {
		slog.Error("invalid identify data", "error", err)
		c.Close()
		return
	}

	claims, err := m.tokens.ValidateAccessToken(identify.Token)
	if err != nil {
		slog.Warn("invalid token in identify", "error", err)
		c.Close()
		return
	}

	c.UserID = claims.UserID
	c.SessionID = uuid.NewString()

	m.register(c)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if m.presence != nil {
		if err := m.presence.SetOnline(ctx, c.UserID); err != nil {
			slog.Error("failed to set presence", "userID", c.UserID, "error", err)
		}
	}

	c.SendEvent(EventReady, ReadyData{
		SessionID: c.SessionID,
		UserID:    c.UserID,
		Messages:  m.view.Messages(),
	})
	if ve := m.view.Err(); ve != nil {
		c.SendEvent(EventViewError, ViewErrorData{Code: ve.Category.String(), Banner: ve.Banner()})
	}

	// Seed the viewer's batcher so the backlog counts as seen without
	// raising a notification per historical message.
	m.mu.RLock()
	b := m.batchers[c.UserID]
	m.mu.RUnlock()
	if b != nil {
		b.Seed(m.view.Messages())
	}

	m.broadcastExcept(c.UserID, EventPresenceUpdate, PresenceUpdateData{UserID: c.UserID, Status: "online"})
}

// handleTyping records the signal and fans it out to everyone else. The
// sender never sees their own indicator.
func (m *Manager) handleTyping(c *Connection) {
	if c.UserID == "" {
		return
	}

	if m.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.presence.SetTyping(ctx, c.UserID); err != nil {
			slog.Warn("failed to record typing signal", "userID", c.UserID, "error", err)
		}
	}

	name := c.UserID
	if m.dir != nil {
		name = m.dir.DisplayNameFor(c.UserID)
	}
	m.broadcastExcept(c.UserID, EventTypingStart, TypingStartData{
		UserID:      c.UserID,
		DisplayName: name,
		Timestamp:   time.Now().UnixMilli(),
	})
}

// handleAutoReplyMode toggles the assistant for the session's user.
func (m *Manager) handleAutoReplyMode(c *Connection, data json.RawMessage) {
	if c.UserID == "" || m.replies == nil {
		return
	}
	var mode AutoReplyModeData
	if err := json.Unmarshal(data, &mode); err != nil {
		return
	}
	m.replies.SetAutoReplyMode(c.UserID, mode.Enabled)
}
