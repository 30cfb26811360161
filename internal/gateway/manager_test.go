package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/iwasamnot/campuschat/internal/auth"
	"github.com/iwasamnot/campuschat/internal/models"
	"github.com/iwasamnot/campuschat/internal/reconcile"
	"github.com/iwasamnot/campuschat/internal/store"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// stubView serves a fixed reconciled state.
type stubView struct {
	messages []models.Message
	viewErr  *reconcile.ViewError
}

func (v *stubView) Messages() []models.Message { return v.messages }
func (v *stubView) Err() *reconcile.ViewError  { return v.viewErr }

func newTestManager(t *testing.T, view View) *Manager {
	t.Helper()
	if view == nil {
		view = &stubView{}
	}
	tokens := auth.NewTokenService("test-secret")
	return NewManager(tokens, view, nil, nil, nil)
}

// fakeConn creates a Connection wired into the Manager with a buffered Send
// channel so we can read dispatched events without pumping a real WebSocket.
func fakeConn(t *testing.T, m *Manager, userID, sessionID string) *Connection {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("fakeConn dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })

	c := &Connection{
		UserID:    userID,
		SessionID: sessionID,
		Conn:      ws,
		Send:      make(chan []byte, sendBufferSize),
		manager:   m,
		done:      make(chan struct{}),
	}
	c.lastHeartbeat.Store(time.Now().UnixMilli())

	m.mu.Lock()
	m.connections[userID] = c
	m.sessions[sessionID] = c
	m.mu.Unlock()

	return c
}

// drainEvents reads all buffered payloads from a connection's Send channel.
func drainEvents(c *Connection) []Payload {
	var payloads []Payload
	for {
		select {
		case raw := <-c.Send:
			var p Payload
			if err := json.Unmarshal(raw, &p); err == nil {
				payloads = append(payloads, p)
			}
		default:
			return payloads
		}
	}
}

// ---------------------------------------------------------------------------
// Broadcast Tests
// ---------------------------------------------------------------------------

func TestBroadcastSync_ReachesAllConnections(t *testing.T) {
	m := newTestManager(t, nil)

	c1 := fakeConn(t, m, "u1", "s1")
	c2 := fakeConn(t, m, "u2", "s2")

	m.BroadcastSync([]models.Message{{ID: "m1", DisplayText: "hello"}})

	for i, c := range []*Connection{c1, c2} {
		events := drainEvents(c)
		if len(events) != 1 {
			t.Fatalf("conn %d received %d events, want 1", i, len(events))
		}
		if events[0].Event == nil || *events[0].Event != EventSyncUpdate {
			t.Errorf("conn %d event = %v, want %q", i, events[0].Event, EventSyncUpdate)
		}
		var sync SyncUpdateData
		if err := json.Unmarshal(events[0].Data, &sync); err != nil {
			t.Fatalf("unmarshal sync: %v", err)
		}
		if len(sync.Messages) != 1 || sync.Messages[0].ID != "m1" {
			t.Errorf("sync payload = %+v", sync.Messages)
		}
	}
}

func TestBroadcastViewError_CarriesBannerAndCode(t *testing.T) {
	m := newTestManager(t, nil)
	c := fakeConn(t, m, "u1", "s1")

	m.BroadcastViewError(&reconcile.ViewError{
		Category: store.CategoryMissingIndex,
		Err:      store.ErrMissingIndex,
	})

	events := drainEvents(c)
	if len(events) != 1 {
		t.Fatalf("received %d events, want 1", len(events))
	}
	var ve ViewErrorData
	if err := json.Unmarshal(events[0].Data, &ve); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ve.Code != "MISSING_INDEX" {
		t.Errorf("code = %q", ve.Code)
	}
	if ve.Banner != store.CategoryMissingIndex.Banner() {
		t.Errorf("banner = %q", ve.Banner)
	}

	// nil is a no-op, not a panic.
	m.BroadcastViewError(nil)
}

func TestBroadcastExcept_SkipsSender(t *testing.T) {
	m := newTestManager(t, nil)

	c1 := fakeConn(t, m, "u1", "s1")
	c2 := fakeConn(t, m, "u2", "s2")

	m.broadcastExcept("u1", EventTypingStart, TypingStartData{UserID: "u1"})

	if events := drainEvents(c1); len(events) != 0 {
		t.Errorf("sender received %d of their own typing events", len(events))
	}
	if events := drainEvents(c2); len(events) != 1 {
		t.Errorf("peer received %d events, want 1", len(events))
	}
}

// ---------------------------------------------------------------------------
// Register / Unregister Tests
// ---------------------------------------------------------------------------

func TestRegister_DisplacesExistingConnection(t *testing.T) {
	m := newTestManager(t, nil)

	c1 := fakeConn(t, m, "u1", "s1")

	c2 := &Connection{
		UserID:    "u1",
		SessionID: "s2",
		Conn:      c1.Conn, // reuse for simplicity
		Send:      make(chan []byte, sendBufferSize),
		manager:   m,
		done:      make(chan struct{}),
	}
	c2.lastHeartbeat.Store(time.Now().UnixMilli())

	m.register(c2)

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.connections["u1"] != c2 {
		t.Error("new connection should replace old one")
	}
	if _, ok := m.sessions["s1"]; ok {
		t.Error("old session should be removed")
	}
	if m.sessions["s2"] != c2 {
		t.Error("new session should be registered")
	}
}

func TestUnregister_IgnoresMismatchedConnection(t *testing.T) {
	m := newTestManager(t, nil)

	c1 := fakeConn(t, m, "u1", "s1")

	c2 := &Connection{
		UserID:    "u1",
		SessionID: "s2",
		Conn:      c1.Conn,
		Send:      make(chan []byte, sendBufferSize),
		manager:   m,
		done:      make(chan struct{}),
	}

	m.unregister(c2)

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.connections["u1"] != c1 {
		t.Error("original connection should not be removed by mismatched unregister")
	}
}

// stubToggler records which user each auto-reply toggle was scoped to.
type stubToggler struct {
	mu    sync.Mutex
	calls int
	modes map[string]bool
}

func (s *stubToggler) SetAutoReplyMode(userID string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.modes[userID] = on
}

func TestAutoReplyMode_ScopedToSessionUser(t *testing.T) {
	toggler := &stubToggler{modes: make(map[string]bool)}
	tokens := auth.NewTokenService("test-secret")
	m := NewManager(tokens, &stubView{}, nil, nil, toggler)

	c1 := fakeConn(t, m, "u1", "s1")
	fakeConn(t, m, "u2", "s2")

	m.handleAutoReplyMode(c1, mustMarshal(AutoReplyModeData{Enabled: true}))

	toggler.mu.Lock()
	calls, u1, u2 := toggler.calls, toggler.modes["u1"], toggler.modes["u2"]
	toggler.mu.Unlock()
	if calls != 1 || !u1 {
		t.Fatalf("expected a single toggle for u1, got calls=%d u1=%v", calls, u1)
	}
	if u2 {
		t.Error("u1's toggle must not flip the mode for u2")
	}

	// A connection that never identified cannot flip anyone's mode.
	anon := &Connection{Send: make(chan []byte, sendBufferSize), manager: m, done: make(chan struct{})}
	m.handleAutoReplyMode(anon, mustMarshal(AutoReplyModeData{Enabled: false}))

	toggler.mu.Lock()
	calls = toggler.calls
	toggler.mu.Unlock()
	if calls != 1 {
		t.Errorf("unidentified connection reached the toggler, calls = %d", calls)
	}
}

// stubBatcher records Seed, Observe, and Stop calls.
type stubBatcher struct {
	mu       sync.Mutex
	seeded   int
	observed int
	stopped  bool
}

func (b *stubBatcher) Seed(msgs []models.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seeded++
}

func (b *stubBatcher) Observe(msgs []models.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observed++
}

func (b *stubBatcher) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
}

func TestReceiptBatcher_PerViewerLifecycle(t *testing.T) {
	m := newTestManager(t, nil)

	created := make(map[string]*stubBatcher)
	m.SetReceiptFactory(func(viewerID string) ReceiptBatcher {
		b := &stubBatcher{}
		created[viewerID] = b
		return b
	})

	c1 := &Connection{UserID: "u1", SessionID: "s1", Send: make(chan []byte, sendBufferSize), manager: m, done: make(chan struct{})}
	c2 := &Connection{UserID: "u2", SessionID: "s2", Send: make(chan []byte, sendBufferSize), manager: m, done: make(chan struct{})}
	m.register(c1)
	m.register(c2)

	if len(created) != 2 || created["u1"] == nil || created["u2"] == nil {
		t.Fatalf("batchers created for %v, want u1 and u2", created)
	}

	m.BroadcastSync([]models.Message{{ID: "m1"}})

	for id, b := range created {
		b.mu.Lock()
		n := b.observed
		b.mu.Unlock()
		if n != 1 {
			t.Errorf("%s observed %d syncs, want 1", id, n)
		}
	}

	m.unregister(c1)

	created["u1"].mu.Lock()
	stopped := created["u1"].stopped
	created["u1"].mu.Unlock()
	if !stopped {
		t.Error("u1 batcher not stopped on unregister")
	}

	m.BroadcastSync([]models.Message{{ID: "m2"}})

	created["u2"].mu.Lock()
	n := created["u2"].observed
	created["u2"].mu.Unlock()
	if n != 2 {
		t.Errorf("u2 observed %d syncs after second broadcast, want 2", n)
	}
	created["u1"].mu.Lock()
	n = created["u1"].observed
	created["u1"].mu.Unlock()
	if n != 1 {
		t.Errorf("stopped batcher observed %d syncs, want 1", n)
	}
}

// ---------------------------------------------------------------------------
// WebSocket Connection Lifecycle Tests
// ---------------------------------------------------------------------------

func setupWSServer(t *testing.T, m *Manager) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/gateway", func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}

		conn := newConnection(ws, m)
		conn.SendPayload(Payload{
			Op:   OpHello,
			Data: mustMarshal(HelloData{HeartbeatInterval: int(heartbeatInterval.Milliseconds())}),
		})

		go conn.writeLoop()
		go conn.readLoop()
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/gateway"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readPayload(t *testing.T, ws *websocket.Conn) Payload {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var p Payload
	if err := json.Unmarshal(msg, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return p
}

func sendPayload(t *testing.T, ws *websocket.Conn, p Payload) {
	t.Helper()
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestWSLifecycle_HelloOnConnect(t *testing.T) {
	m := newTestManager(t, nil)
	srv := setupWSServer(t, m)
	ws := dialWS(t, srv)

	p := readPayload(t, ws)
	if p.Op != OpHello {
		t.Fatalf("first message op = %d, want %d (HELLO)", p.Op, OpHello)
	}

	var hello HelloData
	if err := json.Unmarshal(p.Data, &hello); err != nil {
		t.Fatalf("unmarshal hello data: %v", err)
	}
	if hello.HeartbeatInterval != int(heartbeatInterval.Milliseconds()) {
		t.Errorf("heartbeat_interval = %d, want %d", hello.HeartbeatInterval, int(heartbeatInterval.Milliseconds()))
	}
}

func TestWSLifecycle_IdentifyAndReady(t *testing.T) {
	tokens := auth.NewTokenService("test-secret")
	token, err := tokens.GenerateAccessToken("u42")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	view := &stubView{messages: []models.Message{
		{ID: "m1", DisplayText: "welcome"},
		{ID: "m2", DisplayText: "to campus chat"},
	}}
	m := NewManager(tokens, view, nil, nil, nil)
	srv := setupWSServer(t, m)
	ws := dialWS(t, srv)

	readPayload(t, ws) // HELLO

	sendPayload(t, ws, Payload{Op: OpIdentify, Data: mustMarshal(IdentifyData{Token: token})})

	p := readPayload(t, ws)
	if p.Op != OpDispatch {
		t.Fatalf("ready op = %d, want %d (DISPATCH)", p.Op, OpDispatch)
	}
	if p.Event == nil || *p.Event != EventReady {
		t.Fatalf("ready event = %v, want %q", p.Event, EventReady)
	}

	var ready ReadyData
	if err := json.Unmarshal(p.Data, &ready); err != nil {
		t.Fatalf("unmarshal ready data: %v", err)
	}
	if ready.UserID != "u42" {
		t.Errorf("ready user_id = %q, want u42", ready.UserID)
	}
	if ready.SessionID == "" {
		t.Error("ready session_id should not be empty")
	}
	if len(ready.Messages) != 2 {
		t.Errorf("ready messages count = %d, want 2", len(ready.Messages))
	}
}

func TestWSLifecycle_IdentifyWithViewErrorRaisesBanner(t *testing.T) {
	tokens := auth.NewTokenService("test-secret")
	token, err := tokens.GenerateAccessToken("u1")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	view := &stubView{viewErr: &reconcile.ViewError{
		Category: store.CategoryQuota,
		Err:      store.ErrQuotaExceeded,
	}}
	m := NewManager(tokens, view, nil, nil, nil)
	srv := setupWSServer(t, m)
	ws := dialWS(t, srv)

	readPayload(t, ws) // HELLO
	sendPayload(t, ws, Payload{Op: OpIdentify, Data: mustMarshal(IdentifyData{Token: token})})

	readPayload(t, ws) // READY
	p := readPayload(t, ws)
	if p.Event == nil || *p.Event != EventViewError {
		t.Fatalf("event = %v, want %q", p.Event, EventViewError)
	}
	var ve ViewErrorData
	if err := json.Unmarshal(p.Data, &ve); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ve.Code != "QUOTA_EXCEEDED" {
		t.Errorf("code = %q", ve.Code)
	}
}

func TestWSLifecycle_InvalidTokenClosesConnection(t *testing.T) {
	m := newTestManager(t, nil)
	srv := setupWSServer(t, m)
	ws := dialWS(t, srv)

	readPayload(t, ws)

	sendPayload(t, ws, Payload{Op: OpIdentify, Data: mustMarshal(IdentifyData{Token: "invalid-token"})})

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	if err == nil {
		t.Error("expected read error after invalid identify, got nil")
	}
}

func TestWSLifecycle_HeartbeatExchange(t *testing.T) {
	m := newTestManager(t, nil)
	srv := setupWSServer(t, m)
	ws := dialWS(t, srv)

	readPayload(t, ws)

	sendPayload(t, ws, Payload{Op: OpHeartbeat})

	p := readPayload(t, ws)
	if p.Op != OpHeartbeatAck {
		t.Fatalf("response op = %d, want %d (HEARTBEAT_ACK)", p.Op, OpHeartbeatAck)
	}
}

func TestWSLifecycle_TypingFansOutToPeers(t *testing.T) {
	tokens := auth.NewTokenService("test-secret")
	m := NewManager(tokens, &stubView{}, nil, nil, nil)
	srv := setupWSServer(t, m)

	wsA := dialWS(t, srv)
	readPayload(t, wsA) // HELLO
	tokenA, _ := tokens.GenerateAccessToken("uA")
	sendPayload(t, wsA, Payload{Op: OpIdentify, Data: mustMarshal(IdentifyData{Token: tokenA})})
	readPayload(t, wsA) // READY

	wsB := dialWS(t, srv)
	readPayload(t, wsB) // HELLO
	tokenB, _ := tokens.GenerateAccessToken("uB")
	sendPayload(t, wsB, Payload{Op: OpIdentify, Data: mustMarshal(IdentifyData{Token: tokenB})})
	readPayload(t, wsB) // READY

	// A's identify also pushed a presence event to... nobody was connected
	// yet; B's identify pushed one to A. Drain it.
	p := readPayload(t, wsA)
	if p.Event == nil || *p.Event != EventPresenceUpdate {
		t.Fatalf("expected presence update on A, got %v", p.Event)
	}

	sendPayload(t, wsA, Payload{Op: OpTyping})

	p = readPayload(t, wsB)
	if p.Event == nil || *p.Event != EventTypingStart {
		t.Fatalf("event = %v, want %q", p.Event, EventTypingStart)
	}
	var typing TypingStartData
	if err := json.Unmarshal(p.Data, &typing); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if typing.UserID != "uA" {
		t.Errorf("typing user = %q, want uA", typing.UserID)
	}
}

// ---------------------------------------------------------------------------
// Concurrent Safety Test
// ---------------------------------------------------------------------------

func TestConcurrentBroadcast(t *testing.T) {
	m := newTestManager(t, nil)

	conns := make([]*Connection, 5)
	for i := range conns {
		conns[i] = fakeConn(t, m, "u"+string(rune('0'+i)), "s"+string(rune('0'+i)))
	}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			m.BroadcastSync([]models.Message{{ID: "m", DisplayText: "x"}})
		}(i)
	}
	wg.Wait()

	time.Sleep(50 * time.Millisecond)
	for i, c := range conns {
		events := drainEvents(c)
		if len(events) != 100 {
			t.Errorf("conn %d received %d events, want 100", i, len(events))
		}
	}
}
