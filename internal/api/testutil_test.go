package api

import (
	"context"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iwasamnot/campuschat/internal/chat"
	"github.com/iwasamnot/campuschat/internal/directory"
	"github.com/iwasamnot/campuschat/internal/index"
	"github.com/iwasamnot/campuschat/internal/mentions"
	"github.com/iwasamnot/campuschat/internal/moderation"
	"github.com/iwasamnot/campuschat/internal/permissions"
	"github.com/iwasamnot/campuschat/internal/ratelimit"
	"github.com/iwasamnot/campuschat/internal/reconcile"
	"github.com/iwasamnot/campuschat/internal/store"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

func newTestContext(method, path string, body io.Reader) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return c, rec
}

func setAuthUser(c echo.Context, userID string) {
	c.Set("user_id", userID)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

// stubDirectoryService serves a fixed user list.
type stubDirectoryService struct {
	users []directory.User
}

func (s stubDirectoryService) List(ctx context.Context, limit int) ([]directory.User, error) {
	return s.users, nil
}

// handlerFixture wires a full pipeline over a memory store.
type handlerFixture struct {
	store    *store.MemoryStore
	view     *reconcile.Reconciler
	index    *index.Indexer
	service  *chat.Service
	messages *MessageHandler
	cancel   context.CancelFunc
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	st := store.NewMemoryStore()
	view := reconcile.New(st, store.Query{})
	ix := index.NewIndexer(st)

	dir := directory.NewCache(stubDirectoryService{users: []directory.User{
		{ID: "u1", Name: "Alice", Email: "alice@campus.edu"},
		{ID: "u2", Name: "Bob", Email: "bob@campus.edu"},
		{ID: "mod1", Name: "Morgan", Email: "morgan@campus.edu"},
	}}, time.Minute, 100)
	if err := dir.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh directory: %v", err)
	}

	svc := chat.NewService(chat.Deps{
		Store:    st,
		Gate:     moderation.NewGate(nil),
		Limiter:  ratelimit.New(0), // disabled so sequential test sends pass
		Resolver: mentions.NewResolver(dir),
		Notifier: mentions.NewNotifier(nil),
		Dir:      dir,
		Roles: func(userID string) permissions.Role {
			if userID == "mod1" {
				return permissions.RoleModerator
			}
			return permissions.RoleMember
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	view.OnChange(ix.ObserveThreads)
	go func() { _ = view.Run(ctx) }()
	go func() { _ = ix.RunPinned(ctx) }()
	t.Cleanup(cancel)

	return &handlerFixture{
		store:    st,
		view:     view,
		index:    ix,
		service:  svc,
		messages: NewMessageHandler(svc, view, ix),
		cancel:   cancel,
	}
}

// mockFileStorage records uploads in memory.
type mockFileStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func newMockFileStorage() *mockFileStorage {
	return &mockFileStorage{objects: make(map[string][]byte)}
}

func (m *mockFileStorage) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.objects[key] = data
	return nil
}

func (m *mockFileStorage) GetURL(key string) string {
	return "http://storage.test/campuschat/" + key
}

func (m *mockFileStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}
