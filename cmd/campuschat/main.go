package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/iwasamnot/campuschat/internal/api"
	"github.com/iwasamnot/campuschat/internal/auth"
	"github.com/iwasamnot/campuschat/internal/autoreply"
	"github.com/iwasamnot/campuschat/internal/chat"
	"github.com/iwasamnot/campuschat/internal/config"
	"github.com/iwasamnot/campuschat/internal/directory"
	"github.com/iwasamnot/campuschat/internal/gateway"
	"github.com/iwasamnot/campuschat/internal/index"
	"github.com/iwasamnot/campuschat/internal/mentions"
	"github.com/iwasamnot/campuschat/internal/moderation"
	"github.com/iwasamnot/campuschat/internal/notify"
	"github.com/iwasamnot/campuschat/internal/permissions"
	"github.com/iwasamnot/campuschat/internal/presence"
	"github.com/iwasamnot/campuschat/internal/ratelimit"
	"github.com/iwasamnot/campuschat/internal/receipts"
	"github.com/iwasamnot/campuschat/internal/reconcile"
	"github.com/iwasamnot/campuschat/internal/scheduler"
	"github.com/iwasamnot/campuschat/internal/snowflake"
	"github.com/iwasamnot/campuschat/internal/storage"
	"github.com/iwasamnot/campuschat/internal/store"
)

const (
	migrationsDir  = "migrations"
	snowflakeNode  = 1
	directoryLimit = 500
)

func main() {
	cfg := config.Load()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})))

	appCtx, stopApp := context.WithCancel(context.Background())
	defer stopApp()

	// --- Persistence ---

	var st store.Store
	if cfg.DatabaseURL != "" {
		if err := store.Migrate(cfg.DatabaseURL, migrationsDir); err != nil {
			slog.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		pool, err := store.NewPostgresPool(appCtx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("postgres pool failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		pg, err := store.NewPostgresStore(pool, snowflakeNode)
		if err != nil {
			slog.Error("postgres store failed", "error", err)
			os.Exit(1)
		}
		st = pg
	} else {
		slog.Warn("DATABASE_URL not set, using in-process store")
		st = store.NewMemoryStore()
	}
	st = store.NewMetered(st, store.NewMetrics(prometheus.DefaultRegisterer))

	// --- Presence (optional) ---

	pres, err := presence.NewClient(cfg.RedisURL)
	if err != nil {
		slog.Warn("presence disabled, redis unreachable", "error", err)
		pres = nil
	} else {
		defer pres.Close()
	}

	// --- Directory ---

	dir := directory.NewCache(directory.NewHTTPService(cfg.DirectoryURL), cfg.DirectoryRefresh, directoryLimit)
	if err := dir.Refresh(appCtx); err != nil {
		// The cache retries on its interval; boot with an empty snapshot.
		slog.Warn("initial directory refresh failed", "error", err)
	}
	go dir.Run(appCtx)

	// --- Pipeline components ---

	var classifier moderation.Classifier
	if cfg.ModerationURL != "" {
		classifier = moderation.NewHTTPClassifier(cfg.ModerationURL)
	}
	gate := moderation.NewGate(classifier)

	var sink notify.Sink
	if cfg.NotificationsEnabled {
		sink = notify.NewDesktopSink("CampusChat")
	}

	var gen autoreply.Generator
	if cfg.GeminiAPIKey != "" {
		g, err := autoreply.NewGenAIGenerator(appCtx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			slog.Error("genai client failed", "error", err)
			os.Exit(1)
		}
		gen = g
	} else {
		slog.Warn("GEMINI_API_KEY not set, auto-reply disabled")
	}
	orch := autoreply.New(gen, nil)

	roles := roleFunc(cfg)

	svc := chat.NewService(chat.Deps{
		Store:    st,
		Gate:     gate,
		Limiter:  ratelimit.New(cfg.RateLimitWindow),
		Resolver: mentions.NewResolver(dir),
		Notifier: mentions.NewNotifier(sink),
		Dir:      dir,
		Replies:  orch,
		Presence: pres,
		Roles:    roles,
	})
	orch.SetInjector(svc)

	// --- Reconciled view, indexes, gateway ---

	view := reconcile.New(st, store.Query{})
	ix := index.NewIndexer(st)
	tokenSvc := auth.NewTokenService(cfg.JWTSecret)
	gwManager := gateway.NewManager(tokenSvc, view, dir, pres, svc)

	gwManager.SetReceiptFactory(func(viewerID string) gateway.ReceiptBatcher {
		return receipts.New(viewerID, svc, sink, scheduler.RealClock{}, nil, receipts.Config{
			Enabled:  cfg.ReadReceiptsEnabled,
			Debounce: cfg.ReadReceiptDebounce,
			Cooldown: cfg.ReadReceiptCooldown,
		})
	})

	view.OnChange(ix.ObserveThreads)
	view.OnChange(gwManager.BroadcastSync)

	go func() {
		if err := view.Run(appCtx); err != nil && appCtx.Err() == nil {
			gwManager.BroadcastViewError(view.Err())
		}
	}()
	go func() {
		if err := ix.RunPinned(appCtx); err != nil && appCtx.Err() == nil {
			slog.Error("pinned index subscription failed", "error", err)
		}
	}()

	// --- Attachments (optional) ---

	var fileStore api.FileStorage
	if cfg.MinIOEndpoint != "" {
		mc, err := storage.NewMinIOClient(appCtx, storage.Config{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseTLS:    cfg.MinIOUseTLS,
		})
		if err != nil {
			slog.Error("minio client failed", "error", err)
			os.Exit(1)
		}
		fileStore = mc
	} else {
		slog.Warn("MINIO_ENDPOINT not set, attachment uploads disabled")
	}

	sf, err := snowflake.NewGenerator(snowflakeNode)
	if err != nil {
		slog.Error("snowflake generator failed", "error", err)
		os.Exit(1)
	}

	// --- Handlers ---

	deps := &api.Dependencies{
		Messages:     api.NewMessageHandler(svc, view, ix),
		Directory:    api.NewDirectoryHandler(dir, pres),
		Uploads:      api.NewUploadHandler(fileStore, sf),
		Gateway:      gwManager,
		TokenService: tokenSvc,
	}

	// --- Echo ---

	e := echo.New()
	e.HidePort = true
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	api.SetupRouter(e, deps)

	// --- Start ---

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("campuschat starting", "addr", cfg.ServerAddr)
		if err := e.Start(cfg.ServerAddr); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCtx.Done()
	slog.Info("shutting down")
	stopApp()
	if err := e.Shutdown(context.Background()); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

// roleFunc resolves roles from the configured moderator and admin id lists.
func roleFunc(cfg *config.Config) chat.RoleFunc {
	mods := make(map[string]bool, len(cfg.Moderators))
	for _, id := range cfg.Moderators {
		mods[id] = true
	}
	admins := make(map[string]bool, len(cfg.Admins))
	for _, id := range cfg.Admins {
		admins[id] = true
	}
	return func(userID string) permissions.Role {
		switch {
		case admins[userID]:
			return permissions.RoleAdmin
		case mods[userID]:
			return permissions.RoleModerator
		default:
			return permissions.RoleMember
		}
	}
}
