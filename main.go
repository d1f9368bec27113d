// Command stream-herald relays Twitch broadcast lifecycle events into a
// Telegram group. It:
//   - Verifies and deduplicates EventSub webhook deliveries.
//   - Tracks one open session per channel, sending a live notification with
//     a freshly polled thumbnail and editing it into a recap when the
//     broadcast ends.
//   - Reconciles persisted state against the Helix API on startup, since
//     webhooks delivered while the service was down are gone for good.
//   - Exposes /healthz, /readyz, /status, /metrics, and the mirrored
//     thumbnail files over HTTP.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/stream-herald/cache"
	"github.com/onnwee/stream-herald/config"
	"github.com/onnwee/stream-herald/db"
	"github.com/onnwee/stream-herald/eventsub"
	"github.com/onnwee/stream-herald/server"
	"github.com/onnwee/stream-herald/stream"
	"github.com/onnwee/stream-herald/telegram"
	"github.com/onnwee/stream-herald/telemetry"
	"github.com/onnwee/stream-herald/thumbnail"
	"github.com/onnwee/stream-herald/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("config validation failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdownTracing, err := telemetry.InitTracing("stream-herald", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	// DB
	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Versioned migrations first; fall back to embedded SQL for deployments
	// that do not ship the migration files next to the binary.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting embedded SQL fallback",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			os.Exit(1)
		}
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Twitch API clients sharing one app token source
	tokens := &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret}
	helix := &twitchapi.Client{AppTokenSource: tokens, ClientID: cfg.TwitchClientID}
	registrar := &twitchapi.EventSubClient{
		AppTokenSource: tokens,
		ClientID:       cfg.TwitchClientID,
		CallbackURL:    cfg.CallbackURL(),
		Secret:         cfg.EventSubSecret,
	}

	// Telegram transport
	bot, err := telegram.NewBot(cfg.TelegramToken)
	if err != nil {
		slog.Error("telegram bot init failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Lifecycle manager and its stores
	acquirer := &thumbnail.Acquirer{
		PublicBaseURL: cfg.PublicBaseURL,
		Dir:           cfg.DataDir,
		Attempts:      cfg.ThumbnailAttempts,
		Backoff:       cfg.ThumbnailBackoff,
		Recorder:      &db.ThumbnailRecorder{DB: database},
	}
	mgr := stream.NewManager(
		&db.SubscriptionStore{DB: database},
		&db.SessionStore{DB: database},
		telegram.NewMessenger(bot),
		helix,
		registrar,
		acquirer,
	)

	// Chat commands
	cmds := &telegram.Commands{
		Svc:     mgr,
		OwnerID: cfg.TelegramOwnerID,
		Renders: cache.New(cfg.StreamsCacheTTL),
	}
	cmds.Register(bot)

	// Catch up on whatever happened while the service was down.
	if err := mgr.Reconcile(ctx); err != nil {
		slog.Warn("startup reconcile failed", slog.Any("err", err))
	}

	// Webhook intake
	webhook := &eventsub.Handler{
		Secret: cfg.EventSubSecret,
		Dedup:  cache.New(cfg.DedupTTL),
		Sink:   mgr,
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// Telegram long polling
	go func() {
		<-ctx.Done()
		bot.Stop()
	}()
	go func() {
		slog.Info("telegram polling started")
		bot.Start()
	}()

	// HTTP server (webhook/health/status/metrics/thumbnails)
	deps := server.Deps{DB: database, Webhook: webhook, DataDir: cfg.DataDir}
	if err := server.Start(ctx, deps, cfg.ListenAddr); err != nil {
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}
