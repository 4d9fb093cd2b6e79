// Command chatmon relays Twitch chat to browser overlays.
// It:
//   - Loads configuration and initializes structured logging, metrics and tracing.
//   - Loads the global emote catalogs (BTTV, FFZ, 7TV) and the badge catalog.
//   - Serves overlay viewers over WebSocket at /chatmon/<channel>, joining the
//     channel's chat while it has viewers and relaying annotated messages.
//   - Optionally archives relayed messages to Postgres (ARCHIVE_DSN).
//   - Exposes /healthz, /readyz, /metrics, /stats and token protected admin routes.
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

	"github.com/onnwee/chatmon/badge"
	"github.com/onnwee/chatmon/chat"
	"github.com/onnwee/chatmon/config"
	"github.com/onnwee/chatmon/db"
	"github.com/onnwee/chatmon/emote"
	"github.com/onnwee/chatmon/hub"
	"github.com/onnwee/chatmon/server"
	"github.com/onnwee/chatmon/status"
	"github.com/onnwee/chatmon/telemetry"
	"github.com/onnwee/chatmon/twitchapi"
)

const version = "1.0.0"

func newLogger(level, format string) *slog.Logger {
	lvl := slog.LevelInfo
	unknown := false
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		unknown = true
	}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	logger := slog.New(handler)
	if unknown {
		logger.Warn("unknown LOG_LEVEL, using info", slog.String("value", level))
	}
	return logger
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	slog.Info("logger initialized", slog.String("level", cfg.LogLevel), slog.String("format", cfg.LogFormat))

	telemetry.Init()

	shutdownTracing, err := telemetry.InitTracing(telemetry.TracingConfig{
		ServiceName:    "chatmon",
		ServiceVersion: version,
		Endpoint:       cfg.OTLPEndpoint,
		SampleRatio:    cfg.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Helix app credentials are optional; without them badges come from BADGE_FILE only.
	var helix *twitchapi.HelixClient
	if cfg.HelixEnabled() {
		helix = &twitchapi.HelixClient{
			AppTokenSource: &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
			ClientID:       cfg.TwitchClientID,
		}
	}

	// Emote catalogs
	order, err := emote.ParseOrder(strings.Join(cfg.EmoteProviderOrder, ","))
	if err != nil {
		slog.Error("invalid emote provider order", slog.Any("err", err))
		os.Exit(1)
	}
	fetcher := emote.NewFetcher(emote.FetcherConfig{
		Timeout:         cfg.EmoteFetchTimeout,
		BreakerFailures: uint32(cfg.EmoteBreakerFailures),
		BreakerCooldown: cfg.EmoteBreakerCooldown,
		Logger:          logger,
	})
	catalogCfg := emote.CatalogConfig{Fetcher: fetcher, InitRetries: 3, Logger: logger}
	cache := emote.NewCache(emote.CacheConfig{TTL: cfg.EmoteCacheTTL, Logger: logger})
	for _, tag := range order {
		switch tag {
		case emote.TagBTTV:
			cache.Register(emote.NewBTTV(catalogCfg))
		case emote.TagFFZ:
			cache.Register(emote.NewFFZ(catalogCfg))
		case emote.TagSevenTV:
			cache.Register(emote.NewSevenTV(catalogCfg))
		}
	}
	initCtx, cancelInit := context.WithTimeout(ctx, time.Minute)
	cache.Initialize(initCtx)
	cancelInit()

	// Badges: file first, Helix when the file is missing or empty
	badges := badge.NewResolver(logger)
	if err := badges.LoadFile(cfg.BadgeFile); err != nil {
		slog.Warn("badge file not loaded", slog.String("path", cfg.BadgeFile), slog.Any("err", err))
	}
	if badges.Len() == 0 && helix != nil {
		bctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		if err := badges.LoadHelix(bctx, helix); err != nil {
			slog.Warn("helix badge load failed", slog.Any("err", err))
		}
		cancel()
	}
	slog.Info("badge catalog ready", slog.Int("sets", badges.Len()))

	// Viewer hub and status overlay
	viewers := hub.New(hub.Config{
		HeartbeatInterval: cfg.WSHeartbeatInterval,
		IdleTimeout:       cfg.WSIdleTimeout,
		SweepInterval:     cfg.WSSweepInterval,
		WriteTimeout:      cfg.WSWriteTimeout,
		SendBuffer:        cfg.WSSendBuffer,
		AllowedOrigins:    cfg.WSAllowedOrigins,
		Admission: hub.AdmissionConfig{
			MaxConnections:  cfg.WSMaxConnectionsPerIP,
			Window:          cfg.WSConnectionWindow,
			MaxReconnects:   cfg.WSMaxReconnectsPerIP,
			ReconnectWindow: cfg.WSReconnectWindow,
		},
		UpgradeRate:  cfg.WSUpgradeRate,
		UpgradeBurst: cfg.WSUpgradeBurst,
		TrustProxy:   cfg.TrustProxyHeaders,
		Logger:       logger,
	})
	statuses := status.New(status.Config{
		MaxLength:       cfg.StatusMaxLength,
		DefaultDuration: cfg.StatusDefaultDuration,
		MaxDuration:     cfg.StatusMaxDuration,
		Logger:          logger,
	}, viewers)
	defer statuses.Stop()

	// Optional chat archive
	deps := server.Deps{
		Hub:            viewers,
		Cache:          cache,
		Badges:         badges,
		Status:         statuses,
		StaticDir:      cfg.StaticDir,
		AdminToken:     cfg.AdminToken,
		AllowedOrigins: cfg.WSAllowedOrigins,
		TrustProxy:     cfg.TrustProxyHeaders,
		Logger:         logger,
	}
	chatOpts := chat.Options{
		Out:      viewers,
		Cache:    cache,
		Badges:   badges,
		Notifier: statuses,
		Logger:   logger,
	}
	if helix != nil {
		chatOpts.Helix = helix
		deps.Users = helix
	}
	if cfg.ArchiveDSN != "" {
		pool, err := db.Connect(ctx, cfg.ArchiveDSN)
		if err != nil {
			slog.Error("failed to open archive", slog.Any("err", err))
			os.Exit(1)
		}
		defer pool.Close()
		slog.Info("running archive migrations", slog.String("component", "db_migrate"))
		if err := db.Migrate(ctx, pool); err != nil {
			slog.Error("failed to migrate archive", slog.Any("err", err))
			os.Exit(1)
		}
		archive := db.NewArchive(pool, 4096, logger)
		archiveDone := make(chan struct{})
		go func() {
			archive.Run(ctx)
			close(archiveDone)
		}()
		defer func() { <-archiveDone }()
		chatOpts.Archiver = archive
		deps.Archive = pool
	}

	chats := chat.New(chat.Config{
		Username:    cfg.TwitchBotUsername,
		OAuthToken:  cfg.TwitchOAuthToken,
		JoinTimeout: cfg.ChatJoinTimeout,
		Order:       order,
	}, chatOpts)
	defer chats.Close()
	viewers.SetSessions(chats)
	deps.Chat = chats

	hubDone := make(chan struct{})
	go func() {
		viewers.Run(ctx)
		close(hubDone)
	}()

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if cfg.EnablePprof {
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", cfg.PprofAddr))
			srv := &http.Server{
				Addr:              cfg.PprofAddr,
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

	go func() {
		if err := server.Start(ctx, cfg.HTTPAddr, server.NewMux(ctx, deps)); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
			stop()
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
	<-hubDone
}
