package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewMux returns the HTTP handler with all routes. ctx bounds the admin rate
// limiter cleanup and marks the server as not ready once done.
func NewMux(ctx context.Context, deps Deps) http.Handler {
	return newMux(ctx, deps, newIPRateLimiter(deps.AdminRequestsPerMinute, nil))
}

func newMux(ctx context.Context, deps Deps, limiter *ipRateLimiter) http.Handler {
	h := NewHandlers(ctx, deps)
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.HandleFunc("/readyz", h.HandleReadyz)
	mux.HandleFunc("/stats", h.HandleStats)

	if deps.AdminToken != "" {
		go limiter.cleanupLoop(ctx)
		protect := func(fn http.HandlerFunc) http.Handler {
			return adminAuth(rateLimitMiddleware(fn, limiter, deps.TrustProxy), deps.AdminToken)
		}
		mux.Handle("/admin/emotes/invalidate", protect(h.HandleAdminInvalidateEmotes))
		mux.Handle("/admin/status", protect(h.HandleAdminStatus))
	} else {
		h.log.Info("admin routes disabled: ADMIN_TOKEN not set")
		mux.Handle("/admin/", http.NotFoundHandler())
	}

	mux.HandleFunc("/", h.HandleRoot)

	return withCORS(withTelemetry(mux), deps.AllowedOrigins)
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
