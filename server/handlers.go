// Package server exposes the HTTP surface: the viewer upgrade route, the overlay page,
// health, readiness, metrics, cache stats and the token protected admin routes.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/onnwee/chatmon/emote"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ViewerHub accepts viewer upgrades and reports viewer counts per channel.
type ViewerHub interface {
	http.Handler
	Channels() map[string]int
}

// EmoteCache is the part of the emote cache exposed over HTTP.
type EmoteCache interface {
	Stats() emote.Stats
	Invalidate(channelID string)
}

// BadgeCache holds per-channel badge catalogs.
type BadgeCache interface {
	ForgetChannel(channelID string)
}

// StatusBoard posts and clears status overlay messages.
type StatusBoard interface {
	Send(channel, text string, d time.Duration)
	Clear(channel string)
}

// ChatSessions lists the channels with a live chat connection.
type ChatSessions interface {
	Channels() []string
}

// UserLookup resolves a channel login to its numeric id.
type UserLookup interface {
	GetUserID(ctx context.Context, login string) (string, error)
}

// Pinger checks a backing store, e.g. the archive pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the components the handlers serve. Only Hub is required.
type Deps struct {
	Hub     ViewerHub
	Cache   EmoteCache
	Badges  BadgeCache
	Status  StatusBoard
	Chat    ChatSessions
	Users   UserLookup
	Archive Pinger

	StaticDir      string
	AdminToken     string
	AllowedOrigins []string
	TrustProxy     bool
	// AdminRequestsPerMinute caps admin calls per client IP. Zero uses the default.
	AdminRequestsPerMinute int
	Logger                 *slog.Logger
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	ctx  context.Context
	deps Deps
	log  *slog.Logger
}

// NewHandlers creates a new Handlers instance. ctx marks the server lifetime;
// readiness fails once it is done.
func NewHandlers(ctx context.Context, deps Deps) *Handlers {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{ctx: ctx, deps: deps, log: log.With(slog.String("component", "http"))}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
