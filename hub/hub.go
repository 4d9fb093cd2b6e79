// Package hub accepts overlay viewers over WebSocket, groups them by channel
// and fans chat payloads out to them.
package hub

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/time/rate"

	"github.com/onnwee/chatmon/telemetry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Close codes sent to viewers.
const (
	ClosePolicy      = websocket.ClosePolicyViolation   // 1008
	CloseSetupFailed = websocket.CloseInternalServerErr // 1011
)

// Sessions keeps the upstream chat connection for a channel alive while it has
// viewers.
type Sessions interface {
	Join(ctx context.Context, channel string) error
	Leave(channel string)
}

// Config configures a Hub.
type Config struct {
	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration
	SweepInterval     time.Duration
	WriteTimeout      time.Duration
	SendBuffer        int
	// AllowedOrigins restricts the Origin header. Empty allows any origin.
	AllowedOrigins []string
	Admission      AdmissionConfig
	// UpgradeRate caps upgrades per second across all clients. Zero disables it.
	UpgradeRate  float64
	UpgradeBurst int
	// TrustProxy takes the client IP from X-Forwarded-For.
	TrustProxy bool
	Clock      clockwork.Clock
	Logger     *slog.Logger
}

// Hub tracks viewers per channel.
type Hub struct {
	cfg       Config
	clock     clockwork.Clock
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	limiter   *rate.Limiter
	admission *Admission

	mu       sync.Mutex
	sessions Sessions
	channels map[string]map[*viewer]struct{}
}

// New creates a Hub. Call SetSessions before serving and Run to start the
// heartbeat and sweep loops.
func New(cfg Config) *Hub {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &Hub{
		cfg:       cfg,
		clock:     cfg.Clock,
		logger:    cfg.Logger.With(slog.String("component", "hub")),
		admission: NewAdmission(cfg.Admission, cfg.Clock),
		channels:  make(map[string]map[*viewer]struct{}),
	}
	h.limiter = rate.NewLimiter(rate.Inf, 0)
	if cfg.UpgradeRate > 0 {
		burst := cfg.UpgradeBurst
		if burst <= 0 {
			burst = int(cfg.UpgradeRate) + 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(cfg.UpgradeRate), burst)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// SetSessions sets the chat session manager.
func (h *Hub) SetSessions(s Sessions) {
	h.mu.Lock()
	h.sessions = s
	h.mu.Unlock()
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func (h *Hub) clientIP(r *http.Request) string {
	if h.cfg.TrustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
				return first
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// IsUpgrade reports whether r asks for a WebSocket upgrade.
func IsUpgrade(r *http.Request) bool {
	return websocket.IsWebSocketUpgrade(r)
}

// ServeHTTP upgrades the request and serves the viewer until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow() {
		telemetry.ViewerConnected("overloaded")
		http.Error(w, "server busy", http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", slog.Any("err", err))
		return
	}

	channel, ok := ChannelFromPath(r.URL.Path)
	if !ok {
		telemetry.ViewerConnected("rejected_path")
		h.reject(conn, ClosePolicy, "invalid channel")
		return
	}
	ip := h.clientIP(r)
	if !h.admission.Admit(ip) {
		telemetry.ViewerConnected("rate_limited")
		h.logger.Info("viewer rejected by admission", slog.String("ip", ip), slog.String("channel", channel))
		h.reject(conn, ClosePolicy, "rate limit exceeded")
		return
	}

	v := newViewer(conn, channel, ip, h.cfg.SendBuffer, h.cfg.WriteTimeout, h.clock)
	log := h.logger.With(slog.String("viewer", v.id), slog.String("channel", channel))
	sessions := h.register(v)

	if sessions != nil {
		if err := sessions.Join(r.Context(), channel); err != nil {
			telemetry.ViewerConnected("join_failed")
			log.Warn("chat join failed", slog.Any("err", err))
			h.remove(v, CloseSetupFailed, "chat unavailable", "join_failed")
			return
		}
	}
	if !v.activate() {
		// closed while joining
		h.remove(v, websocket.CloseNormalClosure, "", "closed")
		return
	}
	telemetry.ViewerConnected("accepted")
	log.Info("viewer connected", slog.String("ip", ip))

	go h.writeLoop(v)
	h.readLoop(v)
}

// writeLoop runs the viewer's writer and removes the viewer if a write fails.
func (h *Hub) writeLoop(v *viewer) {
	v.writeLoop(func(err error) {
		h.logger.Debug("write failed", slog.String("viewer", v.id), slog.String("channel", v.channel), slog.Any("err", err))
		h.remove(v, websocket.CloseAbnormalClosure, "", "write_error")
	})
}

// readLoop consumes control frames. Viewers never send data; any data frame
// closes the connection.
func (h *Hub) readLoop(v *viewer) {
	v.conn.SetReadLimit(4096)
	v.conn.SetPongHandler(func(string) error {
		v.alive.Store(true)
		return nil
	})
	for {
		if _, _, err := v.conn.NextReader(); err != nil {
			h.remove(v, websocket.CloseNormalClosure, "", "closed")
			return
		}
		h.remove(v, ClosePolicy, "unexpected payload", "payload")
		return
	}
}

func (h *Hub) reject(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.cfg.WriteTimeout))
	_ = conn.Close()
}

// register adds v to its channel set and returns the session manager to join.
func (h *Hub) register(v *viewer) Sessions {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.channels[v.channel]
	if !ok {
		set = make(map[*viewer]struct{})
		h.channels[v.channel] = set
	}
	set[v] = struct{}{}
	return h.sessions
}

// remove closes v and drops it from its channel. The chat session is released
// when the last viewer leaves. Safe to call more than once.
func (h *Hub) remove(v *viewer, code int, text, reason string) {
	wasActive := v.getState() == stateActive
	v.close(code, text)
	h.detach(v, wasActive, reason)
}

// terminate is remove without a close handshake.
func (h *Hub) terminate(v *viewer, reason string) {
	wasActive := v.getState() == stateActive
	v.terminate()
	h.detach(v, wasActive, reason)
}

func (h *Hub) detach(v *viewer, wasActive bool, reason string) {
	h.mu.Lock()
	set := h.channels[v.channel]
	_, present := set[v]
	if present {
		delete(set, v)
		if len(set) == 0 {
			delete(h.channels, v.channel)
			if h.sessions != nil {
				h.sessions.Leave(v.channel)
			}
		}
	}
	h.mu.Unlock()

	if !present {
		return
	}
	h.admission.Release(v.ip)
	if wasActive {
		telemetry.ViewerDisconnected(reason)
		h.logger.Info("viewer disconnected",
			slog.String("viewer", v.id),
			slog.String("channel", v.channel),
			slog.String("reason", reason))
	}
}

func (h *Hub) viewers(channel string, activeOnly bool) []*viewer {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*viewer
	add := func(set map[*viewer]struct{}) {
		for v := range set {
			if !activeOnly || v.getState() == stateActive {
				out = append(out, v)
			}
		}
	}
	if channel != "" {
		add(h.channels[channel])
		return out
	}
	for _, set := range h.channels {
		add(set)
	}
	return out
}

// Broadcast serializes payload once and queues it to every active viewer of
// channel. A viewer whose buffer is full is disconnected; others are not
// affected. It returns the number of viewers the payload was queued to.
func (h *Hub) Broadcast(channel string, payload interface{}) int {
	targets := h.viewers(strings.ToLower(channel), true)
	if len(targets) == 0 {
		return 0
	}
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to encode broadcast", slog.String("channel", channel), slog.Any("err", err))
		return 0
	}
	n := 0
	for _, v := range targets {
		switch err := v.enqueue(data); err {
		case nil:
			n++
		case errBufferFull:
			h.logger.Warn("viewer too slow, disconnecting", slog.String("viewer", v.id), slog.String("channel", v.channel))
			h.remove(v, websocket.CloseTryAgainLater, "send buffer full", "slow")
		}
	}
	telemetry.ObserveFanout(n)
	return n
}

// ViewerCount reports the number of registered viewers on channel.
func (h *Hub) ViewerCount(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels[strings.ToLower(channel)])
}

// Channels returns the viewer count of every channel with viewers.
func (h *Hub) Channels() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]int, len(h.channels))
	for ch, set := range h.channels {
		out[ch] = len(set)
	}
	return out
}

// Run drives heartbeats and the idle sweep until ctx ends, then closes every
// viewer.
func (h *Hub) Run(ctx context.Context) {
	heartbeat := h.clock.NewTicker(h.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	sweep := h.clock.NewTicker(h.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-heartbeat.Chan():
			h.heartbeat()
		case <-sweep.Chan():
			h.sweep()
		}
	}
}

// heartbeat terminates viewers that did not answer the previous ping and pings
// the rest.
func (h *Hub) heartbeat() {
	for _, v := range h.viewers("", true) {
		if !v.alive.Swap(false) {
			h.logger.Info("viewer missed heartbeat", slog.String("viewer", v.id), slog.String("channel", v.channel))
			h.terminate(v, "heartbeat")
			continue
		}
		go func(v *viewer) {
			if err := v.ping(); err != nil {
				h.terminate(v, "write_error")
			}
		}(v)
	}
}

// sweep closes viewers connected for IdleTimeout, however well they answer
// pings or how busy their channel is, and prunes admission records.
func (h *Hub) sweep() {
	for _, v := range h.viewers("", false) {
		if v.idleFor() >= h.cfg.IdleTimeout {
			h.remove(v, websocket.CloseNormalClosure, "idle timeout", "idle")
		}
	}
	if n := h.admission.Prune(); n > 0 {
		h.logger.Debug("pruned admission records", slog.Int("count", n))
	}
}

func (h *Hub) closeAll() {
	for _, v := range h.viewers("", false) {
		h.remove(v, websocket.CloseGoingAway, "server shutting down", "shutdown")
	}
}
