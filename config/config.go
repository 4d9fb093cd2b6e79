// Package config loads environment variables into the typed Config used across the service.
// Every key has a default so the binary runs locally with no setup; Twitch credentials only
// unlock authenticated chat and Helix badge loading.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"

	"github.com/onnwee/chatmon/emote"
)

type Config struct {
	HTTPAddr  string `env:"HTTP_ADDR" default:":3000"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
	StaticDir string `env:"STATIC_DIR" default:"public"`
	BadgeFile string `env:"BADGE_FILE" default:"public/twitch-badges.json"`

	// Twitch
	TwitchClientID     string `env:"TWITCH_CLIENT_ID"`
	TwitchClientSecret string `env:"TWITCH_CLIENT_SECRET"`
	TwitchBotUsername  string `env:"TWITCH_BOT_USERNAME"`
	TwitchOAuthToken   string `env:"TWITCH_OAUTH_TOKEN"`

	// Emotes
	EmoteCacheTTL        time.Duration `env:"EMOTE_CACHE_TTL" default:"30m"`
	EmoteProviderOrder   []string      `env:"EMOTE_PROVIDER_ORDER" default:"bttv,ffz,7tv"`
	EmoteFetchTimeout    time.Duration `env:"EMOTE_FETCH_TIMEOUT" default:"10s"`
	EmoteBreakerFailures int           `env:"EMOTE_BREAKER_FAILURES" default:"5"`
	EmoteBreakerCooldown time.Duration `env:"EMOTE_BREAKER_COOLDOWN" default:"30s"`
	ChatJoinTimeout      time.Duration `env:"CHAT_JOIN_TIMEOUT" default:"15s"`

	// Viewer connections
	WSHeartbeatInterval   time.Duration `env:"WS_HEARTBEAT_INTERVAL" default:"30s"`
	WSIdleTimeout         time.Duration `env:"WS_IDLE_TIMEOUT" default:"1h"`
	WSSweepInterval       time.Duration `env:"WS_SWEEP_INTERVAL" default:"1m"`
	WSWriteTimeout        time.Duration `env:"WS_WRITE_TIMEOUT" default:"5s"`
	WSSendBuffer          int           `env:"WS_SEND_BUFFER" default:"64"`
	WSAllowedOrigins      []string      `env:"WS_ALLOWED_ORIGINS"`
	WSMaxConnectionsPerIP int           `env:"WS_MAX_CONNECTIONS_PER_IP" default:"10"`
	WSConnectionWindow    time.Duration `env:"WS_CONNECTION_WINDOW" default:"1m"`
	WSMaxReconnectsPerIP  int           `env:"WS_MAX_RECONNECTS_PER_IP" default:"20"`
	WSReconnectWindow     time.Duration `env:"WS_RECONNECT_WINDOW" default:"10s"`
	WSUpgradeRate         float64       `env:"WS_UPGRADE_RATE" default:"50"`
	WSUpgradeBurst        int           `env:"WS_UPGRADE_BURST" default:"100"`
	TrustProxyHeaders     bool          `env:"TRUST_PROXY_HEADERS" default:"false"`

	// Status overlay
	StatusMaxLength       int           `env:"STATUS_MAX_LENGTH" default:"200"`
	StatusDefaultDuration time.Duration `env:"STATUS_DEFAULT_DURATION" default:"5s"`
	StatusMaxDuration     time.Duration `env:"STATUS_MAX_DURATION" default:"30s"`

	ArchiveDSN   string `env:"ARCHIVE_DSN"`
	AdminToken   string `env:"ADMIN_TOKEN"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// TraceSampleRatio is the fraction of root traces recorded.
	TraceSampleRatio float64 `env:"OTEL_SAMPLE_RATIO" default:"1"`

	// Profiling
	EnablePprof bool   `env:"ENABLE_PPROF" default:"false"`
	PprofAddr   string `env:"PPROF_ADDR" default:"localhost:6060"`
}

// Load reads an optional .env file, then the environment, and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, &env.Options{SliceSep: ","}); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.EmoteProviderOrder = trimAll(c.EmoteProviderOrder, true)
	c.WSAllowedOrigins = trimAll(c.WSAllowedOrigins, false)
	if c.TwitchOAuthToken != "" && !strings.HasPrefix(c.TwitchOAuthToken, "oauth:") {
		c.TwitchOAuthToken = "oauth:" + c.TwitchOAuthToken
	}
}

func trimAll(in []string, lower bool) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if lower {
			s = strings.ToLower(s)
		}
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	positive := map[string]time.Duration{
		"EMOTE_CACHE_TTL":         c.EmoteCacheTTL,
		"EMOTE_FETCH_TIMEOUT":     c.EmoteFetchTimeout,
		"EMOTE_BREAKER_COOLDOWN":  c.EmoteBreakerCooldown,
		"CHAT_JOIN_TIMEOUT":       c.ChatJoinTimeout,
		"WS_HEARTBEAT_INTERVAL":   c.WSHeartbeatInterval,
		"WS_IDLE_TIMEOUT":         c.WSIdleTimeout,
		"WS_SWEEP_INTERVAL":       c.WSSweepInterval,
		"WS_WRITE_TIMEOUT":        c.WSWriteTimeout,
		"WS_CONNECTION_WINDOW":    c.WSConnectionWindow,
		"WS_RECONNECT_WINDOW":     c.WSReconnectWindow,
		"STATUS_DEFAULT_DURATION": c.StatusDefaultDuration,
		"STATUS_MAX_DURATION":     c.StatusMaxDuration,
	}
	for name, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.EmoteBreakerFailures < 1 {
		return errors.New("EMOTE_BREAKER_FAILURES must be at least 1")
	}
	if c.WSSendBuffer < 1 || c.WSMaxConnectionsPerIP < 1 || c.WSMaxReconnectsPerIP < 1 {
		return errors.New("WS_SEND_BUFFER, WS_MAX_CONNECTIONS_PER_IP and WS_MAX_RECONNECTS_PER_IP must be at least 1")
	}
	if c.WSUpgradeRate < 0 {
		return errors.New("WS_UPGRADE_RATE must not be negative")
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return errors.New("OTEL_SAMPLE_RATIO must be between 0 and 1")
	}
	if c.StatusMaxLength < 1 {
		return errors.New("STATUS_MAX_LENGTH must be at least 1")
	}
	if c.StatusDefaultDuration > c.StatusMaxDuration {
		return errors.New("STATUS_DEFAULT_DURATION must not exceed STATUS_MAX_DURATION")
	}
	if _, err := emote.ParseOrder(strings.Join(c.EmoteProviderOrder, ",")); err != nil {
		return fmt.Errorf("EMOTE_PROVIDER_ORDER: %w", err)
	}
	if (c.TwitchClientID == "") != (c.TwitchClientSecret == "") {
		return errors.New("TWITCH_CLIENT_ID and TWITCH_CLIENT_SECRET must be set together")
	}
	if c.TwitchOAuthToken != "" && c.TwitchBotUsername == "" {
		return errors.New("TWITCH_BOT_USERNAME is required with TWITCH_OAUTH_TOKEN")
	}
	return nil
}

// HelixEnabled reports whether app credentials for Helix are configured.
func (c *Config) HelixEnabled() bool {
	return c.TwitchClientID != "" && c.TwitchClientSecret != ""
}
