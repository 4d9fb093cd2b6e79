package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"github.com/jonboulle/clockwork"

	"github.com/onnwee/chatmon/badge"
	"github.com/onnwee/chatmon/emote"
	"github.com/onnwee/chatmon/telemetry"
)

var (
	// ErrJoinTimeout is returned when the upstream server does not accept a join in time.
	ErrJoinTimeout = errors.New("chat: join timed out")
	// ErrClosed is returned by Join after Close.
	ErrClosed = errors.New("chat: manager closed")
)

const (
	reconnectingText = "Reconnecting to chat…"
	reconnectedText  = "Reconnected to chat"
	noticeDuration   = 5 * time.Second
)

// Client is the part of the go-twitch-irc client the manager drives.
type Client interface {
	OnConnect(func())
	OnPrivateMessage(func(twitch.PrivateMessage))
	OnRoomStateMessage(func(twitch.RoomStateMessage))
	OnReconnectMessage(func(twitch.ReconnectMessage))
	Join(channels ...string)
	Connect() error
	Disconnect() error
}

// Broadcaster fans a payload out to the viewers of a channel and reports how
// many it reached.
type Broadcaster interface {
	Broadcast(channel string, payload interface{}) int
}

// Notifier shows a transient status line on a channel's overlay.
type Notifier interface {
	Send(channel, text string, d time.Duration)
}

// Record is one relayed message with its routing metadata.
type Record struct {
	Channel    string
	RoomID     string
	ReceivedAt time.Time
	Message    Message
}

// Archiver receives relayed messages. It must not block.
type Archiver interface {
	Archive(r Record)
}

// Message is the envelope sent to viewers for each chat line.
type Message struct {
	User    string        `json:"user"`
	UserID  string        `json:"userId"`
	Color   string        `json:"color"`
	Badges  []badge.Badge `json:"badges"`
	Content string        `json:"content"`
	Emotes  []emote.Match `json:"emotes"`
}

// Config tunes the manager.
type Config struct {
	// Username and OAuthToken select an authenticated login; both empty means anonymous.
	Username   string
	OAuthToken string
	// JoinTimeout bounds how long Join waits for the server.
	JoinTimeout time.Duration
	// ParseTimeout bounds the emote lookup for one message.
	ParseTimeout time.Duration
	// Order is the third-party priority used when merging emotes.
	Order []emote.Tag
}

// Options carries the manager's collaborators. Out, Cache and Badges are required.
type Options struct {
	Out      Broadcaster
	Cache    *emote.Cache
	Badges   *badge.Resolver
	Helix    badge.HelixSource
	Notifier Notifier
	Archiver Archiver
	// Dial creates a client; nil uses go-twitch-irc.
	Dial   func() Client
	Clock  clockwork.Clock
	Logger *slog.Logger
}

type session struct {
	channel string
	client  Client

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	err       error

	reconnecting atomic.Bool
	closeOnce    sync.Once
}

func (s *session) disconnect(logger *slog.Logger) {
	s.closeOnce.Do(func() {
		if err := s.client.Disconnect(); err != nil && !errors.Is(err, twitch.ErrClientDisconnected) {
			logger.Debug("chat disconnect", slog.String("channel", s.channel), slog.Any("err", err))
		}
	})
}

// Manager owns one upstream chat session per channel.
type Manager struct {
	cfg      Config
	out      Broadcaster
	cache    *emote.Cache
	native   *emote.Twitch
	badges   *badge.Resolver
	helix    badge.HelixSource
	notifier Notifier
	archiver Archiver
	dial     func() Client
	clock    clockwork.Clock
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

// New creates a Manager.
func New(cfg Config, opts Options) *Manager {
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 15 * time.Second
	}
	if cfg.ParseTimeout <= 0 {
		cfg.ParseTimeout = 5 * time.Second
	}
	if len(cfg.Order) == 0 {
		cfg.Order = emote.DefaultOrder
	}
	m := &Manager{
		cfg:      cfg,
		out:      opts.Out,
		cache:    opts.Cache,
		native:   emote.NewTwitch(),
		badges:   opts.Badges,
		helix:    opts.Helix,
		notifier: opts.Notifier,
		archiver: opts.Archiver,
		dial:     opts.Dial,
		clock:    opts.Clock,
		logger:   opts.Logger,
		sessions: make(map[string]*session),
	}
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With(slog.String("component", "chat"))
	if m.dial == nil {
		m.dial = func() Client { return newTwitchClient(cfg.Username, cfg.OAuthToken) }
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}

func newTwitchClient(username, token string) Client {
	if username == "" || token == "" {
		return twitch.NewAnonymousClient()
	}
	if !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	return twitch.NewClient(username, token)
}

// Join makes sure channel has a live upstream session, creating one if needed,
// and waits until the server has accepted it. Concurrent joins for the same
// channel share one session. A failed or timed out join removes the session
// so the next caller starts over.
func (m *Manager) Join(ctx context.Context, channel string) error {
	channel = strings.ToLower(channel)
	ctx, span := telemetry.StartSpan(ctx, "chat", "chat.join", telemetry.ChannelAttr(channel))
	defer span.End()
	err := m.join(ctx, channel)
	telemetry.RecordError(span, err)
	return err
}

func (m *Manager) join(ctx context.Context, channel string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	s, ok := m.sessions[channel]
	if !ok {
		s = m.start(channel)
		m.sessions[channel] = s
		telemetry.SetChatSessions(len(m.sessions))
	}
	m.mu.Unlock()

	select {
	case <-s.ready:
		return nil
	default:
	}

	select {
	case <-s.ready:
		return nil
	case <-s.done:
		m.drop(s)
		if s.err == nil {
			return fmt.Errorf("join %s: connection closed", channel)
		}
		return fmt.Errorf("join %s: %w", channel, s.err)
	case <-m.clock.After(m.cfg.JoinTimeout):
		m.drop(s)
		return fmt.Errorf("join %s: %w", channel, ErrJoinTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Leave tears the channel's session down without waiting for the disconnect.
func (m *Manager) Leave(channel string) {
	channel = strings.ToLower(channel)
	m.mu.Lock()
	s, ok := m.sessions[channel]
	if ok {
		delete(m.sessions, channel)
		telemetry.SetChatSessions(len(m.sessions))
	}
	m.mu.Unlock()
	if ok {
		m.logger.Info("leaving chat", slog.String("channel", channel))
		go s.disconnect(m.logger)
	}
}

// Channels lists the channels with a session.
func (m *Manager) Channels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions))
	for ch := range m.sessions {
		out = append(out, ch)
	}
	return out
}

// Close disconnects every session and rejects further joins.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*session)
	m.mu.Unlock()
	telemetry.SetChatSessions(0)
	m.cancel()
	for _, s := range sessions {
		s.disconnect(m.logger)
	}
}

// drop removes s if it is still the registered session for its channel.
func (m *Manager) drop(s *session) {
	m.mu.Lock()
	if cur, ok := m.sessions[s.channel]; ok && cur == s {
		delete(m.sessions, s.channel)
		telemetry.SetChatSessions(len(m.sessions))
	}
	m.mu.Unlock()
	s.disconnect(m.logger)
}

func (m *Manager) start(channel string) *session {
	s := &session{
		channel: channel,
		client:  m.dial(),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	log := m.logger.With(slog.String("channel", channel))

	s.client.OnConnect(func() {
		first := false
		s.readyOnce.Do(func() {
			close(s.ready)
			first = true
		})
		if first {
			log.Info("joined chat")
			return
		}
		if s.reconnecting.Swap(false) {
			log.Info("reconnected to chat")
			m.notify(channel, reconnectedText)
		}
	})
	s.client.OnReconnectMessage(func(twitch.ReconnectMessage) {
		s.reconnecting.Store(true)
		log.Warn("chat server requested reconnect")
		m.notify(channel, reconnectingText)
	})
	s.client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		m.handleMessage(channel, msg)
	})
	s.client.OnRoomStateMessage(func(msg twitch.RoomStateMessage) {
		m.handleRoomState(channel, msg)
	})
	s.client.Join(channel)

	go func() {
		err := s.client.Connect()
		if errors.Is(err, twitch.ErrClientDisconnected) {
			err = nil
		}
		s.err = err
		close(s.done)
		if err != nil {
			log.Error("chat connection ended", slog.Any("err", err))
		}
		m.drop(s)
	}()
	return s
}

func (m *Manager) notify(channel, text string) {
	if m.notifier != nil {
		m.notifier.Send(channel, text, noticeDuration)
	}
}

func roomID(id string, tags map[string]string) string {
	if id != "" {
		return id
	}
	return tags["room-id"]
}

func (m *Manager) handleMessage(channel string, msg twitch.PrivateMessage) {
	room := roomID(msg.RoomID, msg.Tags)
	if room == "" {
		m.logger.Warn("dropping message without room-id", slog.String("channel", channel))
		telemetry.MessageDropped("no_room_id")
		return
	}

	out := m.annotate(room, msg)
	m.out.Broadcast(channel, out)
	telemetry.MessageRelayed()

	if m.archiver != nil {
		m.archiver.Archive(Record{Channel: channel, RoomID: room, ReceivedAt: m.clock.Now(), Message: out})
	}
}

func (m *Manager) annotate(room string, msg twitch.PrivateMessage) Message {
	native := m.native.ParseTag(msg.Message, msg.Tags["emotes"])

	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.ParseTimeout)
	defer cancel()
	byTag, err := m.cache.ParseMessage(ctx, msg.Message, room)
	if err != nil {
		// The refresh keeps running; this message goes out with native emotes only.
		m.logger.Warn("emote lookup timed out", slog.String("room_id", room), slog.Any("err", err))
	}

	emotes := emote.Merge(emote.Ordered(m.cfg.Order, native, byTag)...)
	if emotes == nil {
		emotes = []emote.Match{}
	}

	user := msg.User.DisplayName
	if user == "" {
		user = msg.User.Name
	}
	return Message{
		User:    user,
		UserID:  msg.User.ID,
		Color:   msg.User.Color,
		Badges:  m.badges.Parse(room, msg.Tags["badges"]),
		Content: msg.Message,
		Emotes:  emotes,
	}
}

// handleRoomState warms the emote cache (and channel badges) for the room so the
// first message does not pay for the fetch.
func (m *Manager) handleRoomState(channel string, msg twitch.RoomStateMessage) {
	room := roomID(msg.RoomID, msg.Tags)
	if room == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(m.ctx, m.cfg.JoinTimeout)
		defer cancel()
		if _, err := m.cache.ChannelEmotes(ctx, room); err != nil {
			m.logger.Warn("emote prefetch failed", slog.String("channel", channel), slog.Any("err", err))
		}
		if m.helix != nil && !m.badges.HasChannel(room) {
			if err := m.badges.LoadChannel(ctx, m.helix, room); err != nil {
				m.logger.Warn("channel badge load failed", slog.String("channel", channel), slog.Any("err", err))
			}
		}
	}()
}
