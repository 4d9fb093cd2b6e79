// Package status shows transient notices ("Reconnecting to chat…") on a
// channel's overlay. At most one notice is on screen per channel; later ones
// wait in a FIFO queue and take over when the current one expires.
package status

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/chatmon/telemetry"
)

// Publisher delivers an envelope to every viewer of a channel.
type Publisher interface {
	Broadcast(channel string, payload interface{}) int
}

// Envelope is the status message sent to viewers. A nil Content clears the notice.
type Envelope struct {
	Type string `json:"type"`
	Data Update `json:"data"`
}

// Update is the payload of an Envelope.
type Update struct {
	Type      string  `json:"type"`
	Content   *string `json:"content"`
	Timestamp int64   `json:"timestamp"`
}

// Config tunes the scheduler. Zero values fall back to defaults.
type Config struct {
	MaxLength       int
	DefaultDuration time.Duration
	MaxDuration     time.Duration
	Clock           clockwork.Clock
	Logger          *slog.Logger
}

type entry struct {
	text string
	d    time.Duration
}

// state exists only while a notice is on screen.
type state struct {
	current string
	timer   clockwork.Timer
	gen     uint64
	queue   []entry
}

// Scheduler is safe for concurrent use.
type Scheduler struct {
	cfg Config
	out Publisher

	mu       sync.Mutex
	channels map[string]*state
	gen      uint64
}

// New creates a Scheduler publishing to out.
func New(cfg Config, out Publisher) *Scheduler {
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = 200
	}
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = 5 * time.Second
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 30 * time.Second
	}
	if cfg.DefaultDuration > cfg.MaxDuration {
		cfg.DefaultDuration = cfg.MaxDuration
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Logger = cfg.Logger.With(slog.String("component", "status"))
	return &Scheduler{cfg: cfg, out: out, channels: make(map[string]*state)}
}

// Send shows text on channel for d, or queues it behind the notice already
// showing. A non-positive d uses the default duration; d is capped at the
// maximum. Text longer than the maximum length is truncated.
func (s *Scheduler) Send(channel, text string, d time.Duration) {
	channel = strings.ToLower(channel)
	e := entry{text: s.truncate(text), d: s.clamp(d)}

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.channels[channel]
	if !ok {
		st = &state{}
		s.channels[channel] = st
		s.show(channel, st, e)
		return
	}
	st.queue = append(st.queue, e)
	telemetry.StatusEvent("queued")
	s.cfg.Logger.Debug("status queued", slog.String("channel", channel), slog.Int("pending", len(st.queue)))
}

// Clear removes the current notice and everything queued behind it, and tells
// viewers to clear right away.
func (s *Scheduler) Clear(channel string) {
	channel = strings.ToLower(channel)
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.channels[channel]; ok {
		st.timer.Stop()
		delete(s.channels, channel)
	}
	s.publish(channel, nil)
}

// Current returns the notice on screen for channel and the queue length.
func (s *Scheduler) Current(channel string) (text string, pending int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.channels[strings.ToLower(channel)]
	if !ok {
		return "", 0, false
	}
	return st.current, len(st.queue), true
}

// Stop cancels every timer without publishing anything.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch, st := range s.channels {
		st.timer.Stop()
		delete(s.channels, ch)
	}
}

// show must be called with s.mu held.
func (s *Scheduler) show(channel string, st *state, e entry) {
	s.gen++
	gen := s.gen
	st.gen = gen
	st.current = e.text
	st.timer = s.cfg.Clock.AfterFunc(e.d, func() { s.expire(channel, gen) })
	text := e.text
	s.publish(channel, &text)
}

func (s *Scheduler) expire(channel string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.channels[channel]
	if !ok || st.gen != gen {
		// cleared or superseded while the timer was firing
		return
	}
	if len(st.queue) > 0 {
		next := st.queue[0]
		st.queue = st.queue[1:]
		s.show(channel, st, next)
		return
	}
	delete(s.channels, channel)
	s.publish(channel, nil)
}

func (s *Scheduler) publish(channel string, content *string) {
	kind := "shown"
	if content == nil {
		kind = "cleared"
	}
	telemetry.StatusEvent(kind)
	s.out.Broadcast(channel, Envelope{
		Type: "status_update",
		Data: Update{Type: "status", Content: content, Timestamp: s.cfg.Clock.Now().UnixMilli()},
	})
}

func (s *Scheduler) truncate(text string) string {
	r := []rune(text)
	if len(r) <= s.cfg.MaxLength {
		return text
	}
	return string(r[:s.cfg.MaxLength])
}

func (s *Scheduler) clamp(d time.Duration) time.Duration {
	if d <= 0 {
		return s.cfg.DefaultDuration
	}
	if d > s.cfg.MaxDuration {
		return s.cfg.MaxDuration
	}
	return d
}
