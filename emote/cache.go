package emote

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/onnwee/chatmon/telemetry"
)

// DefaultTTL is how long a channel entry is served before it is refreshed.
const DefaultTTL = 30 * time.Minute

// Entry is the aggregated emote view of one channel. It is replaced wholesale
// on refresh and must not be mutated.
type Entry struct {
	ChannelID string
	CreatedAt time.Time
	Emotes    map[Tag]Table
}

// CacheConfig configures a Cache.
type CacheConfig struct {
	TTL time.Duration
	// FetchTimeout bounds one refresh. The refresh runs detached from the
	// caller so an impatient caller does not cancel it for everyone else.
	FetchTimeout time.Duration
	Clock        clockwork.Clock
	Logger       *slog.Logger
}

// Cache aggregates channel emote tables across providers. At most one refresh
// per channel is in flight; concurrent callers share its result.
type Cache struct {
	ttl          time.Duration
	fetchTimeout time.Duration
	clock        clockwork.Clock
	logger       *slog.Logger
	group        singleflight.Group

	mu        sync.RWMutex
	providers []Provider
	entries   map[string]*Entry
	// gens and epoch count invalidations per channel and of the whole cache.
	// A refresh installs its entry only if neither moved while it ran.
	gens  map[string]uint64
	epoch uint64
}

// NewCache creates an empty cache.
func NewCache(cfg CacheConfig) *Cache {
	c := &Cache{
		ttl:          cfg.TTL,
		fetchTimeout: cfg.FetchTimeout,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		entries:      make(map[string]*Entry),
		gens:         make(map[string]uint64),
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.fetchTimeout <= 0 {
		c.fetchTimeout = 30 * time.Second
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With(slog.String("component", "emote_cache"))
	return c
}

// Register adds a provider. Registration order is the order of ParseMessage results.
func (c *Cache) Register(p Provider) {
	c.mu.Lock()
	c.providers = append(c.providers, p)
	c.mu.Unlock()
}

// Providers returns the registered providers.
func (c *Cache) Providers() []Provider {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Provider(nil), c.providers...)
}

// Initialize loads every provider's global set concurrently.
func (c *Cache) Initialize(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range c.Providers() {
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()
			p.Initialize(ctx)
		}(p)
	}
	wg.Wait()
}

// ChannelEmotes returns the live entry for channelID, refreshing it if it is
// missing or expired. It only fails when ctx ends before the refresh does;
// the refresh itself keeps running and fills the cache.
func (c *Cache) ChannelEmotes(ctx context.Context, channelID string) (*Entry, error) {
	c.mu.RLock()
	e, ok := c.entries[channelID]
	gen := c.generation(channelID)
	c.mu.RUnlock()
	if ok && c.clock.Since(e.CreatedAt) < c.ttl {
		telemetry.EmoteCacheLookup("hit")
		return e, nil
	}

	// The generation is part of the key so a lookup after Invalidate never
	// joins a refresh that started before it.
	key := channelID + "@" + strconv.FormatUint(gen, 10)
	refetch := ok || gen > 0
	ch := c.group.DoChan(key, func() (interface{}, error) {
		return c.refresh(channelID, gen, refetch), nil
	})
	select {
	case res := <-ch:
		if res.Shared {
			telemetry.EmoteCacheLookup("shared")
		} else {
			telemetry.EmoteCacheLookup("miss")
		}
		return res.Val.(*Entry), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// generation must be called with c.mu held. It only grows.
func (c *Cache) generation(channelID string) uint64 {
	return c.epoch + c.gens[channelID]
}

// refresh fans out to every provider and installs the assembled entry unless
// the channel was invalidated meanwhile. refetch makes providers go to the
// catalog rather than serve their own memo: the entry expired, or the channel
// was invalidated at some point.
func (c *Cache) refresh(channelID string, gen uint64, refetch bool) *Entry {
	ctx, cancel := context.WithTimeout(context.Background(), c.fetchTimeout)
	defer cancel()

	providers := c.Providers()
	tables := make([]Table, len(providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range providers {
		g.Go(func() error {
			var t Table
			if refetch {
				t = p.Refresh(gctx, channelID)
			} else {
				t = p.GetEmotes(gctx, channelID)
			}
			if t == nil {
				t = Table{}
			}
			tables[i] = t
			return nil
		})
	}
	_ = g.Wait()

	entry := &Entry{
		ChannelID: channelID,
		CreatedAt: c.clock.Now(),
		Emotes:    make(map[Tag]Table, len(providers)),
	}
	for i, p := range providers {
		entry.Emotes[p.Tag()] = tables[i]
	}

	c.mu.Lock()
	current := c.generation(channelID) == gen
	if current {
		c.entries[channelID] = entry
	}
	c.mu.Unlock()

	if !current {
		c.logger.Debug("discarding refresh superseded by invalidation", slog.String("channel_id", channelID))
		return entry
	}
	c.logger.Debug("channel emotes refreshed",
		slog.String("channel_id", channelID),
		slog.Int("providers", len(providers)))
	return entry
}

// Invalidate drops the entry for channelID, or every entry when channelID is
// empty. Providers forget their channel memos too, so the next lookup fetches.
// A refresh already running for an invalidated channel is not installed.
func (c *Cache) Invalidate(channelID string) {
	c.mu.Lock()
	var ids []string
	if channelID == "" {
		for id := range c.entries {
			ids = append(ids, id)
		}
		c.entries = make(map[string]*Entry)
		c.epoch++
	} else {
		delete(c.entries, channelID)
		c.gens[channelID]++
		ids = []string{channelID}
	}
	providers := append([]Provider(nil), c.providers...)
	c.mu.Unlock()

	for _, p := range providers {
		for _, id := range ids {
			p.Forget(id)
		}
	}
}

// ParseMessage makes sure the channel is cached, then lets every provider scan
// text on its own. The lists are returned per provider and are not merged.
func (c *Cache) ParseMessage(ctx context.Context, text, channelID string) (map[Tag][]Match, error) {
	if _, err := c.ChannelEmotes(ctx, channelID); err != nil {
		return nil, err
	}
	out := make(map[Tag][]Match)
	for _, p := range c.Providers() {
		if m := p.ParseMessage(text, channelID); len(m) > 0 {
			out[p.Tag()] = m
		}
	}
	return out, nil
}

// ChannelStats describes one cached channel.
type ChannelStats struct {
	ChannelID string         `json:"channelId"`
	AgeMs     int64          `json:"ageMs"`
	Counts    map[string]int `json:"providerCounts"`
}

// Stats summarizes the cache contents.
type Stats struct {
	TotalChannels int            `json:"totalChannels"`
	Channels      []ChannelStats `json:"channels"`
}

// Stats reports every cached channel ordered by channel id.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Stats{TotalChannels: len(c.entries), Channels: make([]ChannelStats, 0, len(c.entries))}
	for id, e := range c.entries {
		counts := make(map[string]int, len(e.Emotes))
		for tag, t := range e.Emotes {
			counts[string(tag)] = len(t)
		}
		s.Channels = append(s.Channels, ChannelStats{
			ChannelID: id,
			AgeMs:     c.clock.Since(e.CreatedAt).Milliseconds(),
			Counts:    counts,
		})
	}
	sort.Slice(s.Channels, func(i, j int) bool { return s.Channels[i].ChannelID < s.Channels[j].ChannelID })
	return s
}
