package emote

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// CatalogConfig holds the dependencies shared by the third-party catalogs.
type CatalogConfig struct {
	Fetcher *Fetcher
	// APIBase overrides the catalog host, e.g. an httptest server URL.
	APIBase string
	// InitRetries bounds how often Initialize retries the global set.
	InitRetries uint64
	Logger      *slog.Logger
}

// CatalogProvider is a third-party emote catalog with a global set and
// per-channel sets. BTTV, FFZ and 7TV differ only in URLs and payload decoding.
type CatalogProvider struct {
	tag           Tag
	fetcher       *Fetcher
	globalURL     string
	channelURL    func(channelID string) string
	decodeGlobal  func(body []byte) (Table, error)
	decodeChannel func(body []byte) (Table, error)
	initRetries   uint64
	logger        *slog.Logger

	mu       sync.RWMutex
	global   Table
	channels map[string]Table
}

func newCatalog(tag Tag, cfg CatalogConfig) *CatalogProvider {
	p := &CatalogProvider{
		tag:         tag,
		fetcher:     cfg.Fetcher,
		initRetries: cfg.InitRetries,
		logger:      cfg.Logger,
		global:      Table{},
		channels:    make(map[string]Table),
	}
	if p.fetcher == nil {
		p.fetcher = NewFetcher(FetcherConfig{Logger: cfg.Logger})
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With(slog.String("provider", string(tag)))
	return p
}

func (p *CatalogProvider) Tag() Tag { return p.tag }

// Initialize loads the global set, retrying transient failures. On final
// failure the global set stays empty and the provider remains usable.
func (p *CatalogProvider) Initialize(ctx context.Context) {
	var table Table
	op := func() error {
		body, err := p.fetcher.Get(ctx, p.tag, p.globalURL)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}
		t, err := p.decodeGlobal(body)
		if err != nil {
			return backoff.Permanent(err)
		}
		table = t
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 250 * time.Millisecond
	eb.MaxInterval = 5 * time.Second
	bo := backoff.WithContext(backoff.WithMaxRetries(eb, p.initRetries), ctx)

	if err := backoff.Retry(op, bo); err != nil {
		p.logger.Error("failed to load global emotes", slog.Any("err", err))
		table = Table{}
	}

	p.mu.Lock()
	p.global = table
	p.mu.Unlock()
	p.logger.Info("global emotes loaded", slog.Int("count", len(table)))
}

// GetEmotes returns the memoized channel table, fetching it on first use.
func (p *CatalogProvider) GetEmotes(ctx context.Context, channelID string) Table {
	p.mu.RLock()
	t, ok := p.channels[channelID]
	p.mu.RUnlock()
	if ok {
		return t
	}
	return p.fetchChannel(ctx, channelID)
}

// Refresh re-fetches the channel table. A failed fetch keeps the previous memo.
func (p *CatalogProvider) Refresh(ctx context.Context, channelID string) Table {
	return p.fetchChannel(ctx, channelID)
}

// Forget drops the channel memo so the next GetEmotes fetches again.
func (p *CatalogProvider) Forget(channelID string) {
	p.mu.Lock()
	delete(p.channels, channelID)
	p.mu.Unlock()
}

// ParseMessage matches text against the loaded global and channel tables.
func (p *CatalogProvider) ParseMessage(text, channelID string) []Match {
	p.mu.RLock()
	global, channel := p.global, p.channels[channelID]
	p.mu.RUnlock()
	return scan(text, p.tag, global, channel)
}

// GlobalCount reports the size of the loaded global set.
func (p *CatalogProvider) GlobalCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.global)
}

func (p *CatalogProvider) fetchChannel(ctx context.Context, channelID string) Table {
	log := p.logger.With(slog.String("channel_id", channelID))
	body, err := p.fetcher.Get(ctx, p.tag, p.channelURL(channelID))
	if errors.Is(err, ErrNotFound) {
		log.Debug("channel has no emotes in catalog")
		p.store(channelID, Table{})
		return Table{}
	}
	if err != nil {
		log.Warn("failed to fetch channel emotes", slog.Any("err", err))
		return p.current(channelID)
	}
	t, err := p.decodeChannel(body)
	if err != nil {
		log.Warn("failed to decode channel emotes", slog.Any("err", err))
		return p.current(channelID)
	}
	p.store(channelID, t)
	log.Debug("channel emotes loaded", slog.Int("count", len(t)))
	return t
}

func (p *CatalogProvider) store(channelID string, t Table) {
	p.mu.Lock()
	p.channels[channelID] = t
	p.mu.Unlock()
}

// current returns the memo if any, otherwise an empty table.
func (p *CatalogProvider) current(channelID string) Table {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if t, ok := p.channels[channelID]; ok {
		return t
	}
	return Table{}
}
