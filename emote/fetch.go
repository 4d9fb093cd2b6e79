package emote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/chatmon/telemetry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound reports a 404 from a catalog: the channel simply has no entry there.
var ErrNotFound = errors.New("emote catalog: not found")

const maxCatalogBody = 16 << 20

// FetcherConfig configures a Fetcher. Zero values fall back to defaults.
type FetcherConfig struct {
	HTTPClient *http.Client
	// Timeout bounds a single catalog request.
	Timeout time.Duration
	// BreakerFailures is the number of consecutive failures that opens a
	// provider's breaker; BreakerCooldown is how long it stays open.
	BreakerFailures uint32
	BreakerCooldown time.Duration
	Logger          *slog.Logger
}

// Fetcher performs catalog HTTP requests with one circuit breaker per provider.
type Fetcher struct {
	client   *http.Client
	timeout  time.Duration
	failures uint32
	cooldown time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	breakers map[Tag]*gobreaker.CircuitBreaker
}

// NewFetcher creates a Fetcher.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	f := &Fetcher{
		client:   cfg.HTTPClient,
		timeout:  cfg.Timeout,
		failures: cfg.BreakerFailures,
		cooldown: cfg.BreakerCooldown,
		logger:   cfg.Logger,
		breakers: make(map[Tag]*gobreaker.CircuitBreaker),
	}
	if f.client == nil {
		f.client = http.DefaultClient
	}
	if f.timeout <= 0 {
		f.timeout = 10 * time.Second
	}
	if f.failures == 0 {
		f.failures = 5
	}
	if f.cooldown <= 0 {
		f.cooldown = 30 * time.Second
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	f.logger = f.logger.With(slog.String("component", "emote_fetch"))
	return f
}

func (f *Fetcher) breaker(tag Tag) *gobreaker.CircuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cb, ok := f.breakers[tag]; ok {
		return cb
	}
	failures := f.failures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(tag),
		MaxRequests: 1,
		Timeout:     f.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// A 404 is an answer, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			f.logger.Warn("catalog breaker state changed",
				slog.String("provider", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			telemetry.SetBreakerState(name, to == gobreaker.StateOpen)
		},
	})
	f.breakers[tag] = cb
	return cb
}

// BreakerState reports the breaker state for a provider.
func (f *Fetcher) BreakerState(tag Tag) gobreaker.State {
	return f.breaker(tag).State()
}

// Get fetches url on behalf of the provider identified by tag and returns the body.
// A 404 yields ErrNotFound.
func (f *Fetcher) Get(ctx context.Context, tag Tag, url string) ([]byte, error) {
	ctx, span := telemetry.StartSpan(ctx, "emote", "catalog.fetch",
		attribute.String("emote.provider", string(tag)),
		telemetry.HTTPURLAttr(url),
	)
	defer span.End()

	start := time.Now()
	res, err := f.breaker(tag).Execute(func() (interface{}, error) {
		return f.do(ctx, url)
	})

	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		result = "breaker_open"
	default:
		result = "error"
	}
	telemetry.ObserveEmoteFetch(string(tag), result, time.Since(start))

	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			telemetry.RecordError(span, err)
		}
		return nil, err
	}
	telemetry.SetSpanSuccess(span)
	return res.([]byte), nil
}

func (f *Fetcher) do(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			f.logger.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("catalog request %s: unexpected status %s", url, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCatalogBody))
	if err != nil {
		return nil, fmt.Errorf("read catalog body: %w", err)
	}
	return body, nil
}
