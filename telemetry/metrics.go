// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Viewers
	ViewersConnected   prometheus.Gauge
	ViewerConnections  *prometheus.CounterVec // result=accepted|rejected_path|rate_limited|overloaded|join_failed
	ViewerDisconnects  *prometheus.CounterVec // reason=closed|heartbeat|idle|slow|payload|shutdown
	BroadcastFanout    prometheus.Observer
	ChatSessionsActive prometheus.Gauge

	// Relay
	MessagesRelayed prometheus.Counter
	MessagesDropped *prometheus.CounterVec

	// Emote catalogs
	EmoteFetches       *prometheus.CounterVec
	EmoteFetchDuration *prometheus.HistogramVec
	EmoteCacheLookups  *prometheus.CounterVec // result=hit|miss|shared
	EmoteBreakerOpen   *prometheus.GaugeVec   // 1=open,0=closed

	StatusEvents *prometheus.CounterVec // kind=shown|queued|cleared

	// Archive
	ArchiveWrites        *prometheus.CounterVec
	ArchiveWriteDuration prometheus.Observer
	ArchiveQueueDepth    prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		ViewersConnected = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatmon_viewers_connected", Help: "Currently connected overlay viewers"})
		ViewerConnections = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatmon_viewer_connections_total", Help: "Viewer connection attempts by outcome"}, []string{"result"})
		ViewerDisconnects = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatmon_viewer_disconnects_total", Help: "Viewer disconnects by reason"}, []string{"reason"})
		BroadcastFanout = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chatmon_broadcast_fanout", Help: "Viewers reached per broadcast", Buckets: prometheus.ExponentialBuckets(1, 2, 10)})
		ChatSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatmon_chat_sessions_active", Help: "Channels with a live chat session"})
		MessagesRelayed = promauto.NewCounter(prometheus.CounterOpts{Name: "chatmon_messages_relayed_total", Help: "Chat messages relayed to viewers"})
		MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatmon_messages_dropped_total", Help: "Chat messages dropped before relay"}, []string{"reason"})
		EmoteFetches = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatmon_emote_fetch_total", Help: "Emote catalog requests by provider and outcome"}, []string{"provider", "result"})
		EmoteFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "chatmon_emote_fetch_duration_seconds", Help: "Emote catalog request duration seconds", Buckets: prometheus.DefBuckets}, []string{"provider"})
		EmoteCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatmon_emote_cache_lookups_total", Help: "Channel emote cache lookups by outcome"}, []string{"result"})
		EmoteBreakerOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "chatmon_emote_breaker_open", Help: "Emote catalog circuit breaker open=1 closed=0"}, []string{"provider"})
		StatusEvents = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatmon_status_events_total", Help: "Status scheduler events by kind"}, []string{"kind"})
		ArchiveWrites = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatmon_archive_writes_total", Help: "Archived chat rows by outcome"}, []string{"result"})
		ArchiveWriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chatmon_archive_write_duration_seconds", Help: "Archive insert duration seconds", Buckets: prometheus.DefBuckets})
		ArchiveQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatmon_archive_queue_depth", Help: "Chat rows waiting to be archived"})
	})
}

// ViewerConnected adjusts the connected gauge and counts the outcome.
func ViewerConnected(result string) {
	if ViewerConnections != nil {
		ViewerConnections.WithLabelValues(result).Inc()
	}
	if ViewersConnected != nil && result == "accepted" {
		ViewersConnected.Inc()
	}
}

// ViewerDisconnected records a viewer leaving for reason.
func ViewerDisconnected(reason string) {
	if ViewerDisconnects != nil {
		ViewerDisconnects.WithLabelValues(reason).Inc()
	}
	if ViewersConnected != nil {
		ViewersConnected.Dec()
	}
}

// ObserveFanout records how many viewers one broadcast reached.
func ObserveFanout(n int) {
	if BroadcastFanout != nil {
		BroadcastFanout.Observe(float64(n))
	}
}

// SetChatSessions records the number of live chat sessions.
func SetChatSessions(n int) {
	if ChatSessionsActive != nil {
		ChatSessionsActive.Set(float64(n))
	}
}

// MessageRelayed counts one relayed chat message.
func MessageRelayed() {
	if MessagesRelayed != nil {
		MessagesRelayed.Inc()
	}
}

// MessageDropped counts one chat message dropped for reason.
func MessageDropped(reason string) {
	if MessagesDropped != nil {
		MessagesDropped.WithLabelValues(reason).Inc()
	}
}

// ObserveEmoteFetch records one catalog request.
func ObserveEmoteFetch(provider, result string, d time.Duration) {
	if EmoteFetches != nil {
		EmoteFetches.WithLabelValues(provider, result).Inc()
	}
	if EmoteFetchDuration != nil {
		EmoteFetchDuration.WithLabelValues(provider).Observe(d.Seconds())
	}
}

// EmoteCacheLookup counts one cache lookup outcome.
func EmoteCacheLookup(result string) {
	if EmoteCacheLookups != nil {
		EmoteCacheLookups.WithLabelValues(result).Inc()
	}
}

// SetBreakerState sets the provider breaker gauge to 1 if open else 0.
func SetBreakerState(provider string, open bool) {
	if EmoteBreakerOpen == nil {
		return
	}
	if open {
		EmoteBreakerOpen.WithLabelValues(provider).Set(1)
	} else {
		EmoteBreakerOpen.WithLabelValues(provider).Set(0)
	}
}

// StatusEvent counts one status scheduler event.
func StatusEvent(kind string) {
	if StatusEvents != nil {
		StatusEvents.WithLabelValues(kind).Inc()
	}
}

// ArchiveWrite counts one archive row outcome.
func ArchiveWrite(result string) {
	if ArchiveWrites != nil {
		ArchiveWrites.WithLabelValues(result).Inc()
	}
}

// SetArchiveQueueDepth records the number of rows waiting to be archived.
func SetArchiveQueueDepth(n int) {
	if ArchiveQueueDepth != nil {
		ArchiveQueueDepth.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
