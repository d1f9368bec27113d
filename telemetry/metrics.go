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

	// Counters
	EventsReceived      prometheus.Counter
	EventsDuplicate     prometheus.Counter
	EventsRejected      prometheus.Counter
	NotificationsSent   prometheus.Counter
	NotificationsEdited prometheus.Counter
	EditTargetMissing   prometheus.Counter
	ThumbnailFallbacks  prometheus.Counter
	ReconcileChecks     prometheus.Counter

	// Histograms
	ThumbnailIterations prometheus.Observer
	EventHandleDuration prometheus.Observer

	// Gauges
	OpenSessionsGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		EventsReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_events_received_total", Help: "Number of webhook notifications received (verified)"})
		EventsDuplicate = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_events_duplicate_total", Help: "Number of redelivered notifications dropped by dedup"})
		EventsRejected = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_events_rejected_total", Help: "Number of notifications rejected by signature verification"})
		NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_notifications_sent_total", Help: "Number of went-live messages sent"})
		NotificationsEdited = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_notifications_edited_total", Help: "Number of messages edited in place on stream end"})
		EditTargetMissing = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_edit_target_missing_total", Help: "Number of edits that fell back to a standalone message"})
		ThumbnailFallbacks = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_thumbnail_fallbacks_total", Help: "Number of thumbnail acquisitions that exhausted all attempts"})
		ReconcileChecks = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_reconcile_checks_total", Help: "Number of per-channel live checks performed at startup"})
		ThumbnailIterations = promauto.NewHistogram(prometheus.HistogramOpts{Name: "herald_thumbnail_iterations", Help: "Polling iterations consumed per thumbnail acquisition", Buckets: prometheus.LinearBuckets(1, 5, 9)})
		EventHandleDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "herald_event_handle_duration_seconds", Help: "Lifecycle transition duration seconds (includes thumbnail wait)", Buckets: prometheus.DefBuckets})
		OpenSessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "herald_open_sessions", Help: "Current number of channels considered live"})
	})
}

// SetOpenSessions records the current open session count.
func SetOpenSessions(n int) {
	if OpenSessionsGauge != nil {
		OpenSessionsGauge.Set(float64(n))
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

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
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
