// Package telemetry provides OpenTelemetry metrics for the sync bridge.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wippyai/realm-sync-bridge/errors"
	"github.com/wippyai/realm-sync-bridge/token"
)

const (
	// TokenMetricsMeterName is the name used for the completion token meter
	TokenMetricsMeterName = "github.com/wippyai/realm-sync-bridge/token"

	// SessionMetricsMeterName is the name used for the session meter
	SessionMetricsMeterName = "github.com/wippyai/realm-sync-bridge/session"
)

// TokenMetrics holds the instruments for completion token lifecycle metrics.
// It observes a token.Store.
type TokenMetrics struct {
	created   metric.Int64Counter
	completed metric.Int64Counter
	pending   metric.Int64UpDownCounter
}

// NewTokenMetrics creates a new TokenMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewTokenMetrics(provider metric.MeterProvider) (*TokenMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(TokenMetricsMeterName)

	created, err := meter.Int64Counter(
		"realmsync_tokens_created_total",
		metric.WithDescription("Number of completion tokens and progress listeners created"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}

	completed, err := meter.Int64Counter(
		"realmsync_tokens_completed_total",
		metric.WithDescription("Number of tokens that reached a terminal state"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}

	pending, err := meter.Int64UpDownCounter(
		"realmsync_tokens_pending",
		metric.WithDescription("Number of tokens waiting for the engine"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}

	return &TokenMetrics{
		created:   created,
		completed: completed,
		pending:   pending,
	}, nil
}

// Attach subscribes m to store. A nil m is ignored.
func (m *TokenMetrics) Attach(store *token.Store) {
	if m == nil || store == nil {
		return
	}
	store.Subscribe(m)
}

// OnTokenEvent implements token.Observer.
func (m *TokenMetrics) OnTokenEvent(e token.Event) {
	if m == nil {
		return
	}
	ctx := context.Background()
	kind := attribute.String("kind", "completion")
	if e.Progress {
		kind = attribute.String("kind", "progress")
	}

	if e.Type == token.EventCreated {
		m.created.Add(ctx, 1, metric.WithAttributes(kind))
		m.pending.Add(ctx, 1, metric.WithAttributes(kind))
		return
	}
	m.completed.Add(ctx, 1, metric.WithAttributes(kind, attribute.String("outcome", e.Type.String())))
	m.pending.Add(ctx, -1, metric.WithAttributes(kind))
}

// SessionMetrics holds the instruments for session metrics.
type SessionMetrics struct {
	waitDuration metric.Float64Histogram
	errors       metric.Int64Counter
}

// NewSessionMetrics creates a new SessionMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSessionMetrics(provider metric.MeterProvider) (*SessionMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SessionMetricsMeterName)

	waitDuration, err := meter.Float64Histogram(
		"realmsync_session_wait_duration_seconds",
		metric.WithDescription("Duration of download and upload waits in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300),
	)
	if err != nil {
		return nil, err
	}

	sessionErrors, err := meter.Int64Counter(
		"realmsync_session_errors_total",
		metric.WithDescription("Number of session errors reported by the engine"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &SessionMetrics{
		waitDuration: waitDuration,
		errors:       sessionErrors,
	}, nil
}

// RecordWait records one download or upload wait.
func (m *SessionMetrics) RecordWait(ctx context.Context, direction string, duration time.Duration, success bool) {
	if m == nil || m.waitDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("direction", direction),
		attribute.Bool("success", success),
	}

	m.waitDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordError counts a classified session error.
func (m *SessionMetrics) RecordError(ctx context.Context, err *errors.SessionError) {
	if m == nil || m.errors == nil || err == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("variant", err.Variant.String()),
		attribute.String("code", err.Code.String()),
	}

	m.errors.Add(ctx, 1, metric.WithAttributes(attrs...))
}
