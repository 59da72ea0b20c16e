package telemetry

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/wippyai/realm-sync-bridge/errors"
	"github.com/wippyai/realm-sync-bridge/token"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumInt(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s is %T, not an int64 sum", m.Name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestNilProvider(t *testing.T) {
	tm, err := NewTokenMetrics(nil)
	if err != nil || tm != nil {
		t.Fatalf("NewTokenMetrics(nil) = %v, %v", tm, err)
	}
	sm, err := NewSessionMetrics(nil)
	if err != nil || sm != nil {
		t.Fatalf("NewSessionMetrics(nil) = %v, %v", sm, err)
	}

	// nil receivers are no-ops
	tm.Attach(token.NewStore())
	tm.OnTokenEvent(token.Event{})
	sm.RecordWait(context.Background(), "download", time.Second, true)
	sm.RecordError(context.Background(), errors.NewSessionError(1, "x"))
}

func TestTokenMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	tm, err := NewTokenMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}
	store := token.NewStore()
	tm.Attach(store)

	sink := token.SinkFunc(func(any, error) {})
	store.Resolve(store.Create(sink), nil)
	store.Fail(store.Create(sink), stderrors.New("x"))
	store.Create(sink)
	store.Release(store.Listen(func(uint64, uint64) {}))

	got := collect(t, reader)
	if n := sumInt(t, got["realmsync_tokens_created_total"]); n != 4 {
		t.Errorf("created = %d", n)
	}
	if n := sumInt(t, got["realmsync_tokens_completed_total"]); n != 3 {
		t.Errorf("completed = %d", n)
	}
	if n := sumInt(t, got["realmsync_tokens_pending"]); n != 1 {
		t.Errorf("pending = %d", n)
	}
}

func TestSessionMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	sm, err := NewSessionMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}
	sm.RecordWait(context.Background(), "download", 250*time.Millisecond, true)
	sm.RecordWait(context.Background(), "upload", time.Second, false)
	sm.RecordError(context.Background(), errors.Classify(errors.CodeDivergingHistories, "reset", nil))

	got := collect(t, reader)
	hist, ok := got["realmsync_session_wait_duration_seconds"].Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("wait duration histogram missing")
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 2 {
		t.Errorf("wait count = %d", count)
	}
	if n := sumInt(t, got["realmsync_session_errors_total"]); n != 1 {
		t.Errorf("errors = %d", n)
	}
}
