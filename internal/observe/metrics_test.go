package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumPoint returns the value of the data point of an int64 sum that carries
// key=value, or of the first point when key is empty.
func sumPoint(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value
		}
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q: no data point with %s=%s", name, key, value)
	return 0
}

func TestRecordResponse(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordResponse(ctx, "greta", "pattern", time.Millisecond)
	m.RecordResponse(ctx, "greta", "pattern", 2*time.Millisecond)
	m.RecordResponse(ctx, "greta", "generative", time.Second)

	rm := collect(t, reader)
	if got := sumPoint(t, rm, "npcmind.dialogue.responses", "source", "pattern"); got != 2 {
		t.Errorf("pattern responses = %d, want 2", got)
	}
	if got := sumPoint(t, rm, "npcmind.dialogue.responses", "source", "generative"); got != 1 {
		t.Errorf("generative responses = %d, want 1", got)
	}

	hist, ok := findMetric(rm, "npcmind.dialogue.response.duration").Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("response duration is not a histogram")
	}
	var total uint64
	for _, dp := range hist.DataPoints {
		total += dp.Count
	}
	if total != 3 {
		t.Errorf("latency samples = %d, want 3", total)
	}
}

func TestRecordGeneratorRequest(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordGeneratorRequest(ctx, "ok", 10*time.Millisecond)
	m.RecordGeneratorRequest(ctx, "ok", 20*time.Millisecond)
	m.RecordGeneratorRequest(ctx, "error", time.Millisecond)

	rm := collect(t, reader)
	if got := sumPoint(t, rm, "npcmind.generator.requests", "status", "ok"); got != 2 {
		t.Errorf("ok requests = %d, want 2", got)
	}
	if got := sumPoint(t, rm, "npcmind.generator.errors", "", ""); got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
}

func TestDialogueCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCacheHit(ctx)
	m.RecordCacheHit(ctx)
	m.RecordConsistencyFailure(ctx, "greta")
	m.RecordDerivedFacts(ctx, 4)
	m.RecordDerivedFacts(ctx, 0)
	m.ActiveConversations.Add(ctx, 2)
	m.ActiveConversations.Add(ctx, -1)

	rm := collect(t, reader)
	tests := []struct {
		name, key, value string
		want             int64
	}{
		{"npcmind.dialogue.cache_hits", "", "", 2},
		{"npcmind.dialogue.consistency_failures", "npc_id", "greta", 1},
		{"npcmind.reasoning.derived_facts", "", "", 4},
		{"npcmind.active_conversations", "", "", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := sumPoint(t, rm, tc.name, tc.key, tc.value); got != tc.want {
				t.Errorf("%s = %d, want %d", tc.name, got, tc.want)
			}
		})
	}
}

func TestDefaultMetrics(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics() returned two instances, want one")
	}
}
