// Package observe provides the observability primitives shared by the
// dialogue core and its HTTP front end: OpenTelemetry metrics, tracing,
// trace-aware structured logging and an HTTP middleware tying them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// bridges them to a Prometheus exporter so they can be scraped from
// /metrics. [DefaultMetrics] returns a package-level instance for
// convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all npcmind metrics.
const meterName = "github.com/MrWong99/npcmind"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// ResponseDuration tracks end-to-end dialogue response latency. Use with
	// attribute.String("source", ...).
	ResponseDuration metric.Float64Histogram

	// GeneratorDuration tracks generative fallback latency.
	GeneratorDuration metric.Float64Histogram

	// Responses counts NPC responses. Use with attributes:
	//   attribute.String("npc_id", ...), attribute.String("source", ...)
	Responses metric.Int64Counter

	// CacheHits counts responses served from the response cache.
	CacheHits metric.Int64Counter

	// ConsistencyFailures counts responses flagged by the consistency
	// validator. Use with attribute.String("npc_id", ...).
	ConsistencyFailures metric.Int64Counter

	// GeneratorRequests counts generative fallback calls. Use with
	// attribute.String("status", ...).
	GeneratorRequests metric.Int64Counter

	// GeneratorErrors counts failed generative fallback calls.
	GeneratorErrors metric.Int64Counter

	// DerivedFacts counts facts produced by forward chaining.
	DerivedFacts metric.Int64Counter

	// ActiveConversations tracks the number of NPCs currently talking to a
	// player.
	ActiveConversations metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Pattern
// replies land in the first buckets, generated ones in the last.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ResponseDuration, err = m.Float64Histogram("npcmind.dialogue.response.duration",
		metric.WithDescription("Latency of hybrid dialogue responses by source."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GeneratorDuration, err = m.Float64Histogram("npcmind.generator.duration",
		metric.WithDescription("Latency of generative fallback calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Responses, err = m.Int64Counter("npcmind.dialogue.responses",
		metric.WithDescription("Total NPC responses by NPC ID and source."),
	); err != nil {
		return nil, err
	}
	if met.CacheHits, err = m.Int64Counter("npcmind.dialogue.cache_hits",
		metric.WithDescription("Total responses served from the response cache."),
	); err != nil {
		return nil, err
	}
	if met.ConsistencyFailures, err = m.Int64Counter("npcmind.dialogue.consistency_failures",
		metric.WithDescription("Total responses flagged as inconsistent by NPC ID."),
	); err != nil {
		return nil, err
	}
	if met.GeneratorRequests, err = m.Int64Counter("npcmind.generator.requests",
		metric.WithDescription("Total generative fallback requests by status."),
	); err != nil {
		return nil, err
	}
	if met.GeneratorErrors, err = m.Int64Counter("npcmind.generator.errors",
		metric.WithDescription("Total generative fallback errors."),
	); err != nil {
		return nil, err
	}
	if met.DerivedFacts, err = m.Int64Counter("npcmind.reasoning.derived_facts",
		metric.WithDescription("Total facts derived by forward chaining."),
	); err != nil {
		return nil, err
	}

	if met.ActiveConversations, err = m.Int64UpDownCounter("npcmind.active_conversations",
		metric.WithDescription("Number of NPCs currently in a conversation."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("npcmind.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails, which does not happen with
// the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordResponse records one NPC response: the per-source counter and the
// latency histogram.
func (m *Metrics) RecordResponse(ctx context.Context, npcID, source string, d time.Duration) {
	m.Responses.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("npc_id", npcID),
			attribute.String("source", source),
		),
	)
	m.ResponseDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("source", source)),
	)
}

// RecordCacheHit increments the cache hit counter.
func (m *Metrics) RecordCacheHit(ctx context.Context) {
	m.CacheHits.Add(ctx, 1)
}

// RecordConsistencyFailure increments the consistency failure counter.
func (m *Metrics) RecordConsistencyFailure(ctx context.Context, npcID string) {
	m.ConsistencyFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("npc_id", npcID)),
	)
}

// RecordGeneratorRequest records a generative fallback call with its outcome
// and duration. A status other than "ok" also counts as an error.
func (m *Metrics) RecordGeneratorRequest(ctx context.Context, status string, d time.Duration) {
	m.GeneratorRequests.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
	m.GeneratorDuration.Record(ctx, d.Seconds())
	if status != "ok" {
		m.GeneratorErrors.Add(ctx, 1)
	}
}

// RecordDerivedFacts adds n to the derived facts counter.
func (m *Metrics) RecordDerivedFacts(ctx context.Context, n int) {
	if n > 0 {
		m.DerivedFacts.Add(ctx, int64(n))
	}
}
