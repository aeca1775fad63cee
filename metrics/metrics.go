// Package metrics provides prometheus metrics primitives to the rest of the app
package metrics

import (
	"context"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelapi "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const (
	metricsNamespace = "execution_bridge"
)

var (
	meter otelapi.Meter = noop.NewMeterProvider().Meter(metricsNamespace)

	// Instruments are no-ops until Setup is called
	EngineCallLatencyHistogram otelapi.Float64Histogram = noop.Float64Histogram{}
	EngineCallErrorCount       otelapi.Int64Counter     = noop.Int64Counter{}
	EngineStatusChangeCount    otelapi.Int64Counter     = noop.Int64Counter{}
	PayloadCacheLookupCount    otelapi.Int64Counter     = noop.Int64Counter{}
	PayloadCacheEvictionCount  otelapi.Int64Counter     = noop.Int64Counter{}
	BuilderBidCount            otelapi.Int64Counter     = noop.Int64Counter{}
	ArbiterDecisionCount       otelapi.Int64Counter     = noop.Int64Counter{}
	ProduceBlockLatency        otelapi.Float64Histogram = noop.Float64Histogram{}

	latencyBoundaries = otelapi.WithExplicitBucketBoundaries(func() []float64 {
		base := math.Exp(math.Log(12.0) / 15.0)
		res := make([]float64, 0, 31)
		for i := -15; i < 16; i++ {
			res = append(res, math.Pow(base, float64(i)))
		}
		return res
	}()...)
)

func Setup(ctx context.Context) error {
	for _, setup := range []func(context.Context) error{
		setupMeter, // must come first
		setupEngineCallLatency,
		setupEngineCallErrorCount,
		setupEngineStatusChangeCount,
		setupPayloadCacheCounts,
		setupBuilderBidCount,
		setupArbiterDecisionCount,
		setupProduceBlockLatency,
	} {
		if err := setup(ctx); err != nil {
			return err
		}
	}

	return nil
}

func setupMeter(ctx context.Context) error {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(metricsNamespace)),
	)
	if err != nil {
		return err
	}

	exporter, err := prometheus.New(
		prometheus.WithNamespace(metricsNamespace),
	)
	if err != nil {
		return err
	}

	provider := metric.NewMeterProvider(
		metric.WithReader(exporter),
		metric.WithResource(res),
	)

	meter = provider.Meter(metricsNamespace)

	return nil
}

func setupEngineCallLatency(ctx context.Context) error {
	latency, err := meter.Float64Histogram(
		"engine_call_latency",
		otelapi.WithDescription("statistics on the duration of engine api calls"),
		otelapi.WithUnit("ms"),
		latencyBoundaries,
	)
	if err != nil {
		return err
	}
	EngineCallLatencyHistogram = latency
	return nil
}

func setupEngineCallErrorCount(ctx context.Context) error {
	counter, err := meter.Int64Counter(
		"engine_call_error_count",
		otelapi.WithDescription("number of failed engine api calls"),
	)
	if err != nil {
		return err
	}
	EngineCallErrorCount = counter
	return nil
}

func setupEngineStatusChangeCount(ctx context.Context) error {
	counter, err := meter.Int64Counter(
		"engine_status_change_count",
		otelapi.WithDescription("number of engine status transitions"),
	)
	if err != nil {
		return err
	}
	EngineStatusChangeCount = counter
	return nil
}

func setupPayloadCacheCounts(ctx context.Context) error {
	lookups, err := meter.Int64Counter(
		"payload_cache_lookup_count",
		otelapi.WithDescription("number of payload cache lookups by result"),
	)
	if err != nil {
		return err
	}
	PayloadCacheLookupCount = lookups

	evictions, err := meter.Int64Counter(
		"payload_cache_eviction_count",
		otelapi.WithDescription("number of payloads evicted from the cache"),
	)
	if err != nil {
		return err
	}
	PayloadCacheEvictionCount = evictions
	return nil
}

func setupBuilderBidCount(ctx context.Context) error {
	counter, err := meter.Int64Counter(
		"builder_bid_count",
		otelapi.WithDescription("number of builder bid requests by outcome"),
	)
	if err != nil {
		return err
	}
	BuilderBidCount = counter
	return nil
}

func setupArbiterDecisionCount(ctx context.Context) error {
	counter, err := meter.Int64Counter(
		"arbiter_decision_count",
		otelapi.WithDescription("number of payload decisions by source"),
	)
	if err != nil {
		return err
	}
	ArbiterDecisionCount = counter
	return nil
}

func setupProduceBlockLatency(ctx context.Context) error {
	latency, err := meter.Float64Histogram(
		"produce_block_latency",
		otelapi.WithDescription("statistics on the duration of block production requests"),
		otelapi.WithUnit("ms"),
		latencyBoundaries,
	)
	if err != nil {
		return err
	}
	ProduceBlockLatency = latency
	return nil
}

func RecordEngineCall(ctx context.Context, engine, method string, duration time.Duration, err error) {
	attrs := otelapi.WithAttributes(
		attribute.String("engine", engine),
		attribute.String("method", method),
	)
	EngineCallLatencyHistogram.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	if err != nil {
		EngineCallErrorCount.Add(ctx, 1, attrs)
	}
}

func RecordEngineStatusChange(ctx context.Context, engine, from, to string) {
	EngineStatusChangeCount.Add(ctx, 1, otelapi.WithAttributes(
		attribute.String("engine", engine),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func RecordCacheLookup(ctx context.Context, hit bool) {
	PayloadCacheLookupCount.Add(ctx, 1, otelapi.WithAttributes(attribute.Bool("hit", hit)))
}

func RecordCacheEviction(ctx context.Context) {
	PayloadCacheEvictionCount.Add(ctx, 1)
}

func RecordBuilderBid(ctx context.Context, outcome string) {
	BuilderBidCount.Add(ctx, 1, otelapi.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordArbiterDecision(ctx context.Context, source, reason string) {
	ArbiterDecisionCount.Add(ctx, 1, otelapi.WithAttributes(
		attribute.String("source", source),
		attribute.String("reason", reason),
	))
}

func RecordProduceBlock(ctx context.Context, duration time.Duration, outcome string) {
	ProduceBlockLatency.Record(ctx, float64(duration.Microseconds())/1000, otelapi.WithAttributes(attribute.String("outcome", outcome)))
}
