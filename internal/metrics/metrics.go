// Package metrics records joke selection metrics through OpenTelemetry and exposes them to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "jokeapi"

// Outcome classifies a selection request.
type Outcome string

const (
	OutcomeServed         Outcome = "served"
	OutcomeInvalidFilter  Outcome = "invalid_filter"
	OutcomeNoMatch        Outcome = "no_match"
	OutcomeSearchRejected Outcome = "search_rejected"
	OutcomeInternal       Outcome = "internal_error"
)

type Selection struct {
	Lang     string
	Served   int
	Duration time.Duration
	Outcome  Outcome
}

// Metrics is safe for concurrent use.
type Metrics interface {
	RecordSelection(ctx context.Context, s Selection)
	RecordCacheFallback(ctx context.Context)
	RecordCacheCleared(ctx context.Context, deleted int64)
}

type instruments struct {
	selections     metric.Int64Counter
	served         metric.Int64Counter
	duration       metric.Float64Histogram
	cacheFallbacks metric.Int64Counter
	cacheCleared   metric.Int64Counter
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	selections, err := meter.Int64Counter(
		"jokes.selection",
		metric.WithDescription("Joke selection requests by outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	served, err := meter.Int64Counter(
		"jokes.served",
		metric.WithDescription("Jokes delivered to clients"),
		metric.WithUnit("{joke}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"jokes.selection.duration",
		metric.WithDescription("Joke selection duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	cacheFallbacks, err := meter.Int64Counter(
		"jokes.cache.fallbacks",
		metric.WithDescription("Served-joke cache operations that failed and were skipped"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	cacheCleared, err := meter.Int64Counter(
		"jokes.cache.cleared",
		metric.WithDescription("Served-joke cache entries removed on client request"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	return &instruments{
		selections:     selections,
		served:         served,
		duration:       duration,
		cacheFallbacks: cacheFallbacks,
		cacheCleared:   cacheCleared,
	}, nil
}

func (i *instruments) RecordSelection(ctx context.Context, s Selection) {
	i.selections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", string(s.Outcome)),
		attribute.String("lang", s.Lang),
	))
	if s.Served > 0 {
		i.served.Add(ctx, int64(s.Served), metric.WithAttributes(attribute.String("lang", s.Lang)))
	}
	i.duration.Record(ctx, float64(s.Duration.Microseconds())/1000)
}

func (i *instruments) RecordCacheFallback(ctx context.Context) {
	i.cacheFallbacks.Add(ctx, 1)
}

func (i *instruments) RecordCacheCleared(ctx context.Context, deleted int64) {
	i.cacheCleared.Add(ctx, deleted)
}

// Provider owns the meter provider and the Prometheus registry it exports to.
type Provider struct {
	Metrics
	registry      *prometheus.Registry
	meterProvider *sdkmetric.MeterProvider
}

func New() (*Provider, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	inst, err := newInstruments(mp.Meter(meterName))
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to create instruments: %w", err), mp.Shutdown(context.Background()))
	}

	return &Provider{
		Metrics:       inst,
		registry:      registry,
		meterProvider: mp,
	}, nil
}

// Handler serves the registry in the Prometheus text format.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Provider) Shutdown(ctx context.Context) error {
	return p.meterProvider.Shutdown(ctx)
}

// Noop returns metrics that record nothing.
func Noop() Metrics {
	inst, err := newInstruments(noop.NewMeterProvider().Meter(meterName))
	if err != nil {
		// The noop meter never fails.
		panic(err)
	}
	return inst
}
