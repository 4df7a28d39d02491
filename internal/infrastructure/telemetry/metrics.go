package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

const defaultExportInterval = time.Minute

// ErrMeterNil is returned when a metrics set is built without a meter
var ErrMeterNil = errors.New("telemetry: meter is nil")

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled           bool
	CollectorEndpoint string
	ExportInterval    time.Duration
	ServiceName       string
	Insecure          bool
}

// MeterProvider owns the SDK meter provider and its readers
type MeterProvider struct {
	provider *sdkmetric.MeterProvider
	readers  []sdkmetric.Reader
	logger   *zap.Logger
}

// MeterProviderOption configures NewMeterProvider
type MeterProviderOption func(*MeterProvider)

// WithMetricReader adds a reader next to the OTLP exporter. With a reader
// attached the provider is built even when export is disabled.
func WithMetricReader(r sdkmetric.Reader) MeterProviderOption {
	return func(mp *MeterProvider) {
		mp.readers = append(mp.readers, r)
	}
}

// NewMeterProvider builds and registers the global MeterProvider. With
// export disabled and no extra readers, Meter falls back to the global no-op.
func NewMeterProvider(ctx context.Context, cfg MetricsConfig, logger *zap.Logger, opts ...MeterProviderOption) (*MeterProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	mp := &MeterProvider{logger: logger}
	for _, opt := range opts {
		opt(mp)
	}

	if cfg.Enabled {
		reader, err := newOTLPReader(ctx, cfg)
		if err != nil {
			return nil, err
		}
		mp.readers = append(mp.readers, reader)
	}
	if len(mp.readers) == 0 {
		logger.Info("Metrics disabled, using no-op meter provider")
		return mp, nil
	}

	res, err := newResource(cfg.ServiceName)
	if err != nil {
		return nil, err
	}
	providerOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range mp.readers {
		providerOpts = append(providerOpts, sdkmetric.WithReader(r))
	}
	mp.provider = sdkmetric.NewMeterProvider(providerOpts...)
	otel.SetMeterProvider(mp.provider)

	logger.Info("OpenTelemetry MeterProvider initialized",
		zap.Bool("otlp_export", cfg.Enabled),
		zap.String("collector_endpoint", cfg.CollectorEndpoint),
		zap.Int("readers", len(mp.readers)),
	)
	return mp, nil
}

func newOTLPReader(ctx context.Context, cfg MetricsConfig) (sdkmetric.Reader, error) {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.CollectorEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
	}
	interval := cfg.ExportInterval
	if interval <= 0 {
		interval = defaultExportInterval
	}
	return sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval)), nil
}

// Enabled reports whether instruments record anywhere
func (mp *MeterProvider) Enabled() bool {
	return mp.provider != nil
}

// Shutdown flushes pending metrics and stops the provider.
func (mp *MeterProvider) Shutdown(ctx context.Context) error {
	if mp.provider == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := mp.provider.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown meter provider: %w", err)
	}
	return nil
}

// Meter returns a named meter from the provider.
func (mp *MeterProvider) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if mp.provider == nil {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return mp.provider.Meter(name, opts...)
}

// Counter is a monotonic int64 count
type Counter struct {
	counter metric.Int64Counter
}

func NewCounter(meter metric.Meter, name, description, unit string) (*Counter, error) {
	c, err := meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit(unit))
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	return &Counter{counter: c}, nil
}

func (c *Counter) Inc(ctx context.Context, attrs ...attribute.KeyValue) {
	c.counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// Gauge tracks a value that goes up and down, such as in-flight work
type Gauge struct {
	counter metric.Int64UpDownCounter
}

func NewGauge(meter metric.Meter, name, description, unit string) (*Gauge, error) {
	c, err := meter.Int64UpDownCounter(name, metric.WithDescription(description), metric.WithUnit(unit))
	if err != nil {
		return nil, fmt.Errorf("failed to create gauge %s: %w", name, err)
	}
	return &Gauge{counter: c}, nil
}

// Track increments the gauge and returns the matching decrement
func (g *Gauge) Track(ctx context.Context, attrs ...attribute.KeyValue) func() {
	opt := metric.WithAttributes(attrs...)
	g.counter.Add(ctx, 1, opt)
	return func() { g.counter.Add(ctx, -1, opt) }
}

// Histogram records float64 observations, seconds for durations
type Histogram struct {
	histogram metric.Float64Histogram
}

// NewHistogram creates a histogram; boundaries override the SDK default buckets
func NewHistogram(meter metric.Meter, name, description, unit string, boundaries ...float64) (*Histogram, error) {
	opts := []metric.Float64HistogramOption{metric.WithDescription(description), metric.WithUnit(unit)}
	if len(boundaries) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(boundaries...))
	}
	h, err := meter.Float64Histogram(name, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram %s: %w", name, err)
	}
	return &Histogram{histogram: h}, nil
}

func (h *Histogram) RecordDuration(ctx context.Context, d time.Duration, attrs ...attribute.KeyValue) {
	h.histogram.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}
