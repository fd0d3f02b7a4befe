// ABOUTME: OpenTelemetry provider implementation with metric and trace provider setup for chainlog telemetry
// ABOUTME: Handles provider lifecycle, resource detection, instrument caching, and sampling configuration

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/KevoDB/chainlog"

// TelemetryProvider implements the Telemetry interface using OpenTelemetry SDK.
type TelemetryProvider struct {
	config         Config
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	meter          metric.Meter
	tracer         oteltrace.Tracer
	resource       *sdkresource.Resource

	// metricsServer serves /metrics when the prometheus exporter is enabled
	metricsServer   *http.Server
	metricsListener net.Listener

	mu         sync.RWMutex
	histograms map[string]metric.Float64Histogram
	counters   map[string]metric.Int64Counter

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a new TelemetryProvider with the given configuration.
func New(cfg Config) (Telemetry, error) {
	if !cfg.Enabled {
		return NewNoop(), nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	res := sdkresource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	metricExporters, err := createMetricExporters(cfg)
	if err != nil {
		return nil, err
	}
	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, exp := range metricExporters {
		meterOpts = append(meterOpts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp,
				sdkmetric.WithInterval(cfg.MetricInterval),
				sdkmetric.WithTimeout(cfg.ExportTimeout),
			),
		))
	}

	var registry *promclient.Registry
	if cfg.HasExporter("prometheus") {
		registry = promclient.NewRegistry()
		reader, err := createPrometheusReader(registry)
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		meterOpts = append(meterOpts, sdkmetric.WithReader(reader))
	}
	meterProvider := sdkmetric.NewMeterProvider(meterOpts...)

	traceExporters, err := createTraceExporters(context.Background(), cfg)
	if err != nil {
		meterProvider.Shutdown(context.Background())
		return nil, err
	}
	tracerOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	}
	for _, exp := range traceExporters {
		tracerOpts = append(tracerOpts, sdktrace.WithBatcher(exp,
			sdktrace.WithBatchTimeout(cfg.BatchTimeout),
			sdktrace.WithExportTimeout(cfg.ExportTimeout),
			sdktrace.WithMaxQueueSize(cfg.MaxQueueSize),
			sdktrace.WithMaxExportBatchSize(cfg.MaxExportBatchSize),
		))
	}
	tracerProvider := sdktrace.NewTracerProvider(tracerOpts...)

	p := &TelemetryProvider{
		config:         cfg,
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
		meter:          meterProvider.Meter(instrumentationName),
		tracer:         tracerProvider.Tracer(instrumentationName),
		resource:       res,
		histograms:     make(map[string]metric.Float64Histogram),
		counters:       make(map[string]metric.Int64Counter),
	}

	if registry != nil {
		if err := p.serveMetrics(registry); err != nil {
			tracerProvider.Shutdown(context.Background())
			meterProvider.Shutdown(context.Background())
			return nil, err
		}
	}
	return p, nil
}

// serveMetrics exposes the registry on PrometheusAddr at /metrics
func (p *TelemetryProvider) serveMetrics(registry *promclient.Registry) error {
	ln, err := net.Listen("tcp", p.config.PrometheusAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s for metrics: %w", p.config.PrometheusAddr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	p.metricsListener = ln
	p.metricsServer = &http.Server{Handler: mux}
	go p.metricsServer.Serve(ln)
	return nil
}

// MetricsAddr returns the address serving /metrics, or nil when the
// prometheus exporter is not enabled.
func (p *TelemetryProvider) MetricsAddr() net.Addr {
	if p.metricsListener == nil {
		return nil
	}
	return p.metricsListener.Addr()
}

// RecordHistogram records value in the histogram called name, creating it on first use.
func (p *TelemetryProvider) RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) {
	h, err := p.histogram(name)
	if err != nil {
		return
	}
	h.Record(contextOrBackground(ctx), value, metric.WithAttributes(attrs...))
}

// RecordCounter adds value to the counter called name, creating it on first use.
func (p *TelemetryProvider) RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue) {
	c, err := p.counter(name)
	if err != nil {
		return
	}
	c.Add(contextOrBackground(ctx), value, metric.WithAttributes(attrs...))
}

// StartSpan starts a span on the provider's tracer.
func (p *TelemetryProvider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	return p.tracer.Start(contextOrBackground(ctx), name, oteltrace.WithAttributes(attrs...))
}

// Shutdown flushes and stops both providers. It is safe to call more than once.
func (p *TelemetryProvider) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() {
		ctx = contextOrBackground(ctx)
		var serverErr error
		if p.metricsServer != nil {
			serverErr = p.metricsServer.Shutdown(ctx)
		}
		p.shutdownErr = errors.Join(
			p.tracerProvider.Shutdown(ctx),
			p.meterProvider.Shutdown(ctx),
			serverErr,
		)
	})
	return p.shutdownErr
}

func (p *TelemetryProvider) histogram(name string) (metric.Float64Histogram, error) {
	p.mu.RLock()
	h, ok := p.histograms[name]
	p.mu.RUnlock()
	if ok {
		return h, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.histograms[name]; ok {
		return h, nil
	}
	h, err := p.meter.Float64Histogram(name)
	if err != nil {
		return nil, err
	}
	p.histograms[name] = h
	return h, nil
}

func (p *TelemetryProvider) counter(name string) (metric.Int64Counter, error) {
	p.mu.RLock()
	c, ok := p.counters[name]
	p.mu.RUnlock()
	if ok {
		return c, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.counters[name]; ok {
		return c, nil
	}
	c, err := p.meter.Int64Counter(name)
	if err != nil {
		return nil, err
	}
	p.counters[name] = c
	return c, nil
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
