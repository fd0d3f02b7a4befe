// ABOUTME: OpenTelemetry exporter factory for creating metric and trace exporters (OTLP, stdout, Prometheus)
// ABOUTME: Handles configuration and creation of various telemetry export destinations

package telemetry

import (
	"context"
	"fmt"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
)

// createMetricExporters creates metric exporters based on configuration.
func createMetricExporters(cfg Config) ([]metric.Exporter, error) {
	var exporters []metric.Exporter

	for _, exporterName := range cfg.Exporters {
		switch exporterName {
		case "stdout":
			exporter, err := createStdoutMetricExporter(cfg)
			if err != nil {
				return nil, fmt.Errorf("failed to create stdout metric exporter: %w", err)
			}
			exporters = append(exporters, exporter)

		default:
			// otlp only carries traces; prometheus is a pull reader, see createPrometheusReader
			continue
		}
	}

	if len(exporters) == 0 && !cfg.HasExporter("prometheus") {
		exporter, err := createStdoutMetricExporter(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create default stdout metric exporter: %w", err)
		}
		exporters = append(exporters, exporter)
	}

	return exporters, nil
}

// createTraceExporters creates trace exporters based on configuration.
func createTraceExporters(ctx context.Context, cfg Config) ([]trace.SpanExporter, error) {
	var exporters []trace.SpanExporter

	for _, exporterName := range cfg.Exporters {
		switch exporterName {
		case "otlp":
			exporter, err := createOTLPTraceExporter(ctx, cfg)
			if err != nil {
				return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
			}
			exporters = append(exporters, exporter)

		case "stdout":
			exporter, err := createStdoutTraceExporter(cfg)
			if err != nil {
				return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
			}
			exporters = append(exporters, exporter)
		}
	}

	if len(exporters) == 0 && !cfg.HasExporter("prometheus") {
		exporter, err := createStdoutTraceExporter(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create default stdout trace exporter: %w", err)
		}
		exporters = append(exporters, exporter)
	}

	return exporters, nil
}

// createStdoutMetricExporter creates a stdout metrics exporter.
func createStdoutMetricExporter(cfg Config) (metric.Exporter, error) {
	return stdoutmetric.New(
		stdoutmetric.WithWriter(cfg.output()),
		stdoutmetric.WithPrettyPrint(),
	)
}

// createPrometheusReader creates a metric reader that registers the
// collected instruments with reg for scraping.
func createPrometheusReader(reg promclient.Registerer) (metric.Reader, error) {
	return otelprom.New(otelprom.WithRegisterer(reg))
}

// createOTLPTraceExporter creates an OTLP trace exporter.
func createOTLPTraceExporter(ctx context.Context, cfg Config) (trace.SpanExporter, error) {
	return otlptracegrpc.New(
		ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithTimeout(cfg.ExportTimeout),
	)
}

// createStdoutTraceExporter creates a stdout trace exporter.
func createStdoutTraceExporter(cfg Config) (trace.SpanExporter, error) {
	return stdouttrace.New(
		stdouttrace.WithWriter(cfg.output()),
		stdouttrace.WithPrettyPrint(),
	)
}
