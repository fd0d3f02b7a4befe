// ABOUTME: Tests for telemetry provider creation and configuration handling using real provider operations
// ABOUTME: Validates provider initialization, exporter output, configuration validation, and no-op fallback behavior

package telemetry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func testConfig(buf *bytes.Buffer) Config {
	cfg := DefaultConfig()
	cfg.ServiceName = "chainlog-test"
	cfg.Output = buf
	return cfg
}

func TestNewDisabledReturnsNoop(t *testing.T) {
	tel, err := New(Config{Enabled: false})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, ok := tel.(*NoopTelemetry); !ok {
		t.Errorf("Expected *NoopTelemetry, got %T", tel)
	}
}

func TestNewReturnsProvider(t *testing.T) {
	var buf bytes.Buffer
	tel, err := New(testConfig(&buf))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	provider, ok := tel.(*TelemetryProvider)
	if !ok {
		t.Fatalf("Expected *TelemetryProvider, got %T", tel)
	}

	ctx := context.Background()
	provider.RecordHistogram(ctx, "chainlog.append.duration", 0.25, attribute.String(AttrStatus, StatusSuccess))
	provider.RecordHistogram(ctx, "chainlog.append.duration", 0.5, attribute.String(AttrStatus, StatusSuccess))
	provider.RecordCounter(ctx, "chainlog.append.bytes", 128)

	if len(provider.histograms) != 1 || len(provider.counters) != 1 {
		t.Errorf("Expected instruments to be cached, got %d histograms and %d counters",
			len(provider.histograms), len(provider.counters))
	}

	spanCtx, span := provider.StartSpan(ctx, "chain.append", attribute.Int(AttrPosition, 1))
	if !span.SpanContext().IsValid() {
		t.Error("Expected a recording span with a valid span context")
	}
	if spanCtx == ctx {
		t.Error("Expected StartSpan to return a derived context")
	}
	span.End()

	if err := provider.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	// Second shutdown is a no-op
	if err := provider.Shutdown(ctx); err != nil {
		t.Errorf("Second shutdown failed: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "chain.append") {
		t.Errorf("Expected span to be exported on shutdown, got: %s", output)
	}
	if !strings.Contains(output, "chainlog.append.bytes") {
		t.Errorf("Expected counter to be exported on shutdown, got: %s", output)
	}
}

func TestPrometheusEndpoint(t *testing.T) {
	var buf bytes.Buffer
	cfg := testConfig(&buf)
	cfg.Exporters = []string{"prometheus"}
	cfg.PrometheusAddr = "127.0.0.1:0"

	tel, err := New(cfg)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	provider := tel.(*TelemetryProvider)
	defer provider.Shutdown(context.Background())

	addr := provider.MetricsAddr()
	if addr == nil {
		t.Fatal("Expected a metrics address with the prometheus exporter enabled")
	}

	provider.RecordCounter(context.Background(), "chainlog.append.bytes", 50,
		attribute.String(AttrComponent, ComponentChain))

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	if err != nil {
		t.Fatalf("Scrape failed: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read scrape body: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 from /metrics, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "chainlog_append_bytes") {
		t.Errorf("Expected counter in scrape output, got: %s", body)
	}
	if buf.Len() != 0 {
		t.Errorf("Expected no stdout export with only prometheus enabled, got: %s", buf.String())
	}
}

func TestMetricsAddrWithoutPrometheus(t *testing.T) {
	var buf bytes.Buffer
	tel, err := New(testConfig(&buf))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	provider := tel.(*TelemetryProvider)
	defer provider.Shutdown(context.Background())

	if provider.MetricsAddr() != nil {
		t.Errorf("Expected no metrics address, got %v", provider.MetricsAddr())
	}
}

func TestNewWithInvalidConfigs(t *testing.T) {
	invalidConfigs := []Config{
		{
			Enabled:     true,
			ServiceName: "",
		},
		{
			Enabled:        true,
			ServiceName:    "test",
			ServiceVersion: "",
		},
		{
			Enabled:        true,
			ServiceName:    "test",
			ServiceVersion: "1.0.0",
			SampleRate:     -0.1,
		},
		{
			Enabled:        true,
			ServiceName:    "test",
			ServiceVersion: "1.0.0",
			SampleRate:     1.1,
		},
		{
			Enabled:        true,
			ServiceName:    "test",
			ServiceVersion: "1.0.0",
			SampleRate:     1.0,
			MetricInterval: 0,
		},
	}

	for i, cfg := range invalidConfigs {
		t.Run(fmt.Sprintf("invalid_config_%d", i), func(t *testing.T) {
			tel, err := New(cfg)

			if err == nil {
				t.Error("Expected error for invalid config but got none")
			}

			if tel != nil {
				t.Error("Expected nil telemetry for invalid config but got instance")
			}
		})
	}
}
