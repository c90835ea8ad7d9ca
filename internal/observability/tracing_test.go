package observability

import (
	"context"
	"testing"
)

func TestTracingConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("SCENARIOGEN_TRACING_ENABLED", "")
	t.Setenv("SCENARIOGEN_TRACING_EXPORTER", "")
	t.Setenv("SCENARIOGEN_TRACING_SERVICE_NAME", "")
	t.Setenv("SCENARIOGEN_TRACING_SAMPLE_RATIO", "")
	t.Setenv("SCENARIOGEN_OTLP_ENDPOINT", "")

	cfg := TracingConfigFromEnv()
	if cfg.Enabled {
		t.Error("tracing should default to disabled")
	}
	if cfg.Exporter != "stdout" {
		t.Errorf("Exporter = %q, want stdout", cfg.Exporter)
	}
	if cfg.ServiceName != "scenariogen" {
		t.Errorf("ServiceName = %q, want scenariogen", cfg.ServiceName)
	}
	if cfg.SampleRatio != 1.0 {
		t.Errorf("SampleRatio = %v, want 1.0", cfg.SampleRatio)
	}
}

func TestTracingConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("SCENARIOGEN_TRACING_ENABLED", "TRUE")
	t.Setenv("SCENARIOGEN_TRACING_EXPORTER", "OTLP")
	t.Setenv("SCENARIOGEN_TRACING_SERVICE_NAME", "gen-west")
	t.Setenv("SCENARIOGEN_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("SCENARIOGEN_OTLP_ENDPOINT", "collector:4317")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled {
		t.Error("Enabled = false, want true")
	}
	if cfg.Exporter != "otlp" {
		t.Errorf("Exporter = %q, want otlp", cfg.Exporter)
	}
	if cfg.ServiceName != "gen-west" {
		t.Errorf("ServiceName = %q, want gen-west", cfg.ServiceName)
	}
	if cfg.SampleRatio != 0.25 {
		t.Errorf("SampleRatio = %v, want 0.25", cfg.SampleRatio)
	}
	if cfg.Endpoint != "collector:4317" {
		t.Errorf("Endpoint = %q, want collector:4317", cfg.Endpoint)
	}
}

func TestTracingConfigFromEnvIgnoresBadRatio(t *testing.T) {
	t.Setenv("SCENARIOGEN_TRACING_SAMPLE_RATIO", "12")
	if cfg := TracingConfigFromEnv(); cfg.SampleRatio != 1.0 {
		t.Errorf("SampleRatio = %v, want fallback 1.0 for out-of-range input", cfg.SampleRatio)
	}
}

func TestInitTracingDisabledReturnsNoopShutdown(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("noop shutdown returned %v", err)
	}
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "jaeger"}, nil)
	if err == nil {
		t.Error("expected an error for an unsupported exporter")
	}
}
