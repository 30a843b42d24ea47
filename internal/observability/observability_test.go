package observability

import (
	"context"
	"testing"

	"linqyard/internal/models"
	"linqyard/internal/version"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	tests := []struct {
		name         string
		metrics      models.MetricsConfig
		tracing      models.TracingConfig
		wantTracer   bool
		wantRegistry bool
	}{
		{
			name:         "metrics only",
			metrics:      models.MetricsConfig{Enabled: true, Path: "/metrics", Port: 9090},
			wantRegistry: true,
		},
		{
			name:       "tracing stdout",
			tracing:    models.TracingConfig{Enabled: true, Exporter: "stdout", SampleRate: 1.0},
			wantTracer: true,
		},
		{
			name:         "both enabled",
			metrics:      models.MetricsConfig{Enabled: true, Path: "/metrics", Port: 9090},
			tracing:      models.TracingConfig{Enabled: true, Exporter: "stdout", SampleRate: 0.5},
			wantTracer:   true,
			wantRegistry: true,
		},
		{
			name: "both disabled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := models.ObservabilityConfig{ServiceName: "linqyard-test", Tracing: tt.tracing}

			provider, err := Setup(context.Background(), tt.metrics, obs, version.Info{Version: "test"})
			require.NoError(t, err)
			require.NotNil(t, provider)

			assert.Equal(t, tt.wantTracer, provider.tracerProvider != nil)
			assert.Equal(t, tt.wantRegistry, provider.Registry() != nil)

			assert.NoError(t, provider.Shutdown(context.Background()))
		})
	}
}

func TestSetup_InvalidExporter(t *testing.T) {
	obs := models.ObservabilityConfig{
		Tracing: models.TracingConfig{Enabled: true, Exporter: "zipkin", SampleRate: 1.0},
	}

	provider, err := Setup(context.Background(), models.MetricsConfig{}, obs, version.Info{})
	require.Error(t, err)
	assert.Nil(t, provider)
	assert.Contains(t, err.Error(), "unsupported trace exporter")
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(1.0).Description(), "AlwaysOn")
	assert.Contains(t, sampler(0).Description(), "AlwaysOff")
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}

func TestProvider_ShutdownNilProviders(t *testing.T) {
	p := &Provider{}
	assert.NoError(t, p.Shutdown(context.Background()))

	var nilProvider *Provider
	assert.Nil(t, nilProvider.Registry())
}

func TestEnvironment(t *testing.T) {
	t.Setenv("LINQYARD_ENVIRONMENT", "")
	assert.Equal(t, "development", environment())

	t.Setenv("LINQYARD_ENVIRONMENT", "production")
	assert.Equal(t, "production", environment())
}
