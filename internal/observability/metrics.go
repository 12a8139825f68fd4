// Package observability provides OpenTelemetry instrumentation for tracing and metrics.
package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// Metrics is the process-wide meter provider and its scrape endpoint.
type Metrics struct {
	Handler     http.Handler
	Instruments *Instruments
	shutdown    func(context.Context) error
}

// InitMetrics installs a meter provider exporting to Prometheus and creates
// the generation instruments on it.
func InitMetrics(serviceName string) (*Metrics, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := metric.NewMeterProvider(
		metric.WithReader(exporter),
		metric.WithResource(resource.NewSchemaless(semconv.ServiceName(serviceName))),
	)
	otel.SetMeterProvider(provider)

	in, err := NewInstruments(provider.Meter(serviceName))
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to create instruments: %w", err)
	}

	return &Metrics{
		Handler:     promhttp.Handler(),
		Instruments: in,
		shutdown:    provider.Shutdown,
	}, nil
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.shutdown(ctx)
}
