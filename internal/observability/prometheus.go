package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// prometheusHandler serves the local /metrics scrape endpoint. It is nil
// when no Prometheus reader could be constructed.
type prometheusHandler = http.Handler

// newPrometheusReader creates an OTel metric [sdkmetric.Reader] backed by an
// isolated Prometheus registry, and an [http.Handler] that serves it. Each
// call creates an independent registry to avoid collector conflicts when
// called more than once in the same process (as happens in SimCohort runs).
func newPrometheusReader() (sdkmetric.Reader, prometheusHandler, error) {
	registry := prometheus.NewRegistry()

	exporter, err := promexporter.New(
		promexporter.WithRegisterer(registry),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	return exporter, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}
