package observe

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures the OpenTelemetry providers created by
// [InitProvider].
type ProviderConfig struct {
	// ServiceName identifies this service in resource attributes.
	// Defaults to "sonara" when empty.
	ServiceName string

	// ServiceVersion is attached to the OTel resource when set.
	ServiceVersion string

	// PrometheusRegisterer is the registry the Prometheus exporter registers
	// with. Defaults to prometheus.DefaultRegisterer when nil.
	PrometheusRegisterer prometheus.Registerer
}

// InitProvider sets up the global OpenTelemetry meter and tracer providers
// with a Prometheus metrics exporter. It returns a shutdown function that
// flushes and stops both providers; callers should invoke it during graceful
// shutdown.
func InitProvider(ctx context.Context, cfg ProviderConfig) (func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "sonara"
	}
	if cfg.PrometheusRegisterer == nil {
		cfg.PrometheusRegisterer = prometheus.DefaultRegisterer
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, attrs...))
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	exporter, err := promexporter.New(
		promexporter.WithRegisterer(cfg.PrometheusRegisterer),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(mp)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	shutdown := func(ctx context.Context) error {
		terr := tp.Shutdown(ctx)
		merr := mp.Shutdown(ctx)
		if terr != nil {
			return fmt.Errorf("observe: shutdown tracer provider: %w", terr)
		}
		if merr != nil {
			return fmt.Errorf("observe: shutdown meter provider: %w", merr)
		}
		return nil
	}
	return shutdown, nil
}
