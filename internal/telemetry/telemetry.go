// Package telemetry sets up the OpenTelemetry providers: cycle spans through
// the stdout trace exporter and an optional periodic stdout dump of cycle
// metrics. Prometheus remains the primary metrics surface.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const serviceName = "inkgate"

// Exporter names accepted by Config.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// ErrUnknownExporter is returned for exporter names other than none/stdout.
var ErrUnknownExporter = errors.New("unknown telemetry exporter")

// Config selects the exporters.
type Config struct {
	// Tracing is "none" (default) or "stdout".
	Tracing string
	// Metrics is "none" (default) or "stdout".
	Metrics string
	// MetricsInterval is the stdout metric export period (default 1m).
	MetricsInterval time.Duration
	// ServiceVersion is attached to the resource.
	ServiceVersion string
	// Writer receives exporter output; defaults to os.Stdout.
	Writer io.Writer
}

// Providers holds whatever Init installed. Nil fields were not configured.
type Providers struct {
	Tracer *sdktrace.TracerProvider
	Meter  *sdkmetric.MeterProvider
}

// Shutdown flushes and stops the installed providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	if p.Tracer != nil {
		errs = append(errs, p.Tracer.Shutdown(ctx))
	}
	if p.Meter != nil {
		errs = append(errs, p.Meter.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// Init installs the configured providers as the otel globals. With both
// exporters set to none it installs nothing and the globals stay no-op.
func Init(cfg Config) (*Providers, error) {
	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	p := &Providers{}
	switch cfg.Tracing {
	case "", ExporterNone:
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create trace exporter: %w", err)
		}
		p.Tracer = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(p.Tracer)
	default:
		return nil, fmt.Errorf("%w: tracing %q", ErrUnknownExporter, cfg.Tracing)
	}

	switch cfg.Metrics {
	case "", ExporterNone:
	case ExporterStdout:
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
		if err != nil {
			_ = p.Shutdown(context.Background())
			return nil, fmt.Errorf("create metric exporter: %w", err)
		}
		interval := cfg.MetricsInterval
		if interval <= 0 {
			interval = time.Minute
		}
		p.Meter = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(p.Meter)
	default:
		_ = p.Shutdown(context.Background())
		return nil, fmt.Errorf("%w: metrics %q", ErrUnknownExporter, cfg.Metrics)
	}
	return p, nil
}
