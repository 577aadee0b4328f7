package telemetry

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/mieaa/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Telemetry owns the tracer provider and the metrics registry of one process.
type Telemetry struct {
	Registry *prometheus.Registry

	tp     *sdktrace.TracerProvider
	pusher *push.Pusher
}

// Options identify the process in exported telemetry.
type Options struct {
	ServiceName    string
	ServiceVersion string
}

// Setup builds a registry for client metrics and, when tracing is enabled,
// installs an OTLP/HTTP tracer provider as the global one. With a pushgateway
// configured, Shutdown pushes the registry once; a CLI run is too short-lived
// to be scraped.
func Setup(ctx context.Context, cfg config.TelemetryConfig, opts Options) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	t := &Telemetry{Registry: reg}

	if cfg.PushgatewayURL != "" {
		t.pusher = push.New(cfg.PushgatewayURL, cfg.JobName).Gatherer(reg)
	}
	if !cfg.Enabled {
		return t, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(opts.ServiceName),
			attribute.String("service.namespace", "mieaa"),
			attribute.String("service.version", opts.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("resource init: %w", err)
	}
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp init: %w", err)
	}
	t.tp = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(t.tp)
	return t, nil
}

// TracingEnabled reports whether spans are exported.
func (t *Telemetry) TracingEnabled() bool { return t != nil && t.tp != nil }

// Shutdown pushes metrics and flushes pending spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var err error
	if t.pusher != nil {
		if e := t.pusher.PushContext(ctx); e != nil {
			err = fmt.Errorf("metrics push: %w", e)
		}
	}
	if t.tp != nil {
		if e := t.tp.Shutdown(ctx); e != nil {
			if err != nil {
				err = fmt.Errorf("%v; trace shutdown: %w", err, e)
			} else {
				err = fmt.Errorf("trace shutdown: %w", e)
			}
		}
	}
	return err
}
