// Package telemetry initializes OpenTelemetry metrics export.
//
// Telemetry failures never crash the process; initialization degrades to
// no-op providers and records why.
package telemetry

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/fyrsmithlabs/recalld/internal/config"
)

// Telemetry manages the meter provider and its shutdown.
type Telemetry struct {
	meterProvider *sdkmetric.MeterProvider
	degraded      atomic.Bool
	degradedMsg   atomic.Value
}

// New initializes metrics export. With telemetry disabled it returns a
// functioning no-op instance.
func New(ctx context.Context, cfg config.TelemetryConfig) (*Telemetry, error) {
	t := &Telemetry{}
	if !cfg.Enabled {
		return t, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
	))
	if err != nil {
		t.setDegraded(fmt.Sprintf("resource creation failed: %v", err))
		return t, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
	if cfg.Endpoint != "" {
		opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.Endpoint))
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		t.setDegraded(fmt.Sprintf("metric exporter failed: %v", err))
		return t, nil
	}

	t.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	)
	otel.SetMeterProvider(t.meterProvider)
	return t, nil
}

func (t *Telemetry) setDegraded(msg string) {
	t.degraded.Store(true)
	t.degradedMsg.Store(msg)
}

// Degraded reports whether initialization fell back to no-op providers,
// and why.
func (t *Telemetry) Degraded() (bool, string) {
	if !t.degraded.Load() {
		return false, ""
	}
	msg, _ := t.degradedMsg.Load().(string)
	return true, msg
}

// Shutdown flushes and stops the meter provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.meterProvider == nil {
		return nil
	}
	return t.meterProvider.Shutdown(ctx)
}
