// Package metering records usage and cost metrics for remote AI calls.
//
// The recorder is a fire-and-forget side channel: failures to create or
// record instruments are logged and degraded to no-ops, never surfaced to
// the primary operation.
package metering

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/recalld/internal/metering"

// Recorder holds the usage instruments. A nil *Recorder is safe to use.
type Recorder struct {
	meter  metric.Meter
	logger *zap.Logger

	usage  metric.Int64Counter
	errors metric.Int64Counter
}

// NewRecorder creates a Recorder backed by the global meter provider.
func NewRecorder(logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	r.init()
	return r
}

func (r *Recorder) init() {
	var err error

	r.usage, err = r.meter.Int64Counter(
		"recalld.ai.usage_total",
		metric.WithDescription("Units consumed by remote AI calls (tokens for embeddings), labeled by user, operation, and endpoint."),
		metric.WithUnit("{unit}"),
	)
	if err != nil {
		r.logger.Warn("failed to create usage counter", zap.Error(err))
	}

	r.errors, err = r.meter.Int64Counter(
		"recalld.ai.errors_total",
		metric.WithDescription("Remote AI call failures by operation and endpoint."),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		r.logger.Warn("failed to create errors counter", zap.Error(err))
	}
}

// RecordUsage records consumed units for a remote call. The endpoint label is
// an opaque attribution string supplied by the caller; it is not validated.
func (r *Recorder) RecordUsage(ctx context.Context, userID, operation, endpoint string, quantity int64) {
	if r == nil || r.usage == nil {
		return
	}
	r.usage.Add(ctx, quantity, metric.WithAttributes(
		attribute.String("user_id", userID),
		attribute.String("operation", operation),
		attribute.String("endpoint", endpoint),
	))
}

// RecordError counts a failed remote call.
func (r *Recorder) RecordError(ctx context.Context, operation, endpoint string) {
	if r == nil || r.errors == nil {
		return
	}
	r.errors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("endpoint", endpoint),
	))
}
