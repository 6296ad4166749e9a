package bulletin

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/maorm36/bulletin"
)

// opInstruments holds the three instruments recorded for every operation.
type opInstruments struct {
	latency metric.Float64Histogram
	count   metric.Int64Counter
	errors  metric.Int64Counter
}

func (i *opInstruments) record(ctx context.Context, duration time.Duration, err error, attrs ...attribute.KeyValue) {
	set := metric.WithAttributes(attrs...)
	i.latency.Record(ctx, duration.Seconds(), set)
	i.count.Add(ctx, 1, set)
	if err != nil {
		i.errors.Add(ctx, 1, set)
	}
}

// otelInstrumentation holds OpenTelemetry instrumentation for the service.
type otelInstrumentation struct {
	enabled bool

	// Tracing
	tracingEnabled bool
	tracer         trace.Tracer

	// Metrics
	metricsEnabled bool

	create opInstruments
	list   opInstruments
	get    opInstruments
	delete opInstruments
}

// newOtelInstrumentation creates new OTel instrumentation from options.
func newOtelInstrumentation(opts *options) (*otelInstrumentation, error) {
	o := &otelInstrumentation{
		enabled:        opts.tracingEnabled || opts.metricsEnabled,
		tracingEnabled: opts.tracingEnabled,
		metricsEnabled: opts.metricsEnabled,
	}

	if !o.enabled {
		return o, nil
	}

	if opts.tracingEnabled {
		tp := opts.tracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		o.tracer = tp.Tracer(instrumentationName)
	}

	if opts.metricsEnabled {
		mp := opts.meterProvider
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
		if err := o.initMetrics(mp); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// initMetrics initializes all metric instruments.
func (o *otelInstrumentation) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	ops := []struct {
		name string
		noun string
		dst  *opInstruments
	}{
		{"create", "create", &o.create},
		{"list", "list", &o.list},
		{"get", "get", &o.get},
		{"delete", "delete-all", &o.delete},
	}

	for _, op := range ops {
		var err error
		op.dst.latency, err = meter.Float64Histogram(
			"bulletin."+op.name+".duration",
			metric.WithDescription("Duration of "+op.noun+" operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			return err
		}

		op.dst.count, err = meter.Int64Counter(
			"bulletin."+op.name+".count",
			metric.WithDescription("Number of "+op.noun+" operations"),
		)
		if err != nil {
			return err
		}

		op.dst.errors, err = meter.Int64Counter(
			"bulletin."+op.name+".errors",
			metric.WithDescription("Number of "+op.noun+" errors"),
		)
		if err != nil {
			return err
		}
	}

	return nil
}

// startSpan starts a new span if tracing is enabled.
// The returned func ends the span, recording err if non-nil.
func (o *otelInstrumentation) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if !o.tracingEnabled || o.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := o.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// recordCreate records create operation metrics.
func (o *otelInstrumentation) recordCreate(ctx context.Context, duration time.Duration, urgent bool, err error) {
	if !o.metricsEnabled {
		return
	}
	o.create.record(ctx, duration, err, attribute.Bool("urgent", urgent))
}

// recordList records list operation metrics. Duration covers the stream's
// whole life, from the call until Close.
func (o *otelInstrumentation) recordList(ctx context.Context, duration time.Duration, mode SearchMode, resultCount int, err error) {
	if !o.metricsEnabled {
		return
	}
	o.list.record(ctx, duration, err,
		attribute.String("mode", modeLabel(mode)),
		attribute.Int("result_count", resultCount),
	)
}

// recordGet records identity lookup metrics.
func (o *otelInstrumentation) recordGet(ctx context.Context, duration time.Duration, found bool, err error) {
	if !o.metricsEnabled {
		return
	}
	o.get.record(ctx, duration, err, attribute.Bool("found", found))
}

// recordDelete records delete-all metrics.
func (o *otelInstrumentation) recordDelete(ctx context.Context, duration time.Duration, deleted int64, err error) {
	if !o.metricsEnabled {
		return
	}
	o.delete.record(ctx, duration, err, attribute.Int64("deleted", deleted))
}

func modeLabel(m SearchMode) string {
	if m == SearchNone {
		return "all"
	}
	return string(m)
}
