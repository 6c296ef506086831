package synth

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/loqalabs/loqa-tts/synth"

type engineMetrics struct {
	requests   metric.Int64Counter
	processing metric.Float64Histogram
	audio      metric.Float64Histogram
	rtf        metric.Float64Histogram
}

func newEngineMetrics(meter metric.Meter, log *slog.Logger) *engineMetrics {
	m := &engineMetrics{}
	var err error
	if m.requests, err = meter.Int64Counter("loqa.tts.requests", metric.WithDescription("Synthesis and conversion requests by outcome")); err != nil {
		log.Warn("failed to create metric", slog.String("metric", "loqa.tts.requests"), slog.String("error", err.Error()))
	}
	if m.processing, err = meter.Float64Histogram("loqa.tts.processing_seconds", metric.WithUnit("s"), metric.WithDescription("Wall clock time per request")); err != nil {
		log.Warn("failed to create metric", slog.String("metric", "loqa.tts.processing_seconds"), slog.String("error", err.Error()))
	}
	if m.audio, err = meter.Float64Histogram("loqa.tts.audio_seconds", metric.WithUnit("s"), metric.WithDescription("Duration of produced audio")); err != nil {
		log.Warn("failed to create metric", slog.String("metric", "loqa.tts.audio_seconds"), slog.String("error", err.Error()))
	}
	if m.rtf, err = meter.Float64Histogram("loqa.tts.real_time_factor", metric.WithDescription("Processing time divided by audio duration")); err != nil {
		log.Warn("failed to create metric", slog.String("metric", "loqa.tts.real_time_factor"), slog.String("error", err.Error()))
	}
	return m
}

func defaultMeter() metric.Meter { return otel.Meter(instrumentationName) }

func (m *engineMetrics) record(ctx context.Context, op string, res Result, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = Kind(err)
	}
	attrs := metric.WithAttributes(attribute.String("operation", op), attribute.String("outcome", outcome))
	if m.requests != nil {
		m.requests.Add(ctx, 1, attrs)
	}
	if err != nil {
		return
	}
	opAttr := metric.WithAttributes(attribute.String("operation", op))
	if m.processing != nil {
		m.processing.Record(ctx, res.ProcessingTime.Seconds(), opAttr)
	}
	if m.audio != nil {
		m.audio.Record(ctx, res.Duration().Seconds(), opAttr)
	}
	if m.rtf != nil && res.RealTimeFactor > 0 {
		m.rtf.Record(ctx, res.RealTimeFactor, opAttr)
	}
}
