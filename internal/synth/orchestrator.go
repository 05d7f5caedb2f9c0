package synth

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/narralabs/narra-core/internal/segment"
)

// Synthesizer converts one text segment into encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, settings Settings) ([]byte, error)
}

// ProgressFunc is notified after each successfully synthesized segment.
type ProgressFunc func(index, total int)

// Orchestrator drives segmentation and per-segment synthesis for a whole
// request. Segments are processed strictly one at a time so that result order
// always equals source order; the first failure aborts the run with no
// partial result.
type Orchestrator struct {
	synth     Synthesizer
	logger    *slog.Logger
	tracer    trace.Tracer
	segCount  metric.Int64Counter
	byteCount metric.Int64Counter
}

func NewOrchestrator(synth Synthesizer, logger *slog.Logger) *Orchestrator {
	meter := otel.Meter("github.com/narralabs/narra-core/synth")
	segCount, err := meter.Int64Counter("narra.synth.segments",
		metric.WithDescription("Segments synthesized"))
	if err != nil {
		logger.Warn("failed to create segment counter", slog.String("error", err.Error()))
	}
	byteCount, err := meter.Int64Counter("narra.synth.audio_bytes",
		metric.WithDescription("Audio bytes produced by synthesis"))
	if err != nil {
		logger.Warn("failed to create byte counter", slog.String("error", err.Error()))
	}
	return &Orchestrator{
		synth:     synth,
		logger:    logger.With(slog.String("component", "orchestrator")),
		tracer:    otel.Tracer("github.com/narralabs/narra-core/synth"),
		segCount:  segCount,
		byteCount: byteCount,
	}
}

// SynthesizeAll validates settings, splits text and synthesizes every segment
// in order. progress may be nil.
func (o *Orchestrator) SynthesizeAll(ctx context.Context, text string, settings Settings, progress ProgressFunc) ([][]byte, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	segments, err := segment.Split(text, settings.EffectiveMaxLength())
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, nil
	}

	ctx, span := o.tracer.Start(ctx, "synth.all",
		trace.WithAttributes(attribute.Int("segments", len(segments))))
	defer span.End()

	buffers := make([][]byte, 0, len(segments))
	for i, seg := range segments {
		buf, err := o.synthesizeOne(ctx, i, seg, settings)
		if err != nil {
			o.logger.Warn("synthesis aborted",
				slog.Int("segment", i),
				slog.Int("total", len(segments)),
				slog.String("error", err.Error()))
			span.RecordError(err)
			return nil, err
		}
		buffers = append(buffers, buf)
		if o.segCount != nil {
			o.segCount.Add(ctx, 1)
		}
		if o.byteCount != nil {
			o.byteCount.Add(ctx, int64(len(buf)))
		}
		if progress != nil {
			progress(i, len(segments))
		}
	}
	return buffers, nil
}

func (o *Orchestrator) synthesizeOne(ctx context.Context, index int, text string, settings Settings) ([]byte, error) {
	ctx, span := o.tracer.Start(ctx, "synth.segment",
		trace.WithAttributes(
			attribute.Int("index", index),
			attribute.Int("text_runes", len([]rune(text)))))
	defer span.End()
	return o.synth.Synthesize(ctx, text, settings)
}
