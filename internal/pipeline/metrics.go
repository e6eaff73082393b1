package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type pipelineMetrics struct {
	decodeSeconds    metric.Float64Histogram
	realTimeFactor   metric.Float64Histogram
	utteranceSeconds metric.Float64Counter
	decodeErrors     metric.Int64Counter
	transcripts      metric.Int64Counter
	vadFallbacks     metric.Int64Counter
}

func newPipelineMetrics() (*pipelineMetrics, error) {
	meter := otel.Meter("github.com/hushlabs/hush-core/internal/pipeline")

	decodeSeconds, err := meter.Float64Histogram("hush_decode_seconds",
		metric.WithDescription("Wall-clock duration of one utterance decode"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	realTimeFactor, err := meter.Float64Histogram("hush_decode_real_time_factor",
		metric.WithDescription("Decode duration divided by utterance duration"))
	if err != nil {
		return nil, err
	}
	utteranceSeconds, err := meter.Float64Counter("hush_utterance_seconds_total",
		metric.WithDescription("Total seconds of speech transcribed"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	decodeErrors, err := meter.Int64Counter("hush_decode_errors_total",
		metric.WithDescription("Transcriptions that failed or timed out"))
	if err != nil {
		return nil, err
	}
	transcripts, err := meter.Int64Counter("hush_transcripts_total",
		metric.WithDescription("Finalized transcripts, empty ones included"))
	if err != nil {
		return nil, err
	}
	vadFallbacks, err := meter.Int64Counter("hush_vad_fallback_total",
		metric.WithDescription("Recording episodes where the VAD model failed open"))
	if err != nil {
		return nil, err
	}

	return &pipelineMetrics{
		decodeSeconds:    decodeSeconds,
		realTimeFactor:   realTimeFactor,
		utteranceSeconds: utteranceSeconds,
		decodeErrors:     decodeErrors,
		transcripts:      transcripts,
		vadFallbacks:     vadFallbacks,
	}, nil
}

func (m *pipelineMetrics) recordDecode(ctx context.Context, modelID string, elapsed time.Duration, audioSeconds float64) {
	attrs := metric.WithAttributes(attribute.String("model_id", modelID))
	m.decodeSeconds.Record(ctx, elapsed.Seconds(), attrs)
	if audioSeconds > 0 {
		m.realTimeFactor.Record(ctx, elapsed.Seconds()/audioSeconds, attrs)
		m.utteranceSeconds.Add(ctx, audioSeconds, attrs)
	}
}

func (m *pipelineMetrics) recordError(ctx context.Context, stage string) {
	m.decodeErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}
