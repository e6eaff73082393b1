package vad

import (
	"fmt"
	"log/slog"
)

// Decision is the per-frame verdict of the voice gate.
type Decision struct {
	// Speech reports whether the frame should be treated as speech.
	Speech bool
	// Score is the speech probability in [0, 1] used for the verdict.
	Score float32
	// Fallback is set when the model failed and the gate failed open to
	// energy-based scoring. Fallback frames are always retained.
	Fallback bool
}

// Model scores a single fixed-size frame for speech probability. Recurrent
// implementations carry state across frames within one recording episode.
type Model interface {
	Probability(frame []float32) (float32, error)
	// Reset clears recurrent state at episode boundaries.
	Reset() error
	Close() error
}

// ShapeMismatchError reports a frame whose length does not match the gate's
// configured frame size.
type ShapeMismatchError struct {
	Got  int
	Want int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("vad frame has %d samples, want %d", e.Got, e.Want)
}

// Gate turns per-frame model scores into retain/drop decisions. When the
// model errors mid-episode the gate fails open: the frame is marked as speech
// so no audio is lost, with an energy-derived score for observability.
type Gate struct {
	model     Model
	frameSize int
	threshold float32
	log       *slog.Logger
}

func NewGate(model Model, frameSize int, threshold float64, log *slog.Logger) *Gate {
	return &Gate{
		model:     model,
		frameSize: frameSize,
		threshold: float32(threshold),
		log:       log.With(slog.String("component", "vad")),
	}
}

// Evaluate scores one frame. The returned decision is valid even when the
// underlying model fails; only a frame of the wrong shape yields an error.
func (g *Gate) Evaluate(frame []float32) (Decision, error) {
	if len(frame) != g.frameSize {
		return Decision{}, &ShapeMismatchError{Got: len(frame), Want: g.frameSize}
	}

	p, err := g.model.Probability(frame)
	if err != nil {
		g.log.Debug("vad model inference failed", slog.String("error", err.Error()))
		return Decision{Speech: true, Score: energyScore(frame), Fallback: true}, nil
	}
	return Decision{Speech: p >= g.threshold, Score: p}, nil
}

// Reset clears recurrent model state at the start of a recording episode.
func (g *Gate) Reset() {
	if err := g.model.Reset(); err != nil {
		g.log.Warn("failed to reset vad model", slog.String("error", err.Error()))
	}
}

// Close releases the underlying model.
func (g *Gate) Close() error {
	return g.model.Close()
}
