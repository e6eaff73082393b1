package feature

import (
	"github.com/hushlabs/hush-core/internal/decode"
)

// MinUtteranceSeconds is the shortest waveform the mel frontend accepts
// without producing degenerate feature shapes; shorter input is zero-padded
// up to this duration.
const MinUtteranceSeconds = 1.25

// Extractor prepares raw capture audio and runs it through the model's mel
// frontend. Preparation clips out-of-range samples and pads short utterances;
// it never rejects input.
type Extractor struct {
	frontend   decode.FrontendSession
	minSamples int
}

func NewExtractor(frontend decode.FrontendSession, sampleRate int) *Extractor {
	return &Extractor{
		frontend:   frontend,
		minSamples: int(float64(sampleRate) * MinUtteranceSeconds),
	}
}

// Extract converts samples into a spectrogram. The input slice is not
// mutated.
func (e *Extractor) Extract(samples []float32) (decode.Spectrogram, error) {
	prepared := Prepare(samples, e.minSamples)
	spec, err := e.frontend.Features(prepared)
	if err != nil {
		return decode.Spectrogram{}, &decode.InferenceError{Stage: decode.StageFrontend, Err: err}
	}
	return spec, nil
}

// Prepare returns a copy of samples with every value clipped to [-1, 1] and
// zero padding appended up to minSamples. Clipping keeps loud transients
// (plosives, desk bumps) from poisoning feature normalization; padding keeps
// very short utterances decodable.
func Prepare(samples []float32, minSamples int) []float32 {
	n := max(len(samples), minSamples)
	out := make([]float32, n)
	for i, s := range samples {
		switch {
		case s > 1:
			out[i] = 1
		case s < -1:
			out[i] = -1
		default:
			out[i] = s
		}
	}
	return out
}
