package audio

import (
	"math"
	"time"
)

// Frame is one fixed-length block of mono float32 samples delivered by the
// device callback. The callback copies device-owned memory into the frame;
// the device buffer is never retained past the callback's return.
type Frame []float32

// Utterance is the finalized sample array handed from a recording session to
// the decoding pipeline. Ownership transfers fully to the caller; the capture
// buffer is cleared independently.
type Utterance struct {
	Samples    []float32
	SampleRate int
}

func (u Utterance) Empty() bool {
	return len(u.Samples) == 0
}

func (u Utterance) Duration() time.Duration {
	if u.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(u.Samples)) / float64(u.SampleRate) * float64(time.Second))
}

// RMS returns the root-mean-square energy of the samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
