package feature

import (
	"errors"
	"testing"

	"github.com/hushlabs/hush-core/internal/decode"
)

type captureFrontend struct {
	received []float32
	err      error
}

func (f *captureFrontend) Features(samples []float32) (decode.Spectrogram, error) {
	f.received = samples
	if f.err != nil {
		return decode.Spectrogram{}, f.err
	}
	frames := len(samples) / 160
	return decode.Spectrogram{Mels: 128, Frames: frames, Length: frames, Data: make([]float32, 128*frames)}, nil
}

func TestPrepareClipsOutOfRangeSamples(t *testing.T) {
	out := Prepare([]float32{0.5, 1.7, -2.3, -0.25}, 0)
	want := []float32{0.5, 1, -1, -0.25}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("sample %d = %f, want %f", i, out[i], want[i])
		}
	}
}

func TestPreparePadsShortInput(t *testing.T) {
	out := Prepare([]float32{0.1, 0.2}, 10)
	if len(out) != 10 {
		t.Fatalf("len = %d, want 10", len(out))
	}
	if out[0] != 0.1 || out[1] != 0.2 {
		t.Fatalf("prefix not preserved: %v", out[:2])
	}
	for i := 2; i < 10; i++ {
		if out[i] != 0 {
			t.Fatalf("padding sample %d = %f, want 0", i, out[i])
		}
	}
}

func TestPrepareLeavesLongInputLength(t *testing.T) {
	in := make([]float32, 100)
	if out := Prepare(in, 10); len(out) != 100 {
		t.Fatalf("len = %d, want 100", len(out))
	}
}

func TestPrepareDoesNotMutateInput(t *testing.T) {
	in := []float32{2, -2}
	Prepare(in, 0)
	if in[0] != 2 || in[1] != -2 {
		t.Fatalf("input mutated: %v", in)
	}
}

func TestExtractorPadsToMinimumDuration(t *testing.T) {
	frontend := &captureFrontend{}
	ext := NewExtractor(frontend, 16000)

	// Half a second of audio must reach the frontend padded to 1.25s.
	if _, err := ext.Extract(make([]float32, 8000)); err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(frontend.received) != 20000 {
		t.Fatalf("frontend received %d samples, want 20000", len(frontend.received))
	}
}

func TestExtractorWrapsFrontendError(t *testing.T) {
	frontend := &captureFrontend{err: errors.New("invalid waveform tensor")}
	ext := NewExtractor(frontend, 16000)

	_, err := ext.Extract(make([]float32, 20000))
	var infErr *decode.InferenceError
	if !errors.As(err, &infErr) {
		t.Fatalf("expected InferenceError, got %v", err)
	}
	if infErr.Stage != decode.StageFrontend {
		t.Fatalf("stage = %q, want frontend", infErr.Stage)
	}
}
