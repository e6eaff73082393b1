package model

import (
	"context"
	"fmt"

	"github.com/hushlabs/hush-core/internal/decode"
)

// MockLoader produces an in-process model bundle with no runtime
// dependencies. It backs the "mock" backend for development machines without
// model files and is the workhorse of pipeline tests.
type MockLoader struct {
	// Script is the token sequence the mock joint emits, one token per
	// encoded frame. Empty means every frame decodes to blank.
	Script []int
	// Tokens overrides the built-in vocabulary.
	Tokens map[int]string
	// Err, when set, makes every Load fail.
	Err error
}

func NewMockLoader(script []int) *MockLoader {
	return &MockLoader{Script: script}
}

func (l *MockLoader) Load(_ context.Context, modelID, provider string) (*Bundle, error) {
	if l.Err != nil {
		return nil, fmt.Errorf("mock load %s: %w", modelID, l.Err)
	}
	tokens := l.Tokens
	if tokens == nil {
		tokens = map[int]string{
			0: "▁hush",
			1: "▁mock",
			2: "▁transcript",
			3: "<blk>",
		}
	}
	vocab := decode.NewVocabulary(tokens)
	if provider == "auto" {
		provider = "cpu"
	}
	return NewBundle(
		modelID,
		provider,
		mockFrontend{},
		mockEncoder{},
		&mockJoint{script: l.Script, vocab: vocab},
		vocab,
		nil,
	), nil
}

// mockFrontend mimics a 10ms-hop mel frontend: one feature frame per 160
// samples at 16kHz.
type mockFrontend struct{}

func (mockFrontend) Features(samples []float32) (decode.Spectrogram, error) {
	frames := len(samples) / 160
	if frames == 0 {
		frames = 1
	}
	return decode.Spectrogram{
		Data:   make([]float32, 128*frames),
		Mels:   128,
		Frames: frames,
		Length: frames,
	}, nil
}

// mockEncoder subsamples 8x and tags each encoded frame with its index so
// the mock joint can look up its scripted token.
type mockEncoder struct{}

func (mockEncoder) Encode(spec decode.Spectrogram) (decode.Encoded, error) {
	n := spec.Length / 8
	if n == 0 {
		n = 1
	}
	frames := make([][]float32, n)
	for i := range frames {
		frames[i] = []float32{float32(i)}
	}
	return decode.Encoded{Frames: frames}, nil
}

// mockJoint emits the scripted token for a frame exactly once; the recurrent
// state records the last frame index that emitted.
type mockJoint struct {
	script []int
	vocab  *decode.Vocabulary
}

func (j *mockJoint) NewState() decode.JointState {
	return decode.JointState{S1: []float32{-1}, S2: []float32{0}}
}

func (j *mockJoint) Step(encFrame []float32, lastToken int, state decode.JointState) ([]float32, decode.JointState, error) {
	idx := int(encFrame[0])
	emit := j.vocab.BlankID
	if idx < len(j.script) && int(state.S1[0]) != idx {
		emit = j.script[idx]
	}

	logits := make([]float32, j.vocab.Size())
	logits[emit] = 1

	next := decode.JointState{S1: []float32{float32(idx)}, S2: state.S2}
	return logits, next, nil
}
