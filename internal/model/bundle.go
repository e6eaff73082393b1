package model

import (
	"context"
	"fmt"

	"github.com/hushlabs/hush-core/internal/decode"
)

// Bundle holds the three loaded inference sessions of one speech model plus
// its vocabulary. A bundle is immutable after load; Close releases the
// underlying runtime sessions.
type Bundle struct {
	ModelID  string
	Provider string
	Frontend decode.FrontendSession
	Encoder  decode.EncoderSession
	Joint    decode.JointSession
	Vocab    *decode.Vocabulary

	closeFn func() error
}

// NewBundle wires a bundle over loaded sessions. closeFn may be nil.
func NewBundle(modelID, provider string, frontend decode.FrontendSession, encoder decode.EncoderSession, joint decode.JointSession, vocab *decode.Vocabulary, closeFn func() error) *Bundle {
	return &Bundle{
		ModelID:  modelID,
		Provider: provider,
		Frontend: frontend,
		Encoder:  encoder,
		Joint:    joint,
		Vocab:    vocab,
		closeFn:  closeFn,
	}
}

func (b *Bundle) Close() error {
	if b == nil || b.closeFn == nil {
		return nil
	}
	return b.closeFn()
}

// Loader materializes a model bundle from disk for a given execution
// provider ("cpu" or "cuda").
type Loader interface {
	Load(ctx context.Context, modelID, provider string) (*Bundle, error)
}

// LoadFailedError reports that a model could not be loaded on any attempted
// provider. Err preserves the original backend failure, with the CPU retry
// error joined when a fallback was attempted.
type LoadFailedError struct {
	ModelID  string
	Provider string
	Err      error
}

func (e *LoadFailedError) Error() string {
	return fmt.Sprintf("load model %q on %s: %v", e.ModelID, e.Provider, e.Err)
}

func (e *LoadFailedError) Unwrap() error {
	return e.Err
}
