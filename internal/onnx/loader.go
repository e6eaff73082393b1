package onnx

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hushlabs/hush-core/internal/config"
	"github.com/hushlabs/hush-core/internal/decode"
	"github.com/hushlabs/hush-core/internal/model"
)

// Expected artifact names inside a model directory.
const (
	frontendFile = "nemo128.onnx"
	encoderFile  = "encoder-model.int8.onnx"
	jointFile    = "decoder_joint-model.int8.onnx"
	vocabFile    = "vocab.txt"
)

// Loader materializes parakeet-style transducer bundles from ONNX files on
// disk. It owns the process-wide ONNX Runtime environment.
type Loader struct {
	cfg config.ModelsConfig
	log *slog.Logger
}

// NewLoader initializes the ONNX Runtime environment once for the process.
func NewLoader(cfg config.ModelsConfig, log *slog.Logger) (*Loader, error) {
	if cfg.ONNXLibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.ONNXLibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}
	return &Loader{
		cfg: cfg,
		log: log.With(slog.String("component", "onnx.loader")),
	}, nil
}

// Load builds the three inference sessions plus the vocabulary for modelID.
// Artifacts are verified up front so a half-downloaded model fails with a
// clear message instead of an opaque runtime error.
func (l *Loader) Load(ctx context.Context, modelID, provider string) (*model.Bundle, error) {
	dir := filepath.Join(l.cfg.Dir, modelID)
	for _, name := range []string{frontendFile, encoderFile, jointFile, vocabFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return nil, fmt.Errorf("model %s missing artifact %s: %w", modelID, name, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vocab, err := decode.LoadVocabulary(filepath.Join(dir, vocabFile))
	if err != nil {
		return nil, err
	}

	opts, err := sessionOptions(provider, l.log)
	if err != nil {
		return nil, err
	}
	defer opts.Destroy()

	frontend, err := newFrontendSession(filepath.Join(dir, frontendFile), opts)
	if err != nil {
		return nil, fmt.Errorf("load frontend: %w", err)
	}
	encoder, err := newEncoderSession(filepath.Join(dir, encoderFile), opts)
	if err != nil {
		frontend.close()
		return nil, fmt.Errorf("load encoder: %w", err)
	}
	joint, err := newJointSession(filepath.Join(dir, jointFile), opts)
	if err != nil {
		frontend.close()
		encoder.close()
		return nil, fmt.Errorf("load joint: %w", err)
	}

	l.log.Info("onnx sessions created",
		slog.String("model_id", modelID),
		slog.String("provider", provider),
		slog.String("dir", dir))

	closeFn := func() error {
		ferr := frontend.close()
		eerr := encoder.close()
		jerr := joint.close()
		if ferr != nil {
			return ferr
		}
		if eerr != nil {
			return eerr
		}
		return jerr
	}
	return model.NewBundle(modelID, provider, frontend, encoder, joint, vocab, closeFn), nil
}

// Destroy tears down the ONNX Runtime environment. Call once at process
// shutdown after all bundles are closed.
func (l *Loader) Destroy() {
	if ort.IsInitialized() {
		if err := ort.DestroyEnvironment(); err != nil {
			l.log.Warn("failed to destroy onnxruntime environment", slog.String("error", err.Error()))
		}
	}
}
