package onnx

import (
	"fmt"
	"log/slog"

	ort "github.com/yalue/onnxruntime_go"
)

// sessionOptions builds ONNX Runtime session options for the requested
// execution provider. "auto" prefers CUDA when the runtime supports it and
// silently stays on CPU otherwise; an explicit "cuda" fails hard so the
// caller's fallback policy decides.
func sessionOptions(provider string, log *slog.Logger) (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}

	switch provider {
	case "cpu", "":
		if err := opts.SetIntraOpNumThreads(2); err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("set intra-op threads: %w", err)
		}
	case "cuda":
		if err := appendCUDA(opts); err != nil {
			opts.Destroy()
			return nil, err
		}
	case "auto":
		if err := appendCUDA(opts); err != nil {
			log.Info("CUDA unavailable, using CPU", slog.String("reason", err.Error()))
		}
	default:
		opts.Destroy()
		return nil, fmt.Errorf("unknown execution provider %q", provider)
	}
	return opts, nil
}

func appendCUDA(opts *ort.SessionOptions) error {
	cudaOpts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return fmt.Errorf("create CUDA provider options: %w", err)
	}
	defer cudaOpts.Destroy()
	if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
		return fmt.Errorf("append CUDA execution provider: %w", err)
	}
	return nil
}
