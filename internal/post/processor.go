package post

import (
	"context"
	"fmt"
	"strings"

	"github.com/hushlabs/hush-core/internal/config"
)

// Request carries one transcript through post-processing.
type Request struct {
	Text        string
	Prompt      string
	System      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Processor rewrites a raw transcript, typically for punctuation and
// formatting. Failures are advisory: callers keep the raw transcript.
type Processor interface {
	Process(ctx context.Context, req Request) (string, error)
}

// FromConfig builds the configured processor, or nil when post-processing is
// disabled.
func FromConfig(cfg config.PostConfig) (Processor, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Mode {
	case "mock":
		return NewMockProcessor(), nil
	case "ollama":
		return NewOllamaProcessor(cfg.Endpoint), nil
	case "exec":
		return NewExecProcessor(cfg.Command)
	default:
		return nil, fmt.Errorf("unknown post mode %q", cfg.Mode)
	}
}

// RenderPrompt substitutes the transcript into the configured prompt
// template. An empty template passes the transcript through unchanged.
func RenderPrompt(template, text string) string {
	if strings.TrimSpace(template) == "" {
		return text
	}
	return strings.ReplaceAll(template, "${output}", text)
}
