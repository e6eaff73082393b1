package post

import (
	"context"
	"strings"
)

type mockProcessor struct{}

// NewMockProcessor returns a processor that applies trivial sentence casing.
// Useful for development without a local LLM and for exercising the post
// path in tests.
func NewMockProcessor() Processor {
	return &mockProcessor{}
}

func (*mockProcessor) Process(_ context.Context, req Request) (string, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return "", nil
	}
	out := strings.ToUpper(text[:1]) + text[1:]
	if !strings.HasSuffix(out, ".") && !strings.HasSuffix(out, "?") && !strings.HasSuffix(out, "!") {
		out += "."
	}
	return out, nil
}
