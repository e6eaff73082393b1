package post

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"
)

type execProcessor struct {
	cmd []string
	mu  sync.Mutex
}

type execResponse struct {
	Text string `json:"text"`
}

// NewExecProcessor shells out to a user-supplied command. The transcript
// request is passed as JSON on stdin; the command replies with {"text": ...}
// on stdout.
func NewExecProcessor(command string) (Processor, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse post command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("post command empty")
	}
	return &execProcessor{cmd: args}, nil
}

func (p *execProcessor) Process(ctx context.Context, req Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	payload := map[string]any{
		"text":        req.Text,
		"prompt":      req.Prompt,
		"system":      req.System,
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
	}
	input, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	base := p.cmd[0]
	args := append([]string{}, p.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(input)
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("post exec command failed: %w", err)
	}

	var resp execResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return "", fmt.Errorf("decode post exec response: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
