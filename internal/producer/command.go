package producer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

// maxCommandOutput caps captured stdout and stderr of a producer command.
const maxCommandOutput = 10 * 1024 * 1024

const commandWaitDelay = time.Second

// CommandRequest is written as JSON to a producer command's stdin.
//
// Example:
//
//	{
//	  "prompt": "Extract medical information from this text: ...",
//	  "system": "You are a medical information extraction expert...",
//	  "options": {"temperature": 0.3, "json_response": true}
//	}
type CommandRequest struct {
	Prompt  string  `json:"prompt"`
	System  string  `json:"system"`
	Options Options `json:"options"`
}

// CommandResponse is the JSON object a producer command writes to stdout.
// The command must write exactly one object and exit 0.
//
// Example:
//
//	{"text": "{\"symptoms\": [\"fever\"]}", "model": "local-7b", "token_usage": {"total_tokens": 120}}
type CommandResponse struct {
	Text       string     `json:"text"`
	Model      string     `json:"model"`
	TokenUsage TokenUsage `json:"token_usage"`
}

// Validate checks the response carries text.
func (r *CommandResponse) Validate() error {
	if r.Text == "" {
		return fmt.Errorf("text is required")
	}
	return nil
}

// CommandGenerator runs an external program per call, speaking the
// CommandRequest/CommandResponse JSON contract over stdin/stdout. The call is
// killed when ctx is done.
type CommandGenerator struct {
	Command []string
	Dir     string
	Env     []string
}

// NewCommandGenerator validates command and returns a generator for it.
func NewCommandGenerator(command []string, dir string) (*CommandGenerator, error) {
	if len(command) == 0 || command[0] == "" {
		return nil, fmt.Errorf("command array is empty")
	}
	return &CommandGenerator{Command: command, Dir: dir}, nil
}

// Generate implements Generator.
func (g *CommandGenerator) Generate(ctx context.Context, prompt, system string, opts ...Option) (*Response, error) {
	if len(g.Command) == 0 {
		return nil, Permanent(fmt.Errorf("command array is empty"))
	}

	input, err := json.Marshal(CommandRequest{Prompt: prompt, System: system, Options: ApplyOptions(opts...)})
	if err != nil {
		return nil, Permanent(fmt.Errorf("failed to marshal command request: %w", err))
	}

	cmd := exec.CommandContext(ctx, g.Command[0], g.Command[1:]...)
	cmd.Dir = g.Dir
	if len(g.Env) > 0 {
		cmd.Env = g.Env
	}
	cmd.Stdin = bytes.NewReader(input)
	// Grandchildren may hold the output pipes open after the process is killed.
	cmd.WaitDelay = commandWaitDelay

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.Stdout = &limitedWriter{w: stdout, limit: maxCommandOutput}
	cmd.Stderr = &limitedWriter{w: stderr, limit: maxCommandOutput}

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("producer command interrupted: %w", ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("producer command exited with code %d: %s",
				exitErr.ExitCode(), truncate(strings.TrimSpace(stderr.String()), 500))
		}
		// Could not start the process at all; retrying will not help.
		return nil, Permanent(fmt.Errorf("failed to run producer command: %w", err))
	}

	if stdout.Len() >= maxCommandOutput {
		return nil, fmt.Errorf("producer command output exceeded %d bytes", maxCommandOutput)
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("producer command produced no output on stdout")
	}

	var out CommandResponse
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("invalid command response JSON: %w", err)
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("invalid command response: %w", err)
	}

	return &Response{Text: out.Text, Model: out.Model, TokenUsage: out.TokenUsage}, nil
}

// limitedWriter discards writes once limit bytes have been written.
type limitedWriter struct {
	w       io.Writer
	limit   int
	written int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		return len(p), nil
	}
	toWrite := p
	if len(p) > remaining {
		toWrite = p[:remaining]
	}
	n, err := lw.w.Write(toWrite)
	lw.written += n
	return len(p), err
}
