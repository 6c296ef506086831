// Package models provides the acoustic model, vocoder and speaker encoder
// backends: external commands speaking JSON over stdin/stdout, and
// deterministic mocks.
package models

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

// runner invokes one external command per call. Calls are serialized since
// model processes are not assumed to be re-entrant.
type runner struct {
	name string
	cmd  []string
	mu   sync.Mutex
}

func newRunner(name, command string) (*runner, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse %s command: %w", name, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%s command empty", name)
	}
	return &runner{name: name, cmd: args}, nil
}

func (r *runner) call(ctx context.Context, req any, resp any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	input, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", r.name, err)
	}

	base := r.cmd[0]
	args := append([]string{}, r.cmd[1:]...)
	command := exec.CommandContext(ctx, base, args...)
	command.Stdin = bytes.NewReader(input)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return fmt.Errorf("%s command failed: %w: %s", r.name, err, stderr.String())
	}
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &envelope); err != nil {
		return fmt.Errorf("decode %s response: %w", r.name, err)
	}
	if envelope.Error != "" {
		return fmt.Errorf("%s: %s", r.name, envelope.Error)
	}
	if err := json.Unmarshal(stdout.Bytes(), resp); err != nil {
		return fmt.Errorf("decode %s response: %w", r.name, err)
	}
	return nil
}
