// Package command runs an analysis as an external program.
//
// Inputs are rendered as --key=value flags in key order. Booleans become a
// bare --key when true and are omitted when false. Lists repeat the flag once
// per element. The program reports its outputs as one JSON object on stdout.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/animus-labs/analyses-go/internal/domain"
	"github.com/animus-labs/analyses-go/internal/execution/executor"
)

type Config struct {
	// Command is the program to run, resolved through PATH.
	Command string
	// Args precede the rendered input flags.
	Args []string
	// RequiredFiles must exist before the program is started.
	RequiredFiles []string
	Env           []string
	Dir           string
	Timeout       time.Duration
}

// waitDelay bounds how long Run waits on pipes held open by orphaned children
// after the context is done.
const waitDelay = 2 * time.Second

type Invoker struct {
	cfg Config
}

func New(cfg Config) (*Invoker, error) {
	cfg.Command = strings.TrimSpace(cfg.Command)
	if cfg.Command == "" {
		return nil, errors.New("command is required")
	}
	if cfg.Timeout < 0 {
		return nil, errors.New("timeout must be >= 0")
	}
	return &Invoker{cfg: cfg}, nil
}

// Args renders inputs as command line flags.
func Args(inputs domain.Configuration) []string {
	args := make([]string, 0, len(inputs))
	for _, key := range inputs.Keys() {
		args = appendFlag(args, key, inputs[key])
	}
	return args
}

func appendFlag(args []string, key string, v domain.Value) []string {
	switch v.Kind {
	case domain.KindBoolean:
		if v.Bool {
			args = append(args, "--"+key)
		}
	case domain.KindList:
		for _, item := range v.List {
			args = appendFlag(args, key, item)
		}
	default:
		args = append(args, "--"+key+"="+v.String())
	}
	return args
}

func (i *Invoker) Invoke(ctx context.Context, inputs domain.Configuration) (map[string]any, error) {
	args := append(append([]string(nil), i.cfg.Args...), Args(inputs)...)
	fail := func(cause error, stderr string) error {
		return &executor.ExecutionError{Command: i.cfg.Command, Args: args, Stderr: stderr, Cause: cause}
	}

	for _, path := range i.cfg.RequiredFiles {
		if _, err := os.Stat(path); err != nil {
			return nil, fail(fmt.Errorf("required file %s: %w", path, err), "")
		}
	}
	bin, err := exec.LookPath(i.cfg.Command)
	if err != nil {
		return nil, fail(err, "")
	}

	if i.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.cfg.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = i.cfg.Dir
	cmd.WaitDelay = waitDelay
	if len(i.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), i.cfg.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		return nil, fail(err, stderr.String())
	}
	outputs, err := parseOutputs(stdout.Bytes())
	if err != nil {
		return nil, fail(err, stderr.String())
	}
	return outputs, nil
}

func parseOutputs(raw []byte) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode outputs: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
