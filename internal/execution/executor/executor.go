// Package executor maps analysis entry points to the code that runs them.
//
// The registry is an explicit name to Invoker table filled at startup.
// Entry points are never resolved by reflection or dynamic import.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/animus-labs/analyses-go/internal/domain"
)

var ErrUnknownEntryPoint = errors.New("unknown entry point")

// Invoker runs one analysis with a resolved input configuration and returns
// its raw outputs keyed by output definition key.
type Invoker interface {
	Invoke(ctx context.Context, inputs domain.Configuration) (map[string]any, error)
}

// Func adapts a function to Invoker.
type Func func(ctx context.Context, inputs domain.Configuration) (map[string]any, error)

func (f Func) Invoke(ctx context.Context, inputs domain.Configuration) (map[string]any, error) {
	return f(ctx, inputs)
}

type Registry struct {
	mu       sync.RWMutex
	invokers map[string]Invoker
}

func NewRegistry() *Registry {
	return &Registry{invokers: map[string]Invoker{}}
}

// Register binds name to inv. Names are unique.
func (r *Registry) Register(name string, inv Invoker) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("entry point name is required")
	}
	if inv == nil {
		return fmt.Errorf("entry point %s: invoker is required", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.invokers[name]; ok {
		return fmt.Errorf("entry point %s already registered", name)
	}
	r.invokers[name] = inv
	return nil
}

// MustRegister is Register for static tables built in main.
func (r *Registry) MustRegister(name string, inv Invoker) {
	if err := r.Register(name, inv); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(name string) (Invoker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inv, ok := r.invokers[strings.TrimSpace(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntryPoint, name)
	}
	return inv, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.invokers))
	for name := range r.invokers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExecutionError reports a failed invocation together with the command line
// that was run, when there was one.
type ExecutionError struct {
	EntryPoint string
	Command    string
	Args       []string
	Stderr     string
	Cause      error
}

func (e *ExecutionError) Error() string {
	var b strings.Builder
	b.WriteString("execution failed")
	if e.EntryPoint != "" {
		b.WriteString(" for ")
		b.WriteString(e.EntryPoint)
	}
	if e.Command != "" {
		b.WriteString(" (")
		b.WriteString(strings.TrimSpace(e.Command + " " + strings.Join(e.Args, " ")))
		b.WriteString(")")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		b.WriteString(": ")
		b.WriteString(stderr)
	}
	return b.String()
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// RunError is the persisted form of the failure.
func (e *ExecutionError) RunError() domain.RunError {
	return domain.RunError{
		EntryPoint: e.EntryPoint,
		Command:    e.Command,
		Args:       append([]string(nil), e.Args...),
		Message:    e.Error(),
	}
}

// Wrap converts err into an *ExecutionError attributed to entryPoint,
// keeping command details from an inner ExecutionError.
func Wrap(entryPoint string, err error) *ExecutionError {
	if err == nil {
		return nil
	}
	var inner *ExecutionError
	if errors.As(err, &inner) {
		out := *inner
		if out.EntryPoint == "" {
			out.EntryPoint = entryPoint
		}
		return &out
	}
	return &ExecutionError{EntryPoint: entryPoint, Cause: err}
}
