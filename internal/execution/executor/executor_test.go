package executor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/animus-labs/analyses-go/internal/domain"
)

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("echo", Func(func(_ context.Context, in domain.Configuration) (map[string]any, error) {
		return in.Interface(), nil
	}))

	inv, err := r.Lookup(" echo ")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	out, err := inv.Invoke(context.Background(), domain.Configuration{"bins": domain.IntegerValue(10)})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out["bins"] != int64(10) {
		t.Fatalf("unexpected output %v", out)
	}

	if _, err := r.Lookup("missing"); !errors.Is(err, ErrUnknownEntryPoint) {
		t.Fatalf("expected ErrUnknownEntryPoint, got %v", err)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	noop := Func(func(context.Context, domain.Configuration) (map[string]any, error) { return nil, nil })
	if err := r.Register("a", noop); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register("a", noop); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	if err := r.Register("", noop); err == nil {
		t.Fatalf("expected blank name to fail")
	}
	if got := r.Names(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("unexpected names %v", got)
	}
}

func TestWrapKeepsCommandDetails(t *testing.T) {
	cause := errors.New("exit status 2")
	inner := &ExecutionError{Command: "cat12", Args: []string{"--bins=10"}, Stderr: "license not found", Cause: cause}

	err := Wrap("cat12.segment", inner)
	if err.EntryPoint != "cat12.segment" || err.Command != "cat12" {
		t.Fatalf("unexpected wrap %+v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to unwrap")
	}
	msg := err.Error()
	for _, want := range []string{"cat12.segment", "cat12 --bins=10", "exit status 2", "license not found"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in %q", want, msg)
		}
	}
	runErr := err.RunError()
	if runErr.Command != "cat12" || len(runErr.Args) != 1 || runErr.Message != msg {
		t.Fatalf("unexpected run error %+v", runErr)
	}

	if Wrap("x", nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
	plain := Wrap("x", cause)
	if plain.EntryPoint != "x" || plain.Command != "" {
		t.Fatalf("unexpected plain wrap %+v", plain)
	}
}
