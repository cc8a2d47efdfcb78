package command

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/animus-labs/analyses-go/internal/domain"
	"github.com/animus-labs/analyses-go/internal/execution/executor"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func shell(t *testing.T, script string) *Invoker {
	t.Helper()
	requireShell(t)
	inv, err := New(Config{Command: "sh", Args: []string{"-c", script, "sh"}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return inv
}

func TestArgsRendering(t *testing.T) {
	got := Args(domain.Configuration{
		"verbose": domain.BoolValue(true),
		"quiet":   domain.BoolValue(false),
		"bins":    domain.IntegerValue(10),
		"weights": domain.ListValue(domain.FloatValue(0.5), domain.FloatValue(1)),
		"mode":    domain.StringValue("fast"),
	})
	want := []string{"--bins=10", "--mode=fast", "--verbose", "--weights=0.5", "--weights=1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestNewRequiresCommand(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for missing command")
	}
	if _, err := New(Config{Command: "x", Timeout: -time.Second}); err == nil {
		t.Fatalf("expected error for negative timeout")
	}
}

func TestInvokeParsesStdout(t *testing.T) {
	inv := shell(t, `printf '{"first":"%s","count":%d}' "$1" "$#"`)
	out, err := inv.Invoke(context.Background(), domain.Configuration{"bins": domain.IntegerValue(10)})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out["first"] != "--bins=10" {
		t.Fatalf("unexpected first arg %v", out["first"])
	}
	count, err := domain.ValueFromInterface(domain.KindInteger, "", out["count"])
	if err != nil || count.Integer != 1 {
		t.Fatalf("unexpected count %v (%v)", out["count"], err)
	}
}

func TestInvokeEmptyStdoutHasNoOutputs(t *testing.T) {
	inv := shell(t, `exit 0`)
	out, err := inv.Invoke(context.Background(), nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no outputs, got %v", out)
	}
}

func TestInvokeNonZeroExit(t *testing.T) {
	inv := shell(t, `echo "license expired" >&2; exit 3`)
	_, err := inv.Invoke(context.Background(), domain.Configuration{"bins": domain.IntegerValue(10)})

	var execErr *executor.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if execErr.Command != "sh" {
		t.Fatalf("unexpected command %q", execErr.Command)
	}
	if got := execErr.Args[len(execErr.Args)-1]; got != "--bins=10" {
		t.Fatalf("expected rendered flag in args, got %v", execErr.Args)
	}
	if !strings.Contains(execErr.Stderr, "license expired") {
		t.Fatalf("expected stderr to be captured, got %q", execErr.Stderr)
	}
}

func TestInvokeRejectsInvalidJSON(t *testing.T) {
	inv := shell(t, `echo not-json`)
	_, err := inv.Invoke(context.Background(), nil)
	var execErr *executor.ExecutionError
	if !errors.As(err, &execErr) || !strings.Contains(err.Error(), "decode outputs") {
		t.Fatalf("expected decode failure, got %v", err)
	}
}

func TestInvokeChecksRequiredFiles(t *testing.T) {
	requireShell(t)
	missing := filepath.Join(t.TempDir(), "license.txt")
	inv, err := New(Config{Command: "sh", Args: []string{"-c", "exit 0"}, RequiredFiles: []string{missing}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, err = inv.Invoke(context.Background(), nil)
	var execErr *executor.ExecutionError
	if !errors.As(err, &execErr) || !strings.Contains(err.Error(), "license.txt") {
		t.Fatalf("expected required file failure, got %v", err)
	}
}

func TestInvokeMissingBinary(t *testing.T) {
	inv, err := New(Config{Command: "analyses-test-binary-that-does-not-exist"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, err = inv.Invoke(context.Background(), nil)
	var execErr *executor.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if !errors.Is(err, exec.ErrNotFound) {
		t.Fatalf("expected exec.ErrNotFound, got %v", err)
	}
}

func TestInvokeTimeout(t *testing.T) {
	requireShell(t)
	inv, err := New(Config{Command: "sh", Args: []string{"-c", "exec sleep 5"}, Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, err = inv.Invoke(context.Background(), nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
