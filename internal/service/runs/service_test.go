package runs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/animus-labs/analyses-go/internal/domain"
	"github.com/animus-labs/analyses-go/internal/execution/executor"
	"github.com/animus-labs/analyses-go/internal/repo"
	badgerrepo "github.com/animus-labs/analyses-go/internal/repo/badger"
	"github.com/animus-labs/analyses-go/internal/service/analyses"
	"github.com/animus-labs/analyses-go/internal/service/definitions"
	"github.com/animus-labs/analyses-go/internal/service/specifications"
	"github.com/animus-labs/analyses-go/internal/validation"
)

const entryPoint = "cat12.segment"

type fixture struct {
	store    *badgerrepo.Store
	version  analyses.Version
	registry *executor.Registry
	calls    *atomic.Int32
	invoke   func(ctx context.Context, in domain.Configuration) (map[string]any, error)
	logger   *slog.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := badgerrepo.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	matcher := specifications.New(definitions.New(store, logger), store, logger)
	svc := analyses.New(store, store, matcher, logger)
	ctx := context.Background()

	analysis, _, err := svc.CreateAnalysis(ctx, domain.Analysis{Title: "CAT12 Segmentation"})
	if err != nil {
		t.Fatalf("create analysis: %v", err)
	}
	bins := domain.IntegerValue(10)
	version, _, err := svc.CreateVersion(ctx, analysis.ID, analyses.VersionInput{
		EntryPoint: entryPoint,
		Inputs: []domain.Definition{
			{Key: "bins", Kind: domain.KindInteger, Default: &bins},
			{Key: "threshold", Kind: domain.KindFloat, Min: domain.Float64(0), Max: domain.Float64(1)},
		},
		Outputs: []domain.Definition{
			{Key: "gray_matter", Kind: domain.KindFile},
			{Key: "volume", Kind: domain.KindFloat},
		},
	})
	if err != nil {
		t.Fatalf("create version: %v", err)
	}

	f := &fixture{store: store, version: version, registry: executor.NewRegistry(), calls: &atomic.Int32{}, logger: logger}
	f.invoke = func(_ context.Context, in domain.Configuration) (map[string]any, error) {
		return map[string]any{"gray_matter": "/data/gm.nii", "volume": 612.5}, nil
	}
	f.registry.MustRegister(entryPoint, executor.Func(func(ctx context.Context, in domain.Configuration) (map[string]any, error) {
		f.calls.Add(1)
		return f.invoke(ctx, in)
	}))
	return f
}

func (f *fixture) memoizer(opts ...Option) *Memoizer {
	return New(f.store, f.store, f.store, f.registry, append([]Option{WithLogger(f.logger)}, opts...)...)
}

func TestNewRequiresDependencies(t *testing.T) {
	if New(nil, nil, nil, nil) != nil {
		t.Fatalf("expected nil memoizer without dependencies")
	}
}

func TestGetOrExecuteIsIdempotent(t *testing.T) {
	f := newFixture(t)
	m := f.memoizer()
	ctx := context.Background()

	first, err := m.GetOrExecute(ctx, f.version.ID, map[string]any{"threshold": 0.5})
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if first.Reused {
		t.Fatalf("expected first call to execute")
	}
	if first.Run.Status != domain.RunStatusSucceeded {
		t.Fatalf("expected succeeded run, got %s", first.Run.Status)
	}

	second, err := m.GetOrExecute(ctx, f.version.ID, map[string]any{"threshold": 0.5})
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if !second.Reused || second.Run.ID != first.Run.ID {
		t.Fatalf("expected reuse of %s, got %s (reused=%v)", first.Run.ID, second.Run.ID, second.Reused)
	}
	if got := f.calls.Load(); got != 1 {
		t.Fatalf("expected one invocation, got %d", got)
	}

	results := second.Run.Results()
	if !results["volume"].Equal(domain.FloatValue(612.5)) {
		t.Fatalf("unexpected volume %s", results["volume"])
	}
	if !results["gray_matter"].Equal(domain.FileValue("/data/gm.nii")) {
		t.Fatalf("unexpected gray matter %s", results["gray_matter"])
	}
}

func TestGetOrExecuteDefaultsScenario(t *testing.T) {
	f := newFixture(t)
	m := f.memoizer()
	ctx := context.Background()

	r1, err := m.GetOrExecute(ctx, f.version.ID, map[string]any{})
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if !r1.Run.Configuration()["bins"].Equal(domain.IntegerValue(10)) {
		t.Fatalf("expected bins=10 input, got %v", r1.Run.Configuration())
	}

	again, err := m.GetOrExecute(ctx, f.version.ID, map[string]any{"bins": 10})
	if err != nil {
		t.Fatalf("explicit default: %v", err)
	}
	if !again.Reused || again.Run.ID != r1.Run.ID {
		t.Fatalf("expected explicit default to reuse R1")
	}

	r2, err := m.GetOrExecute(ctx, f.version.ID, map[string]any{"bins": 20})
	if err != nil {
		t.Fatalf("bins=20: %v", err)
	}
	if r2.Reused || r2.Run.ID == r1.Run.ID {
		t.Fatalf("expected a new run for bins=20")
	}
	if got := f.calls.Load(); got != 2 {
		t.Fatalf("expected two invocations, got %d", got)
	}
}

func TestGetOrExecuteUsesClock(t *testing.T) {
	f := newFixture(t)
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	m := f.memoizer(WithClock(func() time.Time { return at }))

	res, err := m.GetOrExecute(context.Background(), f.version.ID, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Run.StartedAt.Equal(at) {
		t.Fatalf("expected started_at %s, got %s", at, res.Run.StartedAt)
	}
	if res.Run.EndedAt == nil || !res.Run.EndedAt.Equal(at) {
		t.Fatalf("expected ended_at %s, got %v", at, res.Run.EndedAt)
	}
}

type hookedRuns struct {
	*badgerrepo.Store
	afterCreate func()
	completeErr error
}

func (h *hookedRuns) CreateRun(ctx context.Context, run domain.Run) error {
	err := h.Store.CreateRun(ctx, run)
	if h.afterCreate != nil {
		h.afterCreate()
	}
	return err
}

func (h *hookedRuns) CompleteRun(ctx context.Context, id string, outputs []domain.Instance, endedAt time.Time) error {
	if h.completeErr != nil {
		return h.completeErr
	}
	return h.Store.CompleteRun(ctx, id, outputs, endedAt)
}

func TestGetOrExecuteCompletesRunAfterCallerCancels(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runs := &hookedRuns{Store: f.store, afterCreate: cancel}
	m := New(f.store, f.store, runs, f.registry, WithLogger(f.logger))

	first, err := m.GetOrExecute(ctx, f.version.ID, nil)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if first.Run.Status != domain.RunStatusSucceeded {
		t.Fatalf("expected succeeded run, got %s", first.Run.Status)
	}

	again, err := m.GetOrExecute(context.Background(), f.version.ID, nil)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if !again.Reused || again.Run.Status != domain.RunStatusSucceeded {
		t.Fatalf("expected reuse of a succeeded run, got %+v", again.Run)
	}
	if got := f.calls.Load(); got != 1 {
		t.Fatalf("expected one invocation, got %d", got)
	}
}

func TestGetOrExecuteFailsRunWhenCompletionFails(t *testing.T) {
	f := newFixture(t)
	runs := &hookedRuns{Store: f.store, completeErr: errors.New("disk full")}
	m := New(f.store, f.store, runs, f.registry, WithLogger(f.logger))
	ctx := context.Background()

	res, err := m.GetOrExecute(ctx, f.version.ID, nil)
	var execErr *executor.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if res.Run.Status != domain.RunStatusFailed {
		t.Fatalf("expected failed run, got %s", res.Run.Status)
	}

	runs.completeErr = nil
	retried, err := m.GetOrExecute(ctx, f.version.ID, nil)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried.Reused || retried.Run.Attempt != 2 || retried.Run.Status != domain.RunStatusSucceeded {
		t.Fatalf("expected a succeeded second attempt, got %+v", retried.Run)
	}
}

func TestGetOrExecuteTreatsNegativeZeroAsZero(t *testing.T) {
	f := newFixture(t)
	m := f.memoizer()
	ctx := context.Background()

	first, err := m.GetOrExecute(ctx, f.version.ID, map[string]any{"threshold": 0.0})
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := m.GetOrExecute(ctx, f.version.ID, map[string]any{"threshold": math.Copysign(0, -1)})
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if !second.Reused || second.Run.ID != first.Run.ID {
		t.Fatalf("expected -0 to reuse the run for 0")
	}
	if got := f.calls.Load(); got != 1 {
		t.Fatalf("expected one invocation, got %d", got)
	}
}

func TestGetOrExecuteRejectsIntegerOverflow(t *testing.T) {
	f := newFixture(t)
	m := f.memoizer()

	_, err := m.GetOrExecute(context.Background(), f.version.ID, map[string]any{"bins": 1e19})
	if !errors.Is(err, validation.ErrTypeMismatch) {
		t.Fatalf("expected type mismatch, got %v", err)
	}
	if got := f.calls.Load(); got != 0 {
		t.Fatalf("expected no invocation, got %d", got)
	}
}

func TestGetOrExecuteRejectsInvalidInputs(t *testing.T) {
	f := newFixture(t)
	m := f.memoizer()
	ctx := context.Background()

	tests := []struct {
		name string
		raw  map[string]any
		want error
	}{
		{name: "wrong type", raw: map[string]any{"bins": "ten"}, want: validation.ErrTypeMismatch},
		{name: "below range", raw: map[string]any{"threshold": -0.1}, want: validation.ErrOutOfRange},
		{name: "above range", raw: map[string]any{"threshold": 1.1}, want: validation.ErrOutOfRange},
		{name: "unknown key", raw: map[string]any{"smoothing": 8}, want: validation.ErrUnknownKey},
	}
	for _, tt := range tests {
		_, err := m.GetOrExecute(ctx, f.version.ID, tt.raw)
		if !errors.Is(err, tt.want) {
			t.Fatalf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
	}

	runs, err := m.List(ctx, repo.RunFilter{AnalysisVersionID: f.version.ID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 0 || f.calls.Load() != 0 {
		t.Fatalf("expected nothing persisted or executed, got %d runs and %d calls", len(runs), f.calls.Load())
	}
}

func TestGetOrExecuteFailureIsRecordedAndRetried(t *testing.T) {
	f := newFixture(t)
	m := f.memoizer()
	ctx := context.Background()

	f.invoke = func(context.Context, domain.Configuration) (map[string]any, error) {
		return nil, &executor.ExecutionError{Command: "cat12", Args: []string{"--bins=10"}, Cause: errors.New("license file missing")}
	}
	failed, err := m.GetOrExecute(ctx, f.version.ID, nil)
	var execErr *executor.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if execErr.EntryPoint != entryPoint || execErr.Command != "cat12" {
		t.Fatalf("unexpected execution error %+v", execErr)
	}
	if failed.Run.Status != domain.RunStatusFailed || failed.Run.Error == nil {
		t.Fatalf("expected failed run with error, got %+v", failed.Run)
	}
	if failed.Run.Error.Command != "cat12" || len(failed.Run.Error.Args) != 1 {
		t.Fatalf("expected command details to be stored, got %+v", failed.Run.Error)
	}

	f.invoke = func(context.Context, domain.Configuration) (map[string]any, error) {
		return map[string]any{"volume": 1.0}, nil
	}
	retried, err := m.GetOrExecute(ctx, f.version.ID, nil)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried.Reused || retried.Run.ID == failed.Run.ID || retried.Run.Attempt != 2 {
		t.Fatalf("expected a fresh second attempt, got %+v", retried.Run)
	}

	kept, err := m.Get(ctx, failed.Run.ID)
	if err != nil || kept.Status != domain.RunStatusFailed {
		t.Fatalf("expected failed run to be kept, got %+v (%v)", kept, err)
	}
}

func TestGetOrExecuteUnknownEntryPointFails(t *testing.T) {
	f := newFixture(t)
	m := New(f.store, f.store, f.store, executor.NewRegistry(), WithLogger(f.logger))

	res, err := m.GetOrExecute(context.Background(), f.version.ID, nil)
	if !errors.Is(err, executor.ErrUnknownEntryPoint) {
		t.Fatalf("expected ErrUnknownEntryPoint, got %v", err)
	}
	if res.Run.Status != domain.RunStatusFailed {
		t.Fatalf("expected failed run, got %s", res.Run.Status)
	}
}

func TestGetOrExecuteInvalidOutputsFail(t *testing.T) {
	f := newFixture(t)
	m := f.memoizer()
	f.invoke = func(context.Context, domain.Configuration) (map[string]any, error) {
		return map[string]any{"volume": "large", "extra": 1}, nil
	}
	res, err := m.GetOrExecute(context.Background(), f.version.ID, nil)
	if !errors.Is(err, validation.ErrTypeMismatch) {
		t.Fatalf("expected output type mismatch, got %v", err)
	}
	if res.Run.Status != domain.RunStatusFailed {
		t.Fatalf("expected failed run, got %s", res.Run.Status)
	}
}

func TestGetOrExecuteDropsUnknownOutputs(t *testing.T) {
	f := newFixture(t)
	m := f.memoizer()
	f.invoke = func(context.Context, domain.Configuration) (map[string]any, error) {
		return map[string]any{"volume": 3.0, "log": "/tmp/cat12.log"}, nil
	}
	res, err := m.GetOrExecute(context.Background(), f.version.ID, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, ok := res.Run.Results()["log"]; ok {
		t.Fatalf("expected unknown output to be dropped")
	}
	if len(res.Run.Outputs) != 1 {
		t.Fatalf("expected one output, got %d", len(res.Run.Outputs))
	}
}

type recordingArchiver struct {
	mu    sync.Mutex
	paths map[string]string
}

func (a *recordingArchiver) Archive(_ context.Context, runID, key, path string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paths[key] = path
	return "runs/" + runID + "/" + key, nil
}

func TestGetOrExecuteArchivesFileOutputs(t *testing.T) {
	f := newFixture(t)
	archiver := &recordingArchiver{paths: map[string]string{}}
	m := f.memoizer(WithArchiver(archiver))

	res, err := m.GetOrExecute(context.Background(), f.version.ID, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if archiver.paths["gray_matter"] != "/data/gm.nii" {
		t.Fatalf("expected gray matter to be archived, got %v", archiver.paths)
	}
	for _, out := range res.Run.Outputs {
		switch out.Key {
		case "gray_matter":
			if out.ObjectKey != "runs/"+res.Run.ID+"/gray_matter" {
				t.Fatalf("unexpected object key %q", out.ObjectKey)
			}
		case "volume":
			if out.ObjectKey != "" {
				t.Fatalf("expected no object key for a float output")
			}
		}
	}
}

func TestGetOrExecuteConcurrentCallersShareOneRun(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	f.invoke = func(context.Context, domain.Configuration) (map[string]any, error) {
		<-release
		return map[string]any{"volume": 1.0}, nil
	}
	// Two memoizers model two processes sharing one store.
	memoizers := []*Memoizer{f.memoizer(), f.memoizer()}

	const callers = 16
	var wg sync.WaitGroup
	results := make([]Result, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = memoizers[i%2].GetOrExecute(context.Background(), f.version.ID, map[string]any{"bins": 12})
		}(i)
	}
	// Hold the executing caller until it has been invoked, so the others
	// observe the run while it is still in flight.
	deadline := time.Now().Add(5 * time.Second)
	for f.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	runID := ""
	executed := 0
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if runID == "" {
			runID = results[i].Run.ID
		}
		if results[i].Run.ID != runID {
			t.Fatalf("caller %d observed run %s, want %s", i, results[i].Run.ID, runID)
		}
		if !results[i].Reused {
			executed++
		}
	}
	if executed != 1 {
		t.Fatalf("expected exactly one executing caller, got %d", executed)
	}
	if got := f.calls.Load(); got != 1 {
		t.Fatalf("expected one invocation, got %d", got)
	}

	runs, err := memoizers[0].List(context.Background(), repo.RunFilter{AnalysisVersionID: f.version.ID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected exactly one persisted run, got %d", len(runs))
	}
}
