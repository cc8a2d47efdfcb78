package runs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/animus-labs/analyses-go/internal/domain"
	"github.com/animus-labs/analyses-go/internal/execution/executor"
	"github.com/animus-labs/analyses-go/internal/metrics"
	"github.com/animus-labs/analyses-go/internal/repo"
	"github.com/animus-labs/analyses-go/internal/validation"
)

// Archiver copies a file output to durable storage and returns its object key.
type Archiver interface {
	Archive(ctx context.Context, runID, outputKey, localPath string) (string, error)
}

// Result is the run answering a GetOrExecute call. Reused is true when the
// run already existed or was created by a concurrent caller.
type Result struct {
	Run    domain.Run
	Reused bool
}

type Memoizer struct {
	analyses  repo.AnalysisRepository
	specs     repo.SpecificationRepository
	runs      repo.RunRepository
	executors *executor.Registry
	archiver  Archiver
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	group singleflight.Group
}

type Option func(*Memoizer)

func WithArchiver(a Archiver) Option {
	return func(m *Memoizer) { m.archiver = a }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Memoizer) { m.metrics = mt }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Memoizer) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Memoizer) {
		if now != nil {
			m.now = now
		}
	}
}

func New(analyses repo.AnalysisRepository, specs repo.SpecificationRepository, runs repo.RunRepository, executors *executor.Registry, opts ...Option) *Memoizer {
	if analyses == nil || specs == nil || runs == nil || executors == nil {
		return nil
	}
	m := &Memoizer{
		analyses:  analyses,
		specs:     specs,
		runs:      runs,
		executors: executors,
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// claim is the shared outcome of one lookup-or-create. When created is set,
// exactly one caller wins the token and executes the run.
type claim struct {
	run     domain.Run
	created bool
	token   atomic.Bool
}

func (c *claim) take() bool {
	return c.created && c.token.CompareAndSwap(false, true)
}

// GetOrExecute returns the run of versionID for the resolved form of raw,
// executing the version's entry point when no usable run exists.
//
// Invalid inputs fail with a *validation.Error before anything is stored. A
// failed invocation marks the run failed and returns the failed run together
// with an *executor.ExecutionError.
func (m *Memoizer) GetOrExecute(ctx context.Context, versionID string, raw map[string]any) (Result, error) {
	if m == nil {
		return Result{}, errors.New("run memoizer not initialized")
	}
	versionID = strings.TrimSpace(versionID)
	if versionID == "" {
		return Result{}, errors.New("analysis version id is required")
	}
	version, err := m.analyses.GetVersion(ctx, versionID)
	if err != nil {
		return Result{}, fmt.Errorf("analysis version %s: %w", versionID, err)
	}
	inputSpec, err := m.specs.GetSpecification(ctx, version.InputSpecificationID)
	if err != nil {
		return Result{}, fmt.Errorf("input specification %s: %w", version.InputSpecificationID, err)
	}

	configuration, err := validation.ResolveInputs(inputSpec.Definitions, raw)
	if err != nil {
		m.metrics.Run(metrics.OutcomeRejected)
		return Result{}, err
	}
	hash, err := configuration.Hash()
	if err != nil {
		return Result{}, err
	}

	v, err, _ := m.group.Do(version.ID+"/"+hash, func() (any, error) {
		return m.claim(context.WithoutCancel(ctx), version, inputSpec, configuration, hash)
	})
	if err != nil {
		return Result{}, err
	}
	c := v.(*claim)
	if !c.take() {
		m.metrics.Run(metrics.OutcomeReused)
		m.logger.Debug("run reused",
			"run_id", c.run.ID,
			"analysis_version_id", version.ID,
			"configuration_hash", hash,
			"status", string(c.run.Status),
		)
		return Result{Run: c.run, Reused: true}, nil
	}
	return m.execute(ctx, version, c.run)
}

func (m *Memoizer) claim(ctx context.Context, version domain.AnalysisVersion, inputSpec domain.Specification, configuration domain.Configuration, hash string) (*claim, error) {
	existing, err := m.runs.FindRun(ctx, version.ID, hash)
	if err == nil {
		return &claim{run: existing}, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("find run: %w", err)
	}

	attempt, err := m.runs.NextRunAttempt(ctx, version.ID, hash)
	if err != nil {
		return nil, fmt.Errorf("next run attempt: %w", err)
	}
	run := domain.Run{
		ID:                uuid.NewString(),
		AnalysisVersionID: version.ID,
		ConfigurationHash: hash,
		Attempt:           attempt,
		Status:            domain.RunStatusPending,
		Inputs:            inputInstances(inputSpec, configuration),
		StartedAt:         m.now(),
	}
	err = m.runs.CreateRun(ctx, run)
	if errors.Is(err, repo.ErrConflict) {
		m.metrics.RaceLost()
		winner, findErr := m.runs.FindRun(ctx, version.ID, hash)
		if findErr != nil {
			return nil, fmt.Errorf("run creation conflicted and no active run was found: %w", errors.Join(err, findErr))
		}
		m.logger.Info("run creation lost race",
			"run_id", winner.ID,
			"analysis_version_id", version.ID,
			"configuration_hash", hash,
		)
		return &claim{run: winner}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	m.logger.Info("run created",
		"run_id", run.ID,
		"analysis_version_id", version.ID,
		"configuration_hash", hash,
		"attempt", run.Attempt,
	)
	return &claim{run: run, created: true}, nil
}

func inputInstances(spec domain.Specification, configuration domain.Configuration) []domain.Instance {
	out := make([]domain.Instance, 0, len(configuration))
	for _, key := range configuration.Keys() {
		def, ok := spec.DefinitionByKey(key)
		if !ok {
			continue
		}
		out = append(out, domain.Instance{DefinitionID: def.ID, Key: key, Value: configuration[key]})
	}
	return out
}

// execute owns a claimed run until it is terminal. Store transitions ignore
// caller cancellation so the run never stays pending or running.
func (m *Memoizer) execute(ctx context.Context, version domain.AnalysisVersion, run domain.Run) (Result, error) {
	started := time.Now()
	store := context.WithoutCancel(ctx)
	if err := m.runs.UpdateRunStatus(store, run.ID, domain.RunStatusRunning); err != nil {
		return m.fail(ctx, version, run, executor.Wrap(version.EntryPoint, fmt.Errorf("mark run running: %w", err)), started)
	}
	run.Status = domain.RunStatusRunning

	inv, err := m.executors.Lookup(version.EntryPoint)
	if err != nil {
		return m.fail(ctx, version, run, executor.Wrap(version.EntryPoint, err), started)
	}
	raw, err := inv.Invoke(ctx, run.Configuration())
	if err != nil {
		return m.fail(ctx, version, run, executor.Wrap(version.EntryPoint, err), started)
	}

	outputs, err := m.outputs(store, version, run, raw)
	if err != nil {
		return m.fail(ctx, version, run, executor.Wrap(version.EntryPoint, err), started)
	}

	if err := m.runs.CompleteRun(store, run.ID, outputs, m.now()); err != nil {
		return m.fail(ctx, version, run, executor.Wrap(version.EntryPoint, fmt.Errorf("complete run: %w", err)), started)
	}
	done, err := m.runs.GetRun(store, run.ID)
	if err != nil {
		return Result{}, err
	}
	m.metrics.Run(metrics.OutcomeExecuted)
	m.metrics.Execution(version.EntryPoint, string(domain.RunStatusSucceeded), time.Since(started))
	m.logger.Info("run succeeded",
		"run_id", run.ID,
		"analysis_version_id", version.ID,
		"entry_point", version.EntryPoint,
		"outputs", len(outputs),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return Result{Run: done}, nil
}

// outputs validates raw against the output specification and archives file
// outputs when an archiver is configured.
func (m *Memoizer) outputs(ctx context.Context, version domain.AnalysisVersion, run domain.Run, raw map[string]any) ([]domain.Instance, error) {
	spec, err := m.specs.GetSpecification(ctx, version.OutputSpecificationID)
	if err != nil {
		return nil, fmt.Errorf("output specification %s: %w", version.OutputSpecificationID, err)
	}
	resolved, ignored, err := validation.ResolveOutputs(spec.Definitions, raw)
	if len(ignored) > 0 {
		m.logger.Warn("unknown outputs dropped",
			"run_id", run.ID,
			"analysis_version_id", version.ID,
			"keys", ignored,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid outputs: %w", err)
	}

	out := make([]domain.Instance, 0, len(resolved))
	for _, key := range resolved.Keys() {
		def, _ := spec.DefinitionByKey(key)
		inst := domain.Instance{DefinitionID: def.ID, Key: key, Value: resolved[key]}
		if m.archiver != nil && inst.Value.Kind == domain.KindFile && inst.Value.Str != "" {
			objectKey, err := m.archiver.Archive(ctx, run.ID, key, inst.Value.Str)
			if err != nil {
				return nil, err
			}
			inst.ObjectKey = objectKey
		}
		out = append(out, inst)
	}
	return out, nil
}

func (m *Memoizer) fail(ctx context.Context, version domain.AnalysisVersion, run domain.Run, execErr *executor.ExecutionError, started time.Time) (Result, error) {
	store := context.WithoutCancel(ctx)
	m.metrics.Run(metrics.OutcomeFailed)
	m.metrics.Execution(version.EntryPoint, string(domain.RunStatusFailed), time.Since(started))
	m.logger.Error("run failed",
		"run_id", run.ID,
		"analysis_version_id", version.ID,
		"entry_point", version.EntryPoint,
		"command", execErr.Command,
		"error", execErr.Error(),
	)
	if err := m.runs.FailRun(store, run.ID, execErr.RunError(), m.now()); err != nil {
		return Result{}, errors.Join(execErr, fmt.Errorf("mark run failed: %w", err))
	}
	failed, err := m.runs.GetRun(store, run.ID)
	if err != nil {
		return Result{}, errors.Join(execErr, err)
	}
	return Result{Run: failed}, execErr
}

func (m *Memoizer) Get(ctx context.Context, id string) (domain.Run, error) {
	if m == nil {
		return domain.Run{}, errors.New("run memoizer not initialized")
	}
	return m.runs.GetRun(ctx, id)
}

func (m *Memoizer) List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	if m == nil {
		return nil, errors.New("run memoizer not initialized")
	}
	return m.runs.ListRuns(ctx, filter)
}
