package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/animus-labs/analyses-go/internal/domain"
	"github.com/animus-labs/analyses-go/internal/repo"
)

const (
	nsRun        = "run"
	nsRunActive  = "run_active"
	nsRunAttempt = "run_attempt"
)

func (s *Store) FindRun(ctx context.Context, versionID, configurationHash string) (domain.Run, error) {
	var run domain.Run
	err := s.view(ctx, func(txn *badger.Txn) error {
		id, err := getString(txn, key(nsRunActive, strings.TrimSpace(versionID), strings.TrimSpace(configurationHash)))
		if err != nil {
			return err
		}
		return getJSON(txn, key(nsRun, id), &run)
	})
	return run, err
}

func (s *Store) NextRunAttempt(ctx context.Context, versionID, configurationHash string) (int, error) {
	var next int
	err := s.view(ctx, func(txn *badger.Txn) error {
		last, err := lastAttempt(txn, versionID, configurationHash)
		next = last + 1
		return err
	})
	return next, err
}

func lastAttempt(txn *badger.Txn, versionID, configurationHash string) (int, error) {
	raw, err := getString(txn, key(nsRunAttempt, strings.TrimSpace(versionID), strings.TrimSpace(configurationHash)))
	if errors.Is(err, repo.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("decode run attempt: %w", err)
	}
	return n, nil
}

// CreateRun reserves the active slot for (version, hash). A concurrent
// writer that committed first makes this call fail with repo.ErrConflict.
func (s *Store) CreateRun(ctx context.Context, run domain.Run) error {
	if err := run.Validate(); err != nil {
		return err
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now()
	}
	for i := range run.Inputs {
		if run.Inputs[i].ID == "" {
			run.Inputs[i].ID = uuid.NewString()
		}
		run.Inputs[i].RunID = run.ID
	}
	activeKey := key(nsRunActive, run.AnalysisVersionID, run.ConfigurationHash)

	return s.update(ctx, func(txn *badger.Txn) error {
		if ok, err := exists(txn, activeKey); err != nil {
			return err
		} else if ok {
			return repo.ErrConflict
		}
		if ok, err := exists(txn, key(nsRun, run.ID)); err != nil {
			return err
		} else if ok {
			return repo.ErrConflict
		}
		last, err := lastAttempt(txn, run.AnalysisVersionID, run.ConfigurationHash)
		if err != nil {
			return err
		}
		if run.Attempt <= last {
			return repo.ErrConflict
		}
		if err := putJSON(txn, key(nsRun, run.ID), run); err != nil {
			return err
		}
		if err := txn.Set(activeKey, []byte(run.ID)); err != nil {
			return err
		}
		return txn.Set(key(nsRunAttempt, run.AnalysisVersionID, run.ConfigurationHash), []byte(strconv.Itoa(run.Attempt)))
	})
}

func (s *Store) GetRun(ctx context.Context, id string) (domain.Run, error) {
	var run domain.Run
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, key(nsRun, strings.TrimSpace(id)), &run)
	})
	return run, err
}

func (s *Store) ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	out := make([]domain.Run, 0)
	err := s.view(ctx, func(txn *badger.Txn) error {
		return scan(txn, prefix(nsRun), false, func(_, v []byte) error {
			var run domain.Run
			if err := decode(v, &run); err != nil {
				return err
			}
			if id := strings.TrimSpace(filter.AnalysisVersionID); id != "" && run.AnalysisVersionID != id {
				return nil
			}
			if h := strings.TrimSpace(filter.ConfigurationHash); h != "" && run.ConfigurationHash != h {
				return nil
			}
			if filter.Status != "" && run.Status != filter.Status {
				return nil
			}
			out = append(out, run)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return limit(out, filter.Limit), nil
}

func (s *Store) UpdateRunStatus(ctx context.Context, id string, status domain.RunStatus) error {
	return s.transition(ctx, id, status, func(run *domain.Run) {})
}

func (s *Store) CompleteRun(ctx context.Context, id string, outputs []domain.Instance, endedAt time.Time) error {
	return s.transition(ctx, id, domain.RunStatusSucceeded, func(run *domain.Run) {
		run.Outputs = make([]domain.Instance, 0, len(outputs))
		for _, inst := range outputs {
			if inst.ID == "" {
				inst.ID = uuid.NewString()
			}
			inst.RunID = run.ID
			run.Outputs = append(run.Outputs, inst)
		}
		ended := endedAt.UTC()
		run.EndedAt = &ended
	})
}

func (s *Store) FailRun(ctx context.Context, id string, runErr domain.RunError, endedAt time.Time) error {
	return s.transition(ctx, id, domain.RunStatusFailed, func(run *domain.Run) {
		e := runErr
		run.Error = &e
		ended := endedAt.UTC()
		run.EndedAt = &ended
	})
}

func (s *Store) transition(ctx context.Context, id string, next domain.RunStatus, mutate func(*domain.Run)) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("run id is required")
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		var run domain.Run
		if err := getJSON(txn, key(nsRun, id), &run); err != nil {
			return err
		}
		if run.Status.Terminal() || !domain.CanTransitionRunStatus(run.Status, next) {
			return fmt.Errorf("run %s: cannot transition %s -> %s: %w", id, run.Status, next, repo.ErrConflict)
		}
		run.Status = next
		mutate(&run)
		if err := putJSON(txn, key(nsRun, id), run); err != nil {
			return err
		}
		if next != domain.RunStatusFailed {
			return nil
		}
		activeKey := key(nsRunActive, run.AnalysisVersionID, run.ConfigurationHash)
		current, err := getString(txn, activeKey)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if current == id {
			return txn.Delete(activeKey)
		}
		return nil
	})
}
