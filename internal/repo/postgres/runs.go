package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/analyses-go/internal/domain"
	"github.com/animus-labs/analyses-go/internal/repo"
)

type RunStore struct {
	db DB
}

const (
	runColumns = `run_id, analysis_version_id, configuration_hash, attempt, status, error, started_at, ended_at`

	insertRunQuery = `INSERT INTO analysis_runs (
		run_id,
		analysis_version_id,
		configuration_hash,
		attempt,
		status,
		started_at
	) VALUES ($1,$2,$3,$4,$5,$6)`

	insertInstanceQuery = `INSERT INTO run_instances (
		instance_id,
		run_id,
		direction,
		definition_id,
		key,
		value,
		object_key
	) VALUES ($1,$2,$3,$4,$5,$6,$7)`

	selectActiveRunQuery = `SELECT ` + runColumns + `
	 FROM analysis_runs
	 WHERE analysis_version_id = $1 AND configuration_hash = $2 AND status <> 'failed'
	 ORDER BY attempt DESC
	 LIMIT 1`

	selectNextAttemptQuery = `SELECT COALESCE(MAX(attempt), 0) + 1
	 FROM analysis_runs
	 WHERE analysis_version_id = $1 AND configuration_hash = $2`

	selectRunByIDQuery = `SELECT ` + runColumns + `
	 FROM analysis_runs
	 WHERE run_id = $1`

	selectRunStatusForUpdateQuery = `SELECT status
	 FROM analysis_runs
	 WHERE run_id = $1
	 FOR UPDATE`

	selectInstancesQuery = `SELECT instance_id, run_id, direction, definition_id, key, value, object_key
	 FROM run_instances
	 WHERE run_id = $1
	 ORDER BY direction, key`

	updateRunStatusQuery = `UPDATE analysis_runs
	 SET status = $2
	 WHERE run_id = $1`

	completeRunQuery = `UPDATE analysis_runs
	 SET status = $2, ended_at = $3
	 WHERE run_id = $1`

	failRunQuery = `UPDATE analysis_runs
	 SET status = $2, error = $3, ended_at = $4
	 WHERE run_id = $1`
)

func NewRunStore(db DB) *RunStore {
	if db == nil {
		return nil
	}
	return &RunStore{db: db}
}

func (s *RunStore) FindRun(ctx context.Context, versionID, configurationHash string) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	versionID = strings.TrimSpace(versionID)
	configurationHash = strings.TrimSpace(configurationHash)
	if versionID == "" || configurationHash == "" {
		return domain.Run{}, fmt.Errorf("version id and configuration hash are required")
	}
	run, err := scanRun(s.db.QueryRowContext(ctx, selectActiveRunQuery, versionID, configurationHash))
	if err != nil {
		return domain.Run{}, handleNotFound(err)
	}
	if err := s.loadInstances(ctx, &run); err != nil {
		return domain.Run{}, err
	}
	return run, nil
}

func (s *RunStore) NextRunAttempt(ctx context.Context, versionID, configurationHash string) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("run store not initialized")
	}
	var attempt int
	if err := s.db.QueryRowContext(ctx, selectNextAttemptQuery, strings.TrimSpace(versionID), strings.TrimSpace(configurationHash)).Scan(&attempt); err != nil {
		return 0, fmt.Errorf("next run attempt: %w", err)
	}
	return attempt, nil
}

func (s *RunStore) CreateRun(ctx context.Context, run domain.Run) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	if err := run.Validate(); err != nil {
		return err
	}
	return withTx(ctx, s.db, func(db DB) error {
		_, err := db.ExecContext(
			ctx,
			insertRunQuery,
			strings.TrimSpace(run.ID),
			strings.TrimSpace(run.AnalysisVersionID),
			strings.TrimSpace(run.ConfigurationHash),
			run.Attempt,
			string(run.Status),
			normalizeTime(run.StartedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return repo.ErrConflict
			}
			return fmt.Errorf("insert run: %w", err)
		}
		return insertInstances(ctx, db, run.ID, domain.DirectionInput, run.Inputs)
	})
}

func (s *RunStore) GetRun(ctx context.Context, id string) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Run{}, fmt.Errorf("run id is required")
	}
	run, err := scanRun(s.db.QueryRowContext(ctx, selectRunByIDQuery, id))
	if err != nil {
		return domain.Run{}, handleNotFound(err)
	}
	if err := s.loadInstances(ctx, &run); err != nil {
		return domain.Run{}, err
	}
	return run, nil
}

func (s *RunStore) ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if versionID := strings.TrimSpace(filter.AnalysisVersionID); versionID != "" {
		args = append(args, versionID)
		clauses = append(clauses, fmt.Sprintf("analysis_version_id = $%d", len(args)))
	}
	if hash := strings.TrimSpace(filter.ConfigurationHash); hash != "" {
		args = append(args, hash)
		clauses = append(clauses, fmt.Sprintf("configuration_hash = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + runColumns + ` FROM analysis_runs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY started_at DESC, run_id"
	query, args = limitClause(query, args, filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	runs := make([]domain.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("list runs: %w", err)
	}
	rows.Close()

	for i := range runs {
		if err := s.loadInstances(ctx, &runs[i]); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (s *RunStore) UpdateRunStatus(ctx context.Context, id string, status domain.RunStatus) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	return withTx(ctx, s.db, func(db DB) error {
		if err := lockTransition(ctx, db, id, status); err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, updateRunStatusQuery, strings.TrimSpace(id), string(status)); err != nil {
			return fmt.Errorf("update run status: %w", err)
		}
		return nil
	})
}

func (s *RunStore) CompleteRun(ctx context.Context, id string, outputs []domain.Instance, endedAt time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	return withTx(ctx, s.db, func(db DB) error {
		if err := lockTransition(ctx, db, id, domain.RunStatusSucceeded); err != nil {
			return err
		}
		if err := insertInstances(ctx, db, id, domain.DirectionOutput, outputs); err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, completeRunQuery, strings.TrimSpace(id), string(domain.RunStatusSucceeded), normalizeTime(endedAt)); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
		return nil
	})
}

func (s *RunStore) FailRun(ctx context.Context, id string, runErr domain.RunError, endedAt time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	errJSON, err := json.Marshal(runErr)
	if err != nil {
		return fmt.Errorf("encode run error: %w", err)
	}
	return withTx(ctx, s.db, func(db DB) error {
		if err := lockTransition(ctx, db, id, domain.RunStatusFailed); err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, failRunQuery, strings.TrimSpace(id), string(domain.RunStatusFailed), errJSON, normalizeTime(endedAt)); err != nil {
			return fmt.Errorf("fail run: %w", err)
		}
		return nil
	})
}

func lockTransition(ctx context.Context, db DB, id string, next domain.RunStatus) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("run id is required")
	}
	var current string
	if err := db.QueryRowContext(ctx, selectRunStatusForUpdateQuery, id).Scan(&current); err != nil {
		return handleNotFound(err)
	}
	if !domain.CanTransitionRunStatus(domain.RunStatus(current), next) || domain.RunStatus(current).Terminal() {
		return fmt.Errorf("run %s: cannot transition %s -> %s: %w", id, current, next, repo.ErrConflict)
	}
	return nil
}

func insertInstances(ctx context.Context, db DB, runID string, direction domain.Direction, instances []domain.Instance) error {
	for _, inst := range instances {
		id := strings.TrimSpace(inst.ID)
		if id == "" {
			id = uuid.NewString()
		}
		valueJSON, err := json.Marshal(inst.Value)
		if err != nil {
			return fmt.Errorf("encode %s %q: %w", direction, inst.Key, err)
		}
		if _, err := db.ExecContext(
			ctx,
			insertInstanceQuery,
			id,
			strings.TrimSpace(runID),
			string(direction),
			strings.TrimSpace(inst.DefinitionID),
			inst.Key,
			valueJSON,
			nullIfEmpty(inst.ObjectKey),
		); err != nil {
			return fmt.Errorf("insert %s %q: %w", direction, inst.Key, err)
		}
	}
	return nil
}

func (s *RunStore) loadInstances(ctx context.Context, run *domain.Run) error {
	rows, err := s.db.QueryContext(ctx, selectInstancesQuery, run.ID)
	if err != nil {
		return fmt.Errorf("list run instances: %w", err)
	}
	defer rows.Close()

	run.Inputs = make([]domain.Instance, 0)
	run.Outputs = make([]domain.Instance, 0)
	for rows.Next() {
		var inst domain.Instance
		var direction string
		var valueJSON []byte
		var objectKey sql.NullString
		if err := rows.Scan(&inst.ID, &inst.RunID, &direction, &inst.DefinitionID, &inst.Key, &valueJSON, &objectKey); err != nil {
			return fmt.Errorf("scan run instance: %w", err)
		}
		if err := json.Unmarshal(valueJSON, &inst.Value); err != nil {
			return fmt.Errorf("decode run instance %q: %w", inst.Key, err)
		}
		inst.ObjectKey = objectKey.String
		if domain.Direction(direction) == domain.DirectionOutput {
			run.Outputs = append(run.Outputs, inst)
		} else {
			run.Inputs = append(run.Inputs, inst)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list run instances: %w", err)
	}
	return nil
}

func scanRun(row rowScanner) (domain.Run, error) {
	var run domain.Run
	var status string
	var errJSON []byte
	var endedAt sql.NullTime
	if err := row.Scan(&run.ID, &run.AnalysisVersionID, &run.ConfigurationHash, &run.Attempt, &status, &errJSON, &run.StartedAt, &endedAt); err != nil {
		return domain.Run{}, err
	}
	run.Status = domain.RunStatus(status)
	run.StartedAt = run.StartedAt.UTC()
	if endedAt.Valid {
		ended := endedAt.Time.UTC()
		run.EndedAt = &ended
	}
	if len(errJSON) > 0 && string(errJSON) != "null" {
		var runErr domain.RunError
		if err := json.Unmarshal(errJSON, &runErr); err != nil {
			return domain.Run{}, fmt.Errorf("decode run error: %w", err)
		}
		run.Error = &runErr
	}
	return run, nil
}
