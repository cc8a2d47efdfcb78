package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/animus-labs/analyses-go/internal/domain"
	"github.com/animus-labs/analyses-go/internal/repo"
)

type SpecificationStore struct {
	db DB
}

const (
	selectSpecificationCandidatesQuery = `SELECT s.specification_id, s.member_count, COUNT(sd.definition_id)
	 FROM specifications s
	 JOIN specification_definitions sd ON sd.specification_id = s.specification_id
	 WHERE s.analysis_id = $1 AND s.direction = $2 AND sd.definition_id = ANY($3)
	 GROUP BY s.specification_id, s.member_count
	 ORDER BY s.specification_id`

	insertSpecificationQuery = `INSERT INTO specifications (
		specification_id,
		analysis_id,
		direction,
		members_hash,
		member_count,
		created_at
	) VALUES ($1,$2,$3,$4,$5,$6)
	ON CONFLICT (analysis_id, direction, members_hash) DO NOTHING
	RETURNING specification_id`

	insertSpecificationMemberQuery = `INSERT INTO specification_definitions (specification_id, definition_id)
	 VALUES ($1,$2)`

	selectSpecificationByMembersQuery = `SELECT specification_id
	 FROM specifications
	 WHERE analysis_id = $1 AND direction = $2 AND members_hash = $3`

	selectSpecificationByIDQuery = `SELECT specification_id, analysis_id, direction, created_at
	 FROM specifications
	 WHERE specification_id = $1`

	selectSpecificationMembersQuery = `SELECT definition_id
	 FROM specification_definitions
	 WHERE specification_id = $1
	 ORDER BY definition_id`
)

func NewSpecificationStore(db DB) *SpecificationStore {
	if db == nil {
		return nil
	}
	return &SpecificationStore{db: db}
}

func (s *SpecificationStore) FindSpecificationCandidates(ctx context.Context, analysisID string, direction domain.Direction, definitionIDs []string) ([]repo.SpecificationCandidate, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("specification store not initialized")
	}
	analysisID = strings.TrimSpace(analysisID)
	if analysisID == "" {
		return nil, fmt.Errorf("analysis id is required")
	}
	ids := domain.SortedUnique(definitionIDs)
	if len(ids) == 0 {
		return []repo.SpecificationCandidate{}, nil
	}
	rows, err := s.db.QueryContext(ctx, selectSpecificationCandidatesQuery, analysisID, string(direction), ids)
	if err != nil {
		return nil, fmt.Errorf("find specifications: %w", err)
	}
	defer rows.Close()

	out := make([]repo.SpecificationCandidate, 0)
	for rows.Next() {
		var c repo.SpecificationCandidate
		if err := rows.Scan(&c.SpecificationID, &c.MemberCount, &c.Overlap); err != nil {
			return nil, fmt.Errorf("scan specification candidate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find specifications: %w", err)
	}
	return out, nil
}

func (s *SpecificationStore) CreateSpecification(ctx context.Context, spec domain.Specification) (domain.Specification, bool, error) {
	if s == nil || s.db == nil {
		return domain.Specification{}, false, fmt.Errorf("specification store not initialized")
	}
	spec.AnalysisID = strings.TrimSpace(spec.AnalysisID)
	if spec.AnalysisID == "" {
		return domain.Specification{}, false, fmt.Errorf("analysis id is required")
	}
	if !spec.Direction.Valid() {
		return domain.Specification{}, false, fmt.Errorf("direction %q is invalid", spec.Direction)
	}
	if strings.TrimSpace(spec.ID) == "" {
		spec.ID = uuid.NewString()
	}
	spec.DefinitionIDs = domain.SortedUnique(spec.DefinitionIDs)
	membersHash := domain.MembersHash(spec.DefinitionIDs)

	var id string
	created := false
	err := withTx(ctx, s.db, func(db DB) error {
		err := db.QueryRowContext(
			ctx,
			insertSpecificationQuery,
			spec.ID,
			spec.AnalysisID,
			string(spec.Direction),
			membersHash,
			len(spec.DefinitionIDs),
			normalizeTime(spec.CreatedAt),
		).Scan(&id)
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("insert specification: %w", err)
			}
			if err := db.QueryRowContext(ctx, selectSpecificationByMembersQuery, spec.AnalysisID, string(spec.Direction), membersHash).Scan(&id); err != nil {
				return handleNotFound(err)
			}
			return nil
		}
		for _, defID := range spec.DefinitionIDs {
			if _, err := db.ExecContext(ctx, insertSpecificationMemberQuery, id, defID); err != nil {
				return fmt.Errorf("insert specification member: %w", err)
			}
		}
		created = true
		return nil
	})
	if err != nil {
		return domain.Specification{}, false, err
	}
	out, err := s.GetSpecification(ctx, id)
	if err != nil {
		return domain.Specification{}, false, err
	}
	return out, created, nil
}

// GetSpecification loads the specification with its member definitions.
func (s *SpecificationStore) GetSpecification(ctx context.Context, id string) (domain.Specification, error) {
	if s == nil || s.db == nil {
		return domain.Specification{}, fmt.Errorf("specification store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Specification{}, fmt.Errorf("specification id is required")
	}
	var spec domain.Specification
	var direction string
	if err := s.db.QueryRowContext(ctx, selectSpecificationByIDQuery, id).Scan(&spec.ID, &spec.AnalysisID, &direction, &spec.CreatedAt); err != nil {
		return domain.Specification{}, handleNotFound(err)
	}
	spec.Direction = domain.Direction(direction)
	spec.CreatedAt = spec.CreatedAt.UTC()
	if err := s.loadMembers(ctx, &spec); err != nil {
		return domain.Specification{}, err
	}
	return spec, nil
}

func (s *SpecificationStore) ListSpecifications(ctx context.Context, filter repo.SpecificationFilter) ([]domain.Specification, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("specification store not initialized")
	}
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if analysisID := strings.TrimSpace(filter.AnalysisID); analysisID != "" {
		args = append(args, analysisID)
		clauses = append(clauses, fmt.Sprintf("analysis_id = $%d", len(args)))
	}
	if filter.Direction != "" {
		args = append(args, string(filter.Direction))
		clauses = append(clauses, fmt.Sprintf("direction = $%d", len(args)))
	}
	query := `SELECT specification_id, analysis_id, direction, created_at FROM specifications`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, specification_id"
	query, args = limitClause(query, args, filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list specifications: %w", err)
	}
	specs := make([]domain.Specification, 0)
	for rows.Next() {
		var spec domain.Specification
		var direction string
		if err := rows.Scan(&spec.ID, &spec.AnalysisID, &direction, &spec.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan specification: %w", err)
		}
		spec.Direction = domain.Direction(direction)
		spec.CreatedAt = spec.CreatedAt.UTC()
		specs = append(specs, spec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("list specifications: %w", err)
	}
	rows.Close()

	for i := range specs {
		if err := s.loadMembers(ctx, &specs[i]); err != nil {
			return nil, err
		}
	}
	return specs, nil
}

func (s *SpecificationStore) loadMembers(ctx context.Context, spec *domain.Specification) error {
	rows, err := s.db.QueryContext(ctx, selectSpecificationMembersQuery, spec.ID)
	if err != nil {
		return fmt.Errorf("list specification members: %w", err)
	}
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan specification member: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("list specification members: %w", err)
	}
	rows.Close()

	spec.DefinitionIDs = ids
	defs, err := NewDefinitionStore(s.db).GetDefinitions(ctx, ids)
	if err != nil {
		return fmt.Errorf("load specification definitions: %w", err)
	}
	spec.Definitions = defs
	return nil
}
