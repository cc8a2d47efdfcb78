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

type AnalysisStore struct {
	db DB
}

const (
	analysisColumns = `analysis_id, title, description, category, created_at`

	insertAnalysisQuery = `INSERT INTO analyses (
		analysis_id,
		title,
		description,
		category,
		created_at
	) VALUES ($1,$2,$3,$4,$5)
	ON CONFLICT (title) DO NOTHING
	RETURNING ` + analysisColumns

	selectAnalysisByIDQuery = `SELECT ` + analysisColumns + `
	 FROM analyses
	 WHERE analysis_id = $1`

	selectAnalysisByTitleQuery = `SELECT ` + analysisColumns + `
	 FROM analyses
	 WHERE title = $1`

	versionColumns = `version_id, analysis_id, title, description, input_specification_id,
		output_specification_id, entry_point, created_at`

	insertVersionQuery = `INSERT INTO analysis_versions (
		version_id,
		analysis_id,
		title,
		description,
		input_specification_id,
		output_specification_id,
		entry_point,
		created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	ON CONFLICT (analysis_id, title) DO NOTHING
	RETURNING ` + versionColumns

	selectVersionByIDQuery = `SELECT ` + versionColumns + `
	 FROM analysis_versions
	 WHERE version_id = $1`

	selectVersionByTitleQuery = `SELECT ` + versionColumns + `
	 FROM analysis_versions
	 WHERE analysis_id = $1 AND title = $2`

	selectVersionsQuery = `SELECT ` + versionColumns + `
	 FROM analysis_versions
	 WHERE analysis_id = $1
	 ORDER BY created_at, title`
)

func NewAnalysisStore(db DB) *AnalysisStore {
	if db == nil {
		return nil
	}
	return &AnalysisStore{db: db}
}

func (s *AnalysisStore) CreateAnalysis(ctx context.Context, analysis domain.Analysis) (domain.Analysis, bool, error) {
	if s == nil || s.db == nil {
		return domain.Analysis{}, false, fmt.Errorf("analysis store not initialized")
	}
	if strings.TrimSpace(analysis.ID) == "" {
		analysis.ID = uuid.NewString()
	}
	if err := analysis.Validate(); err != nil {
		return domain.Analysis{}, false, err
	}
	title := strings.TrimSpace(analysis.Title)
	created, err := scanAnalysis(s.db.QueryRowContext(
		ctx,
		insertAnalysisQuery,
		strings.TrimSpace(analysis.ID),
		title,
		nullIfEmpty(analysis.Description),
		nullIfEmpty(analysis.Category),
		normalizeTime(analysis.CreatedAt),
	))
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return domain.Analysis{}, false, fmt.Errorf("insert analysis: %w", err)
		}
		existing, err := s.GetAnalysisByTitle(ctx, title)
		if err != nil {
			return domain.Analysis{}, false, err
		}
		return existing, false, nil
	}
	return created, true, nil
}

func (s *AnalysisStore) GetAnalysis(ctx context.Context, id string) (domain.Analysis, error) {
	if s == nil || s.db == nil {
		return domain.Analysis{}, fmt.Errorf("analysis store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Analysis{}, fmt.Errorf("analysis id is required")
	}
	analysis, err := scanAnalysis(s.db.QueryRowContext(ctx, selectAnalysisByIDQuery, id))
	if err != nil {
		return domain.Analysis{}, handleNotFound(err)
	}
	return analysis, nil
}

func (s *AnalysisStore) GetAnalysisByTitle(ctx context.Context, title string) (domain.Analysis, error) {
	if s == nil || s.db == nil {
		return domain.Analysis{}, fmt.Errorf("analysis store not initialized")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Analysis{}, fmt.Errorf("analysis title is required")
	}
	analysis, err := scanAnalysis(s.db.QueryRowContext(ctx, selectAnalysisByTitleQuery, title))
	if err != nil {
		return domain.Analysis{}, handleNotFound(err)
	}
	return analysis, nil
}

func (s *AnalysisStore) ListAnalyses(ctx context.Context, filter repo.AnalysisFilter) ([]domain.Analysis, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("analysis store not initialized")
	}
	args := make([]any, 0, 2)
	query := `SELECT ` + analysisColumns + ` FROM analyses`
	if category := strings.TrimSpace(filter.Category); category != "" {
		args = append(args, category)
		query += fmt.Sprintf(" WHERE category = $%d", len(args))
	}
	query += " ORDER BY title"
	query, args = limitClause(query, args, filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Analysis, 0)
	for rows.Next() {
		analysis, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		out = append(out, analysis)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	return out, nil
}

func (s *AnalysisStore) CreateVersion(ctx context.Context, version domain.AnalysisVersion) (domain.AnalysisVersion, bool, error) {
	if s == nil || s.db == nil {
		return domain.AnalysisVersion{}, false, fmt.Errorf("analysis store not initialized")
	}
	if strings.TrimSpace(version.ID) == "" {
		version.ID = uuid.NewString()
	}
	version.Title = domain.VersionTitle(version.Title)
	if err := version.Validate(); err != nil {
		return domain.AnalysisVersion{}, false, err
	}
	created, err := scanVersion(s.db.QueryRowContext(
		ctx,
		insertVersionQuery,
		strings.TrimSpace(version.ID),
		strings.TrimSpace(version.AnalysisID),
		version.Title,
		nullIfEmpty(version.Description),
		strings.TrimSpace(version.InputSpecificationID),
		strings.TrimSpace(version.OutputSpecificationID),
		strings.TrimSpace(version.EntryPoint),
		normalizeTime(version.CreatedAt),
	))
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return domain.AnalysisVersion{}, false, fmt.Errorf("insert analysis version: %w", err)
		}
		existing, err := s.GetVersionByTitle(ctx, version.AnalysisID, version.Title)
		if err != nil {
			return domain.AnalysisVersion{}, false, err
		}
		return existing, false, nil
	}
	return created, true, nil
}

func (s *AnalysisStore) GetVersion(ctx context.Context, id string) (domain.AnalysisVersion, error) {
	if s == nil || s.db == nil {
		return domain.AnalysisVersion{}, fmt.Errorf("analysis store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.AnalysisVersion{}, fmt.Errorf("version id is required")
	}
	version, err := scanVersion(s.db.QueryRowContext(ctx, selectVersionByIDQuery, id))
	if err != nil {
		return domain.AnalysisVersion{}, handleNotFound(err)
	}
	return version, nil
}

func (s *AnalysisStore) GetVersionByTitle(ctx context.Context, analysisID, title string) (domain.AnalysisVersion, error) {
	if s == nil || s.db == nil {
		return domain.AnalysisVersion{}, fmt.Errorf("analysis store not initialized")
	}
	analysisID = strings.TrimSpace(analysisID)
	if analysisID == "" {
		return domain.AnalysisVersion{}, fmt.Errorf("analysis id is required")
	}
	version, err := scanVersion(s.db.QueryRowContext(ctx, selectVersionByTitleQuery, analysisID, domain.VersionTitle(title)))
	if err != nil {
		return domain.AnalysisVersion{}, handleNotFound(err)
	}
	return version, nil
}

func (s *AnalysisStore) ListVersions(ctx context.Context, analysisID string) ([]domain.AnalysisVersion, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("analysis store not initialized")
	}
	analysisID = strings.TrimSpace(analysisID)
	if analysisID == "" {
		return nil, fmt.Errorf("analysis id is required")
	}
	rows, err := s.db.QueryContext(ctx, selectVersionsQuery, analysisID)
	if err != nil {
		return nil, fmt.Errorf("list analysis versions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.AnalysisVersion, 0)
	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan analysis version: %w", err)
		}
		out = append(out, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list analysis versions: %w", err)
	}
	return out, nil
}

func scanAnalysis(row rowScanner) (domain.Analysis, error) {
	var analysis domain.Analysis
	var description, category sql.NullString
	if err := row.Scan(&analysis.ID, &analysis.Title, &description, &category, &analysis.CreatedAt); err != nil {
		return domain.Analysis{}, err
	}
	analysis.Description = description.String
	analysis.Category = category.String
	analysis.CreatedAt = analysis.CreatedAt.UTC()
	return analysis, nil
}

func scanVersion(row rowScanner) (domain.AnalysisVersion, error) {
	var version domain.AnalysisVersion
	var description sql.NullString
	if err := row.Scan(&version.ID, &version.AnalysisID, &version.Title, &description, &version.InputSpecificationID,
		&version.OutputSpecificationID, &version.EntryPoint, &version.CreatedAt); err != nil {
		return domain.AnalysisVersion{}, err
	}
	version.Description = description.String
	version.CreatedAt = version.CreatedAt.UTC()
	return version, nil
}
