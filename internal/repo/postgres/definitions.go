package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/animus-labs/analyses-go/internal/domain"
	"github.com/animus-labs/analyses-go/internal/repo"
)

type DefinitionStore struct {
	db DB
}

const (
	definitionColumns = `definition_id, key, direction, kind, element_kind, required, is_configuration,
		description, default_value, min_value, max_value, choices, created_at`

	insertDefinitionQuery = `INSERT INTO analysis_definitions (
		definition_id,
		fingerprint,
		key,
		direction,
		kind,
		element_kind,
		required,
		is_configuration,
		description,
		default_value,
		min_value,
		max_value,
		choices,
		created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	ON CONFLICT (fingerprint) DO NOTHING
	RETURNING ` + definitionColumns

	selectDefinitionByFingerprintQuery = `SELECT ` + definitionColumns + `
	 FROM analysis_definitions
	 WHERE fingerprint = $1`

	selectDefinitionByIDQuery = `SELECT ` + definitionColumns + `
	 FROM analysis_definitions
	 WHERE definition_id = $1`

	selectDefinitionsByIDsQuery = `SELECT ` + definitionColumns + `
	 FROM analysis_definitions
	 WHERE definition_id = ANY($1)
	 ORDER BY key`
)

func NewDefinitionStore(db DB) *DefinitionStore {
	if db == nil {
		return nil
	}
	return &DefinitionStore{db: db}
}

func (s *DefinitionStore) CreateDefinition(ctx context.Context, def domain.Definition, fingerprint string) (domain.Definition, bool, error) {
	if s == nil || s.db == nil {
		return domain.Definition{}, false, fmt.Errorf("definition store not initialized")
	}
	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		return domain.Definition{}, false, fmt.Errorf("fingerprint is required")
	}
	def = def.Normalize()
	if strings.TrimSpace(def.ID) == "" {
		def.ID = uuid.NewString()
	}
	defaultJSON, err := encodeValue(def.Default)
	if err != nil {
		return domain.Definition{}, false, fmt.Errorf("encode default: %w", err)
	}
	choicesJSON, err := encodeJSON(def.Choices, "[]")
	if err != nil {
		return domain.Definition{}, false, fmt.Errorf("encode choices: %w", err)
	}

	row := s.db.QueryRowContext(
		ctx,
		insertDefinitionQuery,
		def.ID,
		fingerprint,
		def.Key,
		string(def.Direction),
		string(def.Kind),
		nullIfEmpty(string(def.ElementKind)),
		def.Required,
		def.IsConfiguration,
		nullIfEmpty(def.Description),
		defaultJSON,
		nullFloat(def.Min),
		nullFloat(def.Max),
		choicesJSON,
		normalizeTime(def.CreatedAt),
	)
	created, err := scanDefinition(row)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return domain.Definition{}, false, fmt.Errorf("insert definition: %w", err)
		}
		existing, err := scanDefinition(s.db.QueryRowContext(ctx, selectDefinitionByFingerprintQuery, fingerprint))
		if err != nil {
			return domain.Definition{}, false, handleNotFound(err)
		}
		return existing, false, nil
	}
	return created, true, nil
}

func (s *DefinitionStore) GetDefinition(ctx context.Context, id string) (domain.Definition, error) {
	if s == nil || s.db == nil {
		return domain.Definition{}, fmt.Errorf("definition store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Definition{}, fmt.Errorf("definition id is required")
	}
	def, err := scanDefinition(s.db.QueryRowContext(ctx, selectDefinitionByIDQuery, id))
	if err != nil {
		return domain.Definition{}, handleNotFound(err)
	}
	return def, nil
}

func (s *DefinitionStore) GetDefinitions(ctx context.Context, ids []string) ([]domain.Definition, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("definition store not initialized")
	}
	ids = domain.SortedUnique(ids)
	if len(ids) == 0 {
		return []domain.Definition{}, nil
	}
	rows, err := s.db.QueryContext(ctx, selectDefinitionsByIDsQuery, ids)
	if err != nil {
		return nil, fmt.Errorf("get definitions: %w", err)
	}
	defer rows.Close()
	defs, err := scanDefinitions(rows)
	if err != nil {
		return nil, err
	}
	if len(defs) != len(ids) {
		return nil, repo.ErrNotFound
	}
	return defs, nil
}

func (s *DefinitionStore) ListDefinitions(ctx context.Context, filter repo.DefinitionFilter) ([]domain.Definition, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("definition store not initialized")
	}
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if key := strings.TrimSpace(filter.Key); key != "" {
		args = append(args, key)
		clauses = append(clauses, fmt.Sprintf("key = $%d", len(args)))
	}
	if filter.Direction != "" {
		args = append(args, string(filter.Direction))
		clauses = append(clauses, fmt.Sprintf("direction = $%d", len(args)))
	}
	query := `SELECT ` + definitionColumns + ` FROM analysis_definitions`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY key, created_at"
	query, args = limitClause(query, args, filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	defer rows.Close()
	return scanDefinitions(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (domain.Definition, error) {
	var def domain.Definition
	var direction, kind string
	var elementKind, description sql.NullString
	var defaultJSON, choicesJSON []byte
	var minValue, maxValue sql.NullFloat64
	if err := row.Scan(&def.ID, &def.Key, &direction, &kind, &elementKind, &def.Required, &def.IsConfiguration,
		&description, &defaultJSON, &minValue, &maxValue, &choicesJSON, &def.CreatedAt); err != nil {
		return domain.Definition{}, err
	}
	def.Direction = domain.Direction(direction)
	def.Kind = domain.Kind(kind)
	if elementKind.Valid {
		def.ElementKind = domain.Kind(elementKind.String)
	}
	if description.Valid {
		def.Description = description.String
	}
	def.Min = floatPtr(minValue)
	def.Max = floatPtr(maxValue)
	value, err := decodeValue(defaultJSON)
	if err != nil {
		return domain.Definition{}, fmt.Errorf("decode default: %w", err)
	}
	def.Default = value
	if len(choicesJSON) > 0 {
		if err := json.Unmarshal(choicesJSON, &def.Choices); err != nil {
			return domain.Definition{}, fmt.Errorf("decode choices: %w", err)
		}
	}
	if len(def.Choices) == 0 {
		def.Choices = nil
	}
	def.CreatedAt = def.CreatedAt.UTC()
	return def, nil
}

func scanDefinitions(rows *sql.Rows) ([]domain.Definition, error) {
	out := make([]domain.Definition, 0)
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan definition: %w", err)
		}
		out = append(out, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan definitions: %w", err)
	}
	return out, nil
}
