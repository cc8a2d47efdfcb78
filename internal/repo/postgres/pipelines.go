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

type PipelineStore struct {
	db DB
}

const (
	insertPipelineQuery = `INSERT INTO pipelines (
		pipeline_id,
		title,
		description,
		created_at
	) VALUES ($1,$2,$3,$4)
	ON CONFLICT (title) DO NOTHING
	RETURNING pipeline_id`

	insertNodeQuery = `INSERT INTO pipeline_nodes (
		node_id,
		name,
		analysis_version_id,
		configuration,
		created_at
	) VALUES ($1,$2,$3,$4,$5)
	ON CONFLICT (node_id) DO NOTHING`

	insertPipelineMemberQuery = `INSERT INTO pipeline_members (pipeline_id, node_id, position)
	 VALUES ($1,$2,$3)`

	insertPipeQuery = `INSERT INTO pipes (
		pipe_id,
		pipeline_id,
		source_node_id,
		source_port,
		destination_node_id,
		destination_port
	) VALUES ($1,$2,$3,$4,$5,$6)`

	selectPipelineByIDQuery = `SELECT pipeline_id, title, description, created_at
	 FROM pipelines
	 WHERE pipeline_id = $1`

	selectPipelineIDByTitleQuery = `SELECT pipeline_id
	 FROM pipelines
	 WHERE title = $1`

	selectPipelineNodesQuery = `SELECT n.node_id, n.name, n.analysis_version_id, n.configuration, n.created_at
	 FROM pipeline_members m
	 JOIN pipeline_nodes n ON n.node_id = m.node_id
	 WHERE m.pipeline_id = $1
	 ORDER BY m.position`

	selectPipesQuery = `SELECT pipe_id, pipeline_id, source_node_id, source_port, destination_node_id, destination_port
	 FROM pipes
	 WHERE pipeline_id = $1
	 ORDER BY source_node_id, destination_node_id, destination_port`

	selectNodeByIDQuery = `SELECT node_id, name, analysis_version_id, configuration, created_at
	 FROM pipeline_nodes
	 WHERE node_id = $1`
)

func NewPipelineStore(db DB) *PipelineStore {
	if db == nil {
		return nil
	}
	return &PipelineStore{db: db}
}

func (s *PipelineStore) CreatePipeline(ctx context.Context, pipeline domain.Pipeline) (domain.Pipeline, bool, error) {
	if s == nil || s.db == nil {
		return domain.Pipeline{}, false, fmt.Errorf("pipeline store not initialized")
	}
	if strings.TrimSpace(pipeline.ID) == "" {
		pipeline.ID = uuid.NewString()
	}
	if err := pipeline.ValidateBasicShape(); err != nil {
		return domain.Pipeline{}, false, err
	}
	createdAt := normalizeTime(pipeline.CreatedAt)

	var id string
	created := false
	err := withTx(ctx, s.db, func(db DB) error {
		err := db.QueryRowContext(
			ctx,
			insertPipelineQuery,
			strings.TrimSpace(pipeline.ID),
			strings.TrimSpace(pipeline.Title),
			nullIfEmpty(pipeline.Description),
			createdAt,
		).Scan(&id)
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("insert pipeline: %w", err)
			}
			if err := db.QueryRowContext(ctx, selectPipelineIDByTitleQuery, strings.TrimSpace(pipeline.Title)).Scan(&id); err != nil {
				return handleNotFound(err)
			}
			return nil
		}

		for i, node := range pipeline.Nodes {
			configJSON, err := encodeJSON(node.Configuration, "{}")
			if err != nil {
				return fmt.Errorf("encode node %q configuration: %w", node.ID, err)
			}
			if _, err := db.ExecContext(
				ctx,
				insertNodeQuery,
				strings.TrimSpace(node.ID),
				nullIfEmpty(node.Name),
				strings.TrimSpace(node.AnalysisVersionID),
				configJSON,
				createdAt,
			); err != nil {
				return fmt.Errorf("insert node %q: %w", node.ID, err)
			}
			if _, err := db.ExecContext(ctx, insertPipelineMemberQuery, id, strings.TrimSpace(node.ID), i); err != nil {
				return fmt.Errorf("insert pipeline member %q: %w", node.ID, err)
			}
		}
		for _, pipe := range pipeline.Pipes {
			pipeID := strings.TrimSpace(pipe.ID)
			if pipeID == "" {
				pipeID = uuid.NewString()
			}
			if _, err := db.ExecContext(
				ctx,
				insertPipeQuery,
				pipeID,
				id,
				strings.TrimSpace(pipe.SourceID),
				strings.TrimSpace(pipe.SourcePort),
				strings.TrimSpace(pipe.DestinationID),
				strings.TrimSpace(pipe.DestinationPort),
			); err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("pipe into %s.%s: %w", pipe.DestinationID, pipe.DestinationPort, repo.ErrConflict)
				}
				return fmt.Errorf("insert pipe: %w", err)
			}
		}
		created = true
		return nil
	})
	if err != nil {
		return domain.Pipeline{}, false, err
	}
	out, err := s.GetPipeline(ctx, id)
	if err != nil {
		return domain.Pipeline{}, false, err
	}
	return out, created, nil
}

func (s *PipelineStore) GetPipeline(ctx context.Context, id string) (domain.Pipeline, error) {
	if s == nil || s.db == nil {
		return domain.Pipeline{}, fmt.Errorf("pipeline store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Pipeline{}, fmt.Errorf("pipeline id is required")
	}
	var pipeline domain.Pipeline
	var description sql.NullString
	if err := s.db.QueryRowContext(ctx, selectPipelineByIDQuery, id).Scan(&pipeline.ID, &pipeline.Title, &description, &pipeline.CreatedAt); err != nil {
		return domain.Pipeline{}, handleNotFound(err)
	}
	pipeline.Description = description.String
	pipeline.CreatedAt = pipeline.CreatedAt.UTC()

	nodes, err := s.listNodes(ctx, id)
	if err != nil {
		return domain.Pipeline{}, err
	}
	pipes, err := s.listPipes(ctx, id)
	if err != nil {
		return domain.Pipeline{}, err
	}
	pipeline.Nodes = nodes
	pipeline.Pipes = pipes
	return pipeline, nil
}

func (s *PipelineStore) GetPipelineByTitle(ctx context.Context, title string) (domain.Pipeline, error) {
	if s == nil || s.db == nil {
		return domain.Pipeline{}, fmt.Errorf("pipeline store not initialized")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Pipeline{}, fmt.Errorf("pipeline title is required")
	}
	var id string
	if err := s.db.QueryRowContext(ctx, selectPipelineIDByTitleQuery, title).Scan(&id); err != nil {
		return domain.Pipeline{}, handleNotFound(err)
	}
	return s.GetPipeline(ctx, id)
}

func (s *PipelineStore) ListPipelines(ctx context.Context, filter repo.PipelineFilter) ([]domain.Pipeline, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("pipeline store not initialized")
	}
	args := make([]any, 0, 2)
	query := `SELECT pipeline_id FROM pipelines`
	if title := strings.TrimSpace(filter.Title); title != "" {
		args = append(args, title)
		query += fmt.Sprintf(" WHERE title = $%d", len(args))
	}
	query += " ORDER BY title"
	query, args = limitClause(query, args, filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan pipeline: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	rows.Close()

	out := make([]domain.Pipeline, 0, len(ids))
	for _, id := range ids {
		pipeline, err := s.GetPipeline(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, pipeline)
	}
	return out, nil
}

func (s *PipelineStore) GetNode(ctx context.Context, id string) (domain.Node, error) {
	if s == nil || s.db == nil {
		return domain.Node{}, fmt.Errorf("pipeline store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Node{}, fmt.Errorf("node id is required")
	}
	node, err := scanNode(s.db.QueryRowContext(ctx, selectNodeByIDQuery, id))
	if err != nil {
		return domain.Node{}, handleNotFound(err)
	}
	return node, nil
}

func (s *PipelineStore) listNodes(ctx context.Context, pipelineID string) ([]domain.Node, error) {
	rows, err := s.db.QueryContext(ctx, selectPipelineNodesQuery, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("list pipeline nodes: %w", err)
	}
	defer rows.Close()
	out := make([]domain.Node, 0)
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		out = append(out, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pipeline nodes: %w", err)
	}
	return out, nil
}

func (s *PipelineStore) listPipes(ctx context.Context, pipelineID string) ([]domain.Pipe, error) {
	rows, err := s.db.QueryContext(ctx, selectPipesQuery, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("list pipes: %w", err)
	}
	defer rows.Close()
	out := make([]domain.Pipe, 0)
	for rows.Next() {
		var pipe domain.Pipe
		if err := rows.Scan(&pipe.ID, &pipe.PipelineID, &pipe.SourceID, &pipe.SourcePort, &pipe.DestinationID, &pipe.DestinationPort); err != nil {
			return nil, fmt.Errorf("scan pipe: %w", err)
		}
		out = append(out, pipe)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pipes: %w", err)
	}
	return out, nil
}

func scanNode(row rowScanner) (domain.Node, error) {
	var node domain.Node
	var name sql.NullString
	var configJSON []byte
	if err := row.Scan(&node.ID, &name, &node.AnalysisVersionID, &configJSON, &node.CreatedAt); err != nil {
		return domain.Node{}, err
	}
	node.Name = name.String
	node.CreatedAt = node.CreatedAt.UTC()
	node.Configuration = map[string]any{}
	if len(configJSON) > 0 {
		dec := json.NewDecoder(strings.NewReader(string(configJSON)))
		dec.UseNumber()
		if err := dec.Decode(&node.Configuration); err != nil {
			return domain.Node{}, fmt.Errorf("decode node configuration: %w", err)
		}
	}
	return node, nil
}
