package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/animus-labs/analyses-go/internal/domain"
	"github.com/animus-labs/analyses-go/internal/repo"
)

const (
	nsPipeline      = "pipeline"
	nsPipelineTitle = "pipeline_title"
	nsNode          = "node"
)

// pipelineDoc references nodes by id; nodes are stored on their own so that
// several pipelines can share one.
type pipelineDoc struct {
	ID          string
	Title       string
	Description string
	NodeIDs     []string
	Pipes       []domain.Pipe
	CreatedAt   time.Time
}

func (s *Store) CreatePipeline(ctx context.Context, pipeline domain.Pipeline) (domain.Pipeline, bool, error) {
	if strings.TrimSpace(pipeline.ID) == "" {
		pipeline.ID = uuid.NewString()
	}
	pipeline.Title = strings.TrimSpace(pipeline.Title)
	if err := pipeline.ValidateBasicShape(); err != nil {
		return domain.Pipeline{}, false, err
	}
	if pipeline.CreatedAt.IsZero() {
		pipeline.CreatedAt = s.now()
	}

	doc := pipelineDoc{
		ID:          pipeline.ID,
		Title:       pipeline.Title,
		Description: pipeline.Description,
		NodeIDs:     make([]string, 0, len(pipeline.Nodes)),
		Pipes:       make([]domain.Pipe, 0, len(pipeline.Pipes)),
		CreatedAt:   pipeline.CreatedAt,
	}
	destinations := make(map[string]struct{}, len(pipeline.Pipes))
	for _, pipe := range pipeline.Pipes {
		if pipe.ID == "" {
			pipe.ID = uuid.NewString()
		}
		pipe.PipelineID = pipeline.ID
		port := pipe.DestinationID + "\x00" + pipe.DestinationPort
		if _, ok := destinations[port]; ok {
			return domain.Pipeline{}, false, fmt.Errorf("pipe into %s.%s: %w", pipe.DestinationID, pipe.DestinationPort, repo.ErrConflict)
		}
		destinations[port] = struct{}{}
		doc.Pipes = append(doc.Pipes, pipe)
	}

	var out domain.Pipeline
	var created bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		created = false
		id, err := getString(txn, key(nsPipelineTitle, pipeline.Title))
		switch {
		case err == nil:
			return loadPipeline(txn, id, &out)
		case !errors.Is(err, repo.ErrNotFound):
			return err
		}
		doc.NodeIDs = doc.NodeIDs[:0]
		for _, node := range pipeline.Nodes {
			nodeKey := key(nsNode, node.ID)
			ok, err := exists(txn, nodeKey)
			if err != nil {
				return err
			}
			if !ok {
				if node.CreatedAt.IsZero() {
					node.CreatedAt = pipeline.CreatedAt
				}
				if node.Configuration == nil {
					node.Configuration = map[string]any{}
				}
				if err := putJSON(txn, nodeKey, node); err != nil {
					return err
				}
			}
			doc.NodeIDs = append(doc.NodeIDs, node.ID)
		}
		if err := putJSON(txn, key(nsPipeline, doc.ID), doc); err != nil {
			return err
		}
		if err := txn.Set(key(nsPipelineTitle, doc.Title), []byte(doc.ID)); err != nil {
			return err
		}
		created = true
		return loadPipeline(txn, doc.ID, &out)
	})
	if err != nil {
		return domain.Pipeline{}, false, fmt.Errorf("create pipeline: %w", err)
	}
	return out, created, nil
}

func loadPipeline(txn *badger.Txn, id string, out *domain.Pipeline) error {
	var doc pipelineDoc
	if err := getJSON(txn, key(nsPipeline, id), &doc); err != nil {
		return err
	}
	nodes := make([]domain.Node, 0, len(doc.NodeIDs))
	for _, nodeID := range doc.NodeIDs {
		var node domain.Node
		if err := getJSON(txn, key(nsNode, nodeID), &node); err != nil {
			return fmt.Errorf("load node %s: %w", nodeID, err)
		}
		nodes = append(nodes, node)
	}
	*out = domain.Pipeline{
		ID:          doc.ID,
		Title:       doc.Title,
		Description: doc.Description,
		Nodes:       nodes,
		Pipes:       doc.Pipes,
		CreatedAt:   doc.CreatedAt,
	}
	return nil
}

func (s *Store) GetPipeline(ctx context.Context, id string) (domain.Pipeline, error) {
	var pipeline domain.Pipeline
	err := s.view(ctx, func(txn *badger.Txn) error {
		return loadPipeline(txn, strings.TrimSpace(id), &pipeline)
	})
	return pipeline, err
}

func (s *Store) GetPipelineByTitle(ctx context.Context, title string) (domain.Pipeline, error) {
	var pipeline domain.Pipeline
	err := s.view(ctx, func(txn *badger.Txn) error {
		id, err := getString(txn, key(nsPipelineTitle, strings.TrimSpace(title)))
		if err != nil {
			return err
		}
		return loadPipeline(txn, id, &pipeline)
	})
	return pipeline, err
}

func (s *Store) ListPipelines(ctx context.Context, filter repo.PipelineFilter) ([]domain.Pipeline, error) {
	out := make([]domain.Pipeline, 0)
	err := s.view(ctx, func(txn *badger.Txn) error {
		ids := make([]string, 0)
		if err := scan(txn, prefix(nsPipelineTitle), false, func(_, v []byte) error {
			ids = append(ids, string(v))
			return nil
		}); err != nil {
			return err
		}
		for _, id := range ids {
			var pipeline domain.Pipeline
			if err := loadPipeline(txn, id, &pipeline); err != nil {
				return err
			}
			if t := strings.TrimSpace(filter.Title); t != "" && pipeline.Title != t {
				continue
			}
			out = append(out, pipeline)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return limit(out, filter.Limit), nil
}

func (s *Store) GetNode(ctx context.Context, id string) (domain.Node, error) {
	var node domain.Node
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, key(nsNode, strings.TrimSpace(id)), &node)
	})
	return node, err
}
