// Package specifications matches definition sets to stored specifications.
//
// A specification is identified by its exact member set within one analysis
// and direction. Matching is set equality: a stored specification matches
// when it holds every requested definition and nothing else.
package specifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/animus-labs/analyses-go/internal/domain"
	"github.com/animus-labs/analyses-go/internal/repo"
	"github.com/animus-labs/analyses-go/internal/service/definitions"
	"github.com/animus-labs/analyses-go/internal/validation"
)

// ErrSpecificationAmbiguous means more than one stored specification has the
// requested member set. The store is inconsistent; callers must not retry.
var ErrSpecificationAmbiguous = errors.New("specification ambiguous")

type Matcher struct {
	registry *definitions.Registry
	specs    repo.SpecificationRepository
	logger   *slog.Logger
}

func New(registry *definitions.Registry, specs repo.SpecificationRepository, logger *slog.Logger) *Matcher {
	if registry == nil || specs == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{registry: registry, specs: specs, logger: logger}
}

// MatchOrCreate registers defs and returns the specification of analysisID
// whose members are exactly those definitions, creating it when none exists.
func (m *Matcher) MatchOrCreate(ctx context.Context, analysisID string, direction domain.Direction, defs []domain.Definition) (domain.Specification, bool, error) {
	if m == nil {
		return domain.Specification{}, false, errors.New("specification matcher not initialized")
	}
	analysisID = strings.TrimSpace(analysisID)
	if analysisID == "" {
		return domain.Specification{}, false, errors.New("analysis id is required")
	}
	if !direction.Valid() {
		return domain.Specification{}, false, fmt.Errorf("invalid direction %q", direction)
	}
	defs = append([]domain.Definition(nil), defs...)
	for i := range defs {
		if defs[i].Direction == "" {
			defs[i].Direction = direction
		}
		if defs[i].Direction != direction {
			issues := &validation.Error{}
			issues.Add(validation.CodeInvalidDefinition, defs[i].Key, fmt.Sprintf("direction %s does not match %s specification", defs[i].Direction, direction))
			return domain.Specification{}, false, issues
		}
	}

	stored, err := m.registry.RegisterAll(ctx, defs)
	if err != nil {
		return domain.Specification{}, false, err
	}
	ids := make([]string, 0, len(stored))
	seen := make(map[string]struct{}, len(stored))
	for _, def := range stored {
		if _, ok := seen[def.ID]; ok {
			issues := &validation.Error{}
			issues.Add(validation.CodeInvalidDefinition, def.Key, "definition listed twice")
			return domain.Specification{}, false, issues
		}
		seen[def.ID] = struct{}{}
		ids = append(ids, def.ID)
	}

	spec, found, err := m.match(ctx, analysisID, direction, ids)
	if err != nil {
		return domain.Specification{}, false, err
	}
	if found {
		return spec, false, nil
	}

	spec, created, err := m.specs.CreateSpecification(ctx, domain.Specification{
		AnalysisID:    analysisID,
		Direction:     direction,
		DefinitionIDs: domain.SortedUnique(ids),
	})
	if err != nil {
		return domain.Specification{}, false, err
	}
	if created {
		m.logger.Info("specification created",
			"specification_id", spec.ID,
			"analysis_id", analysisID,
			"direction", string(direction),
			"members", len(ids),
		)
	}
	return spec, created, nil
}

// Match looks up the specification with exactly the given definition ids.
// It returns repo.ErrNotFound when none exists.
func (m *Matcher) Match(ctx context.Context, analysisID string, direction domain.Direction, definitionIDs []string) (domain.Specification, error) {
	if m == nil {
		return domain.Specification{}, errors.New("specification matcher not initialized")
	}
	spec, found, err := m.match(ctx, strings.TrimSpace(analysisID), direction, domain.SortedUnique(definitionIDs))
	if err != nil {
		return domain.Specification{}, err
	}
	if !found {
		return domain.Specification{}, repo.ErrNotFound
	}
	return spec, nil
}

func (m *Matcher) match(ctx context.Context, analysisID string, direction domain.Direction, ids []string) (domain.Specification, bool, error) {
	if len(ids) == 0 {
		// An empty set intersects nothing; it is addressed by its member hash.
		return domain.Specification{}, false, nil
	}
	candidates, err := m.specs.FindSpecificationCandidates(ctx, analysisID, direction, ids)
	if err != nil {
		return domain.Specification{}, false, err
	}
	matches := make([]string, 0, 1)
	for _, c := range candidates {
		if c.MemberCount == len(ids) && c.Overlap == len(ids) {
			matches = append(matches, c.SpecificationID)
		}
	}
	switch len(matches) {
	case 0:
		return domain.Specification{}, false, nil
	case 1:
		spec, err := m.specs.GetSpecification(ctx, matches[0])
		if err != nil {
			return domain.Specification{}, false, err
		}
		return spec, true, nil
	default:
		m.logger.Error("ambiguous specification match",
			"analysis_id", analysisID,
			"direction", string(direction),
			"specification_ids", matches,
		)
		return domain.Specification{}, false, fmt.Errorf("%w: %d specifications of analysis %s share members %v", ErrSpecificationAmbiguous, len(matches), analysisID, ids)
	}
}

func (m *Matcher) Get(ctx context.Context, id string) (domain.Specification, error) {
	if m == nil {
		return domain.Specification{}, errors.New("specification matcher not initialized")
	}
	return m.specs.GetSpecification(ctx, id)
}

func (m *Matcher) List(ctx context.Context, filter repo.SpecificationFilter) ([]domain.Specification, error) {
	if m == nil {
		return nil, errors.New("specification matcher not initialized")
	}
	return m.specs.ListSpecifications(ctx, filter)
}
