// Package definitions is the registry of typed input and output definitions.
//
// Registration is content-addressed: a definition is identified by the
// fingerprint of its normalized fields, so registering an identical
// definition twice returns the row created the first time.
package definitions

import (
	"context"
	"errors"
	"log/slog"

	"github.com/animus-labs/analyses-go/internal/domain"
	"github.com/animus-labs/analyses-go/internal/repo"
	"github.com/animus-labs/analyses-go/internal/validation"
)

type Registry struct {
	defs   repo.DefinitionRepository
	logger *slog.Logger
}

func New(defs repo.DefinitionRepository, logger *slog.Logger) *Registry {
	if defs == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{defs: defs, logger: logger}
}

// Register validates def and returns the stored definition, creating it on
// first use.
func (r *Registry) Register(ctx context.Context, def domain.Definition) (domain.Definition, bool, error) {
	if r == nil {
		return domain.Definition{}, false, errors.New("definition registry not initialized")
	}
	def = def.Normalize()
	def.ID = ""
	if err := validation.ValidateDefinition(def); err != nil {
		return domain.Definition{}, false, err
	}
	fingerprint, err := def.Fingerprint()
	if err != nil {
		return domain.Definition{}, false, err
	}
	stored, created, err := r.defs.CreateDefinition(ctx, def, fingerprint)
	if err != nil {
		return domain.Definition{}, false, err
	}
	if created {
		r.logger.Info("definition registered",
			"definition_id", stored.ID,
			"key", stored.Key,
			"direction", string(stored.Direction),
			"kind", string(stored.Kind),
		)
	}
	return stored, created, nil
}

// RegisterAll registers a definition set. Keys must be unique within the set.
// The result preserves input order.
func (r *Registry) RegisterAll(ctx context.Context, defs []domain.Definition) ([]domain.Definition, error) {
	if r == nil {
		return nil, errors.New("definition registry not initialized")
	}
	normalized := make([]domain.Definition, 0, len(defs))
	for _, def := range defs {
		normalized = append(normalized, def.Normalize())
	}
	if err := validation.ValidateDefinitionSet(normalized); err != nil {
		return nil, err
	}
	out := make([]domain.Definition, 0, len(normalized))
	for _, def := range normalized {
		stored, _, err := r.Register(ctx, def)
		if err != nil {
			return nil, err
		}
		out = append(out, stored)
	}
	return out, nil
}

// Validate checks an optional value against def, applying its default.
func (r *Registry) Validate(def domain.Definition, value *domain.Value) (domain.Value, bool, error) {
	return validation.ValidateValue(def, value)
}

func (r *Registry) Get(ctx context.Context, id string) (domain.Definition, error) {
	if r == nil {
		return domain.Definition{}, errors.New("definition registry not initialized")
	}
	return r.defs.GetDefinition(ctx, id)
}

func (r *Registry) List(ctx context.Context, filter repo.DefinitionFilter) ([]domain.Definition, error) {
	if r == nil {
		return nil, errors.New("definition registry not initialized")
	}
	return r.defs.ListDefinitions(ctx, filter)
}
