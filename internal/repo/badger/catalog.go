package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/animus-labs/analyses-go/internal/domain"
	"github.com/animus-labs/analyses-go/internal/repo"
)

const (
	nsDefinition         = "def"
	nsDefinitionPrint    = "def_fp"
	nsSpecification      = "spec"
	nsSpecificationSet   = "spec_members"
	nsSpecificationIndex = "spec_def"
	nsAnalysis           = "analysis"
	nsAnalysisTitle      = "analysis_title"
	nsVersion            = "version"
	nsVersionTitle       = "version_title"
)

func (s *Store) CreateDefinition(ctx context.Context, def domain.Definition, fingerprint string) (domain.Definition, bool, error) {
	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		return domain.Definition{}, false, fmt.Errorf("fingerprint is required")
	}
	def = def.Normalize()
	if strings.TrimSpace(def.ID) == "" {
		def.ID = uuid.NewString()
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = s.now()
	}

	var out domain.Definition
	var created bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		created = false
		id, err := getString(txn, key(nsDefinitionPrint, fingerprint))
		switch {
		case err == nil:
			return getJSON(txn, key(nsDefinition, id), &out)
		case !errors.Is(err, repo.ErrNotFound):
			return err
		}
		if err := putJSON(txn, key(nsDefinition, def.ID), def); err != nil {
			return err
		}
		if err := txn.Set(key(nsDefinitionPrint, fingerprint), []byte(def.ID)); err != nil {
			return err
		}
		out = def
		created = true
		return nil
	})
	if err != nil {
		return domain.Definition{}, false, fmt.Errorf("create definition: %w", err)
	}
	return out, created, nil
}

func (s *Store) GetDefinition(ctx context.Context, id string) (domain.Definition, error) {
	var def domain.Definition
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, key(nsDefinition, strings.TrimSpace(id)), &def)
	})
	return def, err
}

func (s *Store) GetDefinitions(ctx context.Context, ids []string) ([]domain.Definition, error) {
	var defs []domain.Definition
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		defs, err = loadDefinitions(txn, ids)
		return err
	})
	return defs, err
}

func loadDefinitions(txn *badger.Txn, ids []string) ([]domain.Definition, error) {
	ids = domain.SortedUnique(ids)
	defs := make([]domain.Definition, 0, len(ids))
	for _, id := range ids {
		var def domain.Definition
		if err := getJSON(txn, key(nsDefinition, id), &def); err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Key < defs[j].Key })
	return defs, nil
}

func (s *Store) ListDefinitions(ctx context.Context, filter repo.DefinitionFilter) ([]domain.Definition, error) {
	out := make([]domain.Definition, 0)
	err := s.view(ctx, func(txn *badger.Txn) error {
		return scan(txn, prefix(nsDefinition), false, func(_, v []byte) error {
			var def domain.Definition
			if err := decode(v, &def); err != nil {
				return err
			}
			if k := strings.TrimSpace(filter.Key); k != "" && def.Key != k {
				return nil
			}
			if filter.Direction != "" && def.Direction != filter.Direction {
				return nil
			}
			out = append(out, def)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return limit(out, filter.Limit), nil
}

func (s *Store) FindSpecificationCandidates(ctx context.Context, analysisID string, direction domain.Direction, definitionIDs []string) ([]repo.SpecificationCandidate, error) {
	analysisID = strings.TrimSpace(analysisID)
	if analysisID == "" {
		return nil, fmt.Errorf("analysis id is required")
	}
	overlap := make(map[string]int)
	out := make([]repo.SpecificationCandidate, 0)
	err := s.view(ctx, func(txn *badger.Txn) error {
		for _, defID := range domain.SortedUnique(definitionIDs) {
			p := prefix(nsSpecificationIndex, analysisID, string(direction), defID)
			if err := scan(txn, p, true, func(k, _ []byte) error {
				overlap[lastSegment(k)]++
				return nil
			}); err != nil {
				return err
			}
		}
		for specID, n := range overlap {
			var spec domain.Specification
			if err := getJSON(txn, key(nsSpecification, specID), &spec); err != nil {
				return err
			}
			out = append(out, repo.SpecificationCandidate{SpecificationID: specID, MemberCount: len(spec.DefinitionIDs), Overlap: n})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find specifications: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SpecificationID < out[j].SpecificationID })
	return out, nil
}

func (s *Store) CreateSpecification(ctx context.Context, spec domain.Specification) (domain.Specification, bool, error) {
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
	if spec.CreatedAt.IsZero() {
		spec.CreatedAt = s.now()
	}
	spec.DefinitionIDs = domain.SortedUnique(spec.DefinitionIDs)
	spec.Definitions = nil
	setKey := key(nsSpecificationSet, spec.AnalysisID, string(spec.Direction), domain.MembersHash(spec.DefinitionIDs))

	var out domain.Specification
	var created bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		created = false
		id, err := getString(txn, setKey)
		switch {
		case err == nil:
			return loadSpecification(txn, id, &out)
		case !errors.Is(err, repo.ErrNotFound):
			return err
		}
		if ok, err := exists(txn, key(nsAnalysis, spec.AnalysisID)); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("analysis %s: %w", spec.AnalysisID, repo.ErrNotFound)
		}
		if err := putJSON(txn, key(nsSpecification, spec.ID), spec); err != nil {
			return err
		}
		if err := txn.Set(setKey, []byte(spec.ID)); err != nil {
			return err
		}
		for _, defID := range spec.DefinitionIDs {
			if err := txn.Set(key(nsSpecificationIndex, spec.AnalysisID, string(spec.Direction), defID, spec.ID), nil); err != nil {
				return err
			}
		}
		created = true
		return loadSpecification(txn, spec.ID, &out)
	})
	if err != nil {
		return domain.Specification{}, false, fmt.Errorf("create specification: %w", err)
	}
	return out, created, nil
}

func loadSpecification(txn *badger.Txn, id string, out *domain.Specification) error {
	if err := getJSON(txn, key(nsSpecification, id), out); err != nil {
		return err
	}
	defs, err := loadDefinitions(txn, out.DefinitionIDs)
	if err != nil {
		return fmt.Errorf("load specification definitions: %w", err)
	}
	out.Definitions = defs
	return nil
}

func (s *Store) GetSpecification(ctx context.Context, id string) (domain.Specification, error) {
	var spec domain.Specification
	err := s.view(ctx, func(txn *badger.Txn) error {
		return loadSpecification(txn, strings.TrimSpace(id), &spec)
	})
	return spec, err
}

func (s *Store) ListSpecifications(ctx context.Context, filter repo.SpecificationFilter) ([]domain.Specification, error) {
	out := make([]domain.Specification, 0)
	err := s.view(ctx, func(txn *badger.Txn) error {
		ids := make([]string, 0)
		if err := scan(txn, prefix(nsSpecification), false, func(_, v []byte) error {
			var spec domain.Specification
			if err := decode(v, &spec); err != nil {
				return err
			}
			if a := strings.TrimSpace(filter.AnalysisID); a != "" && spec.AnalysisID != a {
				return nil
			}
			if filter.Direction != "" && spec.Direction != filter.Direction {
				return nil
			}
			ids = append(ids, spec.ID)
			return nil
		}); err != nil {
			return err
		}
		for _, id := range ids {
			var spec domain.Specification
			if err := loadSpecification(txn, id, &spec); err != nil {
				return err
			}
			out = append(out, spec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list specifications: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return limit(out, filter.Limit), nil
}

func (s *Store) CreateAnalysis(ctx context.Context, analysis domain.Analysis) (domain.Analysis, bool, error) {
	if strings.TrimSpace(analysis.ID) == "" {
		analysis.ID = uuid.NewString()
	}
	analysis.Title = strings.TrimSpace(analysis.Title)
	if err := analysis.Validate(); err != nil {
		return domain.Analysis{}, false, err
	}
	if analysis.CreatedAt.IsZero() {
		analysis.CreatedAt = s.now()
	}

	var out domain.Analysis
	var created bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		created = false
		id, err := getString(txn, key(nsAnalysisTitle, analysis.Title))
		switch {
		case err == nil:
			return getJSON(txn, key(nsAnalysis, id), &out)
		case !errors.Is(err, repo.ErrNotFound):
			return err
		}
		if err := putJSON(txn, key(nsAnalysis, analysis.ID), analysis); err != nil {
			return err
		}
		if err := txn.Set(key(nsAnalysisTitle, analysis.Title), []byte(analysis.ID)); err != nil {
			return err
		}
		out = analysis
		created = true
		return nil
	})
	if err != nil {
		return domain.Analysis{}, false, fmt.Errorf("create analysis: %w", err)
	}
	return out, created, nil
}

func (s *Store) GetAnalysis(ctx context.Context, id string) (domain.Analysis, error) {
	var analysis domain.Analysis
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, key(nsAnalysis, strings.TrimSpace(id)), &analysis)
	})
	return analysis, err
}

func (s *Store) GetAnalysisByTitle(ctx context.Context, title string) (domain.Analysis, error) {
	var analysis domain.Analysis
	err := s.view(ctx, func(txn *badger.Txn) error {
		id, err := getString(txn, key(nsAnalysisTitle, strings.TrimSpace(title)))
		if err != nil {
			return err
		}
		return getJSON(txn, key(nsAnalysis, id), &analysis)
	})
	return analysis, err
}

func (s *Store) ListAnalyses(ctx context.Context, filter repo.AnalysisFilter) ([]domain.Analysis, error) {
	out := make([]domain.Analysis, 0)
	err := s.view(ctx, func(txn *badger.Txn) error {
		return scan(txn, prefix(nsAnalysis), false, func(_, v []byte) error {
			var analysis domain.Analysis
			if err := decode(v, &analysis); err != nil {
				return err
			}
			if c := strings.TrimSpace(filter.Category); c != "" && analysis.Category != c {
				return nil
			}
			out = append(out, analysis)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return limit(out, filter.Limit), nil
}

func (s *Store) CreateVersion(ctx context.Context, version domain.AnalysisVersion) (domain.AnalysisVersion, bool, error) {
	if strings.TrimSpace(version.ID) == "" {
		version.ID = uuid.NewString()
	}
	version.Title = domain.VersionTitle(version.Title)
	if err := version.Validate(); err != nil {
		return domain.AnalysisVersion{}, false, err
	}
	if version.CreatedAt.IsZero() {
		version.CreatedAt = s.now()
	}
	titleKey := key(nsVersionTitle, version.AnalysisID, version.Title)

	var out domain.AnalysisVersion
	var created bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		created = false
		id, err := getString(txn, titleKey)
		switch {
		case err == nil:
			return getJSON(txn, key(nsVersion, id), &out)
		case !errors.Is(err, repo.ErrNotFound):
			return err
		}
		for _, specID := range []string{version.InputSpecificationID, version.OutputSpecificationID} {
			if ok, err := exists(txn, key(nsSpecification, specID)); err != nil {
				return err
			} else if !ok {
				return fmt.Errorf("specification %s: %w", specID, repo.ErrNotFound)
			}
		}
		if err := putJSON(txn, key(nsVersion, version.ID), version); err != nil {
			return err
		}
		if err := txn.Set(titleKey, []byte(version.ID)); err != nil {
			return err
		}
		out = version
		created = true
		return nil
	})
	if err != nil {
		return domain.AnalysisVersion{}, false, fmt.Errorf("create analysis version: %w", err)
	}
	return out, created, nil
}

func (s *Store) GetVersion(ctx context.Context, id string) (domain.AnalysisVersion, error) {
	var version domain.AnalysisVersion
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, key(nsVersion, strings.TrimSpace(id)), &version)
	})
	return version, err
}

func (s *Store) GetVersionByTitle(ctx context.Context, analysisID, title string) (domain.AnalysisVersion, error) {
	var version domain.AnalysisVersion
	err := s.view(ctx, func(txn *badger.Txn) error {
		id, err := getString(txn, key(nsVersionTitle, strings.TrimSpace(analysisID), domain.VersionTitle(title)))
		if err != nil {
			return err
		}
		return getJSON(txn, key(nsVersion, id), &version)
	})
	return version, err
}

func (s *Store) ListVersions(ctx context.Context, analysisID string) ([]domain.AnalysisVersion, error) {
	analysisID = strings.TrimSpace(analysisID)
	out := make([]domain.AnalysisVersion, 0)
	err := s.view(ctx, func(txn *badger.Txn) error {
		return scan(txn, prefix(nsVersionTitle, analysisID), false, func(_, v []byte) error {
			var version domain.AnalysisVersion
			if err := getJSON(txn, key(nsVersion, string(v)), &version); err != nil {
				return err
			}
			out = append(out, version)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list analysis versions: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Title < out[j].Title
	})
	return out, nil
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}
