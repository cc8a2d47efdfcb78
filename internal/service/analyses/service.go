// Package analyses manages analyses and their versions.
//
// A version binds an input and an output specification to an entry point.
// Versions are addressed by (analysis, title); the title defaults to "1.0.0".
// Re-declaring a version with the same specifications and entry point is a
// no-op, declaring it differently is a conflict.
package analyses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/animus-labs/analyses-go/internal/domain"
	"github.com/animus-labs/analyses-go/internal/repo"
	"github.com/animus-labs/analyses-go/internal/service/specifications"
)

type Service struct {
	analyses repo.AnalysisRepository
	specs    repo.SpecificationRepository
	matcher  *specifications.Matcher
	logger   *slog.Logger
}

// VersionInput declares a version by its definitions; the specifications are
// matched or created from them.
type VersionInput struct {
	Title       string
	Description string
	EntryPoint  string
	Inputs      []domain.Definition
	Outputs     []domain.Definition
}

// Version is an analysis version together with its resolved specifications.
type Version struct {
	domain.AnalysisVersion
	Input  domain.Specification
	Output domain.Specification
}

func New(analyses repo.AnalysisRepository, specs repo.SpecificationRepository, matcher *specifications.Matcher, logger *slog.Logger) *Service {
	if analyses == nil || specs == nil || matcher == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{analyses: analyses, specs: specs, matcher: matcher, logger: logger}
}

func (s *Service) CreateAnalysis(ctx context.Context, analysis domain.Analysis) (domain.Analysis, bool, error) {
	if s == nil {
		return domain.Analysis{}, false, errors.New("analysis service not initialized")
	}
	analysis.Title = strings.TrimSpace(analysis.Title)
	if analysis.Title == "" {
		return domain.Analysis{}, false, errors.New("analysis title is required")
	}
	out, created, err := s.analyses.CreateAnalysis(ctx, analysis)
	if err != nil {
		return domain.Analysis{}, false, err
	}
	if created {
		s.logger.Info("analysis created", "analysis_id", out.ID, "title", out.Title)
	}
	return out, created, nil
}

// CreateVersion matches the input and output specifications of in and binds
// them to a version of analysisID.
func (s *Service) CreateVersion(ctx context.Context, analysisID string, in VersionInput) (Version, bool, error) {
	if s == nil {
		return Version{}, false, errors.New("analysis service not initialized")
	}
	analysis, err := s.analyses.GetAnalysis(ctx, analysisID)
	if err != nil {
		return Version{}, false, fmt.Errorf("analysis %s: %w", analysisID, err)
	}
	entryPoint := strings.TrimSpace(in.EntryPoint)
	if entryPoint == "" {
		return Version{}, false, errors.New("entry point is required")
	}

	inputSpec, _, err := s.matcher.MatchOrCreate(ctx, analysis.ID, domain.DirectionInput, in.Inputs)
	if err != nil {
		return Version{}, false, fmt.Errorf("input specification: %w", err)
	}
	outputSpec, _, err := s.matcher.MatchOrCreate(ctx, analysis.ID, domain.DirectionOutput, in.Outputs)
	if err != nil {
		return Version{}, false, fmt.Errorf("output specification: %w", err)
	}

	version, created, err := s.analyses.CreateVersion(ctx, domain.AnalysisVersion{
		AnalysisID:            analysis.ID,
		Title:                 domain.VersionTitle(in.Title),
		Description:           strings.TrimSpace(in.Description),
		InputSpecificationID:  inputSpec.ID,
		OutputSpecificationID: outputSpec.ID,
		EntryPoint:            entryPoint,
	})
	if err != nil {
		return Version{}, false, err
	}
	if !created && (version.InputSpecificationID != inputSpec.ID ||
		version.OutputSpecificationID != outputSpec.ID ||
		version.EntryPoint != entryPoint) {
		return Version{}, false, fmt.Errorf("version %s of %s is already defined differently: %w", version.Title, analysis.Title, repo.ErrConflict)
	}
	if created {
		s.logger.Info("analysis version created",
			"analysis_id", analysis.ID,
			"analysis_version_id", version.ID,
			"title", version.Title,
			"entry_point", version.EntryPoint,
		)
	}
	return Version{AnalysisVersion: version, Input: inputSpec, Output: outputSpec}, created, nil
}

// GetVersion loads a version with both specifications.
func (s *Service) GetVersion(ctx context.Context, id string) (Version, error) {
	if s == nil {
		return Version{}, errors.New("analysis service not initialized")
	}
	version, err := s.analyses.GetVersion(ctx, id)
	if err != nil {
		return Version{}, err
	}
	return s.expand(ctx, version)
}

// GetVersionByTitle resolves a version of analysisID; a blank title selects
// the default version.
func (s *Service) GetVersionByTitle(ctx context.Context, analysisID, title string) (Version, error) {
	if s == nil {
		return Version{}, errors.New("analysis service not initialized")
	}
	version, err := s.analyses.GetVersionByTitle(ctx, analysisID, domain.VersionTitle(title))
	if err != nil {
		return Version{}, err
	}
	return s.expand(ctx, version)
}

// Resolve finds a version by analysis title and version title.
func (s *Service) Resolve(ctx context.Context, analysisTitle, versionTitle string) (Version, error) {
	if s == nil {
		return Version{}, errors.New("analysis service not initialized")
	}
	analysis, err := s.analyses.GetAnalysisByTitle(ctx, analysisTitle)
	if err != nil {
		return Version{}, fmt.Errorf("analysis %q: %w", analysisTitle, err)
	}
	return s.GetVersionByTitle(ctx, analysis.ID, versionTitle)
}

func (s *Service) expand(ctx context.Context, version domain.AnalysisVersion) (Version, error) {
	in, err := s.specs.GetSpecification(ctx, version.InputSpecificationID)
	if err != nil {
		return Version{}, fmt.Errorf("input specification %s: %w", version.InputSpecificationID, err)
	}
	out, err := s.specs.GetSpecification(ctx, version.OutputSpecificationID)
	if err != nil {
		return Version{}, fmt.Errorf("output specification %s: %w", version.OutputSpecificationID, err)
	}
	return Version{AnalysisVersion: version, Input: in, Output: out}, nil
}

func (s *Service) GetAnalysis(ctx context.Context, id string) (domain.Analysis, error) {
	if s == nil {
		return domain.Analysis{}, errors.New("analysis service not initialized")
	}
	return s.analyses.GetAnalysis(ctx, id)
}

func (s *Service) GetAnalysisByTitle(ctx context.Context, title string) (domain.Analysis, error) {
	if s == nil {
		return domain.Analysis{}, errors.New("analysis service not initialized")
	}
	return s.analyses.GetAnalysisByTitle(ctx, title)
}

func (s *Service) ListAnalyses(ctx context.Context, filter repo.AnalysisFilter) ([]domain.Analysis, error) {
	if s == nil {
		return nil, errors.New("analysis service not initialized")
	}
	return s.analyses.ListAnalyses(ctx, filter)
}

func (s *Service) ListVersions(ctx context.Context, analysisID string) ([]domain.AnalysisVersion, error) {
	if s == nil {
		return nil, errors.New("analysis service not initialized")
	}
	return s.analyses.ListVersions(ctx, analysisID)
}

// Matcher exposes the specification matcher the service was built with.
func (s *Service) Matcher() *specifications.Matcher {
	if s == nil {
		return nil
	}
	return s.matcher
}
