package repo

import (
	"context"
	"time"

	"github.com/animus-labs/analyses-go/internal/domain"
)

type DefinitionFilter struct {
	Key       string
	Direction domain.Direction
	Limit     int
}

type SpecificationFilter struct {
	AnalysisID string
	Direction  domain.Direction
	Limit      int
}

type AnalysisFilter struct {
	Category string
	Limit    int
}

type RunFilter struct {
	AnalysisVersionID string
	ConfigurationHash string
	Status            domain.RunStatus
	Limit             int
}

type PipelineFilter struct {
	Title string
	Limit int
}

// SpecificationCandidate is a specification sharing at least one member with
// a requested definition set.
type SpecificationCandidate struct {
	SpecificationID string
	MemberCount     int
	Overlap         int
}

// DefinitionRepository stores content-addressed definitions.
type DefinitionRepository interface {
	// CreateDefinition inserts def under fingerprint. An identical definition
	// already on file is returned with created=false.
	CreateDefinition(ctx context.Context, def domain.Definition, fingerprint string) (domain.Definition, bool, error)
	GetDefinition(ctx context.Context, id string) (domain.Definition, error)
	GetDefinitions(ctx context.Context, ids []string) ([]domain.Definition, error)
	ListDefinitions(ctx context.Context, filter DefinitionFilter) ([]domain.Definition, error)
}

// SpecificationRepository stores definition sets bound to an analysis.
type SpecificationRepository interface {
	FindSpecificationCandidates(ctx context.Context, analysisID string, direction domain.Direction, definitionIDs []string) ([]SpecificationCandidate, error)
	// CreateSpecification inserts spec unless a specification with the same
	// analysis, direction and member set exists, which is returned instead.
	CreateSpecification(ctx context.Context, spec domain.Specification) (domain.Specification, bool, error)
	GetSpecification(ctx context.Context, id string) (domain.Specification, error)
	ListSpecifications(ctx context.Context, filter SpecificationFilter) ([]domain.Specification, error)
}

// AnalysisRepository manages analyses and their versions.
type AnalysisRepository interface {
	CreateAnalysis(ctx context.Context, analysis domain.Analysis) (domain.Analysis, bool, error)
	GetAnalysis(ctx context.Context, id string) (domain.Analysis, error)
	GetAnalysisByTitle(ctx context.Context, title string) (domain.Analysis, error)
	ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]domain.Analysis, error)

	CreateVersion(ctx context.Context, version domain.AnalysisVersion) (domain.AnalysisVersion, bool, error)
	GetVersion(ctx context.Context, id string) (domain.AnalysisVersion, error)
	GetVersionByTitle(ctx context.Context, analysisID, title string) (domain.AnalysisVersion, error)
	ListVersions(ctx context.Context, analysisID string) ([]domain.AnalysisVersion, error)
}

// RunRepository manages memoized runs. At most one non-failed run may exist
// per (analysis version, configuration hash).
type RunRepository interface {
	// FindRun returns the latest non-failed run for the version and hash.
	FindRun(ctx context.Context, versionID, configurationHash string) (domain.Run, error)
	NextRunAttempt(ctx context.Context, versionID, configurationHash string) (int, error)
	// CreateRun persists a pending run with its input instances. It returns
	// ErrConflict when a non-failed run for the same key already exists.
	CreateRun(ctx context.Context, run domain.Run) error
	GetRun(ctx context.Context, id string) (domain.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]domain.Run, error)
	UpdateRunStatus(ctx context.Context, id string, status domain.RunStatus) error
	CompleteRun(ctx context.Context, id string, outputs []domain.Instance, endedAt time.Time) error
	FailRun(ctx context.Context, id string, runErr domain.RunError, endedAt time.Time) error
}

// PipelineRepository manages pipelines with their nodes and pipes.
type PipelineRepository interface {
	// CreatePipeline persists the pipeline, its pipes and any nodes not yet on
	// file. A pipeline with the same title is returned with created=false.
	CreatePipeline(ctx context.Context, pipeline domain.Pipeline) (domain.Pipeline, bool, error)
	GetPipeline(ctx context.Context, id string) (domain.Pipeline, error)
	GetPipelineByTitle(ctx context.Context, title string) (domain.Pipeline, error)
	ListPipelines(ctx context.Context, filter PipelineFilter) ([]domain.Pipeline, error)
	GetNode(ctx context.Context, id string) (domain.Node, error)
}

// Store bundles every repository behind one backend.
type Store struct {
	Definitions    DefinitionRepository
	Specifications SpecificationRepository
	Analyses       AnalysisRepository
	Runs           RunRepository
	Pipelines      PipelineRepository

	Ping  func(ctx context.Context) error
	Close func() error
}
