package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/analyses-go/internal/domain"
	"github.com/animus-labs/analyses-go/internal/execution/executor"
	"github.com/animus-labs/analyses-go/internal/execution/executor/command"
	"github.com/animus-labs/analyses-go/internal/service/analyses"
	"github.com/animus-labs/analyses-go/internal/service/pipelines"
)

// nodeNamespace derives stable node ids from pipeline title and node name.
var nodeNamespace = uuid.MustParse("6f1c8f2e-58a4-4d0c-9a53-1d2b7e0c4a11")

// Report counts what Apply created.
type Report struct {
	Analyses  int `json:"analyses"`
	Versions  int `json:"versions"`
	Pipelines int `json:"pipelines"`
}

// Apply registers every analysis, version and pipeline of c. Pipelines may
// reference analyses already stored outside the catalog.
func Apply(ctx context.Context, c Catalog, analysisSvc *analyses.Service, pipelineSvc *pipelines.Service) (Report, error) {
	if analysisSvc == nil {
		return Report{}, errors.New("analysis service is required")
	}
	var report Report
	for _, a := range c.Analyses {
		analysis, created, err := analysisSvc.CreateAnalysis(ctx, domain.Analysis{
			Title:       a.Title,
			Description: a.Description,
			Category:    a.Category,
		})
		if err != nil {
			return report, fmt.Errorf("analysis %q: %w", a.Title, err)
		}
		if created {
			report.Analyses++
		}
		for _, v := range a.Versions {
			inputs, err := Definitions(v.Inputs, domain.DirectionInput)
			if err != nil {
				return report, fmt.Errorf("analysis %q inputs: %w", a.Title, err)
			}
			outputs, err := Definitions(v.Outputs, domain.DirectionOutput)
			if err != nil {
				return report, fmt.Errorf("analysis %q outputs: %w", a.Title, err)
			}
			_, created, err := analysisSvc.CreateVersion(ctx, analysis.ID, analyses.VersionInput{
				Title:       v.Title,
				Description: v.Description,
				EntryPoint:  v.EntryPoint,
				Inputs:      inputs,
				Outputs:     outputs,
			})
			if err != nil {
				return report, fmt.Errorf("analysis %q version %s: %w", a.Title, domain.VersionTitle(v.Title), err)
			}
			if created {
				report.Versions++
			}
		}
	}

	if len(c.Pipelines) > 0 && pipelineSvc == nil {
		return report, errors.New("pipeline service is required")
	}
	for _, p := range c.Pipelines {
		pipeline, err := buildPipeline(ctx, p, analysisSvc)
		if err != nil {
			return report, fmt.Errorf("pipeline %q: %w", p.Title, err)
		}
		_, created, err := pipelineSvc.Create(ctx, pipeline)
		if err != nil {
			return report, fmt.Errorf("pipeline %q: %w", p.Title, err)
		}
		if created {
			report.Pipelines++
		}
	}
	return report, nil
}

func buildPipeline(ctx context.Context, p Pipeline, analysisSvc *analyses.Service) (domain.Pipeline, error) {
	title := strings.TrimSpace(p.Title)
	out := domain.Pipeline{Title: title, Description: p.Description}
	ids := make(map[string]string, len(p.Nodes))
	for _, n := range p.Nodes {
		version, err := analysisSvc.Resolve(ctx, n.Analysis, n.Version)
		if err != nil {
			return domain.Pipeline{}, fmt.Errorf("node %s: %w", n.Name, err)
		}
		id := NodeID(title, n.Name)
		ids[n.Name] = id
		out.Nodes = append(out.Nodes, domain.Node{
			ID:                id,
			Name:              n.Name,
			AnalysisVersionID: version.ID,
			Configuration:     n.Configuration,
		})
	}
	for _, pipe := range p.Pipes {
		from, fromPort, err := splitEndpoint(pipe.From)
		if err != nil {
			return domain.Pipeline{}, err
		}
		to, toPort, err := splitEndpoint(pipe.To)
		if err != nil {
			return domain.Pipeline{}, err
		}
		out.Pipes = append(out.Pipes, domain.Pipe{
			SourceID:        ids[from],
			SourcePort:      fromPort,
			DestinationID:   ids[to],
			DestinationPort: toPort,
		})
	}
	return out, nil
}

// NodeID is the stable id of a named node within a pipeline.
func NodeID(pipelineTitle, nodeName string) string {
	return uuid.NewSHA1(nodeNamespace, []byte(strings.TrimSpace(pipelineTitle)+"/"+strings.TrimSpace(nodeName))).String()
}

// RegisterCommands binds every version with a command block to a command
// invoker in reg. Commands without their own timeout get defaultTimeout.
func RegisterCommands(c Catalog, reg *executor.Registry, defaultTimeout time.Duration) error {
	for _, a := range c.Analyses {
		for _, v := range a.Versions {
			if v.Command == nil {
				continue
			}
			timeout := v.Command.Timeout
			if timeout == 0 {
				timeout = defaultTimeout
			}
			inv, err := command.New(command.Config{
				Command:       v.Command.Path,
				Args:          v.Command.Args,
				RequiredFiles: v.Command.RequiredFiles,
				Env:           v.Command.Env,
				Dir:           v.Command.Dir,
				Timeout:       timeout,
			})
			if err != nil {
				return fmt.Errorf("entry point %s: %w", v.EntryPoint, err)
			}
			if err := reg.Register(v.EntryPoint, inv); err != nil {
				return err
			}
		}
	}
	return nil
}
