// Package pipelines builds and executes pipelines of analysis nodes.
//
// A pipeline is executed in dependency order. Each node resolves its inputs
// from, lowest precedence first, its pinned configuration, the caller's
// inputs for that node and the outputs piped in from upstream nodes, then
// runs through the run memoizer. A node whose upstream did not succeed is
// skipped; a node still missing a required input is blocked.
package pipelines

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/animus-labs/analyses-go/internal/domain"
	"github.com/animus-labs/analyses-go/internal/execution/executor"
	"github.com/animus-labs/analyses-go/internal/execution/graph"
	"github.com/animus-labs/analyses-go/internal/metrics"
	"github.com/animus-labs/analyses-go/internal/repo"
	"github.com/animus-labs/analyses-go/internal/service/runs"
	"github.com/animus-labs/analyses-go/internal/validation"
)

// Node statuses beyond the run statuses.
const (
	StatusSkipped = "skipped"
	StatusBlocked = "blocked"
)

type Service struct {
	pipelines repo.PipelineRepository
	analyses  repo.AnalysisRepository
	specs     repo.SpecificationRepository
	runs      *runs.Memoizer
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NodeResult reports what happened to one node during Execute.
type NodeResult struct {
	NodeID string `json:"node_id"`
	Name   string `json:"name,omitempty"`
	RunID  string `json:"run_id,omitempty"`
	Status string `json:"status"`
	Reused bool   `json:"reused"`
	Error  string `json:"error,omitempty"`
}

type Execution struct {
	PipelineID string       `json:"pipeline_id"`
	Nodes      []NodeResult `json:"nodes"`
}

// Succeeded reports whether every node of the node set succeeded.
func (e Execution) Succeeded() bool {
	for _, n := range e.Nodes {
		if n.Status != string(domain.RunStatusSucceeded) {
			return false
		}
	}
	return true
}

func New(pipelines repo.PipelineRepository, analyses repo.AnalysisRepository, specs repo.SpecificationRepository, memoizer *runs.Memoizer, mt *metrics.Metrics, logger *slog.Logger) *Service {
	if pipelines == nil || analyses == nil || specs == nil || memoizer == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{pipelines: pipelines, analyses: analyses, specs: specs, runs: memoizer, metrics: mt, logger: logger}
}

// Create validates the pipeline graph, its ports and pinned node
// configuration, then stores it. Redeclaring a stored title with the same
// nodes and pipes returns the stored pipeline; any difference, or reusing a
// stored node id with another version or configuration, is repo.ErrConflict.
func (s *Service) Create(ctx context.Context, p domain.Pipeline) (domain.Pipeline, bool, error) {
	if s == nil {
		return domain.Pipeline{}, false, errors.New("pipeline service not initialized")
	}
	p.Title = strings.TrimSpace(p.Title)
	if p.Title != "" {
		existing, err := s.pipelines.GetPipelineByTitle(ctx, p.Title)
		switch {
		case err == nil:
			adoptNodeIDs(existing, &p)
			if !sameDeclaration(existing, p) {
				return domain.Pipeline{}, false, fmt.Errorf("pipeline %q already exists with different nodes or pipes: %w", p.Title, repo.ErrConflict)
			}
			return existing, false, nil
		case !errors.Is(err, repo.ErrNotFound):
			return domain.Pipeline{}, false, fmt.Errorf("pipeline %q: %w", p.Title, err)
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	for i := range p.Nodes {
		if strings.TrimSpace(p.Nodes[i].ID) == "" {
			p.Nodes[i].ID = uuid.NewString()
		}
	}
	if err := graph.Validate(p); err != nil {
		return domain.Pipeline{}, false, err
	}

	ports := &graph.ValidationError{}
	specsByNode := make(map[string]nodeSpecs, len(p.Nodes))
	for _, node := range p.Nodes {
		ns, err := s.nodeSpecs(ctx, node)
		if err != nil {
			return domain.Pipeline{}, false, err
		}
		specsByNode[node.ID] = ns
		if err := validation.CheckPartial(ns.input.Definitions, node.Configuration); err != nil {
			ports.Add(fmt.Sprintf("node %s configuration: %v", nodeLabel(node), err))
		}
	}
	for _, pipe := range p.Pipes {
		src, ok := specsByNode[pipe.SourceID].output.DefinitionByKey(pipe.SourcePort)
		if !ok {
			ports.Add(fmt.Sprintf("node %s has no output %q", pipe.SourceID, pipe.SourcePort))
			continue
		}
		dst, ok := specsByNode[pipe.DestinationID].input.DefinitionByKey(pipe.DestinationPort)
		if !ok {
			ports.Add(fmt.Sprintf("node %s has no input %q", pipe.DestinationID, pipe.DestinationPort))
			continue
		}
		if !assignable(src, dst) {
			ports.Add(fmt.Sprintf("pipe %s.%s -> %s.%s: %s is not assignable to %s",
				pipe.SourceID, pipe.SourcePort, pipe.DestinationID, pipe.DestinationPort, kindLabel(src), kindLabel(dst)))
		}
	}
	if err := ports.OrNil(); err != nil {
		return domain.Pipeline{}, false, err
	}
	for _, node := range p.Nodes {
		stored, err := s.pipelines.GetNode(ctx, node.ID)
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			return domain.Pipeline{}, false, fmt.Errorf("node %s: %w", nodeLabel(node), err)
		}
		if !sameNode(stored, node) {
			return domain.Pipeline{}, false, fmt.Errorf("node %s already exists with a different version or configuration: %w", nodeLabel(node), repo.ErrConflict)
		}
	}

	out, created, err := s.pipelines.CreatePipeline(ctx, p)
	if err != nil {
		return domain.Pipeline{}, false, err
	}
	if created {
		s.logger.Info("pipeline created",
			"pipeline_id", out.ID,
			"title", out.Title,
			"nodes", len(out.Nodes),
			"pipes", len(out.Pipes),
		)
	}
	return out, created, nil
}

// adoptNodeIDs gives requested nodes without an id the id of the stored node
// with the same name and version.
func adoptNodeIDs(stored domain.Pipeline, p *domain.Pipeline) {
	taken := make(map[string]bool, len(p.Nodes))
	for _, n := range p.Nodes {
		if id := strings.TrimSpace(n.ID); id != "" {
			taken[id] = true
		}
	}
	for i := range p.Nodes {
		if strings.TrimSpace(p.Nodes[i].ID) != "" {
			continue
		}
		for _, n := range stored.Nodes {
			if !taken[n.ID] && n.Name == p.Nodes[i].Name && n.AnalysisVersionID == p.Nodes[i].AnalysisVersionID {
				p.Nodes[i].ID = n.ID
				taken[n.ID] = true
				break
			}
		}
	}
}

func sameDeclaration(stored, requested domain.Pipeline) bool {
	if len(stored.Nodes) != len(requested.Nodes) || len(stored.Pipes) != len(requested.Pipes) {
		return false
	}
	nodes := make(map[string]domain.Node, len(stored.Nodes))
	for _, n := range stored.Nodes {
		nodes[n.ID] = n
	}
	for _, n := range requested.Nodes {
		got, ok := nodes[strings.TrimSpace(n.ID)]
		if !ok || !sameNode(got, n) {
			return false
		}
	}
	pipes := make(map[string]struct{}, len(stored.Pipes))
	for _, pipe := range stored.Pipes {
		pipes[pipeKey(pipe)] = struct{}{}
	}
	for _, pipe := range requested.Pipes {
		if _, ok := pipes[pipeKey(pipe)]; !ok {
			return false
		}
	}
	return true
}

func pipeKey(p domain.Pipe) string {
	return strings.Join([]string{p.SourceID, p.SourcePort, p.DestinationID, p.DestinationPort}, "\x00")
}

func sameNode(stored, requested domain.Node) bool {
	if stored.AnalysisVersionID != requested.AnalysisVersionID {
		return false
	}
	a, ok := canonicalConfiguration(stored.Configuration)
	if !ok {
		return false
	}
	b, ok := canonicalConfiguration(requested.Configuration)
	return ok && a == b
}

// canonicalConfiguration encodes raw pinned values the way they read back
// from the store, so 12, 12.0 and json.Number("12") compare equal.
func canonicalConfiguration(raw map[string]any) (string, bool) {
	if raw == nil {
		raw = map[string]any{}
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return "", false
	}
	var decoded any
	if err := json.Unmarshal(b, &decoded); err != nil {
		return "", false
	}
	b, err = json.Marshal(decoded)
	if err != nil {
		return "", false
	}
	return string(b), true
}

type nodeSpecs struct {
	input  domain.Specification
	output domain.Specification
}

func (s *Service) nodeSpecs(ctx context.Context, node domain.Node) (nodeSpecs, error) {
	version, err := s.analyses.GetVersion(ctx, node.AnalysisVersionID)
	if err != nil {
		return nodeSpecs{}, fmt.Errorf("node %s version %s: %w", nodeLabel(node), node.AnalysisVersionID, err)
	}
	in, err := s.specs.GetSpecification(ctx, version.InputSpecificationID)
	if err != nil {
		return nodeSpecs{}, fmt.Errorf("node %s input specification: %w", nodeLabel(node), err)
	}
	out, err := s.specs.GetSpecification(ctx, version.OutputSpecificationID)
	if err != nil {
		return nodeSpecs{}, fmt.Errorf("node %s output specification: %w", nodeLabel(node), err)
	}
	return nodeSpecs{input: in, output: out}, nil
}

// assignable reports whether an output of src can feed an input of dst.
// Integers widen to floats, element-wise for lists.
func assignable(src, dst domain.Definition) bool {
	if src.Kind == domain.KindList || dst.Kind == domain.KindList {
		if src.Kind != dst.Kind {
			return false
		}
		return assignable(src.Element(), dst.Element())
	}
	if src.Kind == dst.Kind {
		return true
	}
	return src.Kind == domain.KindInteger && dst.Kind == domain.KindFloat
}

// convert adapts a piped value to the destination kind.
func convert(v domain.Value, dst domain.Definition) domain.Value {
	switch {
	case v.Kind == domain.KindInteger && dst.Kind == domain.KindFloat:
		return domain.FloatValue(float64(v.Integer))
	case v.Kind == domain.KindList && dst.Kind == domain.KindList:
		items := make([]domain.Value, 0, len(v.List))
		for _, item := range v.List {
			items = append(items, convert(item, dst.Element()))
		}
		return domain.ListValue(items...)
	default:
		return v
	}
}

func kindLabel(def domain.Definition) string {
	if def.Kind == domain.KindList {
		return "list of " + string(def.ElementKind)
	}
	return string(def.Kind)
}

func nodeLabel(node domain.Node) string {
	if node.Name != "" {
		return node.Name
	}
	return node.ID
}

// Execute runs the pipeline. inputs maps a node id or name to the caller's
// raw inputs for that node. Per-node failures are reported in the result;
// the error is reserved for problems that stop the traversal.
func (s *Service) Execute(ctx context.Context, pipelineID string, inputs map[string]map[string]any) (Execution, error) {
	if s == nil {
		return Execution{}, errors.New("pipeline service not initialized")
	}
	p, err := s.pipelines.GetPipeline(ctx, pipelineID)
	if err != nil {
		return Execution{}, err
	}
	order, err := graph.Order(p)
	if err != nil {
		return Execution{}, err
	}
	callerInputs, err := inputsByNode(p, order, inputs)
	if err != nil {
		return Execution{}, err
	}

	exec := Execution{PipelineID: p.ID, Nodes: make([]NodeResult, 0, len(order))}
	results := make(map[string]NodeResult, len(order))
	outputs := make(map[string]domain.Configuration, len(order))

	for _, node := range order {
		res := s.executeNode(ctx, p, node, callerInputs[node.ID], results, outputs)
		if res.err != nil {
			return exec, res.err
		}
		results[node.ID] = res.NodeResult
		exec.Nodes = append(exec.Nodes, res.NodeResult)
		s.metrics.PipelineNode(res.Status)
	}

	s.logger.Info("pipeline executed",
		"pipeline_id", p.ID,
		"nodes", len(exec.Nodes),
		"succeeded", exec.Succeeded(),
	)
	return exec, nil
}

type nodeOutcome struct {
	NodeResult
	err error
}

func (s *Service) executeNode(ctx context.Context, p domain.Pipeline, node domain.Node, caller map[string]any, done map[string]NodeResult, outputs map[string]domain.Configuration) nodeOutcome {
	res := NodeResult{NodeID: node.ID, Name: node.Name}
	incoming := graph.Incoming(p, node.ID)
	for _, pipe := range incoming {
		if up := done[pipe.SourceID]; up.Status != string(domain.RunStatusSucceeded) {
			res.Status = StatusSkipped
			res.Error = fmt.Sprintf("upstream node %s is %s", pipe.SourceID, up.Status)
			return nodeOutcome{NodeResult: res}
		}
	}

	ns, err := s.nodeSpecs(ctx, node)
	if err != nil {
		return nodeOutcome{err: err}
	}

	raw := make(map[string]any, len(node.Configuration)+len(caller)+len(incoming))
	for k, v := range node.Configuration {
		raw[k] = v
	}
	for k, v := range caller {
		raw[k] = v
	}
	for _, pipe := range incoming {
		v, ok := outputs[pipe.SourceID][pipe.SourcePort]
		if !ok {
			continue
		}
		dst, _ := ns.input.DefinitionByKey(pipe.DestinationPort)
		raw[pipe.DestinationPort] = convert(v, dst)
	}
	if missing := missingRequired(ns.input, raw); len(missing) > 0 {
		res.Status = StatusBlocked
		res.Error = "missing required inputs: " + strings.Join(missing, ", ")
		return nodeOutcome{NodeResult: res}
	}

	run, err := s.runs.GetOrExecute(ctx, node.AnalysisVersionID, raw)
	res.RunID = run.Run.ID
	res.Reused = run.Reused
	var execErr *executor.ExecutionError
	switch {
	case err == nil:
		res.Status = string(run.Run.Status)
		if run.Run.Status == domain.RunStatusSucceeded {
			outputs[node.ID] = run.Run.Results()
		}
	case errors.As(err, &execErr), validation.IsValidation(err):
		res.Status = string(domain.RunStatusFailed)
		res.Error = err.Error()
	default:
		return nodeOutcome{err: fmt.Errorf("node %s: %w", nodeLabel(node), err)}
	}
	return nodeOutcome{NodeResult: res}
}

func missingRequired(spec domain.Specification, raw map[string]any) []string {
	missing := make([]string, 0)
	for _, def := range spec.Definitions {
		if !def.Required || def.Default != nil {
			continue
		}
		if v, ok := raw[def.Key]; !ok || v == nil {
			missing = append(missing, def.Key)
		}
	}
	return missing
}

func inputsByNode(p domain.Pipeline, order []domain.Node, inputs map[string]map[string]any) (map[string]map[string]any, error) {
	members := make(map[string]struct{}, len(order))
	for _, node := range order {
		members[node.ID] = struct{}{}
	}
	out := make(map[string]map[string]any, len(inputs))
	for ref, raw := range inputs {
		node, ok := p.NodeByName(ref)
		if !ok {
			return nil, fmt.Errorf("inputs reference unknown node %q: %w", ref, repo.ErrNotFound)
		}
		if _, ok := members[node.ID]; !ok {
			return nil, fmt.Errorf("node %q is not connected to the pipeline", ref)
		}
		merged := out[node.ID]
		if merged == nil {
			merged = make(map[string]any, len(raw))
			out[node.ID] = merged
		}
		for k, v := range raw {
			merged[k] = v
		}
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.Pipeline, error) {
	if s == nil {
		return domain.Pipeline{}, errors.New("pipeline service not initialized")
	}
	return s.pipelines.GetPipeline(ctx, id)
}

func (s *Service) GetByTitle(ctx context.Context, title string) (domain.Pipeline, error) {
	if s == nil {
		return domain.Pipeline{}, errors.New("pipeline service not initialized")
	}
	return s.pipelines.GetPipelineByTitle(ctx, title)
}

func (s *Service) List(ctx context.Context, filter repo.PipelineFilter) ([]domain.Pipeline, error) {
	if s == nil {
		return nil, errors.New("pipeline service not initialized")
	}
	return s.pipelines.ListPipelines(ctx, filter)
}

// EntryNodes returns the nodes of the pipeline that no pipe feeds.
func (s *Service) EntryNodes(ctx context.Context, id string) ([]domain.Node, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return graph.EntryNodes(p), nil
}

// NodeSet returns the nodes connected by at least one pipe.
func (s *Service) NodeSet(ctx context.Context, id string) ([]domain.Node, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return graph.NodeSet(p), nil
}
