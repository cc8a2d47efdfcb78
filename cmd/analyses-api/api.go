package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/animus-labs/analyses-go/internal/catalog"
	"github.com/animus-labs/analyses-go/internal/domain"
	"github.com/animus-labs/analyses-go/internal/engine"
	"github.com/animus-labs/analyses-go/internal/execution/executor"
	"github.com/animus-labs/analyses-go/internal/execution/graph"
	"github.com/animus-labs/analyses-go/internal/platform/auditlog"
	"github.com/animus-labs/analyses-go/internal/platform/httpserver"
	"github.com/animus-labs/analyses-go/internal/repo"
	"github.com/animus-labs/analyses-go/internal/service/analyses"
	"github.com/animus-labs/analyses-go/internal/service/specifications"
	"github.com/animus-labs/analyses-go/internal/validation"
)

type analysesAPI struct {
	logger *slog.Logger
	engine *engine.Engine
}

func newAnalysesAPI(logger *slog.Logger, e *engine.Engine) *analysesAPI {
	return &analysesAPI{logger: logger, engine: e}
}

func (api *analysesAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /analyses", api.handleCreateAnalysis)
	mux.HandleFunc("GET /analyses", api.handleListAnalyses)
	mux.HandleFunc("GET /analyses/{analysis_id}", api.handleGetAnalysis)

	mux.HandleFunc("POST /analyses/{analysis_id}/versions", api.handleCreateVersion)
	mux.HandleFunc("GET /analyses/{analysis_id}/versions", api.handleListVersions)
	mux.HandleFunc("GET /analyses/{analysis_id}/versions/{title}", api.handleGetVersion)
	mux.HandleFunc("POST /analyses/{analysis_id}/specifications/match", api.handleMatchSpecification)

	mux.HandleFunc("POST /versions/{version_id}/runs", api.handleGetOrExecute)
	mux.HandleFunc("GET /runs", api.handleListRuns)
	mux.HandleFunc("GET /runs/{run_id}", api.handleGetRun)
	mux.HandleFunc("GET /runs/{run_id}/outputs/{key}", api.handleGetRunOutput)

	mux.HandleFunc("POST /pipelines", api.handleCreatePipeline)
	mux.HandleFunc("GET /pipelines", api.handleListPipelines)
	mux.HandleFunc("GET /pipelines/{pipeline_id}", api.handleGetPipeline)
	mux.HandleFunc("GET /pipelines/{pipeline_id}/entry-nodes", api.handleEntryNodes)
	mux.HandleFunc("POST /pipelines/{pipeline_id}/execute", api.handleExecutePipeline)
}

type analysis struct {
	AnalysisID  string    `json:"analysis_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type definition struct {
	DefinitionID  string   `json:"definition_id"`
	Key           string   `json:"key"`
	Kind          string   `json:"kind"`
	ElementKind   string   `json:"element_kind,omitempty"`
	Required      bool     `json:"required"`
	Configuration bool     `json:"configuration,omitempty"`
	Description   string   `json:"description,omitempty"`
	Default       any      `json:"default,omitempty"`
	Min           *float64 `json:"min,omitempty"`
	Max           *float64 `json:"max,omitempty"`
	Choices       []string `json:"choices,omitempty"`
}

type specification struct {
	SpecificationID string       `json:"specification_id"`
	AnalysisID      string       `json:"analysis_id"`
	Direction       string       `json:"direction"`
	Definitions     []definition `json:"definitions"`
}

type version struct {
	VersionID   string        `json:"version_id"`
	AnalysisID  string        `json:"analysis_id"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	EntryPoint  string        `json:"entry_point"`
	Inputs      specification `json:"inputs"`
	Outputs     specification `json:"outputs"`
	CreatedAt   time.Time     `json:"created_at"`
}

type instance struct {
	Key       string `json:"key"`
	Kind      string `json:"kind"`
	Value     any    `json:"value"`
	ObjectKey string `json:"object_key,omitempty"`
}

type run struct {
	RunID             string           `json:"run_id"`
	VersionID         string           `json:"version_id"`
	ConfigurationHash string           `json:"configuration_hash"`
	Attempt           int              `json:"attempt"`
	Status            string           `json:"status"`
	Reused            bool             `json:"reused"`
	Inputs            []instance       `json:"inputs"`
	Outputs           []instance       `json:"outputs"`
	Error             *domain.RunError `json:"error,omitempty"`
	StartedAt         time.Time        `json:"started_at"`
	EndedAt           *time.Time       `json:"ended_at,omitempty"`
}

type node struct {
	NodeID        string         `json:"node_id"`
	Name          string         `json:"name,omitempty"`
	VersionID     string         `json:"version_id"`
	Configuration map[string]any `json:"configuration,omitempty"`
}

type pipe struct {
	SourceID        string `json:"source_id"`
	SourcePort      string `json:"source_port"`
	DestinationID   string `json:"destination_id"`
	DestinationPort string `json:"destination_port"`
}

type pipeline struct {
	PipelineID  string    `json:"pipeline_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Nodes       []node    `json:"nodes"`
	Pipes       []pipe    `json:"pipes"`
	CreatedAt   time.Time `json:"created_at"`
}

type createAnalysisRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
}

type createVersionRequest struct {
	Title       string               `json:"title,omitempty"`
	Description string               `json:"description,omitempty"`
	EntryPoint  string               `json:"entry_point"`
	Inputs      []catalog.Definition `json:"inputs,omitempty"`
	Outputs     []catalog.Definition `json:"outputs,omitempty"`
}

type matchRequest struct {
	Direction   string               `json:"direction"`
	Definitions []catalog.Definition `json:"definitions"`
}

type runRequest struct {
	Inputs map[string]any `json:"inputs"`
}

type createPipelineRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Nodes       []node `json:"nodes"`
	Pipes       []pipe `json:"pipes,omitempty"`
}

type executePipelineRequest struct {
	Inputs map[string]map[string]any `json:"inputs,omitempty"`
}

func (api *analysesAPI) handleCreateAnalysis(w http.ResponseWriter, r *http.Request) {
	var req createAnalysisRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		api.writeError(w, r, http.StatusBadRequest, "title_required", nil)
		return
	}
	out, created, err := api.engine.Analyses.CreateAnalysis(r.Context(), domain.Analysis{
		Title:       req.Title,
		Description: strings.TrimSpace(req.Description),
		Category:    strings.TrimSpace(req.Category),
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		w.Header().Set("Location", "/analyses/"+out.ID)
	}
	api.writeJSON(w, status, toAnalysis(out))
}

func (api *analysesAPI) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	items, err := api.engine.Analyses.ListAnalyses(r.Context(), repo.AnalysisFilter{
		Category: strings.TrimSpace(r.URL.Query().Get("category")),
		Limit:    clampInt(parseIntQuery(r, "limit", 100), 1, 500),
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	out := make([]analysis, 0, len(items))
	for _, item := range items {
		out = append(out, toAnalysis(item))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"analyses": out})
}

func (api *analysesAPI) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	out, err := api.engine.Analyses.GetAnalysis(r.Context(), strings.TrimSpace(r.PathValue("analysis_id")))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toAnalysis(out))
}

func (api *analysesAPI) handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	var req createVersionRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	if strings.TrimSpace(req.EntryPoint) == "" {
		api.writeError(w, r, http.StatusBadRequest, "entry_point_required", nil)
		return
	}
	inputs, err := catalog.Definitions(req.Inputs, domain.DirectionInput)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_definition", err.Error())
		return
	}
	outputs, err := catalog.Definitions(req.Outputs, domain.DirectionOutput)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_definition", err.Error())
		return
	}

	out, created, err := api.engine.Analyses.CreateVersion(r.Context(), strings.TrimSpace(r.PathValue("analysis_id")), analyses.VersionInput{
		Title:       req.Title,
		Description: req.Description,
		EntryPoint:  req.EntryPoint,
		Inputs:      inputs,
		Outputs:     outputs,
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	api.writeJSON(w, status, toVersion(out))
}

func (api *analysesAPI) handleListVersions(w http.ResponseWriter, r *http.Request) {
	items, err := api.engine.Analyses.ListVersions(r.Context(), strings.TrimSpace(r.PathValue("analysis_id")))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, map[string]any{
			"version_id":  item.ID,
			"title":       item.Title,
			"entry_point": item.EntryPoint,
			"created_at":  item.CreatedAt,
		})
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"versions": out})
}

func (api *analysesAPI) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	out, err := api.engine.Analyses.GetVersionByTitle(r.Context(), strings.TrimSpace(r.PathValue("analysis_id")), r.PathValue("title"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toVersion(out))
}

// handleMatchSpecification returns the specification whose member set equals
// the given definitions, creating it when none exists.
func (api *analysesAPI) handleMatchSpecification(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	direction := domain.Direction(strings.ToLower(strings.TrimSpace(req.Direction)))
	if !direction.Valid() {
		api.writeError(w, r, http.StatusBadRequest, "direction_invalid", nil)
		return
	}
	defs, err := catalog.Definitions(req.Definitions, direction)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_definition", err.Error())
		return
	}
	analysisID := strings.TrimSpace(r.PathValue("analysis_id"))
	if _, err := api.engine.Analyses.GetAnalysis(r.Context(), analysisID); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	spec, created, err := api.engine.Matcher.MatchOrCreate(r.Context(), analysisID, direction, defs)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	api.writeJSON(w, status, toSpecification(spec))
}

func (api *analysesAPI) handleGetOrExecute(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	versionID := strings.TrimSpace(r.PathValue("version_id"))
	res, err := api.engine.Runs.GetOrExecute(r.Context(), versionID, req.Inputs)

	var execErr *executor.ExecutionError
	switch {
	case errors.As(err, &execErr) && res.Run.ID != "":
		api.audit(r, auditlog.ActionRunFailed, res.Run, map[string]any{
			"version_id": versionID,
			"attempt":    res.Run.Attempt,
			"error":      execErr.Error(),
		})
		api.writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":      "execution_failed",
			"request_id": httpserver.RequestID(r.Context()),
			"run":        toRun(res.Run, false),
		})
		return
	case err != nil:
		api.writeServiceError(w, r, err)
		return
	}

	if res.Reused {
		api.writeJSON(w, http.StatusOK, toRun(res.Run, true))
		return
	}
	api.audit(r, auditlog.ActionRunCreated, res.Run, map[string]any{
		"version_id":         versionID,
		"configuration_hash": res.Run.ConfigurationHash,
		"attempt":            res.Run.Attempt,
	})
	w.Header().Set("Location", "/runs/"+res.Run.ID)
	api.writeJSON(w, http.StatusCreated, toRun(res.Run, false))
}

func (api *analysesAPI) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := api.engine.Runs.List(r.Context(), repo.RunFilter{
		AnalysisVersionID: strings.TrimSpace(q.Get("version_id")),
		ConfigurationHash: strings.TrimSpace(q.Get("configuration_hash")),
		Status:            domain.NormalizeRunStatus(q.Get("status")),
		Limit:             clampInt(parseIntQuery(r, "limit", 100), 1, 500),
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	out := make([]run, 0, len(items))
	for _, item := range items {
		out = append(out, toRun(item, false))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func (api *analysesAPI) handleGetRun(w http.ResponseWriter, r *http.Request) {
	out, err := api.engine.Runs.Get(r.Context(), strings.TrimSpace(r.PathValue("run_id")))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toRun(out, false))
}

// handleGetRunOutput streams an archived file output.
func (api *analysesAPI) handleGetRunOutput(w http.ResponseWriter, r *http.Request) {
	run, err := api.engine.Runs.Get(r.Context(), strings.TrimSpace(r.PathValue("run_id")))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	key := strings.TrimSpace(r.PathValue("key"))
	var objectKey string
	found := false
	for _, out := range run.Outputs {
		if out.Key == key {
			objectKey, found = out.ObjectKey, true
			break
		}
	}
	if !found {
		api.writeError(w, r, http.StatusNotFound, "not_found", nil)
		return
	}
	if objectKey == "" || api.engine.Archiver == nil {
		api.writeError(w, r, http.StatusNotFound, "not_archived", nil)
		return
	}

	body, info, err := api.engine.Archiver.Open(r.Context(), objectKey)
	if err != nil {
		api.logger.Error("open archived output failed", "run_id", run.ID, "key", key, "error", err)
		api.writeError(w, r, http.StatusBadGateway, "object_store_unavailable", nil)
		return
	}
	defer body.Close()

	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(objectKey)+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		api.logger.Warn("stream archived output failed", "run_id", run.ID, "key", key, "error", err)
	}
}

func (api *analysesAPI) handleCreatePipeline(w http.ResponseWriter, r *http.Request) {
	var req createPipelineRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	p := domain.Pipeline{Title: req.Title, Description: strings.TrimSpace(req.Description)}
	for _, n := range req.Nodes {
		p.Nodes = append(p.Nodes, domain.Node{
			ID:                strings.TrimSpace(n.NodeID),
			Name:              strings.TrimSpace(n.Name),
			AnalysisVersionID: strings.TrimSpace(n.VersionID),
			Configuration:     n.Configuration,
		})
	}
	for _, pp := range req.Pipes {
		p.Pipes = append(p.Pipes, domain.Pipe{
			SourceID:        strings.TrimSpace(pp.SourceID),
			SourcePort:      strings.TrimSpace(pp.SourcePort),
			DestinationID:   strings.TrimSpace(pp.DestinationID),
			DestinationPort: strings.TrimSpace(pp.DestinationPort),
		})
	}

	out, created, err := api.engine.Pipelines.Create(r.Context(), p)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		w.Header().Set("Location", "/pipelines/"+out.ID)
		api.engine.Audit.Record(r.Context(), auditEvent(r, auditlog.ActionPipelineCreated, "pipeline", out.ID, map[string]any{
			"title": out.Title,
			"nodes": len(out.Nodes),
			"pipes": len(out.Pipes),
		}))
	}
	api.writeJSON(w, status, toPipeline(out))
}

func (api *analysesAPI) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	items, err := api.engine.Pipelines.List(r.Context(), repo.PipelineFilter{
		Title: strings.TrimSpace(r.URL.Query().Get("title")),
		Limit: clampInt(parseIntQuery(r, "limit", 100), 1, 500),
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	out := make([]pipeline, 0, len(items))
	for _, item := range items {
		out = append(out, toPipeline(item))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"pipelines": out})
}

func (api *analysesAPI) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	out, err := api.engine.Pipelines.Get(r.Context(), strings.TrimSpace(r.PathValue("pipeline_id")))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toPipeline(out))
}

func (api *analysesAPI) handleEntryNodes(w http.ResponseWriter, r *http.Request) {
	items, err := api.engine.Pipelines.EntryNodes(r.Context(), strings.TrimSpace(r.PathValue("pipeline_id")))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	out := make([]node, 0, len(items))
	for _, item := range items {
		out = append(out, toNode(item))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"nodes": out})
}

func (api *analysesAPI) handleExecutePipeline(w http.ResponseWriter, r *http.Request) {
	var req executePipelineRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	out, err := api.engine.Pipelines.Execute(r.Context(), strings.TrimSpace(r.PathValue("pipeline_id")), req.Inputs)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"pipeline_id": out.PipelineID,
		"succeeded":   out.Succeeded(),
		"nodes":       out.Nodes,
	})
}

// writeServiceError maps service errors onto status codes.
func (api *analysesAPI) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		valErr   *validation.Error
		graphErr *graph.ValidationError
		execErr  *executor.ExecutionError
	)
	switch {
	case errors.As(err, &valErr):
		api.writeError(w, r, http.StatusBadRequest, "validation_failed", valErr.Issues)
	case errors.As(err, &graphErr):
		api.writeError(w, r, http.StatusBadRequest, "invalid_pipeline", graphErr.Issues)
	case errors.Is(err, repo.ErrNotFound):
		api.writeError(w, r, http.StatusNotFound, "not_found", nil)
	case errors.Is(err, repo.ErrConflict):
		api.writeError(w, r, http.StatusConflict, "conflict", err.Error())
	case errors.As(err, &execErr):
		api.writeError(w, r, http.StatusBadGateway, "execution_failed", execErr.Error())
	case errors.Is(err, specifications.ErrSpecificationAmbiguous):
		api.logger.Error("ambiguous specification", "request_id", httpserver.RequestID(r.Context()), "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "specification_ambiguous", nil)
	default:
		api.logger.Error("request failed", "request_id", httpserver.RequestID(r.Context()), "path", r.URL.Path, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error", nil)
	}
}

func (api *analysesAPI) audit(r *http.Request, action string, rn domain.Run, payload map[string]any) {
	api.engine.Audit.Record(r.Context(), auditEvent(r, action, "run", rn.ID, payload))
}

func auditEvent(r *http.Request, action, resourceType, resourceID string, payload map[string]any) auditlog.Event {
	return auditlog.Event{
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		RequestID:    httpserver.RequestID(r.Context()),
		IP:           requestIP(r.RemoteAddr),
		UserAgent:    r.UserAgent(),
		Payload:      payload,
	}
}

func toAnalysis(a domain.Analysis) analysis {
	return analysis{
		AnalysisID:  a.ID,
		Title:       a.Title,
		Description: a.Description,
		Category:    a.Category,
		CreatedAt:   a.CreatedAt,
	}
}

func toDefinition(d domain.Definition) definition {
	out := definition{
		DefinitionID:  d.ID,
		Key:           d.Key,
		Kind:          string(d.Kind),
		ElementKind:   string(d.ElementKind),
		Required:      d.Required,
		Configuration: d.IsConfiguration,
		Description:   d.Description,
		Min:           d.Min,
		Max:           d.Max,
		Choices:       d.Choices,
	}
	if d.Default != nil {
		out.Default = d.Default.Interface()
	}
	return out
}

func toSpecification(s domain.Specification) specification {
	defs := make([]definition, 0, len(s.Definitions))
	for _, d := range s.Definitions {
		defs = append(defs, toDefinition(d))
	}
	return specification{
		SpecificationID: s.ID,
		AnalysisID:      s.AnalysisID,
		Direction:       string(s.Direction),
		Definitions:     defs,
	}
}

func toVersion(v analyses.Version) version {
	return version{
		VersionID:   v.ID,
		AnalysisID:  v.AnalysisID,
		Title:       v.Title,
		Description: v.Description,
		EntryPoint:  v.EntryPoint,
		Inputs:      toSpecification(v.Input),
		Outputs:     toSpecification(v.Output),
		CreatedAt:   v.CreatedAt,
	}
}

func toInstances(in []domain.Instance) []instance {
	out := make([]instance, 0, len(in))
	for _, i := range in {
		out = append(out, instance{
			Key:       i.Key,
			Kind:      string(i.Value.Kind),
			Value:     i.Value.Interface(),
			ObjectKey: i.ObjectKey,
		})
	}
	return out
}

func toRun(rn domain.Run, reused bool) run {
	return run{
		RunID:             rn.ID,
		VersionID:         rn.AnalysisVersionID,
		ConfigurationHash: rn.ConfigurationHash,
		Attempt:           rn.Attempt,
		Status:            string(rn.Status),
		Reused:            reused,
		Inputs:            toInstances(rn.Inputs),
		Outputs:           toInstances(rn.Outputs),
		Error:             rn.Error,
		StartedAt:         rn.StartedAt,
		EndedAt:           rn.EndedAt,
	}
}

func toNode(n domain.Node) node {
	return node{
		NodeID:        n.ID,
		Name:          n.Name,
		VersionID:     n.AnalysisVersionID,
		Configuration: n.Configuration,
	}
}

func toPipeline(p domain.Pipeline) pipeline {
	out := pipeline{
		PipelineID:  p.ID,
		Title:       p.Title,
		Description: p.Description,
		Nodes:       make([]node, 0, len(p.Nodes)),
		Pipes:       make([]pipe, 0, len(p.Pipes)),
		CreatedAt:   p.CreatedAt,
	}
	for _, n := range p.Nodes {
		out.Nodes = append(out.Nodes, toNode(n))
	}
	for _, pp := range p.Pipes {
		out.Pipes = append(out.Pipes, pipe{
			SourceID:        pp.SourceID,
			SourcePort:      pp.SourcePort,
			DestinationID:   pp.DestinationID,
			DestinationPort: pp.DestinationPort,
		})
	}
	return out
}

// decodeJSON keeps numbers as json.Number so large integers survive.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func (api *analysesAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	httpserver.WriteJSON(w, status, body)
}

func (api *analysesAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string, details any) {
	httpserver.WriteError(w, r, status, code, details)
}

func requestIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func clampInt(v int, min int, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
