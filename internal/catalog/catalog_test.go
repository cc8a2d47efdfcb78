package catalog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/animus-labs/analyses-go/internal/domain"
	"github.com/animus-labs/analyses-go/internal/execution/executor"
	badgerrepo "github.com/animus-labs/analyses-go/internal/repo/badger"
	"github.com/animus-labs/analyses-go/internal/service/analyses"
	"github.com/animus-labs/analyses-go/internal/service/definitions"
	"github.com/animus-labs/analyses-go/internal/service/pipelines"
	"github.com/animus-labs/analyses-go/internal/service/runs"
	"github.com/animus-labs/analyses-go/internal/service/specifications"
)

const sample = `
schema: analyses.catalog.v1
analyses:
  - title: Brain Extraction
    category: preprocessing
    versions:
      - entryPoint: bet
        command:
          path: /usr/local/bin/bet
          timeout: 10m
        inputs:
          - key: t1
            kind: file
            required: true
          - key: frac
            kind: float
            default: 0.5
            min: 0
            max: 1
        outputs:
          - key: mask
            kind: file
  - title: CAT12 Segmentation
    versions:
      - title: "12.8"
        entryPoint: cat12.segment
        inputs:
          - key: mask
            kind: file
            required: true
          - key: tissues
            kind: list
            elementKind: string
            default: [gm, wm]
        outputs:
          - key: gray_matter
            kind: file
pipelines:
  - title: structural
    nodes:
      - name: extract
        analysis: Brain Extraction
      - name: segment
        analysis: CAT12 Segmentation
        version: "12.8"
    pipes:
      - from: extract.mask
        to: segment.mask
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(c.Analyses) != 2 || len(c.Pipelines) != 1 {
		t.Fatalf("unexpected catalog: %+v", c)
	}
	cmd := c.Analyses[0].Versions[0].Command
	if cmd == nil || cmd.Timeout != 10*time.Minute {
		t.Fatalf("expected 10m command timeout, got %+v", cmd)
	}

	defs, err := Definitions(c.Analyses[1].Versions[0].Inputs, domain.DirectionInput)
	if err != nil {
		t.Fatalf("definitions: %v", err)
	}
	want := domain.ListValue(domain.StringValue("gm"), domain.StringValue("wm"))
	if defs[1].Default == nil || !defs[1].Default.Equal(want) {
		t.Fatalf("expected list default %v, got %v", want, defs[1].Default)
	}
	if defs[0].Direction != domain.DirectionInput {
		t.Fatalf("expected input direction, got %q", defs[0].Direction)
	}
}

func TestParseRejectsInvalidCatalogs(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "schema",
			yaml: "schema: v0\n",
			want: "catalog.schema",
		},
		{
			name: "analysis title",
			yaml: "schema: analyses.catalog.v1\nanalyses:\n  - versions: [{entryPoint: x}]\n",
			want: "catalog.analyses[0].title is required",
		},
		{
			name: "duplicate analysis",
			yaml: "schema: analyses.catalog.v1\nanalyses:\n  - {title: A, versions: [{entryPoint: x}]}\n  - {title: A, versions: [{entryPoint: y}]}\n",
			want: "must be unique",
		},
		{
			name: "no versions",
			yaml: "schema: analyses.catalog.v1\nanalyses:\n  - {title: A}\n",
			want: "versions must be non-empty",
		},
		{
			name: "duplicate default version",
			yaml: "schema: analyses.catalog.v1\nanalyses:\n  - {title: A, versions: [{entryPoint: x}, {title: 1.0.0, entryPoint: y}]}\n",
			want: "duplicate \"1.0.0\"",
		},
		{
			name: "entry point",
			yaml: "schema: analyses.catalog.v1\nanalyses:\n  - {title: A, versions: [{}]}\n",
			want: "entryPoint is required",
		},
		{
			name: "command bound twice",
			yaml: "schema: analyses.catalog.v1\nanalyses:\n  - {title: A, versions: [{entryPoint: x, command: {path: a}}]}\n  - {title: B, versions: [{entryPoint: x, command: {path: b}}]}\n",
			want: "already bound",
		},
		{
			name: "unknown kind",
			yaml: "schema: analyses.catalog.v1\nanalyses:\n  - {title: A, versions: [{entryPoint: x, inputs: [{key: k, kind: tensor}]}]}\n",
			want: "inputs",
		},
		{
			name: "bad default",
			yaml: "schema: analyses.catalog.v1\nanalyses:\n  - {title: A, versions: [{entryPoint: x, inputs: [{key: k, kind: integer, default: many}]}]}\n",
			want: "k default",
		},
		{
			name: "node name with dot",
			yaml: "schema: analyses.catalog.v1\npipelines:\n  - {title: p, nodes: [{name: a.b, analysis: A}]}\n",
			want: "must not contain '.'",
		},
		{
			name: "unknown pipe node",
			yaml: "schema: analyses.catalog.v1\npipelines:\n  - {title: p, nodes: [{name: a, analysis: A}], pipes: [{from: a.out, to: b.in}]}\n",
			want: "unknown node \"b\"",
		},
		{
			name: "malformed endpoint",
			yaml: "schema: analyses.catalog.v1\npipelines:\n  - {title: p, nodes: [{name: a, analysis: A}], pipes: [{from: a, to: a.in}]}\n",
			want: "<node>.<port>",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func newServices(t *testing.T) (*analyses.Service, *pipelines.Service) {
	t.Helper()
	store, err := badgerrepo.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	matcher := specifications.New(definitions.New(store, logger), store, logger)
	analysisSvc := analyses.New(store, store, matcher, logger)
	memoizer := runs.New(store, store, store, executor.NewRegistry(), runs.WithLogger(logger))
	return analysisSvc, pipelines.New(store, store, store, memoizer, nil, logger)
}

func TestApplyIsIdempotent(t *testing.T) {
	c, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	analysisSvc, pipelineSvc := newServices(t)
	ctx := context.Background()

	report, err := Apply(ctx, c, analysisSvc, pipelineSvc)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if report != (Report{Analyses: 2, Versions: 2, Pipelines: 1}) {
		t.Fatalf("unexpected first report: %+v", report)
	}

	report, err = Apply(ctx, c, analysisSvc, pipelineSvc)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if report != (Report{}) {
		t.Fatalf("expected nothing created, got %+v", report)
	}

	p, err := pipelineSvc.GetByTitle(ctx, "structural")
	if err != nil {
		t.Fatalf("get pipeline: %v", err)
	}
	entry, err := pipelineSvc.EntryNodes(ctx, p.ID)
	if err != nil {
		t.Fatalf("entry nodes: %v", err)
	}
	if len(entry) != 1 || entry[0].ID != NodeID("structural", "extract") {
		t.Fatalf("unexpected entry nodes: %+v", entry)
	}

	v, err := analysisSvc.Resolve(ctx, "CAT12 Segmentation", "12.8")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if v.EntryPoint != "cat12.segment" || len(v.Input.Definitions) != 2 {
		t.Fatalf("unexpected version: %+v", v)
	}
}

func TestApplyRejectsUnknownNodeAnalysis(t *testing.T) {
	c := Catalog{
		Schema:    SchemaV1,
		Pipelines: []Pipeline{{Title: "p", Nodes: []Node{{Name: "a", Analysis: "Missing"}}}},
	}
	analysisSvc, pipelineSvc := newServices(t)
	if _, err := Apply(context.Background(), c, analysisSvc, pipelineSvc); err == nil {
		t.Fatalf("expected error for unknown analysis")
	}
}

func TestNodeIDIsStable(t *testing.T) {
	if NodeID("structural", "extract") != NodeID(" structural ", "extract") {
		t.Fatalf("expected trimmed titles to share ids")
	}
	if NodeID("structural", "extract") == NodeID("functional", "extract") {
		t.Fatalf("expected ids to be scoped by pipeline")
	}
}

func TestRegisterCommands(t *testing.T) {
	c, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	reg := executor.NewRegistry()
	if err := RegisterCommands(c, reg, time.Minute); err != nil {
		t.Fatalf("register: %v", err)
	}
	if got := reg.Names(); len(got) != 1 || got[0] != "bet" {
		t.Fatalf("expected only bet registered, got %v", got)
	}
	if err := RegisterCommands(c, reg, time.Minute); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}
