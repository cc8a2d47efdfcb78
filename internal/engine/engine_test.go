package engine

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/animus-labs/analyses-go/internal/domain"
	"github.com/animus-labs/analyses-go/internal/execution/executor"
	platformstore "github.com/animus-labs/analyses-go/internal/platform/objectstore"
)

const testCatalog = `
schema: analyses.catalog.v1
analyses:
  - title: Volume Report
    versions:
      - entryPoint: report
        inputs:
          - key: volume
            kind: float
            required: true
        outputs:
          - key: summary
            kind: string
`

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("ANALYSES_STORE", "Memory")
	t.Setenv("ANALYSES_EXECUTION_TIMEOUT", "30s")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.Store != StoreMemory || cfg.ExecutionTimeout != 30*time.Second {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	t.Setenv("ANALYSES_STORE", "sqlite")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected error for unknown store")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "memory", cfg: Config{Store: StoreMemory}},
		{name: "badger", cfg: Config{Store: StoreBadger, BadgerPath: "/tmp/x"}},
		{name: "badger without path", cfg: Config{Store: StoreBadger}, wantErr: true},
		{name: "negative timeout", cfg: Config{Store: StoreMemory, ExecutionTimeout: -time.Second}, wantErr: true},
		{name: "unknown", cfg: Config{Store: "redis"}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate()=%v, wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

func TestOpenAppliesCatalogAndRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(testCatalog), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	ctx := context.Background()
	e, err := Open(ctx,
		Config{Store: StoreMemory, CatalogPath: path},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithObjectStore(platformstore.Config{}),
		WithInvoker("report", executor.Func(func(_ context.Context, in domain.Configuration) (map[string]any, error) {
			return map[string]any{"summary": in["volume"].String()}, nil
		})),
	)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })

	if e.Catalog == nil {
		t.Fatalf("expected catalog to be loaded")
	}
	if len(e.ReadinessChecks()) != 1 {
		t.Fatalf("expected one readiness check, got %d", len(e.ReadinessChecks()))
	}
	for _, check := range e.ReadinessChecks() {
		if err := check.Check(ctx); err != nil {
			t.Fatalf("check %s: %v", check.Name, err)
		}
	}

	v, err := e.Analyses.Resolve(ctx, "Volume Report", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	first, err := e.Runs.GetOrExecute(ctx, v.ID, map[string]any{"volume": 1.5})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	second, err := e.Runs.GetOrExecute(ctx, v.ID, map[string]any{"volume": 1.5})
	if err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if first.Reused || !second.Reused || first.Run.ID != second.Run.ID {
		t.Fatalf("expected memoized run, got %+v then %+v", first, second)
	}

	report, err := e.ApplyCatalog(ctx, *e.Catalog)
	if err != nil {
		t.Fatalf("reapply: %v", err)
	}
	if report.Analyses != 0 || report.Versions != 0 {
		t.Fatalf("expected nothing new, got %+v", report)
	}
}

func TestOpenRejectsDuplicateInvoker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	body := testCatalog + "        command:\n          path: /bin/true\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	_, err := Open(context.Background(),
		Config{Store: StoreMemory, CatalogPath: path},
		WithObjectStore(platformstore.Config{}),
		WithInvoker("report", executor.Func(func(context.Context, domain.Configuration) (map[string]any, error) { return nil, nil })),
	)
	if err == nil {
		t.Fatalf("expected duplicate entry point error")
	}
}
