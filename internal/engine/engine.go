// Package engine assembles the store, services, executors and metrics from
// configuration. Both binaries build on it.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/animus-labs/analyses-go/internal/catalog"
	"github.com/animus-labs/analyses-go/internal/execution/executor"
	"github.com/animus-labs/analyses-go/internal/metrics"
	"github.com/animus-labs/analyses-go/internal/platform/auditlog"
	"github.com/animus-labs/analyses-go/internal/platform/httpserver"
	platformstore "github.com/animus-labs/analyses-go/internal/platform/objectstore"
	"github.com/animus-labs/analyses-go/internal/platform/postgres"
	"github.com/animus-labs/analyses-go/internal/repo"
	badgerrepo "github.com/animus-labs/analyses-go/internal/repo/badger"
	repopg "github.com/animus-labs/analyses-go/internal/repo/postgres"
	"github.com/animus-labs/analyses-go/internal/service/analyses"
	"github.com/animus-labs/analyses-go/internal/service/definitions"
	"github.com/animus-labs/analyses-go/internal/service/pipelines"
	"github.com/animus-labs/analyses-go/internal/service/runs"
	"github.com/animus-labs/analyses-go/internal/service/specifications"
	storeobjects "github.com/animus-labs/analyses-go/internal/storage/objectstore"
)

type Engine struct {
	Store       repo.Store
	Registry    *prometheus.Registry
	Metrics     *metrics.Metrics
	Executors   *executor.Registry
	Definitions *definitions.Registry
	Matcher     *specifications.Matcher
	Analyses    *analyses.Service
	Runs        *runs.Memoizer
	Pipelines   *pipelines.Service
	Audit       *auditlog.Recorder
	Catalog     *catalog.Catalog
	// Archiver is nil unless an object store is configured.
	Archiver *storeobjects.Archiver

	cfg    Config
	logger *slog.Logger
	checks []httpserver.ReadinessCheck
}

type options struct {
	logger      *slog.Logger
	invokers    map[string]executor.Invoker
	store       *repo.Store
	objectStore *platformstore.Config
	archive     *archiveTarget
}

type archiveTarget struct {
	store  storeobjects.Store
	bucket string
	prefix string
}

type Option func(*options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithInvoker registers an in-process entry point next to the catalog's
// commands.
func WithInvoker(name string, inv executor.Invoker) Option {
	return func(o *options) {
		if o.invokers == nil {
			o.invokers = map[string]executor.Invoker{}
		}
		o.invokers[name] = inv
	}
}

// WithStore replaces the store selected by Config.Store.
func WithStore(store repo.Store) Option {
	return func(o *options) { o.store = &store }
}

// WithObjectStore sets the archive target instead of reading ANALYSES_MINIO_*.
func WithObjectStore(cfg platformstore.Config) Option {
	return func(o *options) { o.objectStore = &cfg }
}

// WithArchiveStore archives file outputs to store instead of MinIO.
func WithArchiveStore(store storeobjects.Store, bucket, prefix string) Option {
	return func(o *options) { o.archive = &archiveTarget{store: store, bucket: bucket, prefix: prefix} }
}

// Open builds the engine. When cfg.CatalogPath is set the catalog is loaded,
// its commands registered and its declarations applied.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	e := &Engine{cfg: cfg, logger: o.logger}
	if err := e.openStore(ctx, o); err != nil {
		return nil, err
	}

	e.Registry = prometheus.NewRegistry()
	e.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	e.Metrics = metrics.New(e.Registry)

	e.Executors = executor.NewRegistry()
	for name, inv := range o.invokers {
		if err := e.Executors.Register(name, inv); err != nil {
			_ = e.Close()
			return nil, err
		}
	}

	if cfg.CatalogPath != "" {
		c, err := catalog.Load(cfg.CatalogPath)
		if err != nil {
			_ = e.Close()
			return nil, err
		}
		if err := catalog.RegisterCommands(c, e.Executors, cfg.ExecutionTimeout); err != nil {
			_ = e.Close()
			return nil, err
		}
		e.Catalog = &c
	}

	runOpts := []runs.Option{runs.WithLogger(o.logger), runs.WithMetrics(e.Metrics)}
	archiver, err := e.openArchiver(ctx, o)
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	if archiver != nil {
		e.Archiver = archiver
		runOpts = append(runOpts, runs.WithArchiver(archiver))
	}

	e.Definitions = definitions.New(e.Store.Definitions, o.logger)
	e.Matcher = specifications.New(e.Definitions, e.Store.Specifications, o.logger)
	e.Analyses = analyses.New(e.Store.Analyses, e.Store.Specifications, e.Matcher, o.logger)
	e.Runs = runs.New(e.Store.Analyses, e.Store.Specifications, e.Store.Runs, e.Executors, runOpts...)
	e.Pipelines = pipelines.New(e.Store.Pipelines, e.Store.Analyses, e.Store.Specifications, e.Runs, e.Metrics, o.logger)

	if e.Catalog != nil {
		report, err := e.ApplyCatalog(ctx, *e.Catalog)
		if err != nil {
			_ = e.Close()
			return nil, err
		}
		o.logger.Info("catalog applied",
			"path", cfg.CatalogPath,
			"analyses", report.Analyses,
			"versions", report.Versions,
			"pipelines", report.Pipelines,
		)
	}
	return e, nil
}

func (e *Engine) openStore(ctx context.Context, o options) error {
	if o.store != nil {
		e.Store = *o.store
		e.addCheck("store", e.Store.Ping)
		return nil
	}
	switch e.cfg.Store {
	case StorePostgres:
		dbCfg, err := postgres.ConfigFromEnv()
		if err != nil {
			return fmt.Errorf("database config: %w", err)
		}
		db, err := postgres.Open(ctx, dbCfg)
		if err != nil {
			return fmt.Errorf("database unavailable: %w", err)
		}
		if err := repopg.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return err
		}
		e.Store = repopg.NewStore(db)
		e.Audit = auditlog.NewRecorder(db, "analyses", o.logger)
		e.addCheck("postgres", postgres.Check(db, 750*time.Millisecond))
	case StoreBadger, StoreMemory:
		bcfg := badgerrepo.DefaultConfig(e.cfg.BadgerPath)
		if e.cfg.Store == StoreMemory {
			bcfg = badgerrepo.InMemoryConfig()
		}
		bcfg.Logger = o.logger
		store, err := badgerrepo.Open(bcfg)
		if err != nil {
			return fmt.Errorf("open badger store: %w", err)
		}
		e.Store = store.Repositories()
		e.addCheck("badger", e.Store.Ping)
	default:
		return fmt.Errorf("unknown store %q", e.cfg.Store)
	}
	return nil
}

func (e *Engine) openArchiver(ctx context.Context, o options) (*storeobjects.Archiver, error) {
	if o.archive != nil {
		return storeobjects.NewArchiver(o.archive.store, o.archive.bucket, o.archive.prefix), nil
	}
	var cfg platformstore.Config
	if o.objectStore != nil {
		cfg = *o.objectStore
	} else {
		fromEnv, err := platformstore.ConfigFromEnv()
		if err != nil {
			return nil, fmt.Errorf("object store config: %w", err)
		}
		cfg = fromEnv
	}
	if !cfg.Enabled() {
		return nil, nil
	}

	client, err := platformstore.NewMinIOClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("object store client: %w", err)
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := platformstore.EnsureBucket(startupCtx, client, cfg); err != nil {
		return nil, fmt.Errorf("object store unavailable: %w", err)
	}
	store, err := storeobjects.NewMinioStoreWithClient(client)
	if err != nil {
		return nil, err
	}
	e.addCheck("minio", func(ctx context.Context) error {
		checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
		defer cancel()
		return platformstore.CheckBucket(checkCtx, client, cfg)
	})
	return storeobjects.NewArchiver(store, cfg.Bucket, cfg.Prefix), nil
}

func (e *Engine) addCheck(name string, check func(context.Context) error) {
	if check == nil {
		return
	}
	e.checks = append(e.checks, httpserver.ReadinessCheck{Name: name, Check: check})
}

// ApplyCatalog declares everything in c and records the outcome.
func (e *Engine) ApplyCatalog(ctx context.Context, c catalog.Catalog) (catalog.Report, error) {
	report, err := catalog.Apply(ctx, c, e.Analyses, e.Pipelines)
	if err != nil {
		return report, err
	}
	if report != (catalog.Report{}) {
		e.Audit.Record(ctx, auditlog.Event{
			Action:       auditlog.ActionCatalogApplied,
			ResourceType: "catalog",
			ResourceID:   c.Schema,
			Payload:      report,
		})
	}
	return report, nil
}

func (e *Engine) ReadinessChecks() []httpserver.ReadinessCheck {
	return append([]httpserver.ReadinessCheck(nil), e.checks...)
}

func (e *Engine) Close() error {
	if e == nil || e.Store.Close == nil {
		return nil
	}
	return e.Store.Close()
}
