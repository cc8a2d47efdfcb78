package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/animus-labs/analyses-go/internal/engine"
	"github.com/animus-labs/analyses-go/internal/metrics"
	"github.com/animus-labs/analyses-go/internal/platform/env"
	"github.com/animus-labs/analyses-go/internal/platform/httpserver"
)

const service = "analyses-api"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("ANALYSES_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("ANALYSES_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	cfg, err := engine.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid engine config", "error", err)
		os.Exit(2)
	}
	e, err := engine.Open(ctx, cfg, engine.WithLogger(logger))
	if err != nil {
		logger.Error("engine unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = e.Close() }()
	logger.Info("engine ready", "store", cfg.Store, "entry_points", e.Executors.Names())

	mux := newMux(logger, e)
	serverCfg := httpserver.Config{
		Service:         service,
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}
	if err := httpserver.Run(ctx, logger, serverCfg, httpserver.Wrap(logger, mux)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func newMux(logger *slog.Logger, e *engine.Engine) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", httpserver.Healthz(service))
	mux.HandleFunc("GET /readyz", httpserver.Readyz(service, e.ReadinessChecks()...))
	mux.Handle("GET /metrics", metrics.Handler(e.Registry))
	newAnalysesAPI(logger, e).register(mux)
	return mux
}
