package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/analyses-go/internal/platform/env"
)

const (
	StorePostgres = "postgres"
	StoreBadger   = "badger"
	StoreMemory   = "memory"
)

type Config struct {
	Store            string
	BadgerPath       string
	CatalogPath      string
	ExecutionTimeout time.Duration
}

func ConfigFromEnv() (Config, error) {
	store, err := env.OneOf("ANALYSES_STORE", StoreBadger, StorePostgres, StoreBadger, StoreMemory)
	if err != nil {
		return Config{}, err
	}
	timeout, err := env.Duration("ANALYSES_EXECUTION_TIMEOUT", time.Hour)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Store:            store,
		BadgerPath:       env.String("ANALYSES_BADGER_PATH", "analyses-data"),
		CatalogPath:      env.String("ANALYSES_CATALOG", ""),
		ExecutionTimeout: timeout,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Store {
	case StorePostgres, StoreMemory:
	case StoreBadger:
		if strings.TrimSpace(c.BadgerPath) == "" {
			return errors.New("ANALYSES_BADGER_PATH is required for the badger store")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.ExecutionTimeout < 0 {
		return errors.New("ANALYSES_EXECUTION_TIMEOUT must be >= 0")
	}
	return nil
}
