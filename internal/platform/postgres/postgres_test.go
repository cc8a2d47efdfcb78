package postgres

import (
	"context"
	"testing"
	"time"
)

func TestConfigFromEnvDefaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
}

func TestConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/runs")
	t.Setenv("DATABASE_MAX_OPEN_CONNS", "4")
	t.Setenv("DATABASE_MAX_IDLE_CONNS", "2")
	t.Setenv("DATABASE_PING_TIMEOUT", "500ms")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.URL != "postgres://u:p@db:5432/runs" || cfg.MaxOpenConns != 4 || cfg.PingTimeout != 500*time.Millisecond {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestConfigValidate(t *testing.T) {
	base := Config{URL: "postgres://x", PingTimeout: time.Second, MaxOpenConns: 2, MaxIdleConns: 1}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "blank url", mutate: func(c *Config) { c.URL = " " }, wantErr: true},
		{name: "zero ping timeout", mutate: func(c *Config) { c.PingTimeout = 0 }, wantErr: true},
		{name: "idle above open", mutate: func(c *Config) { c.MaxIdleConns = 3 }, wantErr: true},
		{name: "negative lifetime", mutate: func(c *Config) { c.ConnMaxLifetime = -time.Second }, wantErr: true},
		{name: "negative statement timeout", mutate: func(c *Config) { c.StatementTimeout = -time.Second }, wantErr: true},
	}
	for _, tt := range tests {
		cfg := base
		tt.mutate(&cfg)
		if err := cfg.Validate(); (err != nil) != tt.wantErr {
			t.Fatalf("%s: expected err=%v, got %v", tt.name, tt.wantErr, err)
		}
	}
}

func TestConnConfigSetsSessionParams(t *testing.T) {
	cfg := Config{URL: "postgres://u:p@db:5432/runs", ApplicationName: "analyses-api", StatementTimeout: 1500 * time.Millisecond}
	connCfg, err := cfg.ConnConfig()
	if err != nil {
		t.Fatalf("ConnConfig() err=%v", err)
	}
	if connCfg.Host != "db" || connCfg.Database != "runs" {
		t.Fatalf("unexpected target %s/%s", connCfg.Host, connCfg.Database)
	}
	if got := connCfg.RuntimeParams["application_name"]; got != "analyses-api" {
		t.Fatalf("application_name=%q", got)
	}
	if got := connCfg.RuntimeParams["statement_timeout"]; got != "1500" {
		t.Fatalf("statement_timeout=%q", got)
	}

	cfg.StatementTimeout = 0
	connCfg, err = cfg.ConnConfig()
	if err != nil {
		t.Fatalf("ConnConfig() err=%v", err)
	}
	if _, ok := connCfg.RuntimeParams["statement_timeout"]; ok {
		t.Fatalf("expected no statement_timeout when disabled")
	}
}

func TestConnConfigRejectsBadURL(t *testing.T) {
	if _, err := (Config{URL: "postgres://u:p@db:notaport/runs"}).ConnConfig(); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestCheckWithoutDatabase(t *testing.T) {
	if err := Check(nil, time.Second)(context.Background()); err == nil {
		t.Fatalf("expected error without a database")
	}
}
