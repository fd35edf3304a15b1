package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAndValidate(t *testing.T) {
	content := `
postgres:
  enabled: true
  dsn: "postgres://u:p@db:5432/ledger?sslmode=disable"
  max_open_conns: 5

nats:
  enabled: false

snapshot:
  interval: 500
  check_every: 2s

ledger:
  pool: "00000000-0000-0000-0000-0000000000ff"
  max_inheritance_depth: 4

protocol:
  rate_per_accrual: "0"
  faucet: true

logging:
  level: "debug"
  format: "console"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "postgres://u:p@db:5432/ledger?sslmode=disable", cfg.Postgres.DSN)
	assert.Equal(t, 5, cfg.Postgres.MaxOpenConns)
	assert.False(t, cfg.NATS.Enabled)
	assert.Equal(t, int64(500), cfg.Snapshot.Interval)
	assert.Equal(t, 2*time.Second, cfg.Snapshot.CheckEvery)
	assert.Equal(t, 4, cfg.Ledger.MaxInheritanceDepth)
	assert.True(t, cfg.Protocol.Faucet)
	assert.Equal(t, "console", cfg.Logging.Format)

	// untouched keys keep their defaults
	assert.Equal(t, ":9090", cfg.Server.GRPCAddr)
	assert.Equal(t, 10*time.Millisecond, cfg.Persist.FlushTimeout)
	assert.Equal(t, 3, cfg.Snapshot.KeepLocal)

	pool, err := cfg.PoolAddress()
	require.NoError(t, err)
	assert.Equal(t, "00000000-0000-0000-0000-0000000000ff", pool.String())

	initial, perAccrual, err := cfg.Rates()
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", initial.String())
	assert.True(t, perAccrual.IsZero())
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Postgres.Enabled)
	assert.Equal(t, "migrations", cfg.Postgres.MigrationsDir)
	assert.Equal(t, int64(100_000), cfg.Snapshot.Interval)
	assert.Equal(t, 1_000_000, cfg.Ledger.IdempotencyCapacity)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("REDIRECT_LEDGER_POSTGRES_ENABLED", "false")
	t.Setenv("REDIRECT_LEDGER_SERVER_HTTP_ADDR", ":18080")
	t.Setenv("REDIRECT_LEDGER_SNAPSHOT_CHECK_EVERY", "1m")
	t.Setenv("REDIRECT_LEDGER_LOGGING_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.False(t, cfg.Postgres.Enabled)
	assert.Equal(t, ":18080", cfg.Server.HTTPAddr)
	assert.Equal(t, time.Minute, cfg.Snapshot.CheckEvery)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing dsn", func(c *Config) { c.Postgres.DSN = "" }},
		{"missing nats url", func(c *Config) { c.NATS.URL = "" }},
		{"zero batch size", func(c *Config) { c.Persist.BatchSize = 0 }},
		{"zero snapshot interval", func(c *Config) { c.Snapshot.Interval = 0 }},
		{"no bolt path without postgres", func(c *Config) {
			c.Postgres.Enabled = false
			c.Storage.BoltPath = ""
		}},
		{"bad pool", func(c *Config) { c.Ledger.Pool = "pool" }},
		{"nil pool", func(c *Config) { c.Ledger.Pool = "00000000-0000-0000-0000-000000000000" }},
		{"zero depth", func(c *Config) { c.Ledger.MaxInheritanceDepth = 0 }},
		{"negative rate", func(c *Config) { c.Protocol.RatePerAccrual = "-1" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "text" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
