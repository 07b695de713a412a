package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 5, cfg.Engine.MinEpisodes)
	assert.InDelta(t, 0.5, cfg.Engine.SaveRateFloor, 1e-9)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Auth.Enabled)
}

func TestLoadFromYAML(t *testing.T) {
	path := writeConfigFile(t, `
server:
  http_port: 9000
database:
  driver: postgres
  host: db.internal
  port: 5432
  user: evoloop
  password: secret
  name: evoloop
  ssl_mode: require
engine:
  min_episodes: 10
  save_rate_floor: 0.6
  auto_promote: true
  check_interval: 30s
redis:
  enabled: true
  addr: cache.internal:6379
`)

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 10, cfg.Engine.MinEpisodes)
	assert.InDelta(t, 0.6, cfg.Engine.SaveRateFloor, 1e-9)
	assert.True(t, cfg.Engine.AutoPromote)
	assert.Equal(t, 30*time.Second, cfg.Engine.CheckInterval)
	assert.True(t, cfg.Redis.Enabled)

	// Untouched sections keep their defaults.
	assert.Equal(t, 10, cfg.Engine.CandidateRollout)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "server: [not a mapping")
	_, err := NewLoader().WithConfigPath(path).Load()
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("EVOLOOP_SERVER_HTTP_PORT", "7070")
	t.Setenv("EVOLOOP_DATABASE_DRIVER", "mysql")
	t.Setenv("EVOLOOP_ENGINE_SAVE_RATE_FLOOR", "0.35")
	t.Setenv("EVOLOOP_ENGINE_AUTO_PROMOTE", "true")
	t.Setenv("EVOLOOP_ENGINE_CHECK_INTERVAL", "1m")
	t.Setenv("EVOLOOP_LOG_OUTPUT_PATHS", "stdout, /var/log/evoloop.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.HTTPPort)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.InDelta(t, 0.35, cfg.Engine.SaveRateFloor, 1e-9)
	assert.True(t, cfg.Engine.AutoPromote)
	assert.Equal(t, time.Minute, cfg.Engine.CheckInterval)
	assert.Equal(t, []string{"stdout", "/var/log/evoloop.log"}, cfg.Log.OutputPaths)
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := writeConfigFile(t, "server:\n  http_port: 9000\n")
	t.Setenv("EVOLOOP_SERVER_HTTP_PORT", "9001")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.Server.HTTPPort)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.HTTPPort = 0 }},
		{"bad driver", func(c *Config) { c.Database.Driver = "oracle" }},
		{"zero min episodes", func(c *Config) { c.Engine.MinEpisodes = 0 }},
		{"save rate floor above one", func(c *Config) { c.Engine.SaveRateFloor = 1.5 }},
		{"negative followup ceiling", func(c *Config) { c.Engine.FollowupCeiling = -1 }},
		{"rollout above hundred", func(c *Config) { c.Engine.CandidateRollout = 101 }},
		{"auth without secret", func(c *Config) { c.Auth.Enabled = true }},
		{"archive without uri", func(c *Config) { c.Archive.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestCustomValidator(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			return assert.AnError
		}).
		Load()
	assert.Error(t, err)
}

func TestDatabaseDSN(t *testing.T) {
	pg := DatabaseConfig{Driver: "postgres", Host: "h", Port: 5432, User: "u", Password: "p", Name: "db", SSLMode: "disable"}
	assert.Equal(t, "host=h port=5432 user=u password=p dbname=db sslmode=disable", pg.DSN())

	my := DatabaseConfig{Driver: "mysql", Host: "h", Port: 3306, User: "u", Password: "p", Name: "db"}
	assert.Equal(t, "u:p@tcp(h:3306)/db?parseTime=true", my.DSN())

	lite := DatabaseConfig{Driver: "sqlite", Name: "evoloop.db"}
	assert.Equal(t, "evoloop.db", lite.DSN())

	unknown := DatabaseConfig{Driver: "oracle"}
	assert.Empty(t, unknown.DSN())
}
