package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_YAMLDefaults(t *testing.T) {
	cfg, err := Parse([]byte("log:\n  level: debug\n"), ".yaml")
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 24*time.Hour, cfg.DisputeWindow())
	assert.Equal(t, 168*time.Hour, cfg.GraduationAge())
	assert.Equal(t, 30*time.Second, cfg.SweepInterval())
	assert.Equal(t, "0.02", cfg.FeeRate().String())
}

func TestParse_TOML(t *testing.T) {
	data := []byte(`
[engine]
fee_rate = 0.01
dispute_window_hours = 1.5
forfeit_sink = "treasury"

[storage]
driver = "pgx"
dsn = "postgres://localhost/qm"
`)
	cfg, err := Parse(data, ".toml")
	require.NoError(t, err)
	assert.Equal(t, "pgx", cfg.Storage.Driver)
	assert.Equal(t, 90*time.Minute, cfg.DisputeWindow())
	assert.Equal(t, "treasury", cfg.Engine.ForfeitSink)
	assert.Equal(t, "0.01", cfg.FeeRate().String())
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"fee too high":   "engine:\n  fee_rate: 0.5\n",
		"share above 1":  "engine:\n  forfeit_winner_share: 1.5\n",
		"unknown driver": "storage:\n  driver: mysql\n",
		"bad log level":  "log:\n  level: loud\n",
		"broken yaml":    "engine: [",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data), ".yaml")
			assert.Error(t, err)
		})
	}

	_, err := Parse([]byte("{}"), ".json")
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("DATABASE_URL", "postgres://env/qm")
	t.Setenv("STORAGE_DRIVER", "pgx")
	t.Setenv("ENGINE_FEE_RATE", "0.03")

	cfg, err := Parse([]byte("http:\n  addr: \":8080\"\n"), ".yml")
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, "postgres://env/qm", cfg.Storage.DSN)
	assert.Equal(t, "0.03", cfg.FeeRate().String())
}

func TestLoad_ExampleFile(t *testing.T) {
	data, err := os.ReadFile("config.example.yaml")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "treasury", cfg.Engine.ForfeitSink)
	assert.Equal(t, 4, cfg.Engine.SweepWorkers)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
