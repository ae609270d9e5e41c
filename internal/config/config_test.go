package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_addr: ":8080"
index:
  mode: bloom
  error_rate: 0.01
search:
  workers: 8
log:
  level: debug
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, "bloom", cfg.Index.Mode)
	require.Equal(t, 0.01, cfg.Index.ErrorRate)
	require.Equal(t, int64(1_000_000), cfg.Index.Capacity)
	require.Equal(t, "trace:tags", cfg.Index.Key)
	require.Equal(t, 8, cfg.Search.Workers)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "mydb", cfg.Mongo.Database)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Index.Mode = "bloom"
	cfg.Index.ErrorRate = 2
	cfg.Search.Workers = -1
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	require.ErrorContains(t, err, "error_rate")
	require.ErrorContains(t, err, "workers")
	require.ErrorContains(t, err, "redis.addr")
}
