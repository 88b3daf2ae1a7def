package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  host: localhost
  name: liveness
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 4, cfg.Server.EnginePool)
	require.Equal(t, 5432, cfg.Database.Port)
	require.Equal(t, 20, cfg.Database.MaxConns)
	require.Equal(t, "LIVENESS", cfg.NATS.Stream)
	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, 0.5, cfg.Analyzer.DetectionThreshold)
	require.Equal(t, "ADAPTIVE", cfg.ScreenAttack.Mode)
	require.Equal(t, 0.5, cfg.Collection.MinRealScore)
	require.Equal(t, 20, cfg.Collection.SuspectedFraudCount)
}

func TestLoadPreservesExplicitValues(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  engine_pool_size: 8
analyzer:
  detection_threshold: 0.75
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 8, cfg.Server.EnginePool)
	require.Equal(t, 0.75, cfg.Analyzer.DetectionThreshold)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))

	require.Error(t, err)
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, Name: "liveness", User: "u", Password: "p"}

	require.Equal(t, "postgres://u:p@db:5432/liveness?sslmode=disable", d.DSN())
}

func TestEnvOverridesWinOverYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
`)
	t.Setenv("FLD_SERVER_PORT", "7070")
	t.Setenv("FLD_API_KEY", "secret-key")

	cfg, err := Load(path)

	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, "secret-key", cfg.Server.APIKey)
}
