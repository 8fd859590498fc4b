package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/rendis/schedflow/internal/engine"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.json"), envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, ":4100", cfg.ListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 4, cfg.PoolSize)
	assert.Equal(t, engine.DefaultMaxSteps, cfg.MaxSteps)
	assert.Equal(t, Duration(engine.DefaultMaxDelay), cfg.MaxDelay)
	assert.Equal(t, "schedflow.db", filepath.Base(cfg.DBPath))
	assert.Empty(t, cfg.OTLPEndpoint)
}

func TestLoadConfigLayers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"listen_addr": ":9000",
		"log_level": "debug",
		"pool_size": 8,
		"max_delay": "2m",
		"scheduler_interval": 500000000
	}`), 0o600))

	cfg, err := loadConfig(path, envMap(map[string]string{
		"SCHEDFLOW_LOG_LEVEL":     "warn",
		"SCHEDFLOW_POOL_SIZE":     "not-a-number",
		"SCHEDFLOW_MAX_STEPS":     "50",
		"SCHEDFLOW_OTLP_ENDPOINT": "http://collector:4318",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 8, cfg.PoolSize, "invalid env values are ignored")
	assert.Equal(t, 50, cfg.MaxSteps)
	assert.Equal(t, Duration(2*time.Minute), cfg.MaxDelay)
	assert.Equal(t, Duration(500*time.Millisecond), cfg.SchedulerInterval)
	assert.Equal(t, "http://collector:4318", cfg.OTLPEndpoint)
}

func TestLoadConfigMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"max_delay": "soon"}`), 0o600))
	_, err := loadConfig(path, envMap(nil))
	assert.Error(t, err)
}

func TestApplyFlags(t *testing.T) {
	var got Config
	cmd := &cli.Command{
		Name:  "schedflow",
		Flags: globalFlags(),
		Action: func(_ context.Context, cmd *cli.Command) error {
			got = defaultConfig()
			applyFlags(&got, cmd)
			return nil
		},
	}
	err := cmd.Run(context.Background(), []string{
		"schedflow", "--db", "/tmp/x.db", "--pool-size", "2", "--max-delay", "3s",
	})
	require.NoError(t, err)

	assert.Equal(t, "/tmp/x.db", got.DBPath)
	assert.Equal(t, 2, got.PoolSize)
	assert.Equal(t, Duration(3*time.Second), got.MaxDelay)
	assert.Equal(t, ":4100", got.ListenAddr, "unset flags keep the layered value")
}

func TestDBURL(t *testing.T) {
	assert.Equal(t, "file:/tmp/a.db", dbURL("/tmp/a.db"))
	assert.Equal(t, "file:/tmp/a.db", dbURL("file:/tmp/a.db"))
}
