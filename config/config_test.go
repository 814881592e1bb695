package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/batch/config"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batchq.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("", nil)
	require.NoError(t, err)

	def := config.Default()
	assert.Equal(t, def.MaxWorkers, cfg.MaxWorkers)
	assert.Equal(t, def.StateDir, cfg.StateDir)
	assert.True(t, cfg.AutoSave)
	assert.True(t, cfg.EnableRecovery)
	assert.Equal(t, 5*time.Minute, cfg.MaxRetryDelay)
	assert.Equal(t, 1024, cfg.EventBuffer)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
max_workers: 6
max_retry_delay: 90s
log:
  level: debug
limits:
  - job_type: render
    max_concurrency: 1
  - job_type: validate
    rate_limit: 2.5
    rate_burst: 3
`)
	cfg, err := config.Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.MaxWorkers)
	assert.Equal(t, 90*time.Second, cfg.MaxRetryDelay)
	assert.Equal(t, "debug", cfg.Log.Level)
	require.Len(t, cfg.Limits, 2)
	assert.Equal(t, "render", cfg.Limits[0].JobType)
	assert.Equal(t, 1, cfg.Limits[0].MaxConcurrency)
	assert.InDelta(t, 2.5, cfg.Limits[1].RateLimit, 1e-9)
	assert.Equal(t, 3, cfg.Limits[1].RateBurst)
	// Untouched keys keep their defaults.
	assert.Equal(t, config.Default().ShutdownTimeout, cfg.ShutdownTimeout)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "max_workers: 6\n")
	t.Setenv("BATCHQ_MAX_WORKERS", "3")
	t.Setenv("BATCHQ_LOG__LEVEL", "warn")
	t.Setenv("BATCHQ_REDIS__ADDR", "localhost:6379")

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxWorkers)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoad_Flags(t *testing.T) {
	path := writeFile(t, "max_workers: 6\nstate_dir: /from/file\n")
	t.Setenv("BATCHQ_MAX_WORKERS", "3")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.BindFlags(fs)
	fs.String("out", "", "not configuration")
	require.NoError(t, fs.Parse([]string{"--workers", "8", "--no-recovery", "--out", "x"}))

	cfg, err := config.Load(path, fs)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.MaxWorkers, "changed flag wins over env")
	assert.False(t, cfg.EnableRecovery)
	assert.Equal(t, "/from/file", cfg.StateDir, "unchanged flag keeps the file value")
	assert.True(t, cfg.AutoSave, "unchanged negated flag keeps the default")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"zero workers", "max_workers: 0\n"},
		{"negative delay", "max_retry_delay: -1s\n"},
		{"bad log level", "log:\n  level: loud\n"},
		{"limit without type", "limits:\n  - max_concurrency: 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeFile(t, tt.body), nil)
			assert.Error(t, err)
		})
	}
}
