package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV", "missing")
	t.Setenv("MUSICROOM_SECRET", "session-secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 10*time.Second, cfg.Workflow.Timeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Workflow.TerminateRetry.Initial)
	assert.Equal(t, 5*time.Minute, cfg.Workflow.TerminateRetry.MaxElapsed)
	assert.Equal(t, 256, cfg.Workflow.TerminateRetry.QueueSize)
	assert.Equal(t, 20, cfg.RateLimit.Actions)
	assert.Equal(t, 64, cfg.SendBuffer)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	yaml := []byte(`
mode: debug
port: 9000
secret: session-secret
database:
  driver: postgres
  dsn: host=db user=music
workflow:
  timeout: 3s
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), yaml, 0o644))
	t.Chdir(dir)
	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("MUSICROOM_PORT", "9100")
	t.Setenv("MUSICROOM_RATE_LIMIT_ACTIONS", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "host=db user=music", cfg.Database.DSN)
	assert.Equal(t, 3*time.Second, cfg.Workflow.Timeout)
	assert.Equal(t, 5, cfg.RateLimit.Actions)
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV", "missing")
	t.Setenv("MUSICROOM_SECRET", "session-secret")
	t.Setenv("MUSICROOM_DATABASE_DRIVER", "mysql")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_GuestSessionsNeedSecret(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV", "missing")
	t.Setenv("MUSICROOM_SECRET", "")

	_, err := Load()
	require.ErrorContains(t, err, "secret")

	t.Setenv("MUSICROOM_JWT_SECRET", "jwt-secret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "jwt-secret", cfg.JWTSecret)
	assert.Empty(t, cfg.Secret)
}
