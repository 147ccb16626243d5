package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadReadsFileAndDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  storage: memory
anamnesis:
  token_secret: s3cret
  link_ttl: 24h
outbox:
  poll_interval: 2s
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Server.Storage)
	assert.Equal(t, 24*time.Hour, cfg.Anamnesis.LinkTTL)
	assert.Equal(t, 2*time.Second, cfg.Outbox.PollInterval)
	assert.Equal(t, 50, cfg.Outbox.BatchSize)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, []string{"*"}, cfg.Security.AllowedOrigins)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
anamnesis:
  token_secret: from-file
database:
  host: db.internal
`)
	t.Setenv("FORMS_DATABASE_HOST", "db.override")
	t.Setenv("FORMS_ANAMNESIS_TOKEN_SECRET", "from-env")
	t.Setenv("FORMS_RATE_LIMIT_BURST", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "db.override", cfg.Database.Host)
	assert.Equal(t, "from-env", cfg.Anamnesis.TokenSecret)
	assert.Equal(t, 7, cfg.RateLimit.Burst)
}

func TestLoadRequiresTokenSecret(t *testing.T) {
	path := writeConfig(t, "server:\n  storage: memory\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsUnknownStorage(t *testing.T) {
	path := writeConfig(t, "server:\n  storage: sqlite\nanamnesis:\n  token_secret: x\n")
	_, err := Load(path)
	assert.Error(t, err)
}
