package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.AuthSecret)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_MAX_CONCURRENT_TX", "4")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "0")
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("MINIO_ENDPOINT", "minio:9000")
	t.Setenv("MINIO_BUCKET", "documents")
	t.Setenv("PUBLIC_BASE_URL", "https://stock.example.com/")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Address())
	assert.Equal(t, 4, cfg.DBMaxConcurrentTx)
	assert.Equal(t, 8*time.Hour, cfg.AccessTokenTTL())
	assert.Equal(t, time.UTC, cfg.Location)
	assert.True(t, cfg.Minio.Enabled())
	assert.Equal(t, "https://stock.example.com", cfg.PublicBaseURL)
}

func TestLoadRejectsUnknownTimezone(t *testing.T) {
	t.Setenv("TIMEZONE", "Mars/Olympus")

	_, err := Load()
	assert.Error(t, err)
}
