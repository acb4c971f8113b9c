package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmehra2102/payment-webhooks/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setProviders(t *testing.T) {
	t.Setenv("CRYPTOMUS_SECRET", "cs")
	t.Setenv("CRYPTOMUS_TOKEN", "ct")
	t.Setenv("TLYNC_SECRET", "ts")
	t.Setenv("TLYNC_TOKEN", "tt")
}

func TestLoad_FromEnv(t *testing.T) {
	setProviders(t)
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("STORE", "memory")
	t.Setenv("DEDUP_TTL", "1h")
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTPAddr)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, time.Hour, cfg.DedupTTL)
	assert.Equal(t, "balance.events", cfg.OutboxTopic)
	assert.Equal(t, ProviderConfig{Secret: "cs", Token: "ct"}, cfg.Providers[domain.ProviderCryptomus])
	assert.Equal(t, 100, cfg.OutboxBatch)
	assert.Equal(t, 5*time.Second, cfg.OutboxLease)
}

func TestLoad_OutboxTuning(t *testing.T) {
	setProviders(t)
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("OUTBOX_BATCH", "25")
	t.Setenv("OUTBOX_LEASE", "30s")
	t.Setenv("OUTBOX_INTERVAL", "2s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.OutboxBatch)
	assert.Equal(t, 30*time.Second, cfg.OutboxLease)
	assert.Equal(t, 2*time.Second, cfg.OutboxInterval)

	t.Setenv("OUTBOX_BATCH", "many")
	_, err = Load()
	assert.ErrorContains(t, err, "OUTBOX_BATCH")

	t.Setenv("OUTBOX_BATCH", "0")
	_, err = Load()
	assert.ErrorContains(t, err, "outbox batch")
}

func TestLoad_MissingSecrets(t *testing.T) {
	t.Setenv("CRYPTOMUS_SECRET", "")
	t.Setenv("CRYPTOMUS_TOKEN", "")
	t.Setenv("TLYNC_SECRET", "ts")
	t.Setenv("TLYNC_TOKEN", "tt")
	t.Setenv("CONFIG_FILE", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cryptomus: signing secret is required")
	assert.Contains(t, err.Error(), "cryptomus: bearer token is required")
}

func TestLoad_BadDuration(t *testing.T) {
	setProviders(t)
	t.Setenv("DEDUP_TTL", "soon")

	_, err := Load()
	assert.ErrorContains(t, err, "DEDUP_TTL")
}

func TestLoad_FileOverlay(t *testing.T) {
	t.Setenv("CRYPTOMUS_SECRET", "")
	t.Setenv("CRYPTOMUS_TOKEN", "")
	t.Setenv("TLYNC_SECRET", "env-secret")
	t.Setenv("TLYNC_TOKEN", "env-token")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store: memory
outbox_topic: wallet.events
dedup_ttl: 30m
providers:
  cryptomus:
    secret: file-secret
    token: file-token
  tlync:
    token: file-tlync-token
`), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, "wallet.events", cfg.OutboxTopic)
	assert.Equal(t, 30*time.Minute, cfg.DedupTTL)
	assert.Equal(t, ProviderConfig{Secret: "file-secret", Token: "file-token"}, cfg.Providers[domain.ProviderCryptomus])
	assert.Equal(t, ProviderConfig{Secret: "env-secret", Token: "file-tlync-token"}, cfg.Providers[domain.ProviderTlync])
}

func TestValidate_UnknownStore(t *testing.T) {
	cfg := Config{Store: "sqlite", DedupTTL: time.Minute, OutboxBatch: 1, OutboxLease: time.Second, OutboxInterval: time.Second}
	assert.ErrorContains(t, cfg.Validate(), "store must be")
}
