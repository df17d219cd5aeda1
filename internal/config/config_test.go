package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)

	assert.Equal(t, 8480, cfg.API.Port)
	assert.Equal(t, int64(42), cfg.World.Seed)
	assert.Equal(t, 0.05, cfg.World.PlatformFeePct)
	assert.Equal(t, 5, cfg.Settle.MaxRetries)
	assert.False(t, cfg.Chain.Enabled)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "economy.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[api]
port = 9000
admin_key = "secret"

[world]
seed = 7
city_tax_rate = 0.12

[settle]
max_retries = 3
staleness_window = "10m"

[chain]
enabled = true
endpoint = "https://ledger.example.test"
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.API.Port)
	assert.Equal(t, "secret", cfg.API.AdminKey)
	assert.Equal(t, int64(7), cfg.World.Seed)
	assert.Equal(t, 0.12, cfg.World.CityTaxRate)
	assert.Equal(t, 3, cfg.Settle.MaxRetries)
	assert.Equal(t, "10m", cfg.Settle.StalenessWindow)
	assert.True(t, cfg.Chain.Enabled)

	// Untouched keys keep their defaults.
	assert.Equal(t, "127.0.0.1", cfg.API.Host)
	assert.Equal(t, 0.05, cfg.World.PlatformFeePct)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("not [valid"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestDurationFallback(t *testing.T) {
	assert.Equal(t, 5*time.Minute, Duration("5m", time.Second))
	assert.Equal(t, time.Second, Duration("garbage", time.Second))
	assert.Equal(t, time.Second, Duration("", time.Second))
}
