package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.App.Env)
	assert.Equal(t, 15*time.Second, cfg.Engine.RefreshInterval)
	assert.Equal(t, 2, cfg.Recovery.ApprovalThreshold)
	assert.Equal(t, 72*time.Hour, cfg.Recovery.FreezeDuration)

	require.Contains(t, cfg.Networks, "polygon")
	polygon := cfg.Networks["polygon"]
	assert.Equal(t, "50000", polygon.MaxTransactionValue)
	assert.Equal(t, 300*time.Second, polygon.Cooldown)
	assert.EqualValues(t, 20, polygon.GasBufferPercent)

	bsc := cfg.Networks["bsc"]
	assert.Equal(t, "100", bsc.MaxTransactionValue)
	assert.EqualValues(t, 15, bsc.GasBufferPercent)
	assert.False(t, bsc.EIP1559)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	yaml := `
app:
  env: production
networks:
  polygon:
    cooldown: 10m
    max_transaction_value: "25000"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.App.Env)
	assert.Equal(t, 10*time.Minute, cfg.Networks["polygon"].Cooldown)
	assert.Equal(t, "25000", cfg.Networks["polygon"].MaxTransactionValue)
	// untouched keys keep their defaults
	assert.EqualValues(t, 137, cfg.Networks["polygon"].ChainID)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
