package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 10, cfg.Discovery.ResultsPerPage)
	assert.Equal(t, 10, cfg.Discovery.MaxConsecutiveEmpty)
	assert.Equal(t, 50, cfg.Classify.RequestsPerMinute)
	assert.Equal(t, 15, cfg.Classify.BatchSize)
	assert.Equal(t, 16384, cfg.Jobs.StdoutTailBytes)
	assert.Equal(t, 16384, cfg.Jobs.StderrTailBytes)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("LEADSCOUT_CLASSIFY_BATCH_SIZE", "25")
	t.Setenv("LEADSCOUT_STORE_DRIVER", "sqlite")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Classify.BatchSize)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
}

func TestLoad_NoKeyDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	// API keys are hard requirements of the stages that use them and must
	// never have baked-in defaults.
	assert.Empty(t, cfg.Classify.APIKey)
	assert.Empty(t, cfg.Search.APIKey)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.Error(t, InitLogger(LogConfig{Level: "nope", Format: "json"}))
}
