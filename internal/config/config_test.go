package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bottomsky/algotirhm-sdk/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, 4, cfg.GlobalMaxWorkers)
	assert.False(t, cfg.RegistryEnabled)
	assert.False(t, cfg.AdminEnabled)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SERVICE_HOST", "127.0.0.1")
	t.Setenv("SERVICE_PORT", "9000")
	t.Setenv("SERVICE_REGISTRY_ENABLED", "true")
	t.Setenv("EXECUTOR_GLOBAL_MAX_WORKERS", "8")
	t.Setenv("EXECUTOR_KILL_GRACE_S", "1.5")
	t.Setenv("ALGO_MODULES", "double, sleep ,crash")
	t.Setenv("CORS_ENABLED", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Addr())
	assert.True(t, cfg.RegistryEnabled)
	assert.Equal(t, 8, cfg.GlobalMaxWorkers)
	assert.Equal(t, 1.5, cfg.KillGraceS)
	assert.Equal(t, []string{"double", "sleep", "crash"}, cfg.AlgoModules)
	assert.True(t, cfg.CORS.Enabled)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("SERVICE_PORT", "70000")
	_, err := config.Load()
	require.Error(t, err)
}
