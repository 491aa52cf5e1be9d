package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "secret")
	t.Setenv("APP_ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.App.Addr())
	assert.False(t, cfg.Logger.Development)
	assert.Equal(t, "@every 1m", cfg.SLA.SweepSchedule)
	assert.Equal(t, 20*time.Second, cfg.SLA.SweepBatchTimeout())
	assert.Equal(t, 3, cfg.Workflow.MaxConflictRetry)
	assert.False(t, cfg.Workflow.StrictTransitions)
	assert.Equal(t, 5, cfg.Postgres.ConnectAttempts)
	assert.Equal(t, "dev", cfg.Logger.Version)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "secret")
	t.Setenv("WORKFLOW_STRICT_TRANSITIONS", "true")
	t.Setenv("SLA_SWEEP_BATCH_SIZE", "50")
	t.Setenv("EVENTS_BUFFER_SIZE", "not-a-number")
	t.Setenv("HTTP_REQUEST_TIMEOUT_SECONDS", "0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Workflow.StrictTransitions)
	assert.Equal(t, 50, cfg.SLA.SweepBatchSize)
	assert.Equal(t, 1024, cfg.Events.BufferSize)
	assert.Zero(t, cfg.App.RequestTimeout())
}

func TestLoadRejectsBadRedisDB(t *testing.T) {
	t.Setenv("REDIS_DB", "x")
	_, err := Load()
	require.Error(t, err)
}
