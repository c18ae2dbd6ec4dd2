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
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.MaxSeatsPerRoom)
	assert.Equal(t, 5*time.Second, cfg.PingInterval)
	assert.Equal(t, 10*time.Second, cfg.LivenessTimeout)
	assert.True(t, cfg.LivenessAnyTraffic)
	assert.Equal(t, JobQueueInline, cfg.JobQueue)
	assert.Equal(t, ":8080", cfg.Addr())
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("MAX_SEATS_PER_ROOM", "4")
	t.Setenv("PING_INTERVAL", "2s")
	t.Setenv("LIVENESS_TIMEOUT", "3s")
	t.Setenv("LIVENESS_ANY_TRAFFIC", "false")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test,http://b.test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Addr())
	assert.Equal(t, 4, cfg.MaxSeatsPerRoom)
	assert.Equal(t, 2*time.Second, cfg.PingInterval)
	assert.Equal(t, 3*time.Second, cfg.LivenessTimeout)
	assert.False(t, cfg.LivenessAnyTraffic)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "zero seats", key: "MAX_SEATS_PER_ROOM", val: "0"},
		{name: "unknown queue", key: "JOB_QUEUE", val: "kafka"},
		{name: "asynq without redis", key: "JOB_QUEUE", val: "asynq"},
		{name: "bad duration", key: "PING_INTERVAL", val: "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")))
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SKETCHBOOK_TEST_KEY=from-file\n"), 0o644))
	t.Setenv("SKETCHBOOK_TEST_KEY", "from-env")

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-env", os.Getenv("SKETCHBOOK_TEST_KEY"))
}
