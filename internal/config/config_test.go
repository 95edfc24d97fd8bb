package config

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"HTTP_ADDR", "KAFKA_BROKERS", "STORE_DRIVER", "LOCK_POLICY", "LOCK_TIMEOUT", "MIGRATE", "DB_MAX_CONNS"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, "wait", cfg.LockPolicy)
	assert.Equal(t, 3*time.Second, cfg.LockTimeout)
	assert.Equal(t, int32(8), cfg.DBMaxConns)
	assert.False(t, cfg.Migrate)
	assert.False(t, cfg.EventsEnabled())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("STORE_DRIVER", "MEMORY")
	t.Setenv("LOCK_POLICY", "nowait")
	t.Setenv("LOCK_TIMEOUT", "250ms")
	t.Setenv("MIGRATE", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.EventsEnabled())
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, "nowait", cfg.LockPolicy)
	assert.Equal(t, 250*time.Millisecond, cfg.LockTimeout)
	assert.True(t, cfg.Migrate)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"STORE_DRIVER":      "mysql",
		"LOCK_POLICY":       "sometimes",
		"LOCK_TIMEOUT":      "soon",
		"DB_MAX_CONNS":      "0",
		"PROJECTOR_WORKERS": "x",
		"MIGRATE":           "maybe",
	}
	for k, v := range tests {
		t.Run(k, func(t *testing.T) {
			t.Setenv(k, v)
			_, err := Load()
			assert.ErrorContains(t, err, k)
		})
	}
}
