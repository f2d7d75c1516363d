package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.False(t, cfg.Production())
	assert.Equal(t, 30*time.Minute, cfg.IngestInterval)
	assert.Equal(t, 10.0, cfg.GeofenceRadiusKM)
	assert.Equal(t, 3, cfg.UserConnCap)
	assert.Equal(t, 30*time.Minute, cfg.StaleWindow)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, uint32(3), cfg.BreakerThreshold)
	assert.Equal(t, time.Minute, cfg.BreakerCooldown)
	assert.Equal(t, RateRule{Window: time.Minute, Max: 120}, cfg.RateGeneral)
	assert.Equal(t, RateRule{Window: time.Minute, Max: 30}, cfg.RateWrite)
	assert.Equal(t, RateRule{Window: time.Minute, Max: 10}, cfg.RateBulk)
	assert.Equal(t, RateRule{Window: 15 * time.Minute, Max: 10}, cfg.RateAuth)
	assert.Equal(t, 10, cfg.RateLogSample)
	assert.Equal(t, 5*time.Minute, cfg.DedupTTL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("GO_ENV", "production")
	t.Setenv("TOMTOM_API_KEY", "key-123")
	t.Setenv("INGEST_INTERVAL", "5m")
	t.Setenv("DEDUP_TTL", "1m")
	t.Setenv("GEOFENCE_RADIUS_KM", "2.5")
	t.Setenv("USER_CONN_CAP", "5")
	t.Setenv("BREAKER_THRESHOLD", "7")
	t.Setenv("RATE_WRITE_MAX", "50")
	t.Setenv("RATE_AUTH_WINDOW", "30m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.Production())
	assert.Equal(t, 5*time.Minute, cfg.IngestInterval)
	assert.Equal(t, 2.5, cfg.GeofenceRadiusKM)
	assert.Equal(t, 5, cfg.UserConnCap)
	assert.Equal(t, uint32(7), cfg.BreakerThreshold)
	assert.Equal(t, 50, cfg.RateWrite.Max)
	assert.Equal(t, 30*time.Minute, cfg.RateAuth.Window)
	assert.Equal(t, time.Minute, cfg.DedupTTL)
}

func TestDedupTTLMustUndercutIngestInterval(t *testing.T) {
	t.Setenv("INGEST_INTERVAL", "10m")
	t.Setenv("DEDUP_TTL", "10m")

	_, err := Load()
	assert.ErrorContains(t, err, "DEDUP_TTL")

	t.Setenv("DEDUP_TTL", "9m")
	_, err = Load()
	assert.NoError(t, err)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad duration", "INGEST_INTERVAL", "soon"},
		{"bad float", "GEOFENCE_RADIUS_KM", "wide"},
		{"bad int", "USER_CONN_CAP", "many"},
		{"bad rate window", "RATE_GENERAL_WINDOW", "1 minute"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.ErrorContains(t, err, tt.key)
		})
	}
}

func TestLoadRejectsOutOfRangeValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"zero interval", "INGEST_INTERVAL", "0s"},
		{"negative radius", "GEOFENCE_RADIUS_KM", "-1"},
		{"zero connection cap", "USER_CONN_CAP", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestProductionRequiresProviderKey(t *testing.T) {
	t.Setenv("GO_ENV", "production")
	t.Setenv("TOMTOM_API_KEY", "")

	_, err := Load()
	assert.ErrorContains(t, err, "TOMTOM_API_KEY")

	t.Setenv("TOMTOM_API_KEY", "key-123")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Production())
}
