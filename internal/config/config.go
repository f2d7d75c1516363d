package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// RateRule configures one rate-limit rule class.
type RateRule struct {
	Window time.Duration
	Max    int
}

// Config holds the full environment-level configuration surface.
type Config struct {
	Port string
	Env  string

	DatabaseURL       string
	TomTomAPIKey      string
	OpenWeatherAPIKey string

	IngestInterval   time.Duration
	GeofenceRadiusKM float64
	UserConnCap      int
	StaleWindow      time.Duration
	SweepInterval    time.Duration

	BreakerThreshold uint32
	BreakerCooldown  time.Duration

	RateGeneral   RateRule
	RateWrite     RateRule
	RateBulk      RateRule
	RateAuth      RateRule
	RateLogSample int

	DedupTTL time.Duration
}

// Load reads configuration from the environment. Invalid values are
// startup errors; missing provider credentials are fatal only in
// production, development falls back to the synthetic provider.
func Load() (*Config, error) {
	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		Env:               getEnv("GO_ENV", "development"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		TomTomAPIKey:      getEnv("TOMTOM_API_KEY", ""),
		OpenWeatherAPIKey: getEnv("OPENWEATHER_API_KEY", ""),
	}

	var err error
	if cfg.IngestInterval, err = getEnvDuration("INGEST_INTERVAL", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.GeofenceRadiusKM, err = getEnvFloat("GEOFENCE_RADIUS_KM", 10); err != nil {
		return nil, err
	}
	if cfg.UserConnCap, err = getEnvInt("USER_CONN_CAP", 3); err != nil {
		return nil, err
	}
	if cfg.StaleWindow, err = getEnvDuration("STALE_WINDOW", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getEnvDuration("SWEEP_INTERVAL", time.Minute); err != nil {
		return nil, err
	}

	threshold, err := getEnvInt("BREAKER_THRESHOLD", 3)
	if err != nil {
		return nil, err
	}
	cfg.BreakerThreshold = uint32(threshold)
	if cfg.BreakerCooldown, err = getEnvDuration("BREAKER_COOLDOWN", time.Minute); err != nil {
		return nil, err
	}

	if cfg.RateGeneral, err = getRateRule("GENERAL", time.Minute, 120); err != nil {
		return nil, err
	}
	if cfg.RateWrite, err = getRateRule("WRITE", time.Minute, 30); err != nil {
		return nil, err
	}
	if cfg.RateBulk, err = getRateRule("BULK", time.Minute, 10); err != nil {
		return nil, err
	}
	if cfg.RateAuth, err = getRateRule("AUTH", 15*time.Minute, 10); err != nil {
		return nil, err
	}
	if cfg.RateLogSample, err = getEnvInt("RATE_LOG_SAMPLE", 10); err != nil {
		return nil, err
	}

	if cfg.DedupTTL, err = getEnvDuration("DEDUP_TTL", 5*time.Minute); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.IngestInterval <= 0 {
		return fmt.Errorf("config: INGEST_INTERVAL must be positive, got %s", c.IngestInterval)
	}
	if c.GeofenceRadiusKM <= 0 {
		return fmt.Errorf("config: GEOFENCE_RADIUS_KM must be positive, got %v", c.GeofenceRadiusKM)
	}
	if c.UserConnCap < 1 {
		return fmt.Errorf("config: USER_CONN_CAP must be at least 1, got %d", c.UserConnCap)
	}
	if c.BreakerThreshold < 1 {
		return fmt.Errorf("config: BREAKER_THRESHOLD must be at least 1")
	}
	// Content fingerprints must expire between cycles, otherwise an
	// ongoing incident re-fetched next cycle is suppressed out of the
	// snapshot.
	if c.DedupTTL >= c.IngestInterval {
		return fmt.Errorf("config: DEDUP_TTL (%s) must be shorter than INGEST_INTERVAL (%s)",
			c.DedupTTL, c.IngestInterval)
	}
	if c.Production() && c.TomTomAPIKey == "" {
		return fmt.Errorf("config: TOMTOM_API_KEY is required in production")
	}
	return nil
}

// Production reports whether the process runs with production settings.
func (c *Config) Production() bool {
	return c.Env == "production"
}

func getRateRule(class string, defWindow time.Duration, defMax int) (RateRule, error) {
	window, err := getEnvDuration("RATE_"+class+"_WINDOW", defWindow)
	if err != nil {
		return RateRule{}, err
	}
	max, err := getEnvInt("RATE_"+class+"_MAX", defMax)
	if err != nil {
		return RateRule{}, err
	}
	return RateRule{Window: window, Max: max}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: invalid integer for %s: %q", key, raw)
	}
	return v, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid number for %s: %q", key, raw)
	}
	return v, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: invalid duration for %s: %q", key, raw)
	}
	return v, nil
}
