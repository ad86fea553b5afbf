// Package config loads Aphrodite's runtime configuration from the
// environment using flat env()/envInt() helpers with fallbacks,
// grouped into the nested sections the rest of this module expects.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cast"
)

type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host string
	Port int
}

func (r RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// MediaServerConfig holds the Jellyfin credentials read from the
// environment; they are passed to the media-server client as is, with
// no settings-store lookup.
type MediaServerConfig struct {
	BaseURL string
	APIKey  string
	UserID  string
}

type HTTPConfig struct {
	Port int
}

// BatchConfig holds the dispatcher/worker capacity knobs: concurrency
// limits, poll interval, and scratch directories.
type BatchConfig struct {
	MaxConcurrentJobs     int
	MaxConcurrentPosters  int
	MaxAttemptsPerPoster  int
	PollInterval          time.Duration
	SchedulerCatchUpGrace time.Duration
	PosterCacheDir        string
	TempDir               string
	SystemVersion         string
}

type Config struct {
	Database    DatabaseConfig
	Redis       RedisConfig
	MediaServer MediaServerConfig
	HTTP        HTTPConfig
	Batch       BatchConfig
	JWTSecret   string
}

func Load() *Config {
	return &Config{
		Database: DatabaseConfig{
			URL:          env("DATABASE_URL", "postgres://aphrodite:aphrodite@db:5432/aphrodite?sslmode=disable"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			Host: env("REDIS_HOST", "redis"),
			Port: envInt("REDIS_PORT", 6379),
		},
		MediaServer: MediaServerConfig{
			BaseURL: env("JELLYFIN_URL", ""),
			APIKey:  env("JELLYFIN_API_KEY", ""),
			UserID:  env("JELLYFIN_USER_ID", ""),
		},
		HTTP: HTTPConfig{
			Port: envInt("PORT", 8080),
		},
		Batch: BatchConfig{
			MaxConcurrentJobs:     envInt("BATCH_MAX_CONCURRENT_JOBS", 3),
			MaxConcurrentPosters:  envInt("BATCH_MAX_CONCURRENT_POSTERS", 3),
			MaxAttemptsPerPoster:  envInt("BATCH_MAX_ATTEMPTS_PER_POSTER", 3),
			PollInterval:          envDuration("SCHEDULER_POLL_INTERVAL", time.Minute),
			SchedulerCatchUpGrace: envDuration("SCHEDULER_CATCHUP_GRACE", 10*time.Minute),
			PosterCacheDir:        env("POSTER_CACHE_DIR", "/data/posters"),
			TempDir:               env("POSTER_TEMP_DIR", "/data/tmp"),
			SystemVersion:         env("SYSTEM_VERSION", "aphrodite-go/1.0"),
		},
		JWTSecret: env("JWT_SECRET", "change-me-in-production"),
	}
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := cast.ToIntE(v); err == nil {
			return i
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := cast.ToDurationE(v); err == nil {
			return d
		}
	}
	return fallback
}
