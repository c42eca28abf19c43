// Package config provides configuration loading for the lineage service.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the lineage service.
type Config struct {
	// Server configuration
	Port          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	ShutdownGrace time.Duration

	// Job API configuration
	JobAPIURL       string
	JobPollInterval time.Duration
	JobTimeout      time.Duration
	JobTokenURL     string
	JobClientID     string
	JobClientSecret string
	JobOAuthScopes  []string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// BatchStore configuration
	BatchStoreType string // "memory" or "redis"
	BatchStoreTTL  time.Duration
	EventMaxLen    int64

	// GraphStore configuration
	GraphMaxEntries int

	// Startup snapshot files. When set, a graph is built from these
	// local files at boot and cached in the graph store.
	SnapshotBaseFile    string
	SnapshotCurrentFile string
	SnapshotDiffFile    string

	// Snapshot storage (S3/MinIO)
	S3Endpoint        string
	S3Bucket          string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3UseSSL          bool
	S3PathPrefix      string

	// CORS configuration
	CORSOrigins []string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		// Server
		Port:          getEnv("PORT", "7080"),
		ReadTimeout:   getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:  getDuration("WRITE_TIMEOUT", 30*time.Second),
		ShutdownGrace: getDuration("SHUTDOWN_GRACE", 10*time.Second),

		// Job API
		JobAPIURL:       getEnv("JOB_API_URL", "http://localhost:8580"),
		JobPollInterval: getDuration("JOB_POLL_INTERVAL", time.Second),
		JobTimeout:      getDuration("JOB_REQUEST_TIMEOUT", 30*time.Second),
		JobTokenURL:     getEnv("JOB_OAUTH_TOKEN_URL", ""),
		JobClientID:     getEnv("JOB_OAUTH_CLIENT_ID", ""),
		JobClientSecret: getEnv("JOB_OAUTH_CLIENT_SECRET", ""),
		JobOAuthScopes:  getStringSlice("JOB_OAUTH_SCOPES", nil),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),

		// BatchStore
		BatchStoreType: getEnv("LINEAGE_BATCHSTORE", "memory"), // "memory" or "redis"
		BatchStoreTTL:  getDuration("BATCHSTORE_TTL", 7*24*time.Hour),
		EventMaxLen:    getInt64("EVENT_MAX_LEN", 5000),

		// GraphStore
		GraphMaxEntries: getInt("GRAPH_MAX_ENTRIES", 100),

		// Startup snapshot files
		SnapshotBaseFile:    getEnv("SNAPSHOT_BASE_FILE", ""),
		SnapshotCurrentFile: getEnv("SNAPSHOT_CURRENT_FILE", ""),
		SnapshotDiffFile:    getEnv("SNAPSHOT_DIFF_FILE", ""),

		// Snapshot storage
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3Bucket:          getEnv("S3_BUCKET", ""),
		S3Region:          getEnv("S3_REGION", ""),
		S3AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		S3UseSSL:          getBool("S3_USE_SSL", false),
		S3PathPrefix:      getEnv("S3_PATH_PREFIX", ""),

		// CORS
		CORSOrigins: getStringSlice("CORS_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		return strings.Split(val, ",")
	}
	return defaultVal
}
