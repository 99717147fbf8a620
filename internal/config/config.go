// Package config holds the process-wide, immutable configuration for the
// caching core. It is built once at startup (see cmd/spcserver) and passed
// explicitly into constructors — nothing here is read from a package-level
// global at call time.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config mirrors the "Configuration (process-wide state...)" table in §6 of
// the specification.
type Config struct {
	NumBuckets            int
	MaxConcurrentRequests int
	LoadingDelay          time.Duration
	CacheVersion          string

	PollInterval    time.Duration
	MaxPollAttempts int

	ModelMaxRetries       int
	ModelInitialBackoff   time.Duration

	DefaultOutputFormat  string
	DefaultOutputQuality int
	DefaultSampleRatio   float64
	DefaultCropFactor    float64
	DefaultSrcRatio      float64

	// SPC-side wiring, read by cmd/spcserver.
	ListenAddr       string
	RedisAddr        string
	S3Bucket         string
	S3KeyPrefix      string
	PostgresDSN      string
	KafkaBrokers     []string
	KafkaTopic       string
	ModelServiceURL  string
	ModelServiceAuth string
	ModelID          string

	BreakerFailureThreshold int
	BreakerWindow           time.Duration
	BreakerBaseBackoff      time.Duration
	BreakerMaxBackoff       time.Duration
}

// Default returns the configuration defaults named in the spec.
func Default() Config {
	return Config{
		NumBuckets:            6,
		MaxConcurrentRequests: 250,
		LoadingDelay:          120 * time.Millisecond,
		CacheVersion:          "v1",

		PollInterval:    time.Second,
		MaxPollAttempts: 30,

		ModelMaxRetries:     3,
		ModelInitialBackoff: 100 * time.Millisecond,

		DefaultOutputFormat:  "webp",
		DefaultOutputQuality: 100,
		DefaultSampleRatio:   1,
		DefaultCropFactor:    2.5,
		DefaultSrcRatio:      1,

		ListenAddr:   ":8080",
		RedisAddr:    "localhost:6379",
		S3Bucket:     "facecache-artifacts",
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "facecache.outcomes",
		ModelID:      "default",

		BreakerFailureThreshold: 5,
		BreakerWindow:           30 * time.Second,
		BreakerBaseBackoff:      time.Second,
		BreakerMaxBackoff:       30 * time.Second,
	}
}

// FromEnv overlays environment-variable overrides onto Default(), the same
// override-if-set shape as the teacher's initDB/initRedis helpers.
func FromEnv() Config {
	cfg := Default()

	if v := os.Getenv("NUM_BUCKETS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.NumBuckets = n
		}
	}
	if v := os.Getenv("MAX_CONCURRENT_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrentRequests = n
		}
	}
	if v := os.Getenv("LOADING_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoadingDelay = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("CACHE_VERSION"); v != "" {
		cfg.CacheVersion = v
	}
	if v := os.Getenv("POLL_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PollInterval = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("MAX_POLL_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxPollAttempts = n
		}
	}
	if v := os.Getenv("MODEL_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ModelMaxRetries = n
		}
	}
	if v := os.Getenv("MODEL_INITIAL_BACKOFF_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ModelInitialBackoff = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("S3_BUCKET"); v != "" {
		cfg.S3Bucket = v
	}
	if v := os.Getenv("S3_KEY_PREFIX"); v != "" {
		cfg.S3KeyPrefix = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.KafkaTopic = v
	}
	if v := os.Getenv("MODEL_SERVICE_URL"); v != "" {
		cfg.ModelServiceURL = v
	}
	if v := os.Getenv("MODEL_SERVICE_AUTH"); v != "" {
		cfg.ModelServiceAuth = v
	}
	if v := os.Getenv("MODEL_ID"); v != "" {
		cfg.ModelID = v
	}
	return cfg
}
