package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds shared runtime configuration for the nightly orchestrator and the healthboard.
type Config struct {
	Env       string
	LogLevel  string
	LogFormat string

	LockPath     string
	ManifestPath string
	Tasks        []string
	Timezone     string
	RunDate      string
	Parallelism  int

	DefaultMaxAttempts int
	DefaultBackoff     time.Duration

	TaskLogDir     string
	TaskLogMaxMB   int
	UploadTaskLogs bool

	HealthLogBackend   string
	HealthLogDir       string
	HealthLogRetention time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PostgresDSN   string

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool

	AlertWebhookURL string
	AlertTimeout    time.Duration

	PushgatewayURL    string
	HTTPPort          string
	MetricsAddr       string
	RateLimitCapacity int
	RateLimitRefill   float64
}

// Load reads configuration from environment variables with sane defaults for local development.
func Load() Config {
	return Config{
		Env:                getEnv("APP_ENV", "dev"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "json"),
		LockPath:           getEnv("LOCK_PATH", "/tmp/auction-batch.lock"),
		ManifestPath:       getEnv("MANIFEST_PATH", "batch.yaml"),
		Tasks:              getEnvList("TASKS", nil),
		Timezone:           getEnv("RUN_TZ", "Asia/Seoul"),
		RunDate:            getEnv("RUN_DATE", ""),
		Parallelism:        getEnvInt("PARALLELISM", 1),
		DefaultMaxAttempts: getEnvInt("DEFAULT_MAX_ATTEMPTS", 3),
		DefaultBackoff:     getEnvDuration("DEFAULT_BACKOFF", time.Minute),
		TaskLogDir:         getEnv("TASK_LOG_DIR", "./logs"),
		TaskLogMaxMB:       getEnvInt("TASK_LOG_MAX_MB", 100),
		UploadTaskLogs:     getEnvBool("UPLOAD_TASK_LOGS", false),
		HealthLogBackend:   getEnv("HEALTH_LOG_BACKEND", "file"),
		HealthLogDir:       getEnv("HEALTH_LOG_DIR", "./logs/health"),
		HealthLogRetention: getEnvDuration("HEALTH_LOG_RETENTION", 90*24*time.Hour),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		PostgresDSN:        getEnv("POSTGRES_DSN", ""),
		S3Bucket:           getEnv("S3_BUCKET", ""),
		S3Region:           getEnv("S3_REGION", "ap-northeast-2"),
		S3Endpoint:         getEnv("S3_ENDPOINT", ""),
		S3PathStyle:        getEnvBool("S3_PATH_STYLE", false),
		AlertWebhookURL:    getEnv("ALERT_WEBHOOK_URL", ""),
		AlertTimeout:       getEnvDuration("ALERT_TIMEOUT", 10*time.Second),
		PushgatewayURL:     getEnv("PUSHGATEWAY_URL", ""),
		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		MetricsAddr:        getEnv("METRICS_ADDR", ":9090"),
		RateLimitCapacity:  getEnvInt("RATE_LIMIT_CAPACITY", 30),
		RateLimitRefill:    getEnvFloat("RATE_LIMIT_REFILL_PER_SEC", 0.5),
	}
}

// Location resolves the configured run timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
