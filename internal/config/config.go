package config

import (
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
)

type Config struct {
	API       APIConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	RateLimit RateLimitConfig
	Webhook   WebhookConfig
	Telemetry TelemetryConfig
	Imaging   ImagingConfig
}

type APIConfig struct {
	Addr         string
	PresignTTL   time.Duration
	MaxBodyBytes int64
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency    int
	MaxActiveJobs  int
	LocalOutputDir string
	MetricsAddr    string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// DatabaseConfig selects the job store. An empty DSN keeps jobs in memory.
type DatabaseConfig struct {
	DSN string
}

// RateLimitConfig admits Capacity units per Window per user and route.
// Synchronous image requests cost ImageCost units each, everything else 1.
type RateLimitConfig struct {
	Enabled      bool
	Capacity     int
	Window       time.Duration
	ImageCost    int
	UserIDHeader string
}

type WebhookConfig struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type TelemetryConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

// ImagingConfig tunes the transform pipeline. When Seeded is set, mutation
// and shuffling draw from a generator seeded with Seed (0 included);
// otherwise they use the process-wide generator. MaxDecodeBytes caps the
// decoded RGBA raster, not the encoded input.
type ImagingConfig struct {
	Strict                  bool
	MaxInputBytes           int64
	MaxDecodeBytes          int64
	DefaultCompressionLevel int
	Seed                    uint64
	Seeded                  bool
}

func Load() Config {
	defaultWorkerSlots := max(1, runtime.NumCPU()/2)
	seed, seeded := envUint64("PIXELMIX_SEED")

	return Config{
		API: APIConfig{
			Addr:         env("PIXELMIX_API_ADDR", ":8080"),
			PresignTTL:   envDuration("PIXELMIX_PRESIGN_TTL", 15*time.Minute),
			MaxBodyBytes: envInt64("PIXELMIX_API_MAX_BODY_BYTES", 32<<20),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
		},
		Worker: WorkerConfig{
			Concurrency:    envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveJobs:  envInt("WORKER_MAX_ACTIVE_JOBS", defaultWorkerSlots),
			LocalOutputDir: env("WORKER_LOCAL_OUTPUT_DIR", "./.pixelmix-output"),
			MetricsAddr:    env("WORKER_METRICS_ADDR", ":9091"),
		},
		Storage: StorageConfig{
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "pixelmix-jobs"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		RateLimit: RateLimitConfig{
			Enabled:      envBool("RATE_LIMIT_ENABLED", true),
			Capacity:     envInt("RATE_LIMIT_CAPACITY", 60),
			Window:       envDuration("RATE_LIMIT_WINDOW", time.Minute),
			ImageCost:    envInt("RATE_LIMIT_IMAGE_COST", 4),
			UserIDHeader: env("RATE_LIMIT_USER_HEADER", "X-User-ID"),
		},
		Webhook: WebhookConfig{
			SigningSecret:  env("WEBHOOK_SIGNING_SECRET", ""),
			Timeout:        envDuration("WEBHOOK_TIMEOUT", 10*time.Second),
			MaxAttempts:    envInt("WEBHOOK_MAX_ATTEMPTS", 3),
			InitialBackoff: envDuration("WEBHOOK_INITIAL_BACKOFF", time.Second),
			MaxBackoff:     envDuration("WEBHOOK_MAX_BACKOFF", 10*time.Second),
		},
		Telemetry: TelemetryConfig{
			Exporter:     env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		},
		Imaging: ImagingConfig{
			Strict:                  envBool("PIXELMIX_STRICT", false),
			MaxInputBytes:           envInt64("PIXELMIX_MAX_INPUT_BYTES", 32<<20),
			MaxDecodeBytes:          envInt64("PIXELMIX_MAX_DECODE_BYTES", 512<<20),
			DefaultCompressionLevel: envInt("PIXELMIX_COMPRESSION_LEVEL", 6),
			Seed:                    seed,
			Seeded:                  seeded,
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envInt64(key string, fallback int64) int64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// envUint64 reports whether key holds a valid unsigned value, so that 0 can
// be told apart from unset.
func envUint64(key string) (uint64, bool) {
	value := env(key, "")
	if value == "" {
		return 0, false
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
