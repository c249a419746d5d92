package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config centralizes runtime settings for the API, worker and migrations.
type Config struct {
	Port string

	JWTSecret    string
	DevAuthToken string

	DatabaseURL string

	MathpixAppID     string
	MathpixAppKey    string
	MathpixBaseURL   string
	MathpixTimeoutMS int

	ConversionMaxAttempts    int
	ConversionRetryBaseMS    int
	ConversionPollIntervalMS int
	ConversionPollAttempts   int
	ConversionMinConfidence  float64

	ResolveTimeoutMS   int
	ResolveConcurrency int

	StorageBackend       string
	GCSBucket            string
	MinioEndpoint        string
	MinioAccessKey       string
	MinioSecretKey       string
	MinioBucket          string
	MinioUseSSL          bool
	StorageURLTTLSeconds int
	PublicBaseURL        string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisStream   string
	RedisDLQ      string
	RedisGroup    string
	RedisConsumer string

	QueueBackend  string
	RabbitMQURL   string
	RabbitMQQueue string

	QueueBatchingEnabled     bool
	QueueBatchSize           int
	QueueBatchFlushMS        int
	QueueBatchFlushTimeoutMS int
	QueueBatchQueueCapacity  int
	QueueBatchMaxInFlight    int

	AIProvider              string
	AITimeoutMS             int
	AIMaxRetries            int
	OpenAIAPIKey            string
	OpenAIBaseURL           string
	OpenAIOrganization      string
	OpenRouterAPIKey        string
	OpenRouterBaseURL       string
	OpenRouterSiteURL       string
	VertexProjectID         string
	VertexRegion            string
	ModelExercisesPrimary   string
	ModelExercisesFallback  string
	ModelSolutionPrimary    string
	ModelSolutionFallback   string
	GenerationCacheTTLSecs  int
	GenerationCacheEntries  int
	GenerationMaxInputToken int

	UploadMaxBytes int64
	UploadMaxPages int

	RateLimitRPS       float64
	RateLimitBurst     int
	CORSAllowedOrigins []string
	SessionIdleMinutes int

	WorkerEnabled bool
}

func Load() Config {
	port := getEnv("PORT", "8080")
	return Config{
		Port: port,

		JWTSecret:    getEnv("JWT_SECRET", ""),
		DevAuthToken: getEnv("API_AUTH_TOKEN", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		MathpixAppID:     getEnv("MATHPIX_APP_ID", ""),
		MathpixAppKey:    getEnv("MATHPIX_APP_KEY", ""),
		MathpixBaseURL:   getEnv("MATHPIX_BASE_URL", "https://api.mathpix.com/v3"),
		MathpixTimeoutMS: getEnvInt("MATHPIX_TIMEOUT_MS", 30000),

		ConversionMaxAttempts:    getEnvInt("CONVERSION_MAX_ATTEMPTS", 3),
		ConversionRetryBaseMS:    getEnvInt("CONVERSION_RETRY_BASE_MS", 1000),
		ConversionPollIntervalMS: getEnvInt("CONVERSION_POLL_INTERVAL_MS", 10000),
		ConversionPollAttempts:   getEnvInt("CONVERSION_POLL_ATTEMPTS", 30),
		ConversionMinConfidence:  getEnvFloat("CONVERSION_MIN_CONFIDENCE", 0.7),

		ResolveTimeoutMS:   getEnvInt("RESOLVE_TIMEOUT_MS", 30000),
		ResolveConcurrency: getEnvInt("RESOLVE_CONCURRENCY", 8),

		StorageBackend:       strings.ToLower(getEnv("STORAGE_BACKEND", "memory")),
		GCSBucket:            getEnv("GCS_BUCKET", ""),
		MinioEndpoint:        getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey:       getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:       getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:          getEnv("MINIO_BUCKET", "mathdoc"),
		MinioUseSSL:          getEnvBool("MINIO_USE_SSL", false),
		StorageURLTTLSeconds: getEnvInt("STORAGE_URL_TTL_SECONDS", 900),
		PublicBaseURL:        getEnv("PUBLIC_BASE_URL", "http://localhost:"+port),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisStream:   getEnv("REDIS_STREAM", "ingest_jobs"),
		RedisDLQ:      getEnv("REDIS_DLQ_STREAM", "ingest_jobs_dlq"),
		RedisGroup:    getEnv("REDIS_GROUP", "ingest_workers"),
		RedisConsumer: getEnv("REDIS_CONSUMER", "api-1"),

		QueueBackend:  strings.ToLower(getEnv("QUEUE_BACKEND", "local")),
		RabbitMQURL:   getEnv("RABBITMQ_URL", ""),
		RabbitMQQueue: getEnv("RABBITMQ_QUEUE", "ingest_jobs"),

		QueueBatchingEnabled:     getEnvBool("QUEUE_BATCHING_ENABLED", true),
		QueueBatchSize:           getEnvInt("QUEUE_BATCH_SIZE", 32),
		QueueBatchFlushMS:        getEnvInt("QUEUE_BATCH_FLUSH_MS", 25),
		QueueBatchFlushTimeoutMS: getEnvInt("QUEUE_BATCH_FLUSH_TIMEOUT_MS", 3000),
		QueueBatchQueueCapacity:  getEnvInt("QUEUE_BATCH_QUEUE_CAPACITY", 2048),
		QueueBatchMaxInFlight:    getEnvInt("QUEUE_BATCH_MAX_IN_FLIGHT", 4),

		AIProvider:              strings.ToLower(getEnv("AI_PROVIDER", "openrouter")),
		AITimeoutMS:             getEnvInt("AI_TIMEOUT_MS", 30000),
		AIMaxRetries:            getEnvInt("AI_MAX_RETRIES", 2),
		OpenAIAPIKey:            getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:           getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIOrganization:      getEnv("OPENAI_ORGANIZATION", ""),
		OpenRouterAPIKey:        getEnv("OPENROUTER_API_KEY", ""),
		OpenRouterBaseURL:       getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterSiteURL:       getEnv("OPENROUTER_SITE_URL", ""),
		VertexProjectID:         getEnv("VERTEX_PROJECT_ID", ""),
		VertexRegion:            getEnv("VERTEX_REGION", "us-central1"),
		ModelExercisesPrimary:   getEnv("AI_MODEL_EXERCISES_PRIMARY", ""),
		ModelExercisesFallback:  getEnv("AI_MODEL_EXERCISES_FALLBACK", ""),
		ModelSolutionPrimary:    getEnv("AI_MODEL_SOLUTION_PRIMARY", ""),
		ModelSolutionFallback:   getEnv("AI_MODEL_SOLUTION_FALLBACK", ""),
		GenerationCacheTTLSecs:  getEnvInt("GENERATION_CACHE_TTL_SECONDS", 1800),
		GenerationCacheEntries:  getEnvInt("GENERATION_CACHE_MAX_ENTRIES", 500),
		GenerationMaxInputToken: getEnvInt("GENERATION_MAX_INPUT_TOKENS", 6000),

		UploadMaxBytes: int64(getEnvInt("UPLOAD_MAX_BYTES", 20<<20)),
		UploadMaxPages: getEnvInt("UPLOAD_MAX_PAGES", 200),

		RateLimitRPS:       getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 40),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		SessionIdleMinutes: getEnvInt("SESSION_IDLE_MINUTES", 60),

		WorkerEnabled: getEnvBool("WORKER_ENABLED", true),
	}
}

func (c Config) MathpixTimeout() time.Duration {
	return time.Duration(c.MathpixTimeoutMS) * time.Millisecond
}

func (c Config) ResolveTimeout() time.Duration {
	return time.Duration(c.ResolveTimeoutMS) * time.Millisecond
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvList splits a comma separated value, dropping blanks.
func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	items := make([]string, 0)
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	if len(items) == 0 {
		return fallback
	}
	return items
}
