package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the teachermon pipeline server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Storage   StorageConfig
	AI        AIConfig
	Media     MediaConfig
	Pipeline  PipelineConfig
	Quota     QuotaConfig
	Retention RetentionConfig
	Ingest    IngestConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL                string
	RateLimitPerMinute int
}

type StorageConfig struct {
	Backend string
	Path    string
	MinIO   MinIOConfig
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

type AIConfig struct {
	Provider         string
	InferenceTimeout time.Duration
	OpenAI           OpenAIConfig
	Ollama           OpenAICompatibleConfig
	VLLM             OpenAICompatibleConfig
	Gemini           GeminiConfig
}

type OpenAIConfig struct {
	APIKey             string
	Model              string
	TranscriptionModel string
	ImageModel         string
}

// OpenAICompatibleConfig covers self-hosted servers that speak the OpenAI API.
type OpenAICompatibleConfig struct {
	BaseURL            string
	Model              string
	TranscriptionModel string
	Vision             bool
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

type MediaConfig struct {
	FFmpegPath     string
	FrameInterval  time.Duration
	MaxFrames      int
	SpoolDir       string
	ReportMaxFrame int
}

type PipelineConfig struct {
	MaxRetries   int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	StageTimeout time.Duration
	Workers      int
	QueueSize    int
}

type QuotaConfig struct {
	DefaultLimitBytes int64
	ReservationTTL    time.Duration
}

type RetentionConfig struct {
	Days      int
	SweepCron string
}

type IngestConfig struct {
	MaxUploadBytes   int64
	LinkProbeTimeout time.Duration
}

var validProviders = map[string]bool{
	"mock":   true,
	"openai": true,
	"ollama": true,
	"vllm":   true,
	"gemini": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("TEACHERMON_PORT", 8080),
			Env:  envString("TEACHERMON_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:                os.Getenv("REDIS_URL"),
			RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
		Storage: StorageConfig{
			Backend: envString("STORAGE_BACKEND", "filesystem"),
			Path:    envString("STORAGE_PATH", "./data/artifacts"),
			MinIO: MinIOConfig{
				Endpoint:  os.Getenv("MINIO_ENDPOINT"),
				AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
				SecretKey: os.Getenv("MINIO_SECRET_KEY"),
				Bucket:    envString("MINIO_BUCKET", "teachermon-artifacts"),
				Region:    envString("MINIO_REGION", "us-east-1"),
				UseSSL:    envBool("MINIO_USE_SSL", false),
			},
		},
		AI: AIConfig{
			Provider:         os.Getenv("AI_PROVIDER"),
			InferenceTimeout: envDurationSecs("AI_INFERENCE_TIMEOUT_SECS", 120*time.Second),
			OpenAI: OpenAIConfig{
				APIKey:             os.Getenv("OPENAI_API_KEY"),
				Model:              envString("OPENAI_MODEL", "gpt-4o-mini"),
				TranscriptionModel: envString("OPENAI_TRANSCRIPTION_MODEL", "whisper-1"),
				ImageModel:         envString("OPENAI_IMAGE_MODEL", "dall-e-3"),
			},
			Ollama: OpenAICompatibleConfig{
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434/v1"),
				Model:   envString("OLLAMA_MODEL", "llama3"),
				Vision:  envBool("OLLAMA_VISION", false),
			},
			VLLM: OpenAICompatibleConfig{
				BaseURL:            envString("VLLM_BASE_URL", "http://localhost:8000/v1"),
				Model:              envString("VLLM_MODEL", ""),
				TranscriptionModel: envString("VLLM_TRANSCRIPTION_MODEL", ""),
				Vision:             envBool("VLLM_VISION", false),
			},
			Gemini: GeminiConfig{
				APIKey: os.Getenv("GEMINI_API_KEY"),
				Model:  envString("GEMINI_MODEL", "gemini-1.5-flash-latest"),
			},
		},
		Media: MediaConfig{
			FFmpegPath:     envString("FFMPEG_PATH", "ffmpeg"),
			FrameInterval:  envDurationSecs("FRAME_INTERVAL_SECS", 30*time.Second),
			MaxFrames:      envInt("MAX_FRAMES", 40),
			SpoolDir:       envString("SPOOL_DIR", os.TempDir()),
			ReportMaxFrame: envInt("REPORT_MAX_FRAMES", 6),
		},
		Pipeline: PipelineConfig{
			MaxRetries:   envInt("STAGE_MAX_RETRIES", 3),
			BackoffBase:  envDuration("STAGE_BACKOFF_BASE", time.Second),
			BackoffMax:   envDuration("STAGE_BACKOFF_MAX", 30*time.Second),
			StageTimeout: envDuration("STAGE_TIMEOUT", 10*time.Minute),
			Workers:      envInt("PIPELINE_WORKERS", 4),
			QueueSize:    envInt("PIPELINE_QUEUE_SIZE", 64),
		},
		Quota: QuotaConfig{
			DefaultLimitBytes: envInt64("QUOTA_DEFAULT_LIMIT_BYTES", 1<<30),
			ReservationTTL:    envDuration("QUOTA_RESERVATION_TTL", 2*time.Hour),
		},
		Retention: RetentionConfig{
			Days:      envInt("RETENTION_DAYS", 0),
			SweepCron: envString("SWEEP_CRON", "0 */15 * * * *"),
		},
		Ingest: IngestConfig{
			MaxUploadBytes:   envInt64("MAX_UPLOAD_BYTES", 2<<30),
			LinkProbeTimeout: envDuration("LINK_PROBE_TIMEOUT", 5*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	switch c.Storage.Backend {
	case "filesystem":
		if c.Storage.Path == "" {
			return fmt.Errorf("STORAGE_PATH is required when STORAGE_BACKEND is filesystem")
		}
	case "minio":
		if c.Storage.MinIO.Endpoint == "" {
			return fmt.Errorf("MINIO_ENDPOINT is required when STORAGE_BACKEND is minio")
		}
		if c.Storage.MinIO.AccessKey == "" || c.Storage.MinIO.SecretKey == "" {
			return fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when STORAGE_BACKEND is minio")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be one of filesystem, minio; got %q", c.Storage.Backend)
	}

	if c.AI.Provider == "" {
		return fmt.Errorf("AI_PROVIDER is required")
	}
	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of mock, openai, ollama, vllm, gemini; got %q", c.AI.Provider)
	}
	if c.AI.Provider == "openai" && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is openai")
	}
	if c.AI.Provider == "gemini" && c.AI.Gemini.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required when AI_PROVIDER is gemini")
	}
	if c.AI.Provider == "vllm" && c.AI.VLLM.Model == "" {
		return fmt.Errorf("VLLM_MODEL is required when AI_PROVIDER is vllm")
	}

	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("STAGE_MAX_RETRIES must be >= 0, got %d", c.Pipeline.MaxRetries)
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("PIPELINE_WORKERS must be > 0, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.StageTimeout <= 0 {
		return fmt.Errorf("STAGE_TIMEOUT must be positive")
	}

	if c.Quota.DefaultLimitBytes <= 0 {
		return fmt.Errorf("QUOTA_DEFAULT_LIMIT_BYTES must be > 0, got %d", c.Quota.DefaultLimitBytes)
	}

	if c.Retention.Days < 0 {
		return fmt.Errorf("RETENTION_DAYS must be >= 0, got %d", c.Retention.Days)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := strings.ToLower(os.Getenv(key))
	switch v {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
