package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	JobQueueInline = "inline"
	JobQueueAsynq  = "asynq"
)

// LoadDotEnv loads environment variables from a .env file if present.
// Existing environment variables are not overwritten.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

type Config struct {
	Port        string `env:"PORT"`
	DatabaseURL string `env:"DATABASE_URL"`

	MaxSeatsPerRoom    int           `env:"MAX_SEATS_PER_ROOM"`
	PingInterval       time.Duration `env:"PING_INTERVAL"`
	LivenessTimeout    time.Duration `env:"LIVENESS_TIMEOUT"`
	LivenessAnyTraffic bool          `env:"LIVENESS_ANY_TRAFFIC"`
	WriteWait          time.Duration `env:"WRITE_WAIT"`
	SessionQueueSize   int           `env:"SESSION_QUEUE_SIZE"`
	SessionRateLimit   float64       `env:"SESSION_RATE_LIMIT"`
	SessionRateBurst   int           `env:"SESSION_RATE_BURST"`

	GenerationTimeout    time.Duration `env:"GENERATION_TIMEOUT"`
	GenerationRetries    int           `env:"GENERATION_RETRIES"`
	GenerationRetryDelay time.Duration `env:"GENERATION_RETRY_DELAY"`
	RenderConcurrency    int           `env:"RENDER_CONCURRENCY"`

	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME"`
	DBConnMaxIdleTime time.Duration `env:"DB_CONN_MAX_IDLE_TIME"`

	OpenAIAPIKey            string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL           string `env:"OPENAI_BASE_URL"`
	OpenAIImageModel        string `env:"OPENAI_IMAGE_MODEL"`
	OpenAIImageSize         string `env:"OPENAI_IMAGE_SIZE"`
	OpenAITranslateModel    string `env:"OPENAI_TRANSLATE_MODEL"`
	TranslateTargetLanguage string `env:"TRANSLATE_TARGET_LANGUAGE"`

	RedisAddr           string        `env:"REDIS_ADDR"`
	RedisPassword       string        `env:"REDIS_PASSWORD"`
	RedisDB             int           `env:"REDIS_DB"`
	TranslationCacheTTL time.Duration `env:"TRANSLATION_CACHE_TTL"`

	JobQueue          string        `env:"JOB_QUEUE"`
	JobQueueName      string        `env:"JOB_QUEUE_NAME"`
	JobPollInterval   time.Duration `env:"JOB_POLL_INTERVAL"`
	WorkerConcurrency int           `env:"WORKER_CONCURRENCY"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	LogLevel  string `env:"LOG_LEVEL"`
	LogFormat string `env:"LOG_FORMAT"`
}

func Default() Config {
	return Config{
		Port:                    "8080",
		MaxSeatsPerRoom:         6,
		PingInterval:            5 * time.Second,
		LivenessTimeout:         10 * time.Second,
		LivenessAnyTraffic:      true,
		WriteWait:               5 * time.Second,
		SessionQueueSize:        64,
		SessionRateLimit:        20,
		SessionRateBurst:        40,
		GenerationTimeout:       60 * time.Second,
		GenerationRetries:       2,
		GenerationRetryDelay:    500 * time.Millisecond,
		RenderConcurrency:       4,
		DBMaxOpenConns:          10,
		DBMaxIdleConns:          10,
		DBConnMaxLifetime:       5 * time.Minute,
		DBConnMaxIdleTime:       time.Minute,
		OpenAIBaseURL:           "https://api.openai.com/v1",
		OpenAIImageModel:        "dall-e-3",
		OpenAIImageSize:         "1024x1024",
		OpenAITranslateModel:    "gpt-4o-mini",
		TranslateTargetLanguage: "English",
		TranslationCacheTTL:     24 * time.Hour,
		JobQueue:                JobQueueInline,
		JobQueueName:            "render",
		JobPollInterval:         250 * time.Millisecond,
		WorkerConcurrency:       4,
		LogLevel:                "info",
		LogFormat:               "text",
	}
}

// Load overlays environment variables on top of Default.
func Load() (Config, error) {
	cfg := Default()
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.MaxSeatsPerRoom <= 0 {
		return fmt.Errorf("MAX_SEATS_PER_ROOM must be positive, got %d", c.MaxSeatsPerRoom)
	}
	if c.PingInterval <= 0 || c.LivenessTimeout <= 0 {
		return fmt.Errorf("PING_INTERVAL and LIVENESS_TIMEOUT must be positive")
	}
	if c.GenerationTimeout <= 0 {
		return fmt.Errorf("GENERATION_TIMEOUT must be positive")
	}
	if c.GenerationRetries < 0 {
		return fmt.Errorf("GENERATION_RETRIES must not be negative")
	}
	switch c.JobQueue {
	case JobQueueInline:
	case JobQueueAsynq:
		if c.RedisAddr == "" {
			return fmt.Errorf("JOB_QUEUE=asynq requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unknown JOB_QUEUE %q", c.JobQueue)
	}
	return nil
}

func (c Config) Addr() string {
	port := strings.TrimPrefix(c.Port, ":")
	return ":" + port
}

// ConfigureLogger applies LOG_LEVEL and LOG_FORMAT to the standard logrus logger.
func ConfigureLogger(c Config) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		logrus.WithField("level", c.LogLevel).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if strings.EqualFold(c.LogFormat, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}
