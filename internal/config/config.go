package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"storybook-server/pkg/logger"
)

// Config структура для хранения всей конфигурации приложения.
type Config struct {
	AppEnv     string `env:"APP_ENV" env-default:"development"`
	PromptsDir string `env:"PROMPTS_DIR"` // Пусто - используются вшитые шаблоны
	Logger     logger.Config
	HTTP       HTTPConfig
	Database   DatabaseConfig
	AI         AIConfig
	Redis      RedisConfig
	RabbitMQ   RabbitMQConfig
	MinIO      MinIOConfig
	Runs       RunsConfig
	BookCache  BookCacheConfig
	CORS       CORSConfig
}

// HTTPConfig настройки HTTP сервера.
type HTTPConfig struct {
	Port            string        `env:"HTTP_PORT" env-default:"8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" env-default:"30s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" env-default:"60s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"30s"`
	MaxBodyBytes    int64         `env:"HTTP_MAX_BODY_BYTES" env-default:"10485760"` // 10mb, как у сохранения книги
}

// DatabaseConfig настройки PostgreSQL.
type DatabaseConfig struct {
	URL      string `env:"DATABASE_URL"` // Если задан, остальные поля игнорируются
	Host     string `env:"DB_HOST" env-default:"localhost"`
	Port     int    `env:"DB_PORT" env-default:"5432"`
	User     string `env:"DB_USER" env-default:"postgres"`
	Password string `env:"DB_PASSWORD" env-default:"postgres"`
	Name     string `env:"DB_NAME" env-default:"storybook"`
	SSLMode  string `env:"DB_SSL_MODE" env-default:"disable"`
	MaxConns int32  `env:"DB_MAX_CONNECTIONS" env-default:"10"`
}

// AIConfig настройки провайдера генерации текста и изображений.
type AIConfig struct {
	ClientType          string        `env:"AI_CLIENT_TYPE" env-default:"openai"` // openai или ollama
	APIKey              string        `env:"OPENAI_API_KEY"`
	BaseURL             string        `env:"AI_BASE_URL"`
	TextModel           string        `env:"OPENAI_TEXT_MODEL" env-default:"gpt-5.1"`
	ImageModel          string        `env:"OPENAI_IMAGE_MODEL" env-default:"gpt-image-1"`
	ImageSize           string        `env:"AI_IMAGE_SIZE" env-default:"1024x1024"`
	ImageResponseFormat string        `env:"AI_IMAGE_RESPONSE_FORMAT"` // url, b64_json или пусто
	Timeout             time.Duration `env:"AI_TIMEOUT" env-default:"120s"`
	ImageRateInterval   time.Duration `env:"AI_IMAGE_RATE_INTERVAL" env-default:"0s"` // 0 - без ограничения
}

// RedisConfig настройки Redis. Пустой адрес отключает зеркало снимков.
type RedisConfig struct {
	Addr        string        `env:"REDIS_ADDR"`
	Password    string        `env:"REDIS_PASSWORD"`
	DB          int           `env:"REDIS_DB" env-default:"0"`
	SnapshotTTL time.Duration `env:"REDIS_SNAPSHOT_TTL" env-default:"24h"`
}

// RabbitMQConfig настройки RabbitMQ. Пустой URL отключает публикацию событий.
type RabbitMQConfig struct {
	URL          string `env:"RABBITMQ_URL"`
	BookExchange string `env:"RABBITMQ_BOOK_EXCHANGE" env-default:"book_events"`
}

// MinIOConfig настройки выгрузки встроенных изображений. Пустой endpoint отключает выгрузку.
type MinIOConfig struct {
	Endpoint      string `env:"MINIO_ENDPOINT"`
	AccessKey     string `env:"MINIO_ACCESS_KEY"`
	SecretKey     string `env:"MINIO_SECRET_KEY"`
	Bucket        string `env:"MINIO_BUCKET" env-default:"storybook-images"`
	UseSSL        bool   `env:"MINIO_USE_SSL" env-default:"false"`
	PublicBaseURL string `env:"MINIO_PUBLIC_BASE_URL"` // Пусто - http(s)://endpoint/bucket
}

// RunsConfig настройки фоновых запусков генерации.
type RunsConfig struct {
	MaxActive       int           `env:"RUNS_MAX_ACTIVE" env-default:"10"`
	Retention       time.Duration `env:"RUNS_RETENTION" env-default:"1h"`
	CleanupInterval time.Duration `env:"RUNS_CLEANUP_INTERVAL" env-default:"10m"`
}

// BookCacheConfig настройки кеша чтения книг.
type BookCacheConfig struct {
	TTL             time.Duration `env:"BOOK_CACHE_TTL" env-default:"30m"`
	CleanupInterval time.Duration `env:"BOOK_CACHE_CLEANUP_INTERVAL" env-default:"1h"`
}

// CORSConfig настройки CORS.
type CORSConfig struct {
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" env-separator:"," env-default:"*"`
}

// Load загружает конфигурацию из переменных окружения и .env файла.
func Load() (*Config, error) {
	// .env не обязателен
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("error loading configuration: %w", err)
	}
	return &cfg, nil
}

// GetDSN возвращает строку подключения к PostgreSQL.
func (c DatabaseConfig) GetDSN() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     c.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// MaskedDSN строка подключения без пароля, для логов.
func (c DatabaseConfig) MaskedDSN() string {
	u, err := url.Parse(c.GetDSN())
	if err != nil {
		return "<invalid dsn>"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "****")
	}
	return u.String()
}
