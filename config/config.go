package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	AWS       AWSConfig
	Playback  PlaybackConfig
	Analytics AnalyticsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/kalpla?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT validation settings. Tokens are issued by the platform's
// auth service; this service only validates them.
type JWTConfig struct {
	Secret string
}

// AWSConfig holds AWS credentials and the content bucket for lesson media.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ContentBucket        string
	PresignExpireMinutes int
}

// PlaybackConfig holds engine timing and policy settings.
type PlaybackConfig struct {
	// CompletionPercent optionally marks a lesson completed once percent_watched
	// reaches it. 0 (the default) leaves completion to playing through to the end.
	CompletionPercent float64
	// ProgressInterval is the checkpoint cadence while playing.
	ProgressInterval time.Duration
	// RefreshInterval is the credential refresher tick.
	RefreshInterval time.Duration
	// RefreshMargin is the remaining-validity threshold that triggers a credential refresh.
	RefreshMargin time.Duration
	// CredentialTimeout bounds one credential fetch attempt.
	CredentialTimeout time.Duration
	// GuestMaxQuality caps the rendition served to guest viewers.
	GuestMaxQuality string
}

// AnalyticsConfig holds event pipeline settings.
type AnalyticsConfig struct {
	FlushInterval time.Duration
	FlushSize     int
	BufferCap     int
	CloseTimeout  time.Duration
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", "postgres://localhost:5432/kalpla?sslmode=disable"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "kalpla"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "change-me-in-production"),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ContentBucket:        getEnv("AWS_S3_CONTENT_BUCKET", "kalpla-lesson-content"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 30),
		},
		Playback: PlaybackConfig{
			CompletionPercent: getEnvFloat("PLAYBACK_COMPLETION_PERCENT", 0),
			ProgressInterval:  getEnvSeconds("PLAYBACK_PROGRESS_INTERVAL_SEC", 10),
			RefreshInterval:   getEnvSeconds("CREDENTIAL_REFRESH_INTERVAL_SEC", 30),
			RefreshMargin:     getEnvSeconds("CREDENTIAL_REFRESH_MARGIN_SEC", 300),
			CredentialTimeout: getEnvSeconds("CREDENTIAL_FETCH_TIMEOUT_SEC", 10),
			GuestMaxQuality:   getEnv("PLAYBACK_GUEST_MAX_QUALITY", "480p"),
		},
		Analytics: AnalyticsConfig{
			FlushInterval: getEnvSeconds("ANALYTICS_FLUSH_INTERVAL_SEC", 20),
			FlushSize:     getEnvInt("ANALYTICS_FLUSH_SIZE", 50),
			BufferCap:     getEnvInt("ANALYTICS_BUFFER_CAP", 512),
			CloseTimeout:  getEnvSeconds("ANALYTICS_CLOSE_TIMEOUT_SEC", 3),
		},
	}
	// Refresh checks must run at least once a minute so near-expiry credentials are caught in time.
	if cfg.Playback.RefreshInterval > time.Minute {
		cfg.Playback.RefreshInterval = time.Minute
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvSeconds(key string, fallbackSec int) time.Duration {
	return time.Duration(getEnvInt(key, fallbackSec)) * time.Second
}
