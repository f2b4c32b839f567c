// Package config provides configuration loading and validation.
package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port      string
	Env       string
	LogLevel  string
	LogFormat string

	// CORS
	AllowedOrigins []string

	// Turnstile
	TurnstileSecretKey string
	TurnstileSkip      bool

	// Rate Limiting
	RateLimitRPM       int
	RateLimitBurst     int
	InfoRateLimitRPM   int
	InfoRateLimitBurst int

	// Worker Pool
	MaxWorkers   int
	MaxQueueSize int

	// External tools
	YtDlpPath       string
	FFmpegPath      string
	DownloadTimeout time.Duration
	InfoTimeout     time.Duration
	UserAgent       string

	// Scratch directory lifecycle
	TempDir       string
	DeleteDelay   time.Duration
	SweepInterval time.Duration
	SweepMaxAge   time.Duration

	// Metadata cache
	InfoCacheTTL time.Duration

	// History
	DataDir          string
	HistoryRetention time.Duration

	// R2 Storage
	R2AccountID        string
	R2AccessKeyID      string
	R2SecretAccessKey  string
	R2BucketName       string
	R2Endpoint         string // overrides the account endpoint
	PresignedURLExpiry time.Duration
	R2CleanupInterval  time.Duration
	R2MaxFileAge       time.Duration

	// URL policy
	AllowedDomains []string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	env := getEnv("ENV", "development")
	logFormat := "text"
	if env == "production" {
		logFormat = "json"
	}

	cfg := &Config{
		// Server
		Port:      getEnv("PORT", "8000"),
		Env:       env,
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", logFormat),

		// CORS
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", "http://localhost:3000,http://127.0.0.1:3000,http://localhost:3001"),

		// Turnstile
		TurnstileSecretKey: getEnv("TURNSTILE_SECRET_KEY", ""),
		TurnstileSkip:      getEnvBool("TURNSTILE_SKIP", true),

		// Rate Limiting
		RateLimitRPM:       getEnvInt("RATE_LIMIT_RPM", 10),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 3),
		InfoRateLimitRPM:   getEnvInt("INFO_RATE_LIMIT_RPM", 30),
		InfoRateLimitBurst: getEnvInt("INFO_RATE_LIMIT_BURST", 10),

		// Worker Pool
		MaxWorkers:   getEnvInt("MAX_WORKERS", 3),
		MaxQueueSize: getEnvInt("MAX_QUEUE_SIZE", 10),

		// External tools
		YtDlpPath:       getEnv("YTDLP_PATH", "yt-dlp"),
		FFmpegPath:      getEnv("FFMPEG_PATH", "ffmpeg"),
		DownloadTimeout: getEnvSeconds("DOWNLOAD_TIMEOUT", 600),
		InfoTimeout:     getEnvSeconds("INFO_TIMEOUT", 60),
		UserAgent:       getEnv("USER_AGENT", defaultUserAgent),

		// Scratch directory lifecycle
		TempDir:       getEnv("TEMP_DIR", filepath.Join(os.TempDir(), "yt-downloader")),
		DeleteDelay:   getEnvSeconds("DELETE_DELAY", 300),
		SweepInterval: getEnvSeconds("SWEEP_INTERVAL", 900),
		SweepMaxAge:   getEnvSeconds("SWEEP_MAX_AGE", 1800),

		// Metadata cache
		InfoCacheTTL: getEnvSeconds("INFO_CACHE_TTL", 600),

		// History
		DataDir:          getEnv("DATA_DIR", "./data"),
		HistoryRetention: getEnvSeconds("HISTORY_RETENTION", 86400),

		// R2 Storage
		R2AccountID:        getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:      getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey:  getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:       getEnv("R2_BUCKET_NAME", ""),
		R2Endpoint:         getEnv("R2_ENDPOINT", ""),
		PresignedURLExpiry: time.Duration(getEnvInt("PRESIGNED_URL_EXPIRY", 15)) * time.Minute,
		R2CleanupInterval:  time.Duration(getEnvInt("R2_CLEANUP_INTERVAL", 30)) * time.Minute,
		R2MaxFileAge:       time.Duration(getEnvInt("R2_MAX_FILE_AGE", 60)) * time.Minute,

		// URL policy
		AllowedDomains: getEnvList("ALLOWED_DOMAINS", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the lifecycle settings are usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.TempDir) == "" {
		return errors.New("TEMP_DIR must not be empty")
	}
	if c.DeleteDelay <= 0 {
		return errors.New("DELETE_DELAY must be positive")
	}
	if c.SweepInterval <= 0 {
		return errors.New("SWEEP_INTERVAL must be positive")
	}
	if c.SweepMaxAge <= 0 {
		return errors.New("SWEEP_MAX_AGE must be positive")
	}
	if c.DownloadTimeout <= 0 || c.InfoTimeout <= 0 {
		return errors.New("tool timeouts must be positive")
	}
	return nil
}

// R2Enabled reports whether every R2 credential is present.
func (c *Config) R2Enabled() bool {
	return c.R2AccountID != "" && c.R2AccessKeyID != "" && c.R2SecretAccessKey != "" && c.R2BucketName != ""
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvSeconds reads an integer number of seconds.
func getEnvSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, defaultSeconds)) * time.Second
}

func getEnvList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	if raw == "" {
		return nil
	}

	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
