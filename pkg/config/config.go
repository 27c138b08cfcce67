package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultCodePattern = `^[A-Za-z0-9_-]+$`
	// DefaultClientIDHashSalt is used when no salt is configured. It is public, so hashes built with it are guessable.
	DefaultClientIDHashSalt = "go-url-redirector-default-salt"

	WriteModeConditional   = "conditional"
	WriteModeUnconditional = "unconditional"

	maxFlushBatchSize = 32
)

type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"database_url"`
	QueueURL    string `yaml:"queue_url"`
	QueueName   string `yaml:"queue_name"`
	AppEnv      string `yaml:"app_env"`
	BaseURL     string `yaml:"base_url"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`

	CodeMinLength int    `yaml:"code_min_length"`
	CodeMaxLength int    `yaml:"code_max_length"`
	CodePattern   string `yaml:"code_pattern"`

	RateLimitPerClientPerMinute int    `yaml:"rate_limit_per_client_per_minute"`
	ClientIDHeader              string `yaml:"client_id_header"`
	CountryHeader               string `yaml:"country_header"`
	ClientIDHashSalt            string `yaml:"client_id_hash_salt"`

	FlushEnabled           bool          `yaml:"flush_enabled"`
	FlushMaxMessages       int           `yaml:"flush_max_messages"`
	FlushBatchSize         int           `yaml:"flush_batch_size"`
	FlushIntervalMinutes   int           `yaml:"flush_interval_minutes"`
	FlushVisibilityTimeout time.Duration `yaml:"flush_visibility_timeout"`
	FlushWriteMode         string        `yaml:"flush_write_mode"`

	GoogleClientID     string   `yaml:"google_client_id"`
	GoogleClientSecret string   `yaml:"google_client_secret"`
	GoogleRedirectURL  string   `yaml:"google_redirect_url"`
	JWTSecret          string   `yaml:"jwt_secret"`
	FrontendURL        string   `yaml:"frontend_url"`
	AllowedEmails      []string `yaml:"allowed_emails"`

	// SaltDefaulted is set when ClientIDHashSalt fell back to DefaultClientIDHashSalt
	SaltDefaulted bool `yaml:"-"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Port:        "8080",
		DatabaseURL: "file:db.sqlite",
		QueueURL:    "memory://",
		QueueName:   "visits",
		AppEnv:      "local",
		BaseURL:     "http://localhost:8080",
		LogLevel:    "info",
		LogFormat:   "text",

		CodeMinLength: 4,
		CodeMaxLength: 12,
		CodePattern:   DefaultCodePattern,

		RateLimitPerClientPerMinute: 60,
		ClientIDHeader:              "X-Forwarded-For",
		CountryHeader:               "CF-IPCountry",

		FlushEnabled:           true,
		FlushMaxMessages:       5000,
		FlushBatchSize:         maxFlushBatchSize,
		FlushIntervalMinutes:   5,
		FlushVisibilityTimeout: 2 * time.Minute,
		FlushWriteMode:         WriteModeConditional,

		GoogleRedirectURL: "http://localhost:8080/auth/google/callback",
		JWTSecret:         "secret",
		FrontendURL:       "http://localhost:8080/dashboard",
	}
}

// Load reads .env (if present), then the YAML file named by CONFIG_FILE (if set),
// then environment variables. Later sources win.
func Load() (*Config, error) {
	_ = godotenv.Load() // Ignore error if .env not found (e.g. prod)

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	return cfg, cfg.normalize()
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.QueueURL = getEnv("QUEUE_URL", c.QueueURL)
	c.QueueName = getEnv("QUEUE_NAME", c.QueueName)
	c.AppEnv = getEnv("APP_ENV", c.AppEnv)
	c.BaseURL = getEnv("BASE_URL", c.BaseURL)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)

	c.CodeMinLength = getEnvInt("CODE_MIN_LENGTH", c.CodeMinLength)
	c.CodeMaxLength = getEnvInt("CODE_MAX_LENGTH", c.CodeMaxLength)
	c.CodePattern = getEnv("CODE_PATTERN", c.CodePattern)

	c.RateLimitPerClientPerMinute = getEnvInt("RATE_LIMIT_PER_CLIENT_PER_MINUTE", c.RateLimitPerClientPerMinute)
	c.ClientIDHeader = getEnv("CLIENT_ID_HEADER", c.ClientIDHeader)
	c.CountryHeader = getEnv("COUNTRY_HEADER", c.CountryHeader)
	c.ClientIDHashSalt = getEnv("CLIENT_ID_HASH_SALT", c.ClientIDHashSalt)

	c.FlushEnabled = getEnvBool("FLUSH_ENABLED", c.FlushEnabled)
	c.FlushMaxMessages = getEnvInt("FLUSH_MAX_MESSAGES", c.FlushMaxMessages)
	c.FlushBatchSize = getEnvInt("FLUSH_BATCH_SIZE", c.FlushBatchSize)
	c.FlushIntervalMinutes = getEnvInt("FLUSH_INTERVAL_MINUTES", c.FlushIntervalMinutes)
	c.FlushVisibilityTimeout = getEnvDuration("FLUSH_VISIBILITY_TIMEOUT", c.FlushVisibilityTimeout)
	c.FlushWriteMode = getEnv("FLUSH_WRITE_MODE", c.FlushWriteMode)

	c.GoogleClientID = getEnv("GOOGLE_CLIENT_ID", c.GoogleClientID)
	c.GoogleClientSecret = getEnv("GOOGLE_CLIENT_SECRET", c.GoogleClientSecret)
	c.GoogleRedirectURL = getEnv("GOOGLE_REDIRECT_URL", c.GoogleRedirectURL)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.FrontendURL = getEnv("FRONTEND_URL", c.FrontendURL)
	if v, ok := os.LookupEnv("ALLOWED_EMAILS"); ok {
		c.AllowedEmails = splitList(v)
	}
}

// normalize clamps numeric settings into range and reports settings it had to replace
func (c *Config) normalize() error {
	var errs []error

	c.FlushBatchSize = clamp(c.FlushBatchSize, 1, maxFlushBatchSize)
	if c.FlushMaxMessages < 1 {
		c.FlushMaxMessages = 1
	}
	if c.FlushIntervalMinutes < 1 {
		c.FlushIntervalMinutes = 1
	}
	if c.FlushVisibilityTimeout <= 0 {
		c.FlushVisibilityTimeout = 2 * time.Minute
	}
	if c.RateLimitPerClientPerMinute < 1 {
		c.RateLimitPerClientPerMinute = 1
	}
	if c.CodeMinLength < 1 {
		c.CodeMinLength = 1
	}
	if c.CodeMaxLength < c.CodeMinLength {
		errs = append(errs, fmt.Errorf("code max length %d below min length %d", c.CodeMaxLength, c.CodeMinLength))
		c.CodeMaxLength = c.CodeMinLength
	}
	if _, err := regexp.Compile(c.CodePattern); err != nil {
		errs = append(errs, fmt.Errorf("code pattern: %w", err))
		c.CodePattern = DefaultCodePattern
	}

	switch c.FlushWriteMode {
	case WriteModeConditional, WriteModeUnconditional:
	default:
		errs = append(errs, fmt.Errorf("unknown flush write mode %q", c.FlushWriteMode))
		c.FlushWriteMode = WriteModeConditional
	}

	if c.ClientIDHashSalt == "" {
		c.ClientIDHashSalt = DefaultClientIDHashSalt
		c.SaltDefaulted = true
	}

	return errors.Join(errs...)
}

// FlushInterval returns the flush period as a duration
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMinutes) * time.Minute
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
