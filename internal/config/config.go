// Package config loads process settings from the environment, reading a .env
// file first when one is present.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendMongo    = "mongo"
	BackendDynamoDB = "dynamodb"
)

type Config struct {
	// Server
	Port               string
	CORSAllowedOrigins []string
	LogLevel           slog.Level

	// Gemini
	GeminiAPIKey          string
	GeminiAPIKeyParam     string
	GeminiModel           string
	GeminiMaxOutputTokens int
	GenerationTimeout     time.Duration

	// History store
	StoreBackend  string
	MongoURI      string
	MongoDatabase string
	DynamoDBTable string

	// Per-user locking
	RedisURL    string
	LockTimeout time.Duration

	// parseErrs holds values that were set but could not be parsed.
	parseErrs []error
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	// A missing .env file is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	level, err := parseLevel(getEnvOrDefault("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}

	var parseErrs []error
	cfg := &Config{
		Port:                  getEnvOrDefault("PORT", "5000"),
		CORSAllowedOrigins:    getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		LogLevel:              level,
		GeminiAPIKey:          os.Getenv("GEMINI_API_KEY"),
		GeminiAPIKeyParam:     os.Getenv("GEMINI_API_KEY_PARAM"),
		GeminiModel:           getEnvOrDefault("GEMINI_MODEL", "gemini-1.5-pro"),
		GeminiMaxOutputTokens: getEnvAsIntOrDefault("GEMINI_MAX_OUTPUT_TOKENS", 1000, &parseErrs),
		GenerationTimeout:     getEnvAsDurationOrDefault("GENERATION_TIMEOUT", 30*time.Second, &parseErrs),
		StoreBackend:          strings.ToLower(getEnvOrDefault("STORE_BACKEND", BackendMongo)),
		MongoURI:              os.Getenv("MONGO_URI"),
		MongoDatabase:         getEnvOrDefault("MONGO_DATABASE", "chatbot"),
		DynamoDBTable:         os.Getenv("DYNAMODB_TABLE"),
		RedisURL:              os.Getenv("REDIS_URL"),
		LockTimeout:           getEnvAsDurationOrDefault("LOCK_TIMEOUT", 45*time.Second, &parseErrs),
	}

	cfg.parseErrs = parseErrs

	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	errs := append([]error(nil), c.parseErrs...)
	if c.Port == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	if c.GeminiAPIKey == "" && c.GeminiAPIKeyParam == "" {
		errs = append(errs, errors.New("one of GEMINI_API_KEY or GEMINI_API_KEY_PARAM is required"))
	}
	if c.GeminiMaxOutputTokens <= 0 || c.GeminiMaxOutputTokens > math.MaxInt32 {
		errs = append(errs, fmt.Errorf("GEMINI_MAX_OUTPUT_TOKENS must be between 1 and %d, got %d", math.MaxInt32, c.GeminiMaxOutputTokens))
	}
	if c.GenerationTimeout <= 0 {
		errs = append(errs, fmt.Errorf("GENERATION_TIMEOUT must be positive, got %s", c.GenerationTimeout))
	}
	if c.LockTimeout <= 0 {
		errs = append(errs, fmt.Errorf("LOCK_TIMEOUT must be positive, got %s", c.LockTimeout))
	}
	switch c.StoreBackend {
	case BackendMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("MONGO_URI is required when STORE_BACKEND=mongo"))
		}
		if c.MongoDatabase == "" {
			errs = append(errs, errors.New("MONGO_DATABASE must not be empty"))
		}
	case BackendDynamoDB:
		if c.DynamoDBTable == "" {
			errs = append(errs, errors.New("DYNAMODB_TABLE is required when STORE_BACKEND=dynamodb"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendMongo, BackendDynamoDB, c.StoreBackend))
	}
	return errors.Join(errs...)
}

// NewLogger builds the process logger: JSON on stdout at the configured level.
func (c *Config) NewLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: c.LogLevel}))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvAsIntOrDefault returns defaultVal when key is unset. A value that
// does not parse is recorded in errs.
func getEnvAsIntOrDefault(key string, defaultVal int, errs *[]error) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be an integer, got %q", key, val))
		return defaultVal
	}
	return n
}

// getEnvAsDurationOrDefault accepts Go durations ("30s") or plain seconds ("30").
// A value that parses as neither is recorded in errs.
func getEnvAsDurationOrDefault(key string, defaultVal time.Duration, errs *[]error) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Second
	}
	*errs = append(*errs, fmt.Errorf("%s must be a duration like 30s, got %q", key, val))
	return defaultVal
}

func getEnvAsList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if strings.TrimSpace(val) == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
