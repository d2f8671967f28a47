package config

import (
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v8"
)

// Backends and providers understood by the factory.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendGCS    = "gcs"

	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderNone   = "none"
)

var (
	validBackends  = []string{BackendMemory, BackendFile, BackendSQLite, BackendGCS}
	validProviders = []string{ProviderGemini, ProviderOpenAI, ProviderNone}
	validLogLevels = []string{"debug", "info", "warn", "warning", "error"}
	validFormats   = []string{"text", "json", "console"}
)

type Config struct {
	// HTTP Server
	Port string `env:"PORT" envDefault:"8081"`
	// TrustedProxies are CIDRs allowed to set X-Forwarded-For.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	// Snapshot storage
	DataBackend  string `env:"DATA_BACKEND" envDefault:"file"`
	DataDir      string `env:"DATA_DIR" envDefault:"./data"`
	SQLiteDBPath string `env:"SQLITE_DB_PATH" envDefault:"./data/fintrack.db"`
	GCSBucket    string `env:"GCS_BUCKET"`
	GCSPrefix    string `env:"GCS_PREFIX" envDefault:"fintrack"`

	// AMQP (optional; empty URL disables event publishing)
	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"fintrack"`
	AMQPQueue    string `env:"AMQP_QUEUE" envDefault:"sync_transactions"`

	// Prediction
	AIProvider          string        `env:"AI_PROVIDER" envDefault:"gemini"`
	GeminiAPIKey        string        `env:"GEMINI_API_KEY"`
	GeminiModel         string        `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash"`
	OpenAIAPIKey        string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL       string        `env:"OPENAI_BASE_URL"`
	OpenAIModel         string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	PredictionTimeout   time.Duration `env:"PREDICTION_TIMEOUT" envDefault:"60s"`
	PredictionCacheTTL  time.Duration `env:"PREDICTION_CACHE_TTL" envDefault:"15m"`
	PredictionCacheSize int           `env:"PREDICTION_CACHE_SIZE" envDefault:"64"`

	// Google Sheets export (worker)
	GoogleSpreadsheetID string `env:"GOOGLE_SPREADSHEET_ID"`
	GoogleSheetName     string `env:"GOOGLE_SHEET_NAME" envDefault:"Transactions"`
	GoogleBalanceRange  string `env:"GOOGLE_BALANCE_RANGE" envDefault:"Summary!B1"`
}

// Load parses the environment into a Config. Call Validate before use.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	cfg.DataBackend = strings.ToLower(strings.TrimSpace(cfg.DataBackend))
	cfg.AIProvider = strings.ToLower(strings.TrimSpace(cfg.AIProvider))
	return cfg, nil
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	for _, cidr := range c.TrustedProxies {
		if _, err := netip.ParsePrefix(strings.TrimSpace(cidr)); err != nil {
			errors = append(errors, fmt.Sprintf("invalid trusted proxy '%s': must be a CIDR", cidr))
		}
	}

	if !slices.Contains(validLogLevels, strings.ToLower(c.LogLevel)) {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of %v", c.LogLevel, validLogLevels))
	}
	if !slices.Contains(validFormats, strings.ToLower(c.LogFormat)) {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be one of %v", c.LogFormat, validFormats))
	}

	// Validate data backend
	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	switch c.DataBackend {
	case BackendFile:
		if c.DataDir == "" {
			errors = append(errors, "data directory cannot be empty when using file backend")
		}
	case BackendSQLite:
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			// Check if directory exists or can be created
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	case BackendGCS:
		if c.GCSBucket == "" {
			errors = append(errors, "GCS bucket is required when using gcs backend")
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Validate prediction provider
	switch c.AIProvider {
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			errors = append(errors, "GEMINI_API_KEY is required when AI_PROVIDER is gemini")
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" && c.OpenAIBaseURL == "" {
			errors = append(errors, "OPENAI_API_KEY or OPENAI_BASE_URL is required when AI_PROVIDER is openai")
		}
		if c.OpenAIBaseURL != "" {
			if u, err := url.Parse(c.OpenAIBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
				errors = append(errors, fmt.Sprintf("invalid OPENAI_BASE_URL '%s'", c.OpenAIBaseURL))
			}
		}
	case ProviderNone:
	default:
		errors = append(errors, fmt.Sprintf("invalid AI provider '%s': must be one of %v", c.AIProvider, validProviders))
	}

	if c.PredictionTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid prediction timeout %v: must be at least 1 second", c.PredictionTimeout))
	} else if c.PredictionTimeout > 5*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid prediction timeout %v: must be at most 5 minutes", c.PredictionTimeout))
	}
	if c.PredictionCacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid prediction cache TTL %v: must not be negative", c.PredictionCacheTTL))
	}
	if c.PredictionCacheSize < 1 || c.PredictionCacheSize > 10000 {
		errors = append(errors, fmt.Sprintf("invalid prediction cache size %d: must be between 1 and 10000", c.PredictionCacheSize))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// ValidateWorker checks what the sync worker needs on top of Validate.
func (c *Config) ValidateWorker() error {
	var errors []string
	if c.AMQPURL == "" {
		errors = append(errors, "AMQP_URL is required for the sync worker")
	}
	if c.GoogleSpreadsheetID != "" && c.GoogleSheetName == "" {
		errors = append(errors, "Google Sheet name is required when a spreadsheet is configured")
	}
	if c.GoogleSpreadsheetID != "" && !strings.Contains(c.GoogleBalanceRange, "!") {
		errors = append(errors, fmt.Sprintf("invalid balance range '%s': must be in Sheet!A1 form", c.GoogleBalanceRange))
	}
	if len(errors) > 0 {
		return fmt.Errorf("worker configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

// TrustedProxyPrefixes returns the parsed TrustedProxies, skipping entries
// Validate would reject.
func (c *Config) TrustedProxyPrefixes() []netip.Prefix {
	out := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, cidr := range c.TrustedProxies {
		if p, err := netip.ParsePrefix(strings.TrimSpace(cidr)); err == nil {
			out = append(out, p)
		}
	}
	return out
}

// PredictionsEnabled reports whether a model provider is configured.
func (c *Config) PredictionsEnabled() bool {
	return c.AIProvider != ProviderNone
}
