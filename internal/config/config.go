// Package config provides environment configuration for the API server.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	CORSOrigins        []string

	// NATS settings; an empty URL disables exchange recording
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings; an empty secret disables authentication
	JWTSecret string

	// LLM settings
	LLMProvider     string
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GeminiAPIKey    string
	LLMModel        string
	LLMFastModel    string
	LLMTimeout      time.Duration
	KnowledgeFile   string

	// Analytic store
	AnalyticsDriver  string
	AnalyticsDSN     string
	QueryRowLimit    int
	StatementTimeout time.Duration

	// Quota persistence
	QuotaBackend  string
	QuotaDSN      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Pipeline
	RequestTimeout    time.Duration
	MaxRepairAttempts int
	HistoryTurns      int

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

var defaults = map[string]any{
	"PORT":                 "8080",
	"SERVER_READ_TIMEOUT":  30 * time.Second,
	"SERVER_WRITE_TIMEOUT": 120 * time.Second,
	"CORS_ORIGINS":         "",

	"NATS_URL":       "",
	"NATS_CA_FILE":   "",
	"NATS_CERT_FILE": "",
	"NATS_KEY_FILE":  "",
	"NATS_TOKEN":     "",

	"JWT_SECRET": "",

	"LLM_PROVIDER":      "anthropic",
	"ANTHROPIC_API_KEY": "",
	"OPENAI_API_KEY":    "",
	"GEMINI_API_KEY":    "",
	"LLM_MODEL":         "",
	"LLM_FAST_MODEL":    "",
	"LLM_TIMEOUT":       45 * time.Second,
	"KNOWLEDGE_FILE":    "",

	"ANALYTICS_DRIVER":  "sqlite",
	"ANALYTICS_DSN":     "analytics.db",
	"QUERY_ROW_LIMIT":   500,
	"STATEMENT_TIMEOUT": 15 * time.Second,

	"QUOTA_BACKEND":  "memory",
	"QUOTA_DSN":      "",
	"REDIS_ADDR":     "localhost:6379",
	"REDIS_PASSWORD": "",
	"REDIS_DB":       0,

	"REQUEST_TIMEOUT":     90 * time.Second,
	"MAX_REPAIR_ATTEMPTS": 2,
	"HISTORY_TURNS":       10,

	"RATE_LIMIT_REQUESTS": 60,
	"RATE_LIMIT_WINDOW":   time.Minute,

	"LOG_LEVEL": "info",

	"TRACING_ENDPOINT": "localhost:4318",
	"TRACING_ENABLED":  false,
}

// Load reads configuration from an optional .env file, an optional YAML
// file named by CONFIG_FILE, and environment variables, in increasing
// order of precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		ServerPort:         v.GetString("PORT"),
		ServerReadTimeout:  v.GetDuration("SERVER_READ_TIMEOUT"),
		ServerWriteTimeout: v.GetDuration("SERVER_WRITE_TIMEOUT"),
		CORSOrigins:        splitList(v.GetString("CORS_ORIGINS")),

		NATSURL:      v.GetString("NATS_URL"),
		NATSCAFile:   v.GetString("NATS_CA_FILE"),
		NATSCertFile: v.GetString("NATS_CERT_FILE"),
		NATSKeyFile:  v.GetString("NATS_KEY_FILE"),
		NATSToken:    v.GetString("NATS_TOKEN"),

		JWTSecret: v.GetString("JWT_SECRET"),

		LLMProvider:     strings.ToLower(v.GetString("LLM_PROVIDER")),
		AnthropicAPIKey: v.GetString("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:    v.GetString("OPENAI_API_KEY"),
		GeminiAPIKey:    v.GetString("GEMINI_API_KEY"),
		LLMModel:        v.GetString("LLM_MODEL"),
		LLMFastModel:    v.GetString("LLM_FAST_MODEL"),
		LLMTimeout:      v.GetDuration("LLM_TIMEOUT"),
		KnowledgeFile:   v.GetString("KNOWLEDGE_FILE"),

		AnalyticsDriver:  strings.ToLower(v.GetString("ANALYTICS_DRIVER")),
		AnalyticsDSN:     v.GetString("ANALYTICS_DSN"),
		QueryRowLimit:    v.GetInt("QUERY_ROW_LIMIT"),
		StatementTimeout: v.GetDuration("STATEMENT_TIMEOUT"),

		QuotaBackend:  strings.ToLower(v.GetString("QUOTA_BACKEND")),
		QuotaDSN:      v.GetString("QUOTA_DSN"),
		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),

		RequestTimeout:    v.GetDuration("REQUEST_TIMEOUT"),
		MaxRepairAttempts: v.GetInt("MAX_REPAIR_ATTEMPTS"),
		HistoryTurns:      v.GetInt("HISTORY_TURNS"),

		RateLimitRequests: v.GetInt("RATE_LIMIT_REQUESTS"),
		RateLimitWindow:   v.GetDuration("RATE_LIMIT_WINDOW"),

		LogLevel: v.GetString("LOG_LEVEL"),

		TracingEndpoint: v.GetString("TRACING_ENDPOINT"),
		TracingEnabled:  v.GetBool("TRACING_ENABLED"),
	}
}

// APIKey returns the key for the configured LLM provider.
func (c *Config) APIKey() string {
	switch c.LLMProvider {
	case "openai":
		return c.OpenAIAPIKey
	case "gemini":
		return c.GeminiAPIKey
	default:
		return c.AnthropicAPIKey
	}
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.LLMProvider {
	case "anthropic", "openai", "gemini":
		if c.APIKey() == "" {
			errs = append(errs, fmt.Errorf("no API key set for LLM provider %q", c.LLMProvider))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider))
	}

	switch c.AnalyticsDriver {
	case "postgres", "pgx", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unknown ANALYTICS_DRIVER %q", c.AnalyticsDriver))
	}
	if c.AnalyticsDSN == "" {
		errs = append(errs, errors.New("ANALYTICS_DSN is required"))
	}

	switch c.QuotaBackend {
	case "memory", "redis":
	case "sqlite", "mysql":
		if c.QuotaDSN == "" {
			errs = append(errs, fmt.Errorf("QUOTA_DSN is required for quota backend %q", c.QuotaBackend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown QUOTA_BACKEND %q", c.QuotaBackend))
	}

	if c.MaxRepairAttempts < 0 {
		errs = append(errs, errors.New("MAX_REPAIR_ATTEMPTS cannot be negative"))
	}
	if c.HistoryTurns < 0 {
		errs = append(errs, errors.New("HISTORY_TURNS cannot be negative"))
	}
	if c.QueryRowLimit <= 0 {
		errs = append(errs, errors.New("QUERY_ROW_LIMIT must be positive"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT must be positive"))
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("rate limit must be positive"))
	}

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
