package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Port        string
	Environment string
	LogLevel    string
	RedisURL    string // empty selects the in-process store (development only)
	SessionTTL  time.Duration

	// Identity provider
	KeycloakIssuer   string
	KeycloakAudience []string
	KeycloakJWKSURL  string
	AdminRole        string

	// Conversational agent
	AgentAPIKey  string
	AgentID      string
	AgentBaseURL string

	// Computation service
	ModelAPIBaseURL     string
	ModelAPIInsecureTLS bool
	ModelSyncTimeout    time.Duration
	ModelAsyncTimeout   time.Duration

	FrontendBaseURL string

	// Notification channel
	Brevo BrevoConfig

	// Background work
	MaxConcurrentJobs int
	JobStopTimeout    time.Duration
	IndexCleanupCron  string

	AllowedOrigins string
}

// BrevoConfig configures the transactional email client.
type BrevoConfig struct {
	APIKey      string
	BaseURL     string
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase float64
	SenderEmail string
	SenderName  string
	RatePerSec  float64
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	senderEmail := getEnv("BREVO_SENDER_EMAIL", "")
	senderName := getEnv("BREVO_SENDER_NAME", "")
	if senderEmail == "" {
		// SMTP_FROM is "Name <email>" or a bare address
		senderName, senderEmail = parseFrom(getEnv("SMTP_FROM", ""), senderName)
	}

	return &Config{
		Port:        getEnv("PORT", "8000"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
		SessionTTL:  time.Duration(getIntEnv("SESSION_TTL_DAYS", 14)) * 24 * time.Hour,

		KeycloakIssuer:   strings.TrimRight(getEnv("KEYCLOAK_ISSUER", ""), "/"),
		KeycloakAudience: getListEnv("KEYCLOAK_AUDIENCE"),
		KeycloakJWKSURL:  getEnv("KEYCLOAK_JWKS_URL", ""),
		AdminRole:        getEnv("ADMIN_ROLE", "admin"),

		AgentAPIKey:  getEnv("API_KEY", ""),
		AgentID:      getEnv("AGENT_ID", ""),
		AgentBaseURL: strings.TrimRight(getEnv("AGENT_BASE_URL", "https://api.mistral.ai"), "/"),

		ModelAPIBaseURL:     strings.TrimRight(getEnv("MODEL_API_BASE_URL", "https://transitionapi.neuralio.ai"), "/"),
		ModelAPIInsecureTLS: getBoolEnv("MODEL_API_INSECURE_TLS", true),
		ModelSyncTimeout:    getDurationEnv("MODEL_SYNC_TIMEOUT", 10*time.Minute),
		ModelAsyncTimeout:   getDurationEnv("MODEL_ASYNC_TIMEOUT", 5*time.Hour),

		FrontendBaseURL: strings.TrimRight(getEnv("FRONTEND_BASE_URL", "http://localhost:5173"), "/"),

		Brevo: BrevoConfig{
			APIKey:      getEnv("BREVO_API_KEY", ""),
			BaseURL:     strings.TrimRight(getEnv("BREVO_BASE_URL", "https://api.brevo.com/v3"), "/"),
			Timeout:     time.Duration(getFloatEnv("BREVO_TIMEOUT_S", 20) * float64(time.Second)),
			MaxRetries:  getIntEnv("BREVO_MAX_RETRIES", 3),
			BackoffBase: getFloatEnv("BREVO_BACKOFF_BASE", 1.5),
			SenderEmail: senderEmail,
			SenderName:  senderName,
			RatePerSec:  getFloatEnv("BREVO_RATE_PER_SEC", 5),
		},

		MaxConcurrentJobs: getIntEnv("MAX_CONCURRENT_JOBS", 4),
		JobStopTimeout:    getDurationEnv("JOB_STOP_TIMEOUT", 30*time.Second),
		IndexCleanupCron:  getEnv("INDEX_CLEANUP_CRON", "0 3 * * *"),

		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000"),
	}
}

// IsProduction reports whether ENVIRONMENT=production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Validate reports configuration that cannot work in the current environment.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required in production")
		}
		if c.KeycloakJWKSURL == "" {
			return fmt.Errorf("KEYCLOAK_JWKS_URL is required in production")
		}
	}
	if c.MaxConcurrentJobs < 1 {
		return fmt.Errorf("MAX_CONCURRENT_JOBS must be at least 1, got %d", c.MaxConcurrentJobs)
	}
	return nil
}

func parseFrom(from, fallbackName string) (name, email string) {
	from = strings.TrimSpace(from)
	if from == "" {
		return fallbackName, ""
	}
	lt := strings.Index(from, "<")
	gt := strings.LastIndex(from, ">")
	if lt >= 0 && gt > lt {
		name = strings.Trim(strings.TrimSpace(from[:lt]), `"`)
		email = strings.TrimSpace(from[lt+1 : gt])
		if name == "" {
			name = fallbackName
		}
		return name, email
	}
	return fallbackName, from
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getListEnv splits a comma-separated variable, dropping blanks.
func getListEnv(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
