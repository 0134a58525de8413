package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Durable CompletedCallRecord log
	RecordLogBackend       string
	CallRecordsTable       string
	RecordRetryMaxAttempts int
	RecordRetryBaseDelay   time.Duration
	RecordRetryMaxDelay    time.Duration

	// Agent directory
	AgentsFile      string
	DefaultLanguage string

	// External call provider
	VoiceProviderAPIKey  string
	VoiceProviderBaseURL string
	ProvisionTimeout     time.Duration

	// Session lifecycle
	SessionIdleTimeout       time.Duration
	SessionSweepInterval     time.Duration
	SessionTerminalRetention time.Duration
	SessionMirrorTTL         time.Duration

	// Analytics windows
	AnalyticsTimezone      string
	AnalyticsRetention     time.Duration
	AnalyticsPruneInterval time.Duration

	// HTTP edge
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int
}

// Load reads configuration from environment variables
func Load() *Config {
	databaseURL := getEnv("DATABASE_URL", "")
	defaultBackend := "memory"
	if databaseURL != "" {
		defaultBackend = "postgres"
	}
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: databaseURL,

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		RecordLogBackend:       strings.ToLower(strings.TrimSpace(getEnv("RECORD_LOG_BACKEND", defaultBackend))),
		CallRecordsTable:       getEnv("CALL_RECORDS_TABLE", "completed_call_records"),
		RecordRetryMaxAttempts: getEnvAsInt("RECORD_RETRY_MAX_ATTEMPTS", 0),
		RecordRetryBaseDelay:   getEnvAsDuration("RECORD_RETRY_BASE_DELAY", 500*time.Millisecond),
		RecordRetryMaxDelay:    getEnvAsDuration("RECORD_RETRY_MAX_DELAY", 30*time.Second),

		AgentsFile:      getEnv("AGENTS_FILE", ""),
		DefaultLanguage: strings.ToLower(strings.TrimSpace(getEnv("DEFAULT_LANGUAGE", "en"))),

		VoiceProviderAPIKey:  getEnv("VOICE_PROVIDER_API_KEY", ""),
		VoiceProviderBaseURL: getEnv("VOICE_PROVIDER_BASE_URL", ""),
		ProvisionTimeout:     getEnvAsDuration("PROVISION_TIMEOUT", 10*time.Second),

		SessionIdleTimeout:       getEnvAsDuration("SESSION_IDLE_TIMEOUT", 5*time.Minute),
		SessionSweepInterval:     getEnvAsDuration("SESSION_SWEEP_INTERVAL", 15*time.Second),
		SessionTerminalRetention: getEnvAsDuration("SESSION_TERMINAL_RETENTION", 2*time.Minute),
		SessionMirrorTTL:         getEnvAsDuration("SESSION_MIRROR_TTL", 24*time.Hour),

		AnalyticsTimezone:      getEnv("ANALYTICS_TIMEZONE", "UTC"),
		AnalyticsRetention:     getEnvAsDuration("ANALYTICS_RETENTION", 90*24*time.Hour),
		AnalyticsPruneInterval: getEnvAsDuration("ANALYTICS_PRUNE_INTERVAL", time.Hour),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 10),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping empty entries.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
