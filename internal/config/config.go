package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string

	// Payment gateway (signed redirect + IPN protocol)
	GatewayBaseURL    string
	GatewayTerminalID string
	GatewaySecret     string
	GatewayReturnURL  string
	GatewayTimeout    time.Duration

	// Advisory slot holds
	RedisAddr     string
	RedisPassword string
	SlotHoldTTL   time.Duration

	// Outbox deliverer
	OutboxBatchSize int
	OutboxInterval  time.Duration

	// Admin API auth
	AdminJWTSecret string

	// Admin notification email
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	AdminAlertEmail   string

	// Treatment program defaults
	ProgramExpiryBufferDays int
}

// Load reads configuration from environment variables. A .env file is
// honored when present so local development matches deployed behavior.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		GatewayBaseURL:    getEnv("GATEWAY_BASE_URL", ""),
		GatewayTerminalID: getEnv("GATEWAY_TERMINAL_ID", ""),
		GatewaySecret:     getEnv("GATEWAY_SECRET", ""),
		GatewayReturnURL:  getEnv("GATEWAY_RETURN_URL", ""),
		GatewayTimeout:    getEnvAsDuration("GATEWAY_TIMEOUT", 10*time.Second),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SlotHoldTTL:   getEnvAsDuration("SLOT_HOLD_TTL", 30*time.Second),

		OutboxBatchSize: getEnvAsInt("OUTBOX_BATCH_SIZE", 25),
		OutboxInterval:  getEnvAsDuration("OUTBOX_INTERVAL", 2*time.Second),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Spa Operations"),
		AdminAlertEmail:   getEnv("ADMIN_ALERT_EMAIL", ""),

		ProgramExpiryBufferDays: getEnvAsInt("PROGRAM_EXPIRY_BUFFER_DAYS", 14),
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
