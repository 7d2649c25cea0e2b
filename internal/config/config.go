package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	NodeEnv       string
	Port          string
	LogLevel      string
	JWTSecret     string
	PublicBaseURL string
	SentryDSN     string
	Database      DatabaseConfig
	MQTT          MQTTConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver     string // postgres or sqlite
	Host       string
	Port       string
	Username   string
	Password   string
	Database   string
	SQLitePath string
	Debug      bool
}

// MQTTConfig holds the optional MQTT ingestion transport settings.
// The transport is disabled when Broker is empty.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
}

// Enabled reports whether an MQTT broker is configured
func (c MQTTConfig) Enabled() bool {
	return c.Broker != ""
}

// IsProduction reports whether NODE_ENV is production
func (c *Config) IsProduction() bool {
	return c.NodeEnv == "production"
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	driver := strings.ToLower(getEnv("DB_DRIVER", "postgres"))
	if driver != "postgres" && driver != "sqlite" {
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", driver)
	}

	port := getEnv("PORT", "3000")

	return &Config{
		NodeEnv:       getEnv("NODE_ENV", "development"),
		Port:          port,
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		JWTSecret:     jwtSecret,
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:"+port), "/"),
		SentryDSN:     os.Getenv("SENTRY_DSN"),
		Database: DatabaseConfig{
			Driver:     driver,
			Host:       getEnv("PG_HOST", "localhost"),
			Port:       getEnv("PG_PORT", "5432"),
			Username:   getEnv("PG_USERNAME", "postgres"),
			Password:   os.Getenv("PG_PASSWORD"),
			Database:   getEnv("PG_DATABASE", "sensestamp"),
			SQLitePath: getEnv("SQLITE_PATH", "sensestamp.db"),
			Debug:      getBoolEnv("DB_DEBUG", false),
		},
		MQTT: MQTTConfig{
			Broker:   os.Getenv("MQTT_BROKER"),
			ClientID: getEnv("MQTT_CLIENT_ID", "sensestamp-api"),
			Username: os.Getenv("MQTT_USERNAME"),
			Password: os.Getenv("MQTT_PASSWORD"),
			Topic:    getEnv("MQTT_TOPIC", "sensestamp/events"),
		},
	}, nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return defaultValue
		}
		return b
	}
	return defaultValue
}
