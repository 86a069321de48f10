package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// DefaultPort is the HTTP port the agent listens on unless PORT overrides
// it. Client commands derive their default agent URL from it.
const DefaultPort = "3001"

// Config holds all agent configuration
type Config struct {
	NodeEnv  string
	Port     string
	DeviceID string
	Database DatabaseConfig
	Remote   RemoteConfig
	Push     PushConfig
}

// DatabaseConfig holds local durable store configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Silent   bool
}

// RemoteConfig holds the authoritative server configuration
type RemoteConfig struct {
	BaseURL      string
	DeviceSecret string // HS256 secret for the device identity token, optional
	UserAgent    string
}

// PushConfig holds push subscription configuration
type PushConfig struct {
	GatewayURL string // websocket endpoint of the push gateway
	Platform   string
	Permission string // granted, denied, default - stands in for the platform prompt
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	remoteURL := os.Getenv("REMOTE_BASE_URL")
	if remoteURL == "" {
		return nil, fmt.Errorf("REMOTE_BASE_URL is required")
	}

	return &Config{
		NodeEnv:  getEnv("NODE_ENV", "development"),
		Port:     getEnv("PORT", DefaultPort),
		DeviceID: getEnv("DEVICE_ID", "fieldagent-local"),
		Database: DatabaseConfig{
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Username: getEnv("PG_USERNAME", "postgres"),
			Password: os.Getenv("PG_PASSWORD"),
			Database: getEnv("PG_DATABASE", "fieldagent"),
			Silent:   getEnv("DB_SILENT", "false") == "true",
		},
		Remote: RemoteConfig{
			BaseURL:      remoteURL,
			DeviceSecret: os.Getenv("DEVICE_SECRET"),
			UserAgent:    getEnv("AGENT_USER_AGENT", "fieldagent/1.0"),
		},
		Push: PushConfig{
			GatewayURL: os.Getenv("PUSH_GATEWAY_URL"),
			Platform:   getEnv("PUSH_PLATFORM", "linux"),
			Permission: getEnv("PUSH_PERMISSION", "default"),
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
