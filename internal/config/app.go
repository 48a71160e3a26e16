package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"sage-app/internal/logger"

	"github.com/sirupsen/logrus"
)

// Store backends
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// AppConfig holds all application configuration
type AppConfig struct {
	Server    ServerConfig
	Database  DatabaseConfig
	LLM       LLMConfig
	Session   SessionConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Models    *ModelsConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            string
	ShutdownTimeout time.Duration
	AllowedOrigin   string
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Store    string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// LLMConfig holds model service configuration
type LLMConfig struct {
	AnthropicAPIKey  string
	AnthropicBaseURL string
	AnthropicVersion string
	// RequestTimeout bounds non-streaming calls end to end
	RequestTimeout time.Duration
}

// SessionConfig holds the orchestration knobs
type SessionConfig struct {
	HistoryHead      int
	HistoryTail      int
	ClassifierWindow int
	// GenerationTimeout runs only until the upstream stream starts
	GenerationTimeout time.Duration
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret       []byte
	TokenExpiration time.Duration
}

// RateLimitConfig bounds per-user chat requests
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// LoadConfig loads and validates application configuration from environment
func LoadConfig() (*AppConfig, error) {
	config := &AppConfig{}

	config.Server = ServerConfig{
		Port:            getEnvOrDefault("SERVER_PORT", "8080"),
		ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		AllowedOrigin:   getEnvOrDefault("CORS_ALLOWED_ORIGIN", "*"),
	}

	config.Database = DatabaseConfig{
		Store:    getEnvOrDefault("STORE", StorePostgres),
		Host:     getEnvOrDefault("DB_HOST", "postgres"),
		Port:     getEnvOrDefault("DB_PORT", "5432"),
		User:     getEnvOrDefault("DB_USER", "postgres"),
		Password: getEnvOrDefault("DB_PASSWORD", "postgres"),
		Name:     getEnvOrDefault("DB_NAME", "sage"),
		SSLMode:  getEnvOrDefault("DB_SSLMODE", "disable"),
	}
	if config.Database.Store != StorePostgres && config.Database.Store != StoreMemory {
		return nil, fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, config.Database.Store)
	}

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		logger.Log.Warn("ANTHROPIC_API_KEY environment variable not set")
	}

	config.LLM = LLMConfig{
		AnthropicAPIKey:  apiKey,
		AnthropicBaseURL: getEnvOrDefault("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
		AnthropicVersion: getEnvOrDefault("ANTHROPIC_VERSION", "2023-06-01"),
		RequestTimeout:   getEnvAsDuration("ANTHROPIC_REQUEST_TIMEOUT", 60*time.Second),
	}

	config.Session = SessionConfig{
		HistoryHead:       getEnvAsInt("SAGE_HISTORY_HEAD", 4),
		HistoryTail:       getEnvAsInt("SAGE_HISTORY_TAIL", 46),
		ClassifierWindow:  getEnvAsInt("SAGE_CLASSIFIER_WINDOW", 4),
		GenerationTimeout: getEnvAsDuration("SAGE_GENERATION_TIMEOUT", 60*time.Second),
	}
	if config.Session.HistoryHead < 0 || config.Session.HistoryTail < 1 {
		return nil, fmt.Errorf("SAGE_HISTORY_HEAD must be >= 0 and SAGE_HISTORY_TAIL >= 1 (got %d, %d)",
			config.Session.HistoryHead, config.Session.HistoryTail)
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable must be set")
	}
	if len(jwtSecret) < 32 {
		return nil, fmt.Errorf("JWT_SECRET must be at least 32 characters (current length: %d)", len(jwtSecret))
	}

	config.Auth = AuthConfig{
		JWTSecret:       []byte(jwtSecret),
		TokenExpiration: getEnvAsDuration("JWT_TOKEN_EXPIRATION", 24*time.Hour),
	}

	config.RateLimit = RateLimitConfig{
		RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 1),
		Burst:             getEnvAsInt("RATE_LIMIT_BURST", 5),
	}

	modelsConfigPath := getEnvOrDefault("MODELS_CONFIG_PATH", filepath.Join("config", "models.yaml"))
	modelsConfig, err := NewModelsConfig(modelsConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load models config: %w", err)
	}
	config.Models = modelsConfig

	return config, nil
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Redacted returns the DSN with the password masked, for logging
func (c *DatabaseConfig) Redacted() string {
	return fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Name, c.SSLMode)
}

// Helper functions for environment variable parsing

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid integer value, using default")
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid float value, using default")
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid duration value, using default")
		return defaultValue
	}
	return value
}
