// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port         int
	DevMode      bool
	LogLevel     string
	DatabasePath string

	// Optimization engine defaults
	Engine EngineConfig

	// ML advisory service
	AdvisorURL           string
	AdvisorTimeout       time.Duration
	AdvisorMinConfidence float64

	// Circuit breaker defaults for advisory calls
	Breaker BreakerConfig

	// External message broker (disabled unless an address is set)
	BrokerAddr string

	// Background jobs
	StaleRunAge time.Duration

	// Backup (disabled unless bucket is set)
	BackupBucket        string
	BackupEndpoint      string
	BackupAccessKey     string
	BackupSecretKey     string
	BackupRegion        string
	BackupSchedule      string
	BackupRetentionDays int
}

// EngineConfig holds the optimization engine defaults.
type EngineConfig struct {
	Kerf               float64 // blade width in mm
	MinUsableWaste1D   float64 // mm
	MinUsableWaste2D   float64 // mm²
	AllowRotation      bool
	MaxConcurrency     int           // 0 = logical core count
	TaskTimeout        time.Duration // per packing task
}

// BreakerConfig holds circuit breaker tuning for upstream calls.
type BreakerConfig struct {
	Timeout          time.Duration
	ErrorThresholdPc int // open when error rate >= this percentage
	VolumeThreshold  int // minimum calls in window before opening
	ResetTimeout     time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:         getEnvAsInt("PORT", 8080),
		DevMode:      getEnvAsBool("DEV_MODE", false),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		DatabasePath: getEnv("DATABASE_PATH", "./data/opticut.db"),
		Engine: EngineConfig{
			Kerf:             getEnvAsFloat("ENGINE_KERF_MM", 3),
			MinUsableWaste1D: getEnvAsFloat("ENGINE_MIN_USABLE_WASTE_1D_MM", 50),
			MinUsableWaste2D: getEnvAsFloat("ENGINE_MIN_USABLE_WASTE_2D_MM2", 10000),
			AllowRotation:    getEnvAsBool("ENGINE_ALLOW_ROTATION", true),
			MaxConcurrency:   getEnvAsInt("ENGINE_MAX_CONCURRENCY", 0),
			TaskTimeout:      getEnvAsDuration("ENGINE_TASK_TIMEOUT", 30*time.Second),
		},
		AdvisorURL:           getEnv("ADVISOR_SERVICE_URL", "http://localhost:9100"),
		AdvisorTimeout:       getEnvAsDuration("ADVISOR_TIMEOUT", 5*time.Second),
		AdvisorMinConfidence: getEnvAsFloat("ADVISOR_MIN_CONFIDENCE", 0.5),
		Breaker: BreakerConfig{
			Timeout:          getEnvAsDuration("BREAKER_TIMEOUT", 5*time.Second),
			ErrorThresholdPc: getEnvAsInt("BREAKER_ERROR_THRESHOLD_PCT", 50),
			VolumeThreshold:  getEnvAsInt("BREAKER_VOLUME_THRESHOLD", 5),
			ResetTimeout:     getEnvAsDuration("BREAKER_RESET_TIMEOUT", 15*time.Second),
		},
		BrokerAddr:          getEnv("BUS_BROKER_ADDR", ""),
		StaleRunAge:         getEnvAsDuration("STALE_RUN_AGE", 30*time.Minute),
		BackupBucket:        getEnv("BACKUP_BUCKET", ""),
		BackupEndpoint:      getEnv("BACKUP_ENDPOINT", ""),
		BackupAccessKey:     getEnv("BACKUP_ACCESS_KEY", ""),
		BackupSecretKey:     getEnv("BACKUP_SECRET_KEY", ""),
		BackupRegion:        getEnv("BACKUP_REGION", "auto"),
		BackupSchedule:      getEnv("BACKUP_SCHEDULE", "0 0 3 * * *"),
		BackupRetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present and within range
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if c.Engine.Kerf < 0 || c.Engine.Kerf > 20 {
		return fmt.Errorf("ENGINE_KERF_MM must be within [0, 20], got %v", c.Engine.Kerf)
	}
	if c.Engine.MinUsableWaste1D < 0 || c.Engine.MinUsableWaste2D < 0 {
		return fmt.Errorf("minimum usable waste thresholds must be >= 0")
	}
	if c.AdvisorMinConfidence < 0 || c.AdvisorMinConfidence > 1 {
		return fmt.Errorf("ADVISOR_MIN_CONFIDENCE must be within [0, 1], got %v", c.AdvisorMinConfidence)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
