// Package config loads service configuration from YAML with environment
// overrides for credentials.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds SQLite configuration.
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

// OpenAIConfig holds the vision and interview model settings.
type OpenAIConfig struct {
	APIKey         string  `mapstructure:"api_key"`
	VisionModel    string  `mapstructure:"vision_model"`
	InterviewModel string  `mapstructure:"interview_model"`
	Temperature    float32 `mapstructure:"temperature"`
}

// EngineConfig holds the gate and allocation tunables.
type EngineConfig struct {
	// LowConfidenceRatio is the flagged-field ratio at or above which the
	// gate rejects an extraction.
	LowConfidenceRatio float64 `mapstructure:"low_confidence_ratio"`
	// ConfidenceThreshold is the per-field score below which the extractor
	// flags a field.
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	// MismatchTolerance is the allowed absolute gap between allocated totals
	// and the receipt grand total.
	MismatchTolerance float64 `mapstructure:"mismatch_tolerance"`
	// StrictReconciliation fails the round on a tolerance breach instead of
	// returning flagged results.
	StrictReconciliation bool `mapstructure:"strict_reconciliation"`
}

// LoggerConfig holds logger configuration.
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load reads configuration from the file at configPath plus environment
// overrides.
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 60*time.Second)

	viper.SetDefault("database.path", "data/receipts.db")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	viper.SetDefault("database.migrations_dir", "migrations")

	viper.SetDefault("openai.vision_model", "gpt-4o")
	viper.SetDefault("openai.interview_model", "gpt-4o")
	viper.SetDefault("openai.temperature", 0.2)

	viper.SetDefault("engine.low_confidence_ratio", 0.5)
	viper.SetDefault("engine.confidence_threshold", 0.8)
	viper.SetDefault("engine.mismatch_tolerance", 0.06)
	viper.SetDefault("engine.strict_reconciliation", false)

	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")
}

func bindEnvVars() {
	viper.BindEnv("openai.api_key", "OPENAI_API_KEY")
	viper.BindEnv("database.path", "DATABASE_PATH")
}

// Validate checks required fields and tunable ranges.
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key is required")
	}
	if c.Engine.LowConfidenceRatio <= 0 || c.Engine.LowConfidenceRatio > 1 {
		return fmt.Errorf("engine.low_confidence_ratio must be in (0,1], got %v", c.Engine.LowConfidenceRatio)
	}
	if c.Engine.ConfidenceThreshold <= 0 || c.Engine.ConfidenceThreshold > 1 {
		return fmt.Errorf("engine.confidence_threshold must be in (0,1], got %v", c.Engine.ConfidenceThreshold)
	}
	if c.Engine.MismatchTolerance < 0 {
		return fmt.Errorf("engine.mismatch_tolerance must be non-negative, got %v", c.Engine.MismatchTolerance)
	}
	return nil
}
