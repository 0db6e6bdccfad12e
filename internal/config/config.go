package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// HTTP surface
	ListenAddr     string   `mapstructure:"listen-addr"`
	UploadIdentity string   `mapstructure:"upload-identity"`
	MaxFrameSize   int64    `mapstructure:"max-frame-size"`
	MaxPixels      int64    `mapstructure:"max-pixels"`
	CORSOrigins    []string `mapstructure:"cors-origins"`

	// Storage
	ImageRoot  string `mapstructure:"image-root"`
	SQLitePath string `mapstructure:"sqlite-path"`

	// Store worker
	QueueSize      int           `mapstructure:"queue-size"`
	SelectTimeout  time.Duration `mapstructure:"select-timeout"`
	EnqueueTimeout time.Duration `mapstructure:"enqueue-timeout"`

	// Logging
	LogDir   string `mapstructure:"log-dir"`
	LogLevel string `mapstructure:"log-level"`

	// Export
	S3Bucket      string `mapstructure:"s3-bucket"`
	S3Region      string `mapstructure:"s3-region"`
	S3Endpoint    string `mapstructure:"s3-endpoint"`
	S3Anonymous   bool   `mapstructure:"s3-anonymous"`
	FSMDBPath     string `mapstructure:"fsm-db-path"`
	FSMMaxRetries int    `mapstructure:"fsm-max-retries"`
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	viper.SetDefault("listen-addr", ":8080")
	viper.SetDefault("upload-identity", "query")
	viper.SetDefault("max-frame-size", 64*1024*1024)
	viper.SetDefault("max-pixels", 8192*8192)
	viper.SetDefault("cors-origins", []string{})
	viper.SetDefault("image-root", "images")
	viper.SetDefault("sqlite-path", "images.db")
	viper.SetDefault("queue-size", 1024)
	viper.SetDefault("select-timeout", 10*time.Second)
	viper.SetDefault("enqueue-timeout", 5*time.Second)
	viper.SetDefault("log-dir", "logs")
	viper.SetDefault("log-level", "info")
	viper.SetDefault("s3-bucket", "")
	viper.SetDefault("s3-region", "us-east-1")
	viper.SetDefault("s3-endpoint", "")
	viper.SetDefault("s3-anonymous", false)
	viper.SetDefault("fsm-db-path", ".artifacts/fsm")
	viper.SetDefault("fsm-max-retries", 5)

	// Environment variables (IMAGEUPLOADER_SQLITE_PATH, etc.)
	viper.SetEnvPrefix("IMAGEUPLOADER")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.imageuploader")

	// Read config file (ignore if not found)
	_ = viper.ReadInConfig()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the settings every command relies on.
func (c *Config) Validate() error {
	if c.ImageRoot == "" {
		return fmt.Errorf("image-root cannot be empty")
	}
	if c.SQLitePath == "" {
		return fmt.Errorf("sqlite-path cannot be empty")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue-size must be positive")
	}
	if c.SelectTimeout <= 0 {
		return fmt.Errorf("select-timeout must be positive")
	}
	if c.EnqueueTimeout <= 0 {
		return fmt.Errorf("enqueue-timeout must be positive")
	}
	if c.MaxFrameSize <= 0 {
		return fmt.Errorf("max-frame-size must be positive")
	}
	if c.MaxPixels <= 0 {
		return fmt.Errorf("max-pixels must be positive")
	}
	switch c.UploadIdentity {
	case "query", "frame":
	default:
		return fmt.Errorf("upload-identity must be \"query\" or \"frame\", got %q", c.UploadIdentity)
	}
	if c.FSMMaxRetries < 0 {
		return fmt.Errorf("fsm-max-retries must be non-negative")
	}
	return nil
}

// ValidateExport checks the settings the export command needs on top of Validate.
func (c *Config) ValidateExport() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.S3Bucket == "" {
		return fmt.Errorf("s3-bucket cannot be empty")
	}
	if c.FSMDBPath == "" {
		return fmt.Errorf("fsm-db-path cannot be empty")
	}
	return nil
}
