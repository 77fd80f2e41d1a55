package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"student-photo-go/internal/compressor"
)

// Config represents the main configuration structure
type Config struct {
	Photo   PhotoConfig   `mapstructure:"photo"`
	Batch   BatchConfig   `mapstructure:"batch"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// PhotoConfig contains the size window and quality search settings
type PhotoConfig struct {
	MinSizeKB    float64       `mapstructure:"min_size_kb"`
	MaxSizeKB    float64       `mapstructure:"max_size_kb"`
	MaxWidth     int           `mapstructure:"max_width"`
	MaxHeight    int           `mapstructure:"max_height"`
	StartQuality float64       `mapstructure:"start_quality"`
	QualityStep  float64       `mapstructure:"quality_step"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// BatchConfig contains settings for compressing files on disk
type BatchConfig struct {
	TargetDirectory     string   `mapstructure:"target_directory"`
	Output              string   `mapstructure:"output"`
	Workers             int      `mapstructure:"workers"`
	SupportedExtensions []string `mapstructure:"supported_extensions"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	MaxUploadMB  int           `mapstructure:"max_upload_mb"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Photo: PhotoConfig{
			MinSizeKB:    compressor.DefaultMinSizeKB,
			MaxSizeKB:    compressor.DefaultMaxSizeKB,
			MaxWidth:     compressor.DefaultMaxWidth,
			MaxHeight:    compressor.DefaultMaxHeight,
			StartQuality: compressor.DefaultStartQuality,
			QualityStep:  compressor.DefaultQualityStep,
			MaxAttempts:  compressor.DefaultMaxAttempts,
			Timeout:      30 * time.Second,
		},
		Batch: BatchConfig{
			Output:  compressor.OutputJPEG,
			Workers: 0, // 0 means one per CPU
			SupportedExtensions: []string{
				".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".tif", ".webp",
			},
		},
		Server: ServerConfig{
			Port:         8080,
			MaxUploadMB:  10,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "student-photo.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config file in current directory and home directory
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.student-photo")
		v.AddConfigPath("/etc/student-photo")
	}

	// Defaults make every key known to viper so env overrides apply
	setDefaults(v, config)

	v.SetEnvPrefix("STUDENT_PHOTO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("photo.min_size_kb", c.Photo.MinSizeKB)
	v.SetDefault("photo.max_size_kb", c.Photo.MaxSizeKB)
	v.SetDefault("photo.max_width", c.Photo.MaxWidth)
	v.SetDefault("photo.max_height", c.Photo.MaxHeight)
	v.SetDefault("photo.start_quality", c.Photo.StartQuality)
	v.SetDefault("photo.quality_step", c.Photo.QualityStep)
	v.SetDefault("photo.max_attempts", c.Photo.MaxAttempts)
	v.SetDefault("photo.timeout", c.Photo.Timeout)

	v.SetDefault("batch.target_directory", c.Batch.TargetDirectory)
	v.SetDefault("batch.output", c.Batch.Output)
	v.SetDefault("batch.workers", c.Batch.Workers)
	v.SetDefault("batch.supported_extensions", c.Batch.SupportedExtensions)

	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.max_upload_mb", c.Server.MaxUploadMB)
	v.SetDefault("server.read_timeout", c.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", c.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", c.Server.IdleTimeout)

	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.file_path", c.Logging.FilePath)
	v.SetDefault("logging.max_size", c.Logging.MaxSize)
	v.SetDefault("logging.max_backups", c.Logging.MaxBackups)
	v.SetDefault("logging.max_age", c.Logging.MaxAge)
	v.SetDefault("logging.compress", c.Logging.Compress)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Size window
	if !(c.Photo.MinSizeKB > 0) {
		return fmt.Errorf("photo.min_size_kb must be positive: %g", c.Photo.MinSizeKB)
	}
	if c.Photo.MaxSizeKB < c.Photo.MinSizeKB {
		return fmt.Errorf("photo.max_size_kb (%g) must not be below photo.min_size_kb (%g)",
			c.Photo.MaxSizeKB, c.Photo.MinSizeKB)
	}

	// Bounding box
	if c.Photo.MaxWidth <= 0 || c.Photo.MaxHeight <= 0 {
		return fmt.Errorf("photo bounding box must be positive: %dx%d", c.Photo.MaxWidth, c.Photo.MaxHeight)
	}

	// Search policy
	if c.Photo.StartQuality <= 0 || c.Photo.StartQuality > 1 {
		return fmt.Errorf("photo.start_quality must be in (0,1]: %g", c.Photo.StartQuality)
	}
	if c.Photo.QualityStep <= 0 || c.Photo.QualityStep > 1 {
		return fmt.Errorf("photo.quality_step must be in (0,1]: %g", c.Photo.QualityStep)
	}
	if c.Photo.MaxAttempts <= 0 {
		return fmt.Errorf("photo.max_attempts must be positive: %d", c.Photo.MaxAttempts)
	}
	if c.Photo.Timeout < 0 {
		c.Photo.Timeout = 0
	}

	// Batch output
	c.Batch.Output = strings.ToLower(c.Batch.Output)
	if c.Batch.Output == "" {
		c.Batch.Output = compressor.OutputJPEG
	}
	if c.Batch.Output != compressor.OutputJPEG && c.Batch.Output != compressor.OutputDataURI {
		return fmt.Errorf("invalid batch.output: %s (valid: jpeg, datauri)", c.Batch.Output)
	}
	if c.Batch.Workers < 0 {
		c.Batch.Workers = 0
	}
	c.Batch.SupportedExtensions = normalizeExtensions(c.Batch.SupportedExtensions)

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		c.Server.MaxUploadMB = 10
	}

	// Logging
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}

// BoundingBox returns the configured downsampling box.
func (c *Config) BoundingBox() compressor.BoundingBox {
	return compressor.BoundingBox{MaxWidth: c.Photo.MaxWidth, MaxHeight: c.Photo.MaxHeight}
}

// SearchPolicy returns the configured quality search policy.
func (c *Config) SearchPolicy() compressor.SearchPolicy {
	return compressor.SearchPolicy{
		StartQuality: c.Photo.StartQuality,
		QualityStep:  c.Photo.QualityStep,
		MaxAttempts:  c.Photo.MaxAttempts,
		Timeout:      c.Photo.Timeout,
	}
}

// MaxUploadBytes returns the upload limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Server.MaxUploadMB) << 20
}

func normalizeExtensions(extensions []string) []string {
	normalized := make([]string, len(extensions))
	for i, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized[i] = ext
	}
	return normalized
}
