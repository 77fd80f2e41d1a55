package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 20.0, cfg.Photo.MinSizeKB)
	assert.Equal(t, 50.0, cfg.Photo.MaxSizeKB)
	assert.Equal(t, 1024, cfg.BoundingBox().MaxWidth)
	assert.Equal(t, 10, cfg.SearchPolicy().MaxAttempts)
	assert.InDelta(t, 0.9, cfg.SearchPolicy().StartQuality, 1e-9)
	assert.Equal(t, int64(10<<20), cfg.MaxUploadBytes())
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
photo:
  min_size_kb: 10
  max_size_kb: 30
  timeout: 5s
batch:
  output: DataURI
  supported_extensions: [JPG, png]
server:
  port: 9090
logging:
  level: debug
  file_path: ""
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 10.0, cfg.Photo.MinSizeKB)
	assert.Equal(t, 30.0, cfg.Photo.MaxSizeKB)
	assert.Equal(t, 5*time.Second, cfg.Photo.Timeout)
	assert.Equal(t, 1024, cfg.Photo.MaxWidth)
	assert.Equal(t, "datauri", cfg.Batch.Output)
	assert.Equal(t, []string{".jpg", ".png"}, cfg.Batch.SupportedExtensions)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0644))
	t.Setenv("STUDENT_PHOTO_PHOTO_MAX_SIZE_KB", "80")
	t.Setenv("STUDENT_PHOTO_SERVER_PORT", "7070")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 80.0, cfg.Photo.MaxSizeKB)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadConfigRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("photo:\n  min_size_kb: 60\n  max_size_kb: 50\n"), 0644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_size_kb")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero min", func(c *Config) { c.Photo.MinSizeKB = 0 }},
		{"max below min", func(c *Config) { c.Photo.MaxSizeKB = 5 }},
		{"zero box", func(c *Config) { c.Photo.MaxWidth = 0 }},
		{"quality above one", func(c *Config) { c.Photo.StartQuality = 1.5 }},
		{"zero step", func(c *Config) { c.Photo.QualityStep = 0 }},
		{"zero attempts", func(c *Config) { c.Photo.MaxAttempts = 0 }},
		{"bad output", func(c *Config) { c.Batch.Output = "gif" }},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateNormalizes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Batch.Output = ""
	cfg.Batch.Workers = -3
	cfg.Server.MaxUploadMB = 0
	cfg.Photo.Timeout = -time.Second

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "jpeg", cfg.Batch.Output)
	assert.Equal(t, 0, cfg.Batch.Workers)
	assert.Equal(t, 10, cfg.Server.MaxUploadMB)
	assert.Equal(t, time.Duration(0), cfg.Photo.Timeout)
}
