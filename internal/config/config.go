// Package config handles converter configuration loading and management.
package config

import (
	"fmt"

	"github.com/Faultbox/midgard-assets/pkg/compress"
)

// Config holds all converter settings.
type Config struct {
	Convert ConvertConfig `yaml:"convert" toml:"convert"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
}

// ConvertConfig holds conversion settings.
type ConvertConfig struct {
	Workers            int    `yaml:"workers" toml:"workers"`                         // Files converted in parallel
	TextureCompression string `yaml:"texture_compression" toml:"texture_compression"` // none, lz4, lz4hc, zstd
	MeshCompression    string `yaml:"mesh_compression" toml:"mesh_compression"`
	RegenerateNormals  bool   `yaml:"regenerate_normals" toml:"regenerate_normals"`
	Incremental        bool   `yaml:"incremental" toml:"incremental"` // Skip sources whose hash is unchanged
	BaseEffect         string `yaml:"base_effect" toml:"base_effect"`
	MagentaKey         bool   `yaml:"magenta_key" toml:"magenta_key"` // Treat pure magenta as transparent in images
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level" toml:"level"`
	LogFile    string `yaml:"log_file" toml:"log_file"`
	Format     string `yaml:"format" toml:"format"` // File encoding: console or json
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Convert: ConvertConfig{
			Workers:            1,
			TextureCompression: "none",
			MeshCompression:    "lz4",
			RegenerateNormals:  true,
			Incremental:        true,
			BaseEffect:         "default",
			MagentaKey:         false,
		},
		Logging: LoggingConfig{
			Level:      "info",
			LogFile:    "",
			Format:     "console",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Compress:   true,
		},
	}
}

// Modes returns the parsed texture and mesh compression modes.
func (c *ConvertConfig) Modes() (texture, mesh compress.Mode, err error) {
	if texture, err = compress.ParseMode(c.TextureCompression); err != nil {
		return 0, 0, fmt.Errorf("texture_compression: %w", err)
	}
	if mesh, err = compress.ParseMode(c.MeshCompression); err != nil {
		return 0, 0, fmt.Errorf("mesh_compression: %w", err)
	}
	return texture, mesh, nil
}

// Validate checks values that cannot be caught by the decoders.
func (c *Config) Validate() error {
	if c.Convert.Workers < 1 {
		return fmt.Errorf("convert.workers must be at least 1, got %d", c.Convert.Workers)
	}
	if _, _, err := c.Convert.Modes(); err != nil {
		return fmt.Errorf("convert.%w", err)
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}
