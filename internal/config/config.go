// Package config handles modelprep configuration loading and management.
package config

import (
	"errors"
	"fmt"

	"github.com/Faultbox/modelprep/pkg/geometry"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds all modelprep settings.
type Config struct {
	Limits   LimitsConfig   `yaml:"limits"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LimitsConfig caps the size of decoded models.
type LimitsConfig struct {
	MaxVertices  int `yaml:"max_vertices"`
	MaxBones     int `yaml:"max_bones"`
	MaxKeyframes int `yaml:"max_keyframes"` // per animation track
}

// PipelineConfig holds output and caching settings.
type PipelineConfig struct {
	Cache        bool   `yaml:"cache"`
	ManifestName string `yaml:"manifest_name"`
	GeometryName string `yaml:"geometry_name"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Limits: LimitsConfig{
			MaxVertices:  geometry.DefaultMaxVertices,
			MaxBones:     geometry.DefaultMaxBones,
			MaxKeyframes: geometry.DefaultMaxKeyframes,
		},
		Pipeline: PipelineConfig{
			Cache:        true,
			ManifestName: "manifest.json",
			GeometryName: "geometry.json",
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}

// DecodeLimits converts the limits section for the decoders.
func (c *Config) DecodeLimits() geometry.Limits {
	return geometry.Limits{
		MaxVertices:  c.Limits.MaxVertices,
		MaxBones:     c.Limits.MaxBones,
		MaxKeyframes: c.Limits.MaxKeyframes,
	}
}

// Validate checks that limits are positive and output names are set.
func (c *Config) Validate() error {
	switch {
	case c.Limits.MaxVertices <= 0:
		return fmt.Errorf("%w: max_vertices must be positive, got %d", ErrInvalidConfig, c.Limits.MaxVertices)
	case c.Limits.MaxBones <= 0:
		return fmt.Errorf("%w: max_bones must be positive, got %d", ErrInvalidConfig, c.Limits.MaxBones)
	case c.Limits.MaxKeyframes < 2:
		return fmt.Errorf("%w: max_keyframes must be at least 2, got %d", ErrInvalidConfig, c.Limits.MaxKeyframes)
	case c.Pipeline.ManifestName == "" || c.Pipeline.GeometryName == "":
		return fmt.Errorf("%w: pipeline file names must not be empty", ErrInvalidConfig)
	case c.Pipeline.ManifestName == c.Pipeline.GeometryName:
		return fmt.Errorf("%w: manifest and geometry names collide", ErrInvalidConfig)
	}
	return nil
}
