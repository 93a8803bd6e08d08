package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Test limit defaults
	if cfg.Limits.MaxVertices != 100000 {
		t.Errorf("expected max vertices 100000, got %d", cfg.Limits.MaxVertices)
	}
	if cfg.Limits.MaxBones != 128 {
		t.Errorf("expected max bones 128, got %d", cfg.Limits.MaxBones)
	}
	if cfg.Limits.MaxKeyframes != 500 {
		t.Errorf("expected max keyframes 500, got %d", cfg.Limits.MaxKeyframes)
	}

	// Test pipeline defaults
	if !cfg.Pipeline.Cache {
		t.Error("expected cache to be enabled by default")
	}
	if cfg.Pipeline.ManifestName != "manifest.json" {
		t.Errorf("expected manifest.json, got %s", cfg.Pipeline.ManifestName)
	}
	if cfg.Pipeline.GeometryName != "geometry.json" {
		t.Errorf("expected geometry.json, got %s", cfg.Pipeline.GeometryName)
	}

	// Test logging defaults
	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.Logging.Level)
	}
	if cfg.Logging.LogFile != "" {
		t.Errorf("expected empty log file, got %s", cfg.Logging.LogFile)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config is invalid: %v", err)
	}
}

func TestDecodeLimits(t *testing.T) {
	cfg := Default()
	cfg.Limits.MaxVertices = 10
	cfg.Limits.MaxBones = 2
	cfg.Limits.MaxKeyframes = 3

	l := cfg.DecodeLimits()
	if l.MaxVertices != 10 || l.MaxBones != 2 || l.MaxKeyframes != 3 {
		t.Errorf("DecodeLimits = %+v", l)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero vertices", func(c *Config) { c.Limits.MaxVertices = 0 }},
		{"negative bones", func(c *Config) { c.Limits.MaxBones = -1 }},
		{"one keyframe", func(c *Config) { c.Limits.MaxKeyframes = 1 }},
		{"empty manifest name", func(c *Config) { c.Pipeline.ManifestName = "" }},
		{"colliding names", func(c *Config) { c.Pipeline.ManifestName = c.Pipeline.GeometryName }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	// Create temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "modelprep.yaml")

	yamlContent := `
limits:
  max_vertices: 5000
  max_bones: 64
  max_keyframes: 120

pipeline:
  cache: false
  manifest_name: "cache.json"
  geometry_name: "mesh.json"

logging:
  level: "debug"
  log_file: "modelprep.log"
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	// Load config
	cfg := Default()
	if err := loadFromFile(cfg, configPath); err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	// Verify values were loaded
	if cfg.Limits.MaxVertices != 5000 {
		t.Errorf("expected max vertices 5000, got %d", cfg.Limits.MaxVertices)
	}
	if cfg.Limits.MaxBones != 64 {
		t.Errorf("expected max bones 64, got %d", cfg.Limits.MaxBones)
	}
	if cfg.Limits.MaxKeyframes != 120 {
		t.Errorf("expected max keyframes 120, got %d", cfg.Limits.MaxKeyframes)
	}

	if cfg.Pipeline.Cache {
		t.Error("expected cache to be disabled")
	}
	if cfg.Pipeline.ManifestName != "cache.json" {
		t.Errorf("expected manifest name cache.json, got %s", cfg.Pipeline.ManifestName)
	}
	if cfg.Pipeline.GeometryName != "mesh.json" {
		t.Errorf("expected geometry name mesh.json, got %s", cfg.Pipeline.GeometryName)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Logging.Level)
	}
	if cfg.Logging.LogFile != "modelprep.log" {
		t.Errorf("expected log file 'modelprep.log', got %s", cfg.Logging.LogFile)
	}
}

func TestLoadFromFilePartial(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "modelprep.yaml")

	if err := os.WriteFile(configPath, []byte("limits:\n  max_bones: 32\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg := Default()
	if err := loadFromFile(cfg, configPath); err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	// Unset keys keep their defaults
	if cfg.Limits.MaxBones != 32 {
		t.Errorf("expected max bones 32, got %d", cfg.Limits.MaxBones)
	}
	if cfg.Limits.MaxVertices != 100000 {
		t.Errorf("expected default max vertices, got %d", cfg.Limits.MaxVertices)
	}
	if !cfg.Pipeline.Cache {
		t.Error("expected default cache setting")
	}
}

func TestLoadFromFileInvalid(t *testing.T) {
	// Create temporary config file with invalid YAML
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
limits:
  max_vertices: not a number
  invalid syntax here
`

	if err := os.WriteFile(configPath, []byte(invalidYAML), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	// Try to load - should error
	cfg := Default()
	err := loadFromFile(cfg, configPath)
	if err == nil {
		t.Error("expected error loading invalid YAML, got nil")
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	cfg := Default()
	err := loadFromFile(cfg, "/nonexistent/path/modelprep.yaml")
	if err == nil {
		t.Error("expected error loading missing file, got nil")
	}
}

func TestConfigDir(t *testing.T) {
	dir := ConfigDir()

	// Just verify it returns a non-empty path
	// Actual path depends on OS
	if dir == "" {
		t.Error("ConfigDir returned empty string")
	}

	// Verify path is absolute
	if !filepath.IsAbs(dir) {
		t.Errorf("ConfigDir should return absolute path, got %s", dir)
	}
}

func TestFindConfigFile(t *testing.T) {
	// Save current directory
	origDir, _ := os.Getwd()
	defer os.Chdir(origDir)

	// Create temp directory and change to it
	tmpDir := t.TempDir()
	os.Chdir(tmpDir)

	// No config file exists - should return empty
	path := findConfigFile()
	if path != "" {
		t.Errorf("expected empty path when no config exists, got %s", path)
	}

	// Create modelprep.yaml in current directory
	configPath := filepath.Join(tmpDir, "modelprep.yaml")
	if err := os.WriteFile(configPath, []byte("limits:\n  max_bones: 16\n"), 0644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}

	// Should find it now
	path = findConfigFile()
	if path == "" {
		t.Error("expected to find modelprep.yaml in current directory")
	}
}

func TestApplyFlags(t *testing.T) {
	tests := []struct {
		name     string
		setup    func()
		verify   func(*testing.T, *Config)
		teardown func()
	}{
		{
			name:  "debug flag",
			setup: func() { *flagDebug = true },
			verify: func(t *testing.T, cfg *Config) {
				if cfg.Logging.Level != "debug" {
					t.Errorf("expected log level 'debug', got %s", cfg.Logging.Level)
				}
			},
			teardown: func() { *flagDebug = false },
		},
		{
			name: "limit flags",
			setup: func() {
				*flagMaxVertices = 2000
				*flagMaxBones = 8
				*flagMaxKeyframes = 50
			},
			verify: func(t *testing.T, cfg *Config) {
				l := cfg.DecodeLimits()
				if l.MaxVertices != 2000 || l.MaxBones != 8 || l.MaxKeyframes != 50 {
					t.Errorf("unexpected limits %+v", l)
				}
			},
			teardown: func() {
				*flagMaxVertices = 0
				*flagMaxBones = 0
				*flagMaxKeyframes = 0
			},
		},
		{
			name:  "no-cache flag",
			setup: func() { *flagNoCache = true },
			verify: func(t *testing.T, cfg *Config) {
				if cfg.Pipeline.Cache {
					t.Error("expected cache to be disabled with no-cache flag")
				}
			},
			teardown: func() { *flagNoCache = false },
		},
		{
			name:  "log-file flag",
			setup: func() { *flagLogFile = "/tmp/modelprep.log" },
			verify: func(t *testing.T, cfg *Config) {
				if cfg.Logging.LogFile != "/tmp/modelprep.log" {
					t.Errorf("expected log file from flag, got %s", cfg.Logging.LogFile)
				}
			},
			teardown: func() { *flagLogFile = "" },
		},
		{
			name:  "zero limit flags keep defaults",
			setup: func() {},
			verify: func(t *testing.T, cfg *Config) {
				if cfg.Limits.MaxVertices != 100000 {
					t.Errorf("expected default max vertices, got %d", cfg.Limits.MaxVertices)
				}
			},
			teardown: func() {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Setup
			tt.setup()
			defer tt.teardown()

			// Apply flags to default config
			cfg := Default()
			applyFlags(cfg)

			// Verify
			tt.verify(t, cfg)
		})
	}
}

func TestLoadPriority(t *testing.T) {
	// Create temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "modelprep.yaml")

	yamlContent := `
limits:
  max_vertices: 4000
  max_bones: 16
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	// Set flag to override config file
	*flagConfig = configPath
	*flagMaxVertices = 9000
	defer func() {
		*flagConfig = ""
		*flagMaxVertices = 0
	}()

	// Load config
	cfg, err := Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	// Vertices should be from flag (9000), not file (4000)
	if cfg.Limits.MaxVertices != 9000 {
		t.Errorf("expected max vertices 9000 from flag, got %d", cfg.Limits.MaxVertices)
	}

	// Bones should be from file (16) since no flag override
	if cfg.Limits.MaxBones != 16 {
		t.Errorf("expected max bones 16 from file, got %d", cfg.Limits.MaxBones)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "modelprep.yaml")

	if err := os.WriteFile(configPath, []byte("limits:\n  max_vertices: -5\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	*flagConfig = configPath
	defer func() { *flagConfig = "" }()

	if _, err := Load(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestSaveTo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "modelprep.yaml")

	cfg := Default()
	cfg.Limits.MaxBones = 42
	cfg.Pipeline.Cache = false
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo failed: %v", err)
	}

	loaded := Default()
	if err := loadFromFile(loaded, path); err != nil {
		t.Fatalf("failed to reload config: %v", err)
	}
	if loaded.Limits.MaxBones != 42 || loaded.Pipeline.Cache {
		t.Errorf("reloaded config = %+v", loaded)
	}
}
