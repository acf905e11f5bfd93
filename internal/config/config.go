// Package config loads .ck/config.yaml, merging it with defaults and
// validating the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the name of the ck configuration file
const ConfigFileName = "config.yaml"

// ConfigDirName is the name of the ck configuration directory
const ConfigDirName = ".ck"

// Config holds all ck configuration
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Docs       DocsConfig       `yaml:"docs"`
	Hooks      HooksConfig      `yaml:"hooks"`
	Search     SearchConfig     `yaml:"search"`
}

// DatabaseConfig holds the store location
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// EmbeddingsConfig holds embedding provider settings
type EmbeddingsConfig struct {
	Provider   string `yaml:"provider"`
	Endpoint   string `yaml:"endpoint"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// DocsConfig holds documentation indexing settings
type DocsConfig struct {
	Include []string `yaml:"include"`
}

// HooksConfig holds session-hook settings
type HooksConfig struct {
	TranscriptDirs     []string `yaml:"transcript_dirs"`
	StaleWorkflowHours int      `yaml:"stale_workflow_hours"`
}

// SearchConfig holds similarity-search defaults
type SearchConfig struct {
	Limit     int     `yaml:"limit"`
	Threshold float64 `yaml:"threshold"`
}

// ErrConfigNotFound is returned when no config file can be found
var ErrConfigNotFound = errors.New("config file not found")

// ErrInvalidConfig is returned when config validation fails
var ErrInvalidConfig = errors.New("invalid configuration")

// Load reads config from .ck/config.yaml, falling back to defaults.
// It searches for the config directory starting from workDir and walking up
// the directory tree. If no config is found, returns defaults.
func Load(workDir string) (*Config, error) {
	configDir, err := FindConfigDir(workDir)
	if err != nil {
		return DefaultConfig(), nil
	}
	return LoadFromPath(filepath.Join(configDir, ConfigFileName))
}

// LoadFromPath reads config from a specific path, merges it with defaults,
// and validates the result.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	loaded := &Config{}
	if err := yaml.Unmarshal(data, loaded); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	merged := Merge(loaded, DefaultConfig())
	if err := Validate(merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// FindConfigDir locates the .ck directory by walking up from startDir.
func FindConfigDir(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	currentDir := absDir
	for {
		configDir := filepath.Join(currentDir, ConfigDirName)
		info, err := os.Stat(configDir)
		if err == nil && info.IsDir() {
			return configDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return "", ErrConfigNotFound
		}
		currentDir = parentDir
	}
}

// EnsureConfigDir creates the .ck directory in workDir if it doesn't exist.
func EnsureConfigDir(workDir string) (string, error) {
	absDir, err := filepath.Abs(workDir)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	configDir := filepath.Join(absDir, ConfigDirName)
	info, err := os.Stat(configDir)
	if err == nil {
		if info.IsDir() {
			return configDir, nil
		}
		return "", fmt.Errorf("%s exists but is not a directory", configDir)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	return configDir, nil
}

// ValidProviders lists the valid embedding providers. "none" disables
// embeddings; structured queries still work.
var ValidProviders = []string{"ollama", "hash", "none"}

// Validate checks that config values are valid.
func Validate(cfg *Config) error {
	if cfg.Database.Path == "" {
		return fmt.Errorf("%w: database.path must not be empty", ErrInvalidConfig)
	}

	valid := false
	for _, p := range ValidProviders {
		if cfg.Embeddings.Provider == p {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: embeddings.provider must be one of %v, got %q",
			ErrInvalidConfig, ValidProviders, cfg.Embeddings.Provider)
	}

	if cfg.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("%w: embeddings.dimensions must be positive, got %d",
			ErrInvalidConfig, cfg.Embeddings.Dimensions)
	}

	if cfg.Hooks.StaleWorkflowHours <= 0 {
		return fmt.Errorf("%w: hooks.stale_workflow_hours must be positive, got %d",
			ErrInvalidConfig, cfg.Hooks.StaleWorkflowHours)
	}

	if cfg.Search.Limit <= 0 {
		return fmt.Errorf("%w: search.limit must be positive, got %d",
			ErrInvalidConfig, cfg.Search.Limit)
	}

	if cfg.Search.Threshold < 0 || cfg.Search.Threshold > 1 {
		return fmt.Errorf("%w: search.threshold must be between 0 and 1, got %f",
			ErrInvalidConfig, cfg.Search.Threshold)
	}

	return nil
}

// SaveDefault writes the default configuration to .ck/config.yaml in workDir.
// Creates the .ck directory if it doesn't exist.
func SaveDefault(workDir string) (string, error) {
	configDir, err := EnsureConfigDir(workDir)
	if err != nil {
		return "", err
	}

	configPath := filepath.Join(configDir, ConfigFileName)
	if _, err := os.Stat(configPath); err == nil {
		return "", fmt.Errorf("config file already exists: %s", configPath)
	}

	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return "", fmt.Errorf("marshaling config: %w", err)
	}

	header := "# ck configuration\n\n"
	data = append([]byte(header), data...)

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return configPath, nil
}
