package config

import "github.com/anthropics/claude-knowledge/internal/store"

// DefaultConfig returns configuration with sensible defaults. These are used
// when no config file exists or when a file is missing specific fields.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: store.DefaultDBPath,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "ollama",
			Endpoint:   "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dimensions: 768,
		},
		Docs: DocsConfig{
			Include: []string{"**/*.md"},
		},
		Hooks: HooksConfig{
			StaleWorkflowHours: 24,
		},
		Search: SearchConfig{
			Limit:     5,
			Threshold: 0.3,
		},
	}
}

// Merge merges loaded config with defaults. Values from the loaded config
// take precedence.
func Merge(loaded, defaults *Config) *Config {
	result := &Config{}
	result.Database = mergeDatabaseConfig(loaded.Database, defaults.Database)
	result.Embeddings = mergeEmbeddingsConfig(loaded.Embeddings, defaults.Embeddings)
	result.Docs = mergeDocsConfig(loaded.Docs, defaults.Docs)
	result.Hooks = mergeHooksConfig(loaded.Hooks, defaults.Hooks)
	result.Search = mergeSearchConfig(loaded.Search, defaults.Search)
	return result
}

func mergeDatabaseConfig(loaded, defaults DatabaseConfig) DatabaseConfig {
	result := DatabaseConfig{}
	if loaded.Path != "" {
		result.Path = loaded.Path
	} else {
		result.Path = defaults.Path
	}
	return result
}

func mergeEmbeddingsConfig(loaded, defaults EmbeddingsConfig) EmbeddingsConfig {
	result := EmbeddingsConfig{}
	if loaded.Provider != "" {
		result.Provider = loaded.Provider
	} else {
		result.Provider = defaults.Provider
	}
	if loaded.Endpoint != "" {
		result.Endpoint = loaded.Endpoint
	} else {
		result.Endpoint = defaults.Endpoint
	}
	if loaded.Model != "" {
		result.Model = loaded.Model
	} else {
		result.Model = defaults.Model
	}
	if loaded.Dimensions != 0 {
		result.Dimensions = loaded.Dimensions
	} else {
		result.Dimensions = defaults.Dimensions
	}
	return result
}

func mergeDocsConfig(loaded, defaults DocsConfig) DocsConfig {
	result := DocsConfig{}
	if len(loaded.Include) > 0 {
		result.Include = loaded.Include
	} else {
		result.Include = defaults.Include
	}
	return result
}

func mergeHooksConfig(loaded, defaults HooksConfig) HooksConfig {
	result := HooksConfig{}
	if len(loaded.TranscriptDirs) > 0 {
		result.TranscriptDirs = loaded.TranscriptDirs
	}
	if loaded.StaleWorkflowHours != 0 {
		result.StaleWorkflowHours = loaded.StaleWorkflowHours
	} else {
		result.StaleWorkflowHours = defaults.StaleWorkflowHours
	}
	return result
}

func mergeSearchConfig(loaded, defaults SearchConfig) SearchConfig {
	result := SearchConfig{}
	if loaded.Limit != 0 {
		result.Limit = loaded.Limit
	} else {
		result.Limit = defaults.Limit
	}
	if loaded.Threshold != 0 {
		result.Threshold = loaded.Threshold
	} else {
		result.Threshold = defaults.Threshold
	}
	return result
}
