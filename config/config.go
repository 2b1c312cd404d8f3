// Package config defines the engine configuration, loaded via Viper from
// TOML files and environment variables.
package config

// Config represents the core engine configuration.
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database" toml:"database"`
	Extraction ExtractionConfig `mapstructure:"extraction" toml:"extraction"`
	Relation   RelationConfig   `mapstructure:"relation" toml:"relation"`
	Retry      RetryConfig      `mapstructure:"retry" toml:"retry"`
	Provenance ProvenanceConfig `mapstructure:"provenance" toml:"provenance"`
}

// DatabaseConfig configures the SQLite database backing all engine state.
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

// ExtractionConfig configures the entity extraction pipeline.
type ExtractionConfig struct {
	// MaxConcurrentExtractors bounds the extractor fan-out per run.
	MaxConcurrentExtractors int `mapstructure:"max_concurrent_extractors" toml:"max_concurrent_extractors"`
	// MinConfidence drops candidate entities scoring below this threshold.
	MinConfidence float64 `mapstructure:"min_confidence" toml:"min_confidence"`
}

// RelationConfig configures relation extraction and mapping.
type RelationConfig struct {
	// MaxTokenDistance is the widest entity-pair window (in tokens) a
	// relation extractor will scan.
	MaxTokenDistance int `mapstructure:"max_token_distance" toml:"max_token_distance"`
	// MinConfidence drops candidate relations scoring below this threshold.
	MinConfidence float64 `mapstructure:"min_confidence" toml:"min_confidence"`
	// DefaultGraphURI is the named graph relations are mapped into when
	// the caller does not supply one.
	DefaultGraphURI string `mapstructure:"default_graph_uri" toml:"default_graph_uri"`
}

// RetryConfig bounds transparent retries of serialization/lock failures.
// Tenant isolation and cycle detection errors are never retried.
type RetryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts" toml:"max_attempts"`
	// BackoffMS is the base backoff between attempts, in milliseconds.
	BackoffMS int `mapstructure:"backoff_ms" toml:"backoff_ms"`
}

// ProvenanceConfig configures the provenance tracker.
type ProvenanceConfig struct {
	// DefaultPageSize applies when a provenance query specifies no limit.
	DefaultPageSize int `mapstructure:"default_page_size" toml:"default_page_size"`
	// MaxLineageDepth caps caller-supplied lineage traversal depth.
	MaxLineageDepth int `mapstructure:"max_lineage_depth" toml:"max_lineage_depth"`
}
