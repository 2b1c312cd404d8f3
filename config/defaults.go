package config

import "github.com/spf13/viper"

// Default values applied when the config file omits a key.
const (
	DefaultDatabasePath            = "kgraph.db"
	DefaultMaxConcurrentExtractors = 4
	DefaultMinEntityConfidence     = 0.3
	DefaultMaxTokenDistance        = 12
	DefaultMinRelationConfidence   = 0.4
	DefaultGraphURI                = "kg://graphs/default"
	DefaultRetryMaxAttempts        = 3
	DefaultRetryBackoffMS          = 25
	DefaultProvenancePageSize      = 50
	DefaultMaxLineageDepth         = 32
)

// SetDefaults registers default values on the given Viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", DefaultDatabasePath)

	v.SetDefault("extraction.max_concurrent_extractors", DefaultMaxConcurrentExtractors)
	v.SetDefault("extraction.min_confidence", DefaultMinEntityConfidence)

	v.SetDefault("relation.max_token_distance", DefaultMaxTokenDistance)
	v.SetDefault("relation.min_confidence", DefaultMinRelationConfidence)
	v.SetDefault("relation.default_graph_uri", DefaultGraphURI)

	v.SetDefault("retry.max_attempts", DefaultRetryMaxAttempts)
	v.SetDefault("retry.backoff_ms", DefaultRetryBackoffMS)

	v.SetDefault("provenance.default_page_size", DefaultProvenancePageSize)
	v.SetDefault("provenance.max_lineage_depth", DefaultMaxLineageDepth)
}
