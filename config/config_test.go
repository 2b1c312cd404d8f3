package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	// Isolated viper instance without loading user/system config
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)

	assert.Equal(t, DefaultDatabasePath, cfg.Database.Path)
	assert.Equal(t, DefaultMaxConcurrentExtractors, cfg.Extraction.MaxConcurrentExtractors)
	assert.Equal(t, DefaultMinEntityConfidence, cfg.Extraction.MinConfidence)
	assert.Equal(t, DefaultMaxTokenDistance, cfg.Relation.MaxTokenDistance)
	assert.Equal(t, DefaultGraphURI, cfg.Relation.DefaultGraphURI)
	assert.Equal(t, DefaultRetryMaxAttempts, cfg.Retry.MaxAttempts)
	assert.Equal(t, DefaultProvenancePageSize, cfg.Provenance.DefaultPageSize)
	assert.Equal(t, DefaultMaxLineageDepth, cfg.Provenance.MaxLineageDepth)
}

func TestLoad_OverridesFromViper(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("database.path", "/tmp/other.db")
	v.Set("retry.max_attempts", 7)

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/other.db", cfg.Database.Path)
	assert.Equal(t, 7, cfg.Retry.MaxAttempts)
	// Untouched keys keep defaults
	assert.Equal(t, DefaultMaxTokenDistance, cfg.Relation.MaxTokenDistance)
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "kgraph.toml")

	content := `
[database]
path = "/data/kg.db"

[extraction]
max_concurrent_extractors = 8
min_confidence = 0.5

[relation]
default_graph_uri = "kg://graphs/test"
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)

	assert.Equal(t, "/data/kg.db", cfg.Database.Path)
	assert.Equal(t, 8, cfg.Extraction.MaxConcurrentExtractors)
	assert.Equal(t, 0.5, cfg.Extraction.MinConfidence)
	assert.Equal(t, "kg://graphs/test", cfg.Relation.DefaultGraphURI)
	// Defaults fill in sections the file omits
	assert.Equal(t, DefaultRetryMaxAttempts, cfg.Retry.MaxAttempts)
}

func TestLoadFromFile_Missing(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/kgraph.toml")
	assert.Error(t, err)
}

func TestReset(t *testing.T) {
	Reset()
	cfg1, err := Load()
	require.NoError(t, err)
	Reset()
	cfg2, err := Load()
	require.NoError(t, err)
	assert.NotSame(t, cfg1, cfg2)
}
