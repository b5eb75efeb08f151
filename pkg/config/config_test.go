package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perftools/sparsedb-core/pkg/config"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "./sparsedb-out", cfg.Output.Directory)
	assert.Equal(t, 64<<20, cfg.Output.BufferSizeBytes)
	assert.Equal(t, int64(3<<30), cfg.Output.GroupSizeCapBytes)
	assert.Equal(t, 1, cfg.Collective.Ranks)
}

func TestLoadConfigFromFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "sparsedb.yaml")
	content := `
output:
  directory: "/tmp/run-out"
  buffer_size_bytes: 1048576
collective:
  ranks: 4
  workers: 8
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))

	cfg, err := config.LoadConfig(cfgPath)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/run-out", cfg.Output.Directory)
	assert.Equal(t, 1048576, cfg.Output.BufferSizeBytes)
	assert.Equal(t, 4, cfg.Collective.Ranks)
	assert.Equal(t, 8, cfg.Collective.Workers)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("SPARSEDB_OUTPUT_DIRECTORY", "/tmp/env-out")
	t.Setenv("SPARSEDB_COLLECTIVE_RANKS", "3")

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/env-out", cfg.Output.Directory)
	assert.Equal(t, 3, cfg.Collective.Ranks)
}

func TestLoadConfigRejectsInvalidRanks(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("collective:\n  ranks: 0\n"), 0o600))

	_, err := config.LoadConfig(cfgPath)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalidWorkerCount)
}
