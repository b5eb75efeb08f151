package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perftools/sparsedb-core/pkg/config"
)

func TestLoadRunManifestValid(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	content := `{
  "ranks": [
    {"threads": [{"contexts": 4, "timepoints": 10}]},
    {"threads": [{"contexts": 2}, {"contexts": 3, "timepoints": 5}]}
  ]
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	manifest, err := config.LoadRunManifest(path)
	require.NoError(t, err)
	require.Len(t, manifest.Ranks, 2)
	assert.Len(t, manifest.Ranks[1].Threads, 2)
	assert.Equal(t, 4, manifest.Ranks[0].Threads[0].Contexts)
}

func TestLoadRunManifestRejectsMissingRanks(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o600))

	_, err := config.LoadRunManifest(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrManifestInvalid)
}
