package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().DataDir, cfg.DataDir)
	assert.Equal(t, Default().Sync.QueueCapacity, cfg.Sync.QueueCapacity)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("data_dir: /var/lib/collab\nsync:\n  queue_capacity: 512\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/collab", cfg.DataDir)
	assert.Equal(t, 512, cfg.Sync.QueueCapacity)
	assert.Equal(t, Default().BindAddr, cfg.BindAddr)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: /var/lib/collab\n"), 0o644))

	t.Setenv("COLLAB_DATA_DIR", "/env/override")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/env/override", cfg.DataDir)
}
