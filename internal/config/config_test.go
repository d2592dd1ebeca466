package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arjunmehta/filedex/internal/storage"
)

func TestDefaultConfig_SeedsExcludePatternsAndPaths(t *testing.T) {
	dirs := &storage.Dirs{Data: "/data"}
	cfg := DefaultConfig(dirs, "/tmp/project")

	assert.Equal(t, 4, cfg.Pipeline.PoolLimit)
	assert.Contains(t, cfg.Pipeline.ExcludePatterns, ".git")
	assert.NotEmpty(t, cfg.Store.Path)
	assert.NotEmpty(t, cfg.Fulltext.Path)
	assert.True(t, cfg.Fulltext.Enabled)
}

func TestDefaultConfig_NilDirsLeavesPathsEmpty(t *testing.T) {
	cfg := DefaultConfig(nil, "/tmp/project")
	assert.Empty(t, cfg.Store.Path)
	assert.Empty(t, cfg.Fulltext.Path)
}

func TestManager_LoadLayersProjectConfigOverDefaults(t *testing.T) {
	projectRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(projectRoot, ".filedex"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(projectRoot, ".filedex", "config.yaml"), []byte(`
pipeline:
  pool_limit: 9
`), 0644))

	mgr := NewManager(nil, projectRoot)
	require.NoError(t, mgr.Load())

	assert.Equal(t, 9, mgr.Get().Pipeline.PoolLimit)
}

func TestManager_LoadIsToleratedWhenNoConfigFilesExist(t *testing.T) {
	mgr := NewManager(nil, t.TempDir())
	require.NoError(t, mgr.Load())
	assert.Equal(t, 4, mgr.Get().Pipeline.PoolLimit)
}

func TestApplyEnvironment_OverridesLayeredConfig(t *testing.T) {
	t.Setenv("FILEDEX_POOL_LIMIT", "16")
	t.Setenv("FILEDEX_THROTTLE", "0.5")
	t.Setenv("FILEDEX_FULLTEXT_ENABLED", "false")

	cfg := DefaultConfig(nil, "/tmp/project")
	applyEnvironment(cfg)

	assert.Equal(t, 16, cfg.Pipeline.PoolLimit)
	assert.Equal(t, 0.5, cfg.Pipeline.Throttle)
	assert.False(t, cfg.Fulltext.Enabled)
}

func TestManager_OnChangeNotifiedAfterLoad(t *testing.T) {
	mgr := NewManager(nil, t.TempDir())

	var notified *Config
	mgr.OnChange(func(c *Config) { notified = c })

	require.NoError(t, mgr.Load())
	require.NotNil(t, notified)
	assert.Same(t, mgr.Get(), notified)
}
