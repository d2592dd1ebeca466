package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectHash_StableAndDistinctPerRoot(t *testing.T) {
	a := ProjectHash("/tmp/project-a")
	b := ProjectHash("/tmp/project-a")
	c := ProjectHash("/tmp/project-b")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16, "hash is hex-encoded from 8 bytes")
}

func TestResolveProjectDirs(t *testing.T) {
	pd := ResolveProjectDirs("/tmp/myproject")

	assert.Equal(t, filepath.Join("/tmp/myproject", ".filedex"), pd.Root)
	assert.Equal(t, filepath.Join("/tmp/myproject", ".filedex", "config.yaml"), pd.Config)
	assert.Equal(t, filepath.Join("/tmp/myproject", ".filedex", "local"), pd.Local)
}

func TestDirs_StorePathAndFulltextDirAreProjectKeyed(t *testing.T) {
	d := &Dirs{Data: "/data"}

	storeA := d.StorePath("/tmp/a")
	storeB := d.StorePath("/tmp/b")
	assert.NotEqual(t, storeA, storeB)
	assert.Contains(t, storeA, "stores")
	assert.Contains(t, d.FulltextDir("/tmp/a"), "fulltext")
}

func TestEnsureDir_CreatesWithDefaultPerm(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "a", "b")

	require.NoError(t, EnsureDir(target, 0))

	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestDirs_EnsureAllCreatesEveryStandardDirectory(t *testing.T) {
	base := t.TempDir()
	d := &Dirs{
		Config: filepath.Join(base, "config"),
		Data:   filepath.Join(base, "data"),
		Cache:  filepath.Join(base, "cache"),
		State:  filepath.Join(base, "state"),
	}

	require.NoError(t, d.EnsureAll())

	for _, dir := range []string{
		d.Config, d.DataDir("stores"), d.DataDir("fulltext"),
		d.Cache, d.State, d.LogDir(), d.LockDir(),
	} {
		info, err := os.Stat(dir)
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir(), dir)
	}
}
