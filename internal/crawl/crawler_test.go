package crawl

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arjunmehta/filedex/internal/fileref"
)

func buildTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "top.txt"), []byte("x"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "nested.txt"), []byte("x"), 0644))
	return root
}

func TestWalk_VisitsFilesRecursively(t *testing.T) {
	root := buildTree(t)

	var files []string
	var finished bool
	c := New(Callbacks{
		CheckFile: func(f fileref.Ref) bool {
			files = append(files, f.Base())
			return true
		},
		Finished: func(fileref.Ref) { finished = true },
	})

	require.NoError(t, c.Walk(context.Background(), fileref.New(root), true))

	sort.Strings(files)
	assert.Equal(t, []string{"nested.txt", "top.txt"}, files)
	assert.True(t, finished)
}

func TestWalk_NonRecursiveSkipsSubdirectories(t *testing.T) {
	root := buildTree(t)

	var files []string
	c := New(Callbacks{
		CheckFile: func(f fileref.Ref) bool {
			files = append(files, f.Base())
			return true
		},
		Finished: func(fileref.Ref) {},
	})

	require.NoError(t, c.Walk(context.Background(), fileref.New(root), false))
	assert.Equal(t, []string{"top.txt"}, files)
}

func TestWalk_CheckDirectoryVetoesSubtree(t *testing.T) {
	root := buildTree(t)

	var files []string
	c := New(Callbacks{
		CheckDirectory: func(dir fileref.Ref) bool { return dir.Base() != "sub" },
		CheckFile: func(f fileref.Ref) bool {
			files = append(files, f.Base())
			return true
		},
		Finished: func(fileref.Ref) {},
	})

	require.NoError(t, c.Walk(context.Background(), fileref.New(root), true))
	assert.Equal(t, []string{"top.txt"}, files)
}

func TestWalk_CheckDirectoryContentsVeto(t *testing.T) {
	root := buildTree(t)

	var files []string
	c := New(Callbacks{
		CheckDirectoryContents: func(dir fileref.Ref, children []fileref.Ref) bool {
			return len(children) < 5
		},
		CheckFile: func(f fileref.Ref) bool {
			files = append(files, f.Base())
			return true
		},
		Finished: func(fileref.Ref) {},
	})

	require.NoError(t, c.Walk(context.Background(), fileref.New(root), true))
	sort.Strings(files)
	assert.Equal(t, []string{"nested.txt", "top.txt"}, files)
}

func TestWalk_SingleFileRoot(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "solo.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	var seen fileref.Ref
	c := New(Callbacks{
		CheckFile: func(f fileref.Ref) bool { seen = f; return true },
		Finished:  func(fileref.Ref) {},
	})

	require.NoError(t, c.Walk(context.Background(), fileref.New(file), true))
	assert.Equal(t, "solo.txt", seen.Base())
}
