package fileref

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_CleansAndAbsolutizes(t *testing.T) {
	r := New("foo/./bar/../baz")

	require.False(t, r.IsZero())
	assert.True(t, filepath.IsAbs(r.String()))
	assert.Equal(t, "baz", r.Base())
}

func TestEqual_SameCanonicalPath(t *testing.T) {
	a := New("/tmp/x/../x/file.txt")
	b := New("/tmp/x/file.txt")

	assert.True(t, a.Equal(b))
}

func TestHasPrefix_SelfAndDescendant(t *testing.T) {
	root := New("/tmp/project")
	child := New("/tmp/project/sub/file.txt")
	sibling := New("/tmp/project2/file.txt")

	assert.True(t, root.HasPrefix(root))
	assert.True(t, child.HasPrefix(root))
	assert.False(t, sibling.HasPrefix(root), "similarly-prefixed sibling directory must not match")
}

func TestDir_ReturnsContainingDirectory(t *testing.T) {
	f := New("/tmp/project/sub/file.txt")

	assert.Equal(t, New("/tmp/project/sub").String(), f.Dir().String())
}

func TestURI_RoundTrip(t *testing.T) {
	f := New("/tmp/project/file.txt")

	uri := f.URI()
	assert.Equal(t, "file:///tmp/project/file.txt", uri)

	back := FromURI(uri)
	assert.True(t, f.Equal(back))
}

func TestIsZero(t *testing.T) {
	var zero Ref
	assert.True(t, zero.IsZero())
	assert.False(t, New("/tmp").IsZero())
}
