package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arjunmehta/filedex/internal/fileref"
)

// fakeFreshness lets each test dictate the mtime_matches_store answer
// without a real store.
type fakeFreshness struct {
	fresh map[string]bool
	err   error
}

func (f *fakeFreshness) MTimeMatches(_ context.Context, uri string, _ time.Time) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.fresh[uri], nil
}

func writeTempFile(t *testing.T) fileref.Ref {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	return fileref.New(path)
}

func TestShouldCheck_ExcludeGlobRejectsByBaseName(t *testing.T) {
	f, err := New(Config{ExcludePatterns: []string{"*.tmp"}}, &fakeFreshness{})
	require.NoError(t, err)

	assert.False(t, f.ShouldCheck(fileref.New("/a/file.tmp"), false))
	assert.True(t, f.ShouldCheck(fileref.New("/a/file.go"), false))
}

func TestShouldCheck_HostPredicateComposesWithExcludes(t *testing.T) {
	f, err := New(Config{
		ExcludePatterns: []string{"*.tmp"},
		Predicates: Predicates{
			ShouldCheck: func(file fileref.Ref, isDir bool) bool {
				return file.Base() != "hidden.go"
			},
		},
	}, &fakeFreshness{})
	require.NoError(t, err)

	require.False(t, f.ShouldCheck(fileref.New("/a/hidden.go"), false))
	require.True(t, f.ShouldCheck(fileref.New("/a/visible.go"), false))
}

func TestShouldCheck_GitignoreInDirectoryRejectsMatchingEntries(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("*.log\n# a comment\n\nbuild/\n"), 0644))

	f, err := New(Config{}, &fakeFreshness{})
	require.NoError(t, err)

	assert.False(t, f.ShouldCheck(fileref.New(filepath.Join(dir, "debug.log")), false))
	assert.True(t, f.ShouldCheck(fileref.New(filepath.Join(dir, "main.go")), false))
}

func TestShouldCheck_GitignoreCacheServesSecondLookupWithoutRereading(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("*.log\n"), 0644))

	f, err := New(Config{}, &fakeFreshness{})
	require.NoError(t, err)

	assert.False(t, f.ShouldCheck(fileref.New(filepath.Join(dir, "a.log")), false))

	// Remove the .gitignore; a cached directory must keep honoring the
	// pattern set it already compiled rather than re-reading the file.
	require.NoError(t, os.Remove(filepath.Join(dir, ".gitignore")))
	assert.False(t, f.ShouldCheck(fileref.New(filepath.Join(dir, "b.log")), false))
}

func TestShouldCheck_DirectoryWithoutGitignoreOnlyAppliesGlobalExcludes(t *testing.T) {
	dir := t.TempDir()

	f, err := New(Config{ExcludePatterns: []string{"*.tmp"}}, &fakeFreshness{})
	require.NoError(t, err)

	assert.False(t, f.ShouldCheck(fileref.New(filepath.Join(dir, "a.tmp")), false))
	assert.True(t, f.ShouldCheck(fileref.New(filepath.Join(dir, "a.log")), false))
}

func TestShouldProcess_FreshFileRejected(t *testing.T) {
	file := writeTempFile(t)

	store := &fakeFreshness{fresh: map[string]bool{file.URI(): true}}
	f, err := New(Config{}, store)
	require.NoError(t, err)

	decision, err := f.ShouldProcess(context.Background(), file, false)
	require.NoError(t, err)
	require.False(t, decision.Accepted)
}

func TestShouldProcess_StaleDirectoryAccepted(t *testing.T) {
	dir := t.TempDir()
	ref := fileref.New(dir)

	store := &fakeFreshness{fresh: map[string]bool{ref.URI(): false}}
	f, err := New(Config{}, store)
	require.NoError(t, err)

	decision, err := f.ShouldProcess(context.Background(), ref, true)
	require.NoError(t, err)
	require.True(t, decision.Accepted)
	require.False(t, decision.ContentsOnly)
}

func TestShouldProcess_FreshDirectoryTaggedContentsOnly(t *testing.T) {
	dir := t.TempDir()
	ref := fileref.New(dir)

	store := &fakeFreshness{fresh: map[string]bool{ref.URI(): true}}
	f, err := New(Config{}, store)
	require.NoError(t, err)

	decision, err := f.ShouldProcess(context.Background(), ref, true)
	require.NoError(t, err)
	require.True(t, decision.Accepted)
	require.True(t, decision.ContentsOnly)
}

func TestShouldProcess_VanishedFileTreatedAsAcceptedNotFresh(t *testing.T) {
	ref := fileref.New(filepath.Join(t.TempDir(), "gone.txt"))
	f, err := New(Config{}, &fakeFreshness{})
	require.NoError(t, err)

	decision, err := f.ShouldProcess(context.Background(), ref, false)
	require.NoError(t, err)
	require.True(t, decision.Accepted)
}
