package fulltext

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bleve")
	idx, err := Open(Config{Path: path, FlushInterval: 10 * time.Millisecond, BatchSize: 4}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func waitForStats(t *testing.T, idx *Index, want func(Stats) bool, timeout time.Duration) Stats {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		s := idx.Stats()
		if want(s) {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for stats condition, last stats: %+v", s)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubmit_IndexesAndIsSearchable(t *testing.T) {
	idx := openTestIndex(t)

	require.NoError(t, idx.Submit("file:///a/f.txt", Document{
		URI: "file:///a/f.txt", Name: "f.txt", Path: "/a/f.txt", Content: "the quick brown fox",
	}))

	waitForStats(t, idx, func(s Stats) bool { return s.Indexed == 1 }, time.Second)

	result, err := idx.Search(context.Background(), "quick", 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), result.Total)
}

func TestDelete_RemovesDocument(t *testing.T) {
	idx := openTestIndex(t)

	require.NoError(t, idx.Submit("file:///a/f.txt", Document{URI: "file:///a/f.txt", Content: "hello world"}))
	waitForStats(t, idx, func(s Stats) bool { return s.Indexed == 1 }, time.Second)

	require.NoError(t, idx.Delete("file:///a/f.txt"))
	waitForStats(t, idx, func(s Stats) bool { return s.Deleted == 1 }, time.Second)

	result, err := idx.Search(context.Background(), "hello", 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), result.Total)
}

func TestSubmit_AfterCloseReturnsErrQueueClosed(t *testing.T) {
	idx := openTestIndex(t)
	require.NoError(t, idx.Close())

	err := idx.Submit("file:///a/f.txt", Document{})
	assert.ErrorIs(t, err, ErrQueueClosed)
}
