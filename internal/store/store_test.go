package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "triples.db")
	st, err := Open(DefaultConfig(path), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestBatchUpdate_InsertThenExists(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	b := NewBatch()
	b.Insert(Triple{Subject: "file:///a/f.txt", Predicate: PredType, Object: ObjectResource, Graph: "file:///a/f.txt"})
	require.NoError(t, st.BatchUpdate(ctx, b))

	exists, err := st.Exists(ctx, "file:///a/f.txt")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = st.Exists(ctx, "file:///a/other.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestBatchUpdate_DropGraphRemovesEveryTripleInIt(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	b := NewBatch()
	b.Insert(Triple{Subject: "file:///a/f.txt", Predicate: PredType, Object: ObjectResource, Graph: "file:///a/f.txt"})
	b.Insert(Triple{Subject: "file:///a/f.txt", Predicate: PredFileSize, Object: "10", Graph: "file:///a/f.txt"})
	require.NoError(t, st.BatchUpdate(ctx, b))

	drop := NewBatch()
	drop.DropGraph("file:///a/f.txt")
	require.NoError(t, st.BatchUpdate(ctx, drop))

	exists, err := st.Exists(ctx, "file:///a/f.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMTimeMatches_MatchesRoundedSecond(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	mtime := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b := NewBatch()
	b.Insert(Triple{
		Subject: "file:///a/f.txt", Predicate: PredFileLastModified,
		Object: mtime.Format("2006-01-02T15:04:05Z"), Graph: "file:///a/f.txt",
	})
	require.NoError(t, st.BatchUpdate(ctx, b))

	match, err := st.MTimeMatches(ctx, "file:///a/f.txt", mtime)
	require.NoError(t, err)
	assert.True(t, match)

	match, err = st.MTimeMatches(ctx, "file:///a/f.txt", mtime.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, match)
}

func TestMTimeMatches_CachesResult(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	mtime := time.Now()
	match, err := st.MTimeMatches(ctx, "file:///a/missing.txt", mtime)
	require.NoError(t, err)
	assert.False(t, match)

	// A later insert for the same uri evicts the cached false result:
	// BatchUpdate invalidates the cache entry of every graph it touches,
	// so the next lookup sees the inserted mtime.
	b := NewBatch()
	b.Insert(Triple{
		Subject: "file:///a/missing.txt", Predicate: PredFileLastModified,
		Object: mtime.UTC().Format("2006-01-02T15:04:05Z"), Graph: "file:///a/missing.txt",
	})
	require.NoError(t, st.BatchUpdate(ctx, b))

	match, err = st.MTimeMatches(ctx, "file:///a/missing.txt", mtime)
	require.NoError(t, err)
	assert.True(t, match, "BatchUpdate must invalidate the freshness cache entry for the graph it touched")
}

func TestContainedBeneath_MatchesAnyDepth(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	b := NewBatch()
	b.Insert(Triple{Subject: "file:///root/a", Predicate: PredBelongsToDir, Object: "file:///root", Graph: "file:///root/a"})
	b.Insert(Triple{Subject: "file:///root/sub/b", Predicate: PredBelongsToDir, Object: "file:///root/sub", Graph: "file:///root/sub/b"})
	b.Insert(Triple{Subject: "file:///other/c", Predicate: PredBelongsToDir, Object: "file:///other", Graph: "file:///other/c"})
	require.NoError(t, st.BatchUpdate(ctx, b))

	subjects, err := st.ContainedBeneath(ctx, "file:///root")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"file:///root/a", "file:///root/sub/b"}, subjects)
}

func TestGraphTriples_ReturnsFullStatementSet(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	b := NewBatch()
	b.Insert(Triple{Subject: "file:///a/f.txt", Predicate: PredType, Object: ObjectResource, Graph: "file:///a/f.txt"})
	b.Insert(Triple{Subject: "file:///a/f.txt", Predicate: PredFileName, Object: "f.txt", Graph: "file:///a/f.txt"})
	require.NoError(t, st.BatchUpdate(ctx, b))

	triples, err := st.GraphTriples(ctx, "file:///a/f.txt")
	require.NoError(t, err)
	assert.Len(t, triples, 2)
}

func TestRewriteChildURI(t *testing.T) {
	rewritten, ok := RewriteChildURI("file:///src/sub/f.txt", "file:///src", "file:///dst")
	require.True(t, ok)
	assert.Equal(t, "file:///dst/sub/f.txt", rewritten)

	_, ok = RewriteChildURI("file:///other/f.txt", "file:///src", "file:///dst")
	assert.False(t, ok)
}
