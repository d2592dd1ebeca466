// Package store realizes the opaque SPARQL-like backing store (§6) as a
// single SQLite database holding a flat triples table, keyed by graph so
// DROP GRAPH is one indexed DELETE.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dgraph-io/ristretto"
)

// Triple is one (subject, predicate, object) statement scoped to a
// named graph.
type Triple struct {
	Subject   string
	Predicate string
	Object    string
	Graph     string
}

// Well-known predicate names used by the pipeline and reference
// extractor, mirroring the vocabulary spec §6 quotes.
const (
	PredType             = "rdf:type"
	PredBelongsToDir     = "nfo:belongsToContainer"
	PredFileName         = "nfo:fileName"
	PredFileLastModified = "nfo:fileLastModified"
	PredFileSize         = "nfo:fileSize"
	PredTrackerURI       = "tracker:uri"
	ObjectResource       = "rdfs:Resource"
)

// Config controls pool sizing and cache tuning.
type Config struct {
	Path         string
	MaxOpenConns int
	FreshCache   int64 // ristretto MaxCost in entries-equivalent, approx
}

// DefaultConfig returns sensible defaults, mirroring the teacher's
// database.DefaultPoolConfig defaults for busy timeout / WAL / cache.
func DefaultConfig(path string) Config {
	return Config{Path: path, MaxOpenConns: 8, FreshCache: 10_000}
}

// Store is the SQLite-backed triple store.
type Store struct {
	db  *sql.DB
	log *slog.Logger

	freshCache *ristretto.Cache

	mu sync.Mutex // serializes batch/commit sequencing at the store boundary
}

// Open creates (if needed) and opens the triples database, applying the
// same WAL/foreign-key/busy-timeout DSN construction the teacher's
// database.Manager uses.
func Open(cfg Config, log *slog.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=1", cfg.Path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.FreshCache * 10,
		MaxCost:     cfg.FreshCache,
		BufferItems: 64,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init freshness cache: %w", err)
	}

	if log == nil {
		log = slog.Default()
	}
	return &Store{db: db, log: log, freshCache: cache}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS triples (
  subject   TEXT NOT NULL,
  predicate TEXT NOT NULL,
  object    TEXT NOT NULL,
  graph     TEXT NOT NULL,
  PRIMARY KEY (graph, subject, predicate, object)
);
CREATE INDEX IF NOT EXISTS idx_triples_subject ON triples(subject);
CREATE INDEX IF NOT EXISTS idx_triples_predicate_object ON triples(predicate, object);
`

// Close releases the underlying database handle.
func (s *Store) Close() error {
	s.freshCache.Close()
	return s.db.Close()
}

// Batch accumulates statements for one atomic commit, mirroring the
// "single batch update" the spec requires for a Created/Updated
// extraction, a Deleted, or a move rewrite.
type Batch struct {
	drops   []string // graphs to DROP entirely
	inserts []Triple
	deletes []Triple // point deletes, e.g. the fileName triple on rename
}

// NewBatch returns an empty Batch.
func NewBatch() *Batch { return &Batch{} }

// DropGraph schedules removal of every triple in the named graph.
func (b *Batch) DropGraph(graph string) { b.drops = append(b.drops, graph) }

// Insert schedules a triple for insertion.
func (b *Batch) Insert(t Triple) { b.inserts = append(b.inserts, t) }

// Delete schedules a point delete rather than a whole-graph drop: every
// triple in t.Graph with t's subject and predicate is removed, whatever
// its object.
func (b *Batch) Delete(t Triple) { b.deletes = append(b.deletes, t) }

// Empty reports whether the batch has no work.
func (b *Batch) Empty() bool {
	return len(b.drops) == 0 && len(b.inserts) == 0 && len(b.deletes) == 0
}

// BatchUpdate executes b inside one transaction, giving the atomic
// replace semantics DROP GRAPH requires (§6, §6.1). It does not commit to
// the caller's notion of "commit" — see Commit for the throttle-governed
// batching of multiple BatchUpdate calls before a wall-clock fsync point;
// here each BatchUpdate is already durable once its transaction commits,
// since SQLite commits per transaction.
func (s *Store) BatchUpdate(ctx context.Context, b *Batch) error {
	if b.Empty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	if err := s.applyBatch(ctx, tx, b); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	s.invalidate(b)
	return nil
}

func (s *Store) applyBatch(ctx context.Context, tx *sql.Tx, b *Batch) error {
	for _, g := range b.drops {
		if _, err := tx.ExecContext(ctx, "DELETE FROM triples WHERE graph = ?", g); err != nil {
			return fmt.Errorf("drop graph %s: %w", g, err)
		}
	}
	for _, t := range b.deletes {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM triples WHERE graph = ? AND subject = ? AND predicate = ?",
			t.Graph, t.Subject, t.Predicate); err != nil {
			return fmt.Errorf("delete triple: %w", err)
		}
	}
	for _, t := range b.inserts {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO triples (subject, predicate, object, graph) VALUES (?, ?, ?, ?)",
			t.Subject, t.Predicate, t.Object, t.Graph); err != nil {
			return fmt.Errorf("insert triple: %w", err)
		}
	}
	return nil
}

func (s *Store) invalidate(b *Batch) {
	for _, g := range b.drops {
		s.freshCache.Del(g)
	}
	for _, t := range b.inserts {
		s.freshCache.Del(t.Graph)
	}
}

// Commit is a no-op beyond what BatchUpdate already made durable; it
// exists to satisfy the store's three-operation contract (§6) and is the
// hook the scheduler calls at process_stop and after every post-crawl
// successful update (§4.4). SQLite has no separate "flush WAL" step under
// normal operation, so this simply runs a WAL checkpoint to bound WAL file
// growth during long watch sessions.
func (s *Store) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)")
	return err
}

// MTimeMatches implements the mtime_matches_store query (§4.2): is there
// a resource at uri whose recorded nfo:fileLastModified equals mtime
// (rounded to seconds, UTC)? The recorded stamp is cached per uri in
// ristretto so an unchanged rescan does not round-trip to SQLite per file;
// BatchUpdate evicts the entry for every graph it touches.
func (s *Store) MTimeMatches(ctx context.Context, uri string, mtime time.Time) (bool, error) {
	stamp := mtime.UTC().Format("2006-01-02T15:04:05Z")
	if v, ok := s.freshCache.Get(uri); ok {
		return v.(string) == stamp, nil
	}

	var recorded string
	err := s.db.QueryRowContext(ctx,
		`SELECT object FROM triples WHERE subject = ? AND predicate = ? LIMIT 1`,
		uri, PredFileLastModified,
	).Scan(&recorded)
	if err != nil && err != sql.ErrNoRows {
		return false, fmt.Errorf("mtime query: %w", err)
	}
	s.freshCache.SetWithTTL(uri, recorded, 1, 5*time.Minute)
	return recorded == stamp, nil
}

// Exists reports whether uri is a known resource (used by the freshness
// check on a file's Deleted dispatch, §4.4 step 4, and by move resolution).
func (s *Store) Exists(ctx context.Context, uri string) (bool, error) {
	var subj string
	err := s.db.QueryRowContext(ctx,
		`SELECT subject FROM triples WHERE subject = ? AND predicate = ? AND object = ? LIMIT 1`,
		uri, PredType, ObjectResource,
	).Scan(&subj)
	switch {
	case err == sql.ErrNoRows:
		return false, nil
	case err != nil:
		return false, fmt.Errorf("exists query: %w", err)
	default:
		return true, nil
	}
}

// Children implements the SELECT ?child WHERE { ?child
// nfo:belongsToContainer <URI> } template: the direct children of uri
// only. The move handler does not use it; it collects descendants with
// ContainedBeneath.
func (s *Store) Children(ctx context.Context, uri string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT subject FROM triples WHERE predicate = ? AND object = ?`,
		PredBelongsToDir, uri)
	if err != nil {
		return nil, fmt.Errorf("children query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var child string
		if err := rows.Scan(&child); err != nil {
			return nil, err
		}
		out = append(out, child)
	}
	return out, rows.Err()
}

// ContainedBeneath returns every subject whose belongsToContainer object
// is prefix itself or lies beneath prefix/, used to build the two-statement DELETE
// template on a directory Delete dispatch (§4.4 step 4a/4b).
func (s *Store) ContainedBeneath(ctx context.Context, prefix string) ([]string, error) {
	like := prefix + "/%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT subject FROM triples WHERE predicate = ? AND (object = ? OR object LIKE ?)`,
		PredBelongsToDir, prefix, like)
	if err != nil {
		return nil, fmt.Errorf("contained-beneath query: %w", err)
	}
	defer rows.Close()

	var out []string
	seen := map[string]struct{}{}
	for rows.Next() {
		var subj string
		if err := rows.Scan(&subj); err != nil {
			return nil, err
		}
		if _, ok := seen[subj]; !ok {
			seen[subj] = struct{}{}
			out = append(out, subj)
		}
	}
	return out, rows.Err()
}

// GraphTriples returns every triple currently recorded under uri's graph,
// used by the move handler to relocate a resource's entire statement set
// under a new subject/graph (§4.5).
func (s *Store) GraphTriples(ctx context.Context, uri string) ([]Triple, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT subject, predicate, object, graph FROM triples WHERE graph = ?`, uri)
	if err != nil {
		return nil, fmt.Errorf("graph-triples query: %w", err)
	}
	defer rows.Close()

	var out []Triple
	for rows.Next() {
		var t Triple
		if err := rows.Scan(&t.Subject, &t.Predicate, &t.Object, &t.Graph); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RewriteChildURI implements the fragile string-substitution child URI
// rewrite documented in §4.5/§9: childURI must start with sourceURI;
// otherwise ok is false, and the move handler skips that child with a
// logged warning.
func RewriteChildURI(childURI, sourceURI, targetURI string) (string, bool) {
	if !strings.HasPrefix(childURI, sourceURI) {
		return "", false
	}
	return targetURI + childURI[len(sourceURI):], true
}
