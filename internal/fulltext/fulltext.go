// Package fulltext maintains a bleve full-text index alongside the
// triple store (C9): every accepted extraction's textual content is
// submitted here so file content, not just metadata, is searchable. It is
// fed asynchronously off the pipeline's serializing loop through a
// bounded queue, adapted from a general-purpose async batching indexer
// down to this pipeline's index/delete traffic (see DESIGN.md).
package fulltext

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blevesearch/bleve/v2"
)

// ErrQueueClosed is returned by Submit/Delete once Close has run.
var ErrQueueClosed = errors.New("fulltext index queue is closed")

// Document is what one file contributes to the full-text index.
type Document struct {
	URI     string `json:"uri"`
	Name    string `json:"name"`
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Config tunes the async queue's batching behavior.
type Config struct {
	Path          string
	MaxQueueSize  int
	BatchSize     int
	FlushInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 10_000
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 100 * time.Millisecond
	}
	return c
}

type operation struct {
	del   bool
	docID string
	doc   Document
}

// Index wraps a bleve.Index with an async batching queue in front of it.
type Index struct {
	idx bleve.Index
	log *slog.Logger

	cfg Config

	queue chan operation

	mu      sync.Mutex
	pending []operation

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed atomic.Bool

	indexed atomic.Int64
	deleted atomic.Int64
	dropped atomic.Int64
}

// Open creates or opens the bleve index at cfg.Path and starts the batch
// processor.
func Open(cfg Config, log *slog.Logger) (*Index, error) {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}

	idx, err := bleve.Open(cfg.Path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(cfg.Path, bleve.NewIndexMapping())
	}
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	i := &Index{
		idx:     idx,
		log:     log,
		cfg:     cfg,
		queue:   make(chan operation, cfg.MaxQueueSize),
		pending: make([]operation, 0, cfg.BatchSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	i.wg.Add(1)
	go i.processor()
	return i, nil
}

// Submit enqueues doc for indexing under docID, non-blocking; when the
// queue is full, doc itself is dropped (counted in Stats().Dropped and
// logged) and Submit returns nil rather than stalling the caller (the
// pipeline's extraction goroutines must not block on the sidecar).
func (i *Index) Submit(docID string, doc Document) error {
	if i.closed.Load() {
		return ErrQueueClosed
	}
	select {
	case i.queue <- operation{docID: docID, doc: doc}:
		return nil
	default:
		i.dropped.Add(1)
		i.log.Warn("fulltext queue full, dropping document", "doc_id", docID)
		return nil
	}
}

// Delete enqueues removal of docID.
func (i *Index) Delete(docID string) error {
	if i.closed.Load() {
		return ErrQueueClosed
	}
	select {
	case i.queue <- operation{del: true, docID: docID}:
		return nil
	default:
		i.dropped.Add(1)
		i.log.Warn("fulltext queue full, dropping delete", "doc_id", docID)
		return nil
	}
}

// Search runs a bleve query string against the index.
func (i *Index) Search(ctx context.Context, query string, limit int) (*bleve.SearchResult, error) {
	q := bleve.NewQueryStringQuery(query)
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	return i.idx.SearchInContext(ctx, req)
}

// Stats reports cumulative counters.
type Stats struct {
	Indexed int64
	Deleted int64
	Dropped int64
}

// Stats returns the current cumulative counters.
func (i *Index) Stats() Stats {
	return Stats{Indexed: i.indexed.Load(), Deleted: i.deleted.Load(), Dropped: i.dropped.Load()}
}

// Close flushes pending work and closes the underlying bleve index.
func (i *Index) Close() error {
	if i.closed.Swap(true) {
		return nil
	}
	close(i.queue)
	i.wg.Wait()
	i.cancel()
	return i.idx.Close()
}

func (i *Index) processor() {
	defer i.wg.Done()

	flushTimer := time.NewTimer(i.cfg.FlushInterval)
	defer flushTimer.Stop()

	for {
		select {
		case op, ok := <-i.queue:
			if !ok {
				i.flush()
				return
			}
			i.mu.Lock()
			i.pending = append(i.pending, op)
			shouldFlush := len(i.pending) >= i.cfg.BatchSize
			i.mu.Unlock()
			if shouldFlush {
				i.flush()
				resetTimer(flushTimer, i.cfg.FlushInterval)
			}
		case <-flushTimer.C:
			i.flush()
			flushTimer.Reset(i.cfg.FlushInterval)
		case <-i.ctx.Done():
			i.flush()
			return
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func (i *Index) flush() {
	i.mu.Lock()
	if len(i.pending) == 0 {
		i.mu.Unlock()
		return
	}
	batch := i.pending
	i.pending = make([]operation, 0, i.cfg.BatchSize)
	i.mu.Unlock()

	b := i.idx.NewBatch()
	for _, op := range batch {
		if op.del {
			b.Delete(op.docID)
		} else {
			_ = b.Index(op.docID, op.doc)
		}
	}
	if err := i.idx.Batch(b); err != nil {
		i.log.Warn("fulltext batch commit failed", "size", len(batch), "error", err)
		return
	}
	for _, op := range batch {
		if op.del {
			i.deleted.Add(1)
		} else {
			i.indexed.Add(1)
		}
	}
}
