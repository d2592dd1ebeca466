// Package extractor defines the metadata-extractor contract the mining
// pipeline calls into (spec §4.6). The pipeline is agnostic to what an
// Extractor actually does; this package only fixes the shape it must
// honor, plus a MutationBuilder helper extractors use to accumulate
// triples for one file.
package extractor

import (
	"context"

	"github.com/arjunmehta/filedex/internal/fileref"
	"github.com/arjunmehta/filedex/internal/store"
)

// NotifyFunc is the callback an accepted extraction eventually calls,
// synchronously or asynchronously, to report completion. err is nil on
// success.
type NotifyFunc func(file fileref.Ref, err error)

// CancelToken is the cancellation signal a Extractor.ProcessFile call
// receives; ctx.Done() fires it, matching context.Context's usual
// cancellation idiom rather than a bespoke token type.
type CancelToken = context.Context

// Extractor is the host-supplied handler for process_file. ProcessFile
// must return quickly: true means "accepted, notify will follow"; false
// means "declined, no notify will follow, and builder's contents are
// discarded". An implementation that returns false must not have already
// called notify — the pipeline treats that combination as
// ErrExtractorContractViolated.
type Extractor interface {
	ProcessFile(ctx CancelToken, file fileref.Ref, isDir bool, builder *MutationBuilder, notify NotifyFunc) bool
}

// MutationBuilder is the write-once accumulator an Extractor fills in
// while processing one file. Its contents become the "extracted triples"
// half of the DROP GRAPH <uri> ⨁ builder batch (§4.6, §6.1).
type MutationBuilder struct {
	graph   string
	triples []store.Triple
	content string
}

// NewMutationBuilder returns a builder scoped to graph (the file's URI).
func NewMutationBuilder(graph string) *MutationBuilder {
	return &MutationBuilder{graph: graph}
}

// Add appends one (graph, predicate, object) triple.
func (b *MutationBuilder) Add(predicate, object string) {
	b.triples = append(b.triples, store.Triple{Subject: b.graph, Predicate: predicate, Object: object, Graph: b.graph})
}

// Graph returns the builder's scope URI.
func (b *MutationBuilder) Graph() string { return b.graph }

// Triples returns the accumulated triples.
func (b *MutationBuilder) Triples() []store.Triple { return b.triples }

// SetContent stashes the file's extracted text for the full-text sidecar
// (§4.6's extension point beyond the store's triples). Extractors that
// have nothing text-searchable to contribute simply never call this.
func (b *MutationBuilder) SetContent(text string) { b.content = text }

// Content returns whatever text was stashed by SetContent, or "".
func (b *MutationBuilder) Content() string { return b.content }
