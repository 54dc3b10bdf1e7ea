// Package adapter defines the capability contracts every vendor
// source/sink must satisfy, and the connection parameters the CLI passes
// through opaquely. Adding a vendor means implementing these interfaces;
// the writer, reader and reconciler never change.
package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/vecport/vecport/internal/record"
)

// EndOfStream is returned by Source.NextBatch once the source is drained.
// By contract it is reported on the first call past the last non-empty
// page; callers must stop requesting batches after seeing it.
var EndOfStream = errors.New("end of stream")

// Params carries vendor-specific connection settings. Adapters pick the
// fields they understand and ignore the rest.
type Params struct {
	// BaseURL is the vendor endpoint (Weaviate/Qdrant URL, or an explicit
	// Pinecone index host overriding environment-based addressing).
	BaseURL string
	// Environment addresses Pinecone-style regional control planes.
	Environment string
	// Collection is the index/class/collection to export or import.
	Collection string
	// APIKey authenticates data-plane calls. Empty means unauthenticated.
	APIKey string
	// IncludeRelations asks graph-native sources to emit cross-references.
	IncludeRelations bool
	// BatchSize bounds the records fetched or written per call.
	BatchSize int
	// Timeout bounds each individual network call.
	Timeout time.Duration
}

// Source pulls paginated batches of native records and maps them to the
// record model. One instance owns one cursor stream; calls are sequential.
type Source interface {
	// Open establishes the connection and returns the initial cursor.
	// Auth and network failures surface as connection errors, unretried.
	Open(ctx context.Context, params Params) (record.Cursor, error)
	// NextBatch fetches the next page. It must be idempotent when replayed
	// with the same cursor. Returns EndOfStream when drained.
	NextBatch(ctx context.Context, cur record.Cursor) (record.Batch, record.Cursor, error)
	Close() error
}

// RelationResolver is implemented by sources whose native model has
// cross-object references. Targets must resolve to stable ids before the
// batch leaves the adapter; the dataset writer never talks to the source.
type RelationResolver interface {
	ResolveRelations(ctx context.Context, batch record.Batch) (record.Batch, error)
}

// Lister is implemented by adapters that can enumerate the collections
// available behind one connection ("all" exports).
type Lister interface {
	ListCollections(ctx context.Context, params Params) ([]string, error)
}

// RecordError is one per-record sink failure.
type RecordError struct {
	ID  string
	Err error
}

// WriteResult reports a batch write. Partial success is a first-class
// outcome: a malformed record never aborts the rest of its batch.
type WriteResult struct {
	Written  int
	Failures []RecordError
}

// Merge folds another result into this one.
func (r *WriteResult) Merge(o WriteResult) {
	r.Written += o.Written
	r.Failures = append(r.Failures, o.Failures...)
}

// Sink writes record batches back to a target vendor.
type Sink interface {
	Open(ctx context.Context, params Params) error
	// WriteBatch applies one batch, reporting per-record failures in the
	// result. The returned error is reserved for whole-batch failures
	// (transient, connection).
	WriteBatch(ctx context.Context, batch record.Batch) (WriteResult, error)
	// Finalize flushes or commits if the vendor needs an explicit step.
	// Idempotent.
	Finalize(ctx context.Context) error
	Close() error
}
