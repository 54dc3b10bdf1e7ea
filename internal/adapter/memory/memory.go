// Package memory implements the source/sink contracts over an in-memory
// record slice. It backs the pipeline fixtures and gives fault-injection
// hooks no real vendor offers deterministically.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/vecport/vecport/internal/adapter"
	"github.com/vecport/vecport/internal/record"
	"github.com/vecport/vecport/internal/verrors"
)

// beaconPrefix marks unresolved relation targets, mimicking graph-native
// vendors whose references need resolution before leaving the adapter.
const beaconPrefix = "mem://"

// Source pages through a fixed record slice in insertion order.
type Source struct {
	mu       sync.Mutex
	records  record.Batch
	pageSize int
	opened   bool

	// transientAt maps a page start offset to the number of transient
	// failures to inject before the page succeeds.
	transientAt map[int]int
	// fatalAt injects a fatal fetch error at the given start offset, -1
	// to disable.
	fatalAt int
	// failOpen makes Open fail with a connection error.
	failOpen bool

	fetchCalls int
}

func NewSource(records record.Batch) *Source {
	return &Source{
		records:     records,
		transientAt: make(map[int]int),
		fatalAt:     -1,
	}
}

// FailOpen makes the next Open fail like a bad credential would.
func (s *Source) FailOpen() { s.failOpen = true }

// InjectTransient arranges n transient failures before the page starting
// at offset succeeds.
func (s *Source) InjectTransient(offset, n int) { s.transientAt[offset] = n }

// InjectFatal poisons the cursor at the given offset.
func (s *Source) InjectFatal(offset int) { s.fatalAt = offset }

// FetchCalls reports how many NextBatch calls were made.
func (s *Source) FetchCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchCalls
}

func (s *Source) Open(ctx context.Context, params adapter.Params) (record.Cursor, error) {
	if s.failOpen {
		return record.Cursor{}, verrors.NewConnection("memory.open", "open failure injected")
	}
	s.mu.Lock()
	s.opened = true
	if params.BatchSize > 0 {
		s.pageSize = params.BatchSize
	}
	if s.pageSize <= 0 {
		s.pageSize = 100
	}
	s.mu.Unlock()
	return record.Cursor{AdapterID: "memory", Position: "0"}, nil
}

func (s *Source) NextBatch(ctx context.Context, cur record.Cursor) (record.Batch, record.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return nil, cur, verrors.NewFatal("memory.next_batch", "source not opened")
	}
	s.fetchCalls++

	pos, err := strconv.Atoi(cur.Position)
	if err != nil || pos < 0 {
		return nil, cur, verrors.NewFatal("memory.next_batch", "cursor position unusable: "+cur.Position)
	}

	if s.fatalAt >= 0 && pos >= s.fatalAt {
		return nil, cur, verrors.NewFatal("memory.next_batch", "fatal failure injected")
	}
	if n := s.transientAt[pos]; n > 0 {
		s.transientAt[pos] = n - 1
		return nil, cur, verrors.NewTransient("memory.next_batch", "transient failure injected")
	}

	if pos >= len(s.records) {
		return nil, cur, adapter.EndOfStream
	}
	end := pos + s.pageSize
	if end > len(s.records) {
		end = len(s.records)
	}

	// Copy so callers cannot mutate fixture state through the batch.
	batch := make(record.Batch, end-pos)
	copy(batch, s.records[pos:end])

	next := record.Cursor{
		AdapterID: cur.AdapterID,
		Position:  strconv.Itoa(end),
		Emitted:   cur.Emitted + int64(end-pos),
	}
	return batch, next, nil
}

// ResolveRelations strips the beacon prefix from relation targets,
// leaving stable record ids.
func (s *Source) ResolveRelations(ctx context.Context, batch record.Batch) (record.Batch, error) {
	out := make(record.Batch, len(batch))
	for i, rec := range batch {
		out[i] = rec
		if len(rec.Relations) == 0 {
			continue
		}
		rels := make([]record.Relation, len(rec.Relations))
		for j, rel := range rec.Relations {
			rels[j] = record.Relation{
				Name:     rel.Name,
				TargetID: strings.TrimPrefix(rel.TargetID, beaconPrefix),
			}
		}
		out[i].Relations = rels
	}
	return out, nil
}

func (s *Source) ListCollections(ctx context.Context, params adapter.Params) ([]string, error) {
	return []string{"default"}, nil
}

func (s *Source) Close() error { return nil }

var (
	_ adapter.Source           = (*Source)(nil)
	_ adapter.RelationResolver = (*Source)(nil)
	_ adapter.Lister           = (*Source)(nil)
)

// Sink collects written records, enforcing a fixed dimensionality the way
// a real index would.
type Sink struct {
	mu        sync.Mutex
	dims      int
	records   record.Batch
	finalized int
	closed    int

	// transientWrites injects n transient failures before any write
	// succeeds.
	transientWrites int
}

func NewSink(dims int) *Sink {
	return &Sink{dims: dims}
}

// InjectTransientWrites makes the next n WriteBatch calls fail.
func (s *Sink) InjectTransientWrites(n int) { s.transientWrites = n }

func (s *Sink) Open(ctx context.Context, params adapter.Params) error {
	return nil
}

func (s *Sink) WriteBatch(ctx context.Context, batch record.Batch) (adapter.WriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transientWrites > 0 {
		s.transientWrites--
		return adapter.WriteResult{}, verrors.NewTransient("memory.write_batch", "transient failure injected")
	}

	var res adapter.WriteResult
	for _, rec := range batch {
		if s.dims > 0 && len(rec.Vector) != s.dims {
			res.Failures = append(res.Failures, adapter.RecordError{
				ID: rec.ID,
				Err: verrors.NewWrite("memory.write_batch",
					fmt.Sprintf("vector length %d, want %d", len(rec.Vector), s.dims)).WithRecord(rec.ID),
			})
			continue
		}
		s.records = append(s.records, rec)
		res.Written++
	}
	return res, nil
}

func (s *Sink) Finalize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized++
	return nil
}

// FinalizeCalls reports how often Finalize ran; it must be idempotent.
func (s *Sink) FinalizeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalized
}

// Records returns everything written so far.
func (s *Sink) Records() record.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(record.Batch, len(s.records))
	copy(out, s.records)
	return out
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

// CloseCalls reports how often Close ran. The pipeline never closes the
// sink itself; that stays with whoever constructed it.
func (s *Sink) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var _ adapter.Sink = (*Sink)(nil)
