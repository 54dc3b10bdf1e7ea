package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vecport/vecport/internal/adapter"
	"github.com/vecport/vecport/internal/adapter/memory"
	"github.com/vecport/vecport/internal/dataset"
	"github.com/vecport/vecport/internal/logging"
	"github.com/vecport/vecport/internal/record"
	"github.com/vecport/vecport/internal/resilience"
	"github.com/vecport/vecport/internal/verrors"
)

func fixtureRecords(n, dims int) record.Batch {
	batch := make(record.Batch, n)
	for i := range batch {
		vec := make([]float32, dims)
		vec[i%dims] = float32(i)
		batch[i] = record.Record{
			ID:       fixtureID(i),
			Vector:   vec,
			Metadata: map[string]any{"seq": int64(i)},
		}
	}
	return batch
}

func fixtureID(i int) string {
	return fmt.Sprintf("rec-%03d", i)
}

func fastOptions(vendor string) Options {
	return Options{
		Vendor:      vendor,
		BatchSize:   3,
		CallTimeout: time.Second,
		// Flush every batch so cursors become durable at batch granularity.
		Writer: dataset.WriterConfig{FlushRows: 1},
		Retry: &resilience.RetryPolicy{
			MaxAttempts:   4,
			InitialDelay:  time.Millisecond,
			MaxDelay:      2 * time.Millisecond,
			Multiplier:    2.0,
			RetryableFunc: verrors.IsTransient,
		},
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "ds")
	want := fixtureRecords(10, 4)

	src := memory.NewSource(want)
	summary, err := Export(ctx, src, dir, adapter.Params{Collection: "fixture"}, fastOptions("memory"), logging.DiscardLogger())
	require.NoError(t, err)
	assert.True(t, summary.Completed)
	assert.Equal(t, int64(10), summary.Records)
	assert.Empty(t, summary.Skipped)
	assert.Equal(t, 0, ExitCode(summary, nil))

	snk := memory.NewSink(4)
	imp, err := Import(ctx, snk, dir, adapter.Params{Collection: "target"}, fastOptions("memory"), logging.DiscardLogger())
	require.NoError(t, err)
	assert.True(t, imp.Completed)
	assert.Equal(t, int64(10), imp.Records)
	assert.Equal(t, 1, snk.FinalizeCalls())
	// The sink belongs to the caller; Import must not close it.
	assert.Equal(t, 0, snk.CloseCalls())

	got := snk.Records()
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, want[i].Equal(got[i]), "record %d differs", i)
	}
}

func TestExportSingleEmptyFetchBeyondLastBatch(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "ds")
	src := memory.NewSource(fixtureRecords(6, 2))

	opts := fastOptions("memory")
	opts.BatchSize = 3
	_, err := Export(ctx, src, dir, adapter.Params{Collection: "fixture"}, opts, logging.DiscardLogger())
	require.NoError(t, err)

	// Two full pages plus exactly one end-of-stream probe.
	assert.Equal(t, 3, src.FetchCalls())
}

func TestExportRetriesTransientFetch(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "ds")
	src := memory.NewSource(fixtureRecords(6, 2))
	src.InjectTransient(3, 2)

	summary, err := Export(ctx, src, dir, adapter.Params{Collection: "fixture"}, fastOptions("memory"), logging.DiscardLogger())
	require.NoError(t, err)
	assert.True(t, summary.Completed)
	assert.Equal(t, int64(6), summary.Records)
	assert.Equal(t, int64(2), summary.BatchesRetried)
}

func TestExportConnectionErrorExitCode(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "ds")
	src := memory.NewSource(fixtureRecords(3, 2))
	src.FailOpen()

	summary, err := Export(ctx, src, dir, adapter.Params{Collection: "fixture"}, fastOptions("memory"), logging.DiscardLogger())
	require.Error(t, err)
	assert.True(t, verrors.IsConnection(err))
	assert.Equal(t, 2, ExitCode(summary, err))
}

func TestExportResumesAfterFatalAbort(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	interrupted := filepath.Join(base, "interrupted")
	straight := filepath.Join(base, "straight")
	records := fixtureRecords(9, 3)

	// First attempt dies at the third page.
	src := memory.NewSource(records)
	src.InjectFatal(6)
	summary, err := Export(ctx, src, interrupted, adapter.Params{Collection: "fixture"}, fastOptions("memory"), logging.DiscardLogger())
	require.Error(t, err)
	assert.True(t, verrors.IsFatal(err))
	assert.Equal(t, 3, ExitCode(summary, err))

	// Second attempt resumes from the durable cursor and completes.
	src2 := memory.NewSource(records)
	resumed, err := Export(ctx, src2, interrupted, adapter.Params{Collection: "fixture"}, fastOptions("memory"), logging.DiscardLogger())
	require.NoError(t, err)
	assert.True(t, resumed.Completed)
	// Only the tail was fetched on resume.
	assert.Equal(t, int64(3), resumed.Records)

	// Reference: one uninterrupted run over the same source.
	src3 := memory.NewSource(records)
	_, err = Export(ctx, src3, straight, adapter.Params{Collection: "fixture"}, fastOptions("memory"), logging.DiscardLogger())
	require.NoError(t, err)

	assert.Equal(t, importAll(t, straight), importAll(t, interrupted))
}

func importAll(t *testing.T, dir string) []string {
	t.Helper()
	snk := memory.NewSink(0)
	_, err := Import(context.Background(), snk, dir, adapter.Params{Collection: "t"}, fastOptions("memory"), logging.DiscardLogger())
	require.NoError(t, err)
	ids := []string{}
	for _, rec := range snk.Records() {
		ids = append(ids, rec.ID)
	}
	return ids
}

func TestExportResolvesRelations(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "ds")
	records := record.Batch{
		{ID: "a", Vector: []float32{1, 0}},
		{ID: "b", Vector: []float32{0, 1},
			Relations: []record.Relation{{Name: "linked_to", TargetID: "mem://a"}}},
	}
	src := memory.NewSource(records)
	_, err := Export(ctx, src, dir, adapter.Params{Collection: "fixture", IncludeRelations: true},
		fastOptions("memory"), logging.DiscardLogger())
	require.NoError(t, err)

	snk := memory.NewSink(2)
	_, err = Import(ctx, snk, dir, adapter.Params{Collection: "t"}, fastOptions("memory"), logging.DiscardLogger())
	require.NoError(t, err)
	got := snk.Records()
	require.Len(t, got, 2)
	assert.Equal(t, []record.Relation{{Name: "linked_to", TargetID: "a"}}, got[1].Relations)
}

func TestImportReportsPerRecordFailures(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "ds")

	// Export 2-dim records, then import into a 3-dim sink: every record
	// fails individually, the run itself completes.
	src := memory.NewSource(fixtureRecords(4, 2))
	_, err := Export(ctx, src, dir, adapter.Params{Collection: "fixture"}, fastOptions("memory"), logging.DiscardLogger())
	require.NoError(t, err)

	snk := memory.NewSink(3)
	summary, err := Import(ctx, snk, dir, adapter.Params{Collection: "t"}, fastOptions("memory"), logging.DiscardLogger())
	require.NoError(t, err)
	assert.True(t, summary.Completed)
	assert.Equal(t, int64(0), summary.Records)
	assert.Len(t, summary.Skipped, 4)
	assert.Equal(t, 3, ExitCode(summary, nil))
}

func TestImportRetriesTransientWrites(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "ds")
	src := memory.NewSource(fixtureRecords(3, 2))
	_, err := Export(ctx, src, dir, adapter.Params{Collection: "fixture"}, fastOptions("memory"), logging.DiscardLogger())
	require.NoError(t, err)

	snk := memory.NewSink(2)
	snk.InjectTransientWrites(2)
	summary, err := Import(ctx, snk, dir, adapter.Params{Collection: "t"}, fastOptions("memory"), logging.DiscardLogger())
	require.NoError(t, err)
	assert.True(t, summary.Completed)
	assert.Equal(t, int64(3), summary.Records)
	assert.Equal(t, int64(2), summary.BatchesRetried)
}

func TestCancellationBetweenBatches(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ds")
	src := memory.NewSource(fixtureRecords(9, 3))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := Export(ctx, src, dir, adapter.Params{Collection: "fixture"}, fastOptions("memory"), logging.DiscardLogger())
	require.Error(t, err)
	assert.False(t, summary.Completed)
}

func TestExitCodes(t *testing.T) {
	ok := &Summary{Completed: true}
	assert.Equal(t, 0, ExitCode(ok, nil))

	partial := &Summary{Completed: true, Skipped: []adapter.RecordError{{ID: "x"}}}
	assert.Equal(t, 3, ExitCode(partial, nil))

	conn := verrors.NewConnection("open", "denied")
	assert.Equal(t, 2, ExitCode(&Summary{}, conn))

	fatalMid := verrors.NewFatal("fetch", "poisoned")
	assert.Equal(t, 3, ExitCode(&Summary{Records: 5}, fatalMid))
	assert.Equal(t, 1, ExitCode(&Summary{}, fatalMid))
}
