package inspect

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vecport/vecport/internal/dataset"
	"github.com/vecport/vecport/internal/logging"
	"github.com/vecport/vecport/internal/record"
	"github.com/vecport/vecport/internal/schema"
)

func buildDataset(t *testing.T, dir string) {
	t.Helper()
	ctx := context.Background()
	rc := schema.NewReconciler()
	w, err := dataset.NewWriter(dir, rc, logging.DiscardLogger(), dataset.WriterConfig{FlushRows: 2})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.StartRun(ctx, "run-1", "export", "memory", "test-model"))
	batch := record.Batch{
		{ID: "a", Vector: []float32{1, 0}, Metadata: map[string]any{"label": "x"}},
		{ID: "b", Vector: []float32{0, 1}, Metadata: map[string]any{"label": "y"},
			Relations: []record.Relation{{Name: "linked_to", TargetID: "a"}}},
		{ID: "c", Vector: []float32{1, 1}},
	}
	cur := record.Cursor{AdapterID: "memory:test", Position: "3", Emitted: 3}
	skipped, err := w.Append(ctx, batch, cur)
	require.NoError(t, err)
	require.Empty(t, skipped)
	_, err = w.Freeze(ctx)
	require.NoError(t, err)
	require.NoError(t, w.FinishRun(ctx, "run-1", true, 3, 0, 0))
}

func TestSummarize(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ds")
	buildDataset(t, dir)

	sum, err := New(dir).Summarize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Dimensionality)
	assert.Equal(t, int64(3), sum.Records)
	assert.Equal(t, int64(1), sum.Relations)
	assert.GreaterOrEqual(t, sum.Chunks, int64(1))
	assert.Equal(t, []string{"linked_to"}, sum.RelationNames)

	require.Len(t, sum.Runs, 1)
	run := sum.Runs[0]
	assert.Equal(t, "run-1", run.RunID)
	assert.Equal(t, "export", run.Kind)
	assert.Equal(t, "memory", run.Vendor)
	assert.Equal(t, "test-model", run.ModelName)
	assert.True(t, run.Completed)
	assert.Equal(t, int64(3), run.Records)
}

func TestSummarizeRequiresFrozenDataset(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ds")
	rc := schema.NewReconciler()
	w, err := dataset.NewWriter(dir, rc, logging.DiscardLogger(), dataset.WriterConfig{})
	require.NoError(t, err)
	defer w.Close()

	_, err = New(dir).Summarize(context.Background())
	require.Error(t, err)
}
