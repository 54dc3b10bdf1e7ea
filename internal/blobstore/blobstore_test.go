package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vecport/vecport/internal/logging"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(t.TempDir())

	require.NoError(t, store.Put(ctx, "ds/schema.json", strings.NewReader(`{"version":1}`), -1))
	require.NoError(t, store.Put(ctx, "ds/vectors/chunk-000000.parquet", strings.NewReader("pq"), -1))

	r, err := store.Get(ctx, "ds/schema.json")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, `{"version":1}`, string(data))

	names, err := store.List(ctx, "ds/")
	require.NoError(t, err)
	assert.Equal(t, []string{"ds/schema.json", "ds/vectors/chunk-000000.parquet"}, names)

	require.NoError(t, store.Delete(ctx, "ds/schema.json"))
	require.NoError(t, store.Delete(ctx, "ds/schema.json"))
	_, err = store.Get(ctx, "ds/schema.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStorePutOverwrites(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(t.TempDir())

	require.NoError(t, store.Put(ctx, "a", strings.NewReader("one"), -1))
	require.NoError(t, store.Put(ctx, "a", strings.NewReader("two"), -1))

	r, err := store.Get(ctx, "a")
	require.NoError(t, err)
	defer r.Close()
	data, _ := io.ReadAll(r)
	assert.Equal(t, "two", string(data))
}

func TestPushPullDataset(t *testing.T) {
	ctx := context.Background()
	log := logging.DiscardLogger()
	store := NewLocalStore(t.TempDir())

	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "vectors"), 0o755))
	files := map[string]string{
		"schema.json":                  `{"version":1}`,
		"meta.db":                      "sqlite",
		"vectors/chunk-000000.parquet": "pq0",
		"vectors/chunk-000001.parquet": "pq1",
		".import-pinecone_docs.json":   "checkpoint",
		"meta.db-wal":                  "journal",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(src, name), []byte(content), 0o644))
	}

	pushed, err := PushDataset(ctx, store, src, "snapshots/run1", log)
	require.NoError(t, err)
	// Checkpoint and WAL side files stay local.
	assert.Equal(t, 4, pushed)

	dst := t.TempDir()
	pulled, err := PullDataset(ctx, store, dst, "snapshots/run1", log)
	require.NoError(t, err)
	assert.Equal(t, 4, pulled)

	data, err := os.ReadFile(filepath.Join(dst, "vectors", "chunk-000001.parquet"))
	require.NoError(t, err)
	assert.Equal(t, "pq1", string(data))
	_, err = os.Stat(filepath.Join(dst, ".import-pinecone_docs.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestPullMissingDataset(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	_, err := PullDataset(context.Background(), store, t.TempDir(), "nope", logging.DiscardLogger())
	assert.ErrorIs(t, err, ErrNotFound)
}
