package pinecone

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vecport/vecport/internal/adapter"
	"github.com/vecport/vecport/internal/record"
	"github.com/vecport/vecport/internal/verrors"
)

func testParams(url string) adapter.Params {
	return adapter.Params{
		BaseURL:    url,
		Collection: "ns1",
		APIKey:     "secret",
		BatchSize:  2,
		Timeout:    time.Second,
	}
}

// fakeIndex serves stats, paged id listing, and fetch-by-id for fixed
// vectors.
func fakeIndex(t *testing.T, vectors []fetchedVector) *httptest.Server {
	t.Helper()
	byID := make(map[string]fetchedVector, len(vectors))
	for _, v := range vectors {
		byID[v.ID] = v
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/describe_index_stats", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "secret", r.Header.Get("Api-Key"))
		json.NewEncoder(w).Encode(map[string]any{"dimension": 2})
	})
	mux.HandleFunc("/vectors/list", func(w http.ResponseWriter, r *http.Request) {
		start := 0
		if tok := r.URL.Query().Get("paginationToken"); tok != "" {
			for i, v := range vectors {
				if v.ID == tok {
					start = i
				}
			}
		}
		limit := 2
		end := start + limit
		if end > len(vectors) {
			end = len(vectors)
		}
		ids := make([]map[string]string, 0, end-start)
		for _, v := range vectors[start:end] {
			ids = append(ids, map[string]string{"id": v.ID})
		}
		resp := map[string]any{"vectors": ids, "pagination": map[string]string{}}
		if end < len(vectors) {
			resp["pagination"] = map[string]string{"next": vectors[end].ID}
		}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/vectors/fetch", func(w http.ResponseWriter, r *http.Request) {
		out := make(map[string]fetchedVector)
		for _, id := range r.URL.Query()["ids"] {
			if v, ok := byID[id]; ok {
				out[id] = v
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"vectors": out})
	})
	return httptest.NewServer(mux)
}

func TestSourcePagesThroughIndex(t *testing.T) {
	vectors := []fetchedVector{
		{ID: "v1", Values: []float32{1, 0}, Metadata: map[string]any{"k": "a"}},
		{ID: "v2", Values: []float32{0, 1}, Metadata: map[string]any{"k": "b"}},
		{ID: "v3", Values: []float32{1, 1}},
	}
	srv := fakeIndex(t, vectors)
	defer srv.Close()

	src := NewSource()
	ctx := context.Background()
	cur, err := src.Open(ctx, testParams(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, "pinecone:ns1", cur.AdapterID)

	var got record.Batch
	for {
		batch, next, err := src.NextBatch(ctx, cur)
		if err == adapter.EndOfStream {
			break
		}
		require.NoError(t, err)
		got = append(got, batch...)
		cur = next
	}

	require.Len(t, got, 3)
	assert.Equal(t, "v1", got[0].ID)
	assert.Equal(t, []float32{0, 1}, got[1].Vector)
	assert.Equal(t, map[string]any{"k": "a"}, got[0].Metadata)
	assert.Equal(t, int64(3), cur.Emitted)
}

func TestSourceSkipsVectorDeletedBetweenListAndFetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/describe_index_stats", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"dimension": 2})
	})
	mux.HandleFunc("/vectors/list", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"vectors":    []map[string]string{{"id": "kept"}, {"id": "gone"}},
			"pagination": map[string]string{},
		})
	})
	mux.HandleFunc("/vectors/fetch", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"vectors": map[string]fetchedVector{
			"kept": {ID: "kept", Values: []float32{1, 0}},
		}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src := NewSource()
	ctx := context.Background()
	cur, err := src.Open(ctx, testParams(srv.URL))
	require.NoError(t, err)

	batch, _, err := src.NextBatch(ctx, cur)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "kept", batch[0].ID)
}

func TestSourceOpenUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	src := NewSource()
	_, err := src.Open(context.Background(), testParams(srv.URL))
	require.Error(t, err)
	assert.True(t, verrors.IsConnection(err))
}

func TestListCollections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/indexes", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"indexes": []map[string]string{{"name": "docs"}, {"name": "faq"}},
		})
	}))
	defer srv.Close()

	src := NewSource()
	names, err := src.ListCollections(context.Background(), testParams(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, []string{"docs", "faq"}, names)
}

func TestSinkUpsertsWithDimensionCheck(t *testing.T) {
	var got upsertRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/describe_index_stats", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"dimension": 2})
	})
	mux.HandleFunc("/vectors/upsert", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]any{"upsertedCount": len(got.Vectors)})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	snk := NewSink()
	ctx := context.Background()
	require.NoError(t, snk.Open(ctx, testParams(srv.URL)))

	batch := record.Batch{
		{ID: "ok", Vector: []float32{1, 0}, Metadata: map[string]any{"k": "v"}},
		{ID: "short", Vector: []float32{1}},
		{ID: "rel", Vector: []float32{0, 1},
			Relations: []record.Relation{{Name: "cites", TargetID: "ok"}}},
	}
	res, err := snk.WriteBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Written)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "short", res.Failures[0].ID)
	assert.True(t, verrors.IsWrite(res.Failures[0].Err))

	require.Len(t, got.Vectors, 2)
	assert.Equal(t, "ns1", got.Namespace)
	assert.Equal(t, []any{"ok"}, got.Vectors[1].Metadata["_relations_cites"])

	require.NoError(t, snk.Finalize(ctx))
}

func TestSinkTransientOnServerError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/describe_index_stats", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"dimension": 2})
	})
	mux.HandleFunc("/vectors/upsert", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	snk := NewSink()
	ctx := context.Background()
	require.NoError(t, snk.Open(ctx, testParams(srv.URL)))

	_, err := snk.WriteBatch(ctx, record.Batch{{ID: "a", Vector: []float32{1, 0}}})
	require.Error(t, err)
	assert.True(t, verrors.IsTransient(err))
}
