package weaviate

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
		Collection: "Article",
		APIKey:     "secret",
		BatchSize:  2,
		Timeout:    time.Second,
	}
}

func articleSchema() map[string]any {
	return map[string]any{"classes": []map[string]any{{
		"class": "Article",
		"properties": []map[string]any{
			{"name": "title", "dataType": []string{"text"}},
			{"name": "wordCount", "dataType": []string{"int"}},
			{"name": "cites", "dataType": []string{"Article"}},
		},
	}}}
}

// fakeWeaviate serves the schema and a cursor-paged object listing.
func fakeWeaviate(t *testing.T, objects []apiObject) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/schema", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(articleSchema())
	})
	mux.HandleFunc("/v1/objects", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Article", r.URL.Query().Get("class"))
		require.Equal(t, "vector", r.URL.Query().Get("include"))
		start := 0
		if after := r.URL.Query().Get("after"); after != "" {
			for i, obj := range objects {
				if obj.ID == after {
					start = i + 1
				}
			}
		}
		end := start + 2
		if end > len(objects) {
			end = len(objects)
		}
		json.NewEncoder(w).Encode(listObjectsResponse{Objects: objects[start:end]})
	})
	return httptest.NewServer(mux)
}

func TestSourcePagesWithAfterCursor(t *testing.T) {
	objects := []apiObject{
		{ID: "id-1", Vector: []float32{1, 0}, Properties: map[string]any{"title": "first"}},
		{ID: "id-2", Vector: []float32{0, 1}, Properties: map[string]any{"title": "second"}},
		{ID: "id-3", Vector: []float32{1, 1}, Properties: map[string]any{"title": "third"}},
	}
	srv := fakeWeaviate(t, objects)
	defer srv.Close()

	src := NewSource()
	ctx := context.Background()
	cur, err := src.Open(ctx, testParams(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, "weaviate:Article", cur.AdapterID)

	var got record.Batch
	calls := 0
	for {
		batch, next, err := src.NextBatch(ctx, cur)
		calls++
		if err == adapter.EndOfStream {
			break
		}
		require.NoError(t, err)
		got = append(got, batch...)
		cur = next
	}

	require.Len(t, got, 3)
	assert.Equal(t, "id-1", got[0].ID)
	assert.Equal(t, "second", got[1].Metadata["title"])
	// Two pages plus one empty probe.
	assert.Equal(t, 3, calls)
	assert.Equal(t, int64(3), cur.Emitted)
}

func TestSourceSplitsCrossReferences(t *testing.T) {
	objects := []apiObject{
		{ID: "id-1", Vector: []float32{1, 0}, Properties: map[string]any{
			"title": "citing",
			"cites": []any{map[string]any{"beacon": "weaviate://localhost/Article/id-2"}},
		}},
	}
	srv := fakeWeaviate(t, objects)
	defer srv.Close()

	src := NewSource()
	ctx := context.Background()
	cur, err := src.Open(ctx, testParams(srv.URL))
	require.NoError(t, err)

	batch, _, err := src.NextBatch(ctx, cur)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	// Beacons stay raw until resolution.
	require.Len(t, batch[0].Relations, 1)
	assert.Equal(t, "weaviate://localhost/Article/id-2", batch[0].Relations[0].TargetID)
	assert.NotContains(t, batch[0].Metadata, "cites")

	resolved, err := src.ResolveRelations(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, []record.Relation{{Name: "cites", TargetID: "id-2"}}, resolved[0].Relations)
}

func TestSourceOpenRejectsUnknownClass(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"classes": []map[string]any{}})
	}))
	defer srv.Close()

	src := NewSource()
	_, err := src.Open(context.Background(), testParams(srv.URL))
	require.Error(t, err)
	assert.True(t, verrors.IsConnection(err))
}

func TestListCollections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"classes": []map[string]any{
			{"class": "Article"}, {"class": "Author"},
		}})
	}))
	defer srv.Close()

	src := NewSource()
	names, err := src.ListCollections(context.Background(), testParams(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, []string{"Article", "Author"}, names)
}

func TestSinkReportsPerObjectErrors(t *testing.T) {
	var received []apiObject
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/schema", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(articleSchema())
	})
	mux.HandleFunc("/v1/batch/objects", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Objects []apiObject `json:"objects"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		received = append(received, body.Objects...)

		items := make([]map[string]any, len(body.Objects))
		for i, obj := range body.Objects {
			item := map[string]any{"id": obj.ID, "result": map[string]any{}}
			if obj.ID == "bad" {
				item["result"] = map[string]any{"errors": map[string]any{
					"error": []map[string]any{{"message": "invalid property"}},
				}}
			}
			items[i] = item
		}
		json.NewEncoder(w).Encode(items)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	snk := NewSink()
	ctx := context.Background()
	require.NoError(t, snk.Open(ctx, testParams(srv.URL)))

	batch := record.Batch{
		{ID: "good", Vector: []float32{1, 0}, Metadata: map[string]any{"title": "ok"}},
		{ID: "bad", Vector: []float32{0, 1}},
		{ID: "rel", Vector: []float32{1, 1},
			Relations: []record.Relation{{Name: "cites", TargetID: "good"}}},
	}
	res, err := snk.WriteBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Written)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "bad", res.Failures[0].ID)
	assert.True(t, verrors.IsWrite(res.Failures[0].Err))

	// Relations were rebuilt as beacons.
	require.Len(t, received, 3)
	beacons := beaconsOf(received[2].Properties["cites"])
	require.Len(t, beacons, 1)
	assert.Equal(t, "weaviate://localhost/good", beacons[0])

	require.NoError(t, snk.Finalize(ctx))
}

func TestSinkOpenRejectsUnknownClass(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"classes": []map[string]any{}})
	}))
	defer srv.Close()

	snk := NewSink()
	err := snk.Open(context.Background(), testParams(srv.URL))
	require.Error(t, err)
	assert.True(t, verrors.IsConnection(err))
}
