// Package pinecone implements the source/sink contracts for Pinecone-style
// REST APIs. Ids are listed page by page and hydrated through the fetch
// endpoint, since the list call carries ids only.
package pinecone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/vecport/vecport/internal/adapter"
	"github.com/vecport/vecport/internal/record"
	"github.com/vecport/vecport/internal/verrors"
)

const DefaultTimeout = 60 * time.Second

// relationKeyPrefix namespaces relations folded into metadata on import.
// Pinecone metadata has no reference type but accepts string lists.
const relationKeyPrefix = "_relations_"

// Client talks to one Pinecone index endpoint.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return verrors.WrapTransient(err, "pinecone."+method, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		msg := fmt.Sprintf("pinecone %s %s: status %d: %s", method, path, resp.StatusCode, string(data))
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return verrors.NewConnection("pinecone."+method, msg)
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return verrors.NewTransient("pinecone."+method, msg)
		default:
			return verrors.NewFatal("pinecone."+method, msg)
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// position carries the list pagination token across batches.
type position struct {
	Token string `json:"token,omitempty"`
	Done  bool   `json:"done,omitempty"`
}

func encodePosition(p position) string {
	data, _ := json.Marshal(p)
	return string(data)
}

func decodePosition(s string) (position, error) {
	var p position
	if s == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return p, verrors.NewFatal("pinecone.cursor", "cursor position unusable: "+s)
	}
	return p, nil
}

type listResponse struct {
	Vectors []struct {
		ID string `json:"id"`
	} `json:"vectors"`
	Pagination struct {
		Next string `json:"next"`
	} `json:"pagination"`
}

type fetchedVector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata"`
}

type fetchResponse struct {
	Vectors map[string]fetchedVector `json:"vectors"`
}

// Source exports one index.
type Source struct {
	client    *Client
	namespace string
	batchSize int
}

func NewSource() *Source { return &Source{} }

func (s *Source) Open(ctx context.Context, params adapter.Params) (record.Cursor, error) {
	s.client = NewClient(params.BaseURL, params.APIKey, params.Timeout)
	s.namespace = params.Collection
	s.batchSize = params.BatchSize
	if s.batchSize <= 0 {
		s.batchSize = 100
	}

	var stats struct {
		Dimension int `json:"dimension"`
	}
	if err := s.client.do(ctx, http.MethodPost, "/describe_index_stats", map[string]any{}, &stats); err != nil {
		return record.Cursor{}, verrors.WrapConnection(err, "pinecone.open", "index unreachable")
	}
	return record.Cursor{AdapterID: "pinecone:" + s.namespace}, nil
}

func (s *Source) NextBatch(ctx context.Context, cur record.Cursor) (record.Batch, record.Cursor, error) {
	pos, err := decodePosition(cur.Position)
	if err != nil {
		return nil, cur, err
	}
	if pos.Done {
		return nil, cur, adapter.EndOfStream
	}

	q := url.Values{}
	q.Set("limit", fmt.Sprint(s.batchSize))
	if s.namespace != "" {
		q.Set("namespace", s.namespace)
	}
	if pos.Token != "" {
		q.Set("paginationToken", pos.Token)
	}
	var listed listResponse
	if err := s.client.do(ctx, http.MethodGet, "/vectors/list?"+q.Encode(), nil, &listed); err != nil {
		return nil, cur, err
	}
	if len(listed.Vectors) == 0 {
		return nil, cur, adapter.EndOfStream
	}

	fq := url.Values{}
	if s.namespace != "" {
		fq.Set("namespace", s.namespace)
	}
	for _, v := range listed.Vectors {
		fq.Add("ids", v.ID)
	}
	var fetched fetchResponse
	if err := s.client.do(ctx, http.MethodGet, "/vectors/fetch?"+fq.Encode(), nil, &fetched); err != nil {
		return nil, cur, err
	}

	// Keep list order; the fetch response is keyed by id.
	batch := make(record.Batch, 0, len(listed.Vectors))
	for _, v := range listed.Vectors {
		fv, ok := fetched.Vectors[v.ID]
		if !ok {
			// Deleted between list and fetch.
			continue
		}
		batch = append(batch, record.Record{
			ID:       fv.ID,
			Vector:   fv.Values,
			Metadata: fv.Metadata,
		})
	}

	next := record.Cursor{
		AdapterID: cur.AdapterID,
		Emitted:   cur.Emitted + int64(len(batch)),
	}
	if listed.Pagination.Next == "" {
		next.Position = encodePosition(position{Done: true})
	} else {
		next.Position = encodePosition(position{Token: listed.Pagination.Next})
	}
	return batch, next, nil
}

// ListCollections enumerates indexes through the control-plane endpoint.
// Environment overrides the control-plane base URL; it defaults to the
// data-plane URL, which the tests exploit.
func (s *Source) ListCollections(ctx context.Context, params adapter.Params) ([]string, error) {
	base := params.Environment
	if base == "" {
		base = params.BaseURL
	}
	client := NewClient(base, params.APIKey, params.Timeout)
	var out struct {
		Indexes []struct {
			Name string `json:"name"`
		} `json:"indexes"`
	}
	if err := client.do(ctx, http.MethodGet, "/indexes", nil, &out); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out.Indexes))
	for _, idx := range out.Indexes {
		names = append(names, idx.Name)
	}
	return names, nil
}

func (s *Source) Close() error { return nil }

var (
	_ adapter.Source = (*Source)(nil)
	_ adapter.Lister = (*Source)(nil)
)

type upsertVector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type upsertRequest struct {
	Vectors   []upsertVector `json:"vectors"`
	Namespace string         `json:"namespace,omitempty"`
}

// Sink imports into one index.
type Sink struct {
	client    *Client
	namespace string
	dimension int
}

func NewSink() *Sink { return &Sink{} }

func (s *Sink) Open(ctx context.Context, params adapter.Params) error {
	s.client = NewClient(params.BaseURL, params.APIKey, params.Timeout)
	s.namespace = params.Collection

	var stats struct {
		Dimension int `json:"dimension"`
	}
	if err := s.client.do(ctx, http.MethodPost, "/describe_index_stats", map[string]any{}, &stats); err != nil {
		return verrors.WrapConnection(err, "pinecone.open", "index unreachable")
	}
	s.dimension = stats.Dimension
	return nil
}

func (s *Sink) WriteBatch(ctx context.Context, batch record.Batch) (adapter.WriteResult, error) {
	var res adapter.WriteResult
	vectors := make([]upsertVector, 0, len(batch))
	for _, rec := range batch {
		if err := s.validate(rec); err != nil {
			res.Failures = append(res.Failures, adapter.RecordError{ID: rec.ID, Err: err})
			continue
		}
		vectors = append(vectors, upsertVector{
			ID:       rec.ID,
			Values:   rec.Vector,
			Metadata: metadataFor(rec),
		})
	}
	if len(vectors) == 0 {
		return res, nil
	}

	var out struct {
		UpsertedCount int `json:"upsertedCount"`
	}
	req := upsertRequest{Vectors: vectors, Namespace: s.namespace}
	if err := s.client.do(ctx, http.MethodPost, "/vectors/upsert", req, &out); err != nil {
		return res, err
	}
	res.Written += out.UpsertedCount
	return res, nil
}

// validate rejects records the index would bounce the whole upsert for.
func (s *Sink) validate(rec record.Record) error {
	if len(rec.Vector) == 0 {
		return verrors.NewWrite("pinecone.write_batch", "empty vector").WithRecord(rec.ID)
	}
	if s.dimension > 0 && len(rec.Vector) != s.dimension {
		return verrors.NewWrite("pinecone.write_batch",
			fmt.Sprintf("vector length %d, index wants %d", len(rec.Vector), s.dimension)).WithRecord(rec.ID)
	}
	return nil
}

func metadataFor(rec record.Record) map[string]any {
	if len(rec.Relations) == 0 {
		return rec.Metadata
	}
	meta := make(map[string]any, len(rec.Metadata)+1)
	for k, v := range rec.Metadata {
		meta[k] = v
	}
	byName := make(map[string][]string)
	for _, rel := range rec.Relations {
		byName[rel.Name] = append(byName[rel.Name], rel.TargetID)
	}
	for name, targets := range byName {
		meta[relationKeyPrefix+name] = targets
	}
	return meta
}

func (s *Sink) Finalize(ctx context.Context) error {
	// Upserts apply immediately; there is no batch commit to flush.
	return nil
}

func (s *Sink) Close() error { return nil }

var _ adapter.Sink = (*Sink)(nil)
