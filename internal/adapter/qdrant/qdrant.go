// Package qdrant implements the source/sink contracts for Qdrant-style
// REST APIs. Pagination uses the points scroll endpoint whose
// next_page_offset token is carried opaquely in the cursor.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vecport/vecport/internal/adapter"
	"github.com/vecport/vecport/internal/record"
	"github.com/vecport/vecport/internal/verrors"
)

const (
	DefaultBaseURL = "http://localhost:6333"
	DefaultTimeout = 60 * time.Second
)

// Client talks to one Qdrant instance.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
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
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return verrors.WrapTransient(err, "qdrant."+method, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		msg := fmt.Sprintf("qdrant %s %s: status %d: %s", method, path, resp.StatusCode, string(data))
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return verrors.NewConnection("qdrant."+method, msg)
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest:
			return verrors.NewFatal("qdrant."+method, msg)
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return verrors.NewTransient("qdrant."+method, msg)
		default:
			return verrors.NewFatal("qdrant."+method, msg)
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// position encodes the scroll state in the opaque cursor token.
type position struct {
	Offset any  `json:"offset,omitempty"`
	Done   bool `json:"done,omitempty"`
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
		return p, verrors.NewFatal("qdrant.cursor", "cursor position unusable: "+s)
	}
	return p, nil
}

type scrollRequest struct {
	Limit       int  `json:"limit"`
	Offset      any  `json:"offset,omitempty"`
	WithPayload bool `json:"with_payload"`
	WithVector  bool `json:"with_vector"`
}

type scrollPoint struct {
	ID      json.RawMessage `json:"id"`
	Payload map[string]any  `json:"payload"`
	Vector  []float32       `json:"vector"`
}

type scrollResponse struct {
	Result struct {
		Points         []scrollPoint `json:"points"`
		NextPageOffset any           `json:"next_page_offset"`
	} `json:"result"`
}

// Source exports one collection.
type Source struct {
	client     *Client
	collection string
	batchSize  int
}

func NewSource() *Source { return &Source{} }

func (s *Source) Open(ctx context.Context, params adapter.Params) (record.Cursor, error) {
	s.client = NewClient(params.BaseURL, params.APIKey, params.Timeout)
	s.collection = params.Collection
	s.batchSize = params.BatchSize
	if s.batchSize <= 0 {
		s.batchSize = 1000
	}

	// Probe the collection so auth and addressing problems surface here,
	// not on the first page.
	var out struct {
		Result struct {
			Status string `json:"status"`
		} `json:"result"`
	}
	if err := s.client.do(ctx, http.MethodGet, "/collections/"+s.collection, nil, &out); err != nil {
		if verrors.IsTransient(err) || verrors.IsFatal(err) {
			return record.Cursor{}, verrors.WrapConnection(err, "qdrant.open", "collection unreachable")
		}
		return record.Cursor{}, err
	}
	return record.Cursor{AdapterID: "qdrant:" + s.collection}, nil
}

func (s *Source) NextBatch(ctx context.Context, cur record.Cursor) (record.Batch, record.Cursor, error) {
	pos, err := decodePosition(cur.Position)
	if err != nil {
		return nil, cur, err
	}
	if pos.Done {
		return nil, cur, adapter.EndOfStream
	}

	req := scrollRequest{Limit: s.batchSize, Offset: pos.Offset, WithPayload: true, WithVector: true}
	var resp scrollResponse
	if err := s.client.do(ctx, http.MethodPost, "/collections/"+s.collection+"/points/scroll", req, &resp); err != nil {
		return nil, cur, err
	}

	if len(resp.Result.Points) == 0 {
		return nil, cur, adapter.EndOfStream
	}

	batch := make(record.Batch, 0, len(resp.Result.Points))
	for _, p := range resp.Result.Points {
		batch = append(batch, record.Record{
			ID:       normalizeID(p.ID),
			Vector:   p.Vector,
			Metadata: p.Payload,
		})
	}

	next := record.Cursor{
		AdapterID: cur.AdapterID,
		Emitted:   cur.Emitted + int64(len(batch)),
	}
	if resp.Result.NextPageOffset == nil {
		next.Position = encodePosition(position{Done: true})
	} else {
		next.Position = encodePosition(position{Offset: resp.Result.NextPageOffset})
	}
	return batch, next, nil
}

func (s *Source) ListCollections(ctx context.Context, params adapter.Params) ([]string, error) {
	client := NewClient(params.BaseURL, params.APIKey, params.Timeout)
	var out struct {
		Result struct {
			Collections []struct {
				Name string `json:"name"`
			} `json:"collections"`
		} `json:"result"`
	}
	if err := client.do(ctx, http.MethodGet, "/collections", nil, &out); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out.Result.Collections))
	for _, c := range out.Result.Collections {
		names = append(names, c.Name)
	}
	return names, nil
}

func (s *Source) Close() error { return nil }

var (
	_ adapter.Source = (*Source)(nil)
	_ adapter.Lister = (*Source)(nil)
)

// normalizeID maps Qdrant's numeric-or-UUID point ids to strings. Numeric
// ids stay as their raw JSON literal so 64-bit values above 2^53 survive
// without a float64 round trip.
func normalizeID(id json.RawMessage) string {
	var s string
	if err := json.Unmarshal(id, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(id))
}

type upsertPoint struct {
	ID      any            `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Sink imports into one collection.
type Sink struct {
	client     *Client
	collection string
}

func NewSink() *Sink { return &Sink{} }

func (s *Sink) Open(ctx context.Context, params adapter.Params) error {
	s.client = NewClient(params.BaseURL, params.APIKey, params.Timeout)
	s.collection = params.Collection
	var out json.RawMessage
	if err := s.client.do(ctx, http.MethodGet, "/collections/"+s.collection, nil, &out); err != nil {
		return verrors.WrapConnection(err, "qdrant.open", "collection unreachable")
	}
	return nil
}

func (s *Sink) WriteBatch(ctx context.Context, batch record.Batch) (adapter.WriteResult, error) {
	var res adapter.WriteResult
	points := make([]upsertPoint, 0, len(batch))
	accepted := make([]string, 0, len(batch))
	for _, rec := range batch {
		if len(rec.Vector) == 0 {
			res.Failures = append(res.Failures, adapter.RecordError{
				ID:  rec.ID,
				Err: verrors.NewWrite("qdrant.write_batch", "empty vector").WithRecord(rec.ID),
			})
			continue
		}
		points = append(points, upsertPoint{
			ID:      sinkID(rec.ID),
			Vector:  rec.Vector,
			Payload: payloadFor(rec),
		})
		accepted = append(accepted, rec.ID)
	}
	if len(points) == 0 {
		return res, nil
	}

	body := map[string]any{"points": points}
	if err := s.client.do(ctx, http.MethodPut, "/collections/"+s.collection+"/points?wait=true", body, nil); err != nil {
		return res, err
	}
	res.Written += len(accepted)
	return res, nil
}

// payloadFor folds relations back into the payload, since Qdrant has no
// native reference type.
func payloadFor(rec record.Record) map[string]any {
	if len(rec.Relations) == 0 {
		return rec.Metadata
	}
	payload := make(map[string]any, len(rec.Metadata)+1)
	for k, v := range rec.Metadata {
		payload[k] = v
	}
	rels := make(map[string][]string)
	for _, rel := range rec.Relations {
		rels[rel.Name] = append(rels[rel.Name], rel.TargetID)
	}
	payload["_relations"] = rels
	return payload
}

// sinkID keeps integer and UUID ids as-is and derives a deterministic
// UUID for anything else, which Qdrant would otherwise reject.
func sinkID(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

func (s *Sink) Finalize(ctx context.Context) error {
	// Upserts are synchronous (wait=true); nothing to commit.
	return nil
}

func (s *Sink) Close() error { return nil }

var _ adapter.Sink = (*Sink)(nil)
