// Package weaviate implements the source/sink contracts for Weaviate-style
// REST APIs. Objects are paged with the after-cursor listing, and
// cross-references surface as relations once their beacons are resolved.
package weaviate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vecport/vecport/internal/adapter"
	"github.com/vecport/vecport/internal/record"
	"github.com/vecport/vecport/internal/verrors"
)

const (
	DefaultBaseURL = "http://localhost:8080"
	DefaultTimeout = 60 * time.Second

	beaconPrefix = "weaviate://"
)

// Client talks to one Weaviate instance.
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
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return verrors.WrapTransient(err, "weaviate."+method, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(resp.Body)
		msg := fmt.Sprintf("weaviate %s %s: status %d: %s", method, path, resp.StatusCode, string(data))
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return verrors.NewConnection("weaviate."+method, msg)
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return verrors.NewTransient("weaviate."+method, msg)
		default:
			return verrors.NewFatal("weaviate."+method, msg)
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

type schemaResponse struct {
	Classes []struct {
		Class      string `json:"class"`
		Properties []struct {
			Name     string   `json:"name"`
			DataType []string `json:"dataType"`
		} `json:"properties"`
	} `json:"classes"`
}

type apiObject struct {
	ID         string         `json:"id"`
	Class      string         `json:"class"`
	Vector     []float32      `json:"vector,omitempty"`
	Properties map[string]any `json:"properties"`
}

type listObjectsResponse struct {
	Objects []apiObject `json:"objects"`
}

// Source exports one class.
type Source struct {
	client    *Client
	class     string
	batchSize int

	// refProps holds property names whose dataType is another class, so
	// their values are split out as relations instead of metadata.
	refProps map[string]bool
}

func NewSource() *Source { return &Source{} }

func (s *Source) Open(ctx context.Context, params adapter.Params) (record.Cursor, error) {
	s.client = NewClient(params.BaseURL, params.APIKey, params.Timeout)
	s.class = params.Collection
	s.batchSize = params.BatchSize
	if s.batchSize <= 0 {
		s.batchSize = 100
	}

	var sch schemaResponse
	if err := s.client.do(ctx, http.MethodGet, "/v1/schema", nil, &sch); err != nil {
		return record.Cursor{}, verrors.WrapConnection(err, "weaviate.open", "schema unreachable")
	}
	s.refProps = make(map[string]bool)
	found := false
	for _, cls := range sch.Classes {
		if cls.Class != s.class {
			continue
		}
		found = true
		for _, prop := range cls.Properties {
			// Class references use the class name as dataType; primitive
			// types are lowercase.
			if len(prop.DataType) > 0 && prop.DataType[0] != "" &&
				prop.DataType[0][0] >= 'A' && prop.DataType[0][0] <= 'Z' {
				s.refProps[prop.Name] = true
			}
		}
	}
	if !found {
		return record.Cursor{}, verrors.NewConnection("weaviate.open", "class not found: "+s.class)
	}
	return record.Cursor{AdapterID: "weaviate:" + s.class}, nil
}

func (s *Source) NextBatch(ctx context.Context, cur record.Cursor) (record.Batch, record.Cursor, error) {
	q := url.Values{}
	q.Set("class", s.class)
	q.Set("limit", fmt.Sprint(s.batchSize))
	q.Set("include", "vector")
	if cur.Position != "" {
		q.Set("after", cur.Position)
	}

	var resp listObjectsResponse
	if err := s.client.do(ctx, http.MethodGet, "/v1/objects?"+q.Encode(), nil, &resp); err != nil {
		return nil, cur, err
	}
	if len(resp.Objects) == 0 {
		return nil, cur, adapter.EndOfStream
	}

	batch := make(record.Batch, 0, len(resp.Objects))
	for _, obj := range resp.Objects {
		batch = append(batch, s.toRecord(obj))
	}

	next := record.Cursor{
		AdapterID: cur.AdapterID,
		Position:  resp.Objects[len(resp.Objects)-1].ID,
		Emitted:   cur.Emitted + int64(len(batch)),
	}
	return batch, next, nil
}

// toRecord splits reference properties into relations, keeping the raw
// beacon as the target until ResolveRelations runs.
func (s *Source) toRecord(obj apiObject) record.Record {
	rec := record.Record{ID: obj.ID, Vector: obj.Vector}
	if len(obj.Properties) > 0 {
		rec.Metadata = make(map[string]any, len(obj.Properties))
	}
	for name, val := range obj.Properties {
		if !s.refProps[name] {
			rec.Metadata[name] = val
			continue
		}
		for _, beacon := range beaconsOf(val) {
			rec.Relations = append(rec.Relations, record.Relation{Name: name, TargetID: beacon})
		}
	}
	return rec
}

// beaconsOf extracts beacon strings from a cross-reference property value,
// which the API returns as a list of beacon objects.
func beaconsOf(val any) []string {
	items, ok := val.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if b, ok := m["beacon"].(string); ok {
			out = append(out, b)
		}
	}
	return out
}

// ResolveRelations rewrites beacon targets to bare object ids. Beacons
// look like weaviate://localhost/Class/<id> or weaviate://localhost/<id>.
func (s *Source) ResolveRelations(ctx context.Context, batch record.Batch) (record.Batch, error) {
	out := make(record.Batch, len(batch))
	for i, rec := range batch {
		out[i] = rec
		if len(rec.Relations) == 0 {
			continue
		}
		rels := make([]record.Relation, len(rec.Relations))
		for j, rel := range rec.Relations {
			rels[j] = record.Relation{Name: rel.Name, TargetID: beaconTarget(rel.TargetID)}
		}
		out[i].Relations = rels
	}
	return out, nil
}

func beaconTarget(beacon string) string {
	if !strings.HasPrefix(beacon, beaconPrefix) {
		return beacon
	}
	parts := strings.Split(strings.TrimPrefix(beacon, beaconPrefix), "/")
	return parts[len(parts)-1]
}

func (s *Source) ListCollections(ctx context.Context, params adapter.Params) ([]string, error) {
	client := NewClient(params.BaseURL, params.APIKey, params.Timeout)
	var sch schemaResponse
	if err := client.do(ctx, http.MethodGet, "/v1/schema", nil, &sch); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(sch.Classes))
	for _, cls := range sch.Classes {
		names = append(names, cls.Class)
	}
	return names, nil
}

func (s *Source) Close() error { return nil }

var (
	_ adapter.Source           = (*Source)(nil)
	_ adapter.RelationResolver = (*Source)(nil)
	_ adapter.Lister           = (*Source)(nil)
)

type batchResponseItem struct {
	ID     string `json:"id"`
	Result struct {
		Errors *struct {
			Error []struct {
				Message string `json:"message"`
			} `json:"error"`
		} `json:"errors"`
	} `json:"result"`
}

// Sink imports into one class through the batch objects endpoint, which
// reports success or failure per object.
type Sink struct {
	client *Client
	class  string
}

func NewSink() *Sink { return &Sink{} }

func (s *Sink) Open(ctx context.Context, params adapter.Params) error {
	s.client = NewClient(params.BaseURL, params.APIKey, params.Timeout)
	s.class = params.Collection
	var sch schemaResponse
	if err := s.client.do(ctx, http.MethodGet, "/v1/schema", nil, &sch); err != nil {
		return verrors.WrapConnection(err, "weaviate.open", "schema unreachable")
	}
	for _, cls := range sch.Classes {
		if cls.Class == s.class {
			return nil
		}
	}
	return verrors.NewConnection("weaviate.open", "class not found: "+s.class)
}

func (s *Sink) WriteBatch(ctx context.Context, batch record.Batch) (adapter.WriteResult, error) {
	var res adapter.WriteResult
	objects := make([]apiObject, 0, len(batch))
	for _, rec := range batch {
		objects = append(objects, apiObject{
			ID:         rec.ID,
			Class:      s.class,
			Vector:     rec.Vector,
			Properties: propertiesFor(rec),
		})
	}

	var items []batchResponseItem
	body := map[string]any{"objects": objects}
	if err := s.client.do(ctx, http.MethodPost, "/v1/batch/objects", body, &items); err != nil {
		return res, err
	}

	for _, item := range items {
		if item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			res.Failures = append(res.Failures, adapter.RecordError{
				ID: item.ID,
				Err: verrors.NewWrite("weaviate.write_batch",
					item.Result.Errors.Error[0].Message).WithRecord(item.ID),
			})
			continue
		}
		res.Written++
	}
	return res, nil
}

// propertiesFor rebuilds beacon lists from relations so cross-references
// survive the round trip.
func propertiesFor(rec record.Record) map[string]any {
	props := make(map[string]any, len(rec.Metadata)+len(rec.Relations))
	for k, v := range rec.Metadata {
		props[k] = v
	}
	for _, rel := range rec.Relations {
		beacon := map[string]any{"beacon": beaconPrefix + "localhost/" + rel.TargetID}
		existing, _ := props[rel.Name].([]any)
		props[rel.Name] = append(existing, beacon)
	}
	return props
}

func (s *Sink) Finalize(ctx context.Context) error {
	// Batch inserts are applied per call; nothing left to commit.
	return nil
}

func (s *Sink) Close() error { return nil }

var _ adapter.Sink = (*Sink)(nil)
