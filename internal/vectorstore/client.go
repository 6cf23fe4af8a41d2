// Package vectorstore implements the typed adapter over the external vector
// database described in the external-interfaces contract: plain HTTP/JSON
// against a Qdrant-shaped REST API.
package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"engram/internal/engerr"
	"engram/internal/memory"
	"engram/internal/observability"
)

const defaultTimeout = 5 * time.Second

// Point is one hit or payload-bearing record from the backend.
type Point struct {
	ID       string
	Score    float64
	Payload  map[string]any
	Vector   []float32
}

// Client talks to the configured vector database over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a Client whose outbound calls are instrumented via the shared
// observability HTTP client.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    observability.NewHTTPClient(nil),
	}
}

// PointID returns a deterministic UUID for an opaque cell id, matching the
// engine-wide deterministic-id construction.
func PointID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

// Partition resolves the storage partition name for a classification;
// secret cells never resolve to a partition.
func Partition(collections map[string]string, cls memory.Classification) (string, error) {
	switch cls {
	case memory.ClassSecret:
		return "", engerr.ErrBlockedSecret
	case memory.ClassPrivate:
		return collections["private"], nil
	default:
		return collections["shared"], nil
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	cctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(cctx, method, c.baseURL+path, reader)
	if err != nil {
		return engerr.Transport("vectorstore", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return engerr.Transport("vectorstore", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return engerr.Transport("vectorstore", err)
	}
	if resp.StatusCode/100 != 2 {
		return engerr.Transport("vectorstore", fmt.Errorf("status %s: %s", resp.Status, observability.RedactJSON(respBody)))
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return engerr.Transport("vectorstore", fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

// Upsert writes or overwrites a point's vector and payload.
func (c *Client) Upsert(ctx context.Context, partition, id string, vector []float32, payload map[string]any) error {
	pointID := PointID(id)
	p := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		p[k] = v
	}
	if pointID != id {
		p["_original_id"] = id
	}
	body := map[string]any{
		"wait": true,
		"points": []map[string]any{
			{"id": pointID, "vector": vector, "payload": p},
		},
	}
	return c.do(ctx, http.MethodPut, "/collections/"+partition+"/points", body, nil)
}

// Filters is a conjunctive predicate map translated into the backend's
// {must:[{key,match:{value}}]} filter shape. `deleted=false` is always ANDed
// in unless the caller explicitly sets `deleted`.
type Filters map[string]any

func (f Filters) must() []map[string]any {
	must := make([]map[string]any, 0, len(f)+1)
	if _, ok := f["deleted"]; !ok {
		must = append(must, map[string]any{"key": "deleted", "match": map[string]any{"value": false}})
	}
	for k, v := range f {
		must = append(must, map[string]any{"key": k, "match": map[string]any{"value": v}})
	}
	return must
}

type searchResponse struct {
	Result []struct {
		ID      string         `json:"id"`
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
}

// Search performs a filtered similarity search within a partition.
func (c *Client) Search(ctx context.Context, partition string, vector []float32, limit int, minScore float64, filter Filters) ([]Point, error) {
	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
		"filter":       map[string]any{"must": filter.must()},
	}
	if minScore > 0 {
		body["score_threshold"] = minScore
	}
	var resp searchResponse
	if err := c.do(ctx, http.MethodPost, "/collections/"+partition+"/points/search", body, &resp); err != nil {
		return nil, err
	}
	out := make([]Point, 0, len(resp.Result))
	for _, r := range resp.Result {
		out = append(out, Point{ID: originalID(r.ID, r.Payload), Score: r.Score, Payload: r.Payload})
	}
	return out, nil
}

type scrollResponse struct {
	Result struct {
		Points []struct {
			ID      string         `json:"id"`
			Payload map[string]any `json:"payload"`
			Vector  []float32      `json:"vector"`
		} `json:"points"`
		NextPageOffset any `json:"next_page_offset"`
	} `json:"result"`
}

// Scroll pages through a partition's live points by opaque cursor.
func (c *Client) Scroll(ctx context.Context, partition string, batchSize int, offset any, filter Filters) ([]Point, any, error) {
	body := map[string]any{
		"limit":        batchSize,
		"with_payload": true,
		"with_vector":  true,
		"filter":       map[string]any{"must": filter.must()},
	}
	if offset != nil {
		body["offset"] = offset
	}
	var resp scrollResponse
	if err := c.do(ctx, http.MethodPost, "/collections/"+partition+"/points/scroll", body, &resp); err != nil {
		return nil, nil, err
	}
	out := make([]Point, 0, len(resp.Result.Points))
	for _, p := range resp.Result.Points {
		out = append(out, Point{ID: originalID(p.ID, p.Payload), Payload: p.Payload, Vector: p.Vector})
	}
	return out, resp.Result.NextPageOffset, nil
}

// Patch updates a point's payload without touching its vector.
func (c *Client) Patch(ctx context.Context, partition, id string, payloadPatch map[string]any) error {
	body := map[string]any{
		"wait":    true,
		"points":  []string{PointID(id)},
		"payload": payloadPatch,
	}
	return c.do(ctx, http.MethodPost, "/collections/"+partition+"/points/payload", body, nil)
}

// SoftDelete marks a point deleted; the engine never issues hard deletes.
func (c *Client) SoftDelete(ctx context.Context, partition, id string) error {
	return c.Patch(ctx, partition, id, map[string]any{
		"deleted":    true,
		"updated_at": time.Now().UTC(),
	})
}

type getResponse struct {
	Result struct {
		ID      string         `json:"id"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
}

// Get fetches a single point by id.
func (c *Client) Get(ctx context.Context, partition, id string) (Point, error) {
	var resp getResponse
	if err := c.do(ctx, http.MethodGet, "/collections/"+partition+"/points/"+PointID(id), nil, &resp); err != nil {
		return Point{}, err
	}
	return Point{ID: originalID(resp.Result.ID, resp.Result.Payload), Payload: resp.Result.Payload}, nil
}

type countResponse struct {
	Result struct {
		PointsCount int `json:"points_count"`
	} `json:"result"`
}

// Count returns the number of points in a partition (including soft-deleted).
func (c *Client) Count(ctx context.Context, partition string) (int, error) {
	var resp countResponse
	if err := c.do(ctx, http.MethodGet, "/collections/"+partition, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Result.PointsCount, nil
}

// EnsureTextIndex idempotently creates a full-text payload index on field.
func (c *Client) EnsureTextIndex(ctx context.Context, partition, field string) error {
	body := map[string]any{
		"field_name": field,
		"field_schema": map[string]any{
			"type":          "text",
			"tokenizer":     "word",
			"min_token_len": 2,
			"max_token_len": 40,
			"lowercase":     true,
		},
	}
	return c.do(ctx, http.MethodPut, "/collections/"+partition+"/index", body, nil)
}

func originalID(pointID string, payload map[string]any) string {
	if v, ok := payload["_original_id"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return pointID
}
