// Package embedding implements the text-to-vector client: a thin HTTP
// call to the configured embedding service plus a bounded, TTL'd in-process
// cache so repeated queries don't re-embed.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"engram/internal/config"
	"engram/internal/engerr"
	"engram/internal/observability"
)

const (
	cacheCapacity = 512
	cacheTTL      = 5 * time.Minute
)

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// respShape covers the three accepted response body shapes: an
// OpenAI-compatible {data:[{embedding}]}, a single {embedding:[...]}, or a
// batch {embeddings:[[...]]}.
type respShape struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Embedding  []float32   `json:"embedding"`
	Embeddings [][]float32 `json:"embeddings"`
}

func (r respShape) vectors(want int) ([][]float32, bool) {
	if len(r.Data) == want && want > 0 {
		out := make([][]float32, want)
		for i := range r.Data {
			out[i] = r.Data[i].Embedding
		}
		return out, true
	}
	if want == 1 && len(r.Embedding) > 0 {
		return [][]float32{r.Embedding}, true
	}
	if len(r.Embeddings) == want && want > 0 {
		return r.Embeddings, true
	}
	return nil, false
}

type cacheEntry struct {
	vec       []float32
	insertedAt time.Time
}

// Client embeds text via the configured external service, caching results.
type Client struct {
	cfg  config.EmbeddingConfig
	http *http.Client

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New builds a Client for the given embedding configuration.
func New(cfg config.EmbeddingConfig) *Client {
	return &Client{
		cfg:   cfg,
		http:  observability.NewHTTPClient(nil),
		cache: make(map[string]cacheEntry),
	}
}

// Embed returns a vector for text, serving from cache when fresh.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.lookup(text); ok {
		return v, nil
	}
	vecs, err := c.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	c.store(text, vecs[0])
	return vecs[0], nil
}

// EmbedBatch embeds multiple texts in a single call, bypassing the cache
// (batches are assumed non-repeating, e.g. bootstrap indexing).
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return c.embedBatch(ctx, texts)
}

func (c *Client) lookup(text string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.cache[text]
	if !ok {
		return nil, false
	}
	if time.Since(e.insertedAt) > cacheTTL {
		delete(c.cache, text)
		return nil, false
	}
	return e.vec, true
}

func (c *Client) store(text string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.cache) >= cacheCapacity {
		c.evictOldest()
	}
	c.cache[text] = cacheEntry{vec: vec, insertedAt: time.Now()}
}

func (c *Client) evictOldest() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for k, e := range c.cache {
		if first || e.insertedAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.insertedAt
			first = false
		}
	}
	delete(c.cache, oldestKey)
}

func (c *Client) embedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("embedding: no inputs")
	}
	reqBody, err := json.Marshal(embedReq{Model: c.cfg.Model, Input: inputs})
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(c.cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := c.cfg.BaseURL + c.cfg.Path
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, engerr.Transport("embedding", err)
	}
	if c.cfg.APIHeader == "Authorization" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	} else if c.cfg.APIHeader != "" {
		req.Header.Set(c.cfg.APIHeader, c.cfg.APIKey)
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, engerr.Transport("embedding", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, engerr.Transport("embedding", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, engerr.Transport("embedding", fmt.Errorf("status %s: %s", resp.Status, observability.RedactJSON(body)))
	}

	var shape respShape
	if err := json.Unmarshal(body, &shape); err != nil {
		return nil, engerr.Transport("embedding", fmt.Errorf("decode response: %w", err))
	}
	vecs, ok := shape.vectors(len(inputs))
	if !ok {
		return nil, engerr.Transport("embedding", fmt.Errorf("unrecognized response shape for %d inputs", len(inputs)))
	}
	return vecs, nil
}

// CheckReachability sends a small probe request to verify the service is up.
func (c *Client) CheckReachability(ctx context.Context) error {
	_, err := c.Embed(ctx, "ping")
	if err != nil {
		return fmt.Errorf("embedding endpoint reachability check failed: %w", err)
	}
	return nil
}
