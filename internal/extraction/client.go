// Package extraction implements the optional external entity-extraction
// service adapter consulted by the store orchestrator.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"engram/internal/engerr"
	"engram/internal/observability"
)

const defaultTimeout = 5 * time.Second

// Client calls an external entity-extraction endpoint that accepts
// {text:"..."} and returns {entities:["..."]}.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a Client for the given extraction endpoint.
func New(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: observability.NewHTTPClient(nil)}
}

type extractResponse struct {
	Entities []string `json:"entities"`
}

// Extract returns entities the external service finds in text. Failures are
// returned to the caller, which treats the enrichment step as best-effort
// and falls back to local extraction.
func (c *Client) Extract(ctx context.Context, text string) ([]string, error) {
	cctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, engerr.Transport("extraction", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, engerr.Transport("extraction", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, engerr.Transport("extraction", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, engerr.Transport("extraction", fmt.Errorf("status %s: %s", resp.Status, observability.RedactJSON(raw)))
	}
	var out extractResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, engerr.Transport("extraction", err)
	}
	return out.Entities, nil
}
