// Package graphstore implements the HTTP adapter over the external
// Cypher-like graph store: entity/relationship ingest, temporal
// queries, and bounded-depth traversal.
package graphstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"engram/internal/engerr"
	"engram/internal/observability"
)

const defaultTimeout = 80 * time.Millisecond

var relTypePattern = regexp.MustCompile(`^[A-Z0-9_]+$`)

// Client talks to the configured graph store over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a Client for the given graph query endpoint.
func New(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: observability.NewHTTPClient(nil)}
}

// ValidateRelType sanitizes a relationship-type identifier to block
// injection: only uppercase letters, digits, and underscore are allowed.
func ValidateRelType(rel string) error {
	if !relTypePattern.MatchString(rel) {
		return fmt.Errorf("graphstore: invalid relationship type %q", rel)
	}
	return nil
}

type queryResponse struct {
	Header []string        `json:"header"`
	Rows   [][]any         `json:"rows"`
	Stats  map[string]any  `json:"stats"`
}

func (c *Client) query(ctx context.Context, timeout time.Duration, cypher string, params map[string]any) (queryResponse, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{"query": cypher, "params": params})
	if err != nil {
		return queryResponse{}, err
	}
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return queryResponse{}, engerr.Transport("graphstore", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return queryResponse{}, engerr.Transport("graphstore", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return queryResponse{}, engerr.Transport("graphstore", err)
	}
	if resp.StatusCode/100 != 2 {
		return queryResponse{}, engerr.Transport("graphstore", fmt.Errorf("status %s: %s", resp.Status, observability.RedactJSON(raw)))
	}
	var out queryResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return queryResponse{}, engerr.Transport("graphstore", fmt.Errorf("decode response: %w", err))
	}
	return out, nil
}

// UpsertEntity merges an Entity node on name, setting first_seen on create
// and last_seen on every match.
func (c *Client) UpsertEntity(ctx context.Context, name, entityType string, props map[string]any) error {
	now := time.Now().UTC()
	params := map[string]any{"name": name, "type": entityType, "now": now}
	for k, v := range props {
		params[k] = v
	}
	cypher := `MERGE (e:Entity {name:$name}) ON CREATE SET e.first_seen=$now, e.type=$type ON MATCH SET e.last_seen=$now`
	_, err := c.query(ctx, 2*time.Second, cypher, params)
	return err
}

// UpsertEdge creates or updates a typed edge between two named entities.
// relType is validated before being spliced into the query text; all
// value-bearing data goes through params.
func (c *Client) UpsertEdge(ctx context.Context, from, to, relType string, props map[string]any) error {
	if err := ValidateRelType(relType); err != nil {
		return err
	}
	now := time.Now().UTC()
	params := map[string]any{"from": from, "to": to, "now": now}
	for k, v := range props {
		params[k] = v
	}
	cypher := fmt.Sprintf(
		`MATCH (a:Entity {name:$from}), (b:Entity {name:$to}) MERGE (a)-[r:%s]->(b) ON CREATE SET r.since=$now SET r.last_seen=$now`,
		relType)
	_, err := c.query(ctx, 2*time.Second, cypher, params)
	return err
}

// Neighbors returns up to limit entity names reachable via relType.
func (c *Client) Neighbors(ctx context.Context, name, relType string, limit int) ([]string, error) {
	if err := ValidateRelType(relType); err != nil {
		return nil, err
	}
	cypher := fmt.Sprintf(
		`MATCH (a:Entity {name:$name})-[:%s]->(b) RETURN b.name LIMIT $limit`, relType)
	resp, err := c.query(ctx, defaultTimeout, cypher, map[string]any{"name": name, "limit": limit})
	if err != nil {
		return nil, err
	}
	return firstColumnStrings(resp), nil
}

// ShortestPath returns the node names along the shortest path between a and
// b, bounded by maxDepth (clamped to 10).
func (c *Client) ShortestPath(ctx context.Context, a, b string, maxDepth int) ([]string, error) {
	if maxDepth <= 0 || maxDepth > 10 {
		maxDepth = 10
	}
	cypher := fmt.Sprintf(
		`MATCH p=shortestPath((x:Entity {name:$a})-[*..%d]-(y:Entity {name:$b})) RETURN [n IN nodes(p) | n.name] AS names`, maxDepth)
	resp, err := c.query(ctx, 2*time.Second, cypher, map[string]any{"a": a, "b": b})
	if err != nil {
		return nil, err
	}
	if len(resp.Rows) == 0 || len(resp.Rows[0]) == 0 {
		return nil, nil
	}
	if names, ok := resp.Rows[0][0].([]any); ok {
		out := make([]string, 0, len(names))
		for _, n := range names {
			if s, ok := n.(string); ok {
				out = append(out, s)
			}
		}
		return out, nil
	}
	return nil, nil
}

// Timeline returns up to limit (clamped to 100) edges touching name, ordered
// by recency.
func (c *Client) Timeline(ctx context.Context, name string, limit int) ([]map[string]any, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	cypher := `MATCH (a:Entity {name:$name})-[r]-(b) RETURN type(r) AS rel, b.name AS peer, r.since AS since ORDER BY r.since DESC LIMIT $limit`
	resp, err := c.query(ctx, 2*time.Second, cypher, map[string]any{"name": name, "limit": limit})
	if err != nil {
		return nil, err
	}
	return rowsAsMaps(resp), nil
}

// TemporalQuery filters edges touching name by since <= asOf.
func (c *Client) TemporalQuery(ctx context.Context, name string, asOf time.Time) ([]map[string]any, error) {
	cypher := `MATCH (a:Entity {name:$name})-[r]-(b) WHERE r.since <= $asOf RETURN type(r) AS rel, b.name AS peer, r.since AS since`
	resp, err := c.query(ctx, 2*time.Second, cypher, map[string]any{"name": name, "asOf": asOf})
	if err != nil {
		return nil, err
	}
	return rowsAsMaps(resp), nil
}

// IngestMemory adds a Memory node, MENTIONS edges to each entity, and a
// CREATED_BY edge to the owning agent.
func (c *Client) IngestMemory(ctx context.Context, id, text string, entities []string, agentID string, eventTime *time.Time) error {
	now := time.Now().UTC()
	params := map[string]any{"id": id, "text": text, "agentId": agentID, "ingestedAt": now}
	if eventTime != nil {
		params["eventTime"] = *eventTime
	}
	cypher := `MERGE (m:Memory {id:$id}) SET m.text=$text, m.ingested_at=$ingestedAt`
	if eventTime != nil {
		cypher += `, m.event_time=$eventTime`
	}
	if _, err := c.query(ctx, 2*time.Second, cypher, params); err != nil {
		return err
	}
	for _, e := range entities {
		if _, err := c.query(ctx, 2*time.Second,
			`MERGE (e:Entity {name:$name}) MERGE (m:Memory {id:$id})-[:MENTIONS]->(e)`,
			map[string]any{"name": e, "id": id}); err != nil {
			return err
		}
	}
	if agentID != "" {
		if _, err := c.query(ctx, 2*time.Second,
			`MERGE (ag:Agent {name:$agentId}) MERGE (m:Memory {id:$id})-[:CREATED_BY]->(ag)`,
			map[string]any{"agentId": agentID, "id": id}); err != nil {
			return err
		}
	}
	return nil
}

// MentioningMemories returns memory ids that MENTION the given entity.
func (c *Client) MentioningMemories(ctx context.Context, entity string, limit int) ([]string, error) {
	cypher := `MATCH (m:Memory)-[:MENTIONS]->(e:Entity {name:$name}) RETURN m.id LIMIT $limit`
	resp, err := c.query(ctx, defaultTimeout, cypher, map[string]any{"name": entity, "limit": limit})
	if err != nil {
		return nil, err
	}
	return firstColumnStrings(resp), nil
}

// CoOccurringPairs asks for entity pairs sharing at least `min` common
// Memory nodes, used by the pattern miner's co-occurrence signal.
func (c *Client) CoOccurringPairs(ctx context.Context, min int) ([][2]string, error) {
	cypher := `MATCH (a:Entity)<-[:MENTIONS]-(m:Memory)-[:MENTIONS]->(b:Entity) WHERE a.name < b.name WITH a,b,count(m) AS c WHERE c >= $min RETURN a.name, b.name`
	resp, err := c.query(ctx, 2*time.Second, cypher, map[string]any{"min": min})
	if err != nil {
		return nil, err
	}
	out := make([][2]string, 0, len(resp.Rows))
	for _, row := range resp.Rows {
		if len(row) < 2 {
			continue
		}
		a, _ := row[0].(string)
		b, _ := row[1].(string)
		out = append(out, [2]string{a, b})
	}
	return out, nil
}

func firstColumnStrings(resp queryResponse) []string {
	out := make([]string, 0, len(resp.Rows))
	for _, row := range resp.Rows {
		if len(row) == 0 {
			continue
		}
		if s, ok := row[0].(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func rowsAsMaps(resp queryResponse) []map[string]any {
	out := make([]map[string]any, 0, len(resp.Rows))
	for _, row := range resp.Rows {
		m := make(map[string]any, len(resp.Header))
		for i, h := range resp.Header {
			if i < len(row) {
				m[h] = row[i]
			}
		}
		out = append(out, m)
	}
	return out
}
