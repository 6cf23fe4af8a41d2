// Package sharedblock implements named, versioned cross-agent working-memory
// cells backed by the vector store.
package sharedblock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"engram/internal/memory"
	"engram/internal/vectorstore"
)

// ID returns the deterministic point id for block name: the first 32 hex
// characters of SHA-256("shared_block:<name>"), formatted as a UUID.
func ID(name string) string {
	sum := sha256.Sum256([]byte("shared_block:" + name))
	hexStr := hex.EncodeToString(sum[:16])
	return fmt.Sprintf("%s-%s-%s-%s-%s", hexStr[0:8], hexStr[8:12], hexStr[12:16], hexStr[16:20], hexStr[20:32])
}

// Manager reads and writes shared blocks in the shared partition.
type Manager struct {
	vs        *vectorstore.Client
	partition string
}

// New builds a Manager over the given shared-collection name.
func New(vs *vectorstore.Client, partition string) *Manager {
	return &Manager{vs: vs, partition: partition}
}

// Get scrolls the shared partition for the named block, returning ok=false
// when it doesn't exist.
func (m *Manager) Get(ctx context.Context, name string) (*memory.SharedBlock, bool, error) {
	points, _, err := m.vs.Scroll(ctx, m.partition, 1, nil, vectorstore.Filters{
		"block_name": name, "scope": "shared_block",
	})
	if err != nil {
		return nil, false, err
	}
	if len(points) == 0 {
		return nil, false, nil
	}
	return blockFromPayload(points[0].Payload), true, nil
}

// Set writes a new version of the named block, computing its deterministic
// id and incrementing the version read from any existing record (I5).
func (m *Manager) Set(ctx context.Context, name, content string, embedding []float32, writer string, metadata map[string]any) (*memory.SharedBlock, error) {
	existing, _, err := m.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	version := 1
	if existing != nil {
		version = existing.Version + 1
	}
	now := time.Now().UTC()
	id := ID(name)

	payload := map[string]any{
		"block_name":    name,
		"block_version": version,
		"last_writer":   writer,
		"text":          content,
		"memory_type":   string(memory.TypeCore),
		"classification": string(memory.ClassPublic),
		"scope":         "shared_block",
		"confidence":    1.0,
		"priority":      0.9,
		"importance":    0.9,
		"access_count":  version,
		"created_at":    now,
		"updated_at":    now,
		"deleted":       false,
	}
	for k, v := range metadata {
		payload[k] = v
	}
	if err := m.vs.Upsert(ctx, m.partition, id, embedding, payload); err != nil {
		return nil, err
	}
	return &memory.SharedBlock{
		Name: name, Content: content, Version: version,
		LastWriter: writer, CreatedAt: now, UpdatedAt: now,
	}, nil
}

// Delete soft-deletes the named block.
func (m *Manager) Delete(ctx context.Context, name string) error {
	return m.vs.SoftDelete(ctx, m.partition, ID(name))
}

// List scrolls up to 100 shared blocks.
func (m *Manager) List(ctx context.Context) ([]*memory.SharedBlock, error) {
	points, _, err := m.vs.Scroll(ctx, m.partition, 100, nil, vectorstore.Filters{"scope": "shared_block"})
	if err != nil {
		return nil, err
	}
	out := make([]*memory.SharedBlock, 0, len(points))
	for _, p := range points {
		out = append(out, blockFromPayload(p.Payload))
	}
	return out, nil
}

func blockFromPayload(p map[string]any) *memory.SharedBlock {
	b := &memory.SharedBlock{}
	if v, ok := p["block_name"].(string); ok {
		b.Name = v
	}
	if v, ok := p["text"].(string); ok {
		b.Content = v
	}
	if v, ok := p["block_version"].(float64); ok {
		b.Version = int(v)
	}
	if v, ok := p["last_writer"].(string); ok {
		b.LastWriter = v
	}
	return b
}
