// Package linker implements the auto-linker: after a cell is stored,
// discover its top-k similar peers in the same partition and form
// bidirectional links.
package linker

import (
	"context"
	"sort"

	"github.com/rs/zerolog/log"

	"engram/internal/vectorstore"
)

const (
	// DefaultThreshold is the minimum similarity a peer must have to be linked.
	DefaultThreshold = 0.70
	// DefaultK is the maximum number of peers linked per new cell.
	DefaultK = 5
)

// Link finds peers of the new cell, patches each peer's linked-memories to
// include newID, and returns the new cell's link list for the caller to
// persist. Peer-patch failures are non-fatal and only logged; they are not
// recorded, and no later pass retries them.
func Link(ctx context.Context, vs *vectorstore.Client, partition, newID string, newVector []float32, existingLinks []string, threshold float64, k int) []string {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if k <= 0 {
		k = DefaultK
	}

	points, err := vs.Search(ctx, partition, newVector, k+1, 0, vectorstore.Filters{})
	if err != nil {
		log.Debug().Err(err).Str("component", "linker").Msg("peer_search_failed")
		return existingLinks
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Score > points[j].Score })

	peers := make([]string, 0, k)
	for _, p := range points {
		if p.ID == newID {
			continue
		}
		if p.Score < threshold {
			continue
		}
		peers = append(peers, p.ID)
		if len(peers) >= k {
			break
		}
	}
	if len(peers) == 0 {
		return existingLinks
	}

	linked := unionLinks(existingLinks, peers)

	for _, peerID := range peers {
		if err := addPeerLink(ctx, vs, partition, peerID, newID); err != nil {
			log.Debug().Err(err).Str("component", "linker").Str("peer", peerID).Msg("peer_patch_failed")
		}
	}
	return linked
}

func addPeerLink(ctx context.Context, vs *vectorstore.Client, partition, peerID, newID string) error {
	peer, err := vs.Get(ctx, partition, peerID)
	if err != nil {
		return err
	}
	existing := stringSliceFromAny(peer.Payload["linked_memories"])
	updated := unionLinks(existing, []string{newID})
	if len(updated) == len(existing) {
		return nil // idempotent: already linked
	}
	return vs.Patch(ctx, partition, peerID, map[string]any{"linked_memories": updated})
}

func unionLinks(existing []string, add []string) []string {
	seen := make(map[string]bool, len(existing)+len(add))
	out := make([]string, 0, len(existing)+len(add))
	for _, id := range existing {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range add {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func stringSliceFromAny(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
