// Package broadcast implements the pub/sub bus: a Broadcaster
// interface backed by Redis (default) or Kafka, publishing BroadcastMessage
// to the engine's fixed channel/topic taxonomy.
package broadcast

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"engram/internal/memory"
)

const publishTimeout = 2 * time.Second

// Channel names, shared 1:1 between the Redis and Kafka implementations.
const (
	ChanPublic     = "memory:public"
	ChanCritical   = "memory:critical"
	ChanInvalidate = "memory:invalidate"
	ChanConflict   = "memory:conflict"
	ChanAgentStatus = "agent:status"
)

// ChanPrivate returns the per-agent private channel name.
func ChanPrivate(agentID string) string {
	return "memory:private:" + agentID
}

// Broadcaster publishes and subscribes to the fixed channel taxonomy.
// Implementations must swallow their own publish errors; callers treat
// broadcast as best-effort.
type Broadcaster interface {
	Publish(ctx context.Context, channel string, msg memory.BroadcastMessage)
	Subscribe(ctx context.Context, channels []string, handler func(channel string, msg memory.BroadcastMessage))
	Close() error
}

// Dispatch builds a BroadcastMessage and fans it out to every channel its
// scope and type imply: public/private by scope, critical when the
// memory type is core or profile, invalidate for new-memory events, and
// conflict for conflict-resolved events.
func Dispatch(ctx context.Context, b Broadcaster, cell *memory.Cell, event memory.BroadcastEvent) {
	if b == nil || cell == nil {
		return
	}
	preview := cell.Text
	if len(preview) > 160 {
		preview = preview[:160] + "..."
	}
	msg := memory.BroadcastMessage{
		MemoryID:    cell.ID,
		AgentID:     cell.AgentID,
		MemoryType:  cell.Type,
		Scope:       cell.Scope,
		TextPreview: preview,
		Event:       event,
		LinkedCount: len(cell.LinkedMemories),
		Timestamp:   time.Now().UTC(),
	}

	if cell.Scope == memory.ScopePrivate {
		b.Publish(ctx, ChanPrivate(cell.AgentID), msg)
	} else {
		b.Publish(ctx, ChanPublic, msg)
	}
	if cell.Type == memory.TypeCore || cell.Type == memory.TypeProfile {
		b.Publish(ctx, ChanCritical, msg)
	}
	if event == memory.EventNewMemory {
		b.Publish(ctx, ChanInvalidate, msg)
	}
	if event == memory.EventConflictResolved {
		b.Publish(ctx, ChanConflict, msg)
	}
}

func encode(msg memory.BroadcastMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func decode(raw []byte) (memory.BroadcastMessage, bool) {
	var msg memory.BroadcastMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Debug().Err(err).Str("component", "broadcast").Msg("malformed_message_dropped")
		return memory.BroadcastMessage{}, false
	}
	return msg, true
}
