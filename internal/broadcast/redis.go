package broadcast

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"engram/internal/memory"
)

// RedisBroadcaster publishes BroadcastMessage values on Redis pub/sub
// channels and dispatches incoming messages from a single subscription
// goroutine per Subscribe call.
type RedisBroadcaster struct {
	client *redis.Client
}

// NewRedis builds a RedisBroadcaster over an already-connected client.
func NewRedis(client *redis.Client) *RedisBroadcaster {
	return &RedisBroadcaster{client: client}
}

// Publish sends msg on channel. Failures are logged, never returned: the bus
// is best-effort.
func (r *RedisBroadcaster) Publish(ctx context.Context, channel string, msg memory.BroadcastMessage) {
	raw, err := encode(msg)
	if err != nil {
		log.Debug().Err(err).Str("component", "broadcast").Msg("encode_failed")
		return
	}
	cctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := r.client.Publish(cctx, channel, raw).Err(); err != nil {
		log.Debug().Err(err).Str("component", "broadcast").Str("channel", channel).Msg("publish_failed")
	}
}

// Subscribe runs handler for every message received on channels until ctx is
// canceled. Malformed payloads are dropped silently.
func (r *RedisBroadcaster) Subscribe(ctx context.Context, channels []string, handler func(channel string, msg memory.BroadcastMessage)) {
	sub := r.client.Subscribe(ctx, channels...)
	ch := sub.Channel()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				msg, ok := decode([]byte(m.Payload))
				if !ok {
					continue
				}
				handler(m.Channel, msg)
			}
		}
	}()
}

// Close closes the underlying Redis client.
func (r *RedisBroadcaster) Close() error {
	return r.client.Close()
}
