package broadcast

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	kafka "github.com/segmentio/kafka-go"

	"engram/internal/memory"
)

// KafkaBroadcaster maps the engine's fixed channel names onto Kafka topics
// 1:1, for deployments that already run a Kafka cluster instead of Redis.
type KafkaBroadcaster struct {
	brokers []string

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

// NewKafka builds a KafkaBroadcaster over a comma-separated broker list.
func NewKafka(brokerList string) *KafkaBroadcaster {
	return &KafkaBroadcaster{
		brokers: strings.Split(brokerList, ","),
		writers: make(map[string]*kafka.Writer),
	}
}

func (k *KafkaBroadcaster) writerFor(topic string) *kafka.Writer {
	k.mu.Lock()
	defer k.mu.Unlock()
	if w, ok := k.writers[topic]; ok {
		return w
	}
	w := &kafka.Writer{
		Addr:     kafka.TCP(k.brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	k.writers[topic] = w
	return w
}

// Publish sends msg on the topic matching channel.
func (k *KafkaBroadcaster) Publish(ctx context.Context, channel string, msg memory.BroadcastMessage) {
	raw, err := encode(msg)
	if err != nil {
		log.Debug().Err(err).Str("component", "broadcast").Msg("encode_failed")
		return
	}
	cctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	w := k.writerFor(channel)
	if err := w.WriteMessages(cctx, kafka.Message{Key: []byte(msg.MemoryID), Value: raw}); err != nil {
		log.Debug().Err(err).Str("component", "broadcast").Str("topic", channel).Msg("publish_failed")
	}
}

// Subscribe runs handler for every message consumed from channels' matching
// topics until ctx is canceled, one reader goroutine per topic.
func (k *KafkaBroadcaster) Subscribe(ctx context.Context, channels []string, handler func(channel string, msg memory.BroadcastMessage)) {
	for _, topic := range channels {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers: k.brokers,
			Topic:   topic,
			GroupID: "engram-" + topic,
		})
		go func(topic string, r *kafka.Reader) {
			defer r.Close()
			for {
				m, err := r.ReadMessage(ctx)
				if err != nil {
					return
				}
				msg, ok := decode(m.Value)
				if !ok {
					continue
				}
				handler(topic, msg)
			}
		}(topic, reader)
	}
}

// Close closes every open writer.
func (k *KafkaBroadcaster) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	var firstErr error
	for _, w := range k.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
