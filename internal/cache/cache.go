// Package cache implements the layered retrieval cache: an L1
// in-process LRU backed by an L2 Redis tier, with a single owner goroutine
// draining invalidation requests.
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	l1Capacity = 50
	l1TTL      = 5 * time.Minute
	l2TTL      = time.Hour
	l2Prefix   = "engram:cache:"
)

// Key builds the canonical cache key for a query.
func Key(query string, limit int, minScore float64) string {
	norm := strings.ToLower(strings.TrimSpace(query))
	return fmt.Sprintf("%s|%d|%.4f", norm, limit, minScore)
}

type l1Entry struct {
	key       string
	value     []byte
	expiresAt time.Time
	elem      *list.Element
}

// Cache is the layered cache. A single owner goroutine processes
// invalidation jobs off invalidateCh; no lock is exposed to callers.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*l1Entry
	order   *list.List

	redis *redis.Client // nil disables L2

	invalidateCh chan struct{}
	stopCh       chan struct{}
}

// New builds a Cache. rdb may be nil, in which case only L1 is used.
func New(rdb *redis.Client) *Cache {
	c := &Cache{
		entries:      make(map[string]*l1Entry),
		order:        list.New(),
		redis:        rdb,
		invalidateCh: make(chan struct{}, 16),
		stopCh:       make(chan struct{}),
	}
	go c.ownerLoop()
	return c
}

func (c *Cache) ownerLoop() {
	for {
		select {
		case <-c.invalidateCh:
			c.flushL1()
		case <-c.stopCh:
			return
		}
	}
}

// Close stops the owner goroutine.
func (c *Cache) Close() {
	close(c.stopCh)
}

// Get looks up key in L1, then L2, promoting an L2 hit into L1.
func (c *Cache) Get(ctx context.Context, key string, out any) bool {
	if raw, ok := c.getL1(key); ok {
		return json.Unmarshal(raw, out) == nil
	}
	if c.redis == nil {
		return false
	}
	raw, err := c.redis.Get(ctx, l2Prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Msg("cache_l2_get_failed")
		}
		return false
	}
	c.setL1(key, raw)
	return json.Unmarshal(raw, out) == nil
}

// Set writes through to both tiers.
func (c *Cache) Set(ctx context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.setL1(key, raw)
	if c.redis == nil {
		return
	}
	if err := c.redis.Set(ctx, l2Prefix+key, raw, l2TTL).Err(); err != nil {
		log.Debug().Err(err).Msg("cache_l2_set_failed")
	}
}

// InvalidateAll queues a flush of the whole L1 tier for the owner goroutine
// and returns without waiting for it; it never maps memory-id to query-key.
// L2 entries are not touched and expire by their TTL.
func (c *Cache) InvalidateAll() {
	select {
	case c.invalidateCh <- struct{}{}:
	default:
		// owner already has a pending flush queued; coalesce.
	}
}

func (c *Cache) getL1(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.order.Remove(e.elem)
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

func (c *Cache) setL1(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expiresAt = time.Now().Add(l1TTL)
		return
	}
	if len(c.entries) >= l1Capacity {
		oldest := c.order.Front()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(string))
		}
	}
	elem := c.order.PushBack(key)
	c.entries[key] = &l1Entry{key: key, value: value, expiresAt: time.Now().Add(l1TTL), elem: elem}
}

func (c *Cache) flushL1() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*l1Entry)
	c.order.Init()
}
