package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/microservices-demo/orders/pkg/logger"
	"github.com/microservices-demo/orders/pkg/metric"
)

const (
	_reasonCapacity = "capacity"
	_reasonExpired  = "expired"
	_reasonDeleted  = "deleted"
)

var _ Cache[string, int] = (*LRUCache[string, int])(nil)

type LRUCache[K comparable, V any] struct {
	name     string
	capacity int
	log      logger.Logger
	metrics  metric.Cache

	mu      sync.Mutex
	entries map[K]*list.Element
	order   *list.List

	cleanupStop chan struct{}
}

type entry[K comparable, V any] struct {
	key     K
	value   V
	expires time.Time
}

func (e *entry[K, V]) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// NewLRUCache returns a cache holding at most capacity entries. The name is
// used as the metric label and in log lines.
func NewLRUCache[K comparable, V any](
	name string,
	capacity int,
	log logger.Logger,
	metrics metric.Cache,
) (*LRUCache[K, V], error) {
	const op = "cache.NewLRUCache"

	if capacity <= 0 {
		return nil, fmt.Errorf("%s: capacity must be positive, got %d", op, capacity)
	}
	if name == "" {
		return nil, fmt.Errorf("%s: name is required", op)
	}

	return &LRUCache[K, V]{
		name:     name,
		capacity: capacity,
		log:      log,
		metrics:  metrics,
		entries:  make(map[K]*list.Element, capacity),
		order:    list.New(),
	}, nil
}

func (c *LRUCache[K, V]) Get(key K) (V, bool) {
	var zero V

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.metrics.Miss(c.name)
		return zero, false
	}

	e := elem.Value.(*entry[K, V])
	if e.expired(time.Now()) {
		c.remove(elem, _reasonExpired)
		c.metrics.Miss(c.name)
		return zero, false
	}

	c.order.MoveToFront(elem)
	c.metrics.Hit(c.name)
	return e.value, true
}

// Put stores value under key. A non-positive ttl keeps the entry until it is
// pushed out by capacity.
func (c *LRUCache[K, V]) Put(key K, value V, ttl time.Duration) {
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		e := elem.Value.(*entry[K, V])
		e.value = value
		e.expires = expires
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.remove(oldest, _reasonCapacity)
		}
	}

	c.entries[key] = c.order.PushFront(&entry[K, V]{key: key, value: value, expires: expires})
	c.metrics.Size(c.name, c.order.Len())
}

func (c *LRUCache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return false
	}
	c.remove(elem, _reasonDeleted)
	return true
}

func (c *LRUCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *LRUCache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	clear(c.entries)
	c.metrics.Size(c.name, 0)
}

// StartCleanup sweeps expired entries every interval until StopCleanup is
// called. Calling it again restarts the sweeper with the new interval.
func (c *LRUCache[K, V]) StartCleanup(interval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cleanupStop != nil {
		close(c.cleanupStop)
	}
	stop := make(chan struct{})
	c.cleanupStop = stop

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.sweep()
			case <-stop:
				return
			}
		}
	}()
}

func (c *LRUCache[K, V]) StopCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cleanupStop != nil {
		close(c.cleanupStop)
		c.cleanupStop = nil
	}
}

func (c *LRUCache[K, V]) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if elem.Value.(*entry[K, V]).expired(now) {
			c.remove(elem, _reasonExpired)
			removed++
		}
		elem = prev
	}

	if removed > 0 {
		c.log.LogAttrs(context.Background(), logger.DebugLevel, "cache sweep",
			logger.String("cache", c.name),
			logger.Int("removed", removed),
			logger.Int("remaining", c.order.Len()),
		)
	}
}

// remove must be called with mu held.
func (c *LRUCache[K, V]) remove(elem *list.Element, reason string) {
	e := c.order.Remove(elem).(*entry[K, V])
	delete(c.entries, e.key)
	c.metrics.Eviction(c.name, reason)
	c.metrics.Size(c.name, c.order.Len())
}
