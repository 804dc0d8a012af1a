package cache_test

import (
	"sync"
	"testing"
	"time"

	"github.com/microservices-demo/orders/pkg/cache"
	"github.com/microservices-demo/orders/pkg/logger"
	"github.com/microservices-demo/orders/pkg/metric"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cacheOp struct {
	op    string
	key   int
	value string
	ttl   time.Duration
}

func newCache(t *testing.T, capacity int) *cache.LRUCache[int, string] {
	t.Helper()

	c, err := cache.NewLRUCache[int, string]("test", capacity, logger.NewNop(), metric.NewFactory().Cache())
	require.NoError(t, err)
	return c
}

func TestLRUCache_GetPut(t *testing.T) {
	testCases := []struct {
		desc     string
		capacity int
		ops      []cacheOp
		present  map[int]string
		absent   []int
		len      int
	}{
		{
			desc:     "BasicGetPut",
			capacity: 2,
			ops:      []cacheOp{{"put", 1, "one", 0}, {"put", 2, "two", 0}},
			present:  map[int]string{1: "one", 2: "two"},
			len:      2,
		},
		{
			desc:     "EvictsLeastRecentlyUsed",
			capacity: 2,
			ops: []cacheOp{
				{"put", 1, "one", 0},
				{"put", 2, "two", 0},
				{"get", 1, "", 0},
				{"put", 3, "three", 0},
			},
			present: map[int]string{1: "one", 3: "three"},
			absent:  []int{2},
			len:     2,
		},
		{
			desc:     "UpdateExistingKey",
			capacity: 2,
			ops: []cacheOp{
				{"put", 1, "one", 0},
				{"put", 2, "two", 0},
				{"put", 1, "uno", 0},
			},
			present: map[int]string{1: "uno", 2: "two"},
			len:     2,
		},
		{
			desc:     "DeleteRemovesEntry",
			capacity: 3,
			ops: []cacheOp{
				{"put", 1, "one", 0},
				{"put", 2, "two", 0},
				{"delete", 1, "", 0},
			},
			present: map[int]string{2: "two"},
			absent:  []int{1},
			len:     1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			c := newCache(t, tc.capacity)

			for _, op := range tc.ops {
				switch op.op {
				case "put":
					c.Put(op.key, op.value, op.ttl)
				case "get":
					c.Get(op.key)
				case "delete":
					assert.True(t, c.Delete(op.key))
				}
			}

			for key, want := range tc.present {
				got, ok := c.Get(key)
				assert.True(t, ok, "key %d", key)
				assert.Equal(t, want, got)
			}
			for _, key := range tc.absent {
				_, ok := c.Get(key)
				assert.False(t, ok, "key %d", key)
			}
			assert.Equal(t, tc.len, c.Len())
		})
	}
}

func TestLRUCache_Expiry(t *testing.T) {
	c := newCache(t, 4)

	c.Put(1, "short", 20*time.Millisecond)
	c.Put(2, "forever", 0)

	got, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, "short", got)

	time.Sleep(40 * time.Millisecond)

	_, ok = c.Get(1)
	assert.False(t, ok)

	got, ok = c.Get(2)
	assert.True(t, ok)
	assert.Equal(t, "forever", got)
}

func TestLRUCache_CleanupSweepsExpired(t *testing.T) {
	c := newCache(t, 4)
	c.Put(1, "a", 10*time.Millisecond)
	c.Put(2, "b", 10*time.Millisecond)
	c.Put(3, "c", time.Hour)

	c.StartCleanup(5 * time.Millisecond)
	defer c.StopCleanup()

	assert.Eventually(t, func() bool { return c.Len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestLRUCache_Purge(t *testing.T) {
	c := newCache(t, 4)
	c.Put(1, "a", 0)
	c.Put(2, "b", 0)

	c.Purge()

	assert.Zero(t, c.Len())
	assert.False(t, c.Delete(1))
}

func TestNewLRUCache_Validation(t *testing.T) {
	_, err := cache.NewLRUCache[int, string]("test", 0, logger.NewNop(), metric.NewFactory().Cache())
	require.Error(t, err)

	_, err = cache.NewLRUCache[int, string]("", 1, logger.NewNop(), metric.NewFactory().Cache())
	require.Error(t, err)
}

func TestLRUCache_Concurrent(t *testing.T) {
	c := newCache(t, 64)

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				key := (w*200 + i) % 100
				c.Put(key, "v", time.Minute)
				c.Get(key)
				if i%7 == 0 {
					c.Delete(key)
				}
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 64)
}
