package reference

import (
	"context"
	"cssbattle-eval/internal/pixel"
	"fmt"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheTimeout bounds a shared load once no caller is tied to it.
const DefaultCacheTimeout = 30 * time.Second

// Cache memoizes a Source. Concurrent loads of the same key share one fetch;
// failures are not cached. At most size buffers are retained.
//
// The shared fetch does not inherit any caller's cancellation: a caller that
// gives up only stops waiting, the others still get the buffer.
type Cache struct {
	source  Source
	Timeout time.Duration

	group singleflight.Group

	mu      sync.Mutex
	entries *lru.Cache
}

func NewCache(source Source, size int) *Cache {
	if size <= 0 {
		size = 1
	}
	return &Cache{
		source:  source,
		Timeout: DefaultCacheTimeout,
		entries: lru.New(size),
	}
}

func (c *Cache) Load(ctx context.Context, locator string, width int, height int) (*pixel.Buffer, error) {
	key := fmt.Sprintf("%dx%d:%s", width, height, locator)

	if buffer, ok := c.lookup(key); ok {
		return buffer, nil
	}

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		if buffer, ok := c.lookup(key); ok {
			return buffer, nil
		}

		loadCtx, cancel := context.WithTimeout(shared, c.timeout())
		defer cancel()

		buffer, err := c.source.Load(loadCtx, locator, width, height)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries.Add(key, buffer)
		c.mu.Unlock()

		return buffer, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*pixel.Buffer), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultCacheTimeout
}

// Len returns the number of cached buffers.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

func (c *Cache) lookup(key string) (*pixel.Buffer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	return v.(*pixel.Buffer), true
}
