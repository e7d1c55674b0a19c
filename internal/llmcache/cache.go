// Package llmcache implements the content-addressed, size-bounded
// Model-Call Cache sitting in front of the Rate-Limited Model Client.
package llmcache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"litqa/internal/llmclient"
)

type entry struct {
	resp      llmclient.Response
	expiresAt time.Time
}

// Cache is a TTL + size-bounded LRU implementing llmclient.Cache.
// GetOrCompute collapses concurrent misses for the same key via
// singleflight. Get and Put, the methods llmclient.Client calls, do not
// collapse anything: concurrent identical misses through the Client each
// reach the upstream model.
type Cache struct {
	lru *lru.Cache[string, entry]
	ttl time.Duration
	sf  singleflight.Group
}

// New builds a Cache holding up to maxEntries, each with the given TTL.
func New(maxEntries int, ttl time.Duration) (*Cache, error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	backing, err := lru.New[string, entry](maxEntries)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: backing, ttl: ttl}, nil
}

// Get implements llmclient.Cache.
func (c *Cache) Get(ctx context.Context, key string) (llmclient.Response, bool) {
	e, ok := c.lru.Get(key)
	if !ok {
		return llmclient.Response{}, false
	}
	if time.Now().After(e.expiresAt) {
		c.lru.Remove(key)
		return llmclient.Response{}, false
	}
	return e.resp, true
}

// Put implements llmclient.Cache.
func (c *Cache) Put(ctx context.Context, key string, resp llmclient.Response) {
	c.lru.Add(key, entry{resp: resp, expiresAt: time.Now().Add(c.ttl)})
}

// GetOrCompute collapses concurrent misses for the same key: only one
// caller actually invokes compute, and every concurrent caller for that key
// receives its result.
func (c *Cache) GetOrCompute(ctx context.Context, key string, compute func() (llmclient.Response, error)) (llmclient.Response, error) {
	if resp, ok := c.Get(ctx, key); ok {
		return resp, nil
	}
	v, err, _ := c.sf.Do(key, func() (any, error) {
		resp, err := compute()
		if err != nil {
			return llmclient.Response{}, err
		}
		c.Put(ctx, key, resp)
		return resp, nil
	})
	if err != nil {
		return llmclient.Response{}, err
	}
	return v.(llmclient.Response), nil
}

// Len reports the current number of cached entries, for metrics and tests.
func (c *Cache) Len() int {
	return c.lru.Len()
}
