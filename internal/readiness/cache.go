package readiness

import (
	"context"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// #region cache
// Cache memoizes resolutions per skill, scope, tags, manual values and index
// version. Concurrent misses for the same key share one resolution. Callers
// own the cache and drop entries with Invalidate.
type Cache struct {
	resolver *Resolver
	group    singleflight.Group

	mu      sync.RWMutex
	entries map[string]Result
}

func NewCache(r *Resolver) *Cache {
	return &Cache{resolver: r, entries: make(map[string]Result)}
}

// Resolve returns the cached result for req or resolves it.
func (c *Cache) Resolve(ctx context.Context, req Request) (Result, error) {
	key := cacheKey(req, c.resolver.IndexVersion())

	c.mu.RLock()
	res, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return cloneResult(res), nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		res, err := c.resolver.Resolve(ctx, req)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = res
		c.mu.Unlock()
		return res, nil
	})
	if err != nil {
		return Result{}, err
	}
	return cloneResult(v.(Result)), nil
}

// ResolveAll resolves several requests through the cache.
func (c *Cache) ResolveAll(ctx context.Context, reqs []Request) ([]Result, error) {
	return resolveAll(ctx, reqs, c.Resolve)
}

// Invalidate drops the entries of skillID, or every entry when skillID is
// empty.
func (c *Cache) Invalidate(skillID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if skillID == "" {
		c.entries = make(map[string]Result)
		return
	}
	prefix := skillID + "\x00"
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func cacheKey(req Request, version string) string {
	tags := append([]string(nil), req.Tags...)
	sort.Strings(tags)
	manual := make([]string, 0, len(req.Manual))
	for id, v := range req.Manual {
		manual = append(manual, id+"="+v.Text())
	}
	sort.Strings(manual)
	return strings.Join([]string{
		req.Skill.ID,
		req.Scope,
		version,
		strings.Join(tags, ","),
		strings.Join(manual, ","),
	}, "\x00")
}

// #endregion cache
