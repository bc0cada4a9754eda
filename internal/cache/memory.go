package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memEntry struct {
	value   []byte
	counter int64
	status  JobStatus
	expires time.Time
}

func (e memEntry) live(now time.Time) bool {
	return e.expires.IsZero() || now.Before(e.expires)
}

// MemoryCache is an in-process Cache for development and tests.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memEntry), now: time.Now}
}

func (c *MemoryCache) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(ttl)
}

func (c *MemoryCache) get(key string) (memEntry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.live(c.now()) {
		delete(c.entries, key)
		return memEntry{}, false
	}
	return e, true
}

func (c *MemoryCache) Ping(context.Context) error { return nil }

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memEntry{value: append([]byte(nil), value...), expires: c.expiry(ttl)}
	return nil
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.get(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *MemoryCache) SetJobStatus(_ context.Context, jobID uuid.UUID, st JobStatus, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := JobStatusKey(jobID)
	if cur, ok := c.get(key); ok && cur.status.Version >= st.Version {
		return nil
	}
	c.entries[key] = memEntry{status: st, expires: c.expiry(ttl)}
	return nil
}

func (c *MemoryCache) GetJobStatus(_ context.Context, jobID uuid.UUID) (JobStatus, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.get(JobStatusKey(jobID))
	if !ok {
		return JobStatus{}, false, nil
	}
	return e.status, true, nil
}

func (c *MemoryCache) DeleteJobStatus(ctx context.Context, jobID uuid.UUID) error {
	return c.Delete(ctx, JobStatusKey(jobID))
}

func (c *MemoryCache) IncrWithExpiry(_ context.Context, key string, expiry time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.get(key)
	if !ok {
		e = memEntry{}
	}
	e.counter++
	e.expires = c.expiry(expiry)
	c.entries[key] = e
	return e.counter, nil
}

var (
	_ Cache = (*MemoryCache)(nil)
	_ Cache = (*RedisCache)(nil)
)
