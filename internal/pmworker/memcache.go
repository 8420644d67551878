package pmworker

import (
	"context"
	"net/http"
	"sort"
	"sync"
)

// MemoryCacheStorage keeps cache stores in process memory.
type MemoryCacheStorage struct {
	mu     sync.Mutex
	stores map[string]*memoryCache
}

func NewMemoryCacheStorage() *MemoryCacheStorage {
	return &MemoryCacheStorage{stores: map[string]*memoryCache{}}
}

func (s *MemoryCacheStorage) Open(_ context.Context, name string) (Cache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.stores[name]
	if !ok {
		c = &memoryCache{entries: map[RequestKey]Entry{}}
		s.stores[name] = c
	}
	return c, nil
}

func (s *MemoryCacheStorage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stores[name]; !ok {
		return false, nil
	}
	delete(s.stores, name)
	return true, nil
}

func (s *MemoryCacheStorage) Names(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.stores))
	for name := range s.stores {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

type memoryCache struct {
	mu      sync.RWMutex
	entries map[RequestKey]Entry
}

func (c *memoryCache) Match(_ context.Context, key RequestKey) (Entry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ent, ok := c.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	return cloneEntry(ent), true, nil
}

func (c *memoryCache) Put(_ context.Context, key RequestKey, ent Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cloneEntry(ent)
	return nil
}

func (c *memoryCache) Keys(_ context.Context) ([]RequestKey, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]RequestKey, 0, len(c.entries))
	for k := range c.entries {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func cloneEntry(ent Entry) Entry {
	out := ent
	out.Header = cloneHeader(ent.Header)
	out.Body = append([]byte(nil), ent.Body...)
	return out
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		vv := make([]string, len(vs))
		copy(vv, vs)
		out[k] = vv
	}
	return out
}
