package infra

import (
	"context"
	"sync"
	"time"

	"send-governor/governance/domain"
)

// MemoryEntitlementCache é o cache em processo de snapshots de entitlements.
// É consultivo: staleness de no máximo um TTL é aceitável, e Delete é chamado
// explicitamente pelo Resolver (e pelo RedisInvalidationBus nas outras réplicas).
type MemoryEntitlementCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[domain.Subject]cacheEntry
}

type cacheEntry struct {
	snap      domain.Entitlements
	expiresAt time.Time
}

type MemoryCacheOption func(*MemoryEntitlementCache)

// WithCacheClock troca o relógio (útil em testes de expiração).
func WithCacheClock(now func() time.Time) MemoryCacheOption {
	return func(c *MemoryEntitlementCache) { c.now = now }
}

func NewMemoryEntitlementCache(ttl time.Duration, opts ...MemoryCacheOption) *MemoryEntitlementCache {
	c := &MemoryEntitlementCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[domain.Subject]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *MemoryEntitlementCache) Get(_ context.Context, subject domain.Subject) (domain.Entitlements, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.entries[subject]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(ent.expiresAt) {
		delete(c.entries, subject)
		return nil, false, nil
	}
	return ent.snap.Clone(), true, nil
}

func (c *MemoryEntitlementCache) Set(_ context.Context, subject domain.Subject, e domain.Entitlements) error {
	if c.ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[subject] = cacheEntry{snap: e.Clone(), expiresAt: c.now().Add(c.ttl)}
	return nil
}

func (c *MemoryEntitlementCache) Delete(_ context.Context, subject domain.Subject) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, subject)
	return nil
}

// Purge remove as entradas expiradas e devolve quantas saíram.
func (c *MemoryEntitlementCache) Purge() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, ent := range c.entries {
		if !now.Before(ent.expiresAt) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}
