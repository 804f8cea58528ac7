package sudreg

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/crospyder/ocr-core/internal/core/domain"
	"github.com/crospyder/ocr-core/internal/core/ports"
)

type cacheEntry struct {
	company *domain.RegistryCompany
	err     error
	expires time.Time
}

// CachedRegistry remembers lookups for a TTL. Misses are cached as well so a
// batch full of the same unknown OIB hits the register once. Temporary
// failures are never cached. Concurrent lookups of one OIB share a single
// upstream call.
type CachedRegistry struct {
	next ports.CompanyRegistry
	ttl  time.Duration
	now  func() time.Time

	group   singleflight.Group
	mu      sync.Mutex
	entries map[string]cacheEntry
}

func NewCachedRegistry(next ports.CompanyRegistry, ttl time.Duration) *CachedRegistry {
	return &CachedRegistry{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *CachedRegistry) LookupByTaxID(ctx context.Context, taxID string) (*domain.RegistryCompany, error) {
	if c.ttl <= 0 {
		return c.next.LookupByTaxID(ctx, taxID)
	}
	if entry, ok := c.cached(taxID); ok {
		return copyCompany(entry.company), entry.err
	}

	v, err, _ := c.group.Do(taxID, func() (any, error) {
		if entry, ok := c.cached(taxID); ok {
			return entry.company, entry.err
		}
		company, err := c.next.LookupByTaxID(ctx, taxID)
		if err != nil && !domain.IsKind(err, domain.ErrCounterPartyNotFound) {
			return nil, err
		}
		c.mu.Lock()
		c.entries[taxID] = cacheEntry{company: copyCompany(company), err: err, expires: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return company, err
	})
	company, _ := v.(*domain.RegistryCompany)
	return copyCompany(company), err
}

func (c *CachedRegistry) cached(taxID string) (cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[taxID]
	if ok && c.now().After(entry.expires) {
		delete(c.entries, taxID)
		return cacheEntry{}, false
	}
	return entry, ok
}

func copyCompany(c *domain.RegistryCompany) *domain.RegistryCompany {
	if c == nil {
		return nil
	}
	out := *c
	return &out
}
