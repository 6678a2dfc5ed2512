package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yassinshaher1/CCB/internal/core/domain"
)

// MemoryClaims is the single-process counterpart of the Redis claim keys.
type MemoryClaims struct {
	mu     sync.Mutex
	claims map[string]time.Time
	now    func() time.Time
}

func NewMemoryClaims() *MemoryClaims {
	return &MemoryClaims{
		claims: make(map[string]time.Time),
		now:    time.Now,
	}
}

func (c *MemoryClaims) Claim(ctx context.Context, orderID string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if ttl <= 0 {
		ttl = defaultClaimTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if exp, ok := c.claims[orderID]; ok && now.Before(exp) {
		return false, nil
	}
	c.claims[orderID] = now.Add(ttl)
	return true, nil
}

func (c *MemoryClaims) Release(_ context.Context, orderID string) error {
	c.mu.Lock()
	delete(c.claims, orderID)
	c.mu.Unlock()
	return nil
}

// MemoryCatalog is a fixed product table for tests and local runs.
type MemoryCatalog struct {
	mu       sync.RWMutex
	products map[string]domain.Product
}

func NewMemoryCatalog(products ...domain.Product) *MemoryCatalog {
	c := &MemoryCatalog{products: make(map[string]domain.Product, len(products))}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (c *MemoryCatalog) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.products[id]
	if !ok {
		return domain.Product{}, fmt.Errorf("product %s: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

func (c *MemoryCatalog) PutProduct(_ context.Context, p domain.Product) error {
	c.mu.Lock()
	c.products[p.ID] = p
	c.mu.Unlock()
	return nil
}
