package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"time"

	"github.com/mrmushfiq/widget-api-gateway/internal/shared/clock"
	"github.com/mrmushfiq/widget-api-gateway/internal/shared/models"
)

// Store persists cache entries. GetCacheEntry returns nil, nil when the
// entry is absent or expired at now; UpsertCacheEntry overwrites.
type Store interface {
	GetCacheEntry(ctx context.Context, userID, serviceName, cacheKey string, now time.Time) (*models.CacheEntry, error)
	UpsertCacheEntry(ctx context.Context, entry *models.CacheEntry) error
}

type Cache struct {
	store   Store
	clock   clock.Clock
	timeout time.Duration
}

// New creates a new cache instance. timeout bounds each store call; zero
// disables it.
func New(store Store, clk clock.Clock, timeout time.Duration) *Cache {
	if clk == nil {
		clk = clock.System{}
	}
	return &Cache{store: store, clock: clk, timeout: timeout}
}

// Key derives the cache key for an endpoint and its parameters. Parameters
// are encoded in sorted key order, so maps with the same contents always
// produce the same key.
func Key(endpoint string, params map[string]string) string {
	values := make(url.Values, len(params))
	for k, v := range params {
		values.Set(k, v)
	}

	hash := sha256.Sum256([]byte(endpoint + "?" + values.Encode()))
	return hex.EncodeToString(hash[:])
}

// Get returns the cached payload and true on a hit
func (c *Cache) Get(ctx context.Context, userID, serviceName, key string) ([]byte, bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	entry, err := c.store.GetCacheEntry(ctx, userID, serviceName, key, c.clock.Now())
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup failed: %w", err)
	}
	if entry == nil {
		return nil, false, nil
	}

	return entry.Data, true, nil
}

// Put stores payload until now+ttl. A non-positive ttl disables caching.
func (c *Cache) Put(ctx context.Context, userID, serviceName, key string, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	now := c.clock.Now()
	err := c.store.UpsertCacheEntry(ctx, &models.CacheEntry{
		UserID:      userID,
		ServiceName: serviceName,
		CacheKey:    key,
		Data:        payload,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
	})
	if err != nil {
		return fmt.Errorf("cache store failed: %w", err)
	}

	return nil
}

func (c *Cache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}
