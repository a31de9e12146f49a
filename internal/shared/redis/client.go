package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/mrmushfiq/widget-api-gateway/internal/shared/models"
)

// windowTTL keeps a rate-limit window alive past its minute so late
// increments still land on the same key.
const windowTTL = 2 * time.Minute

// fixedWindowScript increments KEYS[1] only while it is below ARGV[1].
// Returns {admitted, count}.
var fixedWindowScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[1])
if current >= limit then
	return {0, current}
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {1, current}
`)

type Client struct {
	client *redis.Client
}

// New creates a new Redis client
func New(ctx context.Context, redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("Redis ping failed: %w", err)
	}

	return &Client{client: client}, nil
}

// NewWithClient wraps an existing go-redis client
func NewWithClient(client *redis.Client) *Client {
	return &Client{client: client}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// Ping checks connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// IncrementWindow atomically admits one request into the (service, user,
// window) counter unless it already reached limit. Rejections do not
// increment the counter.
func (c *Client) IncrementWindow(ctx context.Context, serviceName, userID string, windowStart time.Time, limit int) (int, bool, error) {
	key := joinKey("ratelimit", serviceName, userID, strconv.FormatInt(windowStart.Unix(), 10))

	result, err := fixedWindowScript.Run(ctx, c.client, []string{key}, limit, windowTTL.Milliseconds()).Result()
	if err != nil {
		return 0, false, fmt.Errorf("rate limit script failed: %w", err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		return 0, false, fmt.Errorf("unexpected rate limit script result: %v", result)
	}
	admitted, _ := values[0].(int64)
	count, _ := values[1].(int64)

	return int(count), admitted == 1, nil
}

// cachedPayload is the stored form of a cache entry
type cachedPayload struct {
	Data      []byte    `json:"data"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func cacheKey(userID, serviceName, key string) string {
	return joinKey("cache", serviceName, userID, key)
}

// joinKey length-prefixes each part, so a ':' inside a user or service
// name cannot make two different tuples share a key.
func joinKey(prefix string, parts ...string) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, p := range parts {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(len(p)))
		b.WriteByte(':')
		b.WriteString(p)
	}
	return b.String()
}

// GetCacheEntry returns the live entry for the key, or nil, nil on a miss.
// Expiry is checked against now in addition to the Redis TTL.
func (c *Client) GetCacheEntry(ctx context.Context, userID, serviceName, key string, now time.Time) (*models.CacheEntry, error) {
	val, err := c.client.Get(ctx, cacheKey(userID, serviceName, key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var payload cachedPayload
	if err := json.Unmarshal(val, &payload); err != nil {
		return nil, fmt.Errorf("failed to deserialize cached response: %w", err)
	}

	if !payload.ExpiresAt.After(now) {
		return nil, nil
	}

	return &models.CacheEntry{
		UserID:      userID,
		ServiceName: serviceName,
		CacheKey:    key,
		Data:        payload.Data,
		ExpiresAt:   payload.ExpiresAt,
		CreatedAt:   payload.CreatedAt,
	}, nil
}

// UpsertCacheEntry stores the entry, overwriting any previous value for the key
func (c *Client) UpsertCacheEntry(ctx context.Context, entry *models.CacheEntry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	ttl := entry.ExpiresAt.Sub(createdAt)
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(cachedPayload{
		Data:      entry.Data,
		ExpiresAt: entry.ExpiresAt,
		CreatedAt: createdAt,
	})
	if err != nil {
		return fmt.Errorf("failed to serialize response: %w", err)
	}

	return c.client.Set(ctx, cacheKey(entry.UserID, entry.ServiceName, entry.CacheKey), data, ttl).Err()
}
