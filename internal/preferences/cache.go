package preferences

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Cache keeps preferences in Redis so every update does not hit Postgres.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache returns a cache; a nil client turns it into a no-op.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) Get(ctx context.Context, telegramID int64) (*Preferences, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}

	data, err := c.client.Get(ctx, cacheKey(telegramID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cached preferences: %w", err)
	}

	var p Preferences
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode cached preferences: %w", err)
	}
	return &p, nil
}

func (c *Cache) Set(ctx context.Context, p *Preferences) error {
	if c == nil || c.client == nil || p == nil {
		return nil
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode preferences for cache: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(p.TelegramID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached preferences: %w", err)
	}
	return nil
}

func (c *Cache) Invalidate(ctx context.Context, telegramID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, cacheKey(telegramID)).Err(); err != nil {
		return fmt.Errorf("delete cached preferences: %w", err)
	}
	return nil
}

func cacheKey(telegramID int64) string {
	return fmt.Sprintf("bot:prefs:%d", telegramID)
}
