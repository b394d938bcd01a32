package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultUpdateTTL covers Telegram's redelivery window after a restart.
const DefaultUpdateTTL = 10 * time.Minute

// UpdateFilter remembers processed Telegram update ids.
type UpdateFilter struct {
	client *redis.Client
	ttl    time.Duration
}

func NewUpdateFilter(client *redis.Client, ttl time.Duration) *UpdateFilter {
	if ttl <= 0 {
		ttl = DefaultUpdateTTL
	}
	return &UpdateFilter{client: client, ttl: ttl}
}

// First reports whether updateID is seen for the first time.
func (f *UpdateFilter) First(ctx context.Context, updateID int) (bool, error) {
	return f.client.SetNX(ctx, fmt.Sprintf("bot:update:%d", updateID), 1, f.ttl).Result()
}
