package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	apperrors "github.com/librimoms/club-bot/internal/errors"
	"github.com/librimoms/club-bot/pkg/metrics"
)

// Guard applies the configured rules for a user.
type Guard struct {
	rules   *Rules
	limiter Limiter
	log     *slog.Logger
	now     func() time.Time
}

func NewGuard(rules *Rules, limiter Limiter, log *slog.Logger) *Guard {
	if log == nil {
		log = slog.Default()
	}
	return &Guard{rules: rules, limiter: limiter, log: log, now: time.Now}
}

// AllowUpdate checks the per-user limit for any incoming update.
func (g *Guard) AllowUpdate(ctx context.Context, userID int64) error {
	if !g.rules.Enabled() || g.rules.IsWhitelisted(userID) {
		return nil
	}

	limit, window, err := g.rules.PerUserLimit()
	if err != nil {
		// An unconfigured rule means no limit.
		return nil
	}
	return g.check(ctx, "update", userKey(userID), limit, window)
}

// AllowAction checks the stricter limit of an expensive action.
func (g *Guard) AllowAction(ctx context.Context, userID int64, action string) error {
	if !g.rules.Enabled() || g.rules.IsWhitelisted(userID) {
		return nil
	}

	limit, window, err := g.rules.ActionLimit(action)
	if err != nil {
		return fmt.Errorf("rate limit %s: %w", action, err)
	}
	return g.check(ctx, action, actionKey(userID, action), limit, window)
}

func (g *Guard) check(ctx context.Context, label, key string, limit int, window time.Duration) error {
	res, err := g.limiter.Check(ctx, key, limit, window)
	if err != nil {
		// Failing open keeps the bot usable when both backends break.
		g.log.Error("rate limit check failed", slog.String("key", key), slog.Any("error", err))
		return nil
	}

	metrics.RecordRateLimit(label, res.Allowed)
	if res.Allowed {
		return nil
	}

	retry := int(math.Ceil(res.RetryAfter(g.now()).Seconds()))
	if retry < 1 {
		retry = 1
	}
	return fmt.Errorf("%w: %w", ErrLimitExceeded, apperrors.NewRateLimitError(retry))
}
