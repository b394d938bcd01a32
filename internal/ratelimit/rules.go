package ratelimit

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/librimoms/club-bot/pkg/config"
)

// Actions with their own, stricter limits.
const (
	ActionFavorite  = "favorite"
	ActionBroadcast = "broadcast"
	ActionPayment   = "payment"
)

var ErrUnknownAction = errors.New("unsupported rate limit action")

// Rules encapsulates configured rate limits and helper methods.
type Rules struct {
	config config.RateLimitConfig
}

func NewRules(cfg config.RateLimitConfig) *Rules {
	return &Rules{config: cfg}
}

func (r *Rules) Enabled() bool { return r.config.Enabled }

// IsWhitelisted returns true if the userID bypasses rate limits.
func (r *Rules) IsWhitelisted(userID int64) bool {
	return slices.Contains(r.config.Whitelist, userID)
}

// ActionLimit returns the limit and window for an expensive action.
func (r *Rules) ActionLimit(action string) (int, time.Duration, error) {
	switch action {
	case ActionFavorite:
		return parseRule(r.config.Actions.Favorite)
	case ActionBroadcast:
		return parseRule(r.config.Actions.Broadcast)
	case ActionPayment:
		return parseRule(r.config.Actions.Payment)
	default:
		return 0, 0, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
}

// PerUserLimit applies to every update a user sends.
func (r *Rules) PerUserLimit() (int, time.Duration, error) {
	return parseRule(r.config.PerUser)
}

func parseRule(rule config.RateLimitRule) (int, time.Duration, error) {
	if rule.Window == "" {
		return rule.Limit, 0, errors.New("window duration is not set")
	}
	window, err := time.ParseDuration(rule.Window)
	if err != nil {
		return 0, 0, err
	}
	return rule.Limit, window, nil
}

func userKey(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

func actionKey(userID int64, action string) string {
	return fmt.Sprintf("user:%d:%s", userID, action)
}
