package state

import (
	"context"
	"log/slog"
	"time"
)

// Cleaner resets conversations left in the error state, or abandoned mid-flow for longer than maxAge.
// Redis TTL only expires keys that nobody touches; this catches flows kept alive by unrelated commands.
type Cleaner struct {
	storage  Storage
	log      *slog.Logger
	maxAge   time.Duration
	interval time.Duration
	now      func() time.Time
}

// NewCleaner constructs a Cleaner.
func NewCleaner(storage Storage, log *slog.Logger, maxAge, interval time.Duration) *Cleaner {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	return &Cleaner{
		storage:  storage,
		log:      log,
		maxAge:   maxAge,
		interval: interval,
		now:      time.Now,
	}
}

// Run starts the cleanup loop until the context is cancelled.
func (c *Cleaner) Run(ctx context.Context) {
	if c == nil || c.storage == nil {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("state cleaner stopped")
			return
		case <-ticker.C:
			c.cleanup(ctx)
		}
	}
}

func (c *Cleaner) cleanup(ctx context.Context) int {
	states, err := c.storage.GetAllStates(ctx)
	if err != nil {
		c.log.Error("state cleaner scan failed", slog.Any("error", err))
		return 0
	}

	cleared := 0
	for _, st := range states {
		if st == nil || st.CurrentState == StateIdle && st.Context == nil {
			continue
		}

		stale := c.maxAge > 0 && c.now().Sub(st.UpdatedAt) > c.maxAge
		if st.CurrentState != StateError && !stale {
			continue
		}

		if err := c.storage.ClearState(ctx, st.UserID); err != nil {
			c.log.Error("state cleaner failed to clear state", slog.Int64("user_id", st.UserID), slog.Any("error", err))
			continue
		}
		cleared++
	}

	if cleared > 0 {
		c.log.Info("stale conversations cleared", slog.Int("count", cleared))
	}
	return cleared
}
