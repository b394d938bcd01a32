package admin

import (
	"context"
	"log/slog"
	"sync"

	"github.com/librimoms/club-bot/internal/api"
)

// DashboardBackend covers the read-only admin overview endpoints.
type DashboardBackend interface {
	AdminStats(ctx context.Context, token string) (*api.AdminStats, error)
	BotStats(ctx context.Context, token string) (*api.BotStats, error)
	PushUsersStats(ctx context.Context, token string) (*api.PushUsersStats, error)
	PushAnalytics(ctx context.Context, token string) (*api.PushAnalytics, error)
	Withdrawals(ctx context.Context, token, status string) ([]api.Withdrawal, error)
}

// Dashboard is the admin overview. Any section that failed to load holds its zero value.
type Dashboard struct {
	Stats              api.AdminStats
	Bot                api.BotStats
	Push               api.PushUsersStats
	Analytics          api.PushAnalytics
	PendingWithdrawals int
	// Failed lists the sections that fell back to defaults.
	Failed []string
}

// LoadDashboard fetches every section concurrently. Sections fail independently.
func LoadDashboard(ctx context.Context, backend DashboardBackend, token string, log *slog.Logger) *Dashboard {
	if log == nil {
		log = slog.Default()
	}

	var (
		d  Dashboard
		mu sync.Mutex
		wg sync.WaitGroup
	)

	load := func(section string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				log.Warn("dashboard section unavailable", slog.String("section", section), slog.Any("error", err))
				mu.Lock()
				d.Failed = append(d.Failed, section)
				mu.Unlock()
			}
		}()
	}

	load("stats", func() error {
		s, err := backend.AdminStats(ctx, token)
		if err != nil {
			return err
		}
		mu.Lock()
		d.Stats = *s
		mu.Unlock()
		return nil
	})
	load("bot", func() error {
		s, err := backend.BotStats(ctx, token)
		if err != nil {
			return err
		}
		mu.Lock()
		d.Bot = *s
		mu.Unlock()
		return nil
	})
	load("push", func() error {
		s, err := backend.PushUsersStats(ctx, token)
		if err != nil {
			return err
		}
		mu.Lock()
		d.Push = *s
		mu.Unlock()
		return nil
	})
	load("analytics", func() error {
		s, err := backend.PushAnalytics(ctx, token)
		if err != nil {
			return err
		}
		mu.Lock()
		d.Analytics = *s
		mu.Unlock()
		return nil
	})
	load("withdrawals", func() error {
		items, err := backend.Withdrawals(ctx, token, WithdrawalPending)
		if err != nil {
			return err
		}
		mu.Lock()
		d.PendingWithdrawals = len(items)
		mu.Unlock()
		return nil
	})

	wg.Wait()
	return &d
}
