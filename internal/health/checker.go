// Package health aggregates component checks for the readiness probe.
package health

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/telebot.v3"

	apperrors "github.com/librimoms/club-bot/internal/errors"
)

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusDown     = "down"
)

const defaultTimeout = 3 * time.Second

// Checkable represents a component that can report its health status.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// CheckFunc adapts a function to Checkable.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

type component struct {
	check    Checkable
	critical bool
}

// Report is the JSON body of /readyz.
type Report struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
	Failed     []string          `json:"failed,omitempty"`
}

// Healthy is false only when a critical component failed.
func (r Report) Healthy() bool { return r.Status != StatusDown }

// Checker aggregates health checks for multiple components.
type Checker struct {
	log     *slog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	checks map[string]component
}

// NewChecker instantiates a Checker with the provided logger.
func NewChecker(log *slog.Logger) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		log:     log,
		timeout: defaultTimeout,
		checks:  make(map[string]component),
	}
}

// AddCheck registers a critical component. A failing critical component makes the bot not ready.
func (c *Checker) AddCheck(name string, check Checkable) {
	c.add(name, check, true)
}

// AddOptional registers a component whose failure only degrades the report.
func (c *Checker) AddOptional(name string, check Checkable) {
	c.add(name, check, false)
}

func (c *Checker) add(name string, check Checkable, critical bool) {
	if name == "" || check == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = component{check: check, critical: critical}
}

// Check runs all registered health checks concurrently.
func (c *Checker) Check(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]component, len(c.checks))
	for name, comp := range c.checks {
		checks[name] = comp
	}
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		report = Report{Status: StatusOK, Components: make(map[string]string, len(checks))}
	)
	for name, comp := range checks {
		wg.Add(1)
		go func(name string, comp component) {
			defer wg.Done()

			err := comp.check.HealthCheck(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				report.Components[name] = StatusOK
				return
			}

			report.Components[name] = err.Error()
			report.Failed = append(report.Failed, name)
			if comp.critical {
				report.Status = StatusDown
			} else if report.Status == StatusOK {
				report.Status = StatusDegraded
			}
			c.log.Error("health check failed", slog.String("component", name), slog.Bool("critical", comp.critical), slog.Any("error", err))
		}(name, comp)
	}
	wg.Wait()

	sort.Strings(report.Failed)
	return report
}

// DBChecker verifies connectivity to a PostgreSQL database.
type DBChecker struct {
	db *sql.DB
}

// NewDBChecker constructs a DBChecker.
func NewDBChecker(db *sql.DB) *DBChecker {
	return &DBChecker{db: db}
}

// HealthCheck pings the database to ensure it is reachable.
func (c *DBChecker) HealthCheck(ctx context.Context) error {
	if c == nil || c.db == nil {
		return sql.ErrConnDone
	}
	return c.db.PingContext(ctx)
}

// Pinger abstracts the subset of redis.Client used for health checks.
type Pinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisChecker verifies connectivity to a Redis instance.
type RedisChecker struct {
	pinger Pinger
}

// NewRedisChecker constructs a RedisChecker.
func NewRedisChecker(pinger Pinger) *RedisChecker {
	return &RedisChecker{pinger: pinger}
}

// HealthCheck issues a PING command against Redis.
func (c *RedisChecker) HealthCheck(ctx context.Context) error {
	if c == nil || c.pinger == nil {
		return redis.ErrClosed
	}
	return c.pinger.Ping(ctx).Err()
}

// TelegramChecker reports whether the bot finished its getMe handshake.
type TelegramChecker struct {
	bot *telebot.Bot
}

// NewTelegramChecker constructs a TelegramChecker.
func NewTelegramChecker(bot *telebot.Bot) *TelegramChecker {
	return &TelegramChecker{bot: bot}
}

func (c *TelegramChecker) HealthCheck(ctx context.Context) error {
	if c == nil || c.bot == nil || c.bot.Me == nil {
		return errors.New("telegram bot is not initialized or disconnected")
	}
	return nil
}

// BreakerChecker fails while the club API circuit breaker is open.
type BreakerChecker struct {
	cb *apperrors.CircuitBreaker
}

func NewBreakerChecker(cb *apperrors.CircuitBreaker) *BreakerChecker {
	return &BreakerChecker{cb: cb}
}

func (c *BreakerChecker) HealthCheck(ctx context.Context) error {
	if c == nil || c.cb == nil {
		return nil
	}
	if c.cb.State() == apperrors.StateOpen {
		return apperrors.ErrCircuitOpen
	}
	return nil
}
