package lifecycle

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/librimoms/club-bot/internal/health"
)

// HealthChecker exposes liveness and readiness probes.
type HealthChecker interface {
	Liveness(ctx context.Context) error
	Readiness(ctx context.Context) (health.Report, error)
}

var errShuttingDown = errors.New("shutting down")

// Probes reports live while the process runs and ready while critical components are healthy.
type Probes struct {
	checker  *health.Checker
	draining atomic.Bool
}

// NewProbes creates probes backed by checker. A nil checker is always ready.
func NewProbes(checker *health.Checker) *Probes {
	return &Probes{checker: checker}
}

// Drain makes Readiness fail so load balancers stop routing before shutdown starts.
func (p *Probes) Drain() {
	p.draining.Store(true)
}

func (p *Probes) Liveness(ctx context.Context) error {
	return nil
}

func (p *Probes) Readiness(ctx context.Context) (health.Report, error) {
	if p.draining.Load() {
		return health.Report{Status: health.StatusDown}, errShuttingDown
	}
	if p.checker == nil {
		return health.Report{Status: health.StatusOK}, nil
	}

	report := p.checker.Check(ctx)
	if !report.Healthy() {
		return report, errors.New("unhealthy: " + strings.Join(report.Failed, ", "))
	}
	return report, nil
}
