package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/librimoms/club-bot/internal/health"
)

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestShutdown_RunsPhasesInOrder(t *testing.T) {
	s := NewShutdown(quietLog())

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}

	s.Register(PhaseStores, "redis", record("redis"))
	s.Register(PhaseIntake, "bot", record("bot"))
	s.Register(PhaseWorkers, "jobs", record("jobs"))

	require.NoError(t, s.Execute(context.Background()))
	assert.Equal(t, []string{"bot", "jobs", "redis"}, order)
}

func TestShutdown_JoinsErrorsAndRunsOnce(t *testing.T) {
	s := NewShutdown(quietLog())
	boom := errors.New("boom")
	calls := 0

	s.Register(PhaseIntake, "http", func(context.Context) error { calls++; return boom })
	s.Register(PhaseStores, "db", func(context.Context) error { return nil })

	err := s.Execute(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "http")

	require.NoError(t, s.Execute(context.Background()))
	assert.Equal(t, 1, calls)
}

func TestProbes_ReadinessFollowsCheckerAndDrain(t *testing.T) {
	checker := health.NewChecker(quietLog())
	checker.AddCheck("db", health.CheckFunc(func(context.Context) error { return nil }))
	p := NewProbes(checker)

	report, err := p.Readiness(context.Background())
	require.NoError(t, err)
	assert.Equal(t, health.StatusOK, report.Status)

	p.Drain()
	_, err = p.Readiness(context.Background())
	assert.Error(t, err)
	assert.NoError(t, p.Liveness(context.Background()))
}
