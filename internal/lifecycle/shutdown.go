package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Shutdown coordinates graceful shutdown hooks phase by phase.
type Shutdown struct {
	mu    sync.Mutex
	hooks []Hook
	done  bool
	log   *slog.Logger
}

// NewShutdown constructs a new Shutdown coordinator.
func NewShutdown(log *slog.Logger) *Shutdown {
	if log == nil {
		log = slog.Default()
	}

	return &Shutdown{log: log}
}

// Register adds a named shutdown hook to phase.
func (s *Shutdown) Register(phase Phase, name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.hooks = append(s.hooks, Hook{Name: name, Phase: phase, Fn: fn})
}

// Execute runs every phase in order and waits for each to finish before starting the next.
// A second call is a no-op.
func (s *Shutdown) Execute(ctx context.Context) error {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return nil
	}
	s.done = true
	hooks := append([]Hook(nil), s.hooks...)
	s.mu.Unlock()

	sort.SliceStable(hooks, func(i, j int) bool { return hooks[i].Phase < hooks[j].Phase })

	start := time.Now()
	s.log.Info("shutdown sequence started", slog.Int("hook_count", len(hooks)))

	var errs []error
	for i := 0; i < len(hooks); {
		j := i
		for j < len(hooks) && hooks[j].Phase == hooks[i].Phase {
			j++
		}
		errs = append(errs, s.runPhase(ctx, hooks[i].Phase, hooks[i:j])...)
		i = j
	}

	s.log.Info("shutdown sequence finished", slog.Duration("elapsed", time.Since(start)), slog.Int("failed", len(errs)))
	return errors.Join(errs...)
}

func (s *Shutdown) runPhase(ctx context.Context, phase Phase, hooks []Hook) []error {
	log := s.log.With(slog.String("phase", phase.String()))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, h := range hooks {
		wg.Add(1)
		go func(h Hook) {
			defer wg.Done()

			log.Info("running shutdown hook", slog.String("hook", h.Name))
			if err := h.Fn(ctx); err != nil {
				log.Error("shutdown hook failed", slog.String("hook", h.Name), slog.Any("error", err))
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", h.Name, err))
				mu.Unlock()
				return
			}
			log.Info("shutdown hook completed", slog.String("hook", h.Name))
		}(h)
	}
	wg.Wait()

	return errs
}
