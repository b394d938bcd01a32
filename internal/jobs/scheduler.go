package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
)

type Scheduler interface {
	RegisterTasks() error
	Run()
	Shutdown()
}

type scheduler struct {
	asynqScheduler *asynq.Scheduler
	digestSpec     string
	batchSize      int
	log            *slog.Logger
}

// NewScheduler registers periodic tasks. digestSpec is a cron expression.
func NewScheduler(redisOpt asynq.RedisConnOpt, digestSpec string, batchSize int, log *slog.Logger) Scheduler {
	if log == nil {
		log = slog.Default()
	}

	return &scheduler{
		asynqScheduler: asynq.NewScheduler(redisOpt, nil),
		digestSpec:     digestSpec,
		batchSize:      batchSize,
		log:            log,
	}
}

func (s *scheduler) RegisterTasks() error {
	task, err := NewDigestTask(s.batchSize)
	if err != nil {
		return err
	}

	if _, err := s.asynqScheduler.Register(s.digestSpec, task); err != nil {
		return err
	}

	s.log.InfoContext(context.Background(), "scheduler: registered notification digest", slog.String("spec", s.digestSpec))
	return nil
}

func (s *scheduler) Run() {
	s.log.InfoContext(context.Background(), "scheduler: starting")

	go func() {
		if err := s.asynqScheduler.Run(); err != nil {
			s.log.ErrorContext(context.Background(), "scheduler: run failed", slog.Any("error", err))
		}
	}()
}

func (s *scheduler) Shutdown() {
	s.log.InfoContext(context.Background(), "scheduler: shutting down")
	s.asynqScheduler.Shutdown()
}
