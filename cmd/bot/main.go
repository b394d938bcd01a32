package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/hibiken/asynq"
	_ "github.com/lib/pq"

	"github.com/librimoms/club-bot/internal/admin"
	"github.com/librimoms/club-bot/internal/api"
	"github.com/librimoms/club-bot/internal/bot"
	"github.com/librimoms/club-bot/internal/database"
	apperrors "github.com/librimoms/club-bot/internal/errors"
	"github.com/librimoms/club-bot/internal/health"
	"github.com/librimoms/club-bot/internal/httpserver"
	"github.com/librimoms/club-bot/internal/i18n"
	"github.com/librimoms/club-bot/internal/idempotency"
	"github.com/librimoms/club-bot/internal/jobs"
	jobhandlers "github.com/librimoms/club-bot/internal/jobs/handlers"
	"github.com/librimoms/club-bot/internal/library"
	"github.com/librimoms/club-bot/internal/lifecycle"
	"github.com/librimoms/club-bot/internal/notifications"
	"github.com/librimoms/club-bot/internal/preferences"
	"github.com/librimoms/club-bot/internal/presence"
	"github.com/librimoms/club-bot/internal/push"
	"github.com/librimoms/club-bot/internal/ratelimit"
	"github.com/librimoms/club-bot/internal/session"
	"github.com/librimoms/club-bot/internal/state"
	"github.com/librimoms/club-bot/internal/storage"
	"github.com/librimoms/club-bot/migrations"
	"github.com/librimoms/club-bot/pkg/config"
	"github.com/librimoms/club-bot/pkg/graceful"
	"github.com/librimoms/club-bot/pkg/logger"
	"github.com/librimoms/club-bot/pkg/metrics"
	"github.com/librimoms/club-bot/pkg/redis"
)

const (
	updateDedupeTTL     = 24 * time.Hour
	preferencesCacheTTL = 10 * time.Minute
	cleanupInterval     = 10 * time.Minute
	shutdownGrace       = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		slog.Error("bot stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, v, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Sentry.Enabled {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
			SampleRate:  cfg.Sentry.SampleRate,
		}); err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
	}

	log := logger.New(*cfg)
	slog.SetDefault(log)
	log.Info("starting LibriMoms club bot", slog.String("env", cfg.AppEnv), slog.String("mode", cfg.Bot.Mode))

	// Only the log level is applied live; everything else needs a restart.
	config.Watch(v, func(next *config.Config) {
		logger.SetLevel(next.Logger.Level)
		log.Info("config reloaded", slog.String("log_level", next.Logger.Level))
	}, func(err error) {
		log.Warn("config reload rejected", slog.Any("error", err))
	})

	shutdown := lifecycle.NewShutdown(log)
	checker := health.NewChecker(log)
	probes := lifecycle.NewProbes(checker)

	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	shutdown.Register(lifecycle.PhaseStores, "redis", func(context.Context) error { return rdb.Close() })
	checker.AddCheck("redis", health.NewRedisChecker(rdb))
	kv := redis.NewMetricsClient(rdb)

	db, err := database.Open(ctx, cfg)
	if err != nil {
		return err
	}
	shutdown.Register(lifecycle.PhaseStores, "postgres", func(context.Context) error { return db.Close() })
	checker.AddCheck("postgres", health.NewDBChecker(db))

	applied, err := database.NewMigrator(db, log).Apply(ctx, migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	log.Info("database migrations applied", slog.Int("count", len(applied)))

	catalog, err := i18n.Load(cfg.I18n.DefaultLang)
	if err != nil {
		return err
	}

	breaker := apperrors.NewCircuitBreaker(cfg.API.BreakerThreshold, cfg.API.BreakerCooldown)
	checker.AddOptional("club_api", health.NewBreakerChecker(breaker))
	client, err := api.New(cfg.API.BaseURL,
		api.WithHTTPClient(&http.Client{Timeout: cfg.API.Timeout}),
		api.WithBreaker(breaker),
		api.WithLogger(log),
	)
	if err != nil {
		return err
	}

	sessions := session.NewManager(session.NewRedisStore(kv), client, session.NewSigner(cfg.Bot.Token), cfg.Redis.SessionTTL, log)
	tokenFor := func(ctx context.Context, telegramID int64) (string, error) {
		sess, err := sessions.Current(ctx, telegramID)
		if err != nil || !sess.Authenticated() {
			return "", err
		}
		return sess.Token, nil
	}

	prefs := preferences.NewService(
		preferences.NewRepository(db, log),
		preferences.NewCache(rdb.Client, preferencesCacheTTL),
		cfg.I18n.DefaultLang,
		log,
	)

	pushes, err := push.NewService(client, push.NewStore(kv), cfg.Server.PublicURL, cfg.Push.VAPIDPublicKey, log)
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}

	covers, err := storage.New(ctx, cfg.Storage, log)
	if err != nil {
		return err
	}

	memoryLimiter := ratelimit.NewMemoryLimiter(log)
	limiter := ratelimit.NewAdaptiveLimiter(ratelimit.NewRedisLimiter(rdb.Client, log), memoryLimiter, log)
	guard := ratelimit.NewGuard(ratelimit.NewRules(cfg.RateLimit), limiter, log)

	stateStorage := state.NewRedisStorage(rdb.Client, log, cfg.Redis.StateTTL)
	fsm := state.NewStateMachine(stateStorage, log, rdb.Client)

	inboxes := notifications.NewRegistry(cfg.Library.NotificationLimit)

	svc := bot.Services{
		API:         client,
		Sessions:    sessions,
		Preferences: prefs,
		Library:     library.NewService(client, cfg.Library.PageSize, log),
		Inboxes:     inboxes,
		Broadcaster: admin.NewBroadcaster(client, log),
		Covers:      covers,
		Payments:    idempotency.NewManager(idempotency.NewRedisStore(rdb.Client, log), log),
		FSM:         fsm,
		Catalog:     catalog,
		Limits:      guard,
		Updates:     idempotency.NewUpdateFilter(rdb.Client, updateDedupeTTL),
		Push:        pushes,
	}

	if cfg.Presence.Enabled {
		presenceManager := presence.NewManager(presence.ManagerOptions{
			URL:            cfg.API.WSURL,
			StartupDelay:   cfg.Presence.StartupDelay,
			PingInterval:   cfg.Presence.PingInterval,
			ReconnectDelay: cfg.Presence.ReconnectDelay,
			TokenFor:       tokenFor,
			Log:            log,
		})
		svc.Presence = presenceManager
		shutdown.Register(lifecycle.PhaseWorkers, "presence", presenceManager.Shutdown)
	}

	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
	var queue jobs.Manager
	if cfg.Jobs.Enabled {
		queue = jobs.NewManager(redisOpt, log)
		svc.Queue = queue
		shutdown.Register(lifecycle.PhaseStores, "asynq_client", func(context.Context) error { return queue.Close() })
	}

	b, err := bot.New(cfg, svc, log)
	if err != nil {
		return err
	}
	checker.AddOptional("telegram", health.NewTelegramChecker(b.Telebot()))
	notifier := b.Notifier()

	if cfg.Jobs.Enabled {
		worker := jobs.NewWorker(redisOpt, cfg.Jobs.Concurrency, log)
		worker.RegisterHandler(jobs.TaskTypeBroadcast, jobhandlers.NewBroadcastHandler(svc.Broadcaster, tokenFor, notifier, catalog, log))
		worker.RegisterHandler(jobs.TaskTypeDigest, jobhandlers.NewDigestHandler(prefs, client, tokenFor, inboxes, notifier, catalog, log))
		go func() {
			if err := worker.Run(); err != nil {
				log.Error("jobs worker stopped", slog.Any("error", err))
			}
		}()
		shutdown.Register(lifecycle.PhaseWorkers, "asynq_worker", func(context.Context) error {
			worker.Shutdown()
			return nil
		})

		if cfg.Jobs.DigestSchedule != "" {
			scheduler := jobs.NewScheduler(redisOpt, cfg.Jobs.DigestSchedule, 0, log)
			if err := scheduler.RegisterTasks(); err != nil {
				return fmt.Errorf("register scheduled tasks: %w", err)
			}
			scheduler.Run()
			shutdown.Register(lifecycle.PhaseWorkers, "asynq_scheduler", func(context.Context) error {
				scheduler.Shutdown()
				return nil
			})
		}
	}

	go state.NewCleaner(stateStorage, log, cfg.Redis.StateTTL, cleanupInterval).Run(ctx)
	go idempotency.NewCleaner(rdb.Client, log, cleanupInterval, updateDedupeTTL).Run(ctx)
	go ratelimit.NewCleaner(rdb.Client, memoryLimiter, log, cleanupInterval, time.Hour).Run(ctx)
	go metrics.NewStateCollector(fsm).Run(ctx)

	serverCtx, stopServer := context.WithCancel(context.Background())
	server := graceful.NewServer(log, &http.Server{
		Addr: cfg.Server.Addr,
		Handler: httpserver.New(httpserver.Options{
			Probes:    probes,
			Push:      pushes,
			Forwarder: notifier,
			Webhook:   b.Webhook(),
			Log:       log,
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}, cfg.Server.ShutdownTimeout)
	serverDone := make(chan error, 1)
	go func() { serverDone <- server.ListenAndServe(serverCtx) }()
	shutdown.Register(lifecycle.PhaseIntake, "http", func(ctx context.Context) error {
		stopServer()
		select {
		case err := <-serverDone:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	go b.Start()
	shutdown.Register(lifecycle.PhaseIntake, "telegram", b.Stop)

	if cfg.Sentry.Enabled {
		shutdown.Register(lifecycle.PhaseStores, "sentry", func(context.Context) error {
			if !sentry.Flush(2 * time.Second) {
				return errors.New("sentry flush timed out")
			}
			return nil
		})
	}

	<-ctx.Done()
	log.Info("shutdown signal received")
	probes.Drain()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := shutdown.Execute(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("LibriMoms club bot stopped")
	return nil
}
