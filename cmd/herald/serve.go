package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/herald/pkg/api"
	"github.com/cuemby/herald/pkg/broadcast"
	"github.com/cuemby/herald/pkg/cache"
	"github.com/cuemby/herald/pkg/chat"
	"github.com/cuemby/herald/pkg/config"
	"github.com/cuemby/herald/pkg/events"
	"github.com/cuemby/herald/pkg/executor"
	"github.com/cuemby/herald/pkg/guard"
	"github.com/cuemby/herald/pkg/handlers"
	"github.com/cuemby/herald/pkg/health"
	"github.com/cuemby/herald/pkg/llm"
	"github.com/cuemby/herald/pkg/log"
	"github.com/cuemby/herald/pkg/metrics"
	"github.com/cuemby/herald/pkg/notify"
	"github.com/cuemby/herald/pkg/queue"
	"github.com/cuemby/herald/pkg/reconciler"
	"github.com/cuemby/herald/pkg/recurrence"
	"github.com/cuemby/herald/pkg/results"
	"github.com/cuemby/herald/pkg/scheduler"
	"github.com/cuemby/herald/pkg/storage"
	"github.com/oklog/run"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the herald server",
	Long: `Run the queue worker, the gRPC Assistant API and the HTTP health and
metrics endpoints until interrupted.

Examples:
  # Run with defaults (memory cache, ./herald-data)
  herald serve

  # Run with a config file and debug logs
  herald serve --config herald.yaml --log-level debug`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := log.WithComponent("serve")
	metrics.SetVersion(Version)

	loc, err := recurrence.LoadLocation(cfg.Timezone)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()
	metrics.UpdateComponent("storage", true, "")

	backend, err := openCache(cmd.Context(), cfg.Cache)
	if err != nil {
		metrics.UpdateComponent("cache", false, err.Error())
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer backend.Close()
	metrics.UpdateComponent("cache", true, "")

	q, err := queue.Open(queueConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to open queue: %w", err)
	}
	defer q.Close()
	metrics.UpdateComponent("queue", true, "")

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	jobOpts := queue.JobOptions{
		Attempts:         cfg.Queue.Attempts,
		Backoff:          queue.Backoff{Delay: cfg.Queue.Backoff, MaxDelay: cfg.Queue.MaxBackoff},
		RemoveOnComplete: cfg.Queue.RemoveOnComplete,
	}

	states := broadcast.NewManager(store, broker)
	resultStore := results.NewStore(backend, cfg.Cache.ResultTTL)
	generator := llm.NewOpenAI(llm.Config{
		BaseURL:    cfg.LLM.BaseURL,
		APIKey:     apiKey(cfg.LLM),
		Model:      cfg.LLM.Model,
		MaxRetries: 2,
	})

	dispatcher := notify.NewDispatcher(q, store, notify.NewLogSender(), jobOpts)
	sched := scheduler.NewScheduler(store, q, recurrence.NewCompiler(loc), broker, jobOpts)

	exec := executor.New(handlers.New(handlers.Deps{
		Profiles:  store,
		Results:   resultStore,
		Generator: generator,
		Reminders: sched,
		Notifier:  dispatcher,
	}), resultStore, states)
	sched.SetRunner(exec)

	q.Register(scheduler.JobName, sched.ProcessReminder)
	q.Register(notify.JobName, dispatcher.Process)
	q.OnSettle(sched.OnSettle)
	recon := reconciler.NewReconciler(q, store, sched.OnSettle)

	chatSvc := chat.NewService(chat.Config{
		Store:        store,
		Guard:        guard.New(backend, cfg.Cache.GuardTTL),
		Generator:    generator,
		States:       states,
		Sender:       broker,
		Pending:      notify.NewPending(),
		ReplyTimeout: cfg.Chat.ReplyTimeout,
	})

	grpcServer := api.NewServer(chatSvc, sched, broker)
	healthServer := api.NewHealthServer(nil)
	collector := metrics.NewCollector(q, store, broker)
	monitor := dependencyMonitor(cfg, backend)

	var g run.Group

	// OS signals.
	{
		signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer signalCancel()

		g.Add(
			func() error {
				<-signalCtx.Done()
				logger.Info().Msg("Termination signal received")
				return nil
			},
			func(_ error) {
				signalCancel()
			},
		)
	}

	// Queue worker and its background loops.
	{
		ctx, cancel := context.WithCancel(context.Background())
		g.Add(
			func() error {
				q.Start(ctx)
				collector.Start()
				monitor.Start(ctx)
				recon.Start(ctx)
				<-ctx.Done()
				return nil
			},
			func(_ error) {
				cancel()
				recon.Stop()
				monitor.Stop()
				collector.Stop()
				q.Stop()
			},
		)
	}

	// gRPC API.
	g.Add(
		func() error {
			return grpcServer.Start(cfg.API.GRPCAddr)
		},
		func(_ error) {
			grpcServer.Stop()
		},
	)

	// HTTP health and metrics.
	if cfg.API.HTTPAddr != "" {
		g.Add(
			func() error {
				logger.Info().Str("addr", cfg.API.HTTPAddr).Msg("Health endpoints listening")
				return healthServer.Start(cfg.API.HTTPAddr)
			},
			func(_ error) {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = healthServer.Shutdown(ctx)
			},
		)
	}

	logger.Info().
		Str("data_dir", cfg.DataDir).
		Str("cache", cfg.Cache.Backend).
		Str("timezone", loc.String()).
		Msg("Herald is running")

	if err := g.Run(); err != nil {
		return err
	}
	logger.Info().Msg("Shutdown complete")
	return nil
}

func dependencyMonitor(cfg *config.Config, backend cache.Backend) *health.Monitor {
	mon := health.NewMonitor(nil)
	mon.Add("cache", health.NewPingChecker(backend), health.Config{
		Interval: 15 * time.Second,
		Timeout:  2 * time.Second,
		Retries:  2,
	})

	if cfg.LLM.BaseURL != "" {
		url := strings.TrimSuffix(cfg.LLM.BaseURL, "/") + "/models"
		mon.Add("llm", health.NewHTTPChecker(url,
			health.WithBearerToken(apiKey(cfg.LLM)),
			health.WithJSONField("data"),
		), health.Config{
			Interval:    time.Minute,
			Timeout:     10 * time.Second,
			Retries:     3,
			StartPeriod: 30 * time.Second,
		})
	}
	return mon
}

func queueConfig(cfg *config.Config) queue.Config {
	qcfg := queue.DefaultConfig()
	qcfg.DataDir = cfg.DataDir
	qcfg.Concurrency = cfg.Queue.Concurrency
	qcfg.PollInterval = cfg.Queue.PollInterval
	qcfg.LockTimeout = cfg.Queue.LockTimeout
	qcfg.JobTimeout = cfg.Queue.JobTimeout
	qcfg.DefaultAttempts = cfg.Queue.Attempts
	qcfg.DefaultBackoff = queue.Backoff{Delay: cfg.Queue.Backoff, MaxDelay: cfg.Queue.MaxBackoff}
	return qcfg
}

func openCache(ctx context.Context, cfg config.CacheConfig) (cache.Backend, error) {
	switch cfg.Backend {
	case config.CacheRedis:
		return cache.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case config.CacheMemory:
		return cache.NewMemory(time.Minute), nil
	}
	return nil, errors.New("unknown cache backend: " + cfg.Backend)
}

func apiKey(cfg config.LLMConfig) string {
	if cfg.APIKey != "" {
		return cfg.APIKey
	}
	return os.Getenv("OPENAI_API_KEY")
}
