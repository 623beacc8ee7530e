// Sourcing Worker — выполняет под-задачи одной стадии пайплайна.
//
// Worker:
//   - Получает job из очереди стадии (WORKER_QUEUE)
//   - Допускает не более одного job на ключ тенанта одновременно
//   - Выполняет job через executor его вида
//   - Fan-in виды засчитывает агрегатору, single-job пишет в attempts
//
// При QUEUE_DRIVER=memory процесс обслуживает все очереди и сам
// отдаёт HTTP API: так удобно гонять пайплайн локально.
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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Sourcing/internal/admission"
	"github.com/shaiso/Sourcing/internal/aggregator"
	"github.com/shaiso/Sourcing/internal/api"
	"github.com/shaiso/Sourcing/internal/config"
	"github.com/shaiso/Sourcing/internal/dispatch"
	"github.com/shaiso/Sourcing/internal/mq"
	"github.com/shaiso/Sourcing/internal/repo"
	"github.com/shaiso/Sourcing/internal/scheduler"
	"github.com/shaiso/Sourcing/internal/telemetry"
	"github.com/shaiso/Sourcing/internal/worker"
)

func main() {
	if err := run(); err != nil {
		slog.Error("sourcing-worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Инициализируем structured logging
	logger := telemetry.NewLogger(os.Stdout, cfg.Log.Format, telemetry.ParseLevel(cfg.Log.Level))
	slog.SetDefault(logger)
	logger.Info("starting sourcing-worker", "queue", cfg.Worker.Queue, "driver", cfg.Queue.Driver)

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	logger.Info("database connected")

	if cfg.Database.Migrate {
		if err := repo.Migrate(ctx, pool); err != nil {
			return err
		}
		logger.Info("schema migrated")
	}

	// Очередь
	jobs, closeJobs, err := openQueue(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeJobs()

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	// Состояние
	entities := repo.NewEntityRepo(pool)
	attempts := repo.NewAttemptRepo(pool)
	errorLog := repo.NewErrorRepo(pool)
	agg := aggregator.New(aggregator.Config{Store: entities, Metrics: metrics, Logger: logger})

	// Admission
	local := admission.New(admission.Config{
		MinInterval: cfg.AdmissionMinInterval(),
		Expiry:      cfg.Admission.Expiry,
		Logger:      logger,
	})
	var admitter worker.Admitter = local
	var leases scheduler.LeaseCleaner
	if cfg.Admission.Mode == config.AdmissionModeLease {
		leaseRepo := repo.NewLeaseRepo(pool)
		lease := admission.NewLeaseController(local, admission.LeaseConfig{
			Store:  leaseRepo,
			TTL:    cfg.Admission.LeaseTTL,
			Logger: logger,
		})
		admitter = lease
		leases = leaseRepo
		logger.Info("lease admission enabled", "holder", lease.Holder())
	}

	janitor, err := scheduler.New(scheduler.Config{
		Admission: local,
		Leases:    leases,
		Spec:      cfg.Janitor.Spec,
		Metrics:   metrics,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	// Executors
	registry := worker.NewDefaultRegistry(collaborators(cfg, pool))
	logger.Info("executors registered", "kinds", registry.Kinds())

	queues := []mq.Queue{cfg.WorkerQueue()}
	if cfg.Queue.Driver == config.QueueDriverMemory {
		queues = mq.StageQueues()
	}

	workers := make([]*worker.Worker, 0, len(queues))
	for _, queue := range queues {
		w := worker.New(worker.Config{
			Queue:          queue,
			Jobs:           jobs,
			Admitter:       admitter,
			Registry:       registry,
			Reporter:       agg,
			Attempts:       attempts,
			Errors:         errorLog,
			MaxConcurrency: cfg.Worker.MaxConcurrency,
			PollInterval:   cfg.Worker.PollInterval,
			DequeueTimeout: cfg.Worker.DequeueTimeout,
			Metrics:        metrics,
			Logger:         logger,
		})
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("start worker for %s: %w", queue, err)
		}
		workers = append(workers, w)
	}

	if err := janitor.Start(ctx); err != nil {
		return err
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	if cfg.Queue.Driver == config.QueueDriverMemory {
		handler := api.NewHandler(api.Config{
			Dispatcher: dispatch.New(dispatch.Config{Store: entities, Jobs: jobs, Reporter: agg, Errors: errorLog, Logger: logger}),
			Entities:   entities,
			Errors:     errorLog,
			Attempts:   attempts,
			Logger:     logger,
		})
		handler.RegisterRoutes(mux)
	}

	server := &http.Server{
		Addr:    ":" + cfg.HTTP.Port,
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	// Останавливаем worker'ы: ждут выполняющиеся job
	for _, w := range workers {
		w.Stop()
	}
	janitor.Stop()

	logger.Info("sourcing-worker stopped")
	return nil
}

// openQueue открывает очередь согласно драйверу.
func openQueue(ctx context.Context, cfg config.Config, logger *slog.Logger) (mq.JobQueue, func(), error) {
	if cfg.Queue.Driver == config.QueueDriverMemory {
		q := mq.NewMemoryQueue()
		return q, func() { q.Close() }, nil
	}

	conn, err := mq.NewConnection(cfg.Queue.URL, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	if err := mq.SetupTopology(ctx, conn); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("setup topology: %w", err)
	}

	broker := mq.NewBroker(conn, mq.BrokerConfig{Prefetch: cfg.Queue.Prefetch, Logger: logger})
	return broker, func() { conn.Close() }, nil
}

// collaborators собирает клиентов внешних сервисов. Сервис без адреса
// не подключается, и job его вида завершаются ошибкой executor'а.
func collaborators(cfg config.Config, pool *pgxpool.Pool) worker.Collaborators {
	var c worker.Collaborators
	if cfg.Services.TranslatorURL != "" {
		c.Translator = worker.NewHTTPTranslator(cfg.Services.TranslatorURL, cfg.Services.Timeout)
	}
	if cfg.Services.MarketplaceURL != "" {
		c.Marketplace = worker.NewHTTPMarketplace(cfg.Services.MarketplaceURL, cfg.Services.Timeout)
		c.Credentials = repo.NewCredentialRepo(pool)
	}
	if cfg.Services.SourcingURL != "" {
		c.Sourcing = worker.NewHTTPSourcingChecker(cfg.Services.SourcingURL, cfg.Services.Timeout)
	}
	return c
}
