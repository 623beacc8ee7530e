// Sourcing API — HTTP API для producer'ов.
//
// Рассылает под-задачи сущностей, принимает single-job задачи и
// отдаёт состояние обработки, журнал ошибок и попытки.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Sourcing/internal/aggregator"
	"github.com/shaiso/Sourcing/internal/api"
	"github.com/shaiso/Sourcing/internal/config"
	"github.com/shaiso/Sourcing/internal/dispatch"
	"github.com/shaiso/Sourcing/internal/mq"
	"github.com/shaiso/Sourcing/internal/repo"
	"github.com/shaiso/Sourcing/internal/telemetry"
)

var (
	startTime = time.Now()
	reqTotal  = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sourcing_api_health_requests_total",
		Help: "Total health check requests handled by sourcing-api",
	})
)

func main() {
	if err := run(); err != nil {
		slog.Error("sourcing-api failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Queue.Driver != config.QueueDriverRabbitMQ {
		return fmt.Errorf("%w: sourcing-api requires the rabbitmq queue driver", config.ErrInvalidConfig)
	}

	// Инициализируем structured logging
	logger := telemetry.NewLogger(os.Stdout, cfg.Log.Format, telemetry.ParseLevel(cfg.Log.Level))
	slog.SetDefault(logger)
	logger.Info("starting sourcing-api")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Подключаемся к базе данных
	pool, err := repo.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	logger.Info("connected to database")

	if cfg.Database.Migrate {
		if err := repo.Migrate(ctx, pool); err != nil {
			return err
		}
	}

	// RabbitMQ
	conn, err := mq.NewConnection(cfg.Queue.URL, logger)
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	defer conn.Close()

	if err := mq.SetupTopology(ctx, conn); err != nil {
		return fmt.Errorf("setup topology: %w", err)
	}
	broker := mq.NewBroker(conn, mq.BrokerConfig{Prefetch: cfg.Queue.Prefetch, Logger: logger})

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)
	entities := repo.NewEntityRepo(pool)
	errorLog := repo.NewErrorRepo(pool)
	agg := aggregator.New(aggregator.Config{Store: entities, Metrics: metrics, Logger: logger})

	// Создаём API handler
	handler := api.NewHandler(api.Config{
		Dispatcher: dispatch.New(dispatch.Config{
			Store:    entities,
			Jobs:     broker,
			Reporter: agg,
			Errors:   errorLog,
			Logger:   logger,
		}),
		Entities: entities,
		Errors:   errorLog,
		Attempts: repo.NewAttemptRepo(pool),
		Logger:   logger,
	})

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		reqTotal.Inc()
		if !conn.IsConnected() {
			http.Error(w, "rabbitmq disconnected", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())

	// Регистрируем API маршруты
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:    ":" + cfg.HTTP.Port,
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
	return nil
}
