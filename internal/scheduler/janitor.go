package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/Sourcing/internal/telemetry"
)

// Purger — локальное состояние admission. Реализуется admission.Controller.
type Purger interface {
	Purge() int
	Len() int
}

// LeaseCleaner удаляет истёкшие аренды. Реализуется repo.LeaseRepo.
type LeaseCleaner interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Janitor — периодическая очистка состояния admission.
//
// На каждый тик:
//  1. Удаляет из admission устаревшие записи (кроме in-flight)
//  2. Удаляет истёкшие аренды ключей (в режиме lease)
//  3. Обновляет gauge размера состояния admission
type Janitor struct {
	admission Purger
	leases    LeaseCleaner
	spec      string
	metrics   *telemetry.Metrics
	logger    *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// Config — конфигурация Janitor.
type Config struct {
	Admission Purger
	Leases    LeaseCleaner // опционально
	Spec      string       // расписание (default: @every 5m)
	Metrics   *telemetry.Metrics
	Logger    *slog.Logger
}

// New создаёт Janitor. Невалидное расписание — ошибка.
func New(cfg Config) (*Janitor, error) {
	spec := cfg.Spec
	if spec == "" {
		spec = DefaultSpec
	}
	if err := ValidateSpec(spec); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Janitor{
		admission: cfg.Admission,
		leases:    cfg.Leases,
		spec:      spec,
		metrics:   cfg.Metrics,
		logger:    logger,
	}, nil
}

// Tick выполняет одну очистку.
//
// Ошибка очистки аренды не мешает очистке локального состояния.
func (j *Janitor) Tick(ctx context.Context) error {
	purged := 0
	if j.admission != nil {
		purged = j.admission.Purge()
		j.metrics.AdmissionPurged(purged)
		j.metrics.AdmissionKeys(j.admission.Len())
	}

	var expired int64
	if j.leases != nil {
		n, err := j.leases.DeleteExpired(ctx)
		if err != nil {
			return fmt.Errorf("delete expired leases: %w", err)
		}
		expired = n
	}

	if purged > 0 || expired > 0 {
		j.logger.Info("janitor tick completed",
			"admission_purged", purged,
			"leases_expired", expired,
		)
	}
	return nil
}

// Start запускает Tick по расписанию.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	c := cron.New(cron.WithParser(cronParser))
	_, err := c.AddFunc(j.spec, func() {
		if err := j.Tick(ctx); err != nil {
			j.logger.Error("janitor tick failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule janitor: %w", err)
	}

	c.Start()
	j.cron = c

	j.logger.Info("janitor started", "spec", j.spec)
	return nil
}

// Stop останавливает расписание и ждёт текущий Tick.
func (j *Janitor) Stop() {
	j.mu.Lock()
	c := j.cron
	j.cron = nil
	j.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	j.logger.Info("janitor stopped")
}
