package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/shaiso/Sourcing/internal/aggregator"
	"github.com/shaiso/Sourcing/internal/domain"
	"github.com/shaiso/Sourcing/internal/mq"
	"github.com/shaiso/Sourcing/internal/telemetry"
)

// Значения конфигурации по умолчанию.
const (
	defaultPollInterval   = 200 * time.Millisecond
	defaultMaxConcurrency = 4
)

// Admitter — допуск job'а по ключу. Реализуется admission.Controller
// и admission.LeaseController.
type Admitter interface {
	TryAdmit(key string) bool
	Release(key string)
}

// Reporter учитывает завершение fan-in под-задачи.
type Reporter interface {
	Report(ctx context.Context, c domain.Completion) (*aggregator.Result, error)
}

// AttemptStore — статус single-job задач. Реализуется repo.AttemptRepo.
type AttemptStore interface {
	Begin(ctx context.Context, attempt *domain.RegistrationAttempt) error
	Finish(ctx context.Context, attempt *domain.RegistrationAttempt) error
}

// ErrorLog — журнал терминальных ошибок. Реализуется repo.ErrorRepo.
type ErrorLog interface {
	Append(ctx context.Context, rec *domain.ErrorRecord) error
}

// Worker обслуживает одну очередь стадии.
//
// Цикл:
//   - Извлекает job из очереди
//   - Проверяет допуск ключа; при отказе возвращает job в хвост очереди
//   - Допущенный job выполняет в отдельной горутине (не больше MaxConcurrency)
//   - Отчитывается агрегатору или в статус попытки и освобождает ключ
//
// Пауза PollInterval делается только когда очередь пуста или когда
// за полный круг по очереди ни один job не был допущен.
type Worker struct {
	queue    mq.Queue
	jobs     mq.JobQueue
	admitter Admitter
	registry *Registry

	reporter Reporter
	attempts AttemptStore
	errorLog ErrorLog

	sem            *semaphore.Weighted
	maxConcurrency int
	pollInterval   time.Duration
	dequeueTimeout time.Duration

	metrics *telemetry.Metrics

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	loopWG     sync.WaitGroup
	bodiesWG   sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	// Queue — очередь стадии, которую обслуживает воркер.
	Queue mq.Queue
	Jobs  mq.JobQueue

	Admitter Admitter
	Registry *Registry

	// Reporter обязателен для fan-in видов, Attempts и Errors — для single-job.
	Reporter Reporter
	Attempts AttemptStore
	Errors   ErrorLog

	MaxConcurrency int           // параллельно выполняемых job (default: 4)
	PollInterval   time.Duration // пауза при пустой очереди (default: 200ms)
	DequeueTimeout time.Duration // <= 0 — ждать job бесконечно

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}

	return &Worker{
		queue:          cfg.Queue,
		jobs:           cfg.Jobs,
		admitter:       cfg.Admitter,
		registry:       registry,
		reporter:       cfg.Reporter,
		attempts:       cfg.Attempts,
		errorLog:       cfg.Errors,
		sem:            semaphore.NewWeighted(int64(maxConcurrency)),
		maxConcurrency: maxConcurrency,
		pollInterval:   pollInterval,
		dequeueTimeout: cfg.DequeueTimeout,
		metrics:        cfg.Metrics,
		logger:         logger.With("queue", string(cfg.Queue)),
	}
}

// Start запускает цикл воркера.
func (w *Worker) Start(ctx context.Context) error {
	if w.IsStopped() {
		return ErrWorkerStopped
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker",
		"max_concurrency", w.maxConcurrency,
		"poll_interval", w.pollInterval,
		"dequeue_timeout", w.dequeueTimeout,
	)

	w.loopWG.Add(1)
	go func() {
		defer w.loopWG.Done()
		w.loop(ctx)
	}()

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает цикл и ждёт завершения выполняющихся job.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}

	w.loopWG.Wait()
	w.bodiesWG.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}

// loop — основной цикл: dequeue → admit → выполнение или requeue.
func (w *Worker) loop(ctx context.Context) {
	// Тело job не прерывается остановкой цикла.
	bodyCtx := context.WithoutCancel(ctx)

	// ID job'ов, возвращённых в очередь с момента последнего допуска.
	// Повтор ID означает, что пройден полный круг без допуска.
	rejected := make(map[uuid.UUID]struct{})

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := w.jobs.Dequeue(ctx, w.queue, w.dequeueTimeout)
		switch {
		case err == nil:
		case errors.Is(err, mq.ErrEmpty):
			clear(rejected)
			w.idle(ctx)
			continue
		case errors.Is(err, mq.ErrClosed):
			w.logger.Warn("job queue closed, worker loop exits")
			return
		case ctx.Err() != nil:
			return
		default:
			w.logger.Error("dequeue failed", "error", err)
			w.idle(ctx)
			continue
		}

		w.metrics.JobDequeued(string(w.queue))

		// Job извлечён во время остановки — возвращаем без выполнения.
		if ctx.Err() != nil {
			w.requeue(bodyCtx, job)
			return
		}

		if !w.admitter.TryAdmit(job.Key) {
			_, seen := rejected[job.ID]
			w.requeue(bodyCtx, job)
			if seen {
				clear(rejected)
				w.idle(ctx)
			} else {
				rejected[job.ID] = struct{}{}
			}
			continue
		}
		clear(rejected)

		if err := w.sem.Acquire(ctx, 1); err != nil {
			w.admitter.Release(job.Key)
			w.requeue(bodyCtx, job)
			return
		}

		w.bodiesWG.Add(1)
		go func(job *domain.Job) {
			defer w.bodiesWG.Done()
			defer w.sem.Release(1)
			w.processJob(bodyCtx, job)
		}(job)
	}
}

// requeue возвращает job в хвост очереди без задержки.
func (w *Worker) requeue(ctx context.Context, job *domain.Job) {
	if err := w.jobs.Enqueue(ctx, w.queue, *job); err != nil {
		w.logger.Error("requeue failed, job lost",
			"job_id", job.ID,
			"key", job.Key,
			"entity_id", job.EntityID,
			"error", err,
		)
		return
	}
	w.metrics.JobRequeued(string(w.queue))
}

// idle ждёт PollInterval или отмены ctx.
func (w *Worker) idle(ctx context.Context) {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
