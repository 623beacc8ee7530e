package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/shaiso/Sourcing/internal/aggregator"
	"github.com/shaiso/Sourcing/internal/domain"
	"github.com/shaiso/Sourcing/internal/mq"
)

// Reporter учитывает завершение под-задачи. Реализуется aggregator.Aggregator.
type Reporter interface {
	Report(ctx context.Context, c domain.Completion) (*aggregator.Result, error)
}

// ErrorLog — журнал ошибок, не попавших в агрегатор. Реализуется repo.ErrorRepo.
type ErrorLog interface {
	Append(ctx context.Context, rec *domain.ErrorRecord) error
}

// Dispatcher ставит под-задачи сущностей в очередь.
type Dispatcher struct {
	store    aggregator.Store
	jobs     mq.JobQueue
	reporter Reporter
	errorLog ErrorLog
	logger   *slog.Logger
}

// Config — конфигурация Dispatcher.
type Config struct {
	Store    aggregator.Store
	Jobs     mq.JobQueue
	Reporter Reporter
	Errors   ErrorLog
	Logger   *slog.Logger
}

// New создаёт Dispatcher.
func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		store:    cfg.Store,
		jobs:     cfg.Jobs,
		reporter: cfg.Reporter,
		errorLog: cfg.Errors,
		logger:   logger,
	}
}

// Result — итог рассылки.
type Result struct {
	EntityID string
	Status   domain.EntityStatus

	// Jobs — ID поставленных в очередь job.
	Jobs []uuid.UUID

	// Failed — количество задач, которые не удалось поставить в очередь.
	// Они засчитаны агрегатору как завершённые с ошибкой.
	Failed int

	// Unreported — задачи, которые не удалось ни поставить в очередь,
	// ни засчитать агрегатору. Сущность останется PENDING до Redispatch.
	Unreported int
}

// Dispatch создаёт счётчики сущности и ставит по job на каждую задачу.
//
// Задачи должны быть fan-in видов. Если сущность ещё обрабатывается,
// возвращается aggregator.ErrEntityInProgress. Job, который не удалось
// поставить в очередь, сразу отчитывается как ошибка, чтобы счётчики
// сущности всё равно дошли до нуля.
func (d *Dispatcher) Dispatch(ctx context.Context, key, entityID string, tasks []domain.Task) (*Result, error) {
	return d.dispatch(ctx, key, entityID, tasks, false)
}

// Redispatch — Dispatch, который пересоздаёт счётчики даже у сущности
// в PENDING. Job'ы прошлой рассылки, ещё находящиеся в очереди, будут
// засчитаны в новые счётчики.
func (d *Dispatcher) Redispatch(ctx context.Context, key, entityID string, tasks []domain.Task) (*Result, error) {
	return d.dispatch(ctx, key, entityID, tasks, true)
}

func (d *Dispatcher) dispatch(ctx context.Context, key, entityID string, tasks []domain.Task, force bool) (*Result, error) {
	if err := validateDispatch(key, entityID, tasks); err != nil {
		return nil, err
	}

	jobs := make([]domain.Job, 0, len(tasks))
	for _, task := range tasks {
		job, err := domain.NewJob(key, entityID, task)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDispatch, err)
		}
		jobs = append(jobs, job)
	}

	state := domain.NewEntityState(key, entityID, tasks)
	create := d.store.CreateEntity
	if force {
		create = d.store.ResetEntity
	}
	if err := create(ctx, state); err != nil {
		return nil, fmt.Errorf("create entity: %w", err)
	}

	result := &Result{EntityID: entityID, Status: state.Status}
	var reportErrs []error

	for _, job := range jobs {
		queue := mq.QueueFor(job.Kind)
		if err := d.jobs.Enqueue(ctx, queue, job); err != nil {
			d.logger.Error("enqueue failed, reporting as failed completion",
				"entity_id", entityID,
				"job_id", job.ID,
				"task_kind", job.Kind,
				"queue", queue,
				"error", err,
			)

			message := fmt.Sprintf("enqueue failed: %v", err)
			res, repErr := d.reporter.Report(ctx, domain.CompletionFor(job, true, message))
			if repErr != nil {
				d.logger.Error("failed to report enqueue failure",
					"entity_id", entityID,
					"job_id", job.ID,
					"task_kind", job.Kind,
					"error", repErr,
				)
				d.appendError(ctx, job, fmt.Sprintf("%s; report failed: %v", message, repErr))
				reportErrs = append(reportErrs, fmt.Errorf("report %s: %w", job.Kind, repErr))
				result.Unreported++
				continue
			}
			result.Failed++
			result.Status = res.Status
			continue
		}
		result.Jobs = append(result.Jobs, job.ID)
	}

	d.logger.Info("entity dispatched",
		"key", key,
		"entity_id", entityID,
		"jobs", len(result.Jobs),
		"failed", result.Failed,
		"unreported", result.Unreported,
		"force", force,
	)

	if len(reportErrs) > 0 {
		return result, fmt.Errorf("report enqueue failure: %w", errors.Join(reportErrs...))
	}
	return result, nil
}

func (d *Dispatcher) appendError(ctx context.Context, job domain.Job, message string) {
	if d.errorLog == nil {
		return
	}
	rec := domain.NewErrorRecord(job.Key, job.EntityID, job.Kind, message)
	if err := d.errorLog.Append(ctx, rec); err != nil {
		d.logger.Error("failed to append error record", "job_id", job.ID, "error", err)
	}
}

// Submit ставит в очередь single-job задачу.
func (d *Dispatcher) Submit(ctx context.Context, key, entityID string, task domain.Task) (*domain.Job, error) {
	if task == nil {
		return nil, fmt.Errorf("%w: task is required", ErrInvalidDispatch)
	}
	if task.Kind().IsFanIn() {
		return nil, fmt.Errorf("%w: %s must be dispatched with its entity", ErrInvalidDispatch, task.Kind())
	}

	job, err := domain.NewJob(key, entityID, task)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDispatch, err)
	}

	queue := mq.QueueFor(job.Kind)
	if err := d.jobs.Enqueue(ctx, queue, job); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", job.Kind, err)
	}

	d.logger.Info("job submitted",
		"key", key,
		"entity_id", entityID,
		"job_id", job.ID,
		"task_kind", job.Kind,
	)
	return &job, nil
}

func validateDispatch(key, entityID string, tasks []domain.Task) error {
	var errs []error
	if strings.TrimSpace(key) == "" {
		errs = append(errs, errors.New("key is required"))
	}
	if strings.TrimSpace(entityID) == "" {
		errs = append(errs, errors.New("entity_id is required"))
	}
	if len(tasks) == 0 {
		errs = append(errs, errors.New("at least one task is required"))
	}
	for i, task := range tasks {
		if task == nil {
			errs = append(errs, fmt.Errorf("task %d is nil", i))
			continue
		}
		if !task.Kind().IsFanIn() {
			errs = append(errs, fmt.Errorf("task %d: %s is not a fan-in kind", i, task.Kind()))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidDispatch, errors.Join(errs...))
	}
	return nil
}
