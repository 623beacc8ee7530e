package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/shaiso/Sourcing/internal/domain"
	"github.com/shaiso/Sourcing/internal/telemetry"
)

const (
	outcomeSuccess = "success"
	outcomeFail    = "fail"
)

// processJob выполняет допущенный job и освобождает его ключ.
func (w *Worker) processJob(ctx context.Context, job *domain.Job) {
	start := time.Now()
	logger := telemetry.WithJob(w.logger, job.ID.String(), job.Key, job.EntityID, string(job.Kind))

	defer w.admitter.Release(job.Key)
	defer w.recoverJob(ctx, logger, job, start)

	ctx = telemetry.WithLogger(ctx, logger)

	w.metrics.JobStarted(string(w.queue))
	logger.Info("job started")

	// 1. Для single-job — попытка в статусе pending
	var attempt *domain.RegistrationAttempt
	if !job.Kind.IsFanIn() {
		attempt = domain.NewAttempt(*job)
		if err := w.attempts.Begin(ctx, attempt); err != nil {
			logger.Error("failed to record attempt, job skipped", "error", err)
			w.appendError(ctx, job, fmt.Sprintf("record attempt: %v", err))
			w.metrics.JobFinished(string(w.queue), string(job.Kind), outcomeFail, time.Since(start))
			return
		}
	}

	// 2. Выполнение
	result, execErr := w.execute(ctx, job)

	failed := execErr != nil || result.Failed()
	message := ""
	switch {
	case execErr != nil:
		message = execErr.Error()
	case result != nil:
		message = result.Error
	}

	// 3. Отчёт
	if job.Kind.IsFanIn() {
		w.reportCompletion(ctx, job, failed, message)
	} else {
		w.finishAttempt(ctx, job, attempt, result, failed, message)
	}

	outcome := outcomeSuccess
	if failed {
		outcome = outcomeFail
		logger.Warn("job failed", "error", message, "duration", time.Since(start))
	} else {
		logger.Info("job succeeded", "duration", time.Since(start))
	}
	w.metrics.JobFinished(string(w.queue), string(job.Kind), outcome, time.Since(start))
}

// execute выполняет job через executor его вида.
// Инфраструктурная ошибка повторяется один раз сразу же.
func (w *Worker) execute(ctx context.Context, job *domain.Job) (*ExecutionResult, error) {
	executor, err := w.registry.Get(job.Kind)
	if err != nil {
		return nil, err
	}

	task, err := job.Task()
	if err != nil {
		return &ExecutionResult{Error: err.Error()}, nil
	}

	result, err := safeExecute(ctx, executor, job, task)
	if err != nil && !errors.Is(err, ErrExecutionPanic) {
		w.logger.Warn("infrastructure error, retrying once",
			"job_id", job.ID,
			"task_kind", job.Kind,
			"error", err,
		)
		result, err = safeExecute(ctx, executor, job, task)
	}
	return result, err
}

// safeExecute вызывает executor, превращая панику в ошибку.
func safeExecute(ctx context.Context, executor Executor, job *domain.Job, task domain.Task) (result *ExecutionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("%w: %v", ErrExecutionPanic, r)
		}
	}()
	return executor.Execute(ctx, job, task)
}

// reportCompletion отчитывается агрегатору о fan-in под-задаче.
func (w *Worker) reportCompletion(ctx context.Context, job *domain.Job, failed bool, message string) {
	if w.reporter == nil {
		w.logger.Error("no reporter configured, completion dropped", "job_id", job.ID, "entity_id", job.EntityID)
		return
	}

	if _, err := w.reporter.Report(ctx, domain.CompletionFor(*job, failed, message)); err != nil {
		w.logger.Error("failed to report completion",
			"job_id", job.ID,
			"entity_id", job.EntityID,
			"task_kind", job.Kind,
			"error", err,
		)
		// Счётчик не уменьшен: сущность останется PENDING, запись в журнале
		// позволяет найти её и разослать повторно с force.
		w.appendError(ctx, job, fmt.Sprintf("report completion: %v", err))
	}
}

// recoverJob перехватывает панику вне executor'а (отчёт, статус попытки),
// чтобы цикл воркера продолжал работу.
func (w *Worker) recoverJob(ctx context.Context, logger *slog.Logger, job *domain.Job, start time.Time) {
	r := recover()
	if r == nil {
		return
	}

	logger.Error("job handling panicked", "panic", r, "stack", string(debug.Stack()))
	w.appendError(ctx, job, fmt.Sprintf("panic: %v", r))
	w.metrics.JobFinished(string(w.queue), string(job.Kind), outcomeFail, time.Since(start))
}

// finishAttempt переводит попытку в терминальный статус; ошибку пишет в журнал.
func (w *Worker) finishAttempt(ctx context.Context, job *domain.Job, attempt *domain.RegistrationAttempt, result *ExecutionResult, failed bool, message string) {
	if failed {
		attempt.MarkFail(message)
		if result != nil && len(result.Output) > 0 {
			attempt.ResultPayload = result.Output
		}
	} else {
		attempt.MarkSuccess(result.Output)
	}

	if err := w.attempts.Finish(ctx, attempt); err != nil {
		w.logger.Error("failed to finish attempt",
			"attempt_id", attempt.ID,
			"job_id", job.ID,
			"status", attempt.Status,
			"error", err,
		)
	}

	if failed {
		w.appendError(ctx, job, message)
	}
}

func (w *Worker) appendError(ctx context.Context, job *domain.Job, message string) {
	if w.errorLog == nil {
		return
	}
	rec := domain.NewErrorRecord(job.Key, job.EntityID, job.Kind, message)
	if err := w.errorLog.Append(ctx, rec); err != nil {
		w.logger.Error("failed to append error record", "job_id", job.ID, "error", err)
	}
}
