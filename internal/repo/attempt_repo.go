package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Sourcing/internal/domain"
)

// AttemptRepo — попытки выполнения single-job задач.
type AttemptRepo struct {
	pool *pgxpool.Pool
}

// NewAttemptRepo создаёт новый AttemptRepo.
func NewAttemptRepo(pool *pgxpool.Pool) *AttemptRepo {
	return &AttemptRepo{pool: pool}
}

// Begin сохраняет попытку в статусе pending.
func (r *AttemptRepo) Begin(ctx context.Context, attempt *domain.RegistrationAttempt) error {
	query := `
		INSERT INTO registration_attempts (id, job_id, tenant_key, entity_id, task_kind, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.pool.Exec(ctx, query,
		attempt.ID,
		attempt.JobID,
		attempt.Key,
		attempt.EntityID,
		attempt.Kind,
		attempt.Status,
		attempt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// Finish переводит попытку в терминальный статус.
// Возвращает ErrInvalidState, если попытка уже не pending.
func (r *AttemptRepo) Finish(ctx context.Context, attempt *domain.RegistrationAttempt) error {
	if !attempt.Status.IsTerminal() {
		return fmt.Errorf("%w: attempt status %s is not terminal", ErrInvalidState, attempt.Status)
	}

	var result []byte
	if len(attempt.ResultPayload) > 0 {
		result = attempt.ResultPayload
	}

	query := `
		UPDATE registration_attempts
		SET status = $2, result_payload = $3, failure_reason = $4, finished_at = $5
		WHERE id = $1 AND status = 'pending'
	`
	tag, err := r.pool.Exec(ctx, query,
		attempt.ID,
		attempt.Status,
		result,
		nullString(attempt.FailureReason),
		attempt.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("update attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// ListByEntity возвращает попытки сущности в порядке создания.
func (r *AttemptRepo) ListByEntity(ctx context.Context, entityID string) ([]domain.RegistrationAttempt, error) {
	query := `
		SELECT id, job_id, tenant_key, entity_id, task_kind, status,
		       result_payload, failure_reason, created_at, finished_at
		FROM registration_attempts
		WHERE entity_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.pool.Query(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []domain.RegistrationAttempt
	for rows.Next() {
		var a domain.RegistrationAttempt
		var result []byte
		var reason *string

		if err := rows.Scan(
			&a.ID,
			&a.JobID,
			&a.Key,
			&a.EntityID,
			&a.Kind,
			&a.Status,
			&result,
			&reason,
			&a.CreatedAt,
			&a.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}

		if result != nil {
			a.ResultPayload = json.RawMessage(result)
		}
		a.FailureReason = derefString(reason)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
