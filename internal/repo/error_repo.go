package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Sourcing/internal/domain"
)

// ErrorRepo — журнал терминальных ошибок. Только добавление.
type ErrorRepo struct {
	pool *pgxpool.Pool
}

// NewErrorRepo создаёт новый ErrorRepo.
func NewErrorRepo(pool *pgxpool.Pool) *ErrorRepo {
	return &ErrorRepo{pool: pool}
}

// Append добавляет запись об ошибке.
func (r *ErrorRepo) Append(ctx context.Context, rec *domain.ErrorRecord) error {
	return insertErrorRecord(ctx, r.pool, rec)
}

// ListByEntity возвращает ошибки сущности в порядке появления.
func (r *ErrorRepo) ListByEntity(ctx context.Context, entityID string) ([]domain.ErrorRecord, error) {
	query := `
		SELECT id, tenant_key, entity_id, task_kind, message, created_at
		FROM error_records
		WHERE entity_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.pool.Query(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("list error records: %w", err)
	}
	defer rows.Close()

	var records []domain.ErrorRecord
	for rows.Next() {
		var rec domain.ErrorRecord
		var kind *string

		if err := rows.Scan(
			&rec.ID,
			&rec.Key,
			&rec.EntityID,
			&kind,
			&rec.Message,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan error record: %w", err)
		}
		rec.Kind = domain.TaskKind(derefString(kind))
		records = append(records, rec)
	}
	return records, rows.Err()
}

// insertErrorRecord пишет запись через пул или внутри транзакции агрегатора.
func insertErrorRecord(ctx context.Context, q querier, rec *domain.ErrorRecord) error {
	query := `
		INSERT INTO error_records (id, tenant_key, entity_id, task_kind, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := q.Exec(ctx, query,
		rec.ID,
		rec.Key,
		rec.EntityID,
		nullString(string(rec.Kind)),
		rec.Message,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert error record: %w", err)
	}
	return nil
}
