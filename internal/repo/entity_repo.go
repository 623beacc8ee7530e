package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Sourcing/internal/aggregator"
	"github.com/shaiso/Sourcing/internal/domain"
)

// EntityRepo — состояние обработки сущностей и счётчики fan-in.
// Реализует aggregator.Store.
type EntityRepo struct {
	pool *pgxpool.Pool
}

// NewEntityRepo создаёт новый EntityRepo.
func NewEntityRepo(pool *pgxpool.Pool) *EntityRepo {
	return &EntityRepo{pool: pool}
}

var _ aggregator.Store = (*EntityRepo)(nil)

// InTx выполняет fn в транзакции READ COMMITTED.
// Сериализация по сущности обеспечивается LockEntity (SELECT ... FOR UPDATE).
func (r *EntityRepo) InTx(ctx context.Context, fn func(tx aggregator.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&entityTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// CreateEntity создаёт состояние сущности со счётчиками.
//
// Существующая сущность в терминальном статусе пересоздаётся
// (повторная обработка), в нетерминальном — ErrEntityInProgress.
func (r *EntityRepo) CreateEntity(ctx context.Context, state *domain.EntityState) error {
	return r.createEntity(ctx, state, false)
}

// ResetEntity пересоздаёт состояние сущности в любом статусе.
func (r *EntityRepo) ResetEntity(ctx context.Context, state *domain.EntityState) error {
	return r.createEntity(ctx, state, true)
}

func (r *EntityRepo) createEntity(ctx context.Context, state *domain.EntityState, force bool) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status domain.EntityStatus
	err = tx.QueryRow(ctx,
		`SELECT status FROM entity_processing WHERE entity_id = $1 FOR UPDATE`,
		state.EntityID,
	).Scan(&status)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		query := `
			INSERT INTO entity_processing (entity_id, tenant_key, status, degraded, created_at, updated_at)
			VALUES ($1, $2, $3, FALSE, $4, $5)
		`
		if _, err := tx.Exec(ctx, query,
			state.EntityID, state.Key, state.Status, state.CreatedAt, state.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert entity: %w", err)
		}
	case err != nil:
		return fmt.Errorf("select entity: %w", err)
	case !status.IsTerminal() && !force:
		return aggregator.ErrEntityInProgress
	default:
		query := `
			UPDATE entity_processing
			SET tenant_key = $2, status = $3, degraded = FALSE,
			    created_at = $4, updated_at = $5, finished_at = NULL
			WHERE entity_id = $1
		`
		if _, err := tx.Exec(ctx, query,
			state.EntityID, state.Key, state.Status, state.CreatedAt, state.UpdatedAt,
		); err != nil {
			return fmt.Errorf("reset entity: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM entity_counters WHERE entity_id = $1`, state.EntityID); err != nil {
			return fmt.Errorf("reset counters: %w", err)
		}
	}

	for dim, n := range state.Counters {
		query := `
			INSERT INTO entity_counters (entity_id, dimension, remaining, initial)
			VALUES ($1, $2, $3, $4)
		`
		if _, err := tx.Exec(ctx, query, state.EntityID, dim, n, state.Initial[dim]); err != nil {
			return fmt.Errorf("insert %s counter: %w", dim, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetEntity возвращает состояние сущности со счётчиками.
func (r *EntityRepo) GetEntity(ctx context.Context, entityID string) (*domain.EntityState, error) {
	state, err := scanEntity(r.pool.QueryRow(ctx, selectEntity+` WHERE entity_id = $1`, entityID))
	if err != nil {
		return nil, err
	}

	if err := loadCounters(ctx, r.pool, state); err != nil {
		return nil, err
	}
	return state, nil
}

// --- Tx ---

type entityTx struct {
	tx pgx.Tx
}

func (t *entityTx) LockEntity(ctx context.Context, entityID string) (*domain.EntityState, error) {
	state, err := scanEntity(t.tx.QueryRow(ctx, selectEntity+` WHERE entity_id = $1 FOR UPDATE`, entityID))
	if err != nil {
		return nil, err
	}

	if err := loadCounters(ctx, t.tx, state); err != nil {
		return nil, err
	}
	return state, nil
}

func (t *entityTx) DecrementCounter(ctx context.Context, entityID string, dim domain.Dimension) (bool, map[domain.Dimension]int, error) {
	query := `
		UPDATE entity_counters
		SET remaining = remaining - 1
		WHERE entity_id = $1 AND dimension = $2 AND remaining > 0
	`
	result, err := t.tx.Exec(ctx, query, entityID, dim)
	if err != nil {
		return false, nil, fmt.Errorf("update counter: %w", err)
	}
	applied := result.RowsAffected() == 1

	remaining, err := queryCounters(ctx, t.tx, entityID)
	if err != nil {
		return false, nil, err
	}
	return applied, remaining, nil
}

func (t *entityTx) MarkDegraded(ctx context.Context, entityID string) error {
	query := `UPDATE entity_processing SET degraded = TRUE, updated_at = now() WHERE entity_id = $1`
	result, err := t.tx.Exec(ctx, query, entityID)
	if err != nil {
		return fmt.Errorf("update entity: %w", err)
	}
	if result.RowsAffected() == 0 {
		return aggregator.ErrEntityNotFound
	}
	return nil
}

func (t *entityTx) SetTerminalStatus(ctx context.Context, entityID string, status domain.EntityStatus) (bool, error) {
	query := `
		UPDATE entity_processing
		SET status = $2, updated_at = now(), finished_at = now()
		WHERE entity_id = $1 AND status NOT IN ('SUCCEEDED', 'DEGRADED')
	`
	result, err := t.tx.Exec(ctx, query, entityID, status)
	if err != nil {
		return false, fmt.Errorf("update entity status: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

func (t *entityTx) AppendErrorRecord(ctx context.Context, rec *domain.ErrorRecord) error {
	return insertErrorRecord(ctx, t.tx, rec)
}

// --- Helpers ---

// querier — общий интерфейс pgxpool.Pool и pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const selectEntity = `
	SELECT entity_id, tenant_key, status, degraded, created_at, updated_at, finished_at
	FROM entity_processing`

// scanEntity сканирует строку entity_processing.
func scanEntity(row pgx.Row) (*domain.EntityState, error) {
	var state domain.EntityState

	err := row.Scan(
		&state.EntityID,
		&state.Key,
		&state.Status,
		&state.Degraded,
		&state.CreatedAt,
		&state.UpdatedAt,
		&state.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, aggregator.ErrEntityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan entity: %w", err)
	}
	return &state, nil
}

// loadCounters заполняет Counters и Initial.
func loadCounters(ctx context.Context, q querier, state *domain.EntityState) error {
	rows, err := q.Query(ctx,
		`SELECT dimension, remaining, initial FROM entity_counters WHERE entity_id = $1`,
		state.EntityID,
	)
	if err != nil {
		return fmt.Errorf("query counters: %w", err)
	}
	defer rows.Close()

	state.Counters = make(map[domain.Dimension]int)
	state.Initial = make(map[domain.Dimension]int)
	for rows.Next() {
		var dim domain.Dimension
		var remaining, initial int
		if err := rows.Scan(&dim, &remaining, &initial); err != nil {
			return fmt.Errorf("scan counter: %w", err)
		}
		state.Counters[dim] = remaining
		state.Initial[dim] = initial
	}
	return rows.Err()
}

// queryCounters перечитывает оставшиеся значения всех счётчиков сущности.
func queryCounters(ctx context.Context, q querier, entityID string) (map[domain.Dimension]int, error) {
	state := &domain.EntityState{EntityID: entityID}
	if err := loadCounters(ctx, q, state); err != nil {
		return nil, err
	}
	return state.Counters, nil
}
