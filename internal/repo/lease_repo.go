package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Sourcing/internal/admission"
)

// LeaseRepo — аренды ключей для admission в режиме кластера.
// Реализует admission.LeaseStore.
type LeaseRepo struct {
	pool *pgxpool.Pool
}

// NewLeaseRepo создаёт новый LeaseRepo.
func NewLeaseRepo(pool *pgxpool.Pool) *LeaseRepo {
	return &LeaseRepo{pool: pool}
}

var _ admission.LeaseStore = (*LeaseRepo)(nil)

// Acquire берёт аренду ключа. Чужая неистёкшая аренда не перезаписывается.
func (r *LeaseRepo) Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	query := `
		INSERT INTO admission_leases (tenant_key, holder, expires_at)
		VALUES ($1, $2, now() + make_interval(secs => $3))
		ON CONFLICT (tenant_key) DO UPDATE
		SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
		WHERE admission_leases.expires_at < now()
		   OR admission_leases.holder = EXCLUDED.holder
	`
	tag, err := r.pool.Exec(ctx, query, key, holder, ttl.Seconds())
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Release снимает аренду, если она принадлежит holder.
func (r *LeaseRepo) Release(ctx context.Context, key, holder string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM admission_leases WHERE tenant_key = $1 AND holder = $2`,
		key, holder,
	)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// DeleteExpired удаляет истёкшие аренды и возвращает их количество.
func (r *LeaseRepo) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM admission_leases WHERE expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("delete expired leases: %w", err)
	}
	return tag.RowsAffected(), nil
}
