package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Sourcing/internal/domain"
)

// CredentialRepo — ключи тенантов для API маркетплейсов.
type CredentialRepo struct {
	pool *pgxpool.Pool
}

// NewCredentialRepo создаёт новый CredentialRepo.
func NewCredentialRepo(pool *pgxpool.Pool) *CredentialRepo {
	return &CredentialRepo{pool: pool}
}

// Get возвращает ключ тенанта для маркетплейса или ErrNotFound.
func (r *CredentialRepo) Get(ctx context.Context, key, marketplace string) (*domain.Credential, error) {
	query := `
		SELECT tenant_key, marketplace, api_key
		FROM tenant_credentials
		WHERE tenant_key = $1 AND marketplace = $2
	`
	var cred domain.Credential
	err := r.pool.QueryRow(ctx, query, key, marketplace).Scan(&cred.Key, &cred.Marketplace, &cred.APIKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return &cred, nil
}

// Upsert сохраняет ключ тенанта.
func (r *CredentialRepo) Upsert(ctx context.Context, cred *domain.Credential) error {
	query := `
		INSERT INTO tenant_credentials (tenant_key, marketplace, api_key)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_key, marketplace) DO UPDATE SET api_key = EXCLUDED.api_key
	`
	if _, err := r.pool.Exec(ctx, query, cred.Key, cred.Marketplace, cred.APIKey); err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}
