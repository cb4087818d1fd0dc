package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-automation/internal/domain"
)

// KeyStore is the durable record of API credentials.
//
// Put rejects a second ACTIVE key for the same customer with ErrConflict.
// CompareAndSwap writes the mutable lifecycle fields of key only when the
// stored status still equals expected; otherwise it returns ErrConflict.
type KeyStore interface {
	Put(ctx context.Context, key *domain.APIKey) error
	GetByID(ctx context.Context, id string) (*domain.APIKey, error)
	GetByCustomer(ctx context.Context, customerID string) (*domain.APIKey, error)
	GetByHash(ctx context.Context, hash string) (*domain.APIKey, error)
	ListByCustomer(ctx context.Context, customerID string) ([]domain.APIKey, error)
	ListLiveByCustomer(ctx context.Context, customerID string) ([]domain.APIKey, error)
	ListExpiredRotating(ctx context.Context, now time.Time) ([]domain.APIKey, error)
	CompareAndSwap(ctx context.Context, key *domain.APIKey, expected domain.KeyStatus) error
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

type keyStore struct {
	pool *pgxpool.Pool
}

// NewKeyStore returns a Postgres-backed KeyStore.
func NewKeyStore(pool *pgxpool.Pool) KeyStore {
	return &keyStore{pool: pool}
}

const keyColumns = `id, customer_id, name, prefix, secret_hash, status, created_at,
               rotated_at, grace_ends_at, revoked_at, last_used_at, previous_key_id`

func (r *keyStore) Put(ctx context.Context, key *domain.APIKey) error {
	const query = `
        INSERT INTO api_keys (id, customer_id, name, prefix, secret_hash, status, created_at,
            rotated_at, grace_ends_at, revoked_at, previous_key_id)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err := r.pool.Exec(ctx, query,
		key.ID,
		key.CustomerID,
		key.Name,
		key.Prefix,
		key.SecretHash,
		key.Status,
		key.CreatedAt,
		key.RotatedAt,
		key.GraceEndsAt,
		key.RevokedAt,
		key.PreviousKeyID,
	)
	return translate(err)
}

func (r *keyStore) GetByID(ctx context.Context, id string) (*domain.APIKey, error) {
	return r.fetchSingle(ctx, `SELECT `+keyColumns+` FROM api_keys WHERE id=$1`, id)
}

func (r *keyStore) GetByCustomer(ctx context.Context, customerID string) (*domain.APIKey, error) {
	return r.fetchSingle(ctx, `SELECT `+keyColumns+` FROM api_keys WHERE customer_id=$1 AND status='ACTIVE'`, customerID)
}

func (r *keyStore) GetByHash(ctx context.Context, hash string) (*domain.APIKey, error) {
	return r.fetchSingle(ctx, `SELECT `+keyColumns+` FROM api_keys WHERE secret_hash=$1`, hash)
}

func (r *keyStore) ListByCustomer(ctx context.Context, customerID string) ([]domain.APIKey, error) {
	return r.fetchMany(ctx, `SELECT `+keyColumns+` FROM api_keys WHERE customer_id=$1 ORDER BY created_at DESC`, customerID)
}

func (r *keyStore) ListLiveByCustomer(ctx context.Context, customerID string) ([]domain.APIKey, error) {
	return r.fetchMany(ctx, `SELECT `+keyColumns+` FROM api_keys
        WHERE customer_id=$1 AND status IN ('ACTIVE','ROTATING') ORDER BY created_at DESC`, customerID)
}

func (r *keyStore) ListExpiredRotating(ctx context.Context, now time.Time) ([]domain.APIKey, error) {
	return r.fetchMany(ctx, `SELECT `+keyColumns+` FROM api_keys
        WHERE status='ROTATING' AND grace_ends_at <= $1 ORDER BY grace_ends_at ASC`, now)
}

func (r *keyStore) CompareAndSwap(ctx context.Context, key *domain.APIKey, expected domain.KeyStatus) error {
	const query = `
        UPDATE api_keys SET status=$1, rotated_at=$2, grace_ends_at=$3, revoked_at=$4
        WHERE id=$5 AND status=$6`
	cmd, err := r.pool.Exec(ctx, query,
		key.Status,
		key.RotatedAt,
		key.GraceEndsAt,
		key.RevokedAt,
		key.ID,
		expected,
	)
	if err != nil {
		return translate(err)
	}
	if cmd.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, key.ID); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func (r *keyStore) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE api_keys SET last_used_at=$1 WHERE id=$2`, at, id)
	return translate(err)
}

func (r *keyStore) fetchSingle(ctx context.Context, query string, arg any) (*domain.APIKey, error) {
	var key domain.APIKey
	if err := scanKey(r.pool.QueryRow(ctx, query, arg), &key); err != nil {
		return nil, translate(err)
	}
	return &key, nil
}

func (r *keyStore) fetchMany(ctx context.Context, query string, args ...any) ([]domain.APIKey, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var result []domain.APIKey
	for rows.Next() {
		var key domain.APIKey
		if err := scanKey(rows, &key); err != nil {
			return nil, err
		}
		result = append(result, key)
	}
	return result, rows.Err()
}

func scanKey(row pgx.Row, key *domain.APIKey) error {
	return row.Scan(
		&key.ID,
		&key.CustomerID,
		&key.Name,
		&key.Prefix,
		&key.SecretHash,
		&key.Status,
		&key.CreatedAt,
		&key.RotatedAt,
		&key.GraceEndsAt,
		&key.RevokedAt,
		&key.LastUsedAt,
		&key.PreviousKeyID,
	)
}
