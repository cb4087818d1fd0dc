package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-automation/internal/domain"
)

// UsageRange bounds a usage sum. Nil bounds are open; To is exclusive.
type UsageRange struct {
	From *time.Time
	To   *time.Time
}

// UsageRepository is the append-only usage log.
type UsageRepository interface {
	Append(ctx context.Context, record *domain.UsageRecord) error
	Sum(ctx context.Context, customerID string, window UsageRange) (int64, error)
}

type usageRepository struct {
	pool *pgxpool.Pool
}

// NewUsageRepository returns a Postgres-backed usage log.
func NewUsageRepository(pool *pgxpool.Pool) UsageRepository {
	return &usageRepository{pool: pool}
}

func (r *usageRepository) Append(ctx context.Context, record *domain.UsageRecord) error {
	const query = `
        INSERT INTO usage_records (id, customer_id, key_id, recorded_at, units, endpoint)
        VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := r.pool.Exec(ctx, query,
		record.ID,
		record.CustomerID,
		record.KeyID,
		record.Timestamp,
		record.Units,
		record.Endpoint,
	)
	return translate(err)
}

func (r *usageRepository) Sum(ctx context.Context, customerID string, window UsageRange) (int64, error) {
	clauses := []string{"customer_id=$1"}
	args := []any{customerID}
	if window.From != nil {
		args = append(args, *window.From)
		clauses = append(clauses, fmt.Sprintf("recorded_at >= $%d", len(args)))
	}
	if window.To != nil {
		args = append(args, *window.To)
		clauses = append(clauses, fmt.Sprintf("recorded_at < $%d", len(args)))
	}
	query := `SELECT COALESCE(SUM(units), 0) FROM usage_records WHERE ` + strings.Join(clauses, " AND ")

	var total int64
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, translate(err)
	}
	return total, nil
}
