package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-automation/internal/domain"
)

// InvoiceRepository reads billing history. Invoices are written by the
// payment side of the platform, never by this service.
type InvoiceRepository interface {
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Invoice, error)
}

type invoiceRepository struct {
	pool *pgxpool.Pool
}

// NewInvoiceRepository builds repository.
func NewInvoiceRepository(pool *pgxpool.Pool) InvoiceRepository {
	return &invoiceRepository{pool: pool}
}

func (r *invoiceRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Invoice, error) {
	limit, _ = pageBounds(limit, 0)
	const query = `
        SELECT invoice_id, customer_id, amount, currency, status, COALESCE(description, ''), issued_at
        FROM invoices WHERE customer_id=$1
        ORDER BY issued_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, customerID, limit)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var result []domain.Invoice
	for rows.Next() {
		var inv domain.Invoice
		if err := rows.Scan(
			&inv.InvoiceID,
			&inv.CustomerID,
			&inv.Amount,
			&inv.Currency,
			&inv.Status,
			&inv.Description,
			&inv.IssuedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, inv)
	}
	return result, rows.Err()
}
