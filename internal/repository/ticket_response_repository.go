package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-automation/internal/domain"
)

// ResponseRepository stores the append-only ticket thread.
type ResponseRepository interface {
	Append(ctx context.Context, resp *domain.Response) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.Response, error)
}

type responseRepository struct {
	pool *pgxpool.Pool
}

// NewResponseRepository builds repository.
func NewResponseRepository(pool *pgxpool.Pool) ResponseRepository {
	return &responseRepository{pool: pool}
}

func (r *responseRepository) Append(ctx context.Context, resp *domain.Response) error {
	const query = `
        INSERT INTO ticket_responses (id, ticket_id, author_kind, author_id, body, created_at)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING seq`
	return translate(r.pool.QueryRow(ctx, query,
		resp.ID,
		resp.TicketID,
		resp.AuthorKind,
		resp.AuthorID,
		resp.Body,
		resp.CreatedAt,
	).Scan(&resp.Seq))
}

func (r *responseRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.Response, error) {
	const query = `
        SELECT id, ticket_id, seq, author_kind, author_id, body, created_at
        FROM ticket_responses WHERE ticket_id=$1 ORDER BY seq ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var result []domain.Response
	for rows.Next() {
		var resp domain.Response
		if err := rows.Scan(
			&resp.ID,
			&resp.TicketID,
			&resp.Seq,
			&resp.AuthorKind,
			&resp.AuthorID,
			&resp.Body,
			&resp.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, resp)
	}
	return result, rows.Err()
}
