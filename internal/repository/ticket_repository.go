package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-automation/internal/domain"
)

// TicketFilter captures listing parameters.
type TicketFilter struct {
	CustomerID *string
	State      *domain.TicketState
	Limit      int
	Offset     int
}

// TicketRepository encapsulates ticket persistence.
//
// Transition writes state, category, closed_at and updated_at only when the
// stored state still equals expected; otherwise it returns ErrConflict.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	Transition(ctx context.Context, ticket *domain.Ticket, expected domain.TicketState) error
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, customer_id, subject, body, category, state, created_at, updated_at, closed_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (id, customer_id, subject, body, category, state, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := r.pool.Exec(ctx, query,
		ticket.ID,
		ticket.CustomerID,
		ticket.Subject,
		ticket.Body,
		ticket.Category,
		ticket.State,
		ticket.CreatedAt,
		ticket.UpdatedAt,
	)
	return translate(err)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := scanTicket(r.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id=$1`, id), &ticket); err != nil {
		return nil, translate(err)
	}
	return &ticket, nil
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE 1=1`
	args := []any{}
	if filter.CustomerID != nil {
		args = append(args, *filter.CustomerID)
		query += fmt.Sprintf(" AND customer_id=$%d", len(args))
	}
	if filter.State != nil {
		args = append(args, *filter.State)
		query += fmt.Sprintf(" AND state=$%d", len(args))
	}
	limit, offset := pageBounds(filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d OFFSET %d", limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		var ticket domain.Ticket
		if err := scanTicket(rows, &ticket); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}

func (r *ticketRepository) Transition(ctx context.Context, ticket *domain.Ticket, expected domain.TicketState) error {
	const query = `
        UPDATE tickets SET state=$1, category=$2, closed_at=$3, updated_at=$4
        WHERE id=$5 AND state=$6`
	cmd, err := r.pool.Exec(ctx, query,
		ticket.State,
		ticket.Category,
		ticket.ClosedAt,
		ticket.UpdatedAt,
		ticket.ID,
		expected,
	)
	if err != nil {
		return translate(err)
	}
	if cmd.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, ticket.ID); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func scanTicket(row pgx.Row, ticket *domain.Ticket) error {
	return row.Scan(
		&ticket.ID,
		&ticket.CustomerID,
		&ticket.Subject,
		&ticket.Body,
		&ticket.Category,
		&ticket.State,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.ClosedAt,
	)
}
