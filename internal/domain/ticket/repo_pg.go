package ticket

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicq/clinicq/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type ticketRepoPG struct{ pool *pgxpool.Pool }

func NewTicketRepoPG(pool *pgxpool.Pool) TicketRepository { return &ticketRepoPG{pool: pool} }

func (r *ticketRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const ticketCols = `id, ticket_number, patient_name, patient_phone, notes, created_at`

func (r *ticketRepoPG) scanTicket(row pgx.Row) (*Ticket, error) {
	var t Ticket
	err := row.Scan(&t.ID, &t.TicketNumber, &t.PatientName, &t.PatientPhone, &t.Notes, &t.CreatedAt)
	return &t, err
}

func (r *ticketRepoPG) Create(ctx context.Context, t *Ticket) error {
	t.ID = uuid.New()
	// ticket_number defaults to the next value of the ticket number sequence.
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO tickets (id, patient_name, patient_phone, notes)
		VALUES ($1, $2, $3, $4)
		RETURNING ticket_number, created_at`,
		t.ID, t.PatientName, t.PatientPhone, t.Notes).
		Scan(&t.TicketNumber, &t.CreatedAt)
}

func (r *ticketRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	return r.scanTicket(r.conn(ctx).QueryRow(ctx, `SELECT `+ticketCols+` FROM tickets WHERE id = $1`, id))
}

func (r *ticketRepoPG) List(ctx context.Context, limit, offset int) ([]*Ticket, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM tickets`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+ticketCols+` FROM tickets ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Ticket
	for rows.Next() {
		t, err := r.scanTicket(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, nil
}
