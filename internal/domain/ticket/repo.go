package ticket

import (
	"context"

	"github.com/google/uuid"
)

type TicketRepository interface {
	// Create persists a new ticket. ID, TicketNumber and CreatedAt are set
	// on return; the ledger allocates the number.
	Create(ctx context.Context, t *Ticket) error
	GetByID(ctx context.Context, id uuid.UUID) (*Ticket, error)
	List(ctx context.Context, limit, offset int) ([]*Ticket, int, error)
}
