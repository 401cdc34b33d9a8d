package ticket

import (
	"time"

	"github.com/google/uuid"
)

// Ticket maps to the tickets table. A ticket is the patient's admission
// record for the day; queue entries reference it but never own it. Tickets
// are immutable once issued.
type Ticket struct {
	ID           uuid.UUID `db:"id" json:"id"`
	TicketNumber string    `db:"ticket_number" json:"ticket_number"`
	PatientName  string    `db:"patient_name" json:"patient_name"`
	PatientPhone *string   `db:"patient_phone" json:"patient_phone,omitempty"`
	Notes        *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
