package queue

import (
	"time"

	"github.com/google/uuid"
)

// DateLayout is the wire format for appointment dates. Queues are scoped to
// a calendar day; time of day never participates in the key.
const DateLayout = "2006-01-02"

// Key identifies a single queue: one doctor's line on one day at one
// hospital. Every ordering guarantee holds within a key and says nothing
// across keys.
type Key struct {
	DoctorID        int       `json:"doctor_id"`
	AppointmentDate time.Time `json:"appointment_date"`
	HospitalID      string    `json:"hospital_id"`
}

// Entry maps to the queue_entries table. Position is assigned by the ledger
// when the entry is inserted and never changes afterwards; removing an entry
// leaves a gap rather than renumbering the remainder.
type Entry struct {
	ID              uuid.UUID `db:"id" json:"id"`
	DoctorID        int       `db:"doctor_id" json:"doctor_id"`
	AppointmentDate time.Time `db:"appointment_date" json:"appointment_date"`
	HospitalID      string    `db:"hospital_id" json:"hospital_id"`
	Position        int       `db:"position" json:"position"`
	TicketID        uuid.UUID `db:"ticket_id" json:"ticket_id"`
	Pending         bool      `db:"pending" json:"pending"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`

	// Joined from the tickets table on reads; never written through here.
	TicketNumber string `db:"ticket_number" json:"ticket_number,omitempty"`
	PatientName  string `db:"patient_name" json:"patient_name,omitempty"`
}

// Key returns the queue the entry belongs to.
func (e *Entry) Key() Key {
	return Key{DoctorID: e.DoctorID, AppointmentDate: e.AppointmentDate, HospitalID: e.HospitalID}
}

// FutureAppointment maps to the future_appointments table. Records are
// append-only reminders that a patient should return on a later date and
// carry no queue ordering semantics.
type FutureAppointment struct {
	ID                    uuid.UUID `db:"id" json:"id"`
	DoctorID              int       `db:"doctor_id" json:"doctor_id"`
	PatientID             uuid.UUID `db:"patient_id" json:"patient_id"`
	FutureAppointmentDate time.Time `db:"future_appointment_date" json:"future_appointment_date"`
	Notes                 *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt             time.Time `db:"created_at" json:"created_at"`
}
