package websocket

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TopicAll is the reserved topic whose subscribers receive every broadcast
// event regardless of its topic.
const TopicAll = "all"

// QueueTopic addresses the subscribers of a single queue: one doctor's line
// on one day at one hospital.
func QueueTopic(doctorID int, appointmentDate time.Time, hospitalID string) string {
	return fmt.Sprintf("queue:%d:%s:%s", doctorID, appointmentDate.Format("2006-01-02"), hospitalID)
}

// DoctorTopic addresses everything that happens on one doctor's queues,
// whatever the day or hospital.
func DoctorTopic(doctorID int) string {
	return fmt.Sprintf("doctor:%d", doctorID)
}

// TicketTopic addresses updates for a single ticket.
func TicketTopic(ticketID uuid.UUID) string {
	return "ticket:" + ticketID.String()
}
