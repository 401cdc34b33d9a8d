package ticket

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinicq/clinicq/internal/platform/notification"
	"github.com/clinicq/clinicq/internal/platform/websocket"
)

// Event names published on ticket issuance. Kept verbatim from the client
// wire contract.
const (
	// EventUserTicket carries the issued ticket to its own topic.
	EventUserTicket = "UserTicket"
	// EventFetchTicket pokes every connected client to refresh ticket
	// displays. No payload.
	EventFetchTicket = "fetch-ticket"
)

type Service struct {
	repo     TicketRepository
	pub      websocket.EventPublisher
	notifier *notification.NotificationManager
}

func NewService(repo TicketRepository) *Service {
	return &Service{repo: repo}
}

// SetPublisher attaches the event fan-out. A nil publisher means no
// subscribers.
func (s *Service) SetPublisher(pub websocket.EventPublisher) { s.pub = pub }

// SetNotifier attaches the notification manager used for issuance SMS. A nil
// notifier disables notifications.
func (s *Service) SetNotifier(n *notification.NotificationManager) { s.notifier = n }

// Issue persists a new ticket and announces it. Notification failures are
// swallowed: the ticket exists once the ledger write commits.
func (s *Service) Issue(ctx context.Context, t *Ticket) error {
	if t.PatientName == "" {
		return fmt.Errorf("patient_name is required")
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return err
	}

	if s.pub != nil {
		now := time.Now().UTC()
		if data, err := json.Marshal(t); err == nil {
			_ = s.pub.Publish(ctx, websocket.Event{
				Type:      EventUserTicket,
				Topic:     websocket.TicketTopic(t.ID),
				Timestamp: now,
				Data:      data,
			})
		}
		_ = s.pub.Publish(ctx, websocket.Event{Type: EventFetchTicket, Timestamp: now})
	}

	if s.notifier != nil && t.PatientPhone != nil && *t.PatientPhone != "" {
		_, _ = s.notifier.SendFromTemplate(ctx, "ticket-issued", map[string]string{
			"patient_name":  t.PatientName,
			"ticket_number": t.TicketNumber,
		}, *t.PatientPhone)
	}
	return nil
}

func (s *Service) GetTicket(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListTickets(ctx context.Context, limit, offset int) ([]*Ticket, int, error) {
	return s.repo.List(ctx, limit, offset)
}
