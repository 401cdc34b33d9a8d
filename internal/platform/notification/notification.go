// Package notification delivers ticket and appointment messages to patients
// over email and SMS. Rendering uses the built-in clinic templates, delivery
// goes through pluggable senders, and a bounded in-memory history backs the
// inspection API.
package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Channel is the delivery mechanism for a notification.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Status tracks a notification through its delivery attempt.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// historyLimit bounds the in-memory record; the oldest entries fall off.
const historyLimit = 1024

// Notification is one outbound message and the outcome of its delivery.
type Notification struct {
	ID           string            `json:"id"`
	Channel      Channel           `json:"channel"`
	Recipient    string            `json:"recipient"`
	Subject      string            `json:"subject,omitempty"`
	Body         string            `json:"body"`
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateData map[string]string `json:"template_data,omitempty"`
	Status       Status            `json:"status"`
	Error        string            `json:"error,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
}

// NotificationManager renders, dispatches and records outbound messages. The
// history is an operational convenience, not a durable outbox: it lives in
// memory and is capped at historyLimit entries.
type NotificationManager struct {
	email     EmailSender
	sms       SMSSender
	templates *TemplateEngine

	mu    sync.RWMutex
	byID  map[string]*Notification
	order []string // insertion order, oldest first
}

func NewNotificationManager(email EmailSender, sms SMSSender, templates *TemplateEngine) *NotificationManager {
	return &NotificationManager{
		email:     email,
		sms:       sms,
		templates: templates,
		byID:      make(map[string]*Notification),
	}
}

// Send dispatches n on its channel and records the outcome. The returned
// error reflects the delivery attempt; the notification is recorded either
// way so failures stay visible.
func (m *NotificationManager) Send(ctx context.Context, n *Notification) error {
	if n.Recipient == "" {
		return errors.New("recipient is required")
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.CreatedAt = time.Now().UTC()
	n.Status = StatusPending

	m.record(n)
	return m.dispatch(ctx, n)
}

// SendFromTemplate renders the named template with data and sends the result
// to recipient on the template's channel.
func (m *NotificationManager) SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*Notification, error) {
	tpl, err := m.templates.Lookup(templateID)
	if err != nil {
		return nil, err
	}
	subject, body := tpl.render(data)

	n := &Notification{
		Channel:      tpl.Channel,
		Recipient:    recipient,
		Subject:      subject,
		Body:         body,
		TemplateID:   templateID,
		TemplateData: data,
	}
	if err := m.Send(ctx, n); err != nil {
		return n, err
	}
	return n, nil
}

func (m *NotificationManager) dispatch(ctx context.Context, n *Notification) error {
	var err error
	switch n.Channel {
	case ChannelEmail:
		err = m.email.SendEmail(ctx, n.Recipient, n.Subject, n.Body)
	case ChannelSMS:
		err = m.sms.SendSMS(ctx, n.Recipient, n.Body)
	default:
		err = fmt.Errorf("unknown channel %q", n.Channel)
	}

	m.mu.Lock()
	if err != nil {
		n.Status = StatusFailed
		n.Error = err.Error()
	} else {
		n.Status = StatusSent
		n.Error = ""
		at := time.Now().UTC()
		n.SentAt = &at
	}
	m.mu.Unlock()

	return err
}

func (m *NotificationManager) record(n *Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[n.ID] = n
	m.order = append(m.order, n.ID)
	for len(m.order) > historyLimit {
		delete(m.byID, m.order[0])
		m.order = m.order[1:]
	}
}

// GetNotification returns the recorded notification with the given ID.
func (m *NotificationManager) GetNotification(_ context.Context, id string) (*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("notification %q not found", id)
	}
	return n, nil
}

// ListByRecipient returns up to limit notifications for recipient, newest
// first.
func (m *NotificationManager) ListByRecipient(_ context.Context, recipient string, limit int) ([]*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Notification
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		if n := m.byID[m.order[i]]; n != nil && n.Recipient == recipient {
			out = append(out, n)
		}
	}
	return out, nil
}

// Retry re-dispatches a failed notification. Sent and pending notifications
// are left alone.
func (m *NotificationManager) Retry(ctx context.Context, id string) error {
	m.mu.RLock()
	n, ok := m.byID[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("notification %q not found", id)
	}
	if n.Status != StatusFailed {
		return fmt.Errorf("notification %q is %s, only failed ones can be retried", id, n.Status)
	}
	return m.dispatch(ctx, n)
}

// Stats summarises the recorded notifications.
type Stats struct {
	Total     int             `json:"total"`
	Sent      int             `json:"sent"`
	Failed    int             `json:"failed"`
	Pending   int             `json:"pending"`
	ByChannel map[Channel]int `json:"by_channel"`
}

func (m *NotificationManager) Stats(_ context.Context) Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Stats{ByChannel: make(map[Channel]int)}
	for _, n := range m.byID {
		st.Total++
		switch n.Status {
		case StatusSent:
			st.Sent++
		case StatusFailed:
			st.Failed++
		default:
			st.Pending++
		}
		st.ByChannel[n.Channel]++
	}
	return st
}
