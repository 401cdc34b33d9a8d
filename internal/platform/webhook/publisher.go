package webhook

import (
	"context"

	"github.com/clinicq/clinicq/internal/platform/websocket"
)

// Publisher adapts the webhook manager to websocket.EventPublisher so domain
// services can fan the same events out to registered HTTP targets.
type Publisher struct {
	manager *Manager
}

// NewPublisher creates a Publisher backed by the given manager.
func NewPublisher(m *Manager) *Publisher {
	return &Publisher{manager: m}
}

// Publish delivers the event to matching subscriptions in the background.
// The caller's context is not reused: it is tied to the HTTP request and
// gets canceled as soon as the response is written, which would abort
// in-flight webhook POSTs.
func (p *Publisher) Publish(_ context.Context, event websocket.Event) error {
	evt := Event{
		Type:      event.Type,
		Topic:     event.Topic,
		Payload:   event.Data,
		Timestamp: event.Timestamp,
	}
	go p.manager.Deliver(context.Background(), evt)
	return nil
}
