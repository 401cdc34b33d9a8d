// Package websocket fans queue activity out to connected clients in real
// time: patient displays, doctor dashboards and receptionist consoles
// subscribe to topics and receive the events broadcast to those topics.
// Delivery is fire-and-forget. Events are never persisted, ordered against
// the ledger, or redelivered; a client that connects after an event was
// published never sees it and re-reads the queue instead.
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// EventMessage is the generic relay event produced by a client "message"
// action.
const EventMessage = "message"

// Event is a single real-time notification sent to WebSocket clients.
type Event struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is an inbound message from a WebSocket client.
type ClientMessage struct {
	Action string          `json:"action"`
	Topics []string        `json:"topics,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// EventPublisher is implemented by every sink the services can publish to:
// the hub, the webhook dispatcher, or a fan-out over both.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// MultiPublisher fans one event out to several publishers in order.
type MultiPublisher []EventPublisher

// Publish delivers the event to every publisher, stopping at the first error.
func (mp MultiPublisher) Publish(ctx context.Context, event Event) error {
	for _, p := range mp {
		if err := p.Publish(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

type clientSet map[*Client]struct{}

func (s clientSet) add(c *Client)    { s[c] = struct{}{} }
func (s clientSet) remove(c *Client) { delete(s, c) }

// Hub tracks connected clients and their topic subscriptions and fans
// events out to them. Safe for concurrent use.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]clientSet
	conns  clientSet
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		topics: make(map[string]clientSet),
		conns:  make(clientSet),
	}
}

// Register adds a client and its initial topic subscriptions.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.conns.add(client)
	for _, topic := range client.Topics {
		h.subscribeLocked(client, topic)
	}
}

// Unregister drops the client from every topic and closes its send channel.
// A disconnect never changes queue state.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		h.unsubscribeLocked(client, topic)
	}
	h.conns.remove(client)
	close(client.Send)
}

// Subscribe adds topics to an already-registered client.
func (h *Hub) Subscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, topic := range topics {
		h.subscribeLocked(client, topic)
	}
	client.Topics = append(client.Topics, topics...)
}

// Unsubscribe removes topics from an already-registered client.
func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	dropped := make(map[string]struct{}, len(topics))
	for _, topic := range topics {
		h.unsubscribeLocked(client, topic)
		dropped[topic] = struct{}{}
	}

	kept := make([]string, 0, len(client.Topics))
	for _, t := range client.Topics {
		if _, gone := dropped[t]; !gone {
			kept = append(kept, t)
		}
	}
	client.Topics = kept
}

func (h *Hub) subscribeLocked(client *Client, topic string) {
	set, ok := h.topics[topic]
	if !ok {
		set = make(clientSet)
		h.topics[topic] = set
	}
	set.add(client)
}

func (h *Hub) unsubscribeLocked(client *Client, topic string) {
	set, ok := h.topics[topic]
	if !ok {
		return
	}
	set.remove(client)
	if len(set) == 0 {
		delete(h.topics, topic)
	}
}

// ProcessMessage routes one inbound client message. Clients manage their own
// subscriptions; the "message" action relays free-form data to every
// connected client.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(client, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	case "message":
		h.BroadcastAll(Event{Type: EventMessage, Timestamp: time.Now().UTC(), Data: msg.Data})
	}
}

// Publish implements EventPublisher. Events without a topic, or addressed to
// the reserved "all" topic, reach every connected client; everything else
// goes to the topic's subscribers plus the "all" watchers.
func (h *Hub) Publish(_ context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if event.Topic == "" || event.Topic == TopicAll {
		h.sendAll(data)
		return nil
	}
	h.sendTopic(event.Topic, data)
	return nil
}

// Broadcast sends an event to the topic's subscribers and to watchers of the
// reserved "all" topic. A client subscribed to both gets a single copy.
func (h *Hub) Broadcast(topic string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	h.sendTopic(topic, data)
}

// BroadcastAll sends an event to every connected client regardless of topic.
func (h *Hub) BroadcastAll(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	h.sendAll(data)
}

func (h *Hub) sendTopic(topic string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := make(clientSet)
	for client := range h.topics[topic] {
		client.enqueue(data)
		delivered.add(client)
	}
	for client := range h.topics[TopicAll] {
		if _, dup := delivered[client]; dup {
			continue
		}
		client.enqueue(data)
	}
}

func (h *Hub) sendAll(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.conns {
		client.enqueue(data)
	}
}

// ClientCount reports how many clients are connected.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// TopicCount reports how many clients subscribe to the topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
