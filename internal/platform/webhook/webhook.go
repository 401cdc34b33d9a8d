// Package webhook pushes queue and ticket events to external HTTP consumers
// such as waiting-room displays, check-in kiosks, and practice management
// systems. A consumer registers a subscription naming the event types (and
// optionally the topics) it cares about; matching events are signed with
// HMAC-SHA256 and POSTed to the target with bounded retries, and every
// delivery is logged for troubleshooting.
package webhook

import (
	"encoding/json"
	"strings"
	"time"
)

// Status is the lifecycle state of a subscription.
type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
	// StatusFailing marks subscriptions suspended automatically after too
	// many consecutive delivery failures. Resuming reactivates them.
	StatusFailing Status = "failing"
)

// Subscription is a registered webhook target. Events holds the event type
// patterns it subscribes to; Topics optionally narrows delivery to matching
// topic prefixes (empty means every topic).
type Subscription struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret,omitempty"`
	Events    []string  `json:"events"`
	Topics    []string  `json:"topics,omitempty"`
	Status    Status    `json:"status"`
	Failures  int       `json:"consecutive_failures"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// wants reports whether the subscription's filters admit the event.
func (s Subscription) wants(evt Event) bool {
	return s.matchesType(evt.Type) && s.matchesTopic(evt.Topic)
}

// matchesType checks the event type against the subscribed patterns: exact
// ("queue-changed"), trailing wildcard ("queue-*"), or "*" for everything.
func (s Subscription) matchesType(eventType string) bool {
	for _, pat := range s.Events {
		if pat == "*" || pat == eventType {
			return true
		}
		if strings.HasSuffix(pat, "*") && strings.HasPrefix(eventType, strings.TrimSuffix(pat, "*")) {
			return true
		}
	}
	return false
}

// matchesTopic checks the event topic against the topic filters. A filter
// matches exactly or as a prefix, so "doctor:12" admits doctor 12's stream
// and "queue:12:" admits every date and hospital for that doctor. No filters
// means every topic.
func (s Subscription) matchesTopic(topic string) bool {
	if len(s.Topics) == 0 {
		return true
	}
	for _, t := range s.Topics {
		if t == topic || strings.HasPrefix(topic, t) {
			return true
		}
	}
	return false
}

// redacted returns a copy safe to expose over the API, with the signing
// secret stripped. The secret is only ever returned at registration time.
func (s Subscription) redacted() *Subscription {
	s.Secret = ""
	return &s
}

// Event is the envelope POSTed to subscription targets.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Topic     string          `json:"topic,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// State is the terminal outcome of a delivery.
type State string

const (
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Delivery records the outcome of pushing one event to one subscription,
// retries included. Attempts counts how many times the POST was tried and
// Elapsed is the total wire time across all of them.
type Delivery struct {
	ID             string        `json:"id"`
	SubscriptionID string        `json:"subscription_id"`
	EventID        string        `json:"event_id"`
	EventType      string        `json:"event_type"`
	Topic          string        `json:"topic,omitempty"`
	Payload        []byte        `json:"payload"`
	Signature      string        `json:"signature"`
	StatusCode     int           `json:"status_code,omitempty"`
	Response       string        `json:"response,omitempty"`
	Attempts       int           `json:"attempts"`
	State          State         `json:"state"`
	Error          string        `json:"error,omitempty"`
	Elapsed        time.Duration `json:"elapsed_ns"`
	CreatedAt      time.Time     `json:"created_at"`
}

// DeliveryResult summarises one subscription's outcome for a Deliver call.
type DeliveryResult struct {
	SubscriptionID string `json:"subscription_id"`
	Success        bool   `json:"success"`
	StatusCode     int    `json:"status_code"`
	Attempts       int    `json:"attempts"`
	Error          string `json:"error,omitempty"`
}
