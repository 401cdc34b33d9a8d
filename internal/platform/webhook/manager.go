package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// deliverScanLimit bounds how many subscriptions a single event fans
	// out to.
	deliverScanLimit = 1000

	// maxResponseCapture bounds how much of a target's response body is
	// kept in the delivery log.
	maxResponseCapture = 1024

	deliveryUserAgent = "clinicq-webhook/1.0"
)

// Manager fans events out to registered subscriptions, retries transient
// failures, suspends targets that keep failing, and keeps a delivery log.
type Manager struct {
	store            Store
	client           *http.Client
	retryWait        []time.Duration
	failureThreshold int
	log              zerolog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.client = c }
}

// WithRetryWait sets the waits between delivery attempts. An event is tried
// at most len(waits)+1 times before the delivery is marked failed.
func WithRetryWait(waits ...time.Duration) Option {
	return func(m *Manager) { m.retryWait = waits }
}

// WithFailureThreshold sets how many consecutive failed deliveries suspend a
// subscription.
func WithFailureThreshold(n int) Option {
	return func(m *Manager) { m.failureThreshold = n }
}

// WithLogger attaches a logger for delivery diagnostics.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// NewManager creates a Manager with a 10s request timeout, two retries, and
// suspension after five consecutive failures.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:            store,
		client:           &http.Client{Timeout: 10 * time.Second},
		retryWait:        []time.Duration{time.Second, 5 * time.Second},
		failureThreshold: 5,
		log:              zerolog.Nop(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// validateTargetURL checks that the URL is non-empty, uses http or https,
// and names a host.
func validateTargetURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url host is required")
	}
	return nil
}

// Subscribe validates and persists a new subscription. When secret is empty
// a cryptographically random one is generated; the returned subscription is
// the only place it is ever exposed.
func (m *Manager) Subscribe(ctx context.Context, target, secret string, events, topics []string) (*Subscription, error) {
	if err := validateTargetURL(target); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("at least one event pattern is required")
	}
	if secret == "" {
		s, err := newSecret()
		if err != nil {
			return nil, fmt.Errorf("generate secret: %w", err)
		}
		secret = s
	}

	now := time.Now()
	sub := &Subscription{
		ID:        uuid.New().String(),
		URL:       target,
		Secret:    secret,
		Events:    events,
		Topics:    topics,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	m.log.Info().
		Str("subscription_id", sub.ID).
		Str("url", sub.URL).
		Strs("events", sub.Events).
		Msg("webhook subscription registered")
	return sub, nil
}

// Subscription returns one subscription by ID.
func (m *Manager) Subscription(ctx context.Context, id string) (*Subscription, error) {
	return m.store.GetSubscription(ctx, id)
}

// Subscriptions returns a page of subscriptions plus the total count.
func (m *Manager) Subscriptions(ctx context.Context, limit, offset int) ([]*Subscription, int, error) {
	return m.store.ListSubscriptions(ctx, limit, offset)
}

// UpdateSubscription persists changes made to a subscription.
func (m *Manager) UpdateSubscription(ctx context.Context, sub *Subscription) error {
	return m.store.UpdateSubscription(ctx, sub)
}

// Unsubscribe removes a subscription. Its delivery log is retained.
func (m *Manager) Unsubscribe(ctx context.Context, id string) error {
	return m.store.DeleteSubscription(ctx, id)
}

// Pause stops deliveries to the subscription until it is resumed.
func (m *Manager) Pause(ctx context.Context, id string) (*Subscription, error) {
	sub, err := m.store.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	sub.Status = StatusPaused
	sub.UpdatedAt = time.Now()
	if err := m.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Resume reactivates a paused or failing subscription and clears its
// failure streak.
func (m *Manager) Resume(ctx context.Context, id string) (*Subscription, error) {
	sub, err := m.store.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	sub.Status = StatusActive
	sub.Failures = 0
	sub.UpdatedAt = time.Now()
	if err := m.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Deliveries returns a page of the subscription's delivery log, newest first.
func (m *Manager) Deliveries(ctx context.Context, subscriptionID string, limit, offset int) ([]*Delivery, int, error) {
	return m.store.ListDeliveries(ctx, subscriptionID, limit, offset)
}

// Deliver pushes the event to every active subscription whose filters admit
// it, one result per target.
func (m *Manager) Deliver(ctx context.Context, event Event) []DeliveryResult {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	subs, _, err := m.store.ListSubscriptions(ctx, deliverScanLimit, 0)
	if err != nil {
		m.log.Error().Err(err).Msg("list webhook subscriptions")
		return nil
	}

	var results []DeliveryResult
	for _, sub := range subs {
		if sub.Status != StatusActive || !sub.wants(event) {
			continue
		}
		d := m.send(ctx, sub, event)
		m.noteOutcome(ctx, sub, d)
		results = append(results, DeliveryResult{
			SubscriptionID: sub.ID,
			Success:        d.State == StateSucceeded,
			StatusCode:     d.StatusCode,
			Attempts:       d.Attempts,
			Error:          d.Error,
		})
	}
	return results
}

// Redeliver pushes a previously recorded delivery's event again, producing a
// fresh delivery record. It works even when the subscription is paused, so
// operators can replay events by hand.
func (m *Manager) Redeliver(ctx context.Context, deliveryID string) (*Delivery, error) {
	prev, err := m.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	sub, err := m.store.GetSubscription(ctx, prev.SubscriptionID)
	if err != nil {
		return nil, err
	}
	var event Event
	if err := json.Unmarshal(prev.Payload, &event); err != nil {
		return nil, fmt.Errorf("decode stored payload: %w", err)
	}
	d := m.send(ctx, sub, event)
	m.noteOutcome(ctx, sub, d)
	return d, nil
}

// Ping sends a synthetic signed event so operators can verify a target end
// to end. Ping outcomes do not count toward the failure streak.
func (m *Manager) Ping(ctx context.Context, id string) (*Delivery, error) {
	sub, err := m.store.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	event := Event{
		ID:        uuid.New().String(),
		Type:      "webhook-ping",
		Payload:   json.RawMessage(`{"ping":true}`),
		Timestamp: time.Now(),
	}
	return m.send(ctx, sub, event), nil
}

// send signs the event and POSTs it to the subscription target, walking the
// retry schedule on transient failures. The resulting delivery is recorded
// before it is returned.
func (m *Manager) send(ctx context.Context, sub *Subscription, event Event) *Delivery {
	d := &Delivery{
		ID:             uuid.New().String(),
		SubscriptionID: sub.ID,
		EventID:        event.ID,
		EventType:      event.Type,
		Topic:          event.Topic,
		State:          StateFailed,
		CreatedAt:      time.Now(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		d.Attempts = 1
		d.Error = fmt.Sprintf("encode event: %v", err)
		m.record(ctx, sub, d)
		return d
	}
	d.Payload = payload
	d.Signature = Sign(payload, sub.Secret)

	for i := 0; ; i++ {
		d.Attempts = i + 1
		retryable := m.attempt(ctx, d, sub.URL)
		if d.State == StateSucceeded || !retryable || i == len(m.retryWait) {
			break
		}
		if err := sleep(ctx, m.retryWait[i]); err != nil {
			d.Error = err.Error()
			break
		}
	}

	m.record(ctx, sub, d)
	return d
}

// attempt performs one signed POST and fills the delivery with its outcome,
// reporting whether a failure is worth retrying. Network errors, 429s, and
// 5xx responses are transient; other non-2xx responses are permanent.
func (m *Manager) attempt(ctx context.Context, d *Delivery, target string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(d.Payload))
	if err != nil {
		d.State = StateFailed
		d.Error = err.Error()
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", deliveryUserAgent)
	req.Header.Set("X-Webhook-Signature", "sha256="+d.Signature)
	req.Header.Set("X-Webhook-ID", d.SubscriptionID)
	req.Header.Set("X-Webhook-Event", d.EventType)
	req.Header.Set("X-Webhook-Timestamp", d.CreatedAt.UTC().Format(time.RFC3339))

	start := time.Now()
	resp, err := m.client.Do(req)
	d.Elapsed += time.Since(start)
	if err != nil {
		d.State = StateFailed
		d.StatusCode = 0
		d.Error = err.Error()
		return true
	}
	defer resp.Body.Close()

	d.StatusCode = resp.StatusCode
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseCapture))
	d.Response = string(body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		d.State = StateSucceeded
		d.Error = ""
		return false
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		d.State = StateFailed
		d.Error = fmt.Sprintf("target responded %d", resp.StatusCode)
		return true
	default:
		d.State = StateFailed
		d.Error = fmt.Sprintf("target responded %d", resp.StatusCode)
		return false
	}
}

// record persists the delivery and logs failed ones.
func (m *Manager) record(ctx context.Context, sub *Subscription, d *Delivery) {
	if err := m.store.RecordDelivery(ctx, d); err != nil {
		m.log.Error().Err(err).Str("subscription_id", sub.ID).Msg("record webhook delivery")
	}
	if d.State == StateFailed {
		m.log.Warn().
			Str("subscription_id", sub.ID).
			Str("url", sub.URL).
			Str("event_type", d.EventType).
			Int("status_code", d.StatusCode).
			Int("attempts", d.Attempts).
			Str("error", d.Error).
			Msg("webhook delivery failed")
	}
}

// noteOutcome tracks the subscription's failure streak: a success clears it,
// a failure extends it, and crossing the threshold suspends the target until
// an operator resumes it.
func (m *Manager) noteOutcome(ctx context.Context, sub *Subscription, d *Delivery) {
	if d.State == StateSucceeded {
		if sub.Failures == 0 {
			return
		}
		sub.Failures = 0
	} else {
		sub.Failures++
		if sub.Failures >= m.failureThreshold && sub.Status == StatusActive {
			sub.Status = StatusFailing
			m.log.Warn().
				Str("subscription_id", sub.ID).
				Str("url", sub.URL).
				Int("consecutive_failures", sub.Failures).
				Msg("webhook subscription suspended after repeated failures")
		}
	}
	sub.UpdatedAt = time.Now()
	if err := m.store.UpdateSubscription(ctx, sub); err != nil {
		m.log.Error().Err(err).Str("subscription_id", sub.ID).Msg("update webhook subscription")
	}
}

// sleep waits for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
