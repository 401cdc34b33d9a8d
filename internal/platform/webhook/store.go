package webhook

import (
	"context"
	"fmt"
	"sync"
)

// Store is the persistence boundary for subscriptions and their delivery log.
type Store interface {
	CreateSubscription(ctx context.Context, sub *Subscription) error
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	ListSubscriptions(ctx context.Context, limit, offset int) ([]*Subscription, int, error)
	UpdateSubscription(ctx context.Context, sub *Subscription) error
	DeleteSubscription(ctx context.Context, id string) error
	RecordDelivery(ctx context.Context, d *Delivery) error
	GetDelivery(ctx context.Context, id string) (*Delivery, error)
	ListDeliveries(ctx context.Context, subscriptionID string, limit, offset int) ([]*Delivery, int, error)
}

// deliveryCap bounds the in-memory delivery log; the oldest entries are
// evicted once it fills.
const deliveryCap = 4096

// MemoryStore keeps subscriptions and deliveries in process memory. It holds
// values, not pointers, so callers may mutate what they get back without
// racing other readers. Registration order is kept for stable pagination.
type MemoryStore struct {
	mu            sync.RWMutex
	subs          map[string]Subscription
	subOrder      []string
	deliveries    map[string]Delivery
	deliveryOrder []string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs:       make(map[string]Subscription),
		deliveries: make(map[string]Delivery),
	}
}

func (s *MemoryStore) CreateSubscription(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub.ID]; ok {
		return fmt.Errorf("subscription %s already exists", sub.ID)
	}
	s.subs[sub.ID] = *sub
	s.subOrder = append(s.subOrder, sub.ID)
	return nil
}

func (s *MemoryStore) GetSubscription(_ context.Context, id string) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, fmt.Errorf("subscription %s not found", id)
	}
	return &sub, nil
}

func (s *MemoryStore) ListSubscriptions(_ context.Context, limit, offset int) ([]*Subscription, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := len(s.subOrder)
	if offset >= total {
		return []*Subscription{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	out := make([]*Subscription, 0, end-offset)
	for _, id := range s.subOrder[offset:end] {
		sub := s.subs[id]
		out = append(out, &sub)
	}
	return out, total, nil
}

func (s *MemoryStore) UpdateSubscription(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub.ID]; !ok {
		return fmt.Errorf("subscription %s not found", sub.ID)
	}
	s.subs[sub.ID] = *sub
	return nil
}

func (s *MemoryStore) DeleteSubscription(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[id]; !ok {
		return fmt.Errorf("subscription %s not found", id)
	}
	delete(s.subs, id)
	for i, sid := range s.subOrder {
		if sid == id {
			s.subOrder = append(s.subOrder[:i], s.subOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) RecordDelivery(_ context.Context, d *Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deliveries[d.ID]; !ok {
		s.deliveryOrder = append(s.deliveryOrder, d.ID)
	}
	s.deliveries[d.ID] = *d
	for len(s.deliveryOrder) > deliveryCap {
		oldest := s.deliveryOrder[0]
		s.deliveryOrder = s.deliveryOrder[1:]
		delete(s.deliveries, oldest)
	}
	return nil
}

func (s *MemoryStore) GetDelivery(_ context.Context, id string) (*Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deliveries[id]
	if !ok {
		return nil, fmt.Errorf("delivery %s not found", id)
	}
	return &d, nil
}

// ListDeliveries returns the subscription's delivery log, newest first.
func (s *MemoryStore) ListDeliveries(_ context.Context, subscriptionID string, limit, offset int) ([]*Delivery, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*Delivery
	for i := len(s.deliveryOrder) - 1; i >= 0; i-- {
		d, ok := s.deliveries[s.deliveryOrder[i]]
		if !ok || d.SubscriptionID != subscriptionID {
			continue
		}
		matched = append(matched, &d)
	}
	total := len(matched)
	if offset >= total {
		return []*Delivery{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}
