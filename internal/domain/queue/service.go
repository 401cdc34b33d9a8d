package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/clinicq/clinicq/internal/platform/websocket"
)

type Service struct {
	entries EntryRepository
	futures FutureAppointmentRepository
	pub     websocket.EventPublisher
}

func NewService(entries EntryRepository, futures FutureAppointmentRepository) *Service {
	return &Service{entries: entries, futures: futures}
}

// SetPublisher attaches the event fan-out. A nil publisher means no
// subscribers; mutations still succeed.
func (s *Service) SetPublisher(pub websocket.EventPublisher) { s.pub = pub }

func validateKey(key Key) error {
	if key.DoctorID < 1 {
		return validationErrorf("doctor_id must be a positive integer")
	}
	if key.AppointmentDate.IsZero() {
		return validationErrorf("appointment_date is required")
	}
	if key.HospitalID == "" {
		return validationErrorf("hospital_id is required")
	}
	return nil
}

// Enqueue appends a patient to the queue identified by the entry's key. The
// ledger assigns the position; the entry starts active (pending=false).
func (s *Service) Enqueue(ctx context.Context, e *Entry) error {
	if err := validateKey(e.Key()); err != nil {
		return err
	}
	if e.TicketID == uuid.Nil {
		return validationErrorf("ticket_id is required")
	}
	if err := s.entries.Insert(ctx, e); err != nil {
		return &PersistenceError{Op: "enqueue", Err: err}
	}
	s.publish(ctx, EventPatientRequest, websocket.QueueTopic(e.DoctorID, e.AppointmentDate, e.HospitalID), e)
	s.publish(ctx, EventDoctorFetchQueue, websocket.DoctorTopic(e.DoctorID), nil)
	return nil
}

// ListQueue returns the queue in serving order with ticket data joined in.
// Every call reads the ledger; nothing is cached between calls.
func (s *Service) ListQueue(ctx context.Context, key Key, limit, offset int) ([]*Entry, int, error) {
	if err := validateKey(key); err != nil {
		return nil, 0, err
	}
	items, total, err := s.entries.ListByKey(ctx, key, limit, offset)
	if err != nil {
		return nil, 0, &PersistenceError{Op: "list queue", Err: err}
	}
	return items, total, nil
}

// CurrentPosition returns the position now being served: the lowest position
// among entries not yet marked pending. Nil means the queue has no active
// entries.
func (s *Service) CurrentPosition(ctx context.Context, key Key) (*int, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	pos, err := s.entries.MinActivePosition(ctx, key)
	if err != nil {
		return nil, &PersistenceError{Op: "current position", Err: err}
	}
	return pos, nil
}

// QueueTotal counts all entries under the key, pending included.
func (s *Service) QueueTotal(ctx context.Context, key Key) (int, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	total, err := s.entries.CountByKey(ctx, key)
	if err != nil {
		return 0, &PersistenceError{Op: "queue total", Err: err}
	}
	return total, nil
}

// RemoveEntry deletes the entry at the given position. Removing a position
// that does not exist succeeds without side effects, and surviving entries
// keep their positions.
func (s *Service) RemoveEntry(ctx context.Context, key Key, position int) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if position < 1 {
		return validationErrorf("position must be a positive integer")
	}
	removed, err := s.entries.DeleteAtPosition(ctx, key, position)
	if err != nil {
		return &PersistenceError{Op: "remove entry", Err: err}
	}
	if removed > 0 {
		s.publish(ctx, EventQueueChanged, websocket.QueueTopic(key.DoctorID, key.AppointmentDate, key.HospitalID),
			map[string]int{"position": position})
		s.publish(ctx, EventDoctorFetchQueue, websocket.DoctorTopic(key.DoctorID), nil)
	}
	return nil
}

// MarkPending parks the entry at the given position. Pending only ever moves
// from false to true; marking a missing or already pending entry is a silent
// no-op.
func (s *Service) MarkPending(ctx context.Context, key Key, position int) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if position < 1 {
		return validationErrorf("position must be a positive integer")
	}
	changed, err := s.entries.MarkPendingAtPosition(ctx, key, position)
	if err != nil {
		return &PersistenceError{Op: "mark pending", Err: err}
	}
	if changed > 0 {
		s.publish(ctx, EventQueueChanged, websocket.QueueTopic(key.DoctorID, key.AppointmentDate, key.HospitalID),
			map[string]int{"position": position})
		s.publish(ctx, EventDoctorFetchQueue, websocket.DoctorTopic(key.DoctorID), nil)
	}
	return nil
}

// -- Future appointments --

// CreateFutureReference records a follow-up reminder. The record is
// append-only and publishes no events.
func (s *Service) CreateFutureReference(ctx context.Context, f *FutureAppointment) error {
	if f.DoctorID < 1 {
		return validationErrorf("doctor_id must be a positive integer")
	}
	if f.PatientID == uuid.Nil {
		return validationErrorf("patient_id is required")
	}
	if f.FutureAppointmentDate.IsZero() {
		return validationErrorf("future_appointment_date is required")
	}
	if err := s.futures.Create(ctx, f); err != nil {
		return &PersistenceError{Op: "create future appointment", Err: err}
	}
	return nil
}

func (s *Service) ListFutureAppointmentsByDoctor(ctx context.Context, doctorID, limit, offset int) ([]*FutureAppointment, int, error) {
	if doctorID < 1 {
		return nil, 0, validationErrorf("doctor_id must be a positive integer")
	}
	items, total, err := s.futures.ListByDoctor(ctx, doctorID, limit, offset)
	if err != nil {
		return nil, 0, &PersistenceError{Op: "list future appointments", Err: err}
	}
	return items, total, nil
}

// publish fans out one event. Publication is fire-and-forget: it runs only
// after the write committed and its outcome never changes the caller's
// result.
func (s *Service) publish(ctx context.Context, eventType, topic string, payload interface{}) {
	if s.pub == nil {
		return
	}
	evt := websocket.Event{Type: eventType, Topic: topic, Timestamp: time.Now().UTC()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		evt.Data = data
	}
	_ = s.pub.Publish(ctx, evt)
}
