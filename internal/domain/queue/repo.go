package queue

import (
	"context"
)

type EntryRepository interface {
	// Insert persists a new entry and assigns the next position within the
	// entry's key. ID, Position, Pending and CreatedAt are set on return.
	Insert(ctx context.Context, e *Entry) error
	ListByKey(ctx context.Context, key Key, limit, offset int) ([]*Entry, int, error)
	// MinActivePosition returns the lowest position not yet marked pending,
	// or nil when the queue holds no active entries.
	MinActivePosition(ctx context.Context, key Key) (*int, error)
	CountByKey(ctx context.Context, key Key) (int, error)
	// DeleteAtPosition removes the entry at the given position and reports
	// how many rows matched. Zero rows is not an error.
	DeleteAtPosition(ctx context.Context, key Key, position int) (int64, error)
	// MarkPendingAtPosition flips pending to true for the entry at the given
	// position and reports how many rows changed. Missing and already
	// pending entries are left untouched.
	MarkPendingAtPosition(ctx context.Context, key Key, position int) (int64, error)
}

type FutureAppointmentRepository interface {
	Create(ctx context.Context, f *FutureAppointment) error
	ListByDoctor(ctx context.Context, doctorID, limit, offset int) ([]*FutureAppointment, int, error)
}
