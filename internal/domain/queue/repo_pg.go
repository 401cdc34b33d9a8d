package queue

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicq/clinicq/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Entry Repository ===========

type entryRepoPG struct{ pool *pgxpool.Pool }

func NewEntryRepoPG(pool *pgxpool.Pool) EntryRepository { return &entryRepoPG{pool: pool} }

func (r *entryRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const entryCols = `e.id, e.doctor_id, e.appointment_date, e.hospital_id, e.position,
	e.ticket_id, e.pending, e.created_at,
	COALESCE(t.ticket_number, ''), COALESCE(t.patient_name, '')`

func (r *entryRepoPG) scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.DoctorID, &e.AppointmentDate, &e.HospitalID, &e.Position,
		&e.TicketID, &e.Pending, &e.CreatedAt, &e.TicketNumber, &e.PatientName)
	return &e, err
}

// insertAttempts bounds retries when concurrent inserts for the same key
// race to the same position and lose to the unique index.
const insertAttempts = 3

func (r *entryRepoPG) Insert(ctx context.Context, e *Entry) error {
	e.ID = uuid.New()
	e.Pending = false
	var err error
	for attempt := 0; attempt < insertAttempts; attempt++ {
		err = r.conn(ctx).QueryRow(ctx, `
			INSERT INTO queue_entries (id, doctor_id, appointment_date, hospital_id, position, ticket_id, pending)
			SELECT $1, $2, $3, $4, COALESCE(MAX(position), 0) + 1, $5, false
			FROM queue_entries
			WHERE doctor_id = $2 AND appointment_date = $3 AND hospital_id = $4
			RETURNING position, created_at`,
			e.ID, e.DoctorID, e.AppointmentDate, e.HospitalID, e.TicketID).
			Scan(&e.Position, &e.CreatedAt)
		if err == nil {
			return nil
		}
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
			return err
		}
	}
	return err
}

func (r *entryRepoPG) ListByKey(ctx context.Context, key Key, limit, offset int) ([]*Entry, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM queue_entries WHERE doctor_id = $1 AND appointment_date = $2 AND hospital_id = $3`,
		key.DoctorID, key.AppointmentDate, key.HospitalID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+entryCols+`
		FROM queue_entries e
		LEFT JOIN tickets t ON t.id = e.ticket_id
		WHERE e.doctor_id = $1 AND e.appointment_date = $2 AND e.hospital_id = $3
		ORDER BY e.position ASC LIMIT $4 OFFSET $5`,
		key.DoctorID, key.AppointmentDate, key.HospitalID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Entry
	for rows.Next() {
		e, err := r.scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, nil
}

func (r *entryRepoPG) MinActivePosition(ctx context.Context, key Key) (*int, error) {
	var pos *int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT MIN(position) FROM queue_entries
		 WHERE doctor_id = $1 AND appointment_date = $2 AND hospital_id = $3 AND pending = false`,
		key.DoctorID, key.AppointmentDate, key.HospitalID).Scan(&pos)
	if err != nil {
		return nil, err
	}
	return pos, nil
}

func (r *entryRepoPG) CountByKey(ctx context.Context, key Key) (int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM queue_entries WHERE doctor_id = $1 AND appointment_date = $2 AND hospital_id = $3`,
		key.DoctorID, key.AppointmentDate, key.HospitalID).Scan(&total)
	return total, err
}

func (r *entryRepoPG) DeleteAtPosition(ctx context.Context, key Key, position int) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM queue_entries
		 WHERE doctor_id = $1 AND appointment_date = $2 AND hospital_id = $3 AND position = $4`,
		key.DoctorID, key.AppointmentDate, key.HospitalID, position)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *entryRepoPG) MarkPendingAtPosition(ctx context.Context, key Key, position int) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE queue_entries SET pending = true
		 WHERE doctor_id = $1 AND appointment_date = $2 AND hospital_id = $3 AND position = $4 AND pending = false`,
		key.DoctorID, key.AppointmentDate, key.HospitalID, position)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// =========== FutureAppointment Repository ===========

type futureAppointmentRepoPG struct{ pool *pgxpool.Pool }

func NewFutureAppointmentRepoPG(pool *pgxpool.Pool) FutureAppointmentRepository {
	return &futureAppointmentRepoPG{pool: pool}
}

func (r *futureAppointmentRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const futureCols = `id, doctor_id, patient_id, future_appointment_date, notes, created_at`

func (r *futureAppointmentRepoPG) scanFuture(row pgx.Row) (*FutureAppointment, error) {
	var f FutureAppointment
	err := row.Scan(&f.ID, &f.DoctorID, &f.PatientID, &f.FutureAppointmentDate, &f.Notes, &f.CreatedAt)
	return &f, err
}

func (r *futureAppointmentRepoPG) Create(ctx context.Context, f *FutureAppointment) error {
	f.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO future_appointments (id, doctor_id, patient_id, future_appointment_date, notes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		f.ID, f.DoctorID, f.PatientID, f.FutureAppointmentDate, f.Notes).
		Scan(&f.CreatedAt)
}

func (r *futureAppointmentRepoPG) ListByDoctor(ctx context.Context, doctorID, limit, offset int) ([]*FutureAppointment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM future_appointments WHERE doctor_id = $1`, doctorID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+futureCols+` FROM future_appointments
		WHERE doctor_id = $1
		ORDER BY future_appointment_date ASC, created_at ASC LIMIT $2 OFFSET $3`,
		doctorID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*FutureAppointment
	for rows.Next() {
		f, err := r.scanFuture(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, f)
	}
	return items, total, nil
}
