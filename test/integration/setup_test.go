// Package integration exercises the queue ledger and ticket desk against a
// real PostgreSQL instance started via the local Docker CLI. The suite needs
// a working `docker` binary; everything else is self-contained.
package integration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicq/clinicq/internal/domain/queue"
	"github.com/clinicq/clinicq/internal/domain/ticket"
	"github.com/clinicq/clinicq/internal/platform/db"
)

// pool is shared by every test in the suite. TestMain creates it after the
// container is up and migrations have been applied.
var pool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	connStr, cleanup, err := startPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "start postgres: %v\n", err)
		os.Exit(1)
	}

	p, err := pgxpool.New(ctx, connStr)
	if err != nil {
		cleanup()
		fmt.Fprintf(os.Stderr, "open pool: %v\n", err)
		os.Exit(1)
	}

	if err := applyMigrations(ctx, p); err != nil {
		p.Close()
		cleanup()
		fmt.Fprintf(os.Stderr, "apply migrations: %v\n", err)
		os.Exit(1)
	}

	pool = p
	code := m.Run()
	p.Close()
	cleanup()
	os.Exit(code)
}

func applyMigrations(ctx context.Context, p *pgxpool.Pool) error {
	migrator := db.NewMigrator(p, migrationsDir())
	if err := migrator.EnsureMigrationsTable(ctx); err != nil {
		return err
	}
	_, err := migrator.Up(ctx)
	return err
}

// migrationsDir locates the repository's migrations/ directory relative to
// this source file, so the suite works from any working directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// doctorSeq hands out a distinct doctor ID per test so queues never collide
// in the shared database. IDs start above anything a fixture would use.
var doctorSeq atomic.Int64

// freshKey returns a queue key no other test has touched.
func freshKey(hospitalID string) queue.Key {
	return queue.Key{
		DoctorID:        int(doctorSeq.Add(1)) + 1000,
		AppointmentDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		HospitalID:      hospitalID,
	}
}

func newQueueService() *queue.Service {
	return queue.NewService(queue.NewEntryRepoPG(pool), queue.NewFutureAppointmentRepoPG(pool))
}

func newTicketService() *ticket.Service {
	return ticket.NewService(ticket.NewTicketRepoPG(pool))
}

// issueTicket registers a patient at the desk and returns the stored ticket.
func issueTicket(t *testing.T, ctx context.Context, name string) *ticket.Ticket {
	t.Helper()
	tk := &ticket.Ticket{PatientName: name}
	if err := newTicketService().Issue(ctx, tk); err != nil {
		t.Fatalf("issue ticket: %v", err)
	}
	return tk
}

// enqueuePatient issues a ticket and places it on the given queue.
func enqueuePatient(t *testing.T, ctx context.Context, svc *queue.Service, key queue.Key, name string) *queue.Entry {
	t.Helper()
	tk := issueTicket(t, ctx, name)
	e := &queue.Entry{
		DoctorID:        key.DoctorID,
		AppointmentDate: key.AppointmentDate,
		HospitalID:      key.HospitalID,
		TicketID:        tk.ID,
	}
	if err := svc.Enqueue(ctx, e); err != nil {
		t.Fatalf("enqueue %s: %v", name, err)
	}
	return e
}
