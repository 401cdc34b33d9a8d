package integration

import (
	"context"
	"regexp"
	"testing"

	"github.com/google/uuid"

	"github.com/clinicq/clinicq/internal/domain/ticket"
)

var ticketNumberPattern = regexp.MustCompile(`^T-\d{6}$`)

func TestIssueTicketAllocatesNumber(t *testing.T) {
	ctx := context.Background()
	svc := newTicketService()

	phone := "+36205550100"
	notes := "walk-in, no referral"
	tk := &ticket.Ticket{PatientName: "Imre Nagy", PatientPhone: &phone, Notes: &notes}
	if err := svc.Issue(ctx, tk); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if tk.ID == uuid.Nil {
		t.Fatal("ID not assigned")
	}
	if !ticketNumberPattern.MatchString(tk.TicketNumber) {
		t.Fatalf("ticket number = %q, want T-NNNNNN", tk.TicketNumber)
	}
	if tk.CreatedAt.IsZero() {
		t.Fatal("CreatedAt not stamped")
	}

	got, err := svc.GetTicket(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	if got.PatientName != "Imre Nagy" {
		t.Errorf("patient name = %q", got.PatientName)
	}
	if got.PatientPhone == nil || *got.PatientPhone != phone {
		t.Errorf("phone = %v, want %q", got.PatientPhone, phone)
	}
	if got.Notes == nil || *got.Notes != notes {
		t.Errorf("notes = %v, want %q", got.Notes, notes)
	}
	if got.TicketNumber != tk.TicketNumber {
		t.Errorf("number changed between issue and fetch: %q vs %q", tk.TicketNumber, got.TicketNumber)
	}
}

func TestTicketNumbersAreUnique(t *testing.T) {
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		tk := issueTicket(t, ctx, "Queue Regular")
		if seen[tk.TicketNumber] {
			t.Fatalf("ticket number %q issued twice", tk.TicketNumber)
		}
		seen[tk.TicketNumber] = true
	}
}

func TestListTicketsNewestFirst(t *testing.T) {
	ctx := context.Background()
	svc := newTicketService()

	issueTicket(t, ctx, "Older Patient")
	newest := issueTicket(t, ctx, "Newest Patient")

	items, total, err := svc.ListTickets(ctx, 5, 0)
	if err != nil {
		t.Fatalf("ListTickets: %v", err)
	}
	// The database is shared across the suite, so assert only on what this
	// test created.
	if total < 2 {
		t.Fatalf("total = %d, want at least the two just issued", total)
	}
	if len(items) == 0 || items[0].ID != newest.ID {
		t.Fatalf("first listed ticket is not the most recent one")
	}
}
