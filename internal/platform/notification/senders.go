package notification

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// EmailSender delivers a rendered email message.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender delivers a rendered SMS message.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// LogEmailSender writes email notifications to the service log instead of an
// outbound provider. Deployments without an email integration use it so the
// rest of the pipeline still runs end to end.
type LogEmailSender struct {
	log zerolog.Logger
}

func NewLogEmailSender(log zerolog.Logger) *LogEmailSender {
	return &LogEmailSender{log: log}
}

// SendEmail logs the message. Body content stays out of the log; only its
// size is recorded.
func (s *LogEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.log.Info().
		Str("to", to).
		Str("subject", subject).
		Int("body_bytes", len(body)).
		Msg("email notification")
	return nil
}

// LogSMSSender writes SMS notifications to the service log.
type LogSMSSender struct {
	log zerolog.Logger
}

func NewLogSMSSender(log zerolog.Logger) *LogSMSSender {
	return &LogSMSSender{log: log}
}

// SendSMS logs the message. Body content stays out of the log; only its size
// is recorded.
func (s *LogSMSSender) SendSMS(_ context.Context, to, body string) error {
	s.log.Info().
		Str("to", to).
		Int("body_bytes", len(body)).
		Msg("sms notification")
	return nil
}

// EmailCall records one SendEmail invocation on the mock.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender is a test double shared by this package's tests and the
// domain services that notify.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []EmailCall
	ShouldFail bool
	FailError  string
}

func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of the recorded invocations.
func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// SMSCall records one SendSMS invocation on the mock.
type SMSCall struct {
	To   string
	Body string
}

// MockSMSSender is the SMS test double.
type MockSMSSender struct {
	mu         sync.Mutex
	calls      []SMSCall
	ShouldFail bool
	FailError  string
}

func (m *MockSMSSender) SendSMS(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, SMSCall{To: to, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of the recorded invocations.
func (m *MockSMSSender) Calls() []SMSCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SMSCall, len(m.calls))
	copy(out, m.calls)
	return out
}
