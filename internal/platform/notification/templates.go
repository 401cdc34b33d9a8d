package notification

import (
	"fmt"
	"strings"
	"sync"
)

// Template is a message blueprint with {{key}} placeholders.
type Template struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Subject string  `json:"subject,omitempty"`
	Body    string  `json:"body"`
	Channel Channel `json:"channel"`
}

// render substitutes {{key}} placeholders from data. Unknown placeholders
// stay in place so missing data is visible in the delivered text.
func (t Template) render(data map[string]string) (subject, body string) {
	subject, body = t.Subject, t.Body
	for k, v := range data {
		ph := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, ph, v)
		body = strings.ReplaceAll(body, ph, v)
	}
	return subject, body
}

// TemplateEngine holds the registered templates.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewTemplateEngine returns an engine pre-loaded with the clinic templates.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	for _, t := range builtinTemplates() {
		e.templates[t.ID] = t
	}
	return e
}

func builtinTemplates() []Template {
	return []Template{
		{
			ID:      "ticket-issued",
			Name:    "Ticket issued",
			Body:    "Hello {{patient_name}}, your ticket {{ticket_number}} has been issued. Show it at the reception desk when you arrive.",
			Channel: ChannelSMS,
		},
		{
			ID:      "queue-joined",
			Name:    "Queue joined",
			Body:    "Hello {{patient_name}}, you are number {{position}} in the queue for {{date}}.",
			Channel: ChannelSMS,
		},
		{
			ID:      "queue-called",
			Name:    "Queue called",
			Body:    "Hello {{patient_name}}, the doctor is ready for you. Please come to the consultation room.",
			Channel: ChannelSMS,
		},
		{
			ID:      "appointment-reminder",
			Name:    "Appointment reminder",
			Subject: "Appointment reminder for {{patient_name}}",
			Body:    "Dear {{patient_name}}, this is a reminder of your appointment with Dr. {{doctor}} on {{date}}.",
			Channel: ChannelEmail,
		},
		{
			ID:      "follow-up-scheduled",
			Name:    "Follow-up scheduled",
			Subject: "Your follow-up visit is scheduled",
			Body:    "Dear {{patient_name}}, a follow-up visit with Dr. {{doctor}} has been scheduled for {{date}}. Contact the clinic to reschedule.",
			Channel: ChannelEmail,
		},
	}
}

// Register adds or replaces a template.
func (e *TemplateEngine) Register(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

// Lookup returns the template registered under id.
func (e *TemplateEngine) Lookup(id string) (Template, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.templates[id]
	if !ok {
		return Template{}, fmt.Errorf("template %q not found", id)
	}
	return t, nil
}

// Render looks up id and substitutes data into its subject and body.
func (e *TemplateEngine) Render(id string, data map[string]string) (subject, body string, err error) {
	t, err := e.Lookup(id)
	if err != nil {
		return "", "", err
	}
	subject, body = t.render(data)
	return subject, body, nil
}
