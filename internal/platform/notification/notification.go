// Package notification delivers patient-facing messages about appointment
// changes. Delivery is behind the Notifier interface and injected into the
// services that need it.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Template ids used by the scheduling service.
const (
	TemplateAppointmentConfirmed = "appointment-confirmed"
	TemplateAppointmentCancelled = "appointment-cancelled"
	TemplateAppointmentBooked    = "appointment-booked"
)

// Message is one notification addressed to an account.
type Message struct {
	RecipientUserID uuid.UUID
	TemplateID      string
	Data            map[string]string
}

// Notifier delivers messages. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Template is a subject and body with {{key}} placeholders.
type Template struct {
	ID      string
	Subject string
	Body    string
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewTemplateEngine creates a TemplateEngine with the appointment templates
// pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	for _, t := range []Template{
		{
			ID:      TemplateAppointmentBooked,
			Subject: "Appointment requested",
			Body:    "Your {{visit_type}} appointment on {{date}} at {{time}} has been requested and is awaiting confirmation.",
		},
		{
			ID:      TemplateAppointmentConfirmed,
			Subject: "Appointment confirmed",
			Body:    "Your {{visit_type}} appointment on {{date}} at {{time}} is confirmed.",
		},
		{
			ID:      TemplateAppointmentCancelled,
			Subject: "Appointment cancelled",
			Body:    "Your appointment on {{date}} at {{time}} has been cancelled.",
		},
	} {
		e.templates[t.ID] = t
	}
	return e
}

// RegisterTemplate adds or replaces a template.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

// Render replaces {{key}} placeholders with data. Unknown keys are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject, body = t.Subject, t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// LogNotifier renders messages and writes them to the structured log. It is
// the default notifier until an outbound channel is configured.
type LogNotifier struct {
	templates *TemplateEngine
	logger    zerolog.Logger
}

func NewLogNotifier(templates *TemplateEngine, logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{templates: templates, logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, msg Message) error {
	subject, body, err := n.templates.Render(msg.TemplateID, msg.Data)
	if err != nil {
		return err
	}
	n.logger.Info().
		Str("type", "notification").
		Str("recipient_user_id", msg.RecipientUserID.String()).
		Str("template", msg.TemplateID).
		Str("subject", subject).
		Str("body", body).
		Msg("notification sent")
	return nil
}

// Multi delivers each message to every notifier in order. All notifiers
// are attempted; their errors are joined.
func Multi(notifiers ...Notifier) Notifier {
	return multiNotifier(notifiers)
}

type multiNotifier []Notifier

func (m multiNotifier) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every message in memory. Used in tests.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	Err      error
}

func (r *Recorder) Notify(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return r.Err
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}
