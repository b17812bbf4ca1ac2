package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/neuronova/emr/internal/platform/auth"
	"github.com/neuronova/emr/internal/platform/notification"
)

type Service struct {
	appts    AppointmentRepository
	notifier notification.Notifier
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(appts AppointmentRepository, notifier notification.Notifier, logger zerolog.Logger) *Service {
	return &Service{appts: appts, notifier: notifier, logger: logger, now: time.Now}
}

var validVisitTypes = map[string]bool{VisitFirst: true, VisitFollowUp: true, VisitCheckUp: true}

// channelFor maps the booking caller onto the created_by channel.
func channelFor(caller *auth.Identity) string {
	switch {
	case caller.IsPatient():
		return CreatedByPatientApp
	case caller.IsDoctor():
		return CreatedByDoctorWeb
	}
	return CreatedByNurseStation
}

// Book creates a pending appointment and notifies the patient.
func (s *Service) Book(ctx context.Context, a *Appointment, patient auth.PatientRef, caller *auth.Identity) error {
	if a.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if a.ScheduledAt.IsZero() {
		return fmt.Errorf("scheduled_at is required")
	}
	if !a.ScheduledAt.After(s.now()) {
		return fmt.Errorf("scheduled_at must be in the future")
	}
	if !validVisitTypes[a.VisitType] {
		return fmt.Errorf("invalid visit_type: %q", a.VisitType)
	}
	if a.DurationMinutes == 0 {
		a.DurationMinutes = DefaultDurationMinutes
	}
	if a.DurationMinutes < 5 || a.DurationMinutes > 240 {
		return fmt.Errorf("duration_minutes must be between 5 and 240")
	}
	if a.DoctorUserID != nil {
		busy, err := s.appts.HasOverlap(ctx, *a.DoctorUserID, a.ScheduledAt, a.EndsAt())
		if err != nil {
			return err
		}
		if busy {
			return ErrConflict
		}
	}
	a.Status = StatusPending
	a.CreatedBy = channelFor(caller)

	if err := s.appts.Create(ctx, a); err != nil {
		return err
	}
	s.notify(ctx, a, patient, notification.TemplateAppointmentBooked)
	return nil
}

// Confirm moves a pending appointment to confirmed and notifies the patient.
func (s *Service) Confirm(ctx context.Context, a *Appointment, patient auth.PatientRef) error {
	if err := s.transition(ctx, a, StatusConfirmed, nil); err != nil {
		return err
	}
	s.notify(ctx, a, patient, notification.TemplateAppointmentConfirmed)
	return nil
}

// Cancel cancels a pending or confirmed appointment and notifies the
// patient. A non-empty reason is stored in the notes.
func (s *Service) Cancel(ctx context.Context, a *Appointment, patient auth.PatientRef, reason string) error {
	var notes *string
	if reason != "" {
		n := "cancelled: " + reason
		notes = &n
	}
	if err := s.transition(ctx, a, StatusCancelled, notes); err != nil {
		return err
	}
	s.notify(ctx, a, patient, notification.TemplateAppointmentCancelled)
	return nil
}

func (s *Service) transition(ctx context.Context, a *Appointment, to string, notes *string) error {
	if !CanTransition(a.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, to)
	}
	if err := s.appts.UpdateStatus(ctx, a.ID, a.Status, to, notes); err != nil {
		return err
	}
	a.Status = to
	if notes != nil {
		a.Notes = notes
	}
	return nil
}

// notify delivers a patient notification. Delivery failures are logged and
// never undo the status change.
func (s *Service) notify(ctx context.Context, a *Appointment, patient auth.PatientRef, templateID string) {
	if s.notifier == nil || patient.UserID == uuid.Nil {
		return
	}
	msg := notification.Message{
		RecipientUserID: patient.UserID,
		TemplateID:      templateID,
		Data: map[string]string{
			"appointment_id": a.ID.String(),
			"visit_type":     a.VisitType,
			"date":           a.ScheduledAt.Format("2006-01-02"),
			"time":           a.ScheduledAt.Format("15:04"),
		},
	}
	if err := s.notifier.Notify(ctx, msg); err != nil {
		s.logger.Warn().Err(err).
			Str("appointment_id", a.ID.String()).
			Str("template", templateID).
			Msg("appointment notification failed")
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appts.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Appointment, int, error) {
	if f.Status != "" && f.Status != StatusPending && f.Status != StatusConfirmed &&
		f.Status != StatusCancelled && f.Status != StatusCompleted {
		return nil, 0, fmt.Errorf("invalid status: %q", f.Status)
	}
	return s.appts.List(ctx, f, limit, offset)
}
