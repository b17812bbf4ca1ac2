package scheduling

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/neuronova/emr/internal/platform/auth"
)

var (
	ErrNotFound          = errors.New("appointment not found")
	ErrInvalidTransition = errors.New("invalid appointment status transition")
	// ErrConflict is returned when the doctor already has an overlapping
	// active appointment.
	ErrConflict = errors.New("doctor is already booked for that time")
)

// Appointment statuses share their values with the authorization engine's
// status gating.
const (
	StatusPending   = auth.StatusPending
	StatusConfirmed = auth.StatusConfirmed
	StatusCancelled = auth.StatusCancelled
	StatusCompleted = auth.StatusCompleted
)

// Visit types.
const (
	VisitFirst    = "first_visit"
	VisitFollowUp = "follow_up"
	VisitCheckUp  = "check_up"
)

// Booking channels recorded in created_by.
const (
	CreatedByPatientApp   = "PATIENT_APP"
	CreatedByDoctorWeb    = "DOCTOR_WEB"
	CreatedByNurseStation = "NURSE_STATION"
)

// DefaultDurationMinutes is applied when a booking omits the duration.
const DefaultDurationMinutes = 30

var transitions = map[string][]string{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCancelled, StatusCompleted},
}

// CanTransition reports whether an appointment may move between statuses.
// Cancelled and completed are terminal.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Appointment maps to the appointments table.
type Appointment struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	PatientID       uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorUserID    *uuid.UUID `db:"doctor_user_id" json:"doctor_user_id,omitempty"`
	ScheduledAt     time.Time  `db:"scheduled_at" json:"scheduled_at"`
	DurationMinutes int        `db:"duration_minutes" json:"duration_minutes"`
	Status          string     `db:"status" json:"status"`
	VisitType       string     `db:"visit_type" json:"visit_type"`
	Reason          *string    `db:"reason" json:"reason,omitempty"`
	CreatedBy       string     `db:"created_by" json:"created_by"`
	Notes           *string    `db:"notes" json:"notes,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// EndsAt returns the end of the booked slot.
func (a *Appointment) EndsAt() time.Time {
	return a.ScheduledAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// Resource returns the authorization view of the appointment.
func (a *Appointment) Resource(patient auth.PatientRef) auth.Resource {
	return auth.Resource{
		Type:           auth.ResourceAppointment,
		Patient:        patient,
		AssignedUserID: a.DoctorUserID,
		Status:         a.Status,
	}
}

// Filter narrows appointment listings.
type Filter struct {
	PatientID    *uuid.UUID
	DoctorUserID *uuid.UUID
	Status       string
	From         *time.Time
	To           *time.Time
}
