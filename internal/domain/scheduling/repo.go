package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// UpdateStatus moves the appointment from one status to another. It
	// returns ErrInvalidTransition when the stored status is no longer from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to string, notes *string) error
	// HasOverlap reports whether the doctor has a pending or confirmed
	// appointment intersecting [start, end).
	HasOverlap(ctx context.Context, doctorUserID uuid.UUID, start, end time.Time) (bool, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*Appointment, int, error)
}
