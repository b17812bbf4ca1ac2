package diagnosis

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Prediction) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prediction, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prediction, int, error)
	ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Prediction, error)
	// Confirm records the review once. It returns ErrAlreadyConfirmed when
	// the prediction was already signed off.
	Confirm(ctx context.Context, id uuid.UUID, r Review, at time.Time) error
}
