package careteam

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *CareAssignment) error
	GetByID(ctx context.Context, id uuid.UUID) (*CareAssignment, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
	// DemotePrimary clears is_primary on the patient's active primary
	// assignment, if there is one.
	DemotePrimary(ctx context.Context, patientID uuid.UUID) error
	SetPrimary(ctx context.Context, id uuid.UUID) error
	HasActiveAssignment(ctx context.Context, patientID, memberUserID uuid.UUID) (bool, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, activeOnly bool, limit, offset int) ([]*CareAssignment, int, error)
	ListByMember(ctx context.Context, memberUserID uuid.UUID, limit, offset int) ([]*CareAssignment, int, error)
}
