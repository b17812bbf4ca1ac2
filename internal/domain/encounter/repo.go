package encounter

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, enc *Encounter) error
	GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error)
	Update(ctx context.Context, enc *Encounter) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Encounter, int, error)

	GetSOAP(ctx context.Context, encounterID uuid.UUID) (*SOAPNote, error)
	UpsertSOAP(ctx context.Context, n *SOAPNote) error

	AddVitals(ctx context.Context, v *Vitals) error
	ListVitals(ctx context.Context, encounterID uuid.UUID) ([]*Vitals, error)
}
