package medication

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/neuronova/emr/internal/domain/encounter"
)

type Service struct {
	prescriptions PrescriptionRepository
}

func NewService(prescriptions PrescriptionRepository) *Service {
	return &Service{prescriptions: prescriptions}
}

func validate(p *Prescription) error {
	if strings.TrimSpace(p.MedicationName) == "" {
		return fmt.Errorf("medication_name is required")
	}
	if strings.TrimSpace(p.Dosage) == "" {
		return fmt.Errorf("dosage is required")
	}
	if strings.TrimSpace(p.Frequency) == "" {
		return fmt.Errorf("frequency is required")
	}
	if !validRoutes[p.Route] {
		return fmt.Errorf("invalid route: %q", p.Route)
	}
	return nil
}

// Prescribe records a prescription written during enc. The patient is
// taken from the encounter.
func (s *Service) Prescribe(ctx context.Context, enc *encounter.Encounter, p *Prescription) error {
	if enc.Status == encounter.StatusCancelled {
		return fmt.Errorf("encounter %s is cancelled", enc.ID)
	}
	if p.PrescriberUserID == uuid.Nil {
		return fmt.Errorf("prescriber is required")
	}
	if p.Route == "" {
		p.Route = RouteOral
	}
	if err := validate(p); err != nil {
		return err
	}
	p.EncounterID = enc.ID
	p.PatientID = enc.PatientID
	return s.prescriptions.Create(ctx, p)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return s.prescriptions.GetByID(ctx, id)
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, u PrescriptionUpdate) (*Prescription, error) {
	p, err := s.prescriptions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	u.ApplyTo(p)
	if err := validate(p); err != nil {
		return nil, err
	}
	if err := s.prescriptions.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Prescription, error) {
	return s.prescriptions.ListByEncounter(ctx, encounterID)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	return s.prescriptions.ListByPatient(ctx, patientID, limit, offset)
}
