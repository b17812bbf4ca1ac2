package encounter

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

var validStatuses = map[string]bool{
	StatusScheduled: true, StatusInProgress: true, StatusCompleted: true, StatusCancelled: true,
}

func (s *Service) CreateEncounter(ctx context.Context, enc *Encounter) error {
	if enc.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if enc.EncounterDate.IsZero() {
		return fmt.Errorf("encounter_date is required")
	}
	if enc.Reason == "" {
		return fmt.Errorf("reason is required")
	}
	if enc.Status == "" {
		enc.Status = StatusScheduled
	}
	if enc.Status != StatusScheduled && enc.Status != StatusInProgress {
		return fmt.Errorf("new encounters must be scheduled or in_progress, got %q", enc.Status)
	}
	return s.repo.Create(ctx, enc)
}

func (s *Service) GetEncounter(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return s.repo.GetByID(ctx, id)
}

// UpdateEncounter applies u. When restricted is set only the nursing
// subset of u is applied.
func (s *Service) UpdateEncounter(ctx context.Context, id uuid.UUID, u EncounterUpdate, restricted bool) (*Encounter, error) {
	enc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if restricted {
		u = u.NursingSubset()
	}
	if u.Status != nil {
		if !validStatuses[*u.Status] {
			return nil, fmt.Errorf("invalid status: %s", *u.Status)
		}
		if !CanTransition(enc.Status, *u.Status) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, enc.Status, *u.Status)
		}
		enc.Status = *u.Status
	}
	if u.EncounterDate != nil {
		enc.EncounterDate = *u.EncounterDate
	}
	if u.Reason != nil {
		if *u.Reason == "" {
			return nil, fmt.Errorf("reason cannot be empty")
		}
		enc.Reason = *u.Reason
	}
	if u.Facility != nil {
		enc.Facility = u.Facility
	}
	if err := s.repo.Update(ctx, enc); err != nil {
		return nil, err
	}
	return enc, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Encounter, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// -- SOAP --

func (s *Service) GetSOAP(ctx context.Context, encounterID uuid.UUID) (*SOAPNote, error) {
	return s.repo.GetSOAP(ctx, encounterID)
}

// SaveSOAP writes the encounter's SOAP note. Notes on cancelled encounters
// are refused.
func (s *Service) SaveSOAP(ctx context.Context, enc *Encounter, n *SOAPNote) error {
	if enc.Status == StatusCancelled {
		return fmt.Errorf("%w: encounter is cancelled", ErrInvalidTransition)
	}
	if n.AuthorUserID == uuid.Nil {
		return fmt.Errorf("author is required")
	}
	if n.Subjective == "" && n.Objective == "" && n.Assessment == "" && n.Plan == "" {
		return fmt.Errorf("soap note is empty")
	}
	n.EncounterID = enc.ID
	return s.repo.UpsertSOAP(ctx, n)
}

// -- Vitals --

func validateVitals(v *Vitals) error {
	if v.BPS != nil && (*v.BPS < 40 || *v.BPS > 300) {
		return fmt.Errorf("bps out of range: %d", *v.BPS)
	}
	if v.BPD != nil && (*v.BPD < 20 || *v.BPD > 200) {
		return fmt.Errorf("bpd out of range: %d", *v.BPD)
	}
	if v.Temperature != nil && (*v.Temperature < 25 || *v.Temperature > 45) {
		return fmt.Errorf("temperature out of range: %.1f", *v.Temperature)
	}
	if v.OxygenSaturation != nil && (*v.OxygenSaturation < 0 || *v.OxygenSaturation > 100) {
		return fmt.Errorf("oxygen_saturation out of range: %d", *v.OxygenSaturation)
	}
	if v.Pulse != nil && *v.Pulse <= 0 {
		return fmt.Errorf("pulse must be positive")
	}
	if v.Respiration != nil && *v.Respiration <= 0 {
		return fmt.Errorf("respiration must be positive")
	}
	if v.Weight != nil && *v.Weight <= 0 {
		return fmt.Errorf("weight must be positive")
	}
	if v.Height != nil && *v.Height <= 0 {
		return fmt.Errorf("height must be positive")
	}
	return nil
}

func (s *Service) RecordVitals(ctx context.Context, enc *Encounter, v *Vitals) error {
	if enc.Status == StatusCancelled {
		return fmt.Errorf("%w: encounter is cancelled", ErrInvalidTransition)
	}
	if v.RecordedBy == uuid.Nil {
		return fmt.Errorf("recorded_by is required")
	}
	if err := validateVitals(v); err != nil {
		return err
	}
	v.EncounterID = enc.ID
	v.ComputeBMI()
	return s.repo.AddVitals(ctx, v)
}

func (s *Service) ListVitals(ctx context.Context, encounterID uuid.UUID) ([]*Vitals, error) {
	return s.repo.ListVitals(ctx, encounterID)
}
