package careteam

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/neuronova/emr/internal/platform/auth"
	"github.com/neuronova/emr/internal/platform/db"
)

// PatientLocker serializes changes to a patient's care team and keeps the
// patient's primary doctor field in step with the primary assignment.
type PatientLocker interface {
	LockPatient(ctx context.Context, patientID uuid.UUID) (auth.PatientRef, error)
	SetPrimaryDoctor(ctx context.Context, patientID uuid.UUID, doctorUserID *uuid.UUID) error
}

type Service struct {
	repo     Repository
	patients PatientLocker
	profiles auth.ProfileStore
	tx       db.TxRunner
}

func NewService(repo Repository, patients PatientLocker, profiles auth.ProfileStore, tx db.TxRunner) *Service {
	return &Service{repo: repo, patients: patients, profiles: profiles, tx: tx}
}

// Assign creates an active assignment. A primary assignment demotes the
// patient's previous primary in the same transaction, with the patient row
// locked, so at most one active primary exists per patient.
func (s *Service) Assign(ctx context.Context, a *CareAssignment) error {
	if a.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if a.MemberUserID == uuid.Nil {
		return fmt.Errorf("member_user_id is required")
	}
	role, err := s.profiles.RoleByUserID(ctx, a.MemberUserID)
	if err != nil {
		return fmt.Errorf("member account: %w", err)
	}
	if !role.IsClinician() {
		return fmt.Errorf("member %s has role %s; only doctors and nurses join care teams", a.MemberUserID, role)
	}
	if a.IsPrimary && role != auth.RoleDoctor {
		return fmt.Errorf("only a doctor can be the primary assignment")
	}
	a.MemberRole = role

	return s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.patients.LockPatient(ctx, a.PatientID); err != nil {
			return err
		}
		exists, err := s.repo.HasActiveAssignment(ctx, a.PatientID, a.MemberUserID)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicate
		}
		if a.IsPrimary {
			if err := s.repo.DemotePrimary(ctx, a.PatientID); err != nil {
				return err
			}
		}
		if err := s.repo.Create(ctx, a); err != nil {
			return err
		}
		if a.IsPrimary {
			member := a.MemberUserID
			return s.patients.SetPrimaryDoctor(ctx, a.PatientID, &member)
		}
		return nil
	})
}

// MakePrimary promotes an existing active doctor assignment to primary.
func (s *Service) MakePrimary(ctx context.Context, id uuid.UUID) (*CareAssignment, error) {
	var out *CareAssignment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !a.IsActive {
			return ErrNotFound
		}
		if a.MemberRole != auth.RoleDoctor {
			return fmt.Errorf("only a doctor can be the primary assignment")
		}
		if _, err := s.patients.LockPatient(ctx, a.PatientID); err != nil {
			return err
		}
		if !a.IsPrimary {
			if err := s.repo.DemotePrimary(ctx, a.PatientID); err != nil {
				return err
			}
			if err := s.repo.SetPrimary(ctx, a.ID); err != nil {
				return err
			}
			a.IsPrimary = true
		}
		member := a.MemberUserID
		if err := s.patients.SetPrimaryDoctor(ctx, a.PatientID, &member); err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

// Deactivate soft-deletes the assignment. Removing the primary clears the
// patient's primary doctor.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !a.IsActive {
			return ErrNotFound
		}
		if _, err := s.patients.LockPatient(ctx, a.PatientID); err != nil {
			return err
		}
		if err := s.repo.Deactivate(ctx, id); err != nil {
			return err
		}
		if a.IsPrimary {
			return s.patients.SetPrimaryDoctor(ctx, a.PatientID, nil)
		}
		return nil
	})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*CareAssignment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, activeOnly bool, limit, offset int) ([]*CareAssignment, int, error) {
	return s.repo.ListByPatient(ctx, patientID, activeOnly, limit, offset)
}

func (s *Service) ListByMember(ctx context.Context, memberUserID uuid.UUID, limit, offset int) ([]*CareAssignment, int, error) {
	return s.repo.ListByMember(ctx, memberUserID, limit, offset)
}

// HasActiveAssignment implements auth.AssignmentChecker.
func (s *Service) HasActiveAssignment(ctx context.Context, patientID, memberUserID uuid.UUID) (bool, error) {
	return s.repo.HasActiveAssignment(ctx, patientID, memberUserID)
}
