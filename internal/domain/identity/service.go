package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/neuronova/emr/internal/platform/auth"
)

type Service struct {
	profiles ProfileRepository
	patients PatientRepository
	doctors  DoctorRepository
	now      func() time.Time
}

func NewService(profiles ProfileRepository, patients PatientRepository, doctors DoctorRepository) *Service {
	return &Service{profiles: profiles, patients: patients, doctors: doctors, now: time.Now}
}

// -- Profile --

func (s *Service) CreateProfile(ctx context.Context, p *Profile) error {
	if p.UserID == uuid.Nil {
		return fmt.Errorf("user_id is required")
	}
	if !p.Role.Valid() {
		return fmt.Errorf("invalid role: %q", p.Role)
	}
	return s.profiles.Create(ctx, p)
}

func (s *Service) GetProfile(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	return s.profiles.GetByUserID(ctx, userID)
}

// RoleByUserID implements auth.ProfileStore.
func (s *Service) RoleByUserID(ctx context.Context, userID uuid.UUID) (auth.Role, error) {
	p, err := s.profiles.GetByUserID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return "", auth.ErrProfileNotFound
	}
	if err != nil {
		return "", err
	}
	return p.Role, nil
}

// -- Patient --

var validGenders = map[string]bool{GenderMale: true, GenderFemale: true, GenderOther: true}

func validatePatient(p *Patient) error {
	if p.FirstName == "" || p.LastName == "" {
		return fmt.Errorf("first_name and last_name are required")
	}
	if p.DateOfBirth.IsZero() {
		return fmt.Errorf("date_of_birth is required")
	}
	if !validGenders[p.Gender] {
		return fmt.Errorf("invalid gender: %q", p.Gender)
	}
	if p.Phone == "" {
		return fmt.Errorf("phone is required")
	}
	if p.Email != nil && *p.Email != "" && !strings.Contains(*p.Email, "@") {
		return fmt.Errorf("invalid email: %q", *p.Email)
	}
	return nil
}

// formatPID renders the hospital patient number, PT-YYYYMMDD-NNNN.
func formatPID(day time.Time, seq int64) string {
	return fmt.Sprintf("PT-%s-%04d", day.Format("20060102"), seq%10000)
}

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if err := validatePatient(p); err != nil {
		return err
	}
	if p.UserID != nil {
		role, err := s.RoleByUserID(ctx, *p.UserID)
		if err != nil && !errors.Is(err, auth.ErrProfileNotFound) {
			return err
		}
		if err == nil && role != auth.RolePatient {
			return fmt.Errorf("user %s has role %s, not patient", *p.UserID, role)
		}
	}
	// The primary doctor is only set through a primary care assignment.
	p.PrimaryDoctorUserID = nil
	if p.PID == "" {
		seq, err := s.patients.NextPIDSequence(ctx)
		if err != nil {
			return err
		}
		p.PID = formatPID(s.now(), seq)
	}
	p.IsActive = true
	return s.patients.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

// GetPatientByUserID returns the active patient record owned by an account.
func (s *Service) GetPatientByUserID(ctx context.Context, userID uuid.UUID) (*Patient, error) {
	return s.patients.GetByUserID(ctx, userID)
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.patients.List(ctx, limit, offset)
}

// UpdatePatient applies u to the patient. When restricted is set only the
// nursing subset of u is applied.
func (s *Service) UpdatePatient(ctx context.Context, id uuid.UUID, u PatientUpdate, restricted bool) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, fmt.Errorf("patient %s is deactivated", id)
	}
	if restricted {
		u = u.NursingSubset()
	}
	u.ApplyTo(p)
	if err := validatePatient(p); err != nil {
		return nil, err
	}
	if err := s.patients.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// DeactivatePatient soft-deletes the patient. Clinical records are kept.
func (s *Service) DeactivatePatient(ctx context.Context, id uuid.UUID) error {
	return s.patients.Deactivate(ctx, id)
}

// PatientRef implements auth.PatientDirectory.
func (s *Service) PatientRef(ctx context.Context, patientID uuid.UUID) (auth.PatientRef, error) {
	p, err := s.patients.GetByID(ctx, patientID)
	if errors.Is(err, ErrNotFound) {
		return auth.PatientRef{}, fmt.Errorf("%w: %s", auth.ErrPatientNotFound, patientID)
	}
	if err != nil {
		return auth.PatientRef{}, fmt.Errorf("load patient %s: %w", patientID, err)
	}
	return p.Ref(), nil
}

// PatientRefByUserID resolves the patient record linked to a login account.
func (s *Service) PatientRefByUserID(ctx context.Context, userID uuid.UUID) (auth.PatientRef, error) {
	p, err := s.patients.GetByUserID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return auth.PatientRef{}, fmt.Errorf("%w: no record for account %s", auth.ErrPatientNotFound, userID)
	}
	if err != nil {
		return auth.PatientRef{}, err
	}
	return p.Ref(), nil
}

// LockPatient loads the patient under a row lock. It must run inside a
// transaction for the lock to hold.
func (s *Service) LockPatient(ctx context.Context, patientID uuid.UUID) (auth.PatientRef, error) {
	p, err := s.patients.LockByID(ctx, patientID)
	if errors.Is(err, ErrNotFound) {
		return auth.PatientRef{}, fmt.Errorf("%w: %s", auth.ErrPatientNotFound, patientID)
	}
	if err != nil {
		return auth.PatientRef{}, err
	}
	if !p.IsActive {
		return auth.PatientRef{}, fmt.Errorf("patient %s is deactivated", patientID)
	}
	return p.Ref(), nil
}

// SetPrimaryDoctor records the patient's designated primary doctor; nil
// clears it.
func (s *Service) SetPrimaryDoctor(ctx context.Context, patientID uuid.UUID, doctorUserID *uuid.UUID) error {
	return s.patients.SetPrimaryDoctor(ctx, patientID, doctorUserID)
}

// -- Doctor --

func (s *Service) CreateDoctor(ctx context.Context, d *Doctor) error {
	if d.UserID == uuid.Nil {
		return fmt.Errorf("user_id is required")
	}
	if d.FirstName == "" || d.LastName == "" {
		return fmt.Errorf("first_name and last_name are required")
	}
	if d.LicenseNumber == "" {
		return fmt.Errorf("license_number is required")
	}
	if d.Specialty == "" {
		return fmt.Errorf("specialty is required")
	}
	role, err := s.RoleByUserID(ctx, d.UserID)
	if err != nil {
		return fmt.Errorf("doctor account: %w", err)
	}
	if role != auth.RoleDoctor {
		return fmt.Errorf("user %s has role %s, not doctor", d.UserID, role)
	}
	return s.doctors.Create(ctx, d)
}

func (s *Service) ListDoctors(ctx context.Context, specialty string, limit, offset int) ([]*Doctor, int, error) {
	return s.doctors.List(ctx, specialty, limit, offset)
}
