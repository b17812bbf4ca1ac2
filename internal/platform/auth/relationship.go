package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// AssignmentChecker answers whether an active (not soft-deleted) care
// assignment links the clinician account to the patient.
type AssignmentChecker interface {
	HasActiveAssignment(ctx context.Context, patientID, memberUserID uuid.UUID) (bool, error)
}

// ErrPatientNotFound is returned by a PatientDirectory for unknown patient
// ids.
var ErrPatientNotFound = errors.New("patient not found")

// PatientDirectory resolves a patient id into the ownership data the
// evaluator needs.
type PatientDirectory interface {
	PatientRef(ctx context.Context, patientID uuid.UUID) (PatientRef, error)
}

// Resolver determines care-team relationships between a caller and a
// patient record.
type Resolver struct {
	assignments AssignmentChecker
}

func NewResolver(assignments AssignmentChecker) *Resolver {
	return &Resolver{assignments: assignments}
}

// IsCareTeamMember reports whether id may act on the patient's records as
// part of their care team: admins, the patient themself, the primary doctor,
// or a clinician with an active assignment. At most one assignment lookup
// is made.
func (r *Resolver) IsCareTeamMember(ctx context.Context, id *Identity, patient PatientRef) (bool, error) {
	if !id.Authenticated() {
		return false, nil
	}
	switch {
	case id.IsAdmin():
		return true, nil
	case patient.UserID != uuid.Nil && patient.UserID == id.ID:
		return true, nil
	case id.IsDoctor() && patient.IsPrimaryDoctor(id.ID):
		return true, nil
	case !id.Role.IsClinician():
		return false, nil
	}
	return r.HasActiveAssignment(ctx, id, patient)
}

// HasActiveAssignment performs the raw assignment lookup, without the
// self, primary-doctor or admin shortcuts.
func (r *Resolver) HasActiveAssignment(ctx context.Context, id *Identity, patient PatientRef) (bool, error) {
	if !id.Authenticated() || patient.ID == uuid.Nil {
		return false, nil
	}
	ok, err := r.assignments.HasActiveAssignment(ctx, patient.ID, id.ID)
	if err != nil {
		return false, fmt.Errorf("check care assignment: %w", err)
	}
	return ok, nil
}
