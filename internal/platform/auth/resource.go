package auth

import (
	"fmt"

	"github.com/google/uuid"
)

// ResourceType enumerates the protected resource kinds.
type ResourceType string

const (
	ResourcePatient        ResourceType = "patient"
	ResourceEncounter      ResourceType = "encounter"
	ResourceAppointment    ResourceType = "appointment"
	ResourcePrediction     ResourceType = "prediction"
	ResourcePrescription   ResourceType = "prescription"
	ResourceCareAssignment ResourceType = "care_assignment"
)

// IsClinicalData reports whether resources of this type hold medical
// records that are append-only and may never be hard deleted. SOAP notes and
// vitals are authorised as encounters.
func (t ResourceType) IsClinicalData() bool {
	switch t {
	case ResourcePatient, ResourceEncounter, ResourcePrediction, ResourcePrescription:
		return true
	}
	return false
}

func (t ResourceType) valid() bool {
	switch t {
	case ResourcePatient, ResourceEncounter, ResourceAppointment,
		ResourcePrediction, ResourcePrescription, ResourceCareAssignment:
		return true
	}
	return false
}

// Action is the operation requested on a resource.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	// ActionConfirm is the update sub-action used for clinician sign-off
	// (prediction review, appointment confirmation).
	ActionConfirm Action = "confirm"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionConfirm:
		return true
	}
	return false
}

// IsMutation reports whether the action changes state.
func (a Action) IsMutation() bool {
	return a != ActionRead
}

// ActionForMethod maps an HTTP method onto an Action.
func ActionForMethod(method string) (Action, error) {
	switch method {
	case "GET", "HEAD":
		return ActionRead, nil
	case "POST":
		return ActionCreate, nil
	case "PUT", "PATCH":
		return ActionUpdate, nil
	case "DELETE":
		return ActionDelete, nil
	}
	return "", fmt.Errorf("%w: no action for method %s", ErrInvalidRequest, method)
}

// PatientRef identifies the patient that owns a resource, directly or
// through an encounter.
type PatientRef struct {
	ID                  uuid.UUID
	UserID              uuid.UUID
	PrimaryDoctorUserID *uuid.UUID
}

// IsPrimaryDoctor reports whether userID is the patient's designated primary
// doctor.
func (p PatientRef) IsPrimaryDoctor(userID uuid.UUID) bool {
	return p.PrimaryDoctorUserID != nil && *p.PrimaryDoctorUserID == userID
}

// Appointment statuses relevant to update gating.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
)

// Resource is the already-loaded view of a protected object that the
// evaluator needs.
type Resource struct {
	Type    ResourceType
	Patient PatientRef
	// AssignedUserID is the clinician the resource is assigned to: the
	// appointment's doctor or the care assignment's member.
	AssignedUserID *uuid.UUID
	// Status is the appointment status; empty for other types.
	Status string
}

func (r Resource) assignedTo(userID uuid.UUID) bool {
	return r.AssignedUserID != nil && *r.AssignedUserID == userID
}
