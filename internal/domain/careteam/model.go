package careteam

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/neuronova/emr/internal/platform/auth"
)

var (
	ErrNotFound = errors.New("care assignment not found")
	// ErrDuplicate is returned when the member already has an active
	// assignment to the patient, or a second active primary would be created.
	ErrDuplicate = errors.New("active care assignment already exists")
)

// CareAssignment maps to the care_assignments table. It links a clinician
// account to a patient; an inactive assignment grants nothing.
type CareAssignment struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	MemberUserID  uuid.UUID  `db:"member_user_id" json:"member_user_id"`
	MemberRole    auth.Role  `db:"member_role" json:"member_role"`
	IsPrimary     bool       `db:"is_primary" json:"is_primary"`
	AssignedDate  time.Time  `db:"assigned_date" json:"assigned_date"`
	IsActive      bool       `db:"is_active" json:"is_active"`
	DeactivatedAt *time.Time `db:"deactivated_at" json:"deactivated_at,omitempty"`
	Note          *string    `db:"note" json:"note,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// Resource returns the authorization view of the assignment.
func (a *CareAssignment) Resource() auth.Resource {
	member := a.MemberUserID
	return auth.Resource{
		Type:           auth.ResourceCareAssignment,
		Patient:        auth.PatientRef{ID: a.PatientID},
		AssignedUserID: &member,
	}
}
