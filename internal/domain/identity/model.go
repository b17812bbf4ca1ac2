package identity

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/neuronova/emr/internal/platform/auth"
)

// ErrNotFound is returned by repositories when no row matches.
var ErrNotFound = errors.New("not found")

// Profile maps to the user_profiles table. It is the authoritative source
// of an account's role.
type Profile struct {
	UserID      uuid.UUID `db:"user_id" json:"user_id"`
	Role        auth.Role `db:"role" json:"role"`
	Department  *string   `db:"department" json:"department,omitempty"`
	PhoneNumber *string   `db:"phone_number" json:"phone_number,omitempty"`
	Bio         *string   `db:"bio" json:"bio,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Gender codes.
const (
	GenderMale   = "M"
	GenderFemale = "F"
	GenderOther  = "O"
)

// Patient maps to the patients table.
type Patient struct {
	ID                  uuid.UUID  `db:"id" json:"id"`
	UserID              *uuid.UUID `db:"user_id" json:"user_id,omitempty"`
	PrimaryDoctorUserID *uuid.UUID `db:"primary_doctor_user_id" json:"primary_doctor_user_id,omitempty"`
	PID                 string     `db:"pid" json:"pid"`
	FirstName           string     `db:"first_name" json:"first_name"`
	LastName            string     `db:"last_name" json:"last_name"`
	DateOfBirth         time.Time  `db:"date_of_birth" json:"date_of_birth"`
	Gender              string     `db:"gender" json:"gender"`
	Phone               string     `db:"phone" json:"phone"`
	Email               *string    `db:"email" json:"email,omitempty"`
	Address             *string    `db:"address" json:"address,omitempty"`
	InsuranceID         *string    `db:"insurance_id" json:"insurance_id,omitempty"`
	EmergencyContact    *string    `db:"emergency_contact" json:"emergency_contact,omitempty"`
	IsActive            bool       `db:"is_active" json:"is_active"`
	DeletedAt           *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// FullName returns "First Last".
func (p *Patient) FullName() string {
	return p.FirstName + " " + p.LastName
}

// Ref returns the ownership view used by the authorization engine.
func (p *Patient) Ref() auth.PatientRef {
	ref := auth.PatientRef{ID: p.ID, PrimaryDoctorUserID: p.PrimaryDoctorUserID}
	if p.UserID != nil {
		ref.UserID = *p.UserID
	}
	return ref
}

// PatientUpdate carries the mutable demographic fields. Nil fields are left
// unchanged.
type PatientUpdate struct {
	FirstName        *string    `json:"first_name,omitempty"`
	LastName         *string    `json:"last_name,omitempty"`
	DateOfBirth      *time.Time `json:"date_of_birth,omitempty"`
	Gender           *string    `json:"gender,omitempty"`
	Phone            *string    `json:"phone,omitempty"`
	Email            *string    `json:"email,omitempty"`
	Address          *string    `json:"address,omitempty"`
	InsuranceID      *string    `json:"insurance_id,omitempty"`
	EmergencyContact *string    `json:"emergency_contact,omitempty"`
}

// NursingSubset keeps only the fields nurses may edit.
func (u PatientUpdate) NursingSubset() PatientUpdate {
	return PatientUpdate{Phone: u.Phone, EmergencyContact: u.EmergencyContact}
}

// ApplyTo copies the non-nil fields onto p.
func (u PatientUpdate) ApplyTo(p *Patient) {
	if u.FirstName != nil {
		p.FirstName = *u.FirstName
	}
	if u.LastName != nil {
		p.LastName = *u.LastName
	}
	if u.DateOfBirth != nil {
		p.DateOfBirth = *u.DateOfBirth
	}
	if u.Gender != nil {
		p.Gender = *u.Gender
	}
	if u.Phone != nil {
		p.Phone = *u.Phone
	}
	if u.Email != nil {
		p.Email = u.Email
	}
	if u.Address != nil {
		p.Address = u.Address
	}
	if u.InsuranceID != nil {
		p.InsuranceID = u.InsuranceID
	}
	if u.EmergencyContact != nil {
		p.EmergencyContact = u.EmergencyContact
	}
}

// Doctor maps to the doctors table.
type Doctor struct {
	ID            uuid.UUID `db:"id" json:"id"`
	UserID        uuid.UUID `db:"user_id" json:"user_id"`
	FirstName     string    `db:"first_name" json:"first_name"`
	LastName      string    `db:"last_name" json:"last_name"`
	LicenseNumber string    `db:"license_number" json:"license_number"`
	Specialty     string    `db:"specialty" json:"specialty"`
	Department    *string   `db:"department" json:"department,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}
