package encounter

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned for status changes the encounter
	// lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Encounter statuses.
const (
	StatusScheduled  = "scheduled"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

var transitions = map[string][]string{
	StatusScheduled:  {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether an encounter may move from one status to
// another. Completed and cancelled are terminal.
func CanTransition(from, to string) bool {
	if from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Encounter maps to the encounters table.
type Encounter struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorUserID  *uuid.UUID `db:"doctor_user_id" json:"doctor_user_id,omitempty"`
	EncounterDate time.Time  `db:"encounter_date" json:"encounter_date"`
	Reason        string     `db:"reason" json:"reason"`
	Facility      *string    `db:"facility" json:"facility,omitempty"`
	Status        string     `db:"status" json:"status"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// EncounterUpdate holds the mutable encounter fields. Nil fields are left
// unchanged.
type EncounterUpdate struct {
	EncounterDate *time.Time `json:"encounter_date,omitempty"`
	Reason        *string    `json:"reason,omitempty"`
	Facility      *string    `json:"facility,omitempty"`
	Status        *string    `json:"status,omitempty"`
}

// NursingSubset keeps the fields nurses may change: check-in and
// check-out status.
func (u EncounterUpdate) NursingSubset() EncounterUpdate {
	return EncounterUpdate{Status: u.Status}
}

// SOAPNote maps to the soap_notes table; one note per encounter.
type SOAPNote struct {
	ID           uuid.UUID `db:"id" json:"id"`
	EncounterID  uuid.UUID `db:"encounter_id" json:"encounter_id"`
	AuthorUserID uuid.UUID `db:"author_user_id" json:"author_user_id"`
	Subjective   string    `db:"subjective" json:"subjective"`
	Objective    string    `db:"objective" json:"objective"`
	Assessment   string    `db:"assessment" json:"assessment"`
	Plan         string    `db:"plan" json:"plan"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// BMI categories.
const (
	BMIUnderweight = "underweight"
	BMINormal      = "normal"
	BMIOverweight  = "overweight"
	BMIObese       = "obese"
)

// Vitals maps to the vitals table.
type Vitals struct {
	ID               uuid.UUID `db:"id" json:"id"`
	EncounterID      uuid.UUID `db:"encounter_id" json:"encounter_id"`
	RecordedBy       uuid.UUID `db:"recorded_by" json:"recorded_by"`
	RecordedAt       time.Time `db:"recorded_at" json:"recorded_at"`
	BPS              *int      `db:"bps" json:"bps,omitempty"`
	BPD              *int      `db:"bpd" json:"bpd,omitempty"`
	Weight           *float64  `db:"weight" json:"weight,omitempty"`
	Height           *float64  `db:"height" json:"height,omitempty"`
	Temperature      *float64  `db:"temperature" json:"temperature,omitempty"`
	Pulse            *int      `db:"pulse" json:"pulse,omitempty"`
	Respiration      *int      `db:"respiration" json:"respiration,omitempty"`
	OxygenSaturation *int      `db:"oxygen_saturation" json:"oxygen_saturation,omitempty"`
	BMI              *float64  `db:"bmi" json:"bmi,omitempty"`
	BMIStatus        *string   `db:"bmi_status" json:"bmi_status,omitempty"`
}

// ComputeBMI fills BMI and BMIStatus from weight (kg) and height (cm). Both
// are cleared when either measurement is missing.
func (v *Vitals) ComputeBMI() {
	v.BMI, v.BMIStatus = nil, nil
	if v.Weight == nil || v.Height == nil || *v.Height <= 0 || *v.Weight <= 0 {
		return
	}
	m := *v.Height / 100
	bmi := math.Round(*v.Weight/(m*m)*10) / 10
	status := BMIStatus(bmi)
	v.BMI = &bmi
	v.BMIStatus = &status
}

// BMIStatus classifies a body mass index.
func BMIStatus(bmi float64) string {
	switch {
	case bmi < 18.5:
		return BMIUnderweight
	case bmi < 25:
		return BMINormal
	case bmi < 30:
		return BMIOverweight
	}
	return BMIObese
}
