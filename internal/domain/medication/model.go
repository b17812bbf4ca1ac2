package medication

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/neuronova/emr/internal/platform/auth"
)

var ErrNotFound = errors.New("prescription not found")

// Administration routes.
const (
	RouteOral       = "oral"
	RouteIV         = "iv"
	RouteIM         = "im"
	RouteSC         = "sc"
	RouteTopical    = "topical"
	RouteInhalation = "inhalation"
)

var validRoutes = map[string]bool{
	RouteOral: true, RouteIV: true, RouteIM: true,
	RouteSC: true, RouteTopical: true, RouteInhalation: true,
}

// Prescription maps to the prescriptions table.
type Prescription struct {
	ID               uuid.UUID `db:"id" json:"id"`
	EncounterID      uuid.UUID `db:"encounter_id" json:"encounter_id"`
	PatientID        uuid.UUID `db:"patient_id" json:"patient_id"`
	PrescriberUserID uuid.UUID `db:"prescriber_user_id" json:"prescriber_user_id"`
	MedicationCode   *string   `db:"medication_code" json:"medication_code,omitempty"`
	MedicationName   string    `db:"medication_name" json:"medication_name"`
	Dosage           string    `db:"dosage" json:"dosage"`
	Frequency        string    `db:"frequency" json:"frequency"`
	Duration         *string   `db:"duration" json:"duration,omitempty"`
	Route            string    `db:"route" json:"route"`
	Instructions     *string   `db:"instructions" json:"instructions,omitempty"`
	PrescribedAt     time.Time `db:"prescribed_at" json:"prescribed_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Resource returns the authorization view of the prescription.
func (p *Prescription) Resource(patient auth.PatientRef) auth.Resource {
	return auth.Resource{Type: auth.ResourcePrescription, Patient: patient}
}

// PrescriptionUpdate holds the editable prescription fields. Nil fields are
// left unchanged; the drug itself cannot be swapped.
type PrescriptionUpdate struct {
	Dosage       *string `json:"dosage"`
	Frequency    *string `json:"frequency"`
	Duration     *string `json:"duration"`
	Route        *string `json:"route"`
	Instructions *string `json:"instructions"`
}

func (u PrescriptionUpdate) ApplyTo(p *Prescription) {
	if u.Dosage != nil {
		p.Dosage = *u.Dosage
	}
	if u.Frequency != nil {
		p.Frequency = *u.Frequency
	}
	if u.Duration != nil {
		p.Duration = u.Duration
	}
	if u.Route != nil {
		p.Route = *u.Route
	}
	if u.Instructions != nil {
		p.Instructions = u.Instructions
	}
}
