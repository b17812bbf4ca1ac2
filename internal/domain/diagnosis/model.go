package diagnosis

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/neuronova/emr/internal/platform/auth"
)

var (
	ErrNotFound = errors.New("prediction not found")
	// ErrAlreadyConfirmed is returned when a doctor tries to sign off a
	// prediction that has already been reviewed.
	ErrAlreadyConfirmed = errors.New("prediction already confirmed")
	// ErrInvalidResult is returned when the classifier answers with output
	// that cannot be stored.
	ErrInvalidResult = errors.New("invalid inference result")
)

// Tumor classes produced by the classifier.
const (
	ClassGlioma     = "glioma"
	ClassMeningioma = "meningioma"
	ClassPituitary  = "pituitary"
	ClassNoTumor    = "no_tumor"
)

// Doctor feedback on a prediction.
const (
	FeedbackCorrect   = "correct"
	FeedbackIncorrect = "incorrect"
	FeedbackUncertain = "uncertain"
)

func validClass(c string) bool {
	switch c {
	case ClassGlioma, ClassMeningioma, ClassPituitary, ClassNoTumor:
		return true
	}
	return false
}

func validFeedback(f string) bool {
	switch f {
	case FeedbackCorrect, FeedbackIncorrect, FeedbackUncertain:
		return true
	}
	return false
}

// Prediction maps to the predictions table.
type Prediction struct {
	ID              uuid.UUID          `db:"id" json:"id"`
	EncounterID     uuid.UUID          `db:"encounter_id" json:"encounter_id"`
	PatientID       uuid.UUID          `db:"patient_id" json:"patient_id"`
	RequestedBy     uuid.UUID          `db:"requested_by" json:"requested_by"`
	ReviewerUserID  *uuid.UUID         `db:"reviewer_user_id" json:"reviewer_user_id,omitempty"`
	ModelName       string             `db:"model_name" json:"model_name"`
	ModelVersion    string             `db:"model_version" json:"model_version"`
	StudyUID        string             `db:"study_uid" json:"study_uid"`
	SeriesUID       *string            `db:"series_uid" json:"series_uid,omitempty"`
	PredictionClass string             `db:"prediction_class" json:"prediction_class"`
	ConfidenceScore float64            `db:"confidence_score" json:"confidence_score"`
	Probabilities   map[string]float64 `db:"probabilities" json:"probabilities,omitempty"`
	XAIImagePath    *string            `db:"xai_image_path" json:"xai_image_path,omitempty"`
	DoctorFeedback  *string            `db:"doctor_feedback" json:"doctor_feedback,omitempty"`
	DoctorNote      *string            `db:"doctor_note" json:"doctor_note,omitempty"`
	ConfirmedAt     *time.Time         `db:"confirmed_at" json:"confirmed_at,omitempty"`
	CreatedAt       time.Time          `db:"created_at" json:"created_at"`
}

// Confirmed reports whether a doctor has signed off the prediction.
func (p *Prediction) Confirmed() bool { return p.ConfirmedAt != nil }

// Resource returns the authorization view of the prediction.
func (p *Prediction) Resource(patient auth.PatientRef) auth.Resource {
	return auth.Resource{Type: auth.ResourcePrediction, Patient: patient}
}

// View is the API representation of a prediction.
type View struct {
	*Prediction
	HighConfidence bool `json:"high_confidence"`
}

// Review is a doctor's sign-off on a prediction.
type Review struct {
	ReviewerUserID uuid.UUID `json:"-"`
	Feedback       string    `json:"doctor_feedback"`
	Note           *string   `json:"doctor_note,omitempty"`
}
