package diagnosis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/neuronova/emr/internal/domain/encounter"
	"github.com/neuronova/emr/internal/platform/inference"
)

// StudyRequest names the imaging study to classify for an encounter.
type StudyRequest struct {
	EncounterID uuid.UUID `json:"encounter_id"`
	StudyUID    string    `json:"study_uid"`
	SeriesUID   string    `json:"series_uid,omitempty"`
}

type Service struct {
	repo      Repository
	predictor inference.Predictor
	threshold float64
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService builds the diagnosis service. Predictions scoring at or above
// threshold are flagged as high confidence.
func NewService(repo Repository, predictor inference.Predictor, threshold float64, logger zerolog.Logger) *Service {
	return &Service{repo: repo, predictor: predictor, threshold: threshold, logger: logger, now: time.Now}
}

// Request runs inference on the study and stores the unconfirmed result.
func (s *Service) Request(ctx context.Context, enc *encounter.Encounter, req StudyRequest, requestedBy uuid.UUID) (*Prediction, error) {
	if req.StudyUID == "" {
		return nil, fmt.Errorf("study_uid is required")
	}
	if enc.Status == encounter.StatusCancelled {
		return nil, fmt.Errorf("encounter %s is cancelled", enc.ID)
	}

	start := s.now()
	out, err := s.predictor.Predict(ctx, inference.PredictRequest{
		PatientID:   enc.PatientID.String(),
		EncounterID: enc.ID.String(),
		StudyUID:    req.StudyUID,
		SeriesUID:   req.SeriesUID,
	})
	if err != nil {
		return nil, err
	}
	if !validClass(out.PredictionClass) {
		return nil, fmt.Errorf("%w: unknown class %q", ErrInvalidResult, out.PredictionClass)
	}

	p := &Prediction{
		EncounterID:     enc.ID,
		PatientID:       enc.PatientID,
		RequestedBy:     requestedBy,
		ModelName:       out.ModelName,
		ModelVersion:    out.ModelVersion,
		StudyUID:        req.StudyUID,
		PredictionClass: out.PredictionClass,
		ConfidenceScore: out.ConfidenceScore,
		Probabilities:   out.Probabilities,
	}
	if req.SeriesUID != "" {
		p.SeriesUID = &req.SeriesUID
	}
	if out.XAIImagePath != "" {
		p.XAIImagePath = &out.XAIImagePath
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("prediction_id", p.ID.String()).
		Str("encounter_id", enc.ID.String()).
		Str("class", p.PredictionClass).
		Float64("confidence", p.ConfidenceScore).
		Dur("elapsed", s.now().Sub(start)).
		Msg("prediction stored")
	return p, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Prediction, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prediction, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Prediction, error) {
	return s.repo.ListByEncounter(ctx, encounterID)
}

// View decorates p with the high-confidence flag.
func (s *Service) View(p *Prediction) View {
	return View{Prediction: p, HighConfidence: p.ConfidenceScore >= s.threshold}
}

// Confirm records the doctor's review. A prediction is signed off once.
func (s *Service) Confirm(ctx context.Context, p *Prediction, r Review) (*Prediction, error) {
	if !validFeedback(r.Feedback) {
		return nil, fmt.Errorf("invalid doctor_feedback: %q", r.Feedback)
	}
	if r.ReviewerUserID == uuid.Nil {
		return nil, fmt.Errorf("reviewer is required")
	}
	if p.Confirmed() {
		return nil, ErrAlreadyConfirmed
	}
	if err := s.repo.Confirm(ctx, p.ID, r, s.now()); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, p.ID)
}
