// Package inference calls the external brain-MRI classification service.
package inference

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// ErrUnavailable is returned when the inference service cannot be reached
// or answers with a server error.
var ErrUnavailable = errors.New("inference service unavailable")

// PredictRequest identifies the imaging study to classify.
type PredictRequest struct {
	PatientID   string `json:"patient_id"`
	EncounterID string `json:"encounter_id"`
	StudyUID    string `json:"study_uid"`
	SeriesUID   string `json:"series_uid,omitempty"`
}

// PredictResponse is the classifier output.
type PredictResponse struct {
	ModelName       string             `json:"model_name"`
	ModelVersion    string             `json:"model_version"`
	PredictionClass string             `json:"prediction_class"`
	ConfidenceScore float64            `json:"confidence_score"`
	Probabilities   map[string]float64 `json:"probabilities"`
	XAIImagePath    string             `json:"xai_image_path"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Predictor is implemented by Client; services depend on this interface.
type Predictor interface {
	Predict(ctx context.Context, req PredictRequest) (*PredictResponse, error)
}

// Config configures the inference client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Retries int
}

// Client is the resty-backed inference client.
type Client struct {
	http   *resty.Client
	logger zerolog.Logger
}

func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	hc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		hc.SetHeader("X-API-Key", cfg.APIKey)
	}
	return &Client{http: hc, logger: logger}
}

// Predict submits a study for classification.
func (c *Client) Predict(ctx context.Context, in PredictRequest) (*PredictResponse, error) {
	if in.StudyUID == "" {
		return nil, errors.New("study_uid is required")
	}

	var out PredictResponse
	var apiErr errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(in).
		SetResult(&out).
		SetError(&apiErr).
		Post("/api/predict")
	if err != nil {
		c.logger.Error().Err(err).Str("study_uid", in.StudyUID).Msg("inference request failed")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode() >= http.StatusInternalServerError:
		c.logger.Error().Int("status", resp.StatusCode()).Str("error", apiErr.Error).Msg("inference service error")
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode())
	case resp.IsError():
		return nil, fmt.Errorf("inference rejected request: %s (status %d)", apiErr.Error, resp.StatusCode())
	}

	if out.ConfidenceScore < 0 || out.ConfidenceScore > 1 {
		return nil, fmt.Errorf("inference returned confidence %v outside [0,1]", out.ConfidenceScore)
	}

	c.logger.Info().
		Str("study_uid", in.StudyUID).
		Str("model", out.ModelName).
		Str("class", out.PredictionClass).
		Float64("confidence", out.ConfidenceScore).
		Msg("inference completed")
	return &out, nil
}

// Health reports whether the service answers its health endpoint.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/api/health")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode())
	}
	return nil
}
