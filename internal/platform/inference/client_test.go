package inference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc, retries int) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, APIKey: "secret", Timeout: 2 * time.Second, Retries: retries}, zerolog.Nop())
}

func TestPredict_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/predict", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))

		var in PredictRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "1.2.3", in.StudyUID)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(PredictResponse{
			ModelName:       "brain-mri-cls",
			ModelVersion:    "2.1",
			PredictionClass: "glioma",
			ConfidenceScore: 0.91,
			Probabilities:   map[string]float64{"glioma": 0.91, "no_tumor": 0.09},
		})
	}, 0)

	out, err := c.Predict(context.Background(), PredictRequest{PatientID: "p", EncounterID: "e", StudyUID: "1.2.3"})
	require.NoError(t, err)
	assert.Equal(t, "glioma", out.PredictionClass)
	assert.InDelta(t, 0.91, out.ConfidenceScore, 1e-9)
	assert.Len(t, out.Probabilities, 2)
}

func TestPredict_RequiresStudy(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("server should not be called")
	}, 0)
	_, err := c.Predict(context.Background(), PredictRequest{})
	assert.Error(t, err)
}

func TestPredict_ClientError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"unknown study"}`))
	}, 0)

	_, err := c.Predict(context.Background(), PredictRequest{StudyUID: "x"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnavailable))
	assert.Contains(t, err.Error(), "unknown study")
}

func TestPredict_ServerErrorRetriesThenUnavailable(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, 2)

	_, err := c.Predict(context.Background(), PredictRequest{StudyUID: "x"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPredict_RejectsBadConfidence(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"prediction_class":"glioma","confidence_score":1.7}`))
	}, 0)

	_, err := c.Predict(context.Background(), PredictRequest{StudyUID: "x"})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	}, 0)
	assert.NoError(t, c.Health(context.Background()))
}
