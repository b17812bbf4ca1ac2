package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/neuronova/emr/internal/platform/inference"
)

type instrumentedPredictor struct {
	next    inference.Predictor
	metrics *Metrics
	now     func() time.Time
}

// InstrumentPredictor records the latency and outcome of every call to next.
func InstrumentPredictor(next inference.Predictor, m *Metrics) inference.Predictor {
	return &instrumentedPredictor{next: next, metrics: m, now: time.Now}
}

func (p *instrumentedPredictor) Predict(ctx context.Context, req inference.PredictRequest) (*inference.PredictResponse, error) {
	start := p.now()
	out, err := p.next.Predict(ctx, req)

	outcome := "ok"
	switch {
	case errors.Is(err, inference.ErrUnavailable):
		outcome = "unavailable"
	case err != nil:
		outcome = "rejected"
	}
	p.metrics.observeInference(outcome, p.now().Sub(start))
	return out, err
}
