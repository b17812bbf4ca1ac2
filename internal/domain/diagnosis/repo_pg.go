package diagnosis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/neuronova/emr/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const predCols = `id, encounter_id, patient_id, requested_by, reviewer_user_id, model_name, model_version,
	study_uid, series_uid, prediction_class, confidence_score, probabilities, xai_image_path,
	doctor_feedback, doctor_note, confirmed_at, created_at`

func scanPrediction(row pgx.Row) (*Prediction, error) {
	var p Prediction
	err := row.Scan(&p.ID, &p.EncounterID, &p.PatientID, &p.RequestedBy, &p.ReviewerUserID,
		&p.ModelName, &p.ModelVersion, &p.StudyUID, &p.SeriesUID, &p.PredictionClass,
		&p.ConfidenceScore, &p.Probabilities, &p.XAIImagePath,
		&p.DoctorFeedback, &p.DoctorNote, &p.ConfirmedAt, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repoPG) Create(ctx context.Context, p *Prediction) error {
	p.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO predictions (id, encounter_id, patient_id, requested_by, model_name, model_version,
			study_uid, series_uid, prediction_class, confidence_score, probabilities, xai_image_path)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at`,
		p.ID, p.EncounterID, p.PatientID, p.RequestedBy, p.ModelName, p.ModelVersion,
		p.StudyUID, p.SeriesUID, p.PredictionClass, p.ConfidenceScore, p.Probabilities, p.XAIImagePath,
	).Scan(&p.CreatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prediction, error) {
	return scanPrediction(r.conn(ctx).QueryRow(ctx, `SELECT `+predCols+` FROM predictions WHERE id = $1`, id))
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prediction, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM predictions WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+predCols+` FROM predictions WHERE patient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := collect(rows)
	return items, total, err
}

func (r *repoPG) ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Prediction, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+predCols+` FROM predictions WHERE encounter_id = $1 ORDER BY created_at DESC`, encounterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func collect(rows pgx.Rows) ([]*Prediction, error) {
	var items []*Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *repoPG) Confirm(ctx context.Context, id uuid.UUID, rv Review, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE predictions
		SET reviewer_user_id = $2, doctor_feedback = $3, doctor_note = $4, confirmed_at = $5
		WHERE id = $1 AND confirmed_at IS NULL`,
		id, rv.ReviewerUserID, rv.Feedback, rv.Note, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyConfirmed
	}
	return nil
}
