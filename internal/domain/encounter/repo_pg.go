package encounter

import (
	"context"
	"errors"

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

const encCols = `id, patient_id, doctor_user_id, encounter_date, reason, facility, status, created_at, updated_at`

func scanEncounter(row pgx.Row) (*Encounter, error) {
	var e Encounter
	err := row.Scan(&e.ID, &e.PatientID, &e.DoctorUserID, &e.EncounterDate, &e.Reason,
		&e.Facility, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *repoPG) Create(ctx context.Context, enc *Encounter) error {
	enc.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO encounters (id, patient_id, doctor_user_id, encounter_date, reason, facility, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		enc.ID, enc.PatientID, enc.DoctorUserID, enc.EncounterDate, enc.Reason, enc.Facility, enc.Status,
	).Scan(&enc.CreatedAt, &enc.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return scanEncounter(r.conn(ctx).QueryRow(ctx, `SELECT `+encCols+` FROM encounters WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, enc *Encounter) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE encounters SET encounter_date = $2, reason = $3, facility = $4, status = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		enc.ID, enc.EncounterDate, enc.Reason, enc.Facility, enc.Status,
	).Scan(&enc.UpdatedAt)
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Encounter, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM encounters WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+encCols+` FROM encounters WHERE patient_id = $1
		ORDER BY encounter_date DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Encounter
	for rows.Next() {
		e, err := scanEncounter(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

// -- SOAP --

func (r *repoPG) GetSOAP(ctx context.Context, encounterID uuid.UUID) (*SOAPNote, error) {
	var n SOAPNote
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, encounter_id, author_user_id, subjective, objective, assessment, plan, created_at, updated_at
		FROM soap_notes WHERE encounter_id = $1`, encounterID,
	).Scan(&n.ID, &n.EncounterID, &n.AuthorUserID, &n.Subjective, &n.Objective, &n.Assessment, &n.Plan,
		&n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *repoPG) UpsertSOAP(ctx context.Context, n *SOAPNote) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO soap_notes (id, encounter_id, author_user_id, subjective, objective, assessment, plan)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (encounter_id) DO UPDATE SET
			author_user_id = EXCLUDED.author_user_id, subjective = EXCLUDED.subjective,
			objective = EXCLUDED.objective, assessment = EXCLUDED.assessment,
			plan = EXCLUDED.plan, updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		uuid.New(), n.EncounterID, n.AuthorUserID, n.Subjective, n.Objective, n.Assessment, n.Plan,
	).Scan(&n.ID, &n.CreatedAt, &n.UpdatedAt)
}

// -- Vitals --

const vitalsCols = `id, encounter_id, recorded_by, recorded_at, bps, bpd, weight, height, temperature,
	pulse, respiration, oxygen_saturation, bmi, bmi_status`

func (r *repoPG) AddVitals(ctx context.Context, v *Vitals) error {
	v.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO vitals (id, encounter_id, recorded_by, bps, bpd, weight, height, temperature,
			pulse, respiration, oxygen_saturation, bmi, bmi_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING recorded_at`,
		v.ID, v.EncounterID, v.RecordedBy, v.BPS, v.BPD, v.Weight, v.Height, v.Temperature,
		v.Pulse, v.Respiration, v.OxygenSaturation, v.BMI, v.BMIStatus,
	).Scan(&v.RecordedAt)
}

func (r *repoPG) ListVitals(ctx context.Context, encounterID uuid.UUID) ([]*Vitals, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+vitalsCols+` FROM vitals
		WHERE encounter_id = $1 ORDER BY recorded_at DESC`, encounterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Vitals
	for rows.Next() {
		var v Vitals
		if err := rows.Scan(&v.ID, &v.EncounterID, &v.RecordedBy, &v.RecordedAt, &v.BPS, &v.BPD,
			&v.Weight, &v.Height, &v.Temperature, &v.Pulse, &v.Respiration, &v.OxygenSaturation,
			&v.BMI, &v.BMIStatus); err != nil {
			return nil, err
		}
		items = append(items, &v)
	}
	return items, rows.Err()
}
