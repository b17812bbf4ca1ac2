package identity

import (
	"context"
	"errors"
	"fmt"

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

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// -- Profile Repository --

type profileRepoPG struct{ pool *pgxpool.Pool }

func NewProfileRepoPG(pool *pgxpool.Pool) ProfileRepository {
	return &profileRepoPG{pool: pool}
}

func (r *profileRepoPG) Create(ctx context.Context, p *Profile) error {
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO user_profiles (user_id, role, department, phone_number, bio)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		p.UserID, p.Role, p.Department, p.PhoneNumber, p.Bio,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *profileRepoPG) GetByUserID(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	var p Profile
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		SELECT user_id, role, department, phone_number, bio, created_at, updated_at
		FROM user_profiles WHERE user_id = $1`, userID,
	).Scan(&p.UserID, &p.Role, &p.Department, &p.PhoneNumber, &p.Bio, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// -- Patient Repository --

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

const patientCols = `id, user_id, primary_doctor_user_id, pid, first_name, last_name,
	date_of_birth, gender, phone, email, address, insurance_id, emergency_contact,
	is_active, deleted_at, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.UserID, &p.PrimaryDoctorUserID, &p.PID, &p.FirstName, &p.LastName,
		&p.DateOfBirth, &p.Gender, &p.Phone, &p.Email, &p.Address, &p.InsuranceID, &p.EmergencyContact,
		&p.IsActive, &p.DeletedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patients (id, user_id, primary_doctor_user_id, pid, first_name, last_name,
			date_of_birth, gender, phone, email, address, insurance_id, emergency_contact, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,TRUE)
		RETURNING is_active, created_at, updated_at`,
		p.ID, p.UserID, p.PrimaryDoctorUserID, p.PID, p.FirstName, p.LastName,
		p.DateOfBirth, p.Gender, p.Phone, p.Email, p.Address, p.InsuranceID, p.EmergencyContact,
	).Scan(&p.IsActive, &p.CreatedAt, &p.UpdatedAt)
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
}

func (r *patientRepoPG) GetByUserID(ctx context.Context, userID uuid.UUID) (*Patient, error) {
	return scanPatient(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE user_id = $1 AND is_active`, userID))
}

func (r *patientRepoPG) LockByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE id = $1 FOR UPDATE`, id))
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE patients SET first_name=$2, last_name=$3, date_of_birth=$4, gender=$5, phone=$6,
			email=$7, address=$8, insurance_id=$9, emergency_contact=$10, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.FirstName, p.LastName, p.DateOfBirth, p.Gender, p.Phone,
		p.Email, p.Address, p.InsuranceID, p.EmergencyContact)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *patientRepoPG) SetPrimaryDoctor(ctx context.Context, id uuid.UUID, doctorUserID *uuid.UUID) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx,
		`UPDATE patients SET primary_doctor_user_id = $2, updated_at = NOW() WHERE id = $1`, id, doctorUserID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *patientRepoPG) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE patients SET is_active = FALSE, deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND is_active`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *patientRepoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM patients WHERE is_active`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := connFor(ctx, r.pool).Query(ctx, `SELECT `+patientCols+` FROM patients
		WHERE is_active ORDER BY last_name, first_name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *patientRepoPG) NextPIDSequence(ctx context.Context) (int64, error) {
	var n int64
	if err := connFor(ctx, r.pool).QueryRow(ctx, `SELECT nextval('patient_pid_seq')`).Scan(&n); err != nil {
		return 0, fmt.Errorf("next pid: %w", err)
	}
	return n, nil
}

// -- Doctor Repository --

type doctorRepoPG struct{ pool *pgxpool.Pool }

func NewDoctorRepoPG(pool *pgxpool.Pool) DoctorRepository {
	return &doctorRepoPG{pool: pool}
}

const doctorCols = `id, user_id, first_name, last_name, license_number, specialty, department, created_at, updated_at`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.UserID, &d.FirstName, &d.LastName, &d.LicenseNumber,
		&d.Specialty, &d.Department, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (r *doctorRepoPG) Create(ctx context.Context, d *Doctor) error {
	d.ID = uuid.New()
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO doctors (id, user_id, first_name, last_name, license_number, specialty, department)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		d.ID, d.UserID, d.FirstName, d.LastName, d.LicenseNumber, d.Specialty, d.Department,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
}

func (r *doctorRepoPG) GetByUserID(ctx context.Context, userID uuid.UUID) (*Doctor, error) {
	return scanDoctor(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctors WHERE user_id = $1`, userID))
}

func (r *doctorRepoPG) List(ctx context.Context, specialty string, limit, offset int) ([]*Doctor, int, error) {
	where := ""
	args := []interface{}{}
	if specialty != "" {
		where = " WHERE specialty = $1"
		args = append(args, specialty)
	}

	var total int
	if err := connFor(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM doctors`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM doctors%s ORDER BY last_name, first_name LIMIT $%d OFFSET $%d`,
		doctorCols, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)
	rows, err := connFor(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}
