package careteam

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

const caCols = `id, patient_id, member_user_id, member_role, is_primary, assigned_date,
	is_active, deactivated_at, note, created_at`

func scanCA(row pgx.Row) (*CareAssignment, error) {
	var a CareAssignment
	err := row.Scan(&a.ID, &a.PatientID, &a.MemberUserID, &a.MemberRole, &a.IsPrimary, &a.AssignedDate,
		&a.IsActive, &a.DeactivatedAt, &a.Note, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repoPG) Create(ctx context.Context, a *CareAssignment) error {
	a.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO care_assignments (id, patient_id, member_user_id, member_role, is_primary, note)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING assigned_date, is_active, created_at`,
		a.ID, a.PatientID, a.MemberUserID, a.MemberRole, a.IsPrimary, a.Note,
	).Scan(&a.AssignedDate, &a.IsActive, &a.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*CareAssignment, error) {
	return scanCA(r.conn(ctx).QueryRow(ctx, `SELECT `+caCols+` FROM care_assignments WHERE id = $1`, id))
}

func (r *repoPG) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE care_assignments SET is_active = FALSE, is_primary = FALSE, deactivated_at = NOW()
		WHERE id = $1 AND is_active`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) DemotePrimary(ctx context.Context, patientID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE care_assignments SET is_primary = FALSE
		WHERE patient_id = $1 AND is_primary AND is_active`, patientID)
	return err
}

func (r *repoPG) SetPrimary(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE care_assignments SET is_primary = TRUE WHERE id = $1 AND is_active`, id)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// HasActiveAssignment implements auth.AssignmentChecker.
func (r *repoPG) HasActiveAssignment(ctx context.Context, patientID, memberUserID uuid.UUID) (bool, error) {
	var ok bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM care_assignments
			WHERE patient_id = $1 AND member_user_id = $2 AND is_active
		)`, patientID, memberUserID).Scan(&ok)
	return ok, err
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, activeOnly bool, limit, offset int) ([]*CareAssignment, int, error) {
	filter := `patient_id = $1`
	if activeOnly {
		filter += ` AND is_active`
	}
	return r.list(ctx, filter, patientID, limit, offset)
}

func (r *repoPG) ListByMember(ctx context.Context, memberUserID uuid.UUID, limit, offset int) ([]*CareAssignment, int, error) {
	return r.list(ctx, `member_user_id = $1 AND is_active`, memberUserID, limit, offset)
}

func (r *repoPG) list(ctx context.Context, filter string, arg uuid.UUID, limit, offset int) ([]*CareAssignment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM care_assignments WHERE `+filter, arg).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+caCols+` FROM care_assignments WHERE `+filter+`
		ORDER BY is_primary DESC, assigned_date DESC LIMIT $2 OFFSET $3`, arg, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*CareAssignment
	for rows.Next() {
		a, err := scanCA(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}
