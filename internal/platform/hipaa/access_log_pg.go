package hipaa

import (
	"context"
	"fmt"
	"strings"

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

type accessStorePG struct{ pool *pgxpool.Pool }

func NewAccessStorePG(pool *pgxpool.Pool) AccessStore {
	return &accessStorePG{pool: pool}
}

func (s *accessStorePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

const accessCols = `id, request_id, user_id, role, resource_type, resource_id, patient_id,
	action, method, path, status_code, host(ip_address), user_agent, accessed_at`

func (s *accessStorePG) Record(ctx context.Context, r *AccessRecord) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO access_log (id, request_id, user_id, role, resource_type, resource_id, patient_id,
			action, method, path, status_code, ip_address, user_agent, accessed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12::inet,$13,$14)`,
		r.ID, r.RequestID, r.UserID, r.Role, r.ResourceType, r.ResourceID, r.PatientID,
		r.Action, r.Method, r.Path, r.StatusCode, r.IPAddress, r.UserAgent, r.AccessedAt)
	return err
}

func (s *accessStorePG) Search(ctx context.Context, q AccessQuery) ([]*AccessRecord, int, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if q.UserID != nil {
		add("user_id = $%d", *q.UserID)
	}
	if q.PatientID != nil {
		add("patient_id = $%d", *q.PatientID)
	}
	if q.ResourceType != "" {
		add("resource_type = $%d", q.ResourceType)
	}
	if q.Action != "" {
		add("action = $%d", q.Action)
	}
	if q.From != nil {
		add("accessed_at >= $%d", *q.From)
	}
	if q.To != nil {
		add("accessed_at < $%d", *q.To)
	}
	if q.DeniedOnly {
		where = append(where, "status_code IN (401, 403)")
	}
	filter := ""
	if len(where) > 0 {
		filter = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM access_log`+filter, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM access_log%s ORDER BY accessed_at DESC LIMIT $%d OFFSET $%d`,
		accessCols, filter, len(args)+1, len(args)+2)
	rows, err := s.conn(ctx).Query(ctx, query, append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*AccessRecord
	for rows.Next() {
		var r AccessRecord
		if err := rows.Scan(&r.ID, &r.RequestID, &r.UserID, &r.Role, &r.ResourceType, &r.ResourceID, &r.PatientID,
			&r.Action, &r.Method, &r.Path, &r.StatusCode, &r.IPAddress, &r.UserAgent, &r.AccessedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &r)
	}
	return items, total, rows.Err()
}
