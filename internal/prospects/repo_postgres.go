package prospects

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"callcenter/pkg/utils"
)

const prospectColumns = `id, full_name, phone_number, email, company, status, created_at, updated_at`

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return utils.WithTx(ctx, r.db, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, pgTx{q: tx})
	})
}

func (r *PostgresRepo) GetProspect(ctx context.Context, id int64) (Prospect, error) {
	const q = `SELECT ` + prospectColumns + ` FROM prospects WHERE id = $1`
	return scanProspect(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) ListStatusEvents(ctx context.Context, prospectID int64) ([]StatusChangeEvent, error) {
	const q = `
SELECT id, prospect_id, old_status, new_status, changed_by, reason, created_at
FROM prospect_status_events
WHERE prospect_id = $1
ORDER BY created_at DESC, id DESC
`
	rows, err := r.db.QueryContext(ctx, q, prospectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]StatusChangeEvent, 0)
	for rows.Next() {
		var e StatusChangeEvent
		if err := rows.Scan(&e.ID, &e.ProspectID, &e.OldStatus, &e.NewStatus, &e.ChangedBy, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) GetAssignment(ctx context.Context, prospectID int64) (LeadAssignment, bool, error) {
	const q = `
SELECT prospect_id, assigned_to, assigned_by, expires_at, updated_at
FROM lead_assignments
WHERE prospect_id = $1
`
	var a LeadAssignment
	err := r.db.QueryRowContext(ctx, q, prospectID).Scan(&a.ProspectID, &a.AssignedTo, &a.AssignedBy, &a.ExpiresAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return LeadAssignment{}, false, nil
	}
	if err != nil {
		return LeadAssignment{}, false, err
	}
	return a, true, nil
}

func (r *PostgresRepo) UpsertAssignment(ctx context.Context, a LeadAssignment) error {
	const q = `
INSERT INTO lead_assignments (prospect_id, assigned_to, assigned_by, expires_at, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (prospect_id) DO UPDATE
SET assigned_to = EXCLUDED.assigned_to,
    assigned_by = EXCLUDED.assigned_by,
    expires_at = EXCLUDED.expires_at,
    updated_at = EXCLUDED.updated_at
`
	_, err := r.db.ExecContext(ctx, q, a.ProspectID, a.AssignedTo, a.AssignedBy, a.ExpiresAt, a.UpdatedAt)
	return err
}

func (r *PostgresRepo) CountStatusChanges(ctx context.Context, status Status, from, to time.Time, changedBy int64) (int, error) {
	const q = `
SELECT COUNT(*)
FROM prospect_status_events
WHERE new_status = $1
  AND created_at >= $2 AND created_at < $3
  AND ($4::bigint = 0 OR changed_by = $4::bigint)
`
	var n int
	err := r.db.QueryRowContext(ctx, q, status, from, to, changedBy).Scan(&n)
	return n, err
}

type pgTx struct {
	q querier
}

func (t pgTx) LockProspect(ctx context.Context, id int64) (Prospect, error) {
	const q = `SELECT ` + prospectColumns + ` FROM prospects WHERE id = $1 FOR UPDATE`
	return scanProspect(t.q.QueryRowContext(ctx, q, id))
}

func (t pgTx) UpdateStatus(ctx context.Context, p Prospect) error {
	const q = `UPDATE prospects SET status = $2, updated_at = $3 WHERE id = $1`
	_, err := t.q.ExecContext(ctx, q, p.ID, p.Status, p.UpdatedAt)
	return err
}

func (t pgTx) InsertStatusEvent(ctx context.Context, e StatusChangeEvent) error {
	const q = `
INSERT INTO prospect_status_events (id, prospect_id, old_status, new_status, changed_by, reason, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`
	_, err := t.q.ExecContext(ctx, q, e.ID, e.ProspectID, e.OldStatus, e.NewStatus, e.ChangedBy, e.Reason, e.CreatedAt)
	return err
}

func scanProspect(row *sql.Row) (Prospect, error) {
	var p Prospect
	err := row.Scan(&p.ID, &p.FullName, &p.PhoneNumber, &p.Email, &p.Company, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Prospect{}, errNotFound()
	}
	if err != nil {
		return Prospect{}, err
	}
	return p, nil
}
