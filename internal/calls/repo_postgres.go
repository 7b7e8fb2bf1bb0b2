package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"callcenter/pkg/utils"
)

// NOTE: This repository assumes the schema in internal/storage/migrations:
// - prospects, users
// - call_attempts with the partial unique index call_attempts_one_open_per_prospect
//   (UNIQUE (prospect_id) WHERE state <> 'ended')

const openAttemptConstraint = "call_attempts_one_open_per_prospect"

const attemptColumns = `id, prospect_id, caller_id, phone_number, from_number, state,
       started_at, ended_at, outcome, duration_seconds, notes, recording_ref, provider_call_id`

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PostgresRepo implements Repository on database/sql with the pgx driver.
type PostgresRepo struct {
	pgQueries
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{pgQueries: pgQueries{q: db}, db: db}
}

func (r *PostgresRepo) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	// Read committed is enough: admission is serialized by the prospect row lock
	// and the partial unique index rejects anything that slips past.
	return utils.WithTx(ctx, r.db, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, pgTx{pgQueries{q: tx}})
	})
}

func (r *PostgresRepo) ListActiveCallAttempts(ctx context.Context) ([]ActiveCall, error) {
	const q = `
SELECT a.id, a.prospect_id, a.caller_id, a.phone_number, a.from_number, a.state,
       a.started_at, a.ended_at, a.outcome, a.duration_seconds, a.notes, a.recording_ref, a.provider_call_id,
       p.full_name, COALESCE(u.full_name, '')
FROM call_attempts a
JOIN prospects p ON p.id = a.prospect_id
LEFT JOIN users u ON u.id = a.caller_id
WHERE a.state <> 'ended'
ORDER BY a.started_at ASC
`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ActiveCall, 0)
	for rows.Next() {
		var ac ActiveCall
		dest := append(attemptDest(&ac.CallAttempt), &ac.ProspectName, &ac.CallerName)
		var endedAt sql.NullTime
		dest[7] = &endedAt
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		if endedAt.Valid {
			t := endedAt.Time
			ac.EndedAt = &t
		}
		out = append(out, ac)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) ListCallAttempts(ctx context.Context, prospectID int64) ([]CallAttempt, error) {
	const q = `SELECT ` + attemptColumns + `
FROM call_attempts
WHERE prospect_id = $1
ORDER BY started_at DESC
`
	return collectAttempts(r.db.QueryContext(ctx, q, prospectID))
}

func (r *PostgresRepo) ListCallAttemptsBetween(ctx context.Context, from, to time.Time, callerID int64) ([]CallAttempt, error) {
	const q = `SELECT ` + attemptColumns + `
FROM call_attempts
WHERE started_at >= $1 AND started_at < $2
  AND ($3::bigint = 0 OR caller_id = $3::bigint)
ORDER BY started_at ASC
`
	return collectAttempts(r.db.QueryContext(ctx, q, from, to, callerID))
}

type pgQueries struct {
	q querier
}

func (p pgQueries) GetProspect(ctx context.Context, prospectID int64) (ProspectRef, error) {
	const q = `SELECT id, phone_number FROM prospects WHERE id = $1`
	return scanProspect(p.q.QueryRowContext(ctx, q, prospectID))
}

func (p pgQueries) FindOpenCallAttempt(ctx context.Context, prospectID int64) (CallAttempt, bool, error) {
	const q = `SELECT ` + attemptColumns + `
FROM call_attempts
WHERE prospect_id = $1 AND state <> 'ended'
ORDER BY started_at DESC
LIMIT 1
`
	return scanOptionalAttempt(p.q.QueryRowContext(ctx, q, prospectID))
}

func (p pgQueries) LastEndedCallAttempt(ctx context.Context, prospectID int64) (CallAttempt, bool, error) {
	const q = `SELECT ` + attemptColumns + `
FROM call_attempts
WHERE prospect_id = $1 AND state = 'ended'
ORDER BY ended_at DESC
LIMIT 1
`
	return scanOptionalAttempt(p.q.QueryRowContext(ctx, q, prospectID))
}

func (p pgQueries) GetCallAttempt(ctx context.Context, attemptID string) (CallAttempt, error) {
	const q = `SELECT ` + attemptColumns + ` FROM call_attempts WHERE id = $1`
	return scanRequiredAttempt(p.q.QueryRowContext(ctx, q, attemptID))
}

type pgTx struct {
	pgQueries
}

func (t pgTx) LockProspect(ctx context.Context, prospectID int64) (ProspectRef, error) {
	// Serializes concurrent StartCall requests for the same prospect.
	const q = `SELECT id, phone_number FROM prospects WHERE id = $1 FOR UPDATE`
	return scanProspect(t.q.QueryRowContext(ctx, q, prospectID))
}

func (t pgTx) LockCallAttempt(ctx context.Context, attemptID string) (CallAttempt, error) {
	const q = `SELECT ` + attemptColumns + ` FROM call_attempts WHERE id = $1 FOR UPDATE`
	return scanRequiredAttempt(t.q.QueryRowContext(ctx, q, attemptID))
}

func (t pgTx) InsertCallAttempt(ctx context.Context, a CallAttempt) error {
	const q = `
INSERT INTO call_attempts (
  id, prospect_id, caller_id, phone_number, from_number, state,
  started_at, outcome, duration_seconds, notes, recording_ref, provider_call_id
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
`
	_, err := t.q.ExecContext(ctx, q,
		a.ID,
		a.ProspectID,
		a.CallerID,
		a.PhoneNumber,
		a.FromNumber,
		a.State,
		a.StartedAt,
		a.Outcome,
		a.DurationSeconds,
		a.Notes,
		a.RecordingRef,
		a.ProviderCallID,
	)
	if utils.IsUniqueViolation(err, openAttemptConstraint) {
		return errActiveCall()
	}
	return err
}

func (t pgTx) UpdateCallAttemptEnded(ctx context.Context, a CallAttempt) error {
	const q = `
UPDATE call_attempts
SET state = 'ended', ended_at = $2, outcome = $3, duration_seconds = $4, notes = $5, recording_ref = $6
WHERE id = $1 AND state <> 'ended'
`
	res, err := t.q.ExecContext(ctx, q, a.ID, a.EndedAt, a.Outcome, a.DurationSeconds, a.Notes, a.RecordingRef)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errAlreadyEnded()
	}
	return nil
}

func (t pgTx) SetProviderCallID(ctx context.Context, attemptID, providerCallID string) error {
	const q = `UPDATE call_attempts SET provider_call_id = $2 WHERE id = $1`
	res, err := t.q.ExecContext(ctx, q, attemptID, providerCallID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errAttemptNotFound()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProspect(row rowScanner) (ProspectRef, error) {
	var p ProspectRef
	if err := row.Scan(&p.ID, &p.PhoneNumber); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ProspectRef{}, errProspectNotFound()
		}
		return ProspectRef{}, err
	}
	return p, nil
}

// attemptDest returns scan targets in attemptColumns order. Index 7 (ended_at)
// is replaced by the caller with a sql.NullTime.
func attemptDest(a *CallAttempt) []any {
	return []any{
		&a.ID,
		&a.ProspectID,
		&a.CallerID,
		&a.PhoneNumber,
		&a.FromNumber,
		&a.State,
		&a.StartedAt,
		nil,
		&a.Outcome,
		&a.DurationSeconds,
		&a.Notes,
		&a.RecordingRef,
		&a.ProviderCallID,
	}
}

func scanAttempt(row rowScanner) (CallAttempt, error) {
	var a CallAttempt
	var endedAt sql.NullTime
	dest := attemptDest(&a)
	dest[7] = &endedAt
	if err := row.Scan(dest...); err != nil {
		return CallAttempt{}, err
	}
	if endedAt.Valid {
		t := endedAt.Time
		a.EndedAt = &t
	}
	return a, nil
}

func scanOptionalAttempt(row rowScanner) (CallAttempt, bool, error) {
	a, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallAttempt{}, false, nil
		}
		return CallAttempt{}, false, err
	}
	return a, true, nil
}

func scanRequiredAttempt(row rowScanner) (CallAttempt, error) {
	a, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallAttempt{}, errAttemptNotFound()
		}
		return CallAttempt{}, err
	}
	return a, nil
}

func collectAttempts(rows *sql.Rows, err error) ([]CallAttempt, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]CallAttempt, 0)
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
