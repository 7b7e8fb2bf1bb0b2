package calls

import (
	"context"
	"time"
)

// Queries are the reads shared by the repository and its transactions.
//
// Not-found conditions are reported as typed errors (see errors.go) or as a
// false "found" result; any other error is a storage failure.
type Queries interface {
	GetProspect(ctx context.Context, prospectID int64) (ProspectRef, error)
	FindOpenCallAttempt(ctx context.Context, prospectID int64) (CallAttempt, bool, error)
	LastEndedCallAttempt(ctx context.Context, prospectID int64) (CallAttempt, bool, error)
	GetCallAttempt(ctx context.Context, attemptID string) (CallAttempt, error)
}

// Tx is the unit of work used for state transitions.
type Tx interface {
	Queries

	// LockProspect serializes admission for one prospect until the tx ends.
	LockProspect(ctx context.Context, prospectID int64) (ProspectRef, error)
	LockCallAttempt(ctx context.Context, attemptID string) (CallAttempt, error)

	// InsertCallAttempt must reject a second open attempt for the same prospect
	// with a conflict error, independent of any prior check.
	InsertCallAttempt(ctx context.Context, a CallAttempt) error
	// UpdateCallAttemptEnded persists the terminal fields. It must fail with an
	// invalid-state error if the row is already ended.
	UpdateCallAttemptEnded(ctx context.Context, a CallAttempt) error
	SetProviderCallID(ctx context.Context, attemptID, providerCallID string) error
}

// Repository is the persistence contract for call attempts.
type Repository interface {
	Queries

	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	ListActiveCallAttempts(ctx context.Context) ([]ActiveCall, error)
	ListCallAttempts(ctx context.Context, prospectID int64) ([]CallAttempt, error)
	// ListCallAttemptsBetween returns attempts started in [from, to).
	// callerID 0 means all callers.
	ListCallAttemptsBetween(ctx context.Context, from, to time.Time, callerID int64) ([]CallAttempt, error)
}
