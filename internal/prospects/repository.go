package prospects

import (
	"context"
	"time"
)

// Repository is the persistence contract for prospects and their history.
type Repository interface {
	GetProspect(ctx context.Context, id int64) (Prospect, error)
	ListStatusEvents(ctx context.Context, prospectID int64) ([]StatusChangeEvent, error)
	GetAssignment(ctx context.Context, prospectID int64) (LeadAssignment, bool, error)
	UpsertAssignment(ctx context.Context, a LeadAssignment) error

	// CountStatusChanges counts transitions into status within [from, to).
	// changedBy 0 counts all users.
	CountStatusChanges(ctx context.Context, status Status, from, to time.Time, changedBy int64) (int, error)

	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type Tx interface {
	LockProspect(ctx context.Context, id int64) (Prospect, error)
	UpdateStatus(ctx context.Context, p Prospect) error
	InsertStatusEvent(ctx context.Context, e StatusChangeEvent) error
}
