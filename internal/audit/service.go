package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
// It is append-only; there are no Update or Delete methods.
type Repository interface {
	Append(ctx context.Context, e Event) error
	ListByProspect(ctx context.Context, prospectID int64, limit int) ([]Event, error)
}

// Service logs internal audit information.
// Callers treat audit logging as best-effort: log the error and continue.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.Metadata != "" && !json.Valid([]byte(e.Metadata)) {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// ForProspect returns the newest events for a prospect, newest first.
func (s *Service) ForProspect(ctx context.Context, prospectID int64, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListByProspect(ctx, prospectID, limit)
}

func (s *Service) LogCallStarted(ctx context.Context, a Actor, prospectID int64, attemptID, phoneNumber string) error {
	return s.Append(ctx, Event{
		Type:          EventTypeCallStarted,
		ActorUserID:   a.UserID,
		ActorRole:     a.Role,
		IPAddress:     a.IP,
		ProspectID:    prospectID,
		CallAttemptID: attemptID,
		Message:       "call started",
		Metadata:      metadata(map[string]any{"phone_number": phoneNumber}),
	})
}

func (s *Service) LogCallEnded(ctx context.Context, a Actor, prospectID int64, attemptID, outcome string, durationSeconds int) error {
	return s.Append(ctx, Event{
		Type:          EventTypeCallEnded,
		ActorUserID:   a.UserID,
		ActorRole:     a.Role,
		IPAddress:     a.IP,
		ProspectID:    prospectID,
		CallAttemptID: attemptID,
		Message:       "call ended",
		Metadata:      metadata(map[string]any{"outcome": outcome, "duration_seconds": durationSeconds}),
	})
}

func (s *Service) LogLeadAssigned(ctx context.Context, a Actor, prospectID, assignedTo int64, expiresAt time.Time) error {
	return s.Append(ctx, Event{
		Type:        EventTypeLeadAssigned,
		ActorUserID: a.UserID,
		ActorRole:   a.Role,
		IPAddress:   a.IP,
		ProspectID:  prospectID,
		Message:     "lead assigned",
		Metadata:    metadata(map[string]any{"assigned_to": assignedTo, "expires_at": expiresAt.UTC().Format(time.RFC3339)}),
	})
}

func (s *Service) LogStatusChanged(ctx context.Context, a Actor, prospectID int64, oldStatus, newStatus string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeStatusChanged,
		ActorUserID: a.UserID,
		ActorRole:   a.Role,
		IPAddress:   a.IP,
		ProspectID:  prospectID,
		Message:     "status changed",
		Metadata:    metadata(map[string]any{"old_status": oldStatus, "new_status": newStatus}),
	})
}

func metadata(m map[string]any) string {
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}
