package prospects

import (
	"context"
	"strings"
	"time"

	"callcenter/internal/apperr"

	"github.com/google/uuid"
)

const (
	CodeProspectNotFound = "prospect_not_found"
	CodeInvalidRequest   = "invalid_request"
)

func errNotFound() error {
	return apperr.NotFound(CodeProspectNotFound, "Prospect not found")
}

func errInvalid(msg string) error {
	return apperr.InvalidArgument(CodeInvalidRequest, msg)
}

// Service tracks prospect status history and lead ownership.
type Service struct {
	repo  Repository
	clock func() time.Time
}

// NewService builds a Service. A nil clock uses time.Now.
func NewService(repo Repository, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{repo: repo, clock: clock}
}

func (s *Service) Get(ctx context.Context, id int64) (Prospect, error) {
	if id <= 0 {
		return Prospect{}, errInvalid("prospect_id must be positive")
	}
	p, err := s.repo.GetProspect(ctx, id)
	if err != nil {
		return Prospect{}, apperr.Transient("load prospect", err)
	}
	return p, nil
}

// ChangeStatus appends a StatusChangeEvent and updates the prospect in one transaction.
func (s *Service) ChangeStatus(ctx context.Context, req ChangeStatusRequest) (StatusChangeEvent, error) {
	if req.ProspectID <= 0 || req.ChangedBy <= 0 {
		return StatusChangeEvent{}, errInvalid("prospect_id and changed_by must be positive")
	}
	if !req.NewStatus.Valid() {
		return StatusChangeEvent{}, errInvalid("unknown status")
	}

	var out StatusChangeEvent
	err := s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		p, err := tx.LockProspect(ctx, req.ProspectID)
		if err != nil {
			return err
		}
		now := s.clock().UTC()
		e := StatusChangeEvent{
			ID:         uuid.NewString(),
			ProspectID: p.ID,
			OldStatus:  p.Status,
			NewStatus:  req.NewStatus,
			ChangedBy:  req.ChangedBy,
			Reason:     strings.TrimSpace(req.Reason),
			CreatedAt:  now,
		}
		if err := tx.InsertStatusEvent(ctx, e); err != nil {
			return err
		}
		p.Status = req.NewStatus
		p.UpdatedAt = now
		if err := tx.UpdateStatus(ctx, p); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return StatusChangeEvent{}, apperr.Transient("change status", err)
	}
	return out, nil
}

func (s *Service) StatusHistory(ctx context.Context, prospectID int64) ([]StatusChangeEvent, error) {
	if _, err := s.Get(ctx, prospectID); err != nil {
		return nil, err
	}
	out, err := s.repo.ListStatusEvents(ctx, prospectID)
	if err != nil {
		return nil, apperr.Transient("list status events", err)
	}
	return out, nil
}

// AssignLead upserts the prospect's assignment.
func (s *Service) AssignLead(ctx context.Context, req AssignLeadRequest) (LeadAssignment, error) {
	if req.ProspectID <= 0 || req.AssignedTo <= 0 || req.AssignedBy <= 0 {
		return LeadAssignment{}, errInvalid("prospect_id, assigned_to and assigned_by must be positive")
	}
	now := s.clock().UTC()
	if !req.ExpiresAt.After(now) {
		return LeadAssignment{}, errInvalid("expires_at must be in the future")
	}
	if _, err := s.Get(ctx, req.ProspectID); err != nil {
		return LeadAssignment{}, err
	}

	a := LeadAssignment{
		ProspectID: req.ProspectID,
		AssignedTo: req.AssignedTo,
		AssignedBy: req.AssignedBy,
		ExpiresAt:  req.ExpiresAt.UTC(),
		UpdatedAt:  now,
	}
	if err := s.repo.UpsertAssignment(ctx, a); err != nil {
		return LeadAssignment{}, apperr.Transient("upsert assignment", err)
	}
	return a, nil
}

// Assignment returns the current assignment. Expired assignments read as absent.
func (s *Service) Assignment(ctx context.Context, prospectID int64) (LeadAssignment, bool, error) {
	if _, err := s.Get(ctx, prospectID); err != nil {
		return LeadAssignment{}, false, err
	}
	a, ok, err := s.repo.GetAssignment(ctx, prospectID)
	if err != nil {
		return LeadAssignment{}, false, apperr.Transient("load assignment", err)
	}
	if !ok || !a.ExpiresAt.After(s.clock().UTC()) {
		return LeadAssignment{}, false, nil
	}
	return a, true, nil
}
