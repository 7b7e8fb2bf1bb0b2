package calls

import (
	"context"
	"strings"
	"time"

	"callcenter/internal/apperr"
	"callcenter/internal/events"
	"callcenter/pkg/logger"

	"github.com/google/uuid"
)

// Manager owns admission control and state transitions for call attempts.
//
// Invariants:
// - at most one open (requested/in_progress) attempt per prospect
// - an attempt ends exactly once; a second EndCall is an error
// - Manager is the only writer of attempt state
//
// No retries happen here. Storage failures surface as apperr transient errors.
type Manager struct {
	repo     Repository
	limiter  CallerLimiter
	events   events.Publisher
	cooldown time.Duration
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

type Options struct {
	// Cooldown is the minimum time between an attempt ending and the next
	// StartCall for the same prospect. Zero disables it.
	Cooldown time.Duration

	// Limiter is optional; nil means no per-caller cap.
	Limiter CallerLimiter

	// Events is optional; nil drops lifecycle events.
	Events events.Publisher

	Clock func() time.Time
}

func NewManager(repo Repository, opts Options) *Manager {
	m := &Manager{
		repo:     repo,
		limiter:  opts.Limiter,
		events:   opts.Events,
		cooldown: opts.Cooldown,
		clock:    opts.Clock,
	}
	if m.events == nil {
		m.events = events.Nop{}
	}
	if m.clock == nil {
		m.clock = time.Now
	}
	return m
}

const maxOutcomeLen = 64

// CanCall reports whether callerID may start a call to prospectID now. Read-only.
//
// Prospect rules (open attempt, cooldown) are reported first. With a caller
// limiter configured, a caller already at the cap gets ReasonCallerBusy.
func (m *Manager) CanCall(ctx context.Context, prospectID, callerID int64) (Admission, error) {
	if prospectID <= 0 || callerID <= 0 {
		return Admission{}, errInvalid("prospect_id and caller_id must be positive")
	}
	if _, err := m.repo.GetProspect(ctx, prospectID); err != nil {
		return Admission{}, apperr.Transient("load prospect", err)
	}
	adm, err := m.evaluate(ctx, m.repo, prospectID, m.clock().UTC())
	if err != nil {
		return Admission{}, apperr.Transient("check admission", err)
	}
	if adm.Allowed && m.limiter != nil {
		busy, err := m.limiter.Busy(ctx, callerID)
		if err != nil {
			return Admission{}, apperr.Transient("check caller slots", err)
		}
		if busy {
			return Admission{Allowed: false, Reason: ReasonCallerBusy}, nil
		}
	}
	return adm, nil
}

func (m *Manager) evaluate(ctx context.Context, q Queries, prospectID int64, now time.Time) (Admission, error) {
	if _, open, err := q.FindOpenCallAttempt(ctx, prospectID); err != nil {
		return Admission{}, err
	} else if open {
		return Admission{Allowed: false, Reason: ReasonInProgress}, nil
	}

	if m.cooldown > 0 {
		last, ok, err := q.LastEndedCallAttempt(ctx, prospectID)
		if err != nil {
			return Admission{}, err
		}
		if ok && last.EndedAt != nil && now.Before(last.EndedAt.Add(m.cooldown)) {
			return Admission{Allowed: false, Reason: ReasonCooldown}, nil
		}
	}
	return Admission{Allowed: true}, nil
}

// StartCall admits and records a new attempt in one transaction.
//
// The prospect row is locked for the duration of the check and insert, so two
// agents racing for the same prospect cannot both pass admission.
func (m *Manager) StartCall(ctx context.Context, req StartCallRequest) (CallAttempt, error) {
	if req.ProspectID <= 0 || req.CallerID <= 0 {
		return CallAttempt{}, errInvalid("prospect_id and caller_id must be positive")
	}
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	req.FromNumber = strings.TrimSpace(req.FromNumber)
	if req.PhoneNumber != "" && !IsE164(req.PhoneNumber) {
		return CallAttempt{}, errInvalid("phone_number must be E.164")
	}
	if req.FromNumber != "" && !IsE164(req.FromNumber) {
		return CallAttempt{}, errInvalid("from_number must be E.164")
	}

	log := logger.From(ctx)

	if m.limiter != nil {
		ok, err := m.limiter.Acquire(ctx, req.CallerID)
		if err != nil {
			return CallAttempt{}, apperr.Transient("acquire caller slot", err)
		}
		if !ok {
			return CallAttempt{}, errCallerBusy()
		}
	}

	var out CallAttempt
	err := m.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		p, err := tx.LockProspect(ctx, req.ProspectID)
		if err != nil {
			return err
		}

		now := m.clock().UTC()
		adm, err := m.evaluate(ctx, tx, req.ProspectID, now)
		if err != nil {
			return err
		}
		if !adm.Allowed {
			return admissionError(adm.Reason)
		}

		phone := req.PhoneNumber
		if phone == "" {
			phone = strings.TrimSpace(p.PhoneNumber)
		}
		if !IsE164(phone) {
			return errInvalid("prospect has no dialable phone number")
		}

		a := CallAttempt{
			ID:          uuid.NewString(),
			ProspectID:  req.ProspectID,
			CallerID:    req.CallerID,
			PhoneNumber: phone,
			FromNumber:  req.FromNumber,
			State:       StateInProgress,
			StartedAt:   now,
		}
		if err := tx.InsertCallAttempt(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		if m.limiter != nil {
			// The tx context may already be canceled; release on a fresh one.
			if rerr := m.limiter.Release(context.WithoutCancel(ctx), req.CallerID); rerr != nil {
				log.Warn("caller slot release failed", "caller_id", req.CallerID, "err", rerr)
			}
		}
		return CallAttempt{}, apperr.Transient("start call", err)
	}

	log.Info("call started", "prospect_id", out.ProspectID, "call_attempt_id", out.ID, "caller_id", out.CallerID)
	m.publish(ctx, events.TypeCallStarted, out)
	return out, nil
}

// EndCall moves an open attempt to ended and records its outcome.
func (m *Manager) EndCall(ctx context.Context, req EndCallRequest) (CallAttempt, error) {
	if req.ProspectID <= 0 {
		return CallAttempt{}, errInvalid("prospect_id must be positive")
	}
	if _, err := uuid.Parse(req.AttemptID); err != nil {
		return CallAttempt{}, errAttemptNotFound()
	}
	req.Outcome = strings.TrimSpace(req.Outcome)
	if req.Outcome == "" || len(req.Outcome) > maxOutcomeLen {
		return CallAttempt{}, errInvalid("outcome is required (max 64 characters)")
	}
	if req.DurationSeconds < 0 {
		return CallAttempt{}, errInvalid("duration_seconds must not be negative")
	}

	var out CallAttempt
	err := m.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		a, err := tx.LockCallAttempt(ctx, req.AttemptID)
		if err != nil {
			return err
		}
		if a.ProspectID != req.ProspectID {
			return errAttemptNotFound()
		}
		if !a.State.IsOpen() {
			return errAlreadyEnded()
		}

		endedAt := m.clock().UTC()
		a.State = StateEnded
		a.EndedAt = &endedAt
		a.Outcome = req.Outcome
		a.DurationSeconds = req.DurationSeconds
		a.Notes = strings.TrimSpace(req.Notes)
		a.RecordingRef = strings.TrimSpace(req.RecordingRef)
		if err := tx.UpdateCallAttemptEnded(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return CallAttempt{}, apperr.Transient("end call", err)
	}

	log := logger.From(ctx)
	if m.limiter != nil {
		// The attempt is committed; a client hangup must not strand the slot.
		if err := m.limiter.Release(context.WithoutCancel(ctx), out.CallerID); err != nil {
			log.Warn("caller slot release failed", "caller_id", out.CallerID, "err", err)
		}
	}

	log.Info("call ended", "prospect_id", out.ProspectID, "call_attempt_id", out.ID, "outcome", out.Outcome, "duration_seconds", out.DurationSeconds)
	m.publish(ctx, events.TypeCallEnded, out)
	return out, nil
}

// ActiveCalls lists every open attempt. It is a plain query snapshot; nothing is cached.
func (m *Manager) ActiveCalls(ctx context.Context) ([]ActiveCall, error) {
	out, err := m.repo.ListActiveCallAttempts(ctx)
	if err != nil {
		return nil, apperr.Transient("list active calls", err)
	}
	return out, nil
}

// GetAttempt returns one attempt scoped to its prospect.
func (m *Manager) GetAttempt(ctx context.Context, prospectID int64, attemptID string) (CallAttempt, error) {
	if _, err := uuid.Parse(attemptID); err != nil {
		return CallAttempt{}, errAttemptNotFound()
	}
	a, err := m.repo.GetCallAttempt(ctx, attemptID)
	if err != nil {
		return CallAttempt{}, apperr.Transient("load call attempt", err)
	}
	if a.ProspectID != prospectID {
		return CallAttempt{}, errAttemptNotFound()
	}
	return a, nil
}

// History lists a prospect's attempts, newest first.
func (m *Manager) History(ctx context.Context, prospectID int64) ([]CallAttempt, error) {
	if _, err := m.repo.GetProspect(ctx, prospectID); err != nil {
		return nil, apperr.Transient("load prospect", err)
	}
	out, err := m.repo.ListCallAttempts(ctx, prospectID)
	if err != nil {
		return nil, apperr.Transient("list call attempts", err)
	}
	return out, nil
}

// AttachProviderCall records the vendor call id on an open attempt.
func (m *Manager) AttachProviderCall(ctx context.Context, prospectID int64, attemptID, providerCallID string) error {
	providerCallID = strings.TrimSpace(providerCallID)
	if providerCallID == "" {
		return errInvalid("provider_call_id is required")
	}
	if _, err := uuid.Parse(attemptID); err != nil {
		return errAttemptNotFound()
	}
	err := m.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		a, err := tx.LockCallAttempt(ctx, attemptID)
		if err != nil {
			return err
		}
		if a.ProspectID != prospectID {
			return errAttemptNotFound()
		}
		if !a.State.IsOpen() {
			return errAlreadyEnded()
		}
		if a.ProviderCallID == providerCallID {
			return nil
		}
		return tx.SetProviderCallID(ctx, attemptID, providerCallID)
	})
	return apperr.Transient("attach provider call", err)
}

// ListCallAttemptsBetween serves reporting; callerID 0 covers all callers.
func (m *Manager) ListCallAttemptsBetween(ctx context.Context, from, to time.Time, callerID int64) ([]CallAttempt, error) {
	out, err := m.repo.ListCallAttemptsBetween(ctx, from, to, callerID)
	if err != nil {
		return nil, apperr.Transient("list call attempts", err)
	}
	return out, nil
}

func (m *Manager) publish(ctx context.Context, t events.Type, a CallAttempt) {
	e := events.Event{
		ID:              uuid.NewString(),
		Type:            t,
		ProspectID:      a.ProspectID,
		CallAttemptID:   a.ID,
		CallerID:        a.CallerID,
		State:           string(a.State),
		Outcome:         a.Outcome,
		DurationSeconds: a.DurationSeconds,
		OccurredAt:      a.StartedAt,
	}
	if a.EndedAt != nil {
		e.OccurredAt = *a.EndedAt
	}
	if err := m.events.Publish(ctx, e); err != nil {
		logger.From(ctx).Warn("call event publish failed", "type", t, "call_attempt_id", a.ID, "err", err)
	}
}

// IsE164 reports whether s looks like an E.164 number: '+' then 8 to 15 digits.
func IsE164(s string) bool {
	if len(s) < 9 || len(s) > 16 || s[0] != '+' {
		return false
	}
	if s[1] == '0' {
		return false
	}
	for _, r := range s[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
