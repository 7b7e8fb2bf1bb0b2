package telephony

import (
	"context"
	"errors"
	"time"

	"callcenter/internal/apperr"
	"callcenter/internal/calls"
	"callcenter/pkg/logger"
)

// Lifecycle is the subset of calls.Manager the vendor adapters drive.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - Adapters only translate vendor events; state decisions stay in calls.Manager.
type Lifecycle interface {
	GetAttempt(ctx context.Context, prospectID int64, attemptID string) (calls.CallAttempt, error)
	AttachProviderCall(ctx context.Context, prospectID int64, attemptID, providerCallID string) error
	EndCall(ctx context.Context, req calls.EndCallRequest) (calls.CallAttempt, error)
}

// CallEventKind is the provider-agnostic category of a vendor callback.
type CallEventKind string

const (
	CallEventProgress CallEventKind = "progress" // queued, ringing, answered
	CallEventEnded    CallEventKind = "ended"
	CallEventIgnored  CallEventKind = "ignored"
)

// CallEvent is a normalized vendor callback tied to one call attempt.
type CallEvent struct {
	Provider string
	Kind     CallEventKind

	ProspectID int64
	AttemptID  string

	// ProviderCallID is the vendor's identifier (Twilio CallSid, Telnyx call_control_id).
	ProviderCallID string

	// Set when Kind == CallEventEnded.
	Outcome         string
	DurationSeconds int
	RecordingRef    string

	OccurredAt time.Time
}

// ApplyResult reports what Apply did with an event.
type ApplyResult string

const (
	ApplyAttached     ApplyResult = "attached"
	ApplyEnded        ApplyResult = "ended"
	ApplyAlreadyEnded ApplyResult = "already_ended"
	ApplyIgnored      ApplyResult = "ignored"
)

// Apply drives the lifecycle from a normalized event.
//
// Vendors redeliver callbacks, so an EndCall rejected as invalid_state is
// reported as ApplyAlreadyEnded rather than an error.
func Apply(ctx context.Context, lc Lifecycle, ev CallEvent) (ApplyResult, error) {
	switch ev.Kind {
	case CallEventProgress:
		if ev.ProviderCallID == "" {
			return ApplyIgnored, nil
		}
		err := lc.AttachProviderCall(ctx, ev.ProspectID, ev.AttemptID, ev.ProviderCallID)
		if errors.Is(err, apperr.ErrInvalidState) {
			// Progress delivered after the hangup.
			return ApplyAlreadyEnded, nil
		}
		if err != nil {
			return "", err
		}
		return ApplyAttached, nil
	case CallEventEnded:
		if ev.ProviderCallID != "" {
			// Best-effort; the end transition below is what matters.
			err := lc.AttachProviderCall(ctx, ev.ProspectID, ev.AttemptID, ev.ProviderCallID)
			if err != nil && !errors.Is(err, apperr.ErrInvalidState) {
				logger.From(ctx).Warn("attach provider call failed",
					"provider", ev.Provider,
					"prospect_id", ev.ProspectID,
					"call_attempt_id", ev.AttemptID,
					"provider_call_id", ev.ProviderCallID,
					"err", err)
			}
		}
		_, err := lc.EndCall(ctx, calls.EndCallRequest{
			ProspectID:      ev.ProspectID,
			AttemptID:       ev.AttemptID,
			Outcome:         ev.Outcome,
			DurationSeconds: ev.DurationSeconds,
			RecordingRef:    ev.RecordingRef,
		})
		if errors.Is(err, apperr.ErrInvalidState) {
			return ApplyAlreadyEnded, nil
		}
		if err != nil {
			return "", err
		}
		return ApplyEnded, nil
	default:
		return ApplyIgnored, nil
	}
}
