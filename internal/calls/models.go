package calls

import "time"

// State is the lifecycle state of a CallAttempt.
//
// requested -> in_progress -> ended (terminal). Both non-terminal states are
// "open" and count against the one-open-call-per-prospect rule.
type State string

const (
	StateRequested  State = "requested"
	StateInProgress State = "in_progress"
	StateEnded      State = "ended"
)

func (s State) IsOpen() bool {
	return s == StateRequested || s == StateInProgress
}

// CallAttempt is one dialing attempt against a prospect.
// Rows are append-only: created by StartCall, closed by EndCall, never deleted.
type CallAttempt struct {
	ID         string `json:"id" db:"id"`
	ProspectID int64  `json:"prospect_id" db:"prospect_id"`
	CallerID   int64  `json:"caller_id" db:"caller_id"`

	PhoneNumber string `json:"phone_number" db:"phone_number"`
	FromNumber  string `json:"from_number,omitempty" db:"from_number"`

	State State `json:"state" db:"state"`

	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	// Outcome is empty until the attempt ends.
	Outcome         string `json:"outcome,omitempty" db:"outcome"`
	DurationSeconds int    `json:"duration_seconds" db:"duration_seconds"`
	Notes           string `json:"notes,omitempty" db:"notes"`
	RecordingRef    string `json:"recording_ref,omitempty" db:"recording_ref"`

	// ProviderCallID is the vendor's id (Twilio CallSid, Telnyx call_control_id).
	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`
}

// ActiveCall is an open attempt joined with display data.
type ActiveCall struct {
	CallAttempt
	ProspectName string `json:"prospect_name"`
	CallerName   string `json:"caller_name"`
}

// Admission is the result of CanCall.
type Admission struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

const (
	ReasonInProgress = "already in progress"
	ReasonCooldown   = "cooldown"
	ReasonCallerBusy = "caller busy"
)

// ProspectRef is the slice of a prospect the lifecycle manager needs.
type ProspectRef struct {
	ID          int64
	PhoneNumber string
}

type StartCallRequest struct {
	ProspectID  int64
	CallerID    int64
	PhoneNumber string // falls back to the prospect's phone when empty
	FromNumber  string
}

type EndCallRequest struct {
	ProspectID      int64
	AttemptID       string
	Outcome         string
	DurationSeconds int
	Notes           string
	RecordingRef    string
}

// Common outcomes reported by agents and vendor adapters. Outcome is free-form;
// these are the values the adapters emit.
const (
	OutcomeCompleted = "completed"
	OutcomeNoAnswer  = "no-answer"
	OutcomeBusy      = "busy"
	OutcomeFailed    = "failed"
	OutcomeCanceled  = "canceled"
	OutcomeRejected  = "rejected"
	OutcomeVoicemail = "voicemail"
)
