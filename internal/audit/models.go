package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - actor and ip capture are best-effort; do not block critical flows on audit failures.
type Event struct {
	ID string `json:"id" db:"id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	// ActorUserID is the authenticated user causing the event. Zero for vendor webhooks.
	ActorUserID int64  `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`

	// IPAddress is the resolved client IP.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	ProspectID    int64  `json:"prospect_id,omitempty" db:"prospect_id"`
	CallAttemptID string `json:"call_attempt_id,omitempty" db:"call_attempt_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCallStarted   EventType = "call_started"
	EventTypeCallEnded     EventType = "call_ended"
	EventTypeLeadAssigned  EventType = "lead_assigned"
	EventTypeStatusChanged EventType = "status_changed"
)

// Actor identifies who caused an event.
type Actor struct {
	UserID int64
	Role   string
	IP     string
}

// SystemActor is used for vendor webhooks, which carry no user identity.
func SystemActor(ip, vendor string) Actor {
	return Actor{Role: "system:" + vendor, IP: ip}
}
