package prospects

import "time"

// Prospect is a sales lead that agents call.
type Prospect struct {
	ID          int64  `json:"id" db:"id"`
	FullName    string `json:"full_name" db:"full_name"`
	PhoneNumber string `json:"phone_number" db:"phone_number"`
	Email       string `json:"email,omitempty" db:"email"`
	Company     string `json:"company,omitempty" db:"company"`

	Status Status `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusNew          Status = "new"
	StatusContacted    Status = "contacted"
	StatusQualified    Status = "qualified"
	StatusDisqualified Status = "disqualified"
	StatusCallback     Status = "callback"
	StatusConverted    Status = "converted"
)

func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusContacted, StatusQualified, StatusDisqualified, StatusCallback, StatusConverted:
		return true
	default:
		return false
	}
}

// StatusChangeEvent is a write-once record of a status transition.
type StatusChangeEvent struct {
	ID         string    `json:"id" db:"id"`
	ProspectID int64     `json:"prospect_id" db:"prospect_id"`
	OldStatus  Status    `json:"old_status" db:"old_status"`
	NewStatus  Status    `json:"new_status" db:"new_status"`
	ChangedBy  int64     `json:"changed_by" db:"changed_by"`
	Reason     string    `json:"reason,omitempty" db:"reason"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// LeadAssignment is temporary ownership of a prospect by an agent.
// It is informational; it does not gate StartCall.
type LeadAssignment struct {
	ProspectID int64     `json:"prospect_id" db:"prospect_id"`
	AssignedTo int64     `json:"assigned_to" db:"assigned_to"`
	AssignedBy int64     `json:"assigned_by" db:"assigned_by"`
	ExpiresAt  time.Time `json:"expires_at" db:"expires_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

type ChangeStatusRequest struct {
	ProspectID int64
	NewStatus  Status
	ChangedBy  int64
	Reason     string
}

type AssignLeadRequest struct {
	ProspectID int64
	AssignedTo int64
	AssignedBy int64
	ExpiresAt  time.Time
}
