package models

import "time"

// Call log statuses
const (
	CallScheduled = "scheduled"
	CallInitiated = "initiated"
	CallCompleted = "completed"
	CallFailed    = "failed"
)

// CallLog records an outbound call placed on behalf of a workflow
type CallLog struct {
	ID             string     `db:"id" json:"id"`
	CompanyID      string     `db:"company_id" json:"company_id"`
	ExecutionID    string     `db:"execution_id" json:"execution_id,omitempty"`
	LeadID         string     `db:"lead_id" json:"lead_id,omitempty"`
	CustomerID     string     `db:"customer_id" json:"customer_id,omitempty"`
	Phone          string     `db:"phone" json:"phone"`
	CallType       string     `db:"call_type" json:"call_type"`
	Priority       string     `db:"priority" json:"priority"`
	Status         string     `db:"status" json:"status"`
	ProviderCallID string     `db:"provider_call_id" json:"provider_call_id,omitempty"`
	ErrorMessage   string     `db:"error_message" json:"error_message,omitempty"`
	ScheduledFor   *time.Time `db:"scheduled_for" json:"scheduled_for,omitempty"`
	StartedAt      *time.Time `db:"started_at" json:"started_at,omitempty"`
	EndedAt        *time.Time `db:"ended_at" json:"ended_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}
