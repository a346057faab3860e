package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// ExecutionStatus represents the state of a workflow execution
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is final
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// TriggerType describes what started an execution
type TriggerType string

const (
	TriggerCampaign    TriggerType = "campaign"
	TriggerManual      TriggerType = "manual"
	TriggerLeadCreated TriggerType = "lead_created"
	TriggerLeadStatus  TriggerType = "lead_status"
	TriggerPartialLead TriggerType = "partial_lead"
)

// SleepKind describes why an execution is suspended
type SleepKind string

const (
	SleepDelay SleepKind = "delay"      // delay after a recorded step
	SleepWait  SleepKind = "wait"       // wait step, recorded on wake
	SleepHours SleepKind = "hours_gate" // waiting for business hours before a send
)

// StepResult is the recorded outcome of one workflow step
type StepResult struct {
	StepIndex   int            `json:"stepIndex"`
	StepType    string         `json:"stepType"`
	CompletedAt time.Time      `json:"completedAt"`
	Success     bool           `json:"success"`
	Error       string         `json:"error,omitempty"`
	Data        map[string]any `json:"result,omitempty"`
}

// StepResults is the ordered list of recorded step outcomes
type StepResults []StepResult

// Value implements driver.Valuer
func (r StepResults) Value() (driver.Value, error) {
	if r == nil {
		return "[]", nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner
func (r *StepResults) Scan(src any) error {
	data, err := columnBytes(src)
	if err != nil || len(data) == 0 {
		*r = nil
		return err
	}
	return json.Unmarshal(data, r)
}

// Has reports whether a result for the step index was recorded
func (r StepResults) Has(index int) bool {
	return r.Find(index) != nil
}

// Find returns the result recorded for the step index
func (r StepResults) Find(index int) *StepResult {
	for i := range r {
		if r[i].StepIndex == index {
			return &r[i]
		}
	}
	return nil
}

// Execution is one contact's run through a workflow
type Execution struct {
	ID              string          `db:"id" json:"id"`
	WorkflowID      string          `db:"workflow_id" json:"workflow_id"`
	CompanyID       string          `db:"company_id" json:"company_id"`
	CampaignID      string          `db:"campaign_id" json:"campaign_id,omitempty"`
	LeadID          string          `db:"lead_id" json:"lead_id,omitempty"`
	CustomerID      string          `db:"customer_id" json:"customer_id,omitempty"`
	PartialLeadID   string          `db:"partial_lead_id" json:"partial_lead_id,omitempty"`
	TriggerType     TriggerType     `db:"trigger_type" json:"trigger_type"`
	Status          ExecutionStatus `db:"status" json:"status"`
	CurrentStep     int             `db:"current_step" json:"current_step"`
	ContactData     JSONMap         `db:"contact_data" json:"contact_data"`
	Results         StepResults     `db:"results" json:"results"`
	CancelRequested bool            `db:"cancel_requested" json:"cancel_requested"`
	CancelReason    string          `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CancelledAtStep *int            `db:"cancelled_at_step" json:"cancelled_at_step,omitempty"`
	ErrorMessage    string          `db:"error_message" json:"error_message,omitempty"`
	WakeAt          *time.Time      `db:"wake_at" json:"wake_at,omitempty"`
	SleepStep       *int            `db:"sleep_step" json:"sleep_step,omitempty"`
	SleepKind       SleepKind       `db:"sleep_kind" json:"sleep_kind,omitempty"`
	StartedAt       *time.Time      `db:"started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// Sleeping reports whether the execution is suspended in a durable sleep
func (e *Execution) Sleeping() bool {
	return e.SleepStep != nil
}
