// Package signal defines the asynchronous messages exchanged between the
// scheduler, dispatcher, engine and aggregator, and the Bus that delivers
// them through the durable task queue.
package signal

import (
	"time"
)

// Signal names
const (
	ProcessContacts      = "campaign.process-contacts"
	WorkflowExecute      = "workflow.execute"
	WorkflowResume       = "workflow.resume"
	WorkflowCompleted    = "workflow.completed"
	WorkflowCancel       = "workflow.cancel"
	ScheduleCall         = "automation.schedule_call"
	ExecuteScheduledCall = "automation.execute_scheduled_call"
	LeadStatusChanged    = "lead.status_changed"
)

// ProcessContactsPayload carries the eligible members of a running campaign
// that are still to be released
type ProcessContactsPayload struct {
	CampaignID string   `json:"campaignId"`
	CompanyID  string   `json:"companyId"`
	WorkflowID string   `json:"workflowId"`
	Contacts   []string `json:"contacts"` // member ids
}

// ExecutePayload starts one execution
type ExecutePayload struct {
	ExecutionID string         `json:"executionId"`
	WorkflowID  string         `json:"workflowId"`
	CompanyID   string         `json:"companyId"`
	ContactID   string         `json:"contactId"`
	ContactData map[string]any `json:"contactData,omitempty"`
	TriggerType string         `json:"triggerType"`
}

// ResumePayload wakes a sleeping execution
type ResumePayload struct {
	ExecutionID string    `json:"executionId"`
	SleepStep   int       `json:"sleepStep"`
	WakeAt      time.Time `json:"wakeAt"`
}

// CompletedPayload reports that an execution reached a terminal status
type CompletedPayload struct {
	ExecutionID string `json:"executionId"`
}

// CancelPayload requests cooperative cancellation of an execution
type CancelPayload struct {
	ExecutionID string `json:"executionId"`
	Reason      string `json:"reason"`
}

// ScheduleCallPayload asks the call scheduler to place a recorded call
type ScheduleCallPayload struct {
	CallID       string            `json:"callId"`
	ExecutionID  string            `json:"executionId"`
	WorkflowID   string            `json:"workflowId"`
	CompanyID    string            `json:"companyId"`
	LeadID       string            `json:"leadId,omitempty"`
	StepIndex    int               `json:"stepIndex"`
	CallType     string            `json:"callType"`
	DelayMinutes int               `json:"delayMinutes,omitempty"`
	ScheduledFor *time.Time        `json:"scheduledFor,omitempty"`
	Variables    map[string]string `json:"callVariables,omitempty"`
	IsFollowUp   bool              `json:"isFollowUp,omitempty"`
}

// ExecuteScheduledCallPayload dials a call whose time has come
type ExecuteScheduledCallPayload struct {
	CallID       string            `json:"callId"`
	CompanyID    string            `json:"companyId"`
	ScheduledFor time.Time         `json:"scheduledFor"`
	Variables    map[string]string `json:"callVariables,omitempty"`
	Attempt      int               `json:"attempt,omitempty"`
}

// LeadStatusChangedPayload reports a lead status update
type LeadStatusChangedPayload struct {
	LeadID    string `json:"leadId"`
	CompanyID string `json:"companyId"`
	Status    string `json:"status"`
}
