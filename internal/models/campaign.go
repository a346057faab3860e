package models

import "time"

// CampaignStatus represents the lifecycle status of a campaign
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignRunning   CampaignStatus = "running"
	CampaignCompleted CampaignStatus = "completed"
)

// Campaign is a scheduled run of one workflow against a contact population
type Campaign struct {
	ID                   string         `db:"id" json:"id"`
	CompanyID            string         `db:"company_id" json:"company_id"`
	Name                 string         `db:"name" json:"name"`
	WorkflowID           string         `db:"workflow_id" json:"workflow_id"`
	Status               CampaignStatus `db:"status" json:"status"`
	StartAt              *time.Time     `db:"start_at" json:"start_at,omitempty"`
	EndAt                *time.Time     `db:"end_at" json:"end_at,omitempty"`
	DailyLimit           int            `db:"daily_limit" json:"daily_limit"` // 0 = unlimited
	BatchSize            int            `db:"batch_size" json:"batch_size"`
	BatchIntervalMinutes int            `db:"batch_interval_minutes" json:"batch_interval_minutes"`
	RespectBusinessHours bool           `db:"respect_business_hours" json:"respect_business_hours"`
	SentToday            int            `db:"sent_today" json:"sent_today"`
	CurrentBatch         int            `db:"current_batch" json:"current_batch"`
	CurrentDay           string         `db:"current_day" json:"current_day"` // YYYY-MM-DD, tenant local
	TotalContacts        int            `db:"total_contacts" json:"total_contacts"`
	ProcessedContacts    int            `db:"processed_contacts" json:"processed_contacts"`
	SuccessfulContacts   int            `db:"successful_contacts" json:"successful_contacts"`
	FailedContacts       int            `db:"failed_contacts" json:"failed_contacts"`
	DeferredContacts     int            `db:"deferred_contacts" json:"deferred_contacts"`
	ArchivedAt           *time.Time     `db:"archived_at" json:"archived_at,omitempty"`
	CreatedAt            time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at" json:"updated_at"`
	CompletedAt          *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
}

// CampaignCounters are the aggregate contact counters of a campaign
type CampaignCounters struct {
	Total      int `json:"total"`
	Processed  int `json:"processed"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// CampaignExecution links an execution to the campaign that started it
type CampaignExecution struct {
	CampaignID  string          `db:"campaign_id" json:"campaign_id"`
	ExecutionID string          `db:"execution_id" json:"execution_id"`
	CustomerID  string          `db:"customer_id" json:"customer_id,omitempty"`
	LeadID      string          `db:"lead_id" json:"lead_id,omitempty"`
	Status      ExecutionStatus `db:"status" json:"status"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	CompletedAt *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
}
