package models

import "time"

// MemberStatus represents the status of a contact within a campaign
type MemberStatus string

const (
	MemberPending    MemberStatus = "pending"
	MemberProcessing MemberStatus = "processing"
	MemberExcluded   MemberStatus = "excluded"
	MemberFailed     MemberStatus = "failed"
	MemberProcessed  MemberStatus = "processed"
)

// Terminal reports whether the status can no longer change
func (s MemberStatus) Terminal() bool {
	return s == MemberExcluded || s == MemberFailed || s == MemberProcessed
}

// ContactListMember is one (contact, campaign) pairing.
// ContactListID is empty for members attached directly to a campaign.
type ContactListMember struct {
	ID            string       `db:"id" json:"id"`
	ContactListID string       `db:"contact_list_id" json:"contact_list_id,omitempty"`
	CampaignID    string       `db:"campaign_id" json:"campaign_id,omitempty"`
	CustomerID    string       `db:"customer_id" json:"customer_id,omitempty"`
	LeadID        string       `db:"lead_id" json:"lead_id,omitempty"`
	Status        MemberStatus `db:"status" json:"status"`
	ExecutionID   string       `db:"execution_id" json:"execution_id,omitempty"`
	ErrorMessage  string       `db:"error_message" json:"error_message,omitempty"`
	ProcessedAt   *time.Time   `db:"processed_at" json:"processed_at,omitempty"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at" json:"updated_at"`
}

// MemberStatusCounts counts members per status
type MemberStatusCounts map[MemberStatus]int

// Total returns the number of members across all statuses
func (c MemberStatusCounts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// ContactList is a named group of contacts that can be assigned to campaigns
type ContactList struct {
	ID        string    `db:"id" json:"id"`
	CompanyID string    `db:"company_id" json:"company_id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
