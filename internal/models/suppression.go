package models

import "time"

// Communication types of a suppression record
const (
	SuppressEmail = "email"
	SuppressPhone = "phone"
	SuppressSMS   = "sms"
	SuppressAll   = "all"
)

// Suppression is a tenant-scoped do-not-contact record
type Suppression struct {
	ID                string    `db:"id" json:"id"`
	CompanyID         string    `db:"company_id" json:"company_id"`
	Email             string    `db:"email" json:"email,omitempty"`
	Phone             string    `db:"phone" json:"phone,omitempty"`
	CommunicationType string    `db:"communication_type" json:"communication_type"`
	Reason            string    `db:"reason" json:"reason,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}
