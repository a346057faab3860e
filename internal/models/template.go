package models

import "time"

// EmailTemplate is a company-scoped email body template
type EmailTemplate struct {
	ID        string    `db:"id" json:"id"`
	CompanyID string    `db:"company_id" json:"company_id"`
	Name      string    `db:"name" json:"name"`
	Subject   string    `db:"subject" json:"subject"`
	HTML      string    `db:"html" json:"html,omitempty"`
	Text      string    `db:"text" json:"text,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// SMSTemplate is a company-scoped SMS body template
type SMSTemplate struct {
	ID        string    `db:"id" json:"id"`
	CompanyID string    `db:"company_id" json:"company_id"`
	Name      string    `db:"name" json:"name"`
	Body      string    `db:"body" json:"body"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
