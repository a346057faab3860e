package models

import (
	"strings"
	"time"
)

// Company is a tenant
type Company struct {
	ID      string `db:"id" json:"id"`
	Name    string `db:"name" json:"name"`
	Email   string `db:"email" json:"email,omitempty"`
	Phone   string `db:"phone" json:"phone,omitempty"`
	Website string `db:"website" json:"website,omitempty"`
	LogoURL string `db:"logo_url" json:"logo_url,omitempty"`
}

// Customer is a person record owned by a company
type Customer struct {
	ID        string    `db:"id" json:"id"`
	CompanyID string    `db:"company_id" json:"company_id"`
	FirstName string    `db:"first_name" json:"first_name"`
	LastName  string    `db:"last_name" json:"last_name"`
	Email     string    `db:"email" json:"email,omitempty"`
	Phone     string    `db:"phone" json:"phone,omitempty"`
	Address   string    `db:"address" json:"address,omitempty"`
	City      string    `db:"city" json:"city,omitempty"`
	State     string    `db:"state" json:"state,omitempty"`
	ZipCode   string    `db:"zip_code" json:"zip_code,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// FullName joins first and last name
func (c *Customer) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// Lead is a sales opportunity, optionally linked to a customer
type Lead struct {
	ID         string    `db:"id" json:"id"`
	CompanyID  string    `db:"company_id" json:"company_id"`
	CustomerID string    `db:"customer_id" json:"customer_id,omitempty"`
	LeadStatus string    `db:"lead_status" json:"lead_status"`
	PestType   string    `db:"pest_type" json:"pest_type,omitempty"`
	Urgency    string    `db:"urgency" json:"urgency,omitempty"`
	HomeSize   string    `db:"home_size" json:"home_size,omitempty"`
	Source     string    `db:"source" json:"source,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// PartialLead is an in-progress signup that may be converted into a lead
type PartialLead struct {
	ID              string     `db:"id" json:"id"`
	CompanyID       string     `db:"company_id" json:"company_id"`
	Email           string     `db:"email" json:"email,omitempty"`
	Phone           string     `db:"phone" json:"phone,omitempty"`
	ConvertedLeadID string     `db:"converted_lead_id" json:"converted_lead_id,omitempty"`
	ConvertedAt     *time.Time `db:"converted_at" json:"converted_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// Converted reports whether the partial lead became a lead
func (p *PartialLead) Converted() bool {
	return p.ConvertedAt != nil || p.ConvertedLeadID != ""
}
