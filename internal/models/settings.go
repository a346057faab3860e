package models

import "github.com/jmoiron/sqlx/types"

// CompanySettings holds per-tenant overrides
type CompanySettings struct {
	CompanyID          string             `db:"company_id" json:"company_id"`
	BusinessHours      types.NullJSONText `db:"business_hours" json:"business_hours,omitempty"`
	MaxConcurrentCalls int                `db:"max_concurrent_calls" json:"max_concurrent_calls"`
}
