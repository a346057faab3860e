package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Workflow is an ordered list of steps shared by every contact of a campaign.
// Steps holds the JSON encoded step list.
type Workflow struct {
	ID               string         `db:"id" json:"id"`
	CompanyID        string         `db:"company_id" json:"company_id"`
	Name             string         `db:"name" json:"name"`
	Steps            types.JSONText `db:"steps" json:"steps"`
	CancelOnStatuses StringList     `db:"cancel_on_statuses" json:"cancel_on_statuses,omitempty"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
}
