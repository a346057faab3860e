package repository

import (
	"errors"

	"github.com/jmoiron/sqlx"
)

// ErrConflict is returned when a conditional write lost a race
var ErrConflict = errors.New("conflicting update")

// terminalExecution is the guard every terminal execution write carries
const terminalExecution = "status NOT IN ('completed','failed','cancelled')"

// Store bundles the repositories of one database
type Store struct {
	DB                 *sqlx.DB
	Campaigns          *CampaignRepository
	Members            *MemberRepository
	Workflows          *WorkflowRepository
	Executions         *ExecutionRepository
	CampaignExecutions *CampaignExecutionRepository
	Contacts           *ContactRepository
	Suppressions       *SuppressionRepository
	Settings           *SettingsRepository
	Templates          *TemplateRepository
	Calls              *CallLogRepository
}

// NewStore creates all repositories over db
func NewStore(db *sqlx.DB) *Store {
	return &Store{
		DB:                 db,
		Campaigns:          NewCampaignRepository(db),
		Members:            NewMemberRepository(db),
		Workflows:          NewWorkflowRepository(db),
		Executions:         NewExecutionRepository(db),
		CampaignExecutions: NewCampaignExecutionRepository(db),
		Contacts:           NewContactRepository(db),
		Suppressions:       NewSuppressionRepository(db),
		Settings:           NewSettingsRepository(db),
		Templates:          NewTemplateRepository(db),
		Calls:              NewCallLogRepository(db),
	}
}

func affected(res interface{ RowsAffected() (int64, error) }) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
