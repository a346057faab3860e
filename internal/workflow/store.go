package workflow

import (
	"context"
	"time"

	"github.com/foxzi/campaignd/internal/businesshours"
	"github.com/foxzi/campaignd/internal/models"
	"github.com/foxzi/campaignd/internal/signal"
)

// ExecutionStore persists executions with guarded writes
type ExecutionStore interface {
	Create(ctx context.Context, e *models.Execution) error
	Get(ctx context.Context, id string) (*models.Execution, error)
	ListActiveByLead(ctx context.Context, companyID, leadID string) ([]models.Execution, error)
	Start(ctx context.Context, id string, at time.Time) (bool, error)
	RecordStep(ctx context.Context, id string, expected, next int, results models.StepResults) (bool, error)
	Sleep(ctx context.Context, id string, cursor, step int, kind models.SleepKind, wakeAt time.Time) (bool, error)
	Wake(ctx context.Context, id string, step int) (bool, error)
	Complete(ctx context.Context, id string) (bool, error)
	Fail(ctx context.Context, id, errMsg string) (bool, error)
	Cancel(ctx context.Context, id string, step int, reason string) (bool, error)
	RequestCancel(ctx context.Context, id, reason string) (bool, error)
}

// WorkflowStore loads workflow definitions
type WorkflowStore interface {
	Get(ctx context.Context, id string) (*models.Workflow, error)
}

// CampaignStore loads campaigns
type CampaignStore interface {
	Get(ctx context.Context, id string) (*models.Campaign, error)
}

// ContactStore reads and updates person records
type ContactStore interface {
	GetCompany(ctx context.Context, id string) (*models.Company, error)
	GetCustomer(ctx context.Context, companyID, id string) (*models.Customer, error)
	GetLead(ctx context.Context, companyID, id string) (*models.Lead, error)
	UpdateLeadStatus(ctx context.Context, companyID, id, status string) (bool, error)
	GetPartialLead(ctx context.Context, id string) (*models.PartialLead, error)
}

// TemplateStore loads company templates
type TemplateStore interface {
	GetEmail(ctx context.Context, companyID, id string) (*models.EmailTemplate, error)
	GetSMS(ctx context.Context, companyID, id string) (*models.SMSTemplate, error)
}

// CallStore persists call logs
type CallStore interface {
	Create(ctx context.Context, c *models.CallLog) error
	Get(ctx context.Context, id string) (*models.CallLog, error)
	Schedule(ctx context.Context, id string, at time.Time) error
	MarkInitiated(ctx context.Context, id, providerCallID string) error
	MarkFailed(ctx context.Context, id, errMsg string) error
}

// Emitter emits signals
type Emitter interface {
	Emit(ctx context.Context, name string, payload any, opts ...signal.Option) (string, error)
	EmitAt(ctx context.Context, name string, payload any, at time.Time, opts ...signal.Option) (string, error)
}

// HoursOracle resolves tenant business hours
type HoursOracle interface {
	For(ctx context.Context, companyID string) (*businesshours.Schedule, error)
}
