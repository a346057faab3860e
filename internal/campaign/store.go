// Package campaign starts scheduled campaigns, releases their contacts into
// workflow executions in daily-limited batches and aggregates the outcome.
package campaign

import (
	"context"
	"time"

	"github.com/foxzi/campaignd/internal/businesshours"
	"github.com/foxzi/campaignd/internal/models"
	"github.com/foxzi/campaignd/internal/repository"
	"github.com/foxzi/campaignd/internal/signal"
	"github.com/foxzi/campaignd/internal/suppression"
)

// CampaignStore persists campaigns
type CampaignStore interface {
	Get(ctx context.Context, id string) (*models.Campaign, error)
	ListScheduled(ctx context.Context) ([]models.Campaign, error)
	SetStartAt(ctx context.Context, id string, at time.Time) error
	RevertToDraft(ctx context.Context, id string) (bool, error)
	MarkRunning(ctx context.Context, id string, total int, day string) (bool, error)
	ReturnToScheduled(ctx context.Context, id string) (bool, error)
	Complete(ctx context.Context, id string) (bool, error)
	UpdateCounters(ctx context.Context, id string, c models.CampaignCounters) error
	ResetDay(ctx context.Context, id, day string) (bool, error)
	AdvanceBatch(ctx context.Context, id string) error
	SetDeferred(ctx context.Context, id string, n int) error
	ReleaseContact(ctx context.Context, rel repository.Release) error
}

// MemberStore persists campaign contact membership
type MemberStore interface {
	GetMany(ctx context.Context, ids []string) ([]models.ContactListMember, error)
	ListForCampaign(ctx context.Context, campaignID string) ([]models.ContactListMember, error)
	CountByStatus(ctx context.Context, campaignID string) (models.MemberStatusCounts, error)
	MarkExcluded(ctx context.Context, ids []string, reason string) (int, error)
	MarkFailed(ctx context.Context, id, reason string) (bool, error)
	Finish(ctx context.Context, executionID string, status models.MemberStatus, errMsg string) (bool, error)
}

// ExecutionStore reads executions
type ExecutionStore interface {
	Get(ctx context.Context, id string) (*models.Execution, error)
}

// LinkStore persists campaign to execution links
type LinkStore interface {
	GetByExecution(ctx context.Context, executionID string) (*models.CampaignExecution, error)
	Finish(ctx context.Context, campaignID, executionID string, status models.ExecutionStatus) error
}

// WorkflowStore loads workflows
type WorkflowStore interface {
	Get(ctx context.Context, id string) (*models.Workflow, error)
}

// TemplateStore loads email templates
type TemplateStore interface {
	GetEmail(ctx context.Context, companyID, id string) (*models.EmailTemplate, error)
}

// ContactStore loads person records in bulk
type ContactStore interface {
	GetCustomers(ctx context.Context, companyID string, ids []string) (map[string]*models.Customer, error)
	GetLeads(ctx context.Context, companyID string, ids []string) (map[string]*models.Lead, error)
}

// SuppressionChecker checks contacts against do-not-contact records
type SuppressionChecker interface {
	CheckBulk(ctx context.Context, companyID string, contacts []suppression.Contact) (map[string]suppression.Match, error)
}

// HoursOracle resolves tenant business hours
type HoursOracle interface {
	For(ctx context.Context, companyID string) (*businesshours.Schedule, error)
}

// Emitter emits signals
type Emitter interface {
	Emit(ctx context.Context, name string, payload any, opts ...signal.Option) (string, error)
	EmitAt(ctx context.Context, name string, payload any, at time.Time, opts ...signal.Option) (string, error)
}

// StaleCallCleaner releases call slots whose call never reported an end
type StaleCallCleaner interface {
	CleanupStaleCalls(ctx context.Context) (int, error)
}

// contact is a member with its person records
type contact struct {
	member   models.ContactListMember
	customer *models.Customer
	lead     *models.Lead
}

func (c *contact) email() string {
	if c.customer != nil {
		return c.customer.Email
	}
	return ""
}

func (c *contact) phone() string {
	if c.customer != nil {
		return c.customer.Phone
	}
	return ""
}

// resolveContacts loads the customer and lead of each member with one
// lookup per record kind. A member's customer is its own or its lead's.
func resolveContacts(ctx context.Context, store ContactStore, companyID string, members []models.ContactListMember) ([]contact, error) {
	var leadIDs []string
	for _, m := range members {
		if m.LeadID != "" {
			leadIDs = append(leadIDs, m.LeadID)
		}
	}
	leads := map[string]*models.Lead{}
	if len(leadIDs) > 0 {
		var err error
		if leads, err = store.GetLeads(ctx, companyID, leadIDs); err != nil {
			return nil, err
		}
	}

	customerID := func(m models.ContactListMember) string {
		if m.CustomerID != "" {
			return m.CustomerID
		}
		if l := leads[m.LeadID]; l != nil {
			return l.CustomerID
		}
		return ""
	}
	var customerIDs []string
	for _, m := range members {
		if id := customerID(m); id != "" {
			customerIDs = append(customerIDs, id)
		}
	}
	customers := map[string]*models.Customer{}
	if len(customerIDs) > 0 {
		var err error
		if customers, err = store.GetCustomers(ctx, companyID, customerIDs); err != nil {
			return nil, err
		}
	}

	out := make([]contact, 0, len(members))
	for _, m := range members {
		out = append(out, contact{
			member:   m,
			customer: customers[customerID(m)],
			lead:     leads[m.LeadID],
		})
	}
	return out, nil
}
