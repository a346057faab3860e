package campaign

import (
	"context"
	"log/slog"

	"github.com/foxzi/campaignd/internal/metrics"
	"github.com/foxzi/campaignd/internal/models"
	"github.com/foxzi/campaignd/internal/queue"
	"github.com/foxzi/campaignd/internal/signal"
)

// Registrar registers task handlers
type Registrar interface {
	Handle(name string, h queue.Handler)
}

// Aggregator folds finished executions into member statuses and campaign
// counters. Handling the same execution twice is harmless.
type Aggregator struct {
	campaigns  CampaignStore
	members    MemberStore
	executions ExecutionStore
	links      LinkStore
	logger     *slog.Logger
}

// NewAggregator creates a completion aggregator
func NewAggregator(campaigns CampaignStore, members MemberStore, executions ExecutionStore, links LinkStore, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		campaigns:  campaigns,
		members:    members,
		executions: executions,
		links:      links,
		logger:     logger.With("component", "aggregator"),
	}
}

// Register installs the workflow.completed handler
func (a *Aggregator) Register(r Registrar) {
	r.Handle(signal.WorkflowCompleted, func(ctx context.Context, t *queue.Task) error {
		var p signal.CompletedPayload
		if err := t.Decode(&p); err != nil {
			return err
		}
		return a.ExecutionFinished(ctx, p.ExecutionID)
	})
}

// MemberStatusFor maps a terminal execution status to the member status.
// A cancelled execution counts as a served contact.
func MemberStatusFor(s models.ExecutionStatus) models.MemberStatus {
	switch s {
	case models.ExecutionCompleted, models.ExecutionCancelled:
		return models.MemberProcessed
	}
	return models.MemberFailed
}

// ExecutionFinished records the outcome of one execution. Executions that
// do not belong to a campaign are ignored.
func (a *Aggregator) ExecutionFinished(ctx context.Context, executionID string) error {
	link, err := a.links.GetByExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if link == nil {
		return nil
	}
	logger := a.logger.With("campaign_id", link.CampaignID, "execution_id", executionID)

	exec, err := a.executions.Get(ctx, executionID)
	if err != nil {
		return err
	}
	if exec == nil || !exec.Status.Terminal() {
		logger.Warn("completion reported for unfinished execution")
		return nil
	}

	status := MemberStatusFor(exec.Status)
	ok, err := a.members.Finish(ctx, executionID, status, exec.ErrorMessage)
	if err != nil {
		return err
	}
	if err := a.links.Finish(ctx, link.CampaignID, executionID, exec.Status); err != nil {
		return err
	}
	if ok {
		metrics.AddContacts(string(status), 1)
		logger.Debug("member finished", "status", status)
	}

	_, err = a.Recount(ctx, link.CampaignID)
	return err
}

// Recount recomputes the campaign counters from its members and completes
// the campaign once every contact is accounted for
func (a *Aggregator) Recount(ctx context.Context, campaignID string) (*models.CampaignCounters, error) {
	counts, err := a.members.CountByStatus(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	counters := models.CampaignCounters{
		Total:      counts.Total(),
		Processed:  counts[models.MemberProcessed] + counts[models.MemberFailed] + counts[models.MemberExcluded],
		Successful: counts[models.MemberProcessed],
		Failed:     counts[models.MemberFailed] + counts[models.MemberExcluded],
	}
	if err := a.campaigns.UpdateCounters(ctx, campaignID, counters); err != nil {
		return nil, err
	}

	c, err := a.campaigns.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c == nil || c.Status != models.CampaignRunning {
		return &counters, nil
	}
	if c.TotalContacts > 0 && c.ProcessedContacts >= c.TotalContacts {
		ok, err := a.campaigns.Complete(ctx, campaignID)
		if err != nil {
			return nil, err
		}
		if ok {
			metrics.IncCampaignEvent("completed")
			a.logger.Info("campaign completed", "campaign_id", campaignID,
				"processed", c.ProcessedContacts, "successful", c.SuccessfulContacts, "failed", c.FailedContacts)
		}
	}
	return &counters, nil
}
