package campaign

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foxzi/campaignd/internal/metrics"
	"github.com/foxzi/campaignd/internal/models"
	"github.com/foxzi/campaignd/internal/signal"
	"github.com/foxzi/campaignd/internal/suppression"
	"github.com/foxzi/campaignd/internal/workflow"
)

// ExcludedReason is recorded on members blocked by a suppression record
const ExcludedReason = "Contact is on marketing suppression list"

const defaultSweepInterval = 5 * time.Minute

// SchedulerDeps are the collaborators of the scheduler
type SchedulerDeps struct {
	Campaigns   CampaignStore
	Members     MemberStore
	Workflows   WorkflowStore
	Templates   TemplateStore
	Contacts    ContactStore
	Suppression SuppressionChecker
	Hours       HoursOracle
	Bus         Emitter
	Calls       StaleCallCleaner
	Aggregator  *Aggregator
}

// Scheduler starts scheduled campaigns whose start time has passed
type Scheduler struct {
	SchedulerDeps
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
	wg       sync.WaitGroup
	done     chan struct{}
}

// NewScheduler creates a campaign scheduler sweeping every interval
func NewScheduler(deps SchedulerDeps, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Scheduler{
		SchedulerDeps: deps,
		interval:      interval,
		now:           time.Now,
		logger:        logger.With("component", "scheduler"),
		done:          make(chan struct{}),
	}
}

// SetClock overrides the time source
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Start runs a sweep immediately and then on every tick
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("scheduler started", "interval", s.interval)
}

// Stop stops the scheduler and waits for a running sweep to finish
func (s *Scheduler) Stop() {
	close(s.done)
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error("sweep failed", "error", err)
	}
}

// Sweep processes every due scheduled campaign and returns how many were
// started. A failing campaign is logged and does not stop the sweep.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	if s.Calls != nil {
		if n, err := s.Calls.CleanupStaleCalls(ctx); err != nil {
			s.logger.Error("failed to clean up stale calls", "error", err)
		} else if n > 0 {
			s.logger.Info("released stale call slots", "count", n)
		}
	}

	campaigns, err := s.Campaigns.ListScheduled(ctx)
	if err != nil {
		return 0, err
	}

	started := 0
	for i := range campaigns {
		c := &campaigns[i]
		ok, err := s.process(ctx, c)
		if err != nil {
			s.logger.Error("failed to start campaign", "campaign_id", c.ID, "error", err)
			continue
		}
		if ok {
			started++
		}
	}
	return started, nil
}

// process starts one campaign. It reports whether the campaign was started.
func (s *Scheduler) process(ctx context.Context, c *models.Campaign) (bool, error) {
	now := s.now()
	logger := s.logger.With("campaign_id", c.ID, "company_id", c.CompanyID)

	if c.StartAt != nil && c.StartAt.After(now) {
		return false, nil
	}
	if c.EndAt != nil && !c.EndAt.After(now) {
		logger.Warn("campaign end passed before start, reverting to draft")
		return false, s.revert(ctx, c.ID)
	}

	sched, err := s.Hours.For(ctx, c.CompanyID)
	if err != nil {
		return false, err
	}
	if c.RespectBusinessHours && !sched.IsOpen(now) {
		next := sched.NextOpen(now)
		logger.Info("outside business hours, rescheduling", "start_at", next)
		return false, s.Campaigns.SetStartAt(ctx, c.ID, next)
	}

	steps, err := s.checkConfig(ctx, c)
	if err != nil {
		return false, err
	}
	if steps == nil {
		return false, s.revert(ctx, c.ID)
	}

	members, err := s.Members.ListForCampaign(ctx, c.ID)
	if err != nil {
		return false, err
	}
	if len(members) == 0 {
		logger.Warn("campaign has no contacts, reverting to draft")
		return false, s.revert(ctx, c.ID)
	}

	ok, err := s.Campaigns.MarkRunning(ctx, c.ID, len(members), sched.LocalDay(now))
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	metrics.IncCampaignEvent("started")

	if err := s.kickoff(ctx, c, steps, members, logger); err != nil {
		if _, rerr := s.Campaigns.ReturnToScheduled(ctx, c.ID); rerr != nil {
			logger.Error("failed to return campaign to scheduled", "error", rerr)
		} else {
			metrics.IncCampaignEvent("retried")
			logger.Warn("campaign start failed, returned to scheduled", "error", err)
		}
		return false, err
	}
	return true, nil
}

// kickoff excludes suppressed members of a freshly promoted campaign and
// hands the rest to the dispatcher
func (s *Scheduler) kickoff(ctx context.Context, c *models.Campaign, steps []workflow.Step, members []models.ContactListMember, logger *slog.Logger) error {
	var pending []models.ContactListMember
	for _, m := range members {
		if m.Status == models.MemberPending {
			pending = append(pending, m)
		}
	}

	eligible, err := s.filterSuppressed(ctx, c, steps, pending)
	if err != nil {
		return err
	}
	logger.Info("campaign started", "total", len(members), "eligible", len(eligible))

	if len(eligible) == 0 {
		_, err := s.Aggregator.Recount(ctx, c.ID)
		return err
	}

	_, err = s.Bus.Emit(ctx, signal.ProcessContacts, signal.ProcessContactsPayload{
		CampaignID: c.ID,
		CompanyID:  c.CompanyID,
		WorkflowID: c.WorkflowID,
		Contacts:   eligible,
	})
	return err
}

// checkConfig returns the parsed workflow steps, or nil when the campaign
// is misconfigured
func (s *Scheduler) checkConfig(ctx context.Context, c *models.Campaign) ([]workflow.Step, error) {
	logger := s.logger.With("campaign_id", c.ID)

	wf, err := s.Workflows.Get(ctx, c.WorkflowID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		logger.Warn("campaign workflow not found, reverting to draft", "workflow_id", c.WorkflowID)
		return nil, nil
	}
	steps, err := workflow.ParseSteps(wf.Steps)
	if err == nil {
		err = workflow.Validate(steps)
	}
	if err != nil {
		logger.Warn("campaign workflow invalid, reverting to draft", "workflow_id", wf.ID, "error", err)
		return nil, nil
	}

	for _, step := range steps {
		es, ok := step.(*workflow.EmailStep)
		if !ok || es.Template() == "" {
			continue
		}
		tpl, err := s.Templates.GetEmail(ctx, c.CompanyID, es.Template())
		if err != nil {
			return nil, err
		}
		if tpl == nil {
			logger.Warn("email template not found, reverting to draft", "template_id", es.Template())
			return nil, nil
		}
	}
	return steps, nil
}

// filterSuppressed excludes suppressed members and returns the ids of the
// rest. Only identifiers of channels the workflow uses are checked.
func (s *Scheduler) filterSuppressed(ctx context.Context, c *models.Campaign, steps []workflow.Step, members []models.ContactListMember) ([]string, error) {
	useEmail, usePhone := channels(steps)

	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	if !useEmail && !usePhone {
		return ids, nil
	}

	resolved, err := resolveContacts(ctx, s.Contacts, c.CompanyID, members)
	if err != nil {
		return nil, err
	}
	check := make([]suppression.Contact, 0, len(resolved))
	for i := range resolved {
		sc := suppression.Contact{Key: resolved[i].member.ID}
		if useEmail {
			sc.Email = resolved[i].email()
		}
		if usePhone {
			sc.Phone = resolved[i].phone()
		}
		if sc.Email != "" || sc.Phone != "" {
			check = append(check, sc)
		}
	}
	if len(check) == 0 {
		return ids, nil
	}

	matches, err := s.Suppression.CheckBulk(ctx, c.CompanyID, check)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return ids, nil
	}

	var excluded, eligible []string
	for _, id := range ids {
		if _, ok := matches[id]; ok {
			excluded = append(excluded, id)
		} else {
			eligible = append(eligible, id)
		}
	}
	n, err := s.Members.MarkExcluded(ctx, excluded, ExcludedReason)
	if err != nil {
		return nil, fmt.Errorf("failed to exclude suppressed contacts: %w", err)
	}
	metrics.AddContacts(string(models.MemberExcluded), n)
	s.logger.Info("excluded suppressed contacts", "campaign_id", c.ID, "count", n)
	return eligible, nil
}

func (s *Scheduler) revert(ctx context.Context, id string) error {
	ok, err := s.Campaigns.RevertToDraft(ctx, id)
	if err != nil {
		return err
	}
	if ok {
		metrics.IncCampaignEvent("reverted")
	}
	return nil
}

// channels reports which contact identifiers the steps need
func channels(steps []workflow.Step) (email, phone bool) {
	for _, step := range steps {
		switch step.Type() {
		case workflow.TypeSendEmail:
			email = true
		case workflow.TypeSendSMS, workflow.TypeMakeCall:
			phone = true
		}
	}
	return email, phone
}
