package campaign

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/foxzi/campaignd/internal/businesshours"
	"github.com/foxzi/campaignd/internal/metrics"
	"github.com/foxzi/campaignd/internal/models"
	"github.com/foxzi/campaignd/internal/queue"
	"github.com/foxzi/campaignd/internal/repository"
	"github.com/foxzi/campaignd/internal/signal"
	"github.com/foxzi/campaignd/internal/workflow"
)

const (
	defaultBatchSize   = 10
	defaultNextDayTime = "09:00"
)

// DispatcherConfig contains batch release settings
type DispatcherConfig struct {
	// BatchSize applies to campaigns without their own batch size
	BatchSize int
	// NextDayTime is the tenant-local HH:MM at which deferred contacts resume
	NextDayTime string
}

// DispatcherDeps are the collaborators of the dispatcher
type DispatcherDeps struct {
	Campaigns  CampaignStore
	Members    MemberStore
	Executions ExecutionStore
	Contacts   ContactStore
	Hours      HoursOracle
	Bus        Emitter
	Aggregator *Aggregator
}

// Dispatcher releases the eligible contacts of a running campaign into
// workflow executions, one batch per task. The rest of the contacts are
// handed to a new task due after the batch interval, or on the next
// working day once today's limit is used up.
type Dispatcher struct {
	DispatcherDeps
	cfg    DispatcherConfig
	now    func() time.Time
	logger *slog.Logger
}

// NewDispatcher creates a batch dispatcher
func NewDispatcher(deps DispatcherDeps, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.NextDayTime == "" {
		cfg.NextDayTime = defaultNextDayTime
	}
	return &Dispatcher{
		DispatcherDeps: deps,
		cfg:            cfg,
		now:            time.Now,
		logger:         logger.With("component", "dispatcher"),
	}
}

// SetClock overrides the time source
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// Register installs the campaign.process-contacts handler
func (d *Dispatcher) Register(r Registrar) {
	r.Handle(signal.ProcessContacts, func(ctx context.Context, t *queue.Task) error {
		var p signal.ProcessContactsPayload
		if err := t.Decode(&p); err != nil {
			return err
		}
		return d.Dispatch(ctx, p)
	})
}

// Dispatch releases the next batch of p.Contacts
func (d *Dispatcher) Dispatch(ctx context.Context, p signal.ProcessContactsPayload) error {
	logger := d.logger.With("campaign_id", p.CampaignID)

	c, err := d.Campaigns.Get(ctx, p.CampaignID)
	if err != nil {
		return err
	}
	if c == nil {
		return queue.Permanent(errors.New("campaign not found"))
	}
	if c.Status != models.CampaignRunning {
		logger.Info("campaign not running, dropping dispatch", "status", c.Status)
		return nil
	}

	now := d.now()
	sched, err := d.Hours.For(ctx, c.CompanyID)
	if err != nil {
		return err
	}
	day := sched.LocalDay(now)
	reset, err := d.Campaigns.ResetDay(ctx, c.ID, day)
	if err != nil {
		return err
	}
	if reset {
		c.SentToday = 0
		logger.Info("daily counter reset", "day", day)
	}

	if c.RespectBusinessHours && !sched.IsOpen(now) {
		next := sched.NextOpen(now)
		logger.Info("outside business hours, postponing batch", "until", next)
		_, err := d.Bus.EmitAt(ctx, signal.ProcessContacts, p, next)
		return err
	}

	candidates, err := d.candidates(ctx, p)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		_, err := d.Aggregator.Recount(ctx, c.ID)
		return err
	}

	quota := len(candidates)
	if c.DailyLimit > 0 {
		quota = c.DailyLimit - c.SentToday
	}
	if quota <= 0 {
		return d.deferToNextDay(ctx, c, sched, p, candidates)
	}

	size := c.BatchSize
	if size <= 0 {
		size = d.cfg.BatchSize
	}
	n := min(size, quota, len(candidates))

	released, err := d.release(ctx, c, day, candidates[:n])
	if err != nil {
		return err
	}
	if err := d.Campaigns.AdvanceBatch(ctx, c.ID); err != nil {
		return err
	}
	metrics.IncBatchReleased()
	logger.Info("batch released", "released", released, "batch_size", n, "remaining", len(candidates)-n)

	rest := memberIDs(candidates[n:])
	if len(rest) == 0 {
		if err := d.Campaigns.SetDeferred(ctx, c.ID, 0); err != nil {
			return err
		}
		_, err := d.Aggregator.Recount(ctx, c.ID)
		return err
	}

	next := p
	next.Contacts = rest
	if c.DailyLimit > 0 && c.SentToday+released >= c.DailyLimit {
		return d.deferToNextDay(ctx, c, sched, next, candidates[n:])
	}
	interval := time.Duration(c.BatchIntervalMinutes) * time.Minute
	_, err = d.Bus.EmitAt(ctx, signal.ProcessContacts, next, now.Add(interval))
	return err
}

// candidates returns the still pending members of p in payload order.
// Members already claimed by an execution that never started get their
// execution re-emitted.
func (d *Dispatcher) candidates(ctx context.Context, p signal.ProcessContactsPayload) ([]models.ContactListMember, error) {
	members, err := d.Members.GetMany(ctx, p.Contacts)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.ContactListMember, len(members))
	for _, m := range members {
		byID[m.ID] = m
	}

	var out []models.ContactListMember
	for _, id := range p.Contacts {
		m, ok := byID[id]
		if !ok {
			continue
		}
		switch m.Status {
		case models.MemberPending:
			out = append(out, m)
		case models.MemberProcessing:
			if err := d.reemit(ctx, m); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (d *Dispatcher) reemit(ctx context.Context, m models.ContactListMember) error {
	if m.ExecutionID == "" {
		return nil
	}
	exec, err := d.Executions.Get(ctx, m.ExecutionID)
	if err != nil {
		return err
	}
	if exec == nil || exec.Status != models.ExecutionPending {
		return nil
	}
	d.logger.Info("re-emitting unstarted execution", "member_id", m.ID, "execution_id", exec.ID)
	return d.emitExecute(ctx, exec)
}

// release starts an execution for each member and returns how many were
// counted against today's quota
func (d *Dispatcher) release(ctx context.Context, c *models.Campaign, day string, batch []models.ContactListMember) (int, error) {
	contacts, err := resolveContacts(ctx, d.Contacts, c.CompanyID, batch)
	if err != nil {
		return 0, err
	}

	released := 0
	for i := range contacts {
		ct := &contacts[i]
		m := ct.member
		if ct.customer == nil && ct.lead == nil {
			if _, err := d.Members.MarkFailed(ctx, m.ID, "no contact data found"); err != nil {
				return released, err
			}
			metrics.AddContacts(string(models.MemberFailed), 1)
			d.logger.Warn("member has no contact data", "campaign_id", c.ID, "member_id", m.ID)
			continue
		}

		exec := &models.Execution{
			WorkflowID:  c.WorkflowID,
			CompanyID:   c.CompanyID,
			CampaignID:  c.ID,
			LeadID:      m.LeadID,
			TriggerType: models.TriggerCampaign,
			ContactData: workflow.ContactData(ct.customer, ct.lead),
		}
		if ct.customer != nil {
			exec.CustomerID = ct.customer.ID
		}
		err := d.Campaigns.ReleaseContact(ctx, repository.Release{
			CampaignID: c.ID,
			Day:        day,
			Member:     &m,
			Execution:  exec,
		})
		if errors.Is(err, repository.ErrConflict) {
			continue
		}
		if err != nil {
			return released, err
		}
		released++
		if err := d.emitExecute(ctx, exec); err != nil {
			return released, err
		}
	}
	return released, nil
}

func (d *Dispatcher) emitExecute(ctx context.Context, exec *models.Execution) error {
	contactID := exec.LeadID
	if contactID == "" {
		contactID = exec.CustomerID
	}
	_, err := d.Bus.Emit(ctx, signal.WorkflowExecute, signal.ExecutePayload{
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
		CompanyID:   exec.CompanyID,
		ContactID:   contactID,
		ContactData: exec.ContactData,
		TriggerType: string(exec.TriggerType),
	}, signal.WithDedupKey("execute:"+exec.ID))
	return err
}

// deferToNextDay hands the remaining contacts to the next working day
func (d *Dispatcher) deferToNextDay(ctx context.Context, c *models.Campaign, sched *businesshours.Schedule, p signal.ProcessContactsPayload, remaining []models.ContactListMember) error {
	at, err := sched.NextDayAt(d.now(), d.cfg.NextDayTime)
	if err != nil {
		return queue.Permanent(err)
	}
	if err := d.Campaigns.SetDeferred(ctx, c.ID, len(remaining)); err != nil {
		return err
	}
	p.Contacts = memberIDs(remaining)
	if _, err := d.Bus.EmitAt(ctx, signal.ProcessContacts, p, at); err != nil {
		return err
	}
	metrics.AddContacts("deferred", len(remaining))
	d.logger.Info("daily limit reached, deferring contacts",
		"campaign_id", c.ID, "deferred", len(remaining), "resume_at", at)
	return nil
}

func memberIDs(members []models.ContactListMember) []string {
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	return ids
}
