// Package workflow runs workflow executions: a persisted cursor over an
// ordered step list, advanced by queue tasks and suspended between steps
// by durable wake-ups.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/campaignd/internal/businesshours"
	"github.com/foxzi/campaignd/internal/metrics"
	"github.com/foxzi/campaignd/internal/models"
	"github.com/foxzi/campaignd/internal/queue"
	"github.com/foxzi/campaignd/internal/signal"
)

// ErrWorkflowNotFound is returned when triggering an unknown workflow
var ErrWorkflowNotFound = errors.New("workflow not found")

// Registrar registers task handlers
type Registrar interface {
	Handle(name string, h queue.Handler)
}

// EngineDeps are the collaborators of the engine. Campaigns and Hours may
// be nil, which disables the business hours gate.
type EngineDeps struct {
	Executions ExecutionStore
	Workflows  WorkflowStore
	Campaigns  CampaignStore
	Contacts   ContactStore
	Hours      HoursOracle
	Bus        Emitter
	Processors *Processors
}

// Engine advances workflow executions step by step. Every state change is
// a guarded write, so concurrent deliveries of the same execution cannot
// run a step twice or resurrect a terminal execution.
type Engine struct {
	executions ExecutionStore
	workflows  WorkflowStore
	campaigns  CampaignStore
	contacts   ContactStore
	hours      HoursOracle
	bus        Emitter
	processors *Processors
	logger     *slog.Logger
	now        func() time.Time
}

// NewEngine creates a workflow engine
func NewEngine(deps EngineDeps, logger *slog.Logger) *Engine {
	return &Engine{
		executions: deps.Executions,
		workflows:  deps.Workflows,
		campaigns:  deps.Campaigns,
		contacts:   deps.Contacts,
		hours:      deps.Hours,
		bus:        deps.Bus,
		processors: deps.Processors,
		logger:     logger.With("component", "engine"),
		now:        time.Now,
	}
}

// SetClock replaces the engine's time source
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Register installs the engine's signal handlers
func (e *Engine) Register(r Registrar) {
	r.Handle(signal.WorkflowExecute, e.handleExecute)
	r.Handle(signal.WorkflowResume, e.handleResume)
	r.Handle(signal.WorkflowCancel, e.handleCancel)
	r.Handle(signal.LeadStatusChanged, e.handleLeadStatus)
}

func (e *Engine) handleExecute(ctx context.Context, t *queue.Task) error {
	var p signal.ExecutePayload
	if err := t.Decode(&p); err != nil {
		return err
	}
	return e.Run(ctx, p.ExecutionID)
}

func (e *Engine) handleResume(ctx context.Context, t *queue.Task) error {
	var p signal.ResumePayload
	if err := t.Decode(&p); err != nil {
		return err
	}
	return e.Resume(ctx, p)
}

func (e *Engine) handleCancel(ctx context.Context, t *queue.Task) error {
	var p signal.CancelPayload
	if err := t.Decode(&p); err != nil {
		return err
	}
	_, err := e.RequestCancel(ctx, p.ExecutionID, p.Reason)
	return err
}

func (e *Engine) handleLeadStatus(ctx context.Context, t *queue.Task) error {
	var p signal.LeadStatusChangedPayload
	if err := t.Decode(&p); err != nil {
		return err
	}
	_, err := e.CancelForLeadStatus(ctx, p.CompanyID, p.LeadID, p.Status)
	return err
}

// run is the per-delivery state shared by the steps of one advance
type run struct {
	rc          *RunContext
	steps       []Step
	hoursLoaded bool
	hours       *businesshours.Schedule // nil when the hours gate does not apply
}

// Run starts or continues an execution
func (e *Engine) Run(ctx context.Context, executionID string) error {
	exec, err := e.load(ctx, executionID)
	if err != nil {
		return err
	}
	logger := e.logger.With("execution_id", exec.ID)

	if exec.Status.Terminal() {
		logger.Debug("execution already finished", "status", exec.Status)
		return e.emitCompleted(ctx, exec.ID)
	}
	if exec.Sleeping() {
		wakeAt := e.now()
		if exec.WakeAt != nil {
			wakeAt = *exec.WakeAt
		}
		return e.scheduleResume(ctx, exec.ID, *exec.SleepStep, exec.SleepKind, wakeAt)
	}
	if exec.Status == models.ExecutionPending {
		if _, err := e.executions.Start(ctx, exec.ID, e.now()); err != nil {
			return err
		}
		logger.Info("execution started", "workflow_id", exec.WorkflowID, "trigger", exec.TriggerType)
	}

	r, err := e.prepare(ctx, exec)
	if err != nil || r == nil {
		return err
	}
	return e.advance(ctx, r, exec.ID)
}

// Resume continues a sleeping execution
func (e *Engine) Resume(ctx context.Context, p signal.ResumePayload) error {
	exec, err := e.load(ctx, p.ExecutionID)
	if err != nil {
		return err
	}
	logger := e.logger.With("execution_id", exec.ID)

	if exec.Status.Terminal() {
		return e.emitCompleted(ctx, exec.ID)
	}
	if !exec.Sleeping() || *exec.SleepStep != p.SleepStep {
		logger.Debug("ignoring stale resume", "sleep_step", p.SleepStep)
		return nil
	}
	if done, err := e.checkCancel(ctx, exec); err != nil || done {
		return err
	}

	now := e.now()
	if exec.WakeAt != nil && exec.WakeAt.After(now) {
		_, err := e.bus.EmitAt(ctx, signal.WorkflowResume, signal.ResumePayload{
			ExecutionID: exec.ID,
			SleepStep:   p.SleepStep,
			WakeAt:      *exec.WakeAt,
		}, *exec.WakeAt)
		return err
	}

	r, err := e.prepare(ctx, exec)
	if err != nil || r == nil {
		return err
	}

	step := *exec.SleepStep
	if exec.SleepKind == models.SleepWait && step < len(r.steps) {
		r.rc.Execution = exec
		r.rc.StepIndex = step
		res, err := e.processors.Run(ctx, r.rc, r.steps[step])
		if err != nil {
			return err
		}
		stop, err := e.finishStep(ctx, r, exec, step, res)
		if err != nil || stop {
			return err
		}
		return e.advance(ctx, r, exec.ID)
	}

	ok, err := e.executions.Wake(ctx, exec.ID, step)
	if err != nil {
		return err
	}
	if !ok {
		return e.settle(ctx, exec.ID)
	}
	return e.advance(ctx, r, exec.ID)
}

func (e *Engine) load(ctx context.Context, id string) (*models.Execution, error) {
	exec, err := e.executions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, queue.Permanent(fmt.Errorf("execution %s not found", id))
	}
	return exec, nil
}

// prepare loads the step list. A workflow that cannot be run fails the
// execution and returns nil.
func (e *Engine) prepare(ctx context.Context, exec *models.Execution) (*run, error) {
	wf, err := e.workflows.Get(ctx, exec.WorkflowID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, e.fail(ctx, exec.ID, fmt.Sprintf("workflow %s not found", exec.WorkflowID))
	}
	steps, err := ParseSteps(wf.Steps)
	if err == nil {
		err = Validate(steps)
	}
	if err != nil {
		return nil, e.fail(ctx, exec.ID, fmt.Sprintf("invalid workflow: %v", err))
	}
	return &run{rc: NewRunContext(exec), steps: steps}, nil
}

// advance runs steps from the persisted cursor until the execution sleeps
// or finishes
func (e *Engine) advance(ctx context.Context, r *run, id string) error {
	for {
		exec, err := e.load(ctx, id)
		if err != nil {
			return err
		}
		if exec.Status.Terminal() {
			return e.emitCompleted(ctx, exec.ID)
		}
		if exec.Sleeping() {
			return nil
		}
		if done, err := e.checkCancel(ctx, exec); err != nil || done {
			return err
		}

		i := exec.CurrentStep
		if i >= len(r.steps) {
			return e.complete(ctx, exec.ID)
		}
		step := r.steps[i]
		r.rc.Execution = exec
		r.rc.StepIndex = i
		now := e.now()

		if w, ok := step.(*WaitStep); ok && w.Minutes() > 0 && !exec.Results.Has(i) {
			sched, err := e.campaignHours(ctx, r, exec)
			if err != nil {
				return err
			}
			wait := time.Duration(w.Minutes()) * time.Minute
			wake := now.Add(wait)
			if sched != nil {
				wake = sched.AdjustDelay(now, wait)
			}
			return e.sleep(ctx, exec.ID, i, i, models.SleepWait, wake)
		}

		if IsCommunication(step) && !exec.Results.Has(i) {
			sched, err := e.campaignHours(ctx, r, exec)
			if err != nil {
				return err
			}
			if sched != nil && !sched.IsOpen(now) {
				e.logger.Debug("outside business hours, deferring step",
					"execution_id", exec.ID, "step", i)
				return e.sleep(ctx, exec.ID, i, i, models.SleepHours, sched.NextOpen(now))
			}
		}

		var res Result
		if rec := exec.Results.Find(i); rec != nil {
			res = recorded(step, rec)
		} else {
			res, err = e.processors.Run(ctx, r.rc, step)
			if err != nil {
				return err
			}
		}

		stop, err := e.finishStep(ctx, r, exec, i, res)
		if err != nil || stop {
			return err
		}
	}
}

// finishStep persists the result of step i and applies its outcome. It
// reports whether the current delivery should stop.
func (e *Engine) finishStep(ctx context.Context, r *run, exec *models.Execution, i int, res Result) (bool, error) {
	step := r.steps[i]
	results := exec.Results
	if !results.Has(i) {
		results = append(append(models.StepResults{}, results...), models.StepResult{
			StepIndex:   i,
			StepType:    string(step.Type()),
			CompletedAt: e.now().UTC(),
			Success:     res.Success,
			Error:       res.Error,
			Data:        res.Data,
		})
	}

	ok, err := e.executions.RecordStep(ctx, exec.ID, i, i+1, results)
	if err != nil {
		return true, err
	}
	if !ok {
		return true, e.settle(ctx, exec.ID)
	}

	logger := e.logger.With("execution_id", exec.ID, "step", i, "type", step.Type())
	if !res.Success {
		if step.Base().IsCritical() {
			logger.Warn("critical step failed", "error", res.Error)
			return true, e.fail(ctx, exec.ID, fmt.Sprintf("step %d (%s) failed: %s", i, step.Type(), res.Error))
		}
		logger.Info("optional step failed, continuing", "error", res.Error)
	}
	if res.Exit {
		logger.Info("condition not met, exiting workflow")
		return true, e.complete(ctx, exec.ID)
	}

	delay := step.Base().DelayMinutes
	if _, ok := step.(*WaitStep); ok {
		delay = 0 // delay_minutes is the wait itself
	}
	if delay <= 0 || i+1 >= len(r.steps) {
		return false, nil
	}
	sched, err := e.campaignHours(ctx, r, exec)
	if err != nil {
		return true, err
	}
	now, wait := e.now(), time.Duration(delay)*time.Minute
	wake := now.Add(wait)
	if sched != nil {
		wake = sched.AdjustDelay(now, wait)
	}
	return true, e.sleep(ctx, exec.ID, i+1, i+1, models.SleepDelay, wake)
}

// recorded rebuilds the outcome of a step whose result is already stored
func recorded(step Step, rec *models.StepResult) Result {
	res := Result{Success: rec.Success, Error: rec.Error, Data: rec.Data}
	if c, ok := step.(*ConditionalStep); ok && c.OnFalse == OnFalseExit {
		if met, ok := rec.Data["conditionMet"].(bool); ok && !met {
			res.Exit = true
		}
	}
	return res
}

// settle handles a guarded write that matched nothing: either another
// delivery moved the execution on, or it became terminal
func (e *Engine) settle(ctx context.Context, id string) error {
	exec, err := e.load(ctx, id)
	if err != nil {
		return err
	}
	if exec.Status.Terminal() {
		return e.emitCompleted(ctx, id)
	}
	e.logger.Debug("execution moved on concurrently", "execution_id", id, "step", exec.CurrentStep)
	return nil
}

// campaignHours returns the tenant schedule when the execution belongs to a
// campaign that respects business hours
func (e *Engine) campaignHours(ctx context.Context, r *run, exec *models.Execution) (*businesshours.Schedule, error) {
	if r.hoursLoaded {
		return r.hours, nil
	}
	if exec.CampaignID == "" || e.campaigns == nil || e.hours == nil {
		r.hoursLoaded = true
		return nil, nil
	}

	c, err := e.campaigns.Get(ctx, exec.CampaignID)
	if err != nil {
		return nil, err
	}
	if c != nil && c.RespectBusinessHours {
		sched, err := e.hours.For(ctx, exec.CompanyID)
		if err != nil {
			return nil, err
		}
		r.hours = sched
	}
	r.hoursLoaded = true
	return r.hours, nil
}

// checkCancel finalizes the execution when cancellation applies and reports
// whether it did
func (e *Engine) checkCancel(ctx context.Context, exec *models.Execution) (bool, error) {
	reason, err := e.cancelReason(ctx, exec)
	if err != nil || reason == "" {
		return false, err
	}

	step := exec.CurrentStep
	ok, err := e.executions.Cancel(ctx, exec.ID, step, reason)
	if err != nil {
		return true, err
	}
	if ok {
		metrics.IncExecutionFinished(string(models.ExecutionCancelled))
		e.logger.Info("execution cancelled", "execution_id", exec.ID, "step", step, "reason", reason)
	}
	return true, e.emitCompleted(ctx, exec.ID)
}

func (e *Engine) cancelReason(ctx context.Context, exec *models.Execution) (string, error) {
	if exec.Status == models.ExecutionCancelled || exec.CancelRequested {
		if exec.CancelReason != "" {
			return exec.CancelReason, nil
		}
		return "cancelled", nil
	}
	if exec.TriggerType == models.TriggerPartialLead && exec.PartialLeadID != "" {
		pl, err := e.contacts.GetPartialLead(ctx, exec.PartialLeadID)
		if err != nil {
			return "", err
		}
		if pl != nil && pl.Converted() {
			return "partial lead converted", nil
		}
	}
	return "", nil
}

func (e *Engine) sleep(ctx context.Context, id string, cursor, step int, kind models.SleepKind, wakeAt time.Time) error {
	ok, err := e.executions.Sleep(ctx, id, cursor, step, kind, wakeAt)
	if err != nil {
		return err
	}
	if !ok {
		return e.settle(ctx, id)
	}
	e.logger.Debug("execution sleeping", "execution_id", id, "step", step, "kind", kind, "wake_at", wakeAt)
	return e.scheduleResume(ctx, id, step, kind, wakeAt)
}

func (e *Engine) scheduleResume(ctx context.Context, id string, step int, kind models.SleepKind, wakeAt time.Time) error {
	key := fmt.Sprintf("resume:%s:%d:%s:%d", id, step, kind, wakeAt.Unix())
	_, err := e.bus.EmitAt(ctx, signal.WorkflowResume, signal.ResumePayload{
		ExecutionID: id,
		SleepStep:   step,
		WakeAt:      wakeAt,
	}, wakeAt, signal.WithDedupKey(key))
	return err
}

func (e *Engine) complete(ctx context.Context, id string) error {
	ok, err := e.executions.Complete(ctx, id)
	if err != nil {
		return err
	}
	if ok {
		metrics.IncExecutionFinished(string(models.ExecutionCompleted))
		e.logger.Info("execution completed", "execution_id", id)
	}
	return e.emitCompleted(ctx, id)
}

func (e *Engine) fail(ctx context.Context, id, msg string) error {
	ok, err := e.executions.Fail(ctx, id, msg)
	if err != nil {
		return err
	}
	if ok {
		metrics.IncExecutionFinished(string(models.ExecutionFailed))
		e.logger.Warn("execution failed", "execution_id", id, "error", msg)
	}
	return e.emitCompleted(ctx, id)
}

func (e *Engine) emitCompleted(ctx context.Context, id string) error {
	_, err := e.bus.Emit(ctx, signal.WorkflowCompleted, signal.CompletedPayload{ExecutionID: id},
		signal.WithDedupKey("completed:"+id))
	return err
}

// RequestCancel flags an execution for cancellation. A sleeping execution
// is woken so the cancellation is finalized without waiting for its timer.
// False means the execution is unknown or already finished.
func (e *Engine) RequestCancel(ctx context.Context, executionID, reason string) (bool, error) {
	if reason == "" {
		reason = "cancelled by request"
	}
	ok, err := e.executions.RequestCancel(ctx, executionID, reason)
	if err != nil || !ok {
		return false, err
	}

	exec, err := e.executions.Get(ctx, executionID)
	if err != nil {
		return true, err
	}
	if exec != nil && exec.Sleeping() {
		_, err = e.bus.Emit(ctx, signal.WorkflowResume, signal.ResumePayload{
			ExecutionID: exec.ID,
			SleepStep:   *exec.SleepStep,
			WakeAt:      e.now(),
		})
		if err != nil {
			return true, err
		}
	}
	e.logger.Info("cancellation requested", "execution_id", executionID, "reason", reason)
	return true, nil
}

// CancelForLeadStatus requests cancellation of the lead's active executions
// whose workflow cancels on status. It returns the number flagged.
func (e *Engine) CancelForLeadStatus(ctx context.Context, companyID, leadID, status string) (int, error) {
	active, err := e.executions.ListActiveByLead(ctx, companyID, leadID)
	if err != nil {
		return 0, err
	}

	workflows := make(map[string]*models.Workflow)
	n := 0
	for _, exec := range active {
		wf, seen := workflows[exec.WorkflowID]
		if !seen {
			wf, err = e.workflows.Get(ctx, exec.WorkflowID)
			if err != nil {
				return n, err
			}
			workflows[exec.WorkflowID] = wf
		}
		if wf == nil || !cancelsOn(wf.CancelOnStatuses, status) {
			continue
		}
		ok, err := e.RequestCancel(ctx, exec.ID, fmt.Sprintf("lead status changed to %s", status))
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func cancelsOn(statuses models.StringList, status string) bool {
	for _, s := range statuses {
		if strings.EqualFold(s, status) {
			return true
		}
	}
	return false
}

// TriggerRequest starts an execution outside a campaign
type TriggerRequest struct {
	WorkflowID    string
	CompanyID     string
	LeadID        string
	CustomerID    string
	PartialLeadID string
	TriggerType   models.TriggerType
	ContactData   map[string]any
}

// Trigger creates a pending execution and emits it for processing
func (e *Engine) Trigger(ctx context.Context, req TriggerRequest) (*models.Execution, error) {
	wf, err := e.workflows.Get(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}
	if wf == nil || wf.CompanyID != req.CompanyID {
		return nil, ErrWorkflowNotFound
	}

	data := models.JSONMap{}
	if req.LeadID != "" || req.CustomerID != "" {
		var (
			customer *models.Customer
			lead     *models.Lead
		)
		if req.LeadID != "" {
			if lead, err = e.contacts.GetLead(ctx, req.CompanyID, req.LeadID); err != nil {
				return nil, err
			}
		}
		customerID := req.CustomerID
		if customerID == "" && lead != nil {
			customerID = lead.CustomerID
		}
		if customerID != "" {
			if customer, err = e.contacts.GetCustomer(ctx, req.CompanyID, customerID); err != nil {
				return nil, err
			}
		}
		data = ContactData(customer, lead)
		if req.CustomerID == "" && customer != nil {
			req.CustomerID = customer.ID
		}
	}
	for k, v := range req.ContactData {
		data[k] = v
	}

	trigger := req.TriggerType
	if trigger == "" {
		trigger = models.TriggerManual
	}
	if req.PartialLeadID != "" && req.TriggerType == "" {
		trigger = models.TriggerPartialLead
	}

	exec := &models.Execution{
		ID:            uuid.New().String(),
		WorkflowID:    wf.ID,
		CompanyID:     req.CompanyID,
		LeadID:        req.LeadID,
		CustomerID:    req.CustomerID,
		PartialLeadID: req.PartialLeadID,
		TriggerType:   trigger,
		Status:        models.ExecutionPending,
		ContactData:   data,
	}
	if err := e.executions.Create(ctx, exec); err != nil {
		return nil, err
	}

	contactID := exec.LeadID
	if contactID == "" {
		contactID = exec.CustomerID
	}
	_, err = e.bus.Emit(ctx, signal.WorkflowExecute, signal.ExecutePayload{
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
		CompanyID:   exec.CompanyID,
		ContactID:   contactID,
		ContactData: data,
		TriggerType: string(trigger),
	}, signal.WithDedupKey("execute:"+exec.ID))
	if err != nil {
		return nil, err
	}
	e.logger.Info("execution triggered", "execution_id", exec.ID, "workflow_id", wf.ID, "trigger", trigger)
	return exec, nil
}
