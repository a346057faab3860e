package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/foxzi/campaignd/internal/email"
	"github.com/foxzi/campaignd/internal/metrics"
	"github.com/foxzi/campaignd/internal/models"
	"github.com/foxzi/campaignd/internal/provider"
	"github.com/foxzi/campaignd/internal/signal"
	"github.com/foxzi/campaignd/internal/suppression"
	"github.com/foxzi/campaignd/internal/template"
)

// Result is the outcome of one step. Business failures are results, not errors.
type Result struct {
	Success      bool
	Error        string
	Data         map[string]any
	DelayMinutes int
	Exit         bool // complete the execution after this step
}

func failed(msg string, data map[string]any) Result {
	return Result{Success: false, Error: msg, Data: data}
}

// SuppressionChecker checks one contact against do-not-contact records
type SuppressionChecker interface {
	Check(ctx context.Context, companyID string, c suppression.Contact, channel suppression.Channel) (bool, *suppression.Match, error)
}

// ProcessorDeps are the collaborators of the step processors.
// Senders and Suppression may be nil.
type ProcessorDeps struct {
	Templates   TemplateStore
	Contacts    ContactStore
	Calls       CallStore
	Bus         Emitter
	Email       provider.EmailSender
	SMS         provider.SMSSender
	Suppression SuppressionChecker
}

// Processors run workflow steps
type Processors struct {
	deps     ProcessorDeps
	renderer *template.Engine
	logger   *slog.Logger
}

// NewProcessors creates the step processors
func NewProcessors(deps ProcessorDeps, logger *slog.Logger) *Processors {
	return &Processors{
		deps:     deps,
		renderer: template.NewEngine(),
		logger:   logger.With("component", "processors"),
	}
}

// RunContext carries the execution a step runs for. Records loaded
// while running are cached for the following steps of the same run.
type RunContext struct {
	Execution *models.Execution
	StepIndex int

	company        *models.Company
	customer       *models.Customer
	customerLoaded bool
}

// NewRunContext creates a run context for an execution
func NewRunContext(exec *models.Execution) *RunContext {
	return &RunContext{Execution: exec, StepIndex: exec.CurrentStep}
}

func (rc *RunContext) leadID() string {
	if rc.Execution.LeadID != "" {
		return rc.Execution.LeadID
	}
	return rc.Execution.ContactData.String(KeyLeadID)
}

// Run dispatches the step to its processor
func (p *Processors) Run(ctx context.Context, rc *RunContext, step Step) (Result, error) {
	var (
		res Result
		err error
	)
	switch s := step.(type) {
	case *EmailStep:
		res, err = p.sendEmail(ctx, rc, s)
	case *SMSStep:
		res, err = p.sendSMS(ctx, rc, s)
	case *CallStep:
		res, err = p.makeCall(ctx, rc, s)
	case *WaitStep:
		res = Result{Success: true, DelayMinutes: s.Minutes(), Data: map[string]any{"delayMinutes": s.Minutes()}}
	case *ConditionalStep:
		res = p.evaluate(rc, s)
	case *UpdateStatusStep:
		res, err = p.updateStatus(ctx, rc, s)
	default:
		res = failed(fmt.Sprintf("unsupported step type %s", step.Type()), nil)
	}
	if err != nil {
		return Result{}, err
	}

	outcome := "success"
	if !res.Success {
		outcome = "failure"
	}
	metrics.IncStep(string(step.Type()), outcome)
	return res, nil
}

func (p *Processors) company(ctx context.Context, rc *RunContext) (*models.Company, error) {
	if rc.company != nil {
		return rc.company, nil
	}
	c, err := p.deps.Contacts.GetCompany(ctx, rc.Execution.CompanyID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		c = &models.Company{ID: rc.Execution.CompanyID}
	}
	rc.company = c
	return c, nil
}

// customer resolves the execution's customer directly or through its lead
func (p *Processors) customer(ctx context.Context, rc *RunContext) (*models.Customer, error) {
	if rc.customerLoaded {
		return rc.customer, nil
	}
	exec := rc.Execution
	customerID := exec.CustomerID
	if customerID == "" {
		customerID = exec.ContactData.String(KeyCustomerID)
	}
	if customerID == "" {
		if leadID := rc.leadID(); leadID != "" {
			lead, err := p.deps.Contacts.GetLead(ctx, exec.CompanyID, leadID)
			if err != nil {
				return nil, err
			}
			if lead != nil {
				customerID = lead.CustomerID
			}
		}
	}
	if customerID != "" {
		c, err := p.deps.Contacts.GetCustomer(ctx, exec.CompanyID, customerID)
		if err != nil {
			return nil, err
		}
		rc.customer = c
	}
	rc.customerLoaded = true
	return rc.customer, nil
}

func (p *Processors) variables(ctx context.Context, rc *RunContext) (template.Vars, error) {
	vars := template.Vars{}
	for k := range rc.Execution.ContactData {
		vars[k] = rc.Execution.ContactData.String(k)
	}

	company, err := p.company(ctx, rc)
	if err != nil {
		return nil, err
	}
	name := company.Name
	if name == "" {
		name = "Your Company"
	}
	vars["companyName"] = name
	vars["companyEmail"] = company.Email
	vars["companyPhone"] = company.Phone
	vars["companyWebsite"] = company.Website
	vars["companyLogo"] = company.LogoURL

	if id := rc.leadID(); id != "" {
		vars[KeyLeadID] = id
	}
	if id := rc.Execution.CustomerID; id != "" {
		vars[KeyCustomerID] = id
	}
	return vars, nil
}

func (p *Processors) recipientEmail(ctx context.Context, rc *RunContext) (string, error) {
	data := rc.Execution.ContactData
	for _, key := range []string{KeyCustomerEmail, KeyEmail} {
		if v := strings.TrimSpace(data.String(key)); v != "" {
			return v, nil
		}
	}
	c, err := p.customer(ctx, rc)
	if err != nil || c == nil {
		return "", err
	}
	return strings.TrimSpace(c.Email), nil
}

// recipientPhone tries the step, the contact data and finally the customer record
func (p *Processors) recipientPhone(ctx context.Context, rc *RunContext, stepPhone string) (string, error) {
	if v := strings.TrimSpace(stepPhone); v != "" {
		return v, nil
	}
	data := rc.Execution.ContactData
	for _, key := range []string{KeyCustomerPhone, KeyPhone} {
		if v := strings.TrimSpace(data.String(key)); v != "" {
			return v, nil
		}
	}
	c, err := p.customer(ctx, rc)
	if err != nil || c == nil {
		return "", err
	}
	return strings.TrimSpace(c.Phone), nil
}

func (p *Processors) suppressed(ctx context.Context, rc *RunContext, c suppression.Contact, ch suppression.Channel) (string, error) {
	if p.deps.Suppression == nil {
		return "", nil
	}
	ok, match, err := p.deps.Suppression.Check(ctx, rc.Execution.CompanyID, c, ch)
	if err != nil || !ok {
		return "", err
	}
	reason := "contact is on the suppression list"
	if match.Reason != "" {
		reason += ": " + match.Reason
	}
	return reason, nil
}

func (p *Processors) sendEmail(ctx context.Context, rc *RunContext, s *EmailStep) (Result, error) {
	exec := rc.Execution
	templateID := s.Template()
	if templateID == "" {
		return failed("no email template specified", nil), nil
	}

	tmpl, err := p.deps.Templates.GetEmail(ctx, exec.CompanyID, templateID)
	if err != nil {
		return Result{}, err
	}
	if tmpl == nil {
		return failed(fmt.Sprintf("email template %s not found", templateID), nil), nil
	}

	to, err := p.recipientEmail(ctx, rc)
	if err != nil {
		return Result{}, err
	}
	data := map[string]any{"templateName": tmpl.Name, "recipient": to}
	if to == "" {
		return failed("contact has no email address", data), nil
	}
	if !email.Valid(to) {
		return failed(fmt.Sprintf("invalid email address %q", to), data), nil
	}
	if reason, err := p.suppressed(ctx, rc, suppression.Contact{Key: exec.ID, Email: to}, suppression.ChannelEmail); err != nil {
		return Result{}, err
	} else if reason != "" {
		return failed(reason, data), nil
	}

	vars, err := p.variables(ctx, rc)
	if err != nil {
		return Result{}, err
	}
	vars = vars.Merge(s.Variables)

	rendered, err := p.renderer.Render(&template.Template{Subject: tmpl.Subject, HTML: tmpl.HTML, Text: tmpl.Text}, vars)
	if err != nil {
		return failed(err.Error(), data), nil
	}
	data["subject"] = rendered.Subject

	if p.deps.Email == nil {
		return failed("email provider not configured", data), nil
	}
	fromName := s.FromName
	if fromName == "" {
		fromName = vars["companyName"]
	}
	res, err := p.deps.Email.SendEmail(ctx, &provider.EmailMessage{
		CompanyID:      exec.CompanyID,
		IdempotencyKey: StepKey(exec.ID, rc.StepIndex),
		FromName:       fromName,
		To:             to,
		Subject:        rendered.Subject,
		HTML:           rendered.HTML,
		Text:           rendered.Text,
	})
	if err != nil {
		metrics.IncSend("email", "failure")
		p.logger.Warn("email send failed", "execution_id", exec.ID, "error", err)
		return failed(err.Error(), data), nil
	}
	metrics.IncSend("email", "success")

	data["messageId"] = res.MessageID
	data["provider"] = res.Provider
	return Result{Success: true, Data: data}, nil
}

func (p *Processors) sendSMS(ctx context.Context, rc *RunContext, s *SMSStep) (Result, error) {
	exec := rc.Execution
	body := s.Message
	if body == "" {
		templateID := s.Template()
		if templateID == "" {
			return failed("no message or sms template specified", nil), nil
		}
		tmpl, err := p.deps.Templates.GetSMS(ctx, exec.CompanyID, templateID)
		if err != nil {
			return Result{}, err
		}
		if tmpl == nil {
			return failed(fmt.Sprintf("sms template %s not found", templateID), nil), nil
		}
		body = tmpl.Body
	}

	phone, err := p.recipientPhone(ctx, rc, s.Phone)
	if err != nil {
		return Result{}, err
	}
	if phone == "" {
		return failed("no phone number found for contact", nil), nil
	}
	data := map[string]any{"recipient": phone}
	if reason, err := p.suppressed(ctx, rc, suppression.Contact{Key: exec.ID, Phone: phone}, suppression.ChannelSMS); err != nil {
		return Result{}, err
	} else if reason != "" {
		return failed(reason, data), nil
	}

	vars, err := p.variables(ctx, rc)
	if err != nil {
		return Result{}, err
	}
	text := p.renderer.RenderString(body, vars.Merge(s.Variables))

	if p.deps.SMS == nil {
		return failed("sms provider not configured", data), nil
	}
	res, err := p.deps.SMS.SendSMS(ctx, &provider.SMSMessage{
		CompanyID:      exec.CompanyID,
		IdempotencyKey: StepKey(exec.ID, rc.StepIndex),
		To:             phone,
		Body:           text,
	})
	if err != nil {
		metrics.IncSend("sms", "failure")
		p.logger.Warn("sms send failed", "execution_id", exec.ID, "error", err)
		return failed(err.Error(), data), nil
	}
	metrics.IncSend("sms", "success")

	data["messageId"] = res.MessageID
	data["provider"] = res.Provider
	return Result{Success: true, Data: data}, nil
}

// Call types
const (
	CallImmediate = "immediate"
	CallUrgent    = "urgent"
	CallScheduled = "scheduled"
	CallFollowUp  = "follow_up"
)

func validCallType(t string) bool {
	switch t {
	case "", CallImmediate, CallUrgent, CallScheduled, CallFollowUp:
		return true
	}
	return false
}

// StepKey returns a stable id of an execution step. A re-run step reuses
// its call log and sends with the same idempotency key.
func StepKey(executionID string, step int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(executionID+":"+strconv.Itoa(step))).String()
}

func (p *Processors) makeCall(ctx context.Context, rc *RunContext, s *CallStep) (Result, error) {
	exec := rc.Execution
	phone, err := p.recipientPhone(ctx, rc, s.Phone)
	if err != nil {
		return Result{}, err
	}
	if phone == "" {
		return failed("no phone number found for contact", nil), nil
	}
	if reason, err := p.suppressed(ctx, rc, suppression.Contact{Key: exec.ID, Phone: phone}, suppression.ChannelPhone); err != nil {
		return Result{}, err
	} else if reason != "" {
		return failed(reason, map[string]any{"phone": phone}), nil
	}

	callType := s.CallType
	if callType == "" {
		callType = CallImmediate
	}
	priority := s.Priority
	if priority == "" {
		priority = "normal"
		if callType == CallUrgent {
			priority = "high"
		}
	}

	callID := StepKey(exec.ID, rc.StepIndex)
	existing, err := p.deps.Calls.Get(ctx, callID)
	if err != nil {
		return Result{}, err
	}
	if existing == nil {
		err := p.deps.Calls.Create(ctx, &models.CallLog{
			ID:          callID,
			CompanyID:   exec.CompanyID,
			ExecutionID: exec.ID,
			LeadID:      rc.leadID(),
			CustomerID:  exec.CustomerID,
			Phone:       phone,
			CallType:    callType,
			Priority:    priority,
			Status:      models.CallScheduled,
		})
		if err != nil {
			return Result{}, err
		}
	}

	_, err = p.deps.Bus.Emit(ctx, signal.ScheduleCall, signal.ScheduleCallPayload{
		CallID:       callID,
		ExecutionID:  exec.ID,
		WorkflowID:   exec.WorkflowID,
		CompanyID:    exec.CompanyID,
		LeadID:       rc.leadID(),
		StepIndex:    rc.StepIndex,
		CallType:     callType,
		DelayMinutes: s.CallDelay,
		Variables:    s.Variables,
		IsFollowUp:   callType == CallFollowUp,
	}, signal.WithDedupKey("call:"+callID))
	if err != nil {
		return Result{}, err
	}

	return Result{Success: true, Data: map[string]any{
		"callId":   callID,
		"callType": callType,
		"phone":    phone,
	}}, nil
}

// Condition operators
const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpContains    = "contains"
	OpNotContains = "not_contains"
	OpExists      = "exists"
	OpNotExists   = "not_exists"
)

func validOperator(op string) bool {
	switch op {
	case "", OpEquals, OpNotEquals, OpContains, OpNotContains, OpExists, OpNotExists:
		return true
	}
	return false
}

func (p *Processors) evaluate(rc *RunContext, s *ConditionalStep) Result {
	cond := s.Condition
	met := true
	var fieldValue string
	if cond.Field != "" && cond.Operator != "" {
		fieldValue = rc.Execution.ContactData.String(cond.Field)
		met = Evaluate(cond, rc.Execution.ContactData)
	}

	res := Result{Success: true, Data: map[string]any{
		"conditionMet": met,
		"field":        cond.Field,
		"fieldValue":   fieldValue,
	}}
	if !met && s.OnFalse == OnFalseExit {
		res.Exit = true
	}
	return res
}

// Evaluate applies a condition to contact data. Values compare as strings.
func Evaluate(cond Condition, data models.JSONMap) bool {
	actual := data.String(cond.Field)
	expected := ""
	if cond.Value != nil {
		expected = fmt.Sprint(cond.Value)
	}

	switch cond.Operator {
	case OpEquals:
		return actual == expected
	case OpNotEquals:
		return actual != expected
	case OpContains:
		return strings.Contains(actual, expected)
	case OpNotContains:
		return !strings.Contains(actual, expected)
	case OpExists:
		return actual != ""
	case OpNotExists:
		return actual == ""
	}
	return true
}

func (p *Processors) updateStatus(ctx context.Context, rc *RunContext, s *UpdateStatusStep) (Result, error) {
	status := s.Target()
	if status == "" {
		return failed("no status specified", nil), nil
	}
	leadID := rc.leadID()
	if leadID == "" {
		return failed("execution has no lead to update", nil), nil
	}

	ok, err := p.deps.Contacts.UpdateLeadStatus(ctx, rc.Execution.CompanyID, leadID, status)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return failed(fmt.Sprintf("lead %s not found", leadID), nil), nil
	}
	return Result{Success: true, Data: map[string]any{
		"statusUpdated": true,
		"newStatus":     status,
		"leadId":        leadID,
	}}, nil
}
