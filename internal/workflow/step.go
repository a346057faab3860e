package workflow

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StepType is the tag of a workflow step
type StepType string

const (
	TypeSendEmail    StepType = "send_email"
	TypeSendSMS      StepType = "send_sms"
	TypeMakeCall     StepType = "make_call"
	TypeWait         StepType = "wait"
	TypeConditional  StepType = "conditional"
	TypeUpdateStatus StepType = "update_record_status"
)

// aliases accepted in stored workflows
var typeAliases = map[string]StepType{
	"delay":              TypeWait,
	"update_lead_status": TypeUpdateStatus,
}

// Step is one entry of a workflow. The set of implementations is closed.
type Step interface {
	Type() StepType
	Base() *Common
	isStep()
}

// Common holds the fields shared by every step
type Common struct {
	Name         string `json:"name,omitempty"`
	DelayMinutes int    `json:"delay_minutes,omitempty"`
	Optional     bool   `json:"optional,omitempty"`
	Critical     *bool  `json:"critical,omitempty"`
}

func (c *Common) Base() *Common { return c }
func (c *Common) isStep() {}

// IsCritical reports whether a failure of the step fails the execution.
// Steps are critical unless marked optional.
func (c *Common) IsCritical() bool {
	if c.Critical != nil {
		return *c.Critical
	}
	return !c.Optional
}

// EmailStep renders a company email template and sends it to the contact
type EmailStep struct {
	Common
	TemplateID     string            `json:"email_template_id,omitempty"`
	LegacyTemplate string            `json:"template_id,omitempty"`
	Variables      map[string]string `json:"email_variables,omitempty"`
	FromName       string            `json:"from_name,omitempty"`
}

func (s *EmailStep) Type() StepType { return TypeSendEmail }

// Template returns the referenced template id
func (s *EmailStep) Template() string {
	if s.TemplateID != "" {
		return s.TemplateID
	}
	return s.LegacyTemplate
}

// SMSStep sends a text message from an inline body or an SMS template
type SMSStep struct {
	Common
	Message        string            `json:"message,omitempty"`
	TemplateID     string            `json:"sms_template_id,omitempty"`
	LegacyTemplate string            `json:"template_id,omitempty"`
	Phone          string            `json:"phone,omitempty"`
	Variables      map[string]string `json:"variables,omitempty"`
}

func (s *SMSStep) Type() StepType { return TypeSendSMS }

// Template returns the referenced template id
func (s *SMSStep) Template() string {
	if s.TemplateID != "" {
		return s.TemplateID
	}
	return s.LegacyTemplate
}

// CallStep schedules an outbound call
type CallStep struct {
	Common
	CallType  string            `json:"call_type,omitempty"` // immediate, urgent, scheduled, follow_up
	Priority  string            `json:"priority,omitempty"`
	CallDelay int               `json:"call_delay_minutes,omitempty"`
	Phone     string            `json:"phone,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
}

func (s *CallStep) Type() StepType { return TypeMakeCall }

// WaitStep suspends the execution
type WaitStep struct {
	Common
	Delay int `json:"delay,omitempty"`
}

func (s *WaitStep) Type() StepType { return TypeWait }

// Minutes returns the length of the wait
func (s *WaitStep) Minutes() int {
	if s.DelayMinutes > 0 {
		return s.DelayMinutes
	}
	return s.Delay
}

// Condition compares one contact field
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
}

// What a conditional step does when its condition does not hold
const (
	OnFalseContinue = "continue"
	OnFalseExit     = "exit"
)

// ConditionalStep evaluates a condition over the contact data
type ConditionalStep struct {
	Common
	Condition Condition `json:"condition"`
	OnFalse   string    `json:"on_false,omitempty"`
}

func (s *ConditionalStep) Type() StepType { return TypeConditional }

// UpdateStatusStep sets the lead's status
type UpdateStatusStep struct {
	Common
	NewStatus string `json:"new_status,omitempty"`
	Status    string `json:"status,omitempty"`
}

func (s *UpdateStatusStep) Type() StepType { return TypeUpdateStatus }

// Target returns the status to set
func (s *UpdateStatusStep) Target() string {
	if s.NewStatus != "" {
		return s.NewStatus
	}
	return s.Status
}

// NormalizeType resolves aliases
func NormalizeType(t string) StepType {
	t = strings.ToLower(strings.TrimSpace(t))
	if alias, ok := typeAliases[t]; ok {
		return alias
	}
	return StepType(t)
}

// IsCommunication reports whether the step contacts the customer
func IsCommunication(s Step) bool {
	switch s.(type) {
	case *EmailStep, *SMSStep, *CallStep:
		return true
	}
	return false
}

// ParseSteps decodes a JSON step list. Unknown step types are rejected.
func ParseSteps(data []byte) ([]Step, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("invalid step list: %w", err)
	}

	steps := make([]Step, 0, len(raws))
	for i, raw := range raws {
		s, err := parseStep(raw)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		steps = append(steps, s)
	}
	return steps, nil
}

func parseStep(raw json.RawMessage) (Step, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid step: %w", err)
	}

	var s Step
	switch NormalizeType(env.Type) {
	case TypeSendEmail:
		s = &EmailStep{}
	case TypeSendSMS:
		s = &SMSStep{}
	case TypeMakeCall:
		s = &CallStep{}
	case TypeWait:
		s = &WaitStep{}
	case TypeConditional:
		s = &ConditionalStep{}
	case TypeUpdateStatus:
		s = &UpdateStatusStep{}
	default:
		return nil, fmt.Errorf("unknown step type %q", env.Type)
	}

	if err := json.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("invalid %s step: %w", s.Type(), err)
	}
	return s, nil
}

// Validate checks the step configuration a workflow needs before it can run
func Validate(steps []Step) error {
	if len(steps) == 0 {
		return fmt.Errorf("workflow has no steps")
	}
	for i, s := range steps {
		switch st := s.(type) {
		case *EmailStep:
			if st.Template() == "" {
				return fmt.Errorf("step %d: no email template specified", i)
			}
		case *SMSStep:
			if st.Message == "" && st.Template() == "" {
				return fmt.Errorf("step %d: no message or sms template specified", i)
			}
		case *WaitStep:
			if st.Minutes() < 0 {
				return fmt.Errorf("step %d: negative wait", i)
			}
		case *ConditionalStep:
			if !validOperator(st.Condition.Operator) {
				return fmt.Errorf("step %d: unknown operator %q", i, st.Condition.Operator)
			}
		case *UpdateStatusStep:
			if st.Target() == "" {
				return fmt.Errorf("step %d: no status specified", i)
			}
		case *CallStep:
			if !validCallType(st.CallType) {
				return fmt.Errorf("step %d: unknown call type %q", i, st.CallType)
			}
		}
	}
	return nil
}
