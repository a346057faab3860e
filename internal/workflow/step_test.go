package workflow

import (
	"strings"
	"testing"
)

func TestParseSteps(t *testing.T) {
	steps, err := ParseSteps([]byte(`[
		{"type": "send_email", "template_id": "tpl-1", "optional": true},
		{"type": "delay", "delay": 15},
		{"type": "update_lead_status", "status": "contacted"},
		{"type": "conditional", "condition": {"field": "urgency", "operator": "equals", "value": "urgent"}, "on_false": "exit"},
		{"type": "make_call", "call_type": "scheduled", "call_delay_minutes": 30, "critical": false}
	]`))
	if err != nil {
		t.Fatalf("ParseSteps() error: %v", err)
	}
	if len(steps) != 5 {
		t.Fatalf("len = %d, want 5", len(steps))
	}

	email, ok := steps[0].(*EmailStep)
	if !ok || email.Template() != "tpl-1" || email.Base().IsCritical() {
		t.Errorf("step 0 = %#v", steps[0])
	}
	wait, ok := steps[1].(*WaitStep)
	if !ok || wait.Minutes() != 15 {
		t.Errorf("step 1 = %#v", steps[1])
	}
	if s, ok := steps[2].(*UpdateStatusStep); !ok || s.Target() != "contacted" || !s.IsCritical() {
		t.Errorf("step 2 = %#v", steps[2])
	}
	if s, ok := steps[3].(*ConditionalStep); !ok || s.OnFalse != OnFalseExit || s.Condition.Value != "urgent" {
		t.Errorf("step 3 = %#v", steps[3])
	}
	if s, ok := steps[4].(*CallStep); !ok || s.CallDelay != 30 || s.IsCritical() {
		t.Errorf("step 4 = %#v", steps[4])
	}
}

func TestParseSteps_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"not a list", `{"type": "wait"}`, "invalid step list"},
		{"unknown type", `[{"type": "wait"}, {"type": "fax"}]`, `step 1: unknown step type "fax"`},
		{"bad field", `[{"type": "wait", "delay": "soon"}]`, "invalid wait step"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSteps([]byte(tt.data))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("ParseSteps() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		steps []Step
		want  string
	}{
		{"empty", nil, "no steps"},
		{"email without template", []Step{&EmailStep{}}, "no email template"},
		{"sms without body", []Step{&SMSStep{Phone: "555"}}, "no message or sms template"},
		{"negative wait", []Step{&WaitStep{Delay: -5}}, "negative wait"},
		{"bad operator", []Step{&ConditionalStep{Condition: Condition{Field: "x", Operator: "like"}}}, "unknown operator"},
		{"status missing", []Step{&UpdateStatusStep{}}, "no status"},
		{"bad call type", []Step{&CallStep{CallType: "robocall"}}, "unknown call type"},
		{"valid", []Step{&SMSStep{Message: "hi"}, &WaitStep{Delay: 5}, &CallStep{CallType: CallFollowUp}}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.steps)
			if tt.want == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() error = %v, want %q", err, tt.want)
			}
		})
	}
}
