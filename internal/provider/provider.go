// Package provider delivers email, SMS and voice calls on behalf of
// workflow steps.
package provider

import (
	"context"
	"errors"
)

// EmailMessage is one rendered email. Sends sharing an IdempotencyKey
// are the same message.
type EmailMessage struct {
	CompanyID      string `json:"company_id"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	From           string `json:"from,omitempty"`
	FromName       string `json:"from_name,omitempty"`
	To             string `json:"to"`
	Subject        string `json:"subject"`
	HTML           string `json:"html,omitempty"`
	Text           string `json:"text,omitempty"`
}

// SMSMessage is one rendered text message
type SMSMessage struct {
	CompanyID      string `json:"company_id"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	To             string `json:"to"`
	Body           string `json:"body"`
}

// CallRequest asks the voice provider to dial a contact
type CallRequest struct {
	CompanyID string            `json:"company_id"`
	CallID    string            `json:"call_id"`
	To        string            `json:"to"`
	CallType  string            `json:"call_type,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
}

// SendResult identifies an accepted message or call
type SendResult struct {
	MessageID string `json:"message_id"`
	Provider  string `json:"provider"`
}

// EmailSender delivers email
type EmailSender interface {
	SendEmail(ctx context.Context, msg *EmailMessage) (*SendResult, error)
}

// SMSSender delivers text messages
type SMSSender interface {
	SendSMS(ctx context.Context, msg *SMSMessage) (*SendResult, error)
}

// VoiceDialer places outbound calls
type VoiceDialer interface {
	Dial(ctx context.Context, req *CallRequest) (*SendResult, error)
}

// DeliveryError represents a delivery error with type information
type DeliveryError struct {
	Temporary bool
	Message   string
}

func (e *DeliveryError) Error() string {
	return e.Message
}

// IsTemporary reports whether err is a delivery error worth retrying.
// Errors that are not delivery errors are treated as temporary.
func IsTemporary(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Temporary
	}
	return err != nil
}
