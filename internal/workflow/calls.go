package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxzi/campaignd/internal/metrics"
	"github.com/foxzi/campaignd/internal/models"
	"github.com/foxzi/campaignd/internal/provider"
	"github.com/foxzi/campaignd/internal/queue"
	"github.com/foxzi/campaignd/internal/signal"
)

const (
	defaultFollowUpDelay = 24 * time.Hour
	dialRetryDelay       = 5 * time.Minute
	maxDialAttempts      = 3
)

// CallSlots limits concurrent calls per company
type CallSlots interface {
	TryStartCall(ctx context.Context, companyID, callID string) (bool, error)
	TrackCallEnd(ctx context.Context, companyID, callID string) error
	EstimateWaitTime(ctx context.Context, companyID string) (time.Duration, error)
}

// CallScheduler places the calls requested by make_call steps
type CallScheduler struct {
	calls    CallStore
	contacts ContactStore
	slots    CallSlots
	dialer   provider.VoiceDialer
	hours    HoursOracle
	bus      Emitter
	logger   *slog.Logger
	now      func() time.Time
}

// NewCallScheduler creates a call scheduler. hours may be nil.
func NewCallScheduler(calls CallStore, contacts ContactStore, slots CallSlots, dialer provider.VoiceDialer,
	hours HoursOracle, bus Emitter, logger *slog.Logger) *CallScheduler {
	return &CallScheduler{
		calls:    calls,
		contacts: contacts,
		slots:    slots,
		dialer:   dialer,
		hours:    hours,
		bus:      bus,
		logger:   logger.With("component", "calls"),
		now:      time.Now,
	}
}

// SetClock replaces the scheduler's time source
func (s *CallScheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Register installs the call handlers
func (s *CallScheduler) Register(r Registrar) {
	r.Handle(signal.ScheduleCall, s.handleSchedule)
	r.Handle(signal.ExecuteScheduledCall, s.handleExecute)
}

func (s *CallScheduler) handleSchedule(ctx context.Context, t *queue.Task) error {
	var p signal.ScheduleCallPayload
	if err := t.Decode(&p); err != nil {
		return err
	}
	return s.Schedule(ctx, p)
}

func (s *CallScheduler) handleExecute(ctx context.Context, t *queue.Task) error {
	var p signal.ExecuteScheduledCallPayload
	if err := t.Decode(&p); err != nil {
		return err
	}
	return s.Execute(ctx, p)
}

// Schedule decides when a call is placed and either dials now or emits
// the dial for later
func (s *CallScheduler) Schedule(ctx context.Context, p signal.ScheduleCallPayload) error {
	now := s.now()
	at := now
	switch p.CallType {
	case CallScheduled:
		if p.ScheduledFor != nil {
			at = *p.ScheduledFor
		} else {
			at = now.Add(time.Duration(p.DelayMinutes) * time.Minute)
		}
	case CallFollowUp:
		delay := time.Duration(p.DelayMinutes) * time.Minute
		if delay <= 0 {
			delay = defaultFollowUpDelay
		}
		at = now.Add(delay)
	}

	if p.CallType == CallScheduled || p.CallType == CallFollowUp {
		if s.hours != nil {
			sched, err := s.hours.For(ctx, p.CompanyID)
			if err != nil {
				return err
			}
			at = sched.NextOpen(at)
		}
	}

	exec := signal.ExecuteScheduledCallPayload{
		CallID:       p.CallID,
		CompanyID:    p.CompanyID,
		ScheduledFor: at,
		Variables:    p.Variables,
	}
	if !at.After(now) {
		return s.Execute(ctx, exec)
	}

	if err := s.calls.Schedule(ctx, p.CallID, at); err != nil {
		return err
	}
	_, err := s.bus.EmitAt(ctx, signal.ExecuteScheduledCall, exec, at,
		signal.WithDedupKey(fmt.Sprintf("dial:%s:%d", p.CallID, at.Unix())))
	if err != nil {
		return err
	}
	s.logger.Info("call scheduled", "call_id", p.CallID, "type", p.CallType, "at", at)
	return nil
}

// Execute dials a call when the company has a free slot
func (s *CallScheduler) Execute(ctx context.Context, p signal.ExecuteScheduledCallPayload) error {
	call, err := s.calls.Get(ctx, p.CallID)
	if err != nil {
		return err
	}
	if call == nil {
		return queue.Permanent(fmt.Errorf("call %s not found", p.CallID))
	}
	logger := s.logger.With("call_id", call.ID, "company_id", call.CompanyID)
	if call.Status != models.CallScheduled {
		logger.Debug("call already handled", "status", call.Status)
		return nil
	}

	ok, err := s.slots.TryStartCall(ctx, call.CompanyID, call.ID)
	if err != nil {
		return err
	}
	if !ok {
		wait, err := s.slots.EstimateWaitTime(ctx, call.CompanyID)
		if err != nil {
			return err
		}
		metrics.IncCall("deferred")
		logger.Info("no call slot available, deferring", "wait", wait)
		return s.retry(ctx, p, s.now().Add(wait), p.Attempt)
	}

	res, err := s.dialer.Dial(ctx, &provider.CallRequest{
		CompanyID: call.CompanyID,
		CallID:    call.ID,
		To:        call.Phone,
		CallType:  call.CallType,
		Variables: p.Variables,
	})
	if err != nil {
		if endErr := s.slots.TrackCallEnd(ctx, call.CompanyID, call.ID); endErr != nil {
			logger.Warn("failed to release call slot", "error", endErr)
		}
		if provider.IsTemporary(err) && p.Attempt+1 < maxDialAttempts {
			metrics.IncCall("retried")
			logger.Warn("dial failed, retrying", "attempt", p.Attempt+1, "error", err)
			return s.retry(ctx, p, s.now().Add(dialRetryDelay), p.Attempt+1)
		}
		metrics.IncCall("failed")
		logger.Warn("dial failed", "error", err)
		return s.calls.MarkFailed(ctx, call.ID, err.Error())
	}

	if err := s.calls.MarkInitiated(ctx, call.ID, res.MessageID); err != nil {
		return err
	}
	metrics.IncCall("initiated")
	logger.Info("call initiated", "provider_call_id", res.MessageID)

	if call.LeadID != "" {
		if _, err := s.contacts.UpdateLeadStatus(ctx, call.CompanyID, call.LeadID, "contacted"); err != nil {
			logger.Warn("failed to update lead status", "lead_id", call.LeadID, "error", err)
		}
	}
	return nil
}

func (s *CallScheduler) retry(ctx context.Context, p signal.ExecuteScheduledCallPayload, at time.Time, attempt int) error {
	p.ScheduledFor = at
	p.Attempt = attempt
	_, err := s.bus.EmitAt(ctx, signal.ExecuteScheduledCall, p, at)
	return err
}
