package workflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx/types"

	"github.com/foxzi/campaignd/internal/businesshours"
	"github.com/foxzi/campaignd/internal/concurrency"
	"github.com/foxzi/campaignd/internal/db"
	"github.com/foxzi/campaignd/internal/models"
	"github.com/foxzi/campaignd/internal/provider"
	"github.com/foxzi/campaignd/internal/queue"
	"github.com/foxzi/campaignd/internal/repository"
	"github.com/foxzi/campaignd/internal/signal"
	"github.com/foxzi/campaignd/internal/suppression"
)

// monday is 10:00 in New York on a working day
var monday = time.Date(2026, 10, 12, 14, 0, 0, 0, time.UTC)

type fakeEmail struct {
	mu   sync.Mutex
	sent []*provider.EmailMessage
	err  error
}

func (f *fakeEmail) SendEmail(ctx context.Context, msg *provider.EmailMessage) (*provider.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, msg)
	return &provider.SendResult{MessageID: fmt.Sprintf("email-%d", len(f.sent)), Provider: "fake"}, nil
}

func (f *fakeEmail) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeSMS struct {
	mu   sync.Mutex
	sent []*provider.SMSMessage
}

func (f *fakeSMS) SendSMS(ctx context.Context, msg *provider.SMSMessage) (*provider.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return &provider.SendResult{MessageID: fmt.Sprintf("sms-%d", len(f.sent)), Provider: "fake"}, nil
}

func (f *fakeSMS) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeDialer struct {
	mu    sync.Mutex
	calls []*provider.CallRequest
	err   error
}

func (f *fakeDialer) Dial(ctx context.Context, req *provider.CallRequest) (*provider.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return &provider.SendResult{MessageID: "pc-" + req.CallID, Provider: "fake"}, nil
}

func (f *fakeDialer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type harness struct {
	store  *repository.Store
	tasks  *queue.BoltStorage
	proc   *queue.Processor
	bus    *signal.Bus
	slots  *concurrency.Manager
	engine *Engine
	calls  *CallScheduler
	email  *fakeEmail
	sms    *fakeSMS
	dialer *fakeDialer

	now       time.Time
	completed []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	conn, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	tasks, err := queue.NewBoltStorage(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("NewBoltStorage() error: %v", err)
	}
	t.Cleanup(func() { tasks.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		store:  repository.NewStore(conn),
		tasks:  tasks,
		email:  &fakeEmail{},
		sms:    &fakeSMS{},
		dialer: &fakeDialer{},
		now:    monday,
	}
	clock := func() time.Time { return h.now }
	tasks.SetClock(clock)
	h.bus = signal.NewBus(tasks, logger)

	oracle, err := businesshours.NewOracle(h.store.Settings, businesshours.Default(), logger)
	if err != nil {
		t.Fatalf("NewOracle() error: %v", err)
	}
	slotStore, err := concurrency.NewBoltStore(tasks.DB())
	if err != nil {
		t.Fatalf("NewBoltStore() error: %v", err)
	}
	h.slots = concurrency.NewManager(slotStore, h.store.Settings, concurrency.Config{}, logger)
	h.slots.SetClock(clock)

	processors := NewProcessors(ProcessorDeps{
		Templates:   h.store.Templates,
		Contacts:    h.store.Contacts,
		Calls:       h.store.Calls,
		Bus:         h.bus,
		Email:       h.email,
		SMS:         h.sms,
		Suppression: suppression.NewFilter(h.store.Suppressions),
	}, logger)
	h.engine = NewEngine(EngineDeps{
		Executions: h.store.Executions,
		Workflows:  h.store.Workflows,
		Campaigns:  h.store.Campaigns,
		Contacts:   h.store.Contacts,
		Hours:      oracle,
		Bus:        h.bus,
		Processors: processors,
	}, logger)
	h.engine.SetClock(clock)
	h.calls = NewCallScheduler(h.store.Calls, h.store.Contacts, h.slots, h.dialer, oracle, h.bus, logger)
	h.calls.SetClock(clock)

	h.proc = queue.NewProcessor(tasks, queue.ProcessorConfig{Workers: 1, MaxRetries: 3, DLQEnabled: true}, logger)
	h.proc.SetClock(clock)
	h.engine.Register(h.proc)
	h.calls.Register(h.proc)
	h.proc.Handle(signal.WorkflowCompleted, func(ctx context.Context, task *queue.Task) error {
		var p signal.CompletedPayload
		if err := task.Decode(&p); err != nil {
			return err
		}
		h.completed = append(h.completed, p.ExecutionID)
		return nil
	})

	seed := []error{
		h.store.Contacts.CreateCompany(ctx, &models.Company{ID: "co-1", Name: "Acme Pest", Phone: "555-0100"}),
		h.store.Contacts.CreateCustomer(ctx, &models.Customer{
			ID: "cust-1", CompanyID: "co-1", FirstName: "Jane", LastName: "Doe",
			Email: "jane@example.com", Phone: "555-123-4567", City: "Austin",
		}),
		h.store.Contacts.CreateLead(ctx, &models.Lead{
			ID: "lead-1", CompanyID: "co-1", CustomerID: "cust-1", LeadStatus: "new", PestType: "termites",
		}),
		h.store.Templates.CreateEmail(ctx, &models.EmailTemplate{
			ID: "tpl-welcome", CompanyID: "co-1", Name: "Welcome",
			Subject: "Welcome {{firstName}} to {{companyName}}",
			Text:    "We will call you at {{customerPhone}}.",
		}),
	}
	for _, err := range seed {
		if err != nil {
			t.Fatalf("seed error: %v", err)
		}
	}
	return h
}

func (h *harness) workflow(t *testing.T, steps string, cancelOn ...string) *models.Workflow {
	t.Helper()
	wf := &models.Workflow{
		CompanyID:        "co-1",
		Name:             "Follow up",
		Steps:            types.JSONText(steps),
		CancelOnStatuses: cancelOn,
	}
	if err := h.store.Workflows.Create(context.Background(), wf); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	return wf
}

func (h *harness) trigger(t *testing.T, wf *models.Workflow) *models.Execution {
	t.Helper()
	exec, err := h.engine.Trigger(context.Background(), TriggerRequest{
		WorkflowID: wf.ID,
		CompanyID:  "co-1",
		LeadID:     "lead-1",
	})
	if err != nil {
		t.Fatalf("Trigger() error: %v", err)
	}
	return exec
}

func (h *harness) drain() int {
	return h.proc.Drain(context.Background())
}

// advance moves the clock and runs whatever became due
func (h *harness) advance(d time.Duration) int {
	h.now = h.now.Add(d)
	return h.drain()
}

func (h *harness) execution(t *testing.T, id string) *models.Execution {
	t.Helper()
	exec, err := h.store.Executions.Get(context.Background(), id)
	if err != nil || exec == nil {
		t.Fatalf("Get(%s) = %v, %v", id, exec, err)
	}
	return exec
}

func (h *harness) leadStatus(t *testing.T) string {
	t.Helper()
	lead, err := h.store.Contacts.GetLead(context.Background(), "co-1", "lead-1")
	if err != nil || lead == nil {
		t.Fatalf("GetLead() = %v, %v", lead, err)
	}
	return lead.LeadStatus
}

func (h *harness) wasCompleted(id string) bool {
	for _, c := range h.completed {
		if c == id {
			return true
		}
	}
	return false
}
