package campaign

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
	"github.com/foxzi/campaignd/internal/workflow"
)

// monday is 10:00 in New York on a working day
var monday = time.Date(2026, 10, 12, 14, 0, 0, 0, time.UTC)

const emailWorkflow = `[{"type":"send_email","email_template_id":"tpl-welcome"}]`

type fakeEmail struct {
	mu   sync.Mutex
	sent []*provider.EmailMessage
}

func (f *fakeEmail) SendEmail(ctx context.Context, msg *provider.EmailMessage) (*provider.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return &provider.SendResult{MessageID: fmt.Sprintf("email-%d", len(f.sent)), Provider: "fake"}, nil
}

func (f *fakeEmail) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type harness struct {
	store      *repository.Store
	proc       *queue.Processor
	scheduler  *Scheduler
	dispatcher *Dispatcher
	aggregator *Aggregator
	email      *fakeEmail
	now        time.Time
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
		store: repository.NewStore(conn),
		email: &fakeEmail{},
		now:   monday,
	}
	clock := func() time.Time { return h.now }
	tasks.SetClock(clock)
	bus := signal.NewBus(tasks, logger)

	oracle, err := businesshours.NewOracle(h.store.Settings, businesshours.Default(), logger)
	if err != nil {
		t.Fatalf("NewOracle() error: %v", err)
	}
	slotStore, err := concurrency.NewBoltStore(tasks.DB())
	if err != nil {
		t.Fatalf("NewBoltStore() error: %v", err)
	}
	slots := concurrency.NewManager(slotStore, h.store.Settings, concurrency.Config{}, logger)
	slots.SetClock(clock)
	filter := suppression.NewFilter(h.store.Suppressions)

	processors := workflow.NewProcessors(workflow.ProcessorDeps{
		Templates:   h.store.Templates,
		Contacts:    h.store.Contacts,
		Calls:       h.store.Calls,
		Bus:         bus,
		Email:       h.email,
		Suppression: filter,
	}, logger)
	engine := workflow.NewEngine(workflow.EngineDeps{
		Executions: h.store.Executions,
		Workflows:  h.store.Workflows,
		Campaigns:  h.store.Campaigns,
		Contacts:   h.store.Contacts,
		Hours:      oracle,
		Bus:        bus,
		Processors: processors,
	}, logger)
	engine.SetClock(clock)

	h.aggregator = NewAggregator(h.store.Campaigns, h.store.Members, h.store.Executions, h.store.CampaignExecutions, logger)
	h.scheduler = NewScheduler(SchedulerDeps{
		Campaigns:   h.store.Campaigns,
		Members:     h.store.Members,
		Workflows:   h.store.Workflows,
		Templates:   h.store.Templates,
		Contacts:    h.store.Contacts,
		Suppression: filter,
		Hours:       oracle,
		Bus:         bus,
		Calls:       slots,
		Aggregator:  h.aggregator,
	}, time.Minute, logger)
	h.scheduler.SetClock(clock)
	h.dispatcher = NewDispatcher(DispatcherDeps{
		Campaigns:  h.store.Campaigns,
		Members:    h.store.Members,
		Executions: h.store.Executions,
		Contacts:   h.store.Contacts,
		Hours:      oracle,
		Bus:        bus,
		Aggregator: h.aggregator,
	}, DispatcherConfig{}, logger)
	h.dispatcher.SetClock(clock)

	h.proc = queue.NewProcessor(tasks, queue.ProcessorConfig{Workers: 1, MaxRetries: 3, DLQEnabled: true}, logger)
	h.proc.SetClock(clock)
	engine.Register(h.proc)
	h.dispatcher.Register(h.proc)
	h.aggregator.Register(h.proc)

	seed := []error{
		h.store.Contacts.CreateCompany(ctx, &models.Company{ID: "co-1", Name: "Acme Pest"}),
		h.store.Templates.CreateEmail(ctx, &models.EmailTemplate{
			ID: "tpl-welcome", CompanyID: "co-1", Name: "Welcome",
			Subject: "Hello {{firstName}}", Text: "Spring treatments are open.",
		}),
		h.store.Workflows.Create(ctx, &models.Workflow{
			ID: "wf-email", CompanyID: "co-1", Name: "Newsletter", Steps: types.JSONText(emailWorkflow),
		}),
	}
	for _, err := range seed {
		if err != nil {
			t.Fatalf("seed error: %v", err)
		}
	}
	return h
}

// campaign creates a scheduled campaign that is due now
func (h *harness) campaign(t *testing.T, c models.Campaign) *models.Campaign {
	t.Helper()
	start := h.now.Add(-time.Minute)
	c.CompanyID = "co-1"
	c.Name = "Fall promo"
	c.Status = models.CampaignScheduled
	if c.WorkflowID == "" {
		c.WorkflowID = "wf-email"
	}
	if c.StartAt == nil {
		c.StartAt = &start
	}
	if err := h.store.Campaigns.Create(context.Background(), &c); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	return &c
}

// contacts attaches n new customers to the campaign and returns the members
func (h *harness) contacts(t *testing.T, campaignID string, n int) []*models.ContactListMember {
	t.Helper()
	ctx := context.Background()
	members := make([]*models.ContactListMember, 0, n)
	for i := 0; i < n; i++ {
		cust := &models.Customer{
			ID:        fmt.Sprintf("%s-cust-%02d", campaignID, i),
			CompanyID: "co-1",
			FirstName: fmt.Sprintf("Customer%d", i),
			Email:     fmt.Sprintf("customer%d@example.com", i),
			Phone:     fmt.Sprintf("555-000-%04d", i),
		}
		if err := h.store.Contacts.CreateCustomer(ctx, cust); err != nil {
			t.Fatalf("CreateCustomer() error: %v", err)
		}
		m := &models.ContactListMember{CampaignID: campaignID, CustomerID: cust.ID}
		if err := h.store.Members.Create(ctx, m); err != nil {
			t.Fatalf("Create() error: %v", err)
		}
		members = append(members, m)
	}
	return members
}

func (h *harness) suppress(t *testing.T, email string) {
	t.Helper()
	err := h.store.Suppressions.Create(context.Background(), &models.Suppression{
		CompanyID: "co-1", Email: email, CommunicationType: models.SuppressAll, Reason: "unsubscribed",
	})
	if err != nil {
		t.Fatalf("Suppressions.Create() error: %v", err)
	}
}

func (h *harness) sweep(t *testing.T) int {
	t.Helper()
	n, err := h.scheduler.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	return n
}

func (h *harness) drain() int {
	return h.proc.Drain(context.Background())
}

// advanceTo moves the clock and runs whatever became due
func (h *harness) advanceTo(at time.Time) int {
	h.now = at
	return h.drain()
}

func (h *harness) reload(t *testing.T, id string) *models.Campaign {
	t.Helper()
	c, err := h.store.Campaigns.Get(context.Background(), id)
	if err != nil || c == nil {
		t.Fatalf("Get(%s) = %v, %v", id, c, err)
	}
	return c
}

func (h *harness) counts(t *testing.T, campaignID string) models.MemberStatusCounts {
	t.Helper()
	counts, err := h.store.Members.CountByStatus(context.Background(), campaignID)
	if err != nil {
		t.Fatalf("CountByStatus() error: %v", err)
	}
	return counts
}
