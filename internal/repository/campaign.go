package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/foxzi/campaignd/internal/models"
)

type CampaignRepository struct {
	db *sqlx.DB
}

func NewCampaignRepository(db *sqlx.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// Create inserts a new campaign
func (r *CampaignRepository) Create(ctx context.Context, c *models.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = models.CampaignDraft
	}
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO campaigns (id, company_id, name, workflow_id, status, start_at, end_at,
			daily_limit, batch_size, batch_interval_minutes, respect_business_hours,
			sent_today, current_batch, current_day, total_contacts, processed_contacts,
			successful_contacts, failed_contacts, deferred_contacts, created_at, updated_at)
		VALUES (:id, :company_id, :name, :workflow_id, :status, :start_at, :end_at,
			:daily_limit, :batch_size, :batch_interval_minutes, :respect_business_hours,
			:sent_today, :current_batch, :current_day, :total_contacts, :processed_contacts,
			:successful_contacts, :failed_contacts, :deferred_contacts, :created_at, :updated_at)`, c)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// Get returns a campaign by ID
func (r *CampaignRepository) Get(ctx context.Context, id string) (*models.Campaign, error) {
	c := &models.Campaign{}
	err := r.db.GetContext(ctx, c, r.db.Rebind(`SELECT * FROM campaigns WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return c, nil
}

// ListScheduled returns non-archived campaigns in the scheduled state.
// Start times are compared by the caller.
func (r *CampaignRepository) ListScheduled(ctx context.Context) ([]models.Campaign, error) {
	var campaigns []models.Campaign
	err := r.db.SelectContext(ctx, &campaigns, r.db.Rebind(`
		SELECT * FROM campaigns
		WHERE status = ? AND archived_at IS NULL
		ORDER BY created_at`), models.CampaignScheduled)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled campaigns: %w", err)
	}
	return campaigns, nil
}

// SetStartAt moves the start of a scheduled campaign
func (r *CampaignRepository) SetStartAt(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE campaigns SET start_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`),
		at.UTC(), time.Now().UTC(), id, models.CampaignScheduled)
	if err != nil {
		return fmt.Errorf("failed to reschedule campaign: %w", err)
	}
	return nil
}

// RevertToDraft returns a scheduled or running campaign to draft
func (r *CampaignRepository) RevertToDraft(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE campaigns SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`),
		models.CampaignDraft, time.Now().UTC(), id, models.CampaignScheduled, models.CampaignRunning)
	if err != nil {
		return false, fmt.Errorf("failed to revert campaign to draft: %w", err)
	}
	return affected(res)
}

// MarkRunning promotes a scheduled campaign and resets its counters
func (r *CampaignRepository) MarkRunning(ctx context.Context, id string, total int, day string) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE campaigns SET status = ?, total_contacts = ?, processed_contacts = 0,
			successful_contacts = 0, failed_contacts = 0, deferred_contacts = 0,
			sent_today = 0, current_batch = 0, current_day = ?, updated_at = ?
		WHERE id = ? AND status = ?`),
		models.CampaignRunning, total, day, time.Now().UTC(), id, models.CampaignScheduled)
	if err != nil {
		return false, fmt.Errorf("failed to mark campaign running: %w", err)
	}
	return affected(res)
}

// ReturnToScheduled puts a running campaign back into the scheduled state
// so the next sweep starts it again
func (r *CampaignRepository) ReturnToScheduled(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE campaigns SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`),
		models.CampaignScheduled, time.Now().UTC(), id, models.CampaignRunning)
	if err != nil {
		return false, fmt.Errorf("failed to return campaign to scheduled: %w", err)
	}
	return affected(res)
}

// Complete flips a running campaign to completed
func (r *CampaignRepository) Complete(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE campaigns SET status = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`),
		models.CampaignCompleted, now, now, id, models.CampaignRunning)
	if err != nil {
		return false, fmt.Errorf("failed to complete campaign: %w", err)
	}
	return affected(res)
}

// UpdateCounters writes aggregate counters. Counters never decrease.
func (r *CampaignRepository) UpdateCounters(ctx context.Context, id string, c models.CampaignCounters) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE campaigns SET
			processed_contacts = CASE WHEN ? > processed_contacts THEN ? ELSE processed_contacts END,
			successful_contacts = CASE WHEN ? > successful_contacts THEN ? ELSE successful_contacts END,
			failed_contacts = CASE WHEN ? > failed_contacts THEN ? ELSE failed_contacts END,
			updated_at = ?
		WHERE id = ?`),
		c.Processed, c.Processed, c.Successful, c.Successful, c.Failed, c.Failed,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update campaign counters: %w", err)
	}
	return nil
}

// ResetDay zeroes sent_today when the stored day marker differs from day
func (r *CampaignRepository) ResetDay(ctx context.Context, id, day string) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE campaigns SET sent_today = 0, current_day = ?, updated_at = ?
		WHERE id = ? AND current_day <> ?`),
		day, time.Now().UTC(), id, day)
	if err != nil {
		return false, fmt.Errorf("failed to reset campaign day: %w", err)
	}
	return affected(res)
}

// AdvanceBatch increments the batch counter
func (r *CampaignRepository) AdvanceBatch(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE campaigns SET current_batch = current_batch + 1, updated_at = ? WHERE id = ?`),
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to advance campaign batch: %w", err)
	}
	return nil
}

// SetDeferred records how many contacts wait for a later day
func (r *CampaignRepository) SetDeferred(ctx context.Context, id string, n int) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE campaigns SET deferred_contacts = ?, updated_at = ? WHERE id = ?`),
		n, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to record deferred contacts: %w", err)
	}
	return nil
}

// Release is one contact released into a batch
type Release struct {
	CampaignID string
	Day        string
	Member     *models.ContactListMember
	Execution  *models.Execution
}

// ReleaseContact creates the pending execution, claims the member, links both
// and counts the contact against today's quota in one transaction.
// It returns ErrConflict when the member is no longer pending.
func (r *CampaignRepository) ReleaseContact(ctx context.Context, rel Release) error {
	now := time.Now().UTC()
	exec := rel.Execution
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	exec.Status = models.ExecutionPending
	exec.CreatedAt = now
	exec.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE contact_list_members SET status = ?, execution_id = ?, updated_at = ?
		WHERE id = ? AND status = ?`),
		models.MemberProcessing, exec.ID, now, rel.Member.ID, models.MemberPending)
	if err != nil {
		return fmt.Errorf("failed to claim member: %w", err)
	}
	if ok, err := affected(res); err != nil {
		return err
	} else if !ok {
		return ErrConflict
	}

	if err := insertExecution(ctx, tx, exec); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO campaign_executions (campaign_id, execution_id, customer_id, lead_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		rel.CampaignID, exec.ID, exec.CustomerID, exec.LeadID, models.ExecutionPending, now)
	if err != nil {
		return fmt.Errorf("failed to link campaign execution: %w", err)
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		UPDATE campaigns SET sent_today = sent_today + 1, current_day = ?, updated_at = ? WHERE id = ?`),
		rel.Day, now, rel.CampaignID)
	if err != nil {
		return fmt.Errorf("failed to count released contact: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit release: %w", err)
	}
	rel.Member.Status = models.MemberProcessing
	rel.Member.ExecutionID = exec.ID
	return nil
}
