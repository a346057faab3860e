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

type CallLogRepository struct {
	db *sqlx.DB
}

func NewCallLogRepository(db *sqlx.DB) *CallLogRepository {
	return &CallLogRepository{db: db}
}

// Create inserts a call log
func (r *CallLogRepository) Create(ctx context.Context, c *models.CallLog) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = models.CallScheduled
	}
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO call_logs (id, company_id, execution_id, lead_id, customer_id, phone, call_type,
			priority, status, provider_call_id, error_message, scheduled_for, created_at, updated_at)
		VALUES (:id, :company_id, :execution_id, :lead_id, :customer_id, :phone, :call_type,
			:priority, :status, :provider_call_id, :error_message, :scheduled_for, :created_at, :updated_at)`, c)
	if err != nil {
		return fmt.Errorf("failed to create call log: %w", err)
	}
	return nil
}

// Get returns a call log by ID
func (r *CallLogRepository) Get(ctx context.Context, id string) (*models.CallLog, error) {
	c := &models.CallLog{}
	err := r.db.GetContext(ctx, c, r.db.Rebind(`SELECT * FROM call_logs WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get call log: %w", err)
	}
	return c, nil
}

// Schedule stores the instant a call is planned for
func (r *CallLogRepository) Schedule(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE call_logs SET scheduled_for = ?, updated_at = ? WHERE id = ?`),
		at.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to schedule call: %w", err)
	}
	return nil
}

// MarkInitiated records a successful dial
func (r *CallLogRepository) MarkInitiated(ctx context.Context, id, providerCallID string) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE call_logs SET status = ?, provider_call_id = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`),
		models.CallInitiated, providerCallID, now, now, id, models.CallScheduled)
	if err != nil {
		return fmt.Errorf("failed to mark call initiated: %w", err)
	}
	return nil
}

// MarkFailed records a failed dial
func (r *CallLogRepository) MarkFailed(ctx context.Context, id, errMsg string) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE call_logs SET status = ?, error_message = ?, ended_at = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`),
		models.CallFailed, errMsg, now, now, id, models.CallScheduled, models.CallInitiated)
	if err != nil {
		return fmt.Errorf("failed to mark call failed: %w", err)
	}
	return nil
}

// MarkEnded closes an initiated call. False means the call was not in progress.
func (r *CallLogRepository) MarkEnded(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE call_logs SET status = ?, ended_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`),
		models.CallCompleted, now, now, id, models.CallInitiated)
	if err != nil {
		return false, fmt.Errorf("failed to mark call ended: %w", err)
	}
	return affected(res)
}
