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

type ExecutionRepository struct {
	db *sqlx.DB
}

func NewExecutionRepository(db *sqlx.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

func insertExecution(ctx context.Context, ext sqlx.ExtContext, e *models.Execution) error {
	if e.ContactData == nil {
		e.ContactData = models.JSONMap{}
	}
	_, err := sqlx.NamedExecContext(ctx, ext, `
		INSERT INTO executions (id, workflow_id, company_id, campaign_id, lead_id, customer_id,
			partial_lead_id, trigger_type, status, current_step, contact_data, results,
			cancel_requested, cancel_reason, error_message, sleep_kind, created_at, updated_at)
		VALUES (:id, :workflow_id, :company_id, :campaign_id, :lead_id, :customer_id,
			:partial_lead_id, :trigger_type, :status, :current_step, :contact_data, :results,
			:cancel_requested, :cancel_reason, :error_message, :sleep_kind, :created_at, :updated_at)`, e)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

// Create inserts a pending execution
func (r *ExecutionRepository) Create(ctx context.Context, e *models.Execution) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Status == "" {
		e.Status = models.ExecutionPending
	}
	e.CreatedAt = time.Now().UTC()
	e.UpdatedAt = e.CreatedAt
	return insertExecution(ctx, r.db, e)
}

// Get returns an execution by ID
func (r *ExecutionRepository) Get(ctx context.Context, id string) (*models.Execution, error) {
	e := &models.Execution{}
	err := r.db.GetContext(ctx, e, r.db.Rebind(`SELECT * FROM executions WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return e, nil
}

// ListActiveByLead returns non-terminal executions for a lead
func (r *ExecutionRepository) ListActiveByLead(ctx context.Context, companyID, leadID string) ([]models.Execution, error) {
	var execs []models.Execution
	err := r.db.SelectContext(ctx, &execs, r.db.Rebind(`
		SELECT * FROM executions
		WHERE company_id = ? AND lead_id = ? AND `+terminalExecution+`
		ORDER BY created_at`), companyID, leadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lead executions: %w", err)
	}
	return execs, nil
}

// Start moves a pending execution to running
func (r *ExecutionRepository) Start(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE executions SET status = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`),
		models.ExecutionRunning, at.UTC(), time.Now().UTC(), id, models.ExecutionPending)
	if err != nil {
		return false, fmt.Errorf("failed to start execution: %w", err)
	}
	return affected(res)
}

// RecordStep persists the results and moves the cursor from expected to next.
// Any pending sleep is cleared. False means the cursor moved or the
// execution is terminal.
func (r *ExecutionRepository) RecordStep(ctx context.Context, id string, expected, next int, results models.StepResults) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE executions SET results = ?, current_step = ?, wake_at = NULL, sleep_step = NULL,
			sleep_kind = '', updated_at = ?
		WHERE id = ? AND current_step = ? AND `+terminalExecution),
		results, next, time.Now().UTC(), id, expected)
	if err != nil {
		return false, fmt.Errorf("failed to record step: %w", err)
	}
	return affected(res)
}

// Sleep suspends the execution until wakeAt
func (r *ExecutionRepository) Sleep(ctx context.Context, id string, cursor, step int, kind models.SleepKind, wakeAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE executions SET wake_at = ?, sleep_step = ?, sleep_kind = ?, updated_at = ?
		WHERE id = ? AND current_step = ? AND `+terminalExecution),
		wakeAt.UTC(), step, kind, time.Now().UTC(), id, cursor)
	if err != nil {
		return false, fmt.Errorf("failed to suspend execution: %w", err)
	}
	return affected(res)
}

// Wake clears the sleep recorded for step
func (r *ExecutionRepository) Wake(ctx context.Context, id string, step int) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE executions SET wake_at = NULL, sleep_step = NULL, sleep_kind = '', updated_at = ?
		WHERE id = ? AND sleep_step = ? AND `+terminalExecution),
		time.Now().UTC(), id, step)
	if err != nil {
		return false, fmt.Errorf("failed to wake execution: %w", err)
	}
	return affected(res)
}

// Complete writes the completed terminal state
func (r *ExecutionRepository) Complete(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE executions SET status = ?, completed_at = ?, wake_at = NULL, sleep_step = NULL,
			sleep_kind = '', updated_at = ?
		WHERE id = ? AND `+terminalExecution),
		models.ExecutionCompleted, now, now, id)
	if err != nil {
		return false, fmt.Errorf("failed to complete execution: %w", err)
	}
	return affected(res)
}

// Fail writes the failed terminal state
func (r *ExecutionRepository) Fail(ctx context.Context, id, errMsg string) (bool, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE executions SET status = ?, error_message = ?, completed_at = ?, wake_at = NULL,
			sleep_step = NULL, sleep_kind = '', updated_at = ?
		WHERE id = ? AND `+terminalExecution),
		models.ExecutionFailed, errMsg, now, now, id)
	if err != nil {
		return false, fmt.Errorf("failed to fail execution: %w", err)
	}
	return affected(res)
}

// Cancel writes the cancelled terminal state at step
func (r *ExecutionRepository) Cancel(ctx context.Context, id string, step int, reason string) (bool, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE executions SET status = ?, cancelled_at_step = ?, cancel_reason = ?, completed_at = ?,
			wake_at = NULL, sleep_step = NULL, sleep_kind = '', updated_at = ?
		WHERE id = ? AND `+terminalExecution),
		models.ExecutionCancelled, step, reason, now, now, id)
	if err != nil {
		return false, fmt.Errorf("failed to cancel execution: %w", err)
	}
	return affected(res)
}

// RequestCancel flags a non-terminal execution for cooperative cancellation
func (r *ExecutionRepository) RequestCancel(ctx context.Context, id, reason string) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE executions SET cancel_requested = ?, cancel_reason = ?, updated_at = ?
		WHERE id = ? AND `+terminalExecution),
		true, reason, time.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("failed to request cancellation: %w", err)
	}
	return affected(res)
}

type CampaignExecutionRepository struct {
	db *sqlx.DB
}

func NewCampaignExecutionRepository(db *sqlx.DB) *CampaignExecutionRepository {
	return &CampaignExecutionRepository{db: db}
}

// GetByExecution returns the campaign link of an execution
func (r *CampaignExecutionRepository) GetByExecution(ctx context.Context, executionID string) (*models.CampaignExecution, error) {
	link := &models.CampaignExecution{}
	err := r.db.GetContext(ctx, link, r.db.Rebind(`SELECT * FROM campaign_executions WHERE execution_id = ?`), executionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign execution: %w", err)
	}
	return link, nil
}

// Finish stores the terminal status on the link row
func (r *CampaignExecutionRepository) Finish(ctx context.Context, campaignID, executionID string, status models.ExecutionStatus) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE campaign_executions SET status = ?, completed_at = ?
		WHERE campaign_id = ? AND execution_id = ?`),
		status, time.Now().UTC(), campaignID, executionID)
	if err != nil {
		return fmt.Errorf("failed to update campaign execution: %w", err)
	}
	return nil
}
