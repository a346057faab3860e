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

type MemberRepository struct {
	db *sqlx.DB
}

func NewMemberRepository(db *sqlx.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

// Create inserts a member row
func (r *MemberRepository) Create(ctx context.Context, m *models.ContactListMember) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Status == "" {
		m.Status = models.MemberPending
	}
	m.CreatedAt = time.Now().UTC()
	m.UpdatedAt = m.CreatedAt

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO contact_list_members (id, contact_list_id, campaign_id, customer_id, lead_id,
			status, execution_id, error_message, created_at, updated_at)
		VALUES (:id, :contact_list_id, :campaign_id, :customer_id, :lead_id,
			:status, :execution_id, :error_message, :created_at, :updated_at)`, m)
	if err != nil {
		return fmt.Errorf("failed to create member: %w", err)
	}
	return nil
}

// AssignList attaches a contact list to a campaign
func (r *MemberRepository) AssignList(ctx context.Context, campaignID, listID string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO campaign_contact_lists (campaign_id, contact_list_id, created_at) VALUES (?, ?, ?)`),
		campaignID, listID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to assign contact list: %w", err)
	}
	return nil
}

// Get returns a member by ID
func (r *MemberRepository) Get(ctx context.Context, id string) (*models.ContactListMember, error) {
	m := &models.ContactListMember{}
	err := r.db.GetContext(ctx, m, r.db.Rebind(`SELECT * FROM contact_list_members WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return m, nil
}

// GetByExecution returns the member an execution was released for
func (r *MemberRepository) GetByExecution(ctx context.Context, executionID string) (*models.ContactListMember, error) {
	m := &models.ContactListMember{}
	err := r.db.GetContext(ctx, m, r.db.Rebind(`SELECT * FROM contact_list_members WHERE execution_id = ?`), executionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member by execution: %w", err)
	}
	return m, nil
}

// GetMany returns members by ID in no particular order
func (r *MemberRepository) GetMany(ctx context.Context, ids []string) ([]models.ContactListMember, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM contact_list_members WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var members []models.ContactListMember
	if err := r.db.SelectContext(ctx, &members, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get members: %w", err)
	}
	return members, nil
}

// scope returns the WHERE clause selecting a campaign's members. List
// assignments win; campaigns without assigned members fall back to rows
// attached directly through campaign_id.
func (r *MemberRepository) scope(ctx context.Context, campaignID string) (string, []any, error) {
	const listClause = `contact_list_id IN (SELECT contact_list_id FROM campaign_contact_lists WHERE campaign_id = ?)`

	var n int
	err := r.db.GetContext(ctx, &n, r.db.Rebind(`SELECT COUNT(*) FROM contact_list_members WHERE `+listClause), campaignID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to count assigned members: %w", err)
	}
	if n > 0 {
		return listClause, []any{campaignID}, nil
	}
	return `campaign_id = ?`, []any{campaignID}, nil
}

// ListForCampaign returns all members of a campaign
func (r *MemberRepository) ListForCampaign(ctx context.Context, campaignID string) ([]models.ContactListMember, error) {
	where, args, err := r.scope(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	var members []models.ContactListMember
	err = r.db.SelectContext(ctx, &members, r.db.Rebind(`SELECT * FROM contact_list_members WHERE `+where+` ORDER BY created_at, id`), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaign members: %w", err)
	}
	return members, nil
}

// CountByStatus counts a campaign's members per status
func (r *MemberRepository) CountByStatus(ctx context.Context, campaignID string) (models.MemberStatusCounts, error) {
	where, args, err := r.scope(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Status models.MemberStatus `db:"status"`
		N      int                 `db:"n"`
	}
	err = r.db.SelectContext(ctx, &rows, r.db.Rebind(`
		SELECT status, COUNT(*) AS n FROM contact_list_members WHERE `+where+` GROUP BY status`), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count members: %w", err)
	}
	counts := models.MemberStatusCounts{}
	for _, row := range rows {
		counts[row.Status] = row.N
	}
	return counts, nil
}

// MarkExcluded moves pending or processing members to excluded
func (r *MemberRepository) MarkExcluded(ctx context.Context, ids []string, reason string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	query, args, err := sqlx.In(`
		UPDATE contact_list_members SET status = ?, error_message = ?, processed_at = ?, updated_at = ?
		WHERE id IN (?) AND status IN (?, ?)`,
		models.MemberExcluded, reason, now, now, ids, models.MemberPending, models.MemberProcessing)
	if err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to exclude members: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// MarkFailed fails a member that was never released
func (r *MemberRepository) MarkFailed(ctx context.Context, id, reason string) (bool, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE contact_list_members SET status = ?, error_message = ?, processed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`),
		models.MemberFailed, reason, now, now, id, models.MemberPending)
	if err != nil {
		return false, fmt.Errorf("failed to fail member: %w", err)
	}
	return affected(res)
}

// Finish moves the member released for an execution to a terminal status
func (r *MemberRepository) Finish(ctx context.Context, executionID string, status models.MemberStatus, errMsg string) (bool, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE contact_list_members SET status = ?, error_message = ?, processed_at = ?, updated_at = ?
		WHERE execution_id = ? AND status IN (?, ?)`),
		status, errMsg, now, now, executionID, models.MemberPending, models.MemberProcessing)
	if err != nil {
		return false, fmt.Errorf("failed to finish member: %w", err)
	}
	return affected(res)
}
