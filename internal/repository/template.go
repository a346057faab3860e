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

type TemplateRepository struct {
	db *sqlx.DB
}

func NewTemplateRepository(db *sqlx.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// CreateEmail inserts an email template
func (r *TemplateRepository) CreateEmail(ctx context.Context, t *models.EmailTemplate) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.CreatedAt = time.Now().UTC()
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO email_templates (id, company_id, name, subject, html, text, created_at)
		VALUES (:id, :company_id, :name, :subject, :html, :text, :created_at)`, t)
	if err != nil {
		return fmt.Errorf("failed to create email template: %w", err)
	}
	return nil
}

// GetEmail returns a company's email template
func (r *TemplateRepository) GetEmail(ctx context.Context, companyID, id string) (*models.EmailTemplate, error) {
	t := &models.EmailTemplate{}
	err := r.db.GetContext(ctx, t, r.db.Rebind(`SELECT * FROM email_templates WHERE id = ? AND company_id = ?`), id, companyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email template: %w", err)
	}
	return t, nil
}

// CreateSMS inserts an SMS template
func (r *TemplateRepository) CreateSMS(ctx context.Context, t *models.SMSTemplate) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.CreatedAt = time.Now().UTC()
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO sms_templates (id, company_id, name, body, created_at)
		VALUES (:id, :company_id, :name, :body, :created_at)`, t)
	if err != nil {
		return fmt.Errorf("failed to create sms template: %w", err)
	}
	return nil
}

// GetSMS returns a company's SMS template
func (r *TemplateRepository) GetSMS(ctx context.Context, companyID, id string) (*models.SMSTemplate, error) {
	t := &models.SMSTemplate{}
	err := r.db.GetContext(ctx, t, r.db.Rebind(`SELECT * FROM sms_templates WHERE id = ? AND company_id = ?`), id, companyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sms template: %w", err)
	}
	return t, nil
}
