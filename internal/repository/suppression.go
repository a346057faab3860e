package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/foxzi/campaignd/internal/models"
)

// normalizedPhone strips formatting characters from the stored phone
const normalizedPhone = `REPLACE(REPLACE(REPLACE(REPLACE(REPLACE(phone, ' ', ''), '-', ''), '(', ''), ')', ''), '.', '')`

type SuppressionRepository struct {
	db *sqlx.DB
}

func NewSuppressionRepository(db *sqlx.DB) *SuppressionRepository {
	return &SuppressionRepository{db: db}
}

// Create inserts a suppression record. Identifiers are stored as given.
func (r *SuppressionRepository) Create(ctx context.Context, s *models.Suppression) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CommunicationType == "" {
		s.CommunicationType = models.SuppressAll
	}
	s.CreatedAt = time.Now().UTC()
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO suppressions (id, company_id, email, phone, communication_type, reason, created_at)
		VALUES (:id, :company_id, :email, :phone, :communication_type, :reason, :created_at)`, s)
	if err != nil {
		return fmt.Errorf("failed to create suppression: %w", err)
	}
	return nil
}

// Find returns the company's records matching any of the normalized emails or phones
func (r *SuppressionRepository) Find(ctx context.Context, companyID string, emails, phones []string) ([]models.Suppression, error) {
	if len(emails) == 0 && len(phones) == 0 {
		return nil, nil
	}

	// sqlx.In rejects empty slices
	if len(emails) == 0 {
		emails = []string{""}
	}
	if len(phones) == 0 {
		phones = []string{""}
	}

	query, args, err := sqlx.In(`
		SELECT * FROM suppressions
		WHERE company_id = ? AND (
			(email <> '' AND LOWER(TRIM(email)) IN (?)) OR
			(phone <> '' AND `+normalizedPhone+` IN (?))
		)`, companyID, emails, phones)
	if err != nil {
		return nil, err
	}

	var records []models.Suppression
	if err := r.db.SelectContext(ctx, &records, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to look up suppressions: %w", err)
	}
	return records, nil
}
