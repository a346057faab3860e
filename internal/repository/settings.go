package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/foxzi/campaignd/internal/models"
)

type SettingsRepository struct {
	db *sqlx.DB
}

func NewSettingsRepository(db *sqlx.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get returns the settings of a company, nil if none are stored
func (r *SettingsRepository) Get(ctx context.Context, companyID string) (*models.CompanySettings, error) {
	s := &models.CompanySettings{}
	err := r.db.GetContext(ctx, s, r.db.Rebind(`SELECT * FROM company_settings WHERE company_id = ?`), companyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get company settings: %w", err)
	}
	return s, nil
}

// Upsert stores the settings of a company
func (r *SettingsRepository) Upsert(ctx context.Context, s *models.CompanySettings) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM company_settings WHERE company_id = ?`), s.CompanyID); err != nil {
		return fmt.Errorf("failed to replace company settings: %w", err)
	}
	if _, err := sqlx.NamedExecContext(ctx, tx, `
		INSERT INTO company_settings (company_id, business_hours, max_concurrent_calls)
		VALUES (:company_id, :business_hours, :max_concurrent_calls)`, s); err != nil {
		return fmt.Errorf("failed to store company settings: %w", err)
	}
	return tx.Commit()
}
