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

type WorkflowRepository struct {
	db *sqlx.DB
}

func NewWorkflowRepository(db *sqlx.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// Create inserts a workflow
func (r *WorkflowRepository) Create(ctx context.Context, w *models.Workflow) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	w.CreatedAt = time.Now().UTC()
	w.UpdatedAt = w.CreatedAt
	if len(w.Steps) == 0 {
		w.Steps = []byte("[]")
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO workflows (id, company_id, name, steps, cancel_on_statuses, created_at, updated_at)
		VALUES (:id, :company_id, :name, :steps, :cancel_on_statuses, :created_at, :updated_at)`, w)
	if err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}
	return nil
}

// Get returns a workflow by ID
func (r *WorkflowRepository) Get(ctx context.Context, id string) (*models.Workflow, error) {
	w := &models.Workflow{}
	err := r.db.GetContext(ctx, w, r.db.Rebind(`SELECT * FROM workflows WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return w, nil
}
