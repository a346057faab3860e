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

// ContactRepository reads person records: companies, customers, leads and partial leads
type ContactRepository struct {
	db *sqlx.DB
}

func NewContactRepository(db *sqlx.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

func (r *ContactRepository) get(ctx context.Context, dest any, query string, args ...any) (bool, error) {
	err := r.db.GetContext(ctx, dest, r.db.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CreateCompany inserts a company
func (r *ContactRepository) CreateCompany(ctx context.Context, c *models.Company) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO companies (id, name, email, phone, website, logo_url)
		VALUES (:id, :name, :email, :phone, :website, :logo_url)`, c)
	if err != nil {
		return fmt.Errorf("failed to create company: %w", err)
	}
	return nil
}

// GetCompany returns a company by ID
func (r *ContactRepository) GetCompany(ctx context.Context, id string) (*models.Company, error) {
	c := &models.Company{}
	found, err := r.get(ctx, c, `SELECT * FROM companies WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	if !found {
		return nil, nil
	}
	return c, nil
}

// CreateCustomer inserts a customer
func (r *ContactRepository) CreateCustomer(ctx context.Context, c *models.Customer) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = time.Now().UTC()
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO customers (id, company_id, first_name, last_name, email, phone, address, city, state, zip_code, created_at)
		VALUES (:id, :company_id, :first_name, :last_name, :email, :phone, :address, :city, :state, :zip_code, :created_at)`, c)
	if err != nil {
		return fmt.Errorf("failed to create customer: %w", err)
	}
	return nil
}

// GetCustomer returns a customer scoped to a company
func (r *ContactRepository) GetCustomer(ctx context.Context, companyID, id string) (*models.Customer, error) {
	c := &models.Customer{}
	found, err := r.get(ctx, c, `SELECT * FROM customers WHERE id = ? AND company_id = ?`, id, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	if !found {
		return nil, nil
	}
	return c, nil
}

// GetCustomers returns customers of a company keyed by ID
func (r *ContactRepository) GetCustomers(ctx context.Context, companyID string, ids []string) (map[string]*models.Customer, error) {
	out := make(map[string]*models.Customer, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM customers WHERE company_id = ? AND id IN (?)`, companyID, ids)
	if err != nil {
		return nil, err
	}
	var customers []models.Customer
	if err := r.db.SelectContext(ctx, &customers, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get customers: %w", err)
	}
	for i := range customers {
		out[customers[i].ID] = &customers[i]
	}
	return out, nil
}

// CreateLead inserts a lead
func (r *ContactRepository) CreateLead(ctx context.Context, l *models.Lead) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.LeadStatus == "" {
		l.LeadStatus = "new"
	}
	l.CreatedAt = time.Now().UTC()
	l.UpdatedAt = l.CreatedAt
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO leads (id, company_id, customer_id, lead_status, pest_type, urgency, home_size, source, created_at, updated_at)
		VALUES (:id, :company_id, :customer_id, :lead_status, :pest_type, :urgency, :home_size, :source, :created_at, :updated_at)`, l)
	if err != nil {
		return fmt.Errorf("failed to create lead: %w", err)
	}
	return nil
}

// GetLead returns a lead scoped to a company
func (r *ContactRepository) GetLead(ctx context.Context, companyID, id string) (*models.Lead, error) {
	l := &models.Lead{}
	found, err := r.get(ctx, l, `SELECT * FROM leads WHERE id = ? AND company_id = ?`, id, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to get lead: %w", err)
	}
	if !found {
		return nil, nil
	}
	return l, nil
}

// GetLeads returns leads of a company keyed by ID
func (r *ContactRepository) GetLeads(ctx context.Context, companyID string, ids []string) (map[string]*models.Lead, error) {
	out := make(map[string]*models.Lead, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM leads WHERE company_id = ? AND id IN (?)`, companyID, ids)
	if err != nil {
		return nil, err
	}
	var leads []models.Lead
	if err := r.db.SelectContext(ctx, &leads, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get leads: %w", err)
	}
	for i := range leads {
		out[leads[i].ID] = &leads[i]
	}
	return out, nil
}

// UpdateLeadStatus sets a lead's status. False means no such lead for the company.
func (r *ContactRepository) UpdateLeadStatus(ctx context.Context, companyID, id, status string) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE leads SET lead_status = ?, updated_at = ? WHERE id = ? AND company_id = ?`),
		status, time.Now().UTC(), id, companyID)
	if err != nil {
		return false, fmt.Errorf("failed to update lead status: %w", err)
	}
	return affected(res)
}

// CreatePartialLead inserts a partial lead
func (r *ContactRepository) CreatePartialLead(ctx context.Context, p *models.PartialLead) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.CreatedAt = time.Now().UTC()
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO partial_leads (id, company_id, email, phone, converted_lead_id, converted_at, created_at)
		VALUES (:id, :company_id, :email, :phone, :converted_lead_id, :converted_at, :created_at)`, p)
	if err != nil {
		return fmt.Errorf("failed to create partial lead: %w", err)
	}
	return nil
}

// GetPartialLead returns a partial lead by ID
func (r *ContactRepository) GetPartialLead(ctx context.Context, id string) (*models.PartialLead, error) {
	p := &models.PartialLead{}
	found, err := r.get(ctx, p, `SELECT * FROM partial_leads WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get partial lead: %w", err)
	}
	if !found {
		return nil, nil
	}
	return p, nil
}

// ConvertPartialLead marks a partial lead as converted into leadID
func (r *ContactRepository) ConvertPartialLead(ctx context.Context, id, leadID string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE partial_leads SET converted_lead_id = ?, converted_at = ? WHERE id = ?`),
		leadID, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to convert partial lead: %w", err)
	}
	return nil
}
