package businesshours

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/foxzi/campaignd/internal/models"
)

// SettingsStore loads per-tenant settings
type SettingsStore interface {
	Get(ctx context.Context, companyID string) (*models.CompanySettings, error)
}

// Oracle resolves the business hours schedule of a tenant
type Oracle struct {
	settings SettingsStore
	defaults Hours
	fallback *Schedule
	logger   *slog.Logger
}

// NewOracle creates an oracle that falls back to defaults when a tenant
// has no stored hours
func NewOracle(settings SettingsStore, defaults Hours, logger *slog.Logger) (*Oracle, error) {
	fallback, err := New(defaults)
	if err != nil {
		return nil, fmt.Errorf("invalid default business hours: %w", err)
	}
	return &Oracle{
		settings: settings,
		defaults: defaults,
		fallback: fallback,
		logger:   logger.With("component", "businesshours"),
	}, nil
}

// For returns the tenant's schedule. Stored hours are overlaid on the
// defaults; invalid stored hours are logged and the defaults are used.
func (o *Oracle) For(ctx context.Context, companyID string) (*Schedule, error) {
	settings, err := o.settings.Get(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load company settings: %w", err)
	}
	if settings == nil || !settings.BusinessHours.Valid || len(settings.BusinessHours.JSONText) == 0 {
		return o.fallback, nil
	}

	h := o.defaults.clone()
	if err := json.Unmarshal(settings.BusinessHours.JSONText, &h); err != nil {
		o.logger.Warn("invalid business hours in company settings, using defaults",
			"company_id", companyID, "error", err)
		return o.fallback, nil
	}

	s, err := New(h)
	if err != nil {
		o.logger.Warn("invalid business hours in company settings, using defaults",
			"company_id", companyID, "error", err)
		return o.fallback, nil
	}
	return s, nil
}
