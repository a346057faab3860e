package db

import (
	"path/filepath"
	"testing"

	"github.com/foxzi/campaignd/internal/config"
)

func TestOpenAndMigrate(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DatabaseConfig{
		Driver: "sqlite3",
		DSN:    filepath.Join(dir, "nested", "campaignd.db"),
	}

	db, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	// Migrations are re-runnable
	if err := Migrate(db); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}

	tables := []string{
		"companies", "company_settings", "campaigns", "contact_list_members",
		"workflows", "executions", "campaign_executions", "suppressions",
		"email_templates", "sms_templates", "call_logs",
	}
	for _, table := range tables {
		var n int
		if err := db.Get(&n, "SELECT COUNT(*) FROM "+table); err != nil {
			t.Errorf("table %s: %v", table, err)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "nope", DSN: "x"})
	if err == nil {
		t.Error("expected error for unknown driver")
	}
}
