package db

// Migrations is the ordered schema, portable between sqlite3 and postgres
var Migrations = []string{
	migrationCompanies,
	migrationCompanySettings,
	migrationCustomers,
	migrationLeads,
	migrationPartialLeads,
	migrationWorkflows,
	migrationCampaigns,
	migrationContactLists,
	migrationCampaignContactLists,
	migrationContactListMembers,
	migrationExecutions,
	migrationCampaignExecutions,
	migrationSuppressions,
	migrationEmailTemplates,
	migrationSMSTemplates,
	migrationCallLogs,
	migrationIndexes,
}

const migrationCompanies = `
CREATE TABLE IF NOT EXISTS companies (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    email TEXT NOT NULL DEFAULT '',
    phone TEXT NOT NULL DEFAULT '',
    website TEXT NOT NULL DEFAULT '',
    logo_url TEXT NOT NULL DEFAULT ''
);
`

const migrationCompanySettings = `
CREATE TABLE IF NOT EXISTS company_settings (
    company_id TEXT PRIMARY KEY,
    business_hours TEXT,
    max_concurrent_calls INTEGER NOT NULL DEFAULT 0
);
`

const migrationCustomers = `
CREATE TABLE IF NOT EXISTS customers (
    id TEXT PRIMARY KEY,
    company_id TEXT NOT NULL,
    first_name TEXT NOT NULL DEFAULT '',
    last_name TEXT NOT NULL DEFAULT '',
    email TEXT NOT NULL DEFAULT '',
    phone TEXT NOT NULL DEFAULT '',
    address TEXT NOT NULL DEFAULT '',
    city TEXT NOT NULL DEFAULT '',
    state TEXT NOT NULL DEFAULT '',
    zip_code TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const migrationLeads = `
CREATE TABLE IF NOT EXISTS leads (
    id TEXT PRIMARY KEY,
    company_id TEXT NOT NULL,
    customer_id TEXT NOT NULL DEFAULT '',
    lead_status TEXT NOT NULL DEFAULT 'new',
    pest_type TEXT NOT NULL DEFAULT '',
    urgency TEXT NOT NULL DEFAULT '',
    home_size TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const migrationPartialLeads = `
CREATE TABLE IF NOT EXISTS partial_leads (
    id TEXT PRIMARY KEY,
    company_id TEXT NOT NULL,
    email TEXT NOT NULL DEFAULT '',
    phone TEXT NOT NULL DEFAULT '',
    converted_lead_id TEXT NOT NULL DEFAULT '',
    converted_at TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const migrationWorkflows = `
CREATE TABLE IF NOT EXISTS workflows (
    id TEXT PRIMARY KEY,
    company_id TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    steps TEXT NOT NULL DEFAULT '[]',
    cancel_on_statuses TEXT NOT NULL DEFAULT '[]',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const migrationCampaigns = `
CREATE TABLE IF NOT EXISTS campaigns (
    id TEXT PRIMARY KEY,
    company_id TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    workflow_id TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'draft',
    start_at TIMESTAMP,
    end_at TIMESTAMP,
    daily_limit INTEGER NOT NULL DEFAULT 0,
    batch_size INTEGER NOT NULL DEFAULT 10,
    batch_interval_minutes INTEGER NOT NULL DEFAULT 0,
    respect_business_hours BOOLEAN NOT NULL DEFAULT FALSE,
    sent_today INTEGER NOT NULL DEFAULT 0,
    current_batch INTEGER NOT NULL DEFAULT 0,
    current_day TEXT NOT NULL DEFAULT '',
    total_contacts INTEGER NOT NULL DEFAULT 0,
    processed_contacts INTEGER NOT NULL DEFAULT 0,
    successful_contacts INTEGER NOT NULL DEFAULT 0,
    failed_contacts INTEGER NOT NULL DEFAULT 0,
    deferred_contacts INTEGER NOT NULL DEFAULT 0,
    archived_at TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    completed_at TIMESTAMP
);
`

const migrationContactLists = `
CREATE TABLE IF NOT EXISTS contact_lists (
    id TEXT PRIMARY KEY,
    company_id TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const migrationCampaignContactLists = `
CREATE TABLE IF NOT EXISTS campaign_contact_lists (
    campaign_id TEXT NOT NULL,
    contact_list_id TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (campaign_id, contact_list_id)
);
`

const migrationContactListMembers = `
CREATE TABLE IF NOT EXISTS contact_list_members (
    id TEXT PRIMARY KEY,
    contact_list_id TEXT NOT NULL DEFAULT '',
    campaign_id TEXT NOT NULL DEFAULT '',
    customer_id TEXT NOT NULL DEFAULT '',
    lead_id TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'pending',
    execution_id TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    processed_at TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const migrationExecutions = `
CREATE TABLE IF NOT EXISTS executions (
    id TEXT PRIMARY KEY,
    workflow_id TEXT NOT NULL,
    company_id TEXT NOT NULL,
    campaign_id TEXT NOT NULL DEFAULT '',
    lead_id TEXT NOT NULL DEFAULT '',
    customer_id TEXT NOT NULL DEFAULT '',
    partial_lead_id TEXT NOT NULL DEFAULT '',
    trigger_type TEXT NOT NULL DEFAULT 'manual',
    status TEXT NOT NULL DEFAULT 'pending',
    current_step INTEGER NOT NULL DEFAULT 0,
    contact_data TEXT NOT NULL DEFAULT '{}',
    results TEXT NOT NULL DEFAULT '[]',
    cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
    cancel_reason TEXT NOT NULL DEFAULT '',
    cancelled_at_step INTEGER,
    error_message TEXT NOT NULL DEFAULT '',
    wake_at TIMESTAMP,
    sleep_step INTEGER,
    sleep_kind TEXT NOT NULL DEFAULT '',
    started_at TIMESTAMP,
    completed_at TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const migrationCampaignExecutions = `
CREATE TABLE IF NOT EXISTS campaign_executions (
    campaign_id TEXT NOT NULL,
    execution_id TEXT NOT NULL,
    customer_id TEXT NOT NULL DEFAULT '',
    lead_id TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'pending',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    completed_at TIMESTAMP,
    PRIMARY KEY (campaign_id, execution_id)
);
`

const migrationSuppressions = `
CREATE TABLE IF NOT EXISTS suppressions (
    id TEXT PRIMARY KEY,
    company_id TEXT NOT NULL,
    email TEXT NOT NULL DEFAULT '',
    phone TEXT NOT NULL DEFAULT '',
    communication_type TEXT NOT NULL DEFAULT 'all',
    reason TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const migrationEmailTemplates = `
CREATE TABLE IF NOT EXISTS email_templates (
    id TEXT PRIMARY KEY,
    company_id TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    subject TEXT NOT NULL DEFAULT '',
    html TEXT NOT NULL DEFAULT '',
    text TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const migrationSMSTemplates = `
CREATE TABLE IF NOT EXISTS sms_templates (
    id TEXT PRIMARY KEY,
    company_id TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    body TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const migrationCallLogs = `
CREATE TABLE IF NOT EXISTS call_logs (
    id TEXT PRIMARY KEY,
    company_id TEXT NOT NULL,
    execution_id TEXT NOT NULL DEFAULT '',
    lead_id TEXT NOT NULL DEFAULT '',
    customer_id TEXT NOT NULL DEFAULT '',
    phone TEXT NOT NULL DEFAULT '',
    call_type TEXT NOT NULL DEFAULT 'immediate',
    priority TEXT NOT NULL DEFAULT 'normal',
    status TEXT NOT NULL DEFAULT 'scheduled',
    provider_call_id TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    scheduled_for TIMESTAMP,
    started_at TIMESTAMP,
    ended_at TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const migrationIndexes = `
CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns(status);
CREATE INDEX IF NOT EXISTS idx_members_list ON contact_list_members(contact_list_id);
CREATE INDEX IF NOT EXISTS idx_members_campaign ON contact_list_members(campaign_id);
CREATE INDEX IF NOT EXISTS idx_members_execution ON contact_list_members(execution_id);
CREATE INDEX IF NOT EXISTS idx_executions_lead ON executions(lead_id, status);
CREATE INDEX IF NOT EXISTS idx_campaign_executions_execution ON campaign_executions(execution_id);
CREATE INDEX IF NOT EXISTS idx_suppressions_company ON suppressions(company_id);
`
