package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = 'service_request_status') THEN
			CREATE TYPE service_request_status AS ENUM ('PENDING', 'SCHEDULED', 'COLLECTED', 'PAID', 'CANCELLED');
		END IF;
	END
	$$;`,
	`CREATE TABLE IF NOT EXISTS pricing_rule_sets (
		version BIGINT PRIMARY KEY,
		effective_from TIMESTAMPTZ NOT NULL,
		effective_until TIMESTAMPTZ,
		payload JSONB NOT NULL,
		published_by TEXT,
		published_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE TABLE IF NOT EXISTS service_requests (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		customer_id UUID NOT NULL,
		category VARCHAR(64) NOT NULL,
		quantity DOUBLE PRECISION NOT NULL CHECK (quantity > 0),
		community_type VARCHAR(64) NOT NULL DEFAULT '',
		address TEXT NOT NULL,
		urgent BOOLEAN NOT NULL DEFAULT FALSE,
		status service_request_status NOT NULL DEFAULT 'PENDING',
		submitted_amount NUMERIC(18,2),
		canonical_amount NUMERIC(18,2) NOT NULL,
		rule_set_version BIGINT NOT NULL REFERENCES pricing_rule_sets(version),
		discrepancy_flag BOOLEAN NOT NULL DEFAULT FALSE,
		payment_session_id TEXT,
		priced_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`ALTER TABLE service_requests ADD COLUMN IF NOT EXISTS priced_at TIMESTAMPTZ;`,
	`CREATE INDEX IF NOT EXISTS idx_service_requests_customer_id ON service_requests (customer_id);`,
	`CREATE INDEX IF NOT EXISTS idx_service_requests_status ON service_requests (status);`,
	`CREATE TABLE IF NOT EXISTS reconciliation_audit (
		id UUID PRIMARY KEY,
		request_id UUID NOT NULL,
		actor_id UUID,
		operation VARCHAR(32) NOT NULL,
		rule_set_version BIGINT NOT NULL,
		client_amount NUMERIC(18,2) NOT NULL,
		server_amount NUMERIC(18,2) NOT NULL,
		difference NUMERIC(18,2) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_reconciliation_audit_created_at ON reconciliation_audit (created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_reconciliation_audit_request_id ON reconciliation_audit (request_id);`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
