package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/nurpe/wasteops-pricing/internal/model"
	"github.com/nurpe/wasteops-pricing/internal/pricing"
)

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) RecordMismatch(ctx context.Context, record pricing.MismatchRecord) error {
	return r.db.WithContext(ctx).Exec(`
		INSERT INTO reconciliation_audit (
			id,
			request_id,
			actor_id,
			operation,
			rule_set_version,
			client_amount,
			server_amount,
			difference,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID,
		record.RequestID,
		record.ActorID,
		record.Operation,
		record.RuleSetVersion,
		record.ClientAmount,
		record.ServerAmount,
		record.Difference,
		record.CreatedAt,
	).Error
}

func (r *AuditRepository) ListBetween(ctx context.Context, from, to time.Time) ([]model.ReconciliationAudit, error) {
	var rows []model.ReconciliationAudit
	if err := r.db.WithContext(ctx).Raw(`
		SELECT
			id,
			request_id,
			actor_id,
			operation,
			rule_set_version,
			client_amount,
			server_amount,
			difference,
			created_at
		FROM reconciliation_audit
		WHERE created_at >= ?
			AND created_at < ?
		ORDER BY created_at ASC
	`, from, to).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
