package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/nurpe/wasteops-pricing/internal/model"
	"github.com/nurpe/wasteops-pricing/internal/pricing"
)

const requestColumns = `
	id,
	customer_id,
	category,
	quantity,
	community_type,
	address,
	urgent,
	status,
	submitted_amount,
	canonical_amount,
	rule_set_version,
	discrepancy_flag,
	payment_session_id,
	priced_at,
	created_at,
	updated_at
`

type RequestRepository struct {
	db *gorm.DB
}

func NewRequestRepository(db *gorm.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create persists a request. The stored amount is always taken from the
// reconciliation result; req.CanonicalAmount is ignored.
func (r *RequestRepository) Create(ctx context.Context, req model.ServiceRequest, rec pricing.ReconciliationResult) (*model.ServiceRequest, error) {
	var saved model.ServiceRequest
	err := r.db.WithContext(ctx).Raw(`
		INSERT INTO service_requests (
			id,
			customer_id,
			category,
			quantity,
			community_type,
			address,
			urgent,
			status,
			submitted_amount,
			canonical_amount,
			rule_set_version,
			discrepancy_flag,
			priced_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING `+requestColumns,
		req.ID,
		req.CustomerID,
		req.Category,
		req.Quantity,
		req.CommunityType,
		req.Address,
		req.Urgent,
		req.Status,
		submittedAmount(rec),
		rec.CanonicalAmount(),
		rec.Quote.RuleSetVersion,
		rec.DiscrepancyFlag,
		rec.ReconciledAt.UTC(),
	).Scan(&saved).Error
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

func (r *RequestRepository) Get(ctx context.Context, id uuid.UUID) (*model.ServiceRequest, error) {
	var req model.ServiceRequest
	err := r.db.WithContext(ctx).Raw(`
		SELECT `+requestColumns+`
		FROM service_requests
		WHERE id = ?
		LIMIT 1
	`, id).Scan(&req).Error
	if err != nil {
		return nil, err
	}
	if req.ID == uuid.Nil {
		return nil, gorm.ErrRecordNotFound
	}
	return &req, nil
}

func (r *RequestRepository) List(ctx context.Context, customerID *uuid.UUID) ([]model.ServiceRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM service_requests`
	var args []interface{}
	if customerID != nil {
		query += ` WHERE customer_id = ?`
		args = append(args, *customerID)
	}
	query += ` ORDER BY created_at DESC`

	var rows []model.ServiceRequest
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// UpdatePricing rewrites the amount-determining fields together with the
// amount reconciled from them. The write only applies while the stored status
// is one of editable; otherwise model.ErrRequestLocked is returned and the row
// is left untouched.
func (r *RequestRepository) UpdatePricing(ctx context.Context, req model.ServiceRequest, rec pricing.ReconciliationResult, editable []model.RequestStatus) (*model.ServiceRequest, error) {
	if len(editable) == 0 {
		return nil, fmt.Errorf("%w: no editable statuses", model.ErrRequestLocked)
	}
	statuses := make([]string, 0, len(editable))
	for _, status := range editable {
		statuses = append(statuses, string(status))
	}

	var saved model.ServiceRequest
	err := r.db.WithContext(ctx).Raw(`
		UPDATE service_requests
		SET
			category = ?,
			quantity = ?,
			community_type = ?,
			address = ?,
			urgent = ?,
			submitted_amount = ?,
			canonical_amount = ?,
			rule_set_version = ?,
			discrepancy_flag = ?,
			priced_at = ?,
			payment_session_id = NULL,
			updated_at = NOW()
		WHERE id = ?
			AND status::text IN ?
		RETURNING `+requestColumns,
		req.Category,
		req.Quantity,
		req.CommunityType,
		req.Address,
		req.Urgent,
		submittedAmount(rec),
		rec.CanonicalAmount(),
		rec.Quote.RuleSetVersion,
		rec.DiscrepancyFlag,
		rec.ReconciledAt.UTC(),
		req.ID,
		statuses,
	).Scan(&saved).Error
	if err != nil {
		return nil, err
	}
	if saved.ID != uuid.Nil {
		return &saved, nil
	}

	current, err := r.Get(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s", model.ErrRequestLocked, current.Status)
}

func (r *RequestRepository) SetPaymentSession(ctx context.Context, id uuid.UUID, sessionID string) error {
	result := r.db.WithContext(ctx).Exec(`
		UPDATE service_requests
		SET payment_session_id = ?, updated_at = NOW()
		WHERE id = ?
	`, sessionID, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func submittedAmount(rec pricing.ReconciliationResult) decimal.NullDecimal {
	if rec.ClientAmount == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *rec.ClientAmount, Valid: true}
}
