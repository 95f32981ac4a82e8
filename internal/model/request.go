package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "PENDING"
	RequestStatusScheduled RequestStatus = "SCHEDULED"
	RequestStatusCollected RequestStatus = "COLLECTED"
	RequestStatusPaid      RequestStatus = "PAID"
	RequestStatusCancelled RequestStatus = "CANCELLED"
)

// ErrRequestLocked is returned by stores when a conditional pricing update
// finds the request outside the editable statuses.
var ErrRequestLocked = errors.New("request status no longer allows repricing")

// ServiceRequest is a persisted collection request. CanonicalAmount is only
// ever written from a reconciliation result; SubmittedAmount is advisory.
type ServiceRequest struct {
	ID               uuid.UUID
	CustomerID       uuid.UUID
	Category         string
	Quantity         float64
	CommunityType    string
	Address          string
	Urgent           bool
	Status           RequestStatus
	SubmittedAmount  decimal.NullDecimal
	CanonicalAmount  decimal.Decimal
	RuleSetVersion   int64
	DiscrepancyFlag  bool
	PaymentSessionID *string
	PricedAt         *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
