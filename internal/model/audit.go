package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ReconciliationAudit struct {
	ID             uuid.UUID
	RequestID      uuid.UUID
	ActorID        uuid.UUID
	Operation      string
	RuleSetVersion int64
	ClientAmount   decimal.Decimal
	ServerAmount   decimal.Decimal
	Difference     decimal.Decimal
	CreatedAt      time.Time
}

type AuditReport struct {
	PeriodStart time.Time
	PeriodEnd   time.Time
	Currency    string
	Entries     []ReconciliationAudit
}
