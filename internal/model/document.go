package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type QuoteLine struct {
	Label  string
	Amount decimal.Decimal
}

type QuoteDocument struct {
	Request     ServiceRequest
	Currency    string
	UnitRate    decimal.Decimal
	Lines       []QuoteLine
	Total       decimal.Decimal
	GeneratedAt time.Time
}

type PaymentSessionRequest struct {
	ReferenceID string
	AmountMinor int64
	Currency    string
	Description string
	Metadata    map[string]string
}

type PaymentSession struct {
	ID  string
	URL string
}
