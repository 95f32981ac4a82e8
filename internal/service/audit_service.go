package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nurpe/wasteops-pricing/internal/config"
	"github.com/nurpe/wasteops-pricing/internal/model"
)

type AuditStore interface {
	ListBetween(ctx context.Context, from, to time.Time) ([]model.ReconciliationAudit, error)
}

type AuditExporter interface {
	Generate(report model.AuditReport) ([]byte, error)
}

type AuditService struct {
	store    AuditStore
	excel    AuditExporter
	currency string
}

type ExportAuditInput struct {
	PeriodStart time.Time
	PeriodEnd   time.Time
	Principal   model.Principal
}

func NewAuditService(store AuditStore, excel AuditExporter, cfg *config.Config) *AuditService {
	return &AuditService{store: store, excel: excel, currency: cfg.Pricing.Currency}
}

func (s *AuditService) Export(ctx context.Context, input ExportAuditInput) (*DocumentResult, error) {
	if !input.Principal.IsAdmin() {
		return nil, ErrPermissionDenied
	}
	if input.PeriodStart.IsZero() || input.PeriodEnd.IsZero() {
		return nil, fmt.Errorf("%w: period dates are required", ErrInvalidInput)
	}

	periodStart := dateOnly(input.PeriodStart)
	periodEnd := dateOnly(input.PeriodEnd)
	if periodStart.After(periodEnd) {
		return nil, fmt.Errorf("%w: period_start must be before or equal to period_end", ErrInvalidInput)
	}

	entries, err := s.store.ListBetween(ctx, periodStart, periodEnd.Add(24*time.Hour))
	if err != nil {
		return nil, err
	}

	report := model.AuditReport{
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Currency:    strings.ToUpper(s.currency),
		Entries:     entries,
	}
	content, err := s.excel.Generate(report)
	if err != nil {
		return nil, err
	}

	return &DocumentResult{
		FileName: fmt.Sprintf("reconciliation-audit-%s-%s.xlsx", periodStart.Format("20060102"), periodEnd.Format("20060102")),
		Content:  content,
	}, nil
}

func dateOnly(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
