package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/nurpe/wasteops-pricing/internal/config"
	"github.com/nurpe/wasteops-pricing/internal/model"
	"github.com/nurpe/wasteops-pricing/internal/pricing"
)

type RequestStore interface {
	Create(ctx context.Context, req model.ServiceRequest, rec pricing.ReconciliationResult) (*model.ServiceRequest, error)
	Get(ctx context.Context, id uuid.UUID) (*model.ServiceRequest, error)
	List(ctx context.Context, customerID *uuid.UUID) ([]model.ServiceRequest, error)
	// UpdatePricing applies only while the stored status is one of editable and
	// returns model.ErrRequestLocked otherwise.
	UpdatePricing(ctx context.Context, req model.ServiceRequest, rec pricing.ReconciliationResult, editable []model.RequestStatus) (*model.ServiceRequest, error)
	SetPaymentSession(ctx context.Context, id uuid.UUID, sessionID string) error
}

type PaymentGateway interface {
	CreateSession(ctx context.Context, req model.PaymentSessionRequest) (*model.PaymentSession, error)
}

type QuoteDocumentGenerator interface {
	Generate(doc model.QuoteDocument) ([]byte, error)
}

type RequestService struct {
	store     RequestStore
	computer  *pricing.QuoteComputer
	guard     *pricing.ReconciliationGuard
	payments  PaymentGateway
	documents QuoteDocumentGenerator
	currency  string
	editable  map[model.RequestStatus]struct{}
	statuses  []model.RequestStatus
	now       func() time.Time
	previews  singleflight.Group
	log       zerolog.Logger
}

type QuoteInput struct {
	Category      string
	Quantity      float64
	CommunityType string
	Address       string
	Urgent        bool
}

type CreateRequestInput struct {
	QuoteInput
	SubmittedAmount *decimal.Decimal
	Principal       model.Principal
}

// UpdateRequestInput carries only the fields the client changed.
type UpdateRequestInput struct {
	ID              uuid.UUID
	Category        *string
	Quantity        *float64
	CommunityType   *string
	Address         *string
	Urgent          *bool
	SubmittedAmount *decimal.Decimal
	Principal       model.Principal
}

type RequestResult struct {
	Request        *model.ServiceRequest
	Reconciliation pricing.ReconciliationResult
}

type DocumentResult struct {
	FileName string
	Content  []byte
}

func NewRequestService(
	store RequestStore,
	computer *pricing.QuoteComputer,
	guard *pricing.ReconciliationGuard,
	payments PaymentGateway,
	documents QuoteDocumentGenerator,
	cfg *config.Config,
	log zerolog.Logger,
) *RequestService {
	editable := make(map[model.RequestStatus]struct{}, len(cfg.Requests.EditableStatuses))
	for _, status := range cfg.Requests.EditableStatuses {
		editable[model.RequestStatus(strings.ToUpper(strings.TrimSpace(status)))] = struct{}{}
	}
	statuses := make([]model.RequestStatus, 0, len(editable))
	for status := range editable {
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i] < statuses[j] })
	return &RequestService{
		store:     store,
		computer:  computer,
		guard:     guard,
		payments:  payments,
		documents: documents,
		currency:  cfg.Pricing.Currency,
		editable:  editable,
		statuses:  statuses,
		now:       time.Now,
		log:       log,
	}
}

// Preview computes a display-only quote. Identical concurrent previews share
// one computation; nothing is persisted.
func (s *RequestService) Preview(ctx context.Context, input QuoteInput) (pricing.QuoteComputation, error) {
	input = normalizeQuoteInput(input)
	if err := validateQuoteInput(input); err != nil {
		return pricing.QuoteComputation{}, err
	}

	value, err, _ := s.previews.Do(previewKey(input), func() (interface{}, error) {
		return s.computer.Compute(toQuoteRequest(input), s.now())
	})
	if err != nil {
		return pricing.QuoteComputation{}, err
	}
	return value.(pricing.QuoteComputation), nil
}

func (s *RequestService) Create(ctx context.Context, input CreateRequestInput) (*RequestResult, error) {
	if !(input.Principal.IsCustomer() || input.Principal.IsAdmin()) {
		return nil, ErrPermissionDenied
	}
	quote := normalizeQuoteInput(input.QuoteInput)
	if err := validateQuoteInput(quote); err != nil {
		return nil, err
	}

	req := model.ServiceRequest{
		ID:            uuid.New(),
		CustomerID:    input.Principal.UserID,
		Category:      quote.Category,
		Quantity:      quote.Quantity,
		CommunityType: quote.CommunityType,
		Address:       quote.Address,
		Urgent:        quote.Urgent,
		Status:        model.RequestStatusPending,
	}

	var saved *model.ServiceRequest
	rec, err := s.guard.ReconcileWith(ctx, pricing.Submission{
		RequestID:    req.ID,
		ActorID:      input.Principal.UserID,
		Operation:    "create",
		Request:      toQuoteRequest(quote),
		ClientAmount: input.SubmittedAmount,
		At:           s.now(),
	}, func(rec pricing.ReconciliationResult) error {
		var err error
		saved, err = s.store.Create(ctx, req, rec)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &RequestResult{Request: saved, Reconciliation: rec}, nil
}

// Update merges the changed fields into the stored request and always
// reconciles again before writing, whether or not the client sent an amount.
func (s *RequestService) Update(ctx context.Context, input UpdateRequestInput) (*RequestResult, error) {
	current, err := s.load(ctx, input.Principal, input.ID)
	if err != nil {
		return nil, err
	}
	if _, ok := s.editable[current.Status]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotEditable, current.Status)
	}

	quote := QuoteInput{
		Category:      current.Category,
		Quantity:      current.Quantity,
		CommunityType: current.CommunityType,
		Address:       current.Address,
		Urgent:        current.Urgent,
	}
	if input.Category != nil {
		quote.Category = *input.Category
	}
	if input.Quantity != nil {
		quote.Quantity = *input.Quantity
	}
	if input.CommunityType != nil {
		quote.CommunityType = *input.CommunityType
	}
	if input.Address != nil {
		quote.Address = *input.Address
	}
	if input.Urgent != nil {
		quote.Urgent = *input.Urgent
	}
	quote = normalizeQuoteInput(quote)
	if err := validateQuoteInput(quote); err != nil {
		return nil, err
	}

	updated := *current
	updated.Category = quote.Category
	updated.Quantity = quote.Quantity
	updated.CommunityType = quote.CommunityType
	updated.Address = quote.Address
	updated.Urgent = quote.Urgent

	// the status check above is advisory; the store re-checks it in the write
	var saved *model.ServiceRequest
	rec, err := s.guard.ReconcileWith(ctx, pricing.Submission{
		RequestID:    current.ID,
		ActorID:      input.Principal.UserID,
		Operation:    "update",
		Request:      toQuoteRequest(quote),
		ClientAmount: input.SubmittedAmount,
		At:           s.now(),
	}, func(rec pricing.ReconciliationResult) error {
		var err error
		saved, err = s.store.UpdatePricing(ctx, updated, rec, s.statuses)
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return nil, ErrNotFound
		case errors.Is(err, model.ErrRequestLocked):
			return nil, fmt.Errorf("%w: %v", ErrNotEditable, err)
		}
		return nil, err
	}
	return &RequestResult{Request: saved, Reconciliation: rec}, nil
}

func (s *RequestService) Get(ctx context.Context, principal model.Principal, id uuid.UUID) (*model.ServiceRequest, error) {
	return s.load(ctx, principal, id)
}

func (s *RequestService) List(ctx context.Context, principal model.Principal) ([]model.ServiceRequest, error) {
	switch {
	case principal.IsAdmin():
		return s.store.List(ctx, nil)
	case principal.IsCustomer():
		return s.store.List(ctx, &principal.UserID)
	default:
		return nil, ErrPermissionDenied
	}
}

// CreatePaymentSession opens a checkout for the stored canonical amount.
func (s *RequestService) CreatePaymentSession(ctx context.Context, principal model.Principal, id uuid.UUID) (*model.PaymentSession, error) {
	if s.payments == nil {
		return nil, ErrPaymentUnavailable
	}
	req, err := s.load(ctx, principal, id)
	if err != nil {
		return nil, err
	}
	if req.Status == model.RequestStatusPaid || req.Status == model.RequestStatusCancelled {
		return nil, fmt.Errorf("%w: %s", ErrNotEditable, req.Status)
	}
	if !req.CanonicalAmount.IsPositive() {
		return nil, fmt.Errorf("%w: nothing to charge", ErrInvalidInput)
	}

	amount := req.CanonicalAmount.Round(pricing.MinorUnitPlaces)
	session, err := s.payments.CreateSession(ctx, model.PaymentSessionRequest{
		ReferenceID: fmt.Sprintf("%s-v%d-%s", req.ID, req.RuleSetVersion, amount.StringFixed(pricing.MinorUnitPlaces)),
		AmountMinor: amount.Shift(pricing.MinorUnitPlaces).IntPart(),
		Currency:    s.currency,
		Description: fmt.Sprintf("%s waste collection, %s", req.Category, req.Address),
		Metadata: map[string]string{
			"request_id":       req.ID.String(),
			"customer_id":      req.CustomerID.String(),
			"rule_set_version": fmt.Sprint(req.RuleSetVersion),
		},
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.SetPaymentSession(ctx, req.ID, session.ID); err != nil {
		return nil, err
	}
	s.log.Info().
		Str("request_id", req.ID.String()).
		Str("session_id", session.ID).
		Str("amount", amount.StringFixed(pricing.MinorUnitPlaces)).
		Msg("payment session created")
	return session, nil
}

// QuoteDocument renders the stored request. The total is the stored canonical
// amount; the breakdown is recomputed at the time the request was priced and
// dropped if it no longer matches.
func (s *RequestService) QuoteDocument(ctx context.Context, principal model.Principal, id uuid.UUID) (*DocumentResult, error) {
	req, err := s.load(ctx, principal, id)
	if err != nil {
		return nil, err
	}

	doc := model.QuoteDocument{
		Request:     *req,
		Currency:    strings.ToUpper(s.currency),
		Total:       req.CanonicalAmount,
		GeneratedAt: s.now().UTC(),
	}

	pricedAt := req.UpdatedAt
	if req.PricedAt != nil && !req.PricedAt.IsZero() {
		pricedAt = *req.PricedAt
	}
	quote, err := s.computer.Compute(pricing.QuoteRequest{
		Category:      req.Category,
		Quantity:      req.Quantity,
		CommunityType: req.CommunityType,
		Address:       req.Address,
		Urgent:        req.Urgent,
	}, pricedAt)
	if err == nil && quote.RuleSetVersion == req.RuleSetVersion && quote.FinalAmount.Equal(req.CanonicalAmount) {
		doc.UnitRate = quote.UnitRate
		doc.Lines = breakdownLines(quote)
	} else {
		s.log.Warn().Err(err).Str("request_id", req.ID.String()).Msg("quote breakdown unavailable, rendering total only")
		doc.Lines = []model.QuoteLine{{Label: "Collection service", Amount: req.CanonicalAmount}}
	}

	content, err := s.documents.Generate(doc)
	if err != nil {
		return nil, err
	}
	return &DocumentResult{
		FileName: fmt.Sprintf("quote-%s.pdf", req.ID),
		Content:  content,
	}, nil
}

func (s *RequestService) load(ctx context.Context, principal model.Principal, id uuid.UUID) (*model.ServiceRequest, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	req, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !principal.CanAccess(*req) {
		return nil, ErrPermissionDenied
	}
	return req, nil
}

func breakdownLines(quote pricing.QuoteComputation) []model.QuoteLine {
	lines := []model.QuoteLine{{
		Label:  fmt.Sprintf("%s x %s", quote.Category, quote.Quantity.String()),
		Amount: quote.BaseAmount,
	}}
	if !quote.ZoneSurcharge.IsZero() {
		lines = append(lines, model.QuoteLine{Label: fmt.Sprintf("Zone surcharge (%s)", quote.ZoneKeyword), Amount: quote.ZoneSurcharge})
	}
	if !quote.DistanceAdjustment.IsZero() {
		lines = append(lines, model.QuoteLine{Label: "Distance adjustment", Amount: quote.DistanceAdjustment})
	}
	if !quote.UrgencyAdjustment.IsZero() {
		lines = append(lines, model.QuoteLine{Label: "Urgent service", Amount: quote.UrgencyAdjustment})
	}
	return lines
}

func normalizeQuoteInput(input QuoteInput) QuoteInput {
	input.Category = strings.TrimSpace(input.Category)
	input.CommunityType = strings.TrimSpace(input.CommunityType)
	input.Address = strings.TrimSpace(input.Address)
	return input
}

// validateQuoteInput checks the text fields. Quantity is validated by the
// pricing engine so both paths reject it the same way.
func validateQuoteInput(input QuoteInput) error {
	if input.Category == "" {
		return fmt.Errorf("%w: category is required", ErrInvalidInput)
	}
	if input.Address == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidInput)
	}
	if _, err := pricing.ValidateQuantity(input.Quantity); err != nil {
		return err
	}
	return nil
}

func toQuoteRequest(input QuoteInput) pricing.QuoteRequest {
	return pricing.QuoteRequest{
		Category:      input.Category,
		Quantity:      input.Quantity,
		CommunityType: input.CommunityType,
		Address:       input.Address,
		Urgent:        input.Urgent,
	}
}

func previewKey(input QuoteInput) string {
	return fmt.Sprintf("%s|%v|%s|%s|%t",
		strings.ToLower(input.Category),
		input.Quantity,
		strings.ToLower(input.CommunityType),
		input.Address,
		input.Urgent,
	)
}
