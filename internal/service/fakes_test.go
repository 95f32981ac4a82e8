package service

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/nurpe/wasteops-pricing/internal/config"
	"github.com/nurpe/wasteops-pricing/internal/model"
	"github.com/nurpe/wasteops-pricing/internal/pricing"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func d(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func ptr[T any](v T) *T {
	return &v
}

func seedRuleSet(version int64, organicRate string) *pricing.RuleSet {
	return &pricing.RuleSet{
		Version:       version,
		EffectiveFrom: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Categories: map[string]pricing.CategoryRule{
			"Organic": {UnitRate: d(organicRate)},
			"Glass":   {UnitRate: d("200")},
		},
		ZoneSurcharges: []pricing.ZoneSurcharge{{Keyword: "colombo", Surcharge: d("200")}},
		DefaultUrgency: pricing.UrgencyPolicy{Kind: pricing.UrgencyMultiplier, Value: d("1.5")},
	}
}

type memoryRequestStore struct {
	mu        sync.Mutex
	requests  map[uuid.UUID]model.ServiceRequest
	sessions  map[uuid.UUID]string
	createErr error
	// beforeUpdate runs ahead of the conditional write in UpdatePricing.
	beforeUpdate func()
}

func newMemoryRequestStore() *memoryRequestStore {
	return &memoryRequestStore{
		requests: make(map[uuid.UUID]model.ServiceRequest),
		sessions: make(map[uuid.UUID]string),
	}
}

func (s *memoryRequestStore) Create(_ context.Context, req model.ServiceRequest, rec pricing.ReconciliationResult) (*model.ServiceRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	req.CanonicalAmount = rec.CanonicalAmount()
	req.RuleSetVersion = rec.Quote.RuleSetVersion
	req.DiscrepancyFlag = rec.DiscrepancyFlag
	req.SubmittedAmount = decimal.NullDecimal{}
	if rec.ClientAmount != nil {
		req.SubmittedAmount = decimal.NewNullDecimal(*rec.ClientAmount)
	}
	pricedAt := rec.ReconciledAt
	req.PricedAt = &pricedAt
	req.CreatedAt = testNow
	req.UpdatedAt = testNow
	s.requests[req.ID] = req
	return &req, nil
}

func (s *memoryRequestStore) Get(_ context.Context, id uuid.UUID) (*model.ServiceRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &req, nil
}

func (s *memoryRequestStore) List(_ context.Context, customerID *uuid.UUID) ([]model.ServiceRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ServiceRequest
	for _, req := range s.requests {
		if customerID == nil || req.CustomerID == *customerID {
			out = append(out, req)
		}
	}
	return out, nil
}

func (s *memoryRequestStore) UpdatePricing(_ context.Context, req model.ServiceRequest, rec pricing.ReconciliationResult, editable []model.RequestStatus) (*model.ServiceRequest, error) {
	if s.beforeUpdate != nil {
		s.beforeUpdate()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.requests[req.ID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	if !slices.Contains(editable, stored.Status) {
		return nil, fmt.Errorf("%w: %s", model.ErrRequestLocked, stored.Status)
	}
	req.Status = stored.Status
	req.CanonicalAmount = rec.CanonicalAmount()
	req.RuleSetVersion = rec.Quote.RuleSetVersion
	req.DiscrepancyFlag = rec.DiscrepancyFlag
	req.SubmittedAmount = decimal.NullDecimal{}
	if rec.ClientAmount != nil {
		req.SubmittedAmount = decimal.NewNullDecimal(*rec.ClientAmount)
	}
	req.PaymentSessionID = nil
	pricedAt := rec.ReconciledAt
	req.PricedAt = &pricedAt
	req.UpdatedAt = testNow
	s.requests[req.ID] = req
	return &req, nil
}

func (s *memoryRequestStore) SetPaymentSession(_ context.Context, id uuid.UUID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	req.PaymentSessionID = &sessionID
	s.requests[id] = req
	s.sessions[id] = sessionID
	return nil
}

func (s *memoryRequestStore) setStatus(id uuid.UUID, status model.RequestStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req := s.requests[id]
	req.Status = status
	s.requests[id] = req
}

type memoryAuditSink struct {
	mu      sync.Mutex
	records []pricing.MismatchRecord
}

func (s *memoryAuditSink) RecordMismatch(_ context.Context, record pricing.MismatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

type fakePaymentGateway struct {
	requests []model.PaymentSessionRequest
}

func (g *fakePaymentGateway) CreateSession(_ context.Context, req model.PaymentSessionRequest) (*model.PaymentSession, error) {
	g.requests = append(g.requests, req)
	return &model.PaymentSession{ID: "cs_test_1", URL: "https://checkout.example/cs_test_1"}, nil
}

type fakeDocumentGenerator struct {
	docs []model.QuoteDocument
}

func (g *fakeDocumentGenerator) Generate(doc model.QuoteDocument) ([]byte, error) {
	g.docs = append(g.docs, doc)
	return []byte("%PDF"), nil
}

type memoryRuleStore struct {
	sets []*pricing.RuleSet
}

func (s *memoryRuleStore) List(context.Context) ([]*pricing.RuleSet, error) {
	return append([]*pricing.RuleSet(nil), s.sets...), nil
}

func (s *memoryRuleStore) Insert(_ context.Context, set *pricing.RuleSet) error {
	for _, existing := range s.sets {
		if existing.Version == set.Version {
			return pricing.ErrVersionConflict
		}
	}
	copied := *set
	s.sets = append(s.sets, &copied)
	return nil
}

type testEnv struct {
	table    *pricing.RuleTable
	store    *memoryRequestStore
	audit    *memoryAuditSink
	payments *fakePaymentGateway
	docs     *fakeDocumentGenerator
	requests *RequestService
	rules    *RuleService
	ruleRepo *memoryRuleStore
}

func testConfig() *config.Config {
	return &config.Config{
		Pricing: config.PricingConfig{
			FallbackRate: d("50"),
			Epsilon:      d("0.01"),
			Currency:     "lkr",
		},
		Requests: config.RequestsConfig{EditableStatuses: []string{"PENDING", "SCHEDULED"}},
	}
}

func newTestEnv() *testEnv {
	table, err := pricing.NewRuleTable(d("50"), seedRuleSet(1, "150"))
	if err != nil {
		panic(err)
	}
	env := &testEnv{
		table:    table,
		store:    newMemoryRequestStore(),
		audit:    &memoryAuditSink{},
		payments: &fakePaymentGateway{},
		docs:     &fakeDocumentGenerator{},
		ruleRepo: &memoryRuleStore{sets: []*pricing.RuleSet{seedRuleSet(1, "150")}},
	}

	computer := pricing.NewQuoteComputer(table, zerolog.Nop())
	guard := pricing.NewReconciliationGuard(computer, d("0.01"), zerolog.Nop(),
		pricing.WithAuditSink(env.audit),
		pricing.WithClock(func() time.Time { return testNow }),
	)
	env.requests = NewRequestService(env.store, computer, guard, env.payments, env.docs, testConfig(), zerolog.Nop())
	env.requests.now = func() time.Time { return testNow }
	env.rules = NewRuleService(env.ruleRepo, table, zerolog.Nop())
	return env
}

func customer() model.Principal {
	return model.Principal{UserID: uuid.New(), Role: model.RoleCustomer}
}

func admin() model.Principal {
	return model.Principal{UserID: uuid.New(), Role: model.RoleAdmin}
}
