package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nurpe/wasteops-pricing/internal/config"
	"github.com/nurpe/wasteops-pricing/internal/http/middleware"
	"github.com/nurpe/wasteops-pricing/internal/model"
	"github.com/nurpe/wasteops-pricing/internal/payment"
	"github.com/nurpe/wasteops-pricing/internal/pricing"
	"github.com/nurpe/wasteops-pricing/internal/service"
)

type tokenTable map[string]model.Principal

func (t tokenTable) Parse(token string) (model.Principal, error) {
	principal, ok := t[token]
	if !ok {
		return model.Principal{}, errors.New("unknown token")
	}
	return principal, nil
}

type requestStore struct {
	mu       sync.Mutex
	requests map[uuid.UUID]model.ServiceRequest
}

func (s *requestStore) save(req model.ServiceRequest, rec pricing.ReconciliationResult) *model.ServiceRequest {
	req.CanonicalAmount = rec.CanonicalAmount()
	req.RuleSetVersion = rec.Quote.RuleSetVersion
	req.DiscrepancyFlag = rec.DiscrepancyFlag
	req.SubmittedAmount = decimal.NullDecimal{}
	if rec.ClientAmount != nil {
		req.SubmittedAmount = decimal.NewNullDecimal(*rec.ClientAmount)
	}
	s.requests[req.ID] = req
	return &req
}

func (s *requestStore) Create(_ context.Context, req model.ServiceRequest, rec pricing.ReconciliationResult) (*model.ServiceRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(req, rec), nil
}

func (s *requestStore) Get(_ context.Context, id uuid.UUID) (*model.ServiceRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &req, nil
}

func (s *requestStore) List(_ context.Context, customerID *uuid.UUID) ([]model.ServiceRequest, error) {
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

func (s *requestStore) UpdatePricing(_ context.Context, req model.ServiceRequest, rec pricing.ReconciliationResult, editable []model.RequestStatus) (*model.ServiceRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.requests[req.ID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	if !slices.Contains(editable, stored.Status) {
		return nil, fmt.Errorf("%w: %s", model.ErrRequestLocked, stored.Status)
	}
	return s.save(req, rec), nil
}

func (s *requestStore) SetPaymentSession(context.Context, uuid.UUID, string) error {
	return nil
}

type failingGateway struct {
	err error
}

func (g failingGateway) CreateSession(context.Context, model.PaymentSessionRequest) (*model.PaymentSession, error) {
	return nil, g.err
}

type ruleStore struct{}

func (ruleStore) List(context.Context) ([]*pricing.RuleSet, error) { return nil, nil }
func (ruleStore) Insert(context.Context, *pricing.RuleSet) error    { return nil }

type auditStore struct{}

func (auditStore) ListBetween(context.Context, time.Time, time.Time) ([]model.ReconciliationAudit, error) {
	return nil, nil
}

type stubExporter struct{}

func (stubExporter) Generate(model.AuditReport) ([]byte, error) { return []byte("xlsx"), nil }

type testServer struct {
	router   *gin.Engine
	customer model.Principal
	admin    model.Principal
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithPayments(t, nil)
}

func newTestServerWithPayments(t *testing.T, payments service.PaymentGateway) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	table, err := pricing.NewRuleTable(decimal.NewFromInt(50), &pricing.RuleSet{
		Version:        1,
		EffectiveFrom:  time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		Categories:     map[string]pricing.CategoryRule{"Organic": {UnitRate: decimal.NewFromInt(150)}},
		ZoneSurcharges: []pricing.ZoneSurcharge{{Keyword: "colombo", Surcharge: decimal.NewFromInt(200)}},
		DefaultUrgency: pricing.UrgencyPolicy{Kind: pricing.UrgencyMultiplier, Value: decimal.RequireFromString("1.5")},
	})
	require.NoError(t, err)

	cfg := &config.Config{
		Pricing:  config.PricingConfig{FallbackRate: decimal.NewFromInt(50), Epsilon: decimal.RequireFromString("0.01"), Currency: "lkr"},
		Requests: config.RequestsConfig{EditableStatuses: []string{"PENDING"}},
	}
	log := zerolog.Nop()
	computer := pricing.NewQuoteComputer(table, log)
	guard := pricing.NewReconciliationGuard(computer, cfg.Pricing.Epsilon, log)

	requests := service.NewRequestService(&requestStore{requests: map[uuid.UUID]model.ServiceRequest{}}, computer, guard, payments, nil, cfg, log)
	rules := service.NewRuleService(ruleStore{}, table, log)
	audits := service.NewAuditService(auditStore{}, stubExporter{}, cfg)

	srv := &testServer{
		customer: model.Principal{UserID: uuid.New(), Role: model.RoleCustomer},
		admin:    model.Principal{UserID: uuid.New(), Role: model.RoleAdmin},
	}
	tokens := tokenTable{"customer-token": srv.customer, "admin-token": srv.admin}
	srv.router = NewRouter(NewHandler(requests, rules, audits, log), middleware.Auth(tokens), "test", []string{"*"}, log)
	return srv
}

func (s *testServer) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var payload bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&payload).Encode(body)
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

type requestEnvelope struct {
	Data struct {
		ID              uuid.UUID `json:"id"`
		Amount          string    `json:"amount"`
		DiscrepancyFlag bool      `json:"discrepancy_flag"`
		RuleSetVersion  int64     `json:"rule_set_version"`
	} `json:"data"`
}

func TestCreateRequestStoresServerAmount(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(http.MethodPost, "/requests", "customer-token", map[string]interface{}{
		"category":         "Organic",
		"quantity":         10,
		"address":          "123 Main St",
		"submitted_amount": "0",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created requestEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "1500.00", created.Data.Amount)
	assert.True(t, created.Data.DiscrepancyFlag)
	assert.Equal(t, int64(1), created.Data.RuleSetVersion)

	rec = srv.do(http.MethodGet, "/requests/"+created.Data.ID.String(), "customer-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var fetched requestEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	assert.Equal(t, "1500.00", fetched.Data.Amount)

	rec = srv.do(http.MethodPatch, "/requests/"+created.Data.ID.String(), "customer-token", map[string]interface{}{"urgent": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated requestEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "2250.00", updated.Data.Amount)
	assert.False(t, updated.Data.DiscrepancyFlag)
}

func TestPreviewQuote(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(http.MethodPost, "/quotes/preview", "customer-token", map[string]interface{}{
		"category": "Organic",
		"quantity": 2,
		"address":  "Colombo 7",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Amount string                   `json:"amount"`
		Quote  pricing.QuoteComputation `json:"quote"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "500.00", body.Amount)
	assert.Equal(t, "colombo", body.Quote.ZoneKeyword)
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t)

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		body   interface{}
		status int
	}{
		{name: "no token", method: http.MethodGet, path: "/requests", status: http.StatusUnauthorized},
		{name: "zero quantity", method: http.MethodPost, path: "/requests", token: "customer-token",
			body: map[string]interface{}{"category": "Organic", "quantity": 0, "address": "x"}, status: http.StatusBadRequest},
		{name: "missing category", method: http.MethodPost, path: "/quotes/preview", token: "customer-token",
			body: map[string]interface{}{"quantity": 1, "address": "x"}, status: http.StatusBadRequest},
		{name: "bad id", method: http.MethodGet, path: "/requests/nope", token: "customer-token", status: http.StatusBadRequest},
		{name: "unknown request", method: http.MethodGet, path: "/requests/" + uuid.NewString(), token: "customer-token", status: http.StatusNotFound},
		{name: "payments disabled", method: http.MethodPost, path: "/requests/" + uuid.NewString() + "/payment-session", token: "customer-token", status: http.StatusServiceUnavailable},
		{name: "rule sets admin only", method: http.MethodGet, path: "/admin/rule-sets", token: "customer-token", status: http.StatusForbidden},
		{name: "stale rule set", method: http.MethodPost, path: "/admin/rule-sets", token: "admin-token",
			body: map[string]interface{}{
				"version":         1,
				"effective_from":  "2026-01-01T00:00:00Z",
				"categories":      map[string]interface{}{"organic": map[string]interface{}{"unit_rate": "160"}},
				"default_urgency": map[string]interface{}{"kind": "multiplier", "value": "1.5"},
			}, status: http.StatusConflict},
		{name: "export without period", method: http.MethodGet, path: "/admin/reconciliations/export", token: "admin-token", status: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := srv.do(tc.method, tc.path, tc.token, tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
}

func TestPaymentProviderErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "rejected", err: fmt.Errorf("%w: Invalid currency", payment.ErrRejected), status: http.StatusUnprocessableEntity},
		{name: "invalid amount", err: payment.ErrInvalidAmount, status: http.StatusUnprocessableEntity},
		{name: "provider down", err: fmt.Errorf("%w: api_error", payment.ErrProviderDown), status: http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServerWithPayments(t, failingGateway{err: tc.err})

			rec := srv.do(http.MethodPost, "/requests", "customer-token", map[string]interface{}{
				"category": "Organic",
				"quantity": 2,
				"address":  "123 Main St",
			})
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
			var created requestEnvelope
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

			rec = srv.do(http.MethodPost, "/requests/"+created.Data.ID.String()+"/payment-session", "customer-token", nil)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.NotContains(t, rec.Body.String(), "internal error")
		})
	}
}

func TestPublishRuleSetAndExport(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(http.MethodPost, "/admin/rule-sets", "admin-token", map[string]interface{}{
		"effective_from":  "2021-01-01T00:00:00Z",
		"categories":      map[string]interface{}{"organic": map[string]interface{}{"unit_rate": "160"}},
		"default_urgency": map[string]interface{}{"kind": "flat", "value": "300"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var published struct {
		Data pricing.RuleSet `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &published))
	assert.Equal(t, int64(2), published.Data.Version)
	assert.Equal(t, srv.admin.UserID.String(), published.Data.PublishedBy)

	rec = srv.do(http.MethodPost, "/quotes/preview", "customer-token", map[string]interface{}{
		"category": "organic",
		"quantity": 1,
		"address":  "Main St",
		"urgent":   true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"amount":"460.00"`)

	rec = srv.do(http.MethodGet, "/admin/reconciliations/export?period_start=2026-03-01&period_end=2026-03-31", "admin-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "reconciliation-audit-20260301-20260331.xlsx")
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
