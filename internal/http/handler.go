package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/nurpe/wasteops-pricing/internal/http/middleware"
	"github.com/nurpe/wasteops-pricing/internal/model"
	"github.com/nurpe/wasteops-pricing/internal/payment"
	"github.com/nurpe/wasteops-pricing/internal/pricing"
	"github.com/nurpe/wasteops-pricing/internal/service"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	requests *service.RequestService
	rules    *service.RuleService
	audits   *service.AuditService
	log      zerolog.Logger
}

func NewHandler(requests *service.RequestService, rules *service.RuleService, audits *service.AuditService, log zerolog.Logger) *Handler {
	return &Handler{requests: requests, rules: rules, audits: audits, log: log}
}

func (h *Handler) Register(router *gin.Engine, authMiddleware gin.HandlerFunc) {
	protected := router.Group("/")
	protected.Use(authMiddleware)

	protected.POST("/quotes/preview", h.previewQuote)

	protected.POST("/requests", h.createRequest)
	protected.GET("/requests", h.listRequests)
	protected.GET("/requests/:id", h.getRequest)
	protected.PATCH("/requests/:id", h.updateRequest)
	protected.POST("/requests/:id/payment-session", h.createPaymentSession)
	protected.GET("/requests/:id/quote.pdf", h.quotePDF)

	admin := protected.Group("/admin")
	admin.GET("/rule-sets", h.listRuleSets)
	admin.POST("/rule-sets", h.publishRuleSet)
	admin.GET("/reconciliations/export", h.exportReconciliations)
}

type quoteRequest struct {
	Category      string  `json:"category" binding:"required"`
	Quantity      float64 `json:"quantity"`
	CommunityType string  `json:"community_type"`
	Address       string  `json:"address" binding:"required"`
	Urgent        bool    `json:"urgent"`
}

func (r quoteRequest) toInput() service.QuoteInput {
	return service.QuoteInput{
		Category:      r.Category,
		Quantity:      r.Quantity,
		CommunityType: r.CommunityType,
		Address:       r.Address,
		Urgent:        r.Urgent,
	}
}

type createRequestRequest struct {
	quoteRequest
	SubmittedAmount *decimal.Decimal `json:"submitted_amount"`
}

type updateRequestRequest struct {
	Category        *string          `json:"category"`
	Quantity        *float64         `json:"quantity"`
	CommunityType   *string          `json:"community_type"`
	Address         *string          `json:"address"`
	Urgent          *bool            `json:"urgent"`
	SubmittedAmount *decimal.Decimal `json:"submitted_amount"`
}

type requestResponse struct {
	ID               uuid.UUID                 `json:"id"`
	CustomerID       uuid.UUID                 `json:"customer_id"`
	Category         string                    `json:"category"`
	Quantity         float64                   `json:"quantity"`
	CommunityType    string                    `json:"community_type,omitempty"`
	Address          string                    `json:"address"`
	Urgent           bool                      `json:"urgent"`
	Status           model.RequestStatus       `json:"status"`
	SubmittedAmount  decimal.NullDecimal       `json:"submitted_amount"`
	Amount           string                    `json:"amount"`
	RuleSetVersion   int64                     `json:"rule_set_version"`
	DiscrepancyFlag  bool                      `json:"discrepancy_flag"`
	PaymentSessionID *string                   `json:"payment_session_id,omitempty"`
	CreatedAt        time.Time                 `json:"created_at"`
	UpdatedAt        time.Time                 `json:"updated_at"`
	Quote            *pricing.QuoteComputation `json:"quote,omitempty"`
}

func toRequestResponse(req *model.ServiceRequest) requestResponse {
	return requestResponse{
		ID:               req.ID,
		CustomerID:       req.CustomerID,
		Category:         req.Category,
		Quantity:         req.Quantity,
		CommunityType:    req.CommunityType,
		Address:          req.Address,
		Urgent:           req.Urgent,
		Status:           req.Status,
		SubmittedAmount:  req.SubmittedAmount,
		Amount:           req.CanonicalAmount.StringFixed(pricing.MinorUnitPlaces),
		RuleSetVersion:   req.RuleSetVersion,
		DiscrepancyFlag:  req.DiscrepancyFlag,
		PaymentSessionID: req.PaymentSessionID,
		CreatedAt:        req.CreatedAt,
		UpdatedAt:        req.UpdatedAt,
	}
}

func toResultResponse(result *service.RequestResult) requestResponse {
	resp := toRequestResponse(result.Request)
	quote := result.Reconciliation.Quote
	resp.Quote = &quote
	return resp
}

func (h *Handler) previewQuote(c *gin.Context) {
	var req quoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	quote, err := h.requests.Preview(c.Request.Context(), req.toInput())
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"amount": quote.FinalAmount.StringFixed(pricing.MinorUnitPlaces),
		"quote":  quote,
	})
}

func (h *Handler) createRequest(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}

	var req createRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.requests.Create(c.Request.Context(), service.CreateRequestInput{
		QuoteInput:      req.toInput(),
		SubmittedAmount: req.SubmittedAmount,
		Principal:       principal,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": toResultResponse(result)})
}

func (h *Handler) listRequests(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}

	requests, err := h.requests.List(c.Request.Context(), principal)
	if err != nil {
		h.handleError(c, err)
		return
	}

	data := make([]requestResponse, 0, len(requests))
	for i := range requests {
		data = append(data, toRequestResponse(&requests[i]))
	}
	c.JSON(http.StatusOK, gin.H{"data": data})
}

func (h *Handler) getRequest(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}

	id, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	req, err := h.requests.Get(c.Request.Context(), principal, id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": toRequestResponse(req)})
}

func (h *Handler) updateRequest(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}

	id, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var req updateRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.requests.Update(c.Request.Context(), service.UpdateRequestInput{
		ID:              id,
		Category:        req.Category,
		Quantity:        req.Quantity,
		CommunityType:   req.CommunityType,
		Address:         req.Address,
		Urgent:          req.Urgent,
		SubmittedAmount: req.SubmittedAmount,
		Principal:       principal,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": toResultResponse(result)})
}

func (h *Handler) createPaymentSession(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}

	id, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	session, err := h.requests.CreatePaymentSession(c.Request.Context(), principal, id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": gin.H{"session_id": session.ID, "url": session.URL}})
}

func (h *Handler) quotePDF(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}

	id, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	result, err := h.requests.QuoteDocument(c.Request.Context(), principal, id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename=\""+result.FileName+"\"")
	c.Data(http.StatusOK, "application/pdf", result.Content)
}

func (h *Handler) listRuleSets(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}

	sets, err := h.rules.List(principal)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sets})
}

func (h *Handler) publishRuleSet(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}

	var set pricing.RuleSet
	if err := c.ShouldBindJSON(&set); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	published, err := h.rules.Publish(c.Request.Context(), principal, &set)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": published})
}

func (h *Handler) exportReconciliations(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}

	start, err := parseDate(c.Query("period_start"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid period_start"})
		return
	}

	end, err := parseDate(c.Query("period_end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid period_end"})
		return
	}

	result, err := h.audits.Export(c.Request.Context(), service.ExportAuditInput{
		PeriodStart: start,
		PeriodEnd:   end,
		Principal:   principal,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename=\""+result.FileName+"\"")
	c.Data(http.StatusOK, xlsxContentType, result.Content)
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, pricing.ErrInvalidQuantity):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotEditable), errors.Is(err, pricing.ErrVersionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, pricing.ErrRuleNotFound), errors.Is(err, service.ErrPaymentUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, payment.ErrRejected), errors.Is(err, payment.ErrInvalidAmount):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, payment.ErrProviderDown):
		h.log.Warn().Err(err).Str("path", c.FullPath()).Msg("payment provider unavailable")
		c.JSON(http.StatusBadGateway, gin.H{"error": payment.ErrProviderDown.Error()})
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func parseID(c *gin.Context) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(c.Param("id")))
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, service.ErrInvalidInput
	}
	layouts := []string{
		time.RFC3339,
		"2006-01-02",
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, service.ErrInvalidInput
}
