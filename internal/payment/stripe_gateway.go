package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"

	"github.com/nurpe/wasteops-pricing/internal/config"
	"github.com/nurpe/wasteops-pricing/internal/model"
)

var (
	ErrInvalidAmount = errors.New("payment amount must be positive")
	ErrRejected      = errors.New("payment provider rejected the request")
	ErrProviderDown  = errors.New("payment provider unavailable")
)

// StripeGateway opens hosted checkout sessions for a fixed, already reconciled amount.
type StripeGateway struct {
	client     *client.API
	successURL string
	cancelURL  string
}

func NewStripeGateway(cfg config.StripeConfig) *StripeGateway {
	return NewStripeGatewayWithBackends(cfg, nil)
}

// NewStripeGatewayWithBackends is NewStripeGateway with explicit API backends.
// A nil backends value uses Stripe's defaults.
func NewStripeGatewayWithBackends(cfg config.StripeConfig, backends *stripe.Backends) *StripeGateway {
	sc := &client.API{}
	sc.Init(cfg.SecretKey, backends)
	return &StripeGateway{client: sc, successURL: cfg.SuccessURL, cancelURL: cfg.CancelURL}
}

func (g *StripeGateway) CreateSession(ctx context.Context, req model.PaymentSessionRequest) (*model.PaymentSession, error) {
	if req.AmountMinor <= 0 {
		return nil, ErrInvalidAmount
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(g.successURL),
		CancelURL:         stripe.String(g.cancelURL),
		ClientReferenceID: stripe.String(req.Metadata["request_id"]),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(req.Currency),
				UnitAmount: stripe.Int64(req.AmountMinor),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.Description),
				},
			},
		}},
	}
	if req.ReferenceID != "" {
		params.IdempotencyKey = stripe.String(g.idempotencyKey(req))
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	session, err := g.client.CheckoutSessions.New(params)
	if err != nil {
		return nil, g.mapStripeError(err)
	}
	return &model.PaymentSession{ID: session.ID, URL: session.URL}, nil
}

// idempotencyKey is the reference followed by a digest of every parameter
// sent to Stripe, so a retry reuses the session and any changed field opens
// a new one instead of colliding with the earlier key.
func (g *StripeGateway) idempotencyKey(req model.PaymentSessionRequest) string {
	keys := make([]string, 0, len(req.Metadata))
	for k := range req.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	fields := []string{
		strconv.FormatInt(req.AmountMinor, 10),
		strings.ToLower(req.Currency),
		req.Description,
		g.successURL,
		g.cancelURL,
	}
	for _, k := range keys {
		fields = append(fields, k+"="+req.Metadata[k])
	}
	for _, field := range fields {
		h.Write([]byte(field))
		h.Write([]byte{0})
	}
	return req.ReferenceID + "-" + hex.EncodeToString(h.Sum(nil))[:16]
}

func (g *StripeGateway) mapStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %s", ErrProviderDown, stripeErr.Msg)
		}
		if stripeErr.Code == stripe.ErrorCodeIdempotencyKeyInUse {
			return fmt.Errorf("%w: idempotency key in use", ErrRejected)
		}
		return fmt.Errorf("%w: %s", ErrRejected, stripeErr.Msg)
	}
	return fmt.Errorf("stripe checkout: %w", err)
}
