package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type Stage string

const (
	StageDraft      Stage = "DRAFT"
	StageQuoted     Stage = "QUOTED"
	StageSubmitted  Stage = "SUBMITTED"
	StageReconciled Stage = "RECONCILED"
	StageAccepted   Stage = "ACCEPTED"
)

var allowedTransitions = map[Stage][]Stage{
	StageDraft:      {StageQuoted, StageSubmitted},
	StageQuoted:     {StageQuoted, StageSubmitted},
	StageSubmitted:  {StageReconciled},
	StageReconciled: {StageAccepted},
}

// Lifecycle tracks one submit or update call. There is no rejected state:
// a price mismatch only decides which amount is trusted.
type Lifecycle struct {
	stage Stage
	trail []Stage
}

func NewLifecycle() *Lifecycle {
	return &Lifecycle{stage: StageDraft, trail: []Stage{StageDraft}}
}

func (l *Lifecycle) Stage() Stage {
	return l.stage
}

func (l *Lifecycle) Trail() []Stage {
	return append([]Stage(nil), l.trail...)
}

func (l *Lifecycle) Advance(next Stage) error {
	for _, allowed := range allowedTransitions[l.stage] {
		if allowed == next {
			l.stage = next
			l.trail = append(l.trail, next)
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.stage, next)
}

// Submission is the server's view of a create or update call. ClientAmount is
// only compared against, never used as an input to the computation.
type Submission struct {
	RequestID    uuid.UUID
	ActorID      uuid.UUID
	Operation    string
	Request      QuoteRequest
	ClientAmount *decimal.Decimal
	At           time.Time
}

type ReconciliationResult struct {
	ClientAmount    *decimal.Decimal `json:"client_amount,omitempty"`
	ServerAmount    decimal.Decimal  `json:"server_amount"`
	Accepted        decimal.Decimal  `json:"accepted"`
	Difference      decimal.Decimal  `json:"difference"`
	DiscrepancyFlag bool             `json:"discrepancy_flag"`
	Quote           QuoteComputation `json:"quote"`
	Stage           Stage            `json:"stage"`
	ReconciledAt    time.Time        `json:"reconciled_at"`
}

// CanonicalAmount is the only amount that may be persisted or charged.
func (r ReconciliationResult) CanonicalAmount() decimal.Decimal {
	return r.Accepted
}

// MismatchRecord is the audit entry emitted when the client and server
// amounts differ by more than epsilon.
type MismatchRecord struct {
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

type AuditSink interface {
	RecordMismatch(ctx context.Context, record MismatchRecord) error
}

type ReconciliationGuard struct {
	computer *QuoteComputer
	epsilon  decimal.Decimal
	audit    AuditSink
	now      func() time.Time
	log      zerolog.Logger
}

type GuardOption func(*ReconciliationGuard)

func WithClock(now func() time.Time) GuardOption {
	return func(g *ReconciliationGuard) {
		g.now = now
	}
}

func WithAuditSink(sink AuditSink) GuardOption {
	return func(g *ReconciliationGuard) {
		g.audit = sink
	}
}

func NewReconciliationGuard(computer *QuoteComputer, epsilon decimal.Decimal, log zerolog.Logger, opts ...GuardOption) *ReconciliationGuard {
	g := &ReconciliationGuard{
		computer: computer,
		epsilon:  epsilon.Abs(),
		now:      time.Now,
		log:      log,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Reconcile recomputes the amount from the submitted fields and always accepts
// the server amount. Only computation errors are returned; a mismatch is
// logged and audited.
func (g *ReconciliationGuard) Reconcile(ctx context.Context, sub Submission) (ReconciliationResult, error) {
	return g.ReconcileWith(ctx, sub, nil)
}

// ReconcileWith is Reconcile with a persist step run before the request is
// accepted. A mismatch is audited only after persist succeeds; a persist
// error is returned unchanged and nothing is audited.
func (g *ReconciliationGuard) ReconcileWith(ctx context.Context, sub Submission, persist func(ReconciliationResult) error) (ReconciliationResult, error) {
	lifecycle := NewLifecycle()
	if sub.ClientAmount != nil {
		if err := lifecycle.Advance(StageQuoted); err != nil {
			return ReconciliationResult{}, err
		}
	}
	if err := lifecycle.Advance(StageSubmitted); err != nil {
		return ReconciliationResult{}, err
	}

	at := sub.At
	if at.IsZero() {
		at = g.now()
	}

	quote, err := g.computer.Compute(sub.Request, at)
	if err != nil {
		return ReconciliationResult{}, err
	}
	if err := lifecycle.Advance(StageReconciled); err != nil {
		return ReconciliationResult{}, err
	}

	result := ReconciliationResult{
		ServerAmount: quote.FinalAmount,
		Accepted:     quote.FinalAmount,
		Quote:        quote,
		ReconciledAt: at,
	}
	if sub.ClientAmount != nil {
		client := *sub.ClientAmount
		result.ClientAmount = &client
		result.Difference = client.Sub(quote.FinalAmount)
		result.DiscrepancyFlag = result.Difference.Abs().GreaterThan(g.epsilon)
	}

	result.Stage = lifecycle.Stage()
	if persist != nil {
		if err := persist(result); err != nil {
			return ReconciliationResult{}, err
		}
	}

	if result.DiscrepancyFlag {
		g.reportMismatch(ctx, sub, result)
	}

	if err := lifecycle.Advance(StageAccepted); err != nil {
		return ReconciliationResult{}, err
	}
	result.Stage = lifecycle.Stage()
	return result, nil
}

func (g *ReconciliationGuard) reportMismatch(ctx context.Context, sub Submission, result ReconciliationResult) {
	g.log.Warn().
		Str("event", "AmountMismatch").
		Str("request_id", sub.RequestID.String()).
		Str("operation", sub.Operation).
		Int64("rule_set_version", result.Quote.RuleSetVersion).
		Str("client_amount", result.ClientAmount.StringFixed(MinorUnitPlaces)).
		Str("server_amount", result.ServerAmount.StringFixed(MinorUnitPlaces)).
		Msg("client amount differs from server amount, server amount accepted")

	if g.audit == nil {
		return
	}
	record := MismatchRecord{
		ID:             uuid.New(),
		RequestID:      sub.RequestID,
		ActorID:        sub.ActorID,
		Operation:      sub.Operation,
		RuleSetVersion: result.Quote.RuleSetVersion,
		ClientAmount:   *result.ClientAmount,
		ServerAmount:   result.ServerAmount,
		Difference:     result.Difference,
		CreatedAt:      g.now().UTC(),
	}
	if err := g.audit.RecordMismatch(ctx, record); err != nil {
		g.log.Error().Err(err).Str("request_id", sub.RequestID.String()).Msg("failed to record amount mismatch")
	}
}
