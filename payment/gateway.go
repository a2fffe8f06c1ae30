package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/benjaminabbitt/storefront/backend"
	"github.com/benjaminabbitt/storefront/order/logic"
	"github.com/benjaminabbitt/storefront/shop"
	"github.com/benjaminabbitt/storefront/storage"
)

// DefaultRequestTimeout bounds every remote call.
const DefaultRequestTimeout = 15 * time.Second

// OrderCreator records orders with the backend.
type OrderCreator interface {
	CreateOrder(ctx context.Context, req backend.CreateOrderRequest) (backend.OrderReceipt, error)
}

// CaptureProvider is the two-phase card capture API.
type CaptureProvider interface {
	CreateIntent(ctx context.Context, amount decimal.Decimal, currency, reference string) (backend.Intent, error)
	Confirm(ctx context.Context, intentID string, card backend.Card) (backend.Capture, error)
}

// Gateway runs payments for every method.
type Gateway struct {
	orders  OrderCreator
	capture CaptureProvider
	kv      storage.Store
	wallet  WalletConfig
	timeout time.Duration
	logger  *zap.Logger
	events  *shop.EventLogger
	clock   func() time.Time

	// mu serializes order creation so one token is recorded once per process.
	mu sync.Mutex
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithCapture sets the card capture provider.
func WithCapture(p CaptureProvider) Option {
	return func(g *Gateway) { g.capture = p }
}

// WithWallet configures the redirect wallet.
func WithWallet(c WalletConfig) Option {
	return func(g *Gateway) { g.wallet = c }
}

// WithRequestTimeout bounds each remote call.
func WithRequestTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithEventLogger renders payment events for operators.
func WithEventLogger(l *shop.EventLogger) Option {
	return func(g *Gateway) { g.events = l }
}

// WithClock allows tests to control time.
func WithClock(clock func() time.Time) Option {
	return func(g *Gateway) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// NewGateway creates a gateway recording orders through orders and keeping
// attempt snapshots in kv.
func NewGateway(orders OrderCreator, kv storage.Store, opts ...Option) *Gateway {
	g := &Gateway{
		orders:  orders,
		kv:      kv,
		timeout: DefaultRequestTimeout,
		logger:  zap.NewNop(),
		clock:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

type initiateConfig struct {
	card     *backend.Card
	settings *Settings
}

// InitiateOption supplies per-attempt input.
type InitiateOption func(*initiateConfig)

// WithCard supplies card data for a card payment. It is passed to the
// provider and never stored.
func WithCard(card backend.Card) InitiateOption {
	return func(c *initiateConfig) { c.card = &card }
}

// WithSettings supplies the shop settings used for instructions.
func WithSettings(s Settings) InitiateOption {
	return func(c *initiateConfig) { c.settings = &s }
}

// Initiate starts payment for a.
func (g *Gateway) Initiate(ctx context.Context, a *logic.Attempt, opts ...InitiateOption) Outcome {
	var cfg initiateConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.settings == nil {
		s := AllMethods(a.Currency)
		cfg.settings = &s
	}

	var out Outcome
	switch a.PaymentMethod {
	case logic.MethodWallet:
		out = g.redirectWallet(ctx, a)
	case logic.MethodCard:
		out = g.captureCard(ctx, a, cfg.card)
	case logic.MethodManual:
		out = g.recordManual(ctx, a, *cfg.settings)
	case logic.MethodInvoice:
		out = g.recordInvoice(ctx, a, *cfg.settings)
	default:
		out = failed(FailureValidation, ReasonMethodUnsupported, nil)
	}
	if out.Attempt == nil {
		out.Attempt = a.Clone()
	}
	g.logOutcome(a.LocalOrderID, a.PaymentMethod, out)
	return out
}

func (g *Gateway) redirectWallet(ctx context.Context, a *logic.Attempt) Outcome {
	if !g.wallet.Configured() {
		return failed(FailureValidation, ReasonWalletUnavailable, nil)
	}
	redirect, err := g.wallet.RedirectURL(a)
	if err != nil {
		return failed(FailureValidation, ReasonWalletUnavailable, err)
	}
	// The return may land in a session that never saw this attempt, so the
	// snapshot must be durable before the shopper leaves.
	if err := SaveAttempt(ctx, g.kv, AttemptRecord{Attempt: a.Clone()}); err != nil {
		g.logger.Error("attempt snapshot failed", zap.String("token", a.LocalOrderID), zap.Error(err))
		return failed(FailureNetwork, ReasonSnapshotFailed, err)
	}
	return Outcome{Kind: Redirected, RedirectURL: redirect, Attempt: a.Clone()}
}

// CompleteRedirect finishes a wallet attempt when the shopper returns. It
// works from the durable snapshot alone, so the returning session need not
// be the one that started the attempt.
func (g *Gateway) CompleteRedirect(ctx context.Context, token string, status ReturnStatus) Outcome {
	rec, err := LoadAttempt(ctx, g.kv, token)
	if err != nil {
		amb := &ReconciliationAmbiguity{Token: token, Detail: "no attempt snapshot", Err: err}
		if !errors.Is(err, storage.ErrNotFound) {
			amb.Detail = "attempt snapshot unreadable"
		}
		out := failed(FailureAmbiguity, ReasonUnknownReturn, amb)
		g.logOutcome(token, logic.MethodWallet, out)
		return out
	}

	a := rec.Attempt
	if rec.Recorded() {
		return Outcome{Kind: Confirmed, OrderNumber: rec.OrderNumber, ProviderRef: rec.ProviderRef, Attempt: a}
	}
	if rec.Captured() {
		out := g.recordPaid(ctx, a, rec.ProviderRef)
		g.logOutcome(token, a.PaymentMethod, out)
		return out
	}
	if rec.Failed() {
		out := failed(FailureRejected, ReasonAttemptClosed, fmt.Errorf("payment: %s: %w", token, logic.ErrAttemptClosed))
		out.Attempt = a
		g.logOutcome(token, a.PaymentMethod, out)
		return out
	}

	var out Outcome
	switch status {
	case ReturnSuccess:
		a.PaymentStatus = logic.PaymentCompleted
		out = g.recordPaid(ctx, a, token)
	case ReturnMissing:
		out = failed(FailureAmbiguity, ReasonNoResult, &ReconciliationAmbiguity{Token: token, Detail: "return without status"})
	default:
		out = failed(FailureDecline, ReasonCancelled, &ProviderDeclineError{Reason: string(status)})
	}
	if out.Attempt == nil {
		out.Attempt = a
	}
	g.logOutcome(token, a.PaymentMethod, out)
	return out
}

// RecordCaptured retries createOrder for an attempt whose payment was taken
// but never recorded. The provider is not contacted again.
func (g *Gateway) RecordCaptured(ctx context.Context, token string) Outcome {
	rec, err := LoadAttempt(ctx, g.kv, token)
	if err != nil {
		out := failed(FailureAmbiguity, ReasonUnknownReturn, &ReconciliationAmbiguity{Token: token, Detail: "no captured attempt", Err: err})
		g.logOutcome(token, "", out)
		return out
	}
	if rec.Recorded() {
		return Outcome{Kind: Confirmed, OrderNumber: rec.OrderNumber, ProviderRef: rec.ProviderRef, Attempt: rec.Attempt}
	}
	if !rec.Captured() {
		out := failed(FailureRejected, ReasonNotCaptured, &ReconciliationAmbiguity{Token: token, Detail: "attempt has no capture"})
		out.Attempt = rec.Attempt
		g.logOutcome(token, rec.Attempt.PaymentMethod, out)
		return out
	}
	out := g.recordPaid(ctx, rec.Attempt, rec.ProviderRef)
	g.logOutcome(token, rec.Attempt.PaymentMethod, out)
	return out
}

func (g *Gateway) captureCard(ctx context.Context, a *logic.Attempt, card *backend.Card) Outcome {
	if g.capture == nil {
		return failed(FailureValidation, ReasonMethodUnsupported, nil)
	}
	if card == nil {
		return failed(FailureValidation, ReasonCardRequired, nil)
	}
	if msg := ValidateCard(*card, g.clock()); msg != "" {
		return failed(FailureValidation, msg, nil)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	intent, err := g.capture.CreateIntent(callCtx, a.Total, a.Currency, a.LocalOrderID)
	cancel()
	if err != nil {
		return convert(err)
	}

	callCtx, cancel = context.WithTimeout(ctx, g.timeout)
	capture, err := g.capture.Confirm(callCtx, intent.ID, *card)
	cancel()
	if err != nil {
		return convert(err)
	}

	switch capture.Status {
	case backend.CaptureSucceeded:
	case backend.CaptureRequiresAction:
		return failed(FailureDecline, ReasonActionRequired, &ProviderDeclineError{Reason: ReasonActionRequired})
	default:
		reason := capture.DeclineReason
		if reason == "" {
			reason = ReasonDeclined
		}
		return failed(FailureDecline, reason, &ProviderDeclineError{Reason: reason})
	}

	paid := a.Clone()
	paid.PaymentStatus = logic.PaymentCompleted
	return g.recordPaid(ctx, paid, capture.ID)
}

// recordPaid records an order whose payment already went through. A failure
// here leaves money taken without an order, which is ambiguous. The capture
// is kept so RecordCaptured can finish the order without charging again.
func (g *Gateway) recordPaid(ctx context.Context, a *logic.Attempt, providerRef string) Outcome {
	rec, err := g.record(ctx, a, providerRef)
	if err != nil {
		if serr := SaveAttempt(ctx, g.kv, AttemptRecord{Attempt: a.Clone(), ProviderRef: providerRef}); serr != nil {
			g.logger.Error("captured attempt not persisted",
				zap.String("token", a.LocalOrderID), zap.String("provider_ref", providerRef), zap.Error(serr))
		}
		out := convert(err)
		out.Failure = FailureAmbiguity
		out.Reason = fmt.Sprintf(ReasonRecordFailed, a.LocalOrderID)
		out.ProviderRef = providerRef
		out.Attempt = a.Clone()
		out.Err = &ReconciliationAmbiguity{Token: a.LocalOrderID, Detail: "paid but not recorded", Err: err}
		return out
	}
	return Outcome{Kind: Confirmed, OrderNumber: rec.OrderNumber, ProviderRef: providerRef, Attempt: a}
}

func (g *Gateway) recordManual(ctx context.Context, a *logic.Attempt, s Settings) Outcome {
	rec, err := g.record(ctx, a, "")
	if err != nil {
		return convert(err)
	}
	return Outcome{
		Kind:        Deferred,
		OrderNumber: rec.OrderNumber,
		Attempt:     a,
		Instructions: &Instructions{
			Amount:    a.Total,
			Currency:  a.Currency,
			Reference: rec.OrderNumber,
			Recipient: s.ManualRecipient,
		},
	}
}

func (g *Gateway) recordInvoice(ctx context.Context, a *logic.Attempt, s Settings) Outcome {
	rec, err := g.record(ctx, a, "")
	if err != nil {
		return convert(err)
	}
	out := Outcome{Kind: Confirmed, OrderNumber: rec.OrderNumber, Attempt: a}
	if s.InvoiceNote != "" {
		out.Instructions = &Instructions{Amount: a.Total, Currency: a.Currency, Reference: rec.OrderNumber, Note: s.InvoiceNote}
	}
	return out
}

// record sends createOrder at most once per token. A token already recorded
// returns the stored receipt without a remote call.
func (g *Gateway) record(ctx context.Context, a *logic.Attempt, providerRef string) (AttemptRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if rec, err := LoadAttempt(ctx, g.kv, a.LocalOrderID); err == nil && rec.Recorded() {
		g.logger.Info("order already recorded", zap.String("token", a.LocalOrderID), zap.String("order_number", rec.OrderNumber))
		return rec, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	receipt, err := g.orders.CreateOrder(callCtx, CreateOrderRequest(a, providerRef))
	if err != nil {
		g.logger.Warn("create order failed", zap.String("token", a.LocalOrderID), zap.Error(err))
		return AttemptRecord{}, err
	}

	rec := AttemptRecord{
		Attempt:     a.Clone(),
		OrderNumber: receipt.OrderNumber,
		ProviderRef: providerRef,
		RecordedAt:  g.clock(),
	}
	if err := SaveAttempt(ctx, g.kv, rec); err != nil {
		g.logger.Warn("recorded attempt not persisted", zap.String("token", a.LocalOrderID), zap.Error(err))
	}
	return rec, nil
}

// CreateOrderRequest builds the backend request for a.
func CreateOrderRequest(a *logic.Attempt, providerRef string) backend.CreateOrderRequest {
	lines := make([]backend.OrderLine, 0, len(a.CartSnapshot))
	for _, l := range a.CartSnapshot {
		line := backend.OrderLine{Name: l.Name, Quantity: l.Quantity, UnitPrice: l.UnitPrice}
		if l.IsCombo {
			line.ComboID = l.ComboID
		} else {
			line.ProductID = l.ProductID
		}
		lines = append(lines, line)
	}
	req := backend.CreateOrderRequest{
		LocalOrderID: a.LocalOrderID,
		UserID:       a.UserID,
		Customer: backend.Customer{
			FirstName: a.Profile.FirstName,
			LastName:  a.Profile.LastName,
			Email:     a.Profile.Email,
			Phone:     a.Profile.Phone,
			Address:   wireAddress(a.Profile.Address),
		},
		Lines:         lines,
		Subtotal:      a.Subtotal,
		ShippingCost:  a.ShippingCost,
		Total:         a.Total,
		Currency:      a.Currency,
		PaymentMethod: string(a.PaymentMethod),
		PaymentStatus: string(a.PaymentStatus),
		ProviderRef:   providerRef,
	}
	if a.Profile.Billing != nil {
		b := wireAddress(*a.Profile.Billing)
		req.Billing = &b
	}
	return req
}

func wireAddress(a logic.Address) backend.Address {
	return backend.Address{Street: a.Street, PostalCode: a.PostalCode, City: a.City, Country: a.Country}
}

func (g *Gateway) logOutcome(token string, method logic.Method, out Outcome) {
	fields := []zap.Field{
		zap.String("token", token),
		zap.String("method", string(method)),
		zap.String("outcome", string(out.Kind)),
	}
	pretty := []shop.Field{shop.F("method", method)}
	switch out.Kind {
	case Failed:
		fields = append(fields, zap.String("failure", string(out.Failure)), zap.String("reason", out.Reason), zap.Error(out.Err))
		pretty = append(pretty, shop.F("failure", out.Failure), shop.F("reason", out.Reason))
		g.logger.Warn("payment failed", fields...)
	default:
		fields = append(fields, zap.String("order_number", out.OrderNumber))
		if out.OrderNumber != "" {
			pretty = append(pretty, shop.F("order_number", out.OrderNumber))
		}
		g.logger.Info("payment outcome", fields...)
	}
	g.events.LogEvent(shop.Event{
		Domain:  "payment",
		Subject: token,
		Type:    "Payment" + titleCase(string(out.Kind)),
		At:      g.clock(),
		Fields:  pretty,
	})
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
