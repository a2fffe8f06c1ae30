// Package order runs the checkout lifecycle of one session: it validates the
// submission, prices shipping, starts payment, and on success clears the cart
// in every session.
package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/benjaminabbitt/storefront/backend"
	cartlogic "github.com/benjaminabbitt/storefront/cart/logic"
	"github.com/benjaminabbitt/storefront/order/logic"
	"github.com/benjaminabbitt/storefront/payment"
	"github.com/benjaminabbitt/storefront/shop"
	"github.com/benjaminabbitt/storefront/storage"
	"github.com/benjaminabbitt/storefront/tabsync"
)

// Defaults for Controller.
const (
	DefaultCurrency       = "CHF"
	DefaultRequestTimeout = 15 * time.Second
	DefaultRecordedTTL    = tabsync.DefaultOrphanWindow
	DefaultAbandonedTTL   = 24 * time.Hour
)

// DefaultShipping is charged when the shipping service cannot quote.
var DefaultShipping = decimal.RequireFromString("7.00")

// ErrMsgCheckoutBusy is returned when a different submission is still being
// prepared by this session.
const ErrMsgCheckoutBusy = "Another checkout is in progress"

// ErrMsgNothingToRecover is returned by RecoverPayment when no payment is
// waiting for its order.
const ErrMsgNothingToRecover = "No captured payment is waiting to be recorded"

// Cart is the session's cart as seen by checkout.
type Cart interface {
	Snapshot() []cartlogic.CartLine
	Session() string
}

// ClearSignaller propagates cart clears to every session.
type ClearSignaller interface {
	MarkPending(ctx context.Context, token string) error
	ConfirmPayment(ctx context.Context, marker tabsync.PaymentMarker) error
}

// Gateway starts and completes payments.
type Gateway interface {
	Initiate(ctx context.Context, a *logic.Attempt, opts ...payment.InitiateOption) payment.Outcome
	CompleteRedirect(ctx context.Context, token string, status payment.ReturnStatus) payment.Outcome
	RecordCaptured(ctx context.Context, token string) payment.Outcome
}

// SettingsSource serves the shop's payment settings.
type SettingsSource interface {
	PaymentSettings(ctx context.Context) (backend.PaymentSettings, error)
}

// AccountCreator registers shopper accounts.
type AccountCreator interface {
	Register(ctx context.Context, req backend.RegisterRequest) (backend.User, error)
}

// CheckoutRequest is what the shopper submits.
type CheckoutRequest struct {
	Profile       logic.CustomerProfile
	Method        logic.Method
	Card          *backend.Card
	CreateAccount bool
	Password      string
}

// Result is the session's checkout position after a call.
type Result struct {
	State        logic.State
	Token        string
	RedirectURL  string
	Confirmation *logic.Confirmation
	Instructions *payment.Instructions
	Failure      payment.FailureKind
	Reason       string
}

// AccountError means account creation failed, so no order was placed.
type AccountError struct {
	Message string
	Err     error
}

func (e *AccountError) Error() string {
	return "account creation failed: " + e.Message
}

func (e *AccountError) Unwrap() error {
	return e.Err
}

// Controller owns one session's order lifecycle.
type Controller struct {
	cart     Cart
	sync     ClearSignaller
	gateway  Gateway
	kv       storage.Store
	settings SettingsSource
	shipping backend.ShippingPricer
	accounts AccountCreator

	logic        logic.OrderLogic
	state        *logic.OrderState
	instructions *payment.Instructions
	busy         string
	captured     string

	currency     string
	defaultShip  decimal.Decimal
	timeout      time.Duration
	recordedTTL  time.Duration
	abandonedTTL time.Duration
	logger       *zap.Logger
	events       *shop.EventLogger
	clock        func() time.Time

	mu sync.Mutex
}

// Option customizes a Controller.
type Option func(*Controller)

// WithSettings sets the payment settings source. Without one every method
// is enabled.
func WithSettings(s SettingsSource) Option {
	return func(c *Controller) { c.settings = s }
}

// WithShipping sets the shipping pricer.
func WithShipping(p backend.ShippingPricer) Option {
	return func(c *Controller) { c.shipping = p }
}

// WithAccounts enables account creation during checkout.
func WithAccounts(a AccountCreator) Option {
	return func(c *Controller) { c.accounts = a }
}

// WithCurrency sets the currency used when settings do not name one.
func WithCurrency(currency string) Option {
	return func(c *Controller) {
		if currency != "" {
			c.currency = currency
		}
	}
}

// WithDefaultShipping sets the fallback shipping cost.
func WithDefaultShipping(d decimal.Decimal) Option {
	return func(c *Controller) { c.defaultShip = d }
}

// WithRequestTimeout bounds each remote call made by the controller.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithAttemptRetention sets how long recorded and unrecorded attempt
// snapshots are kept.
func WithAttemptRetention(recorded, abandoned time.Duration) Option {
	return func(c *Controller) {
		if recorded > 0 {
			c.recordedTTL = recorded
		}
		if abandoned > 0 {
			c.abandonedTTL = abandoned
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithEventLogger renders lifecycle events for operators.
func WithEventLogger(l *shop.EventLogger) Option {
	return func(c *Controller) { c.events = l }
}

// WithClock allows tests to control time.
func WithClock(clock func() time.Time) Option {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// NewController creates a Draft controller.
func NewController(cart Cart, sync ClearSignaller, gateway Gateway, kv storage.Store, opts ...Option) *Controller {
	c := &Controller{
		cart:         cart,
		sync:         sync,
		gateway:      gateway,
		kv:           kv,
		logic:        logic.NewOrderLogic(),
		state:        logic.EmptyState(),
		currency:     DefaultCurrency,
		defaultShip:  DefaultShipping,
		timeout:      DefaultRequestTimeout,
		recordedTTL:  DefaultRecordedTTL,
		abandonedTTL: DefaultAbandonedTTL,
		logger:       zap.NewNop(),
		clock:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.logger = c.logger.With(zap.String("session", cart.Session()))
	return c
}

// State returns the lifecycle state.
func (c *Controller) State() logic.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.State
}

// Confirmation returns the receipt of the completed order, or nil.
func (c *Controller) Confirmation() *logic.Confirmation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Confirmation.Clone()
}

// Current returns the session's checkout position.
func (c *Controller) Current() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resultLocked()
}

// Checkout validates req, prices the order and starts payment. Validation
// failures return a *logic.ValidationError and leave the session in Draft
// with no remote call made. Payment failures are reported in the Result,
// never as an error. A repeat of a submission in flight returns
// logic.ErrDuplicateSubmission and does nothing.
func (c *Controller) Checkout(ctx context.Context, req CheckoutRequest) (Result, error) {
	lines := c.cart.Snapshot()
	fingerprint := logic.Fingerprint(lines, req.Method)

	c.mu.Lock()
	if err := c.admitLocked(lines, fingerprint, req.Method); err != nil {
		c.mu.Unlock()
		return c.Current(), err
	}
	if err := c.validate(lines, req); err != nil {
		c.mu.Unlock()
		c.logger.Info("checkout rejected", zap.Error(err))
		return c.Current(), err
	}
	c.busy = fingerprint
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.busy = ""
		c.mu.Unlock()
	}()

	settings, quote := c.prepare(ctx, req.Profile.BillingAddress().Country, lines)
	method, err := settings.Resolve(req.Method)
	if err != nil {
		return c.Current(), err
	}
	if method == logic.MethodCard {
		if err := c.validateCard(req.Card); err != nil {
			return c.Current(), err
		}
	}

	profile := req.Profile.Clone()
	if req.CreateAccount {
		userID, err := c.register(ctx, profile, req.Password)
		if err != nil {
			return c.Current(), err
		}
		profile.UserID = userID
	}

	now := c.clock()
	currency := settings.Currency
	if currency == "" {
		currency = c.currency
	}
	attempt := logic.NewAttempt(shop.NewCorrelationToken(now), lines, profile, method, quote.Price, currency, now)
	attempt.ShippingZone = quote.ZoneLabel

	c.mu.Lock()
	submitted, err := c.logic.HandleSubmit(c.state, attempt)
	if err != nil {
		c.mu.Unlock()
		return c.Current(), err
	}
	c.applyLocked(submitted)
	c.mu.Unlock()

	if method.Redirects() {
		if err := c.sync.MarkPending(ctx, attempt.LocalOrderID); err != nil {
			c.logger.Warn("pending clear marker not written", zap.String("token", attempt.LocalOrderID), zap.Error(err))
		}
	}

	opts := []payment.InitiateOption{payment.WithSettings(settings)}
	if req.Card != nil {
		opts = append(opts, payment.WithCard(*req.Card))
	}
	out := c.gateway.Initiate(ctx, attempt, opts...)
	return c.settle(ctx, attempt.LocalOrderID, out), nil
}

// HandleReturn completes a redirect payment when the shopper lands back with
// token and the provider's status. It works in any session: an attempt this
// session does not hold is restored from durable storage.
func (c *Controller) HandleReturn(ctx context.Context, token, status string) (Result, error) {
	c.mu.Lock()
	switch {
	case c.state.Attempt != nil && c.state.Attempt.LocalOrderID == token && c.state.State == logic.StateAwaitingExternalConfirmation:
	case c.state.Confirmation != nil && c.state.Confirmation.LocalOrderID == token:
		// Landing on the confirmation route twice.
		defer c.mu.Unlock()
		return c.resultLocked(), nil
	case c.state.Attempt != nil && c.state.Attempt.LocalOrderID == token && c.state.State == logic.StateFailed && c.captured != token:
		defer c.mu.Unlock()
		return c.closedLocked(token, fmt.Errorf("%w: %s", logic.ErrAttemptClosed, token))
	default:
		if err := c.restoreLocked(ctx, token); err != nil {
			defer c.mu.Unlock()
			if errors.Is(err, logic.ErrAttemptClosed) {
				return c.closedLocked(token, err)
			}
			res := c.resultLocked()
			res.Token = token
			res.Failure = payment.FailureAmbiguity
			res.Reason = payment.ReasonUnknownReturn
			c.logger.Warn("return does not match an attempt", zap.String("token", token), zap.Error(err))
			return res, &payment.ReconciliationAmbiguity{Token: token, Detail: "no matching attempt", Err: err}
		}
	}
	c.mu.Unlock()

	out := c.gateway.CompleteRedirect(ctx, token, payment.ParseReturnStatus(status))
	return c.settle(ctx, token, out), nil
}

// closedLocked reports a return for an attempt that already failed. The
// session keeps its state and nothing is sent to the backend.
func (c *Controller) closedLocked(token string, err error) (Result, error) {
	res := c.resultLocked()
	res.Token = token
	res.Failure = payment.FailureRejected
	res.Reason = payment.ReasonAttemptClosed
	c.logger.Warn("return for a failed attempt", zap.String("token", token), zap.Error(err))
	return res, err
}

// Retry returns a failed checkout to Draft. The cart was never cleared. A
// payment that was taken but not recorded must go through RecoverPayment
// instead, so the shopper is never charged twice.
func (c *Controller) Retry() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.State != logic.StateFailed {
		return fmt.Errorf("%w: retry from %s", logic.ErrInvalidTransition, c.state.State)
	}
	if c.captured != "" {
		return shop.NewFailedPrecondition(logic.ErrMsgPaymentUnrecorded)
	}
	return c.resumeLocked()
}

// RecoverPayment records the order for a failed attempt whose payment was
// already taken. The provider is not contacted again.
func (c *Controller) RecoverPayment(ctx context.Context) (Result, error) {
	c.mu.Lock()
	token := c.captured
	if token == "" || c.state.State != logic.StateFailed || c.state.Attempt == nil || c.state.Attempt.LocalOrderID != token {
		c.mu.Unlock()
		return c.Current(), shop.NewFailedPrecondition(ErrMsgNothingToRecover)
	}
	if c.busy != "" {
		c.mu.Unlock()
		return c.Current(), logic.ErrDuplicateSubmission
	}
	attempt := c.state.Attempt
	if err := c.resumeLocked(); err != nil {
		c.mu.Unlock()
		return c.Current(), err
	}
	submitted, err := c.logic.HandleSubmit(c.state, attempt)
	if err != nil {
		c.mu.Unlock()
		return c.Current(), err
	}
	c.applyLocked(submitted)
	c.busy = submitted.Fingerprint
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.busy = ""
		c.mu.Unlock()
	}()

	out := c.gateway.RecordCaptured(ctx, token)
	return c.settle(ctx, token, out), nil
}

// NewOrder starts a fresh Draft after a completed order.
func (c *Controller) NewOrder() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.State != logic.StateCompleted {
		return fmt.Errorf("%w: new order from %s", logic.ErrInvalidTransition, c.state.State)
	}
	return c.resumeLocked()
}

// admitLocked rejects a submission that duplicates or collides with one in
// flight. A completed order is left behind implicitly: every checkout starts
// from a fresh Draft.
func (c *Controller) admitLocked(lines []cartlogic.CartLine, fingerprint string, method logic.Method) error {
	if c.busy != "" {
		if c.busy == fingerprint {
			return logic.ErrDuplicateSubmission
		}
		return shop.NewAborted(ErrMsgCheckoutBusy)
	}
	if c.captured != "" {
		return shop.NewFailedPrecondition(logic.ErrMsgPaymentUnrecorded)
	}
	if c.state.InFlight() {
		if method == "" && c.state.Attempt != nil {
			method = c.state.Attempt.PaymentMethod
		}
		if logic.Fingerprint(lines, method) == c.state.Fingerprint {
			return logic.ErrDuplicateSubmission
		}
		return fmt.Errorf("%w: submit while %s", logic.ErrInvalidTransition, c.state.State)
	}
	if c.state.State == logic.StateCompleted {
		return c.resumeLocked()
	}
	if !logic.CanTransition(c.state.State, logic.StateSubmitting) {
		return fmt.Errorf("%w: submit from %s", logic.ErrInvalidTransition, c.state.State)
	}
	return nil
}

func (c *Controller) validate(lines []cartlogic.CartLine, req CheckoutRequest) error {
	v := &logic.ValidationError{}
	v.Merge("order", logic.ValidateOrder(lines, req.Profile))
	if req.Method != "" && !req.Method.Valid() {
		v.Add("paymentMethod", logic.ErrMsgMethodUnknown)
	}
	if req.Method == logic.MethodCard && req.Card != nil {
		if msg := payment.ValidateCard(*req.Card, c.clock()); msg != "" {
			v.Add("card", msg)
		}
	}
	if req.CreateAccount && req.Password == "" {
		v.Add("password", logic.ErrMsgPasswordRequired)
	}
	return v.Err()
}

func (c *Controller) validateCard(card *backend.Card) error {
	v := &logic.ValidationError{}
	switch {
	case card == nil:
		v.Add("card", payment.ReasonCardRequired)
	default:
		if msg := payment.ValidateCard(*card, c.clock()); msg != "" {
			v.Add("card", msg)
		}
	}
	return v.Err()
}

// prepare fetches payment settings and a shipping quote concurrently. Neither
// failure is fatal: settings fall back to every method, shipping to the
// default cost.
func (c *Controller) prepare(ctx context.Context, country string, lines []cartlogic.CartLine) (payment.Settings, backend.Quote) {
	settings := payment.AllMethods(c.currency)
	quote := backend.Quote{Price: c.defaultShip}

	g, gctx := errgroup.WithContext(ctx)
	if c.settings != nil {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, c.timeout)
			defer cancel()
			dto, err := c.settings.PaymentSettings(callCtx)
			if err != nil {
				c.logger.Warn("payment settings unavailable; offering every method", zap.Error(err))
				return nil
			}
			settings = payment.SettingsFrom(dto)
			return nil
		})
	}
	if c.shipping != nil && country != "" {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, c.timeout)
			defer cancel()
			q, err := c.shipping.Quote(callCtx, country, cartlogic.WeightGrams(lines))
			if err != nil {
				c.logger.Warn("shipping quote failed; charging default", zap.String("country", country), zap.Error(err))
				return nil
			}
			quote = q
			return nil
		})
	}
	_ = g.Wait()
	return settings, quote
}

// register creates the shopper's account. It must finish before the order
// is created so the order carries the new user id.
func (c *Controller) register(ctx context.Context, p logic.CustomerProfile, password string) (string, error) {
	if c.accounts == nil {
		return "", &AccountError{Message: "account creation is not available"}
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	user, err := c.accounts.Register(callCtx, backend.RegisterRequest{
		Email:     p.Email,
		Password:  password,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Phone:     p.Phone,
		Address: backend.Address{
			Street:     p.Address.Street,
			PostalCode: p.Address.PostalCode,
			City:       p.Address.City,
			Country:    p.Address.Country,
		},
	})
	if err != nil {
		msg := payment.ReasonNetwork
		if apiErr := backend.AsAPIError(err); apiErr != nil {
			msg = apiErr.Message
		}
		c.logger.Warn("account creation failed", zap.Error(err))
		return "", &AccountError{Message: msg, Err: err}
	}
	return user.ID, nil
}

func (c *Controller) restoreLocked(ctx context.Context, token string) error {
	rec, err := payment.LoadAttempt(ctx, c.kv, token)
	if err != nil {
		return err
	}
	restored, err := c.logic.HandleRestore(c.state, rec.Attempt)
	if err != nil {
		return err
	}
	c.applyLocked(restored)
	return nil
}

// settle folds a payment outcome into the lifecycle. Success clears the cart
// in every session; failure leaves it untouched.
func (c *Controller) settle(ctx context.Context, token string, out payment.Outcome) Result {
	c.mu.Lock()
	if c.state.Attempt == nil || c.state.Attempt.LocalOrderID != token {
		// Another call moved the session on while payment ran.
		defer c.mu.Unlock()
		c.logger.Warn("payment outcome for a stale attempt", zap.String("token", token), zap.String("outcome", string(out.Kind)))
		return c.resultLocked()
	}

	switch out.Kind {
	case payment.Redirected:
		awaiting, err := c.logic.HandleAwait(c.state, token, out.RedirectURL)
		if err != nil {
			c.mu.Unlock()
			return c.failLocal(ctx, token, err)
		}
		c.applyLocked(awaiting)
		defer c.mu.Unlock()
		return c.resultLocked()

	case payment.Confirmed, payment.Deferred:
		attempt := out.Attempt
		if attempt == nil {
			attempt = c.state.Attempt
		}
		conf := logic.NewConfirmation(attempt, out.OrderNumber, out.ProviderRef, c.clock())
		conf.Deferred = out.Kind == payment.Deferred
		conf.NextSteps = nextSteps(attempt, out.Instructions)
		completed, err := c.logic.HandleComplete(c.state, conf)
		if err != nil {
			c.mu.Unlock()
			return c.failLocal(ctx, token, err)
		}
		c.applyLocked(completed)
		c.instructions = out.Instructions
		c.captured = ""
		res := c.resultLocked()
		c.mu.Unlock()

		marker := tabsync.PaymentMarker{Token: token, Method: string(attempt.PaymentMethod), CompletedAt: conf.CompletedAt}
		if err := c.sync.ConfirmPayment(ctx, marker); err != nil {
			c.logger.Warn("clear propagation incomplete", zap.String("token", token), zap.Error(err))
		}
		c.pruneAttempts(ctx)
		return res

	default:
		failed, err := c.logic.HandleFail(c.state, out.Reason)
		if err != nil {
			defer c.mu.Unlock()
			c.logger.Error("failure not applied", zap.String("token", token), zap.Error(err))
			return c.resultLocked()
		}
		c.applyLocked(failed)
		res := c.resultLocked()
		res.Failure = out.Failure
		method := c.state.Attempt.PaymentMethod
		if out.ProviderRef != "" {
			c.captured = token
		}
		captured := c.captured == token
		c.mu.Unlock()

		if method.Redirects() {
			if err := tabsync.RemoveClearMarker(ctx, c.kv, token); err != nil {
				c.logger.Warn("pending clear marker not removed", zap.String("token", token), zap.Error(err))
			}
			if !captured {
				if _, err := payment.CloseAttempt(ctx, c.kv, token, out.Reason, c.clock()); err != nil {
					c.logger.Warn("failed attempt not closed", zap.String("token", token), zap.Error(err))
				}
			}
		}
		c.logger.Info("checkout failed", zap.String("token", token), zap.String("failure", string(out.Failure)), zap.String("reason", out.Reason), zap.Error(out.Err))
		return res
	}
}

func (c *Controller) failLocal(ctx context.Context, token string, cause error) Result {
	return c.settle(ctx, token, payment.Outcome{
		Kind:    payment.Failed,
		Failure: payment.FailureAmbiguity,
		Reason:  payment.ReasonUnexpected,
		Err:     cause,
	})
}

func (c *Controller) resumeLocked() error {
	resumed, err := c.logic.HandleResume(c.state)
	if err != nil {
		return err
	}
	c.applyLocked(resumed)
	if resumed.From == logic.StateCompleted {
		c.instructions = nil
	}
	return nil
}

func (c *Controller) applyLocked(event logic.Event) {
	from := c.state.State
	c.logic.Apply(c.state, event)
	c.logEvent(from, event)
}

func (c *Controller) resultLocked() Result {
	res := Result{
		State:        c.state.State,
		RedirectURL:  c.state.RedirectURL,
		Confirmation: c.state.Confirmation.Clone(),
		Reason:       c.state.FailureReason,
	}
	if c.state.Attempt != nil {
		res.Token = c.state.Attempt.LocalOrderID
	}
	if c.state.State == logic.StateCompleted && c.instructions != nil {
		inst := *c.instructions
		res.Instructions = &inst
	}
	return res
}

// PruneAttempts deletes attempt snapshots that are no longer needed: recorded
// ones after the recorded TTL, unrecorded ones after the abandoned TTL. The
// session's own in-flight attempt is kept, and so is a payment still waiting
// for its order.
func (c *Controller) PruneAttempts(ctx context.Context) (int, error) {
	tokens, err := payment.ListAttempts(ctx, c.kv)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	var active string
	if c.state.InFlight() && c.state.Attempt != nil {
		active = c.state.Attempt.LocalOrderID
	}
	c.mu.Unlock()

	now := c.clock()
	pruned := 0
	for _, token := range tokens {
		if token == active {
			continue
		}
		rec, err := payment.LoadAttempt(ctx, c.kv, token)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		expired := err != nil
		if err == nil {
			switch {
			case rec.Recorded():
				expired = now.Sub(rec.RecordedAt) > c.recordedTTL
			case rec.Captured():
				expired = false
			default:
				expired = now.Sub(rec.Attempt.CreatedAt) > c.abandonedTTL
			}
		}
		if !expired {
			continue
		}
		if err := payment.DeleteAttempt(ctx, c.kv, token); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}

func (c *Controller) pruneAttempts(ctx context.Context) {
	if n, err := c.PruneAttempts(ctx); err != nil {
		c.logger.Warn("attempt pruning failed", zap.Error(err))
	} else if n > 0 {
		c.logger.Debug("attempts pruned", zap.Int("count", n))
	}
}

func nextSteps(a *logic.Attempt, inst *payment.Instructions) []string {
	var steps []string
	switch a.PaymentMethod {
	case logic.MethodManual:
		steps = append(steps, "Please transfer the amount below. Your order ships once payment arrives.")
		steps = append(steps, inst.Lines()...)
	case logic.MethodInvoice:
		steps = append(steps, "An invoice will be sent with your order.")
		if inst != nil && inst.Note != "" {
			steps = append(steps, inst.Note)
		}
	default:
		steps = append(steps, "Payment received. Your order is being prepared.")
	}
	if a.Profile.Email != "" {
		steps = append(steps, "A confirmation was sent to "+a.Profile.Email+".")
	}
	return steps
}

func (c *Controller) logEvent(from logic.State, event logic.Event) {
	subject := c.cart.Session()
	fields := []zap.Field{zap.String("event", event.EventType()), zap.String("from", string(from)), zap.String("to", string(c.state.State))}
	pretty := []shop.Field{shop.F("state", fmt.Sprintf("%s -> %s", from, c.state.State))}
	switch e := event.(type) {
	case *logic.SubmissionStarted:
		fields = append(fields, zap.String("token", e.Attempt.LocalOrderID), zap.String("method", string(e.Attempt.PaymentMethod)), zap.String("total", e.Attempt.Total.StringFixed(2)))
		pretty = append(pretty, shop.F("token", e.Attempt.LocalOrderID), shop.F("method", e.Attempt.PaymentMethod), shop.F("total", e.Attempt.Currency+" "+e.Attempt.Total.StringFixed(2)))
	case *logic.ExternalConfirmationRequested:
		fields = append(fields, zap.String("token", e.Token))
		pretty = append(pretty, shop.F("token", e.Token))
	case *logic.AttemptRestored:
		fields = append(fields, zap.String("token", e.Attempt.LocalOrderID))
		pretty = append(pretty, shop.F("token", e.Attempt.LocalOrderID))
	case *logic.OrderCompleted:
		fields = append(fields, zap.String("order_number", e.Confirmation.OrderNumber))
		pretty = append(pretty, shop.F("order_number", e.Confirmation.OrderNumber), shop.F("total", e.Confirmation.Currency+" "+e.Confirmation.Total.StringFixed(2)))
	case *logic.OrderFailed:
		fields = append(fields, zap.String("reason", e.Reason))
		pretty = append(pretty, shop.F("reason", e.Reason))
	}
	c.logger.Info("order event", fields...)
	c.events.LogEvent(shop.Event{Domain: "order", Subject: subject, Type: event.EventType(), At: c.clock(), Fields: pretty})
}
