package engine

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/benjaminabbitt/storefront/cart"
	cartlogic "github.com/benjaminabbitt/storefront/cart/logic"
	"github.com/benjaminabbitt/storefront/identity"
	"github.com/benjaminabbitt/storefront/order"
	"github.com/benjaminabbitt/storefront/order/logic"
	"github.com/benjaminabbitt/storefront/tabsync"
)

var errNoBackend = errors.New("no order backend configured")

// Session is one execution context: a cart view, its synchronizer and its
// checkout lifecycle.
type Session struct {
	id       string
	cart     *cart.Store
	sync     *tabsync.Synchronizer
	orders   *order.Controller
	identity *identity.Resolver
	logger   *zap.Logger
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// AddToCart adds quantity of item and returns the cart.
func (s *Session) AddToCart(ctx context.Context, item cartlogic.CartLine, quantity int) ([]cartlogic.CartLine, error) {
	return s.cart.AddLine(ctx, item, quantity)
}

// RemoveFromCart takes one unit of the line with key out of the cart.
func (s *Session) RemoveFromCart(ctx context.Context, key cartlogic.LineKey) []cartlogic.CartLine {
	return s.cart.RemoveOne(ctx, key)
}

// ClearCart empties the cart.
func (s *Session) ClearCart(ctx context.Context) {
	s.cart.Clear(ctx)
}

// GetCartSnapshot returns a copy of the cart.
func (s *Session) GetCartSnapshot() []cartlogic.CartLine {
	return s.cart.Snapshot()
}

// Totals summarizes the cart.
type Totals struct {
	Subtotal    string `json:"subtotal"`
	Savings     string `json:"savings"`
	ItemCount   int    `json:"itemCount"`
	WeightGrams int    `json:"weightGrams"`
}

// CartTotals returns the cart summary.
func (s *Session) CartTotals() Totals {
	lines := s.cart.Snapshot()
	return Totals{
		Subtotal:    cartlogic.Subtotal(lines).StringFixed(2),
		Savings:     cartlogic.Savings(lines).StringFixed(2),
		ItemCount:   cartlogic.ItemCount(lines),
		WeightGrams: cartlogic.WeightGrams(lines),
	}
}

// Subscribe calls fn with the cart after every change, whether made by this
// session or observed from another. The returned function unsubscribes.
func (s *Session) Subscribe(fn func([]cartlogic.CartLine)) func() {
	return s.cart.Subscribe(fn)
}

// Checkout submits the order.
func (s *Session) Checkout(ctx context.Context, req order.CheckoutRequest) (order.Result, error) {
	if req.Profile.UserID == "" {
		if p := s.identity.Current(ctx); p != nil {
			req.Profile.UserID = p.UserID
		}
	}
	return s.orders.Checkout(ctx, req)
}

// HandleReturn completes a redirect payment.
func (s *Session) HandleReturn(ctx context.Context, token, status string) (order.Result, error) {
	return s.orders.HandleReturn(ctx, token, status)
}

// Retry returns a failed checkout to Draft.
func (s *Session) Retry() error {
	return s.orders.Retry()
}

// RecoverPayment records the order for a payment that was taken but not
// recorded.
func (s *Session) RecoverPayment(ctx context.Context) (order.Result, error) {
	return s.orders.RecoverPayment(ctx)
}

// NewOrder starts over after a completed order.
func (s *Session) NewOrder() error {
	return s.orders.NewOrder()
}

// State returns the order lifecycle state.
func (s *Session) State() logic.State {
	return s.orders.State()
}

// Order returns the checkout position.
func (s *Session) Order() order.Result {
	return s.orders.Current()
}

// Confirmation returns the receipt of the completed order, or nil.
func (s *Session) Confirmation() *logic.Confirmation {
	return s.orders.Confirmation()
}

// Prefill returns the signed-in shopper's profile, or nil for a guest.
func (s *Session) Prefill(ctx context.Context) *logic.CustomerProfile {
	return s.identity.Current(ctx)
}

// Login signs the shopper in.
func (s *Session) Login(ctx context.Context, email, password string) (*logic.CustomerProfile, error) {
	return s.identity.Login(ctx, email, password)
}

// Logout signs the shopper out.
func (s *Session) Logout(ctx context.Context) error {
	return s.identity.Logout(ctx)
}

// Resume re-checks durable state, as when a tab regains focus.
func (s *Session) Resume(ctx context.Context) (bool, error) {
	return s.sync.Resume(ctx)
}

func (s *Session) close() error {
	s.logger.Debug("session closing")
	return s.sync.Close()
}
