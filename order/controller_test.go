package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benjaminabbitt/storefront/backend"
	"github.com/benjaminabbitt/storefront/cart"
	cartlogic "github.com/benjaminabbitt/storefront/cart/logic"
	"github.com/benjaminabbitt/storefront/order/logic"
	"github.com/benjaminabbitt/storefront/payment"
	"github.com/benjaminabbitt/storefront/shop"
	"github.com/benjaminabbitt/storefront/storage"
	"github.com/benjaminabbitt/storefront/tabsync"
)

var testNow = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

type fakeOrders struct {
	mu       sync.Mutex
	requests []backend.CreateOrderRequest
	err      error
	// gate, when set, holds every CreateOrder until it is closed.
	gate chan struct{}
}

func (f *fakeOrders) CreateOrder(_ context.Context, req backend.CreateOrderRequest) (backend.OrderReceipt, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return backend.OrderReceipt{}, f.err
	}
	f.requests = append(f.requests, req)
	return backend.OrderReceipt{OrderNumber: "SO-2001"}, nil
}

func (f *fakeOrders) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeCapture struct {
	mu       sync.Mutex
	confirms int
}

func (f *fakeCapture) CreateIntent(_ context.Context, amount decimal.Decimal, currency, reference string) (backend.Intent, error) {
	return backend.Intent{ID: "pi_" + reference, Amount: amount, Currency: currency}, nil
}

func (f *fakeCapture) Confirm(_ context.Context, intentID string, _ backend.Card) (backend.Capture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirms++
	return backend.Capture{ID: "ch_" + intentID, Status: backend.CaptureSucceeded}, nil
}

func (f *fakeCapture) confirmed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.confirms
}

var testCard = backend.Card{Number: "4242 4242 4242 4242", ExpMonth: 12, ExpYear: 2030, CVC: "123"}

type fakeShipping struct {
	quote   backend.Quote
	err     error
	country string
	weight  int
	calls   int
}

func (f *fakeShipping) Quote(_ context.Context, country string, weight int) (backend.Quote, error) {
	f.calls++
	f.country, f.weight = country, weight
	return f.quote, f.err
}

type fakeSettings struct {
	dto backend.PaymentSettings
	err error
}

func (f *fakeSettings) PaymentSettings(context.Context) (backend.PaymentSettings, error) {
	return f.dto, f.err
}

type fakeAccounts struct {
	orders *fakeOrders
	err    error
	seen   []backend.RegisterRequest
	// ordersAtRegister is the number of orders created when Register ran.
	ordersAtRegister int
}

func (f *fakeAccounts) Register(_ context.Context, req backend.RegisterRequest) (backend.User, error) {
	f.seen = append(f.seen, req)
	f.ordersAtRegister = f.orders.calls()
	if f.err != nil {
		return backend.User{}, f.err
	}
	return backend.User{ID: "user-9", Email: req.Email}, nil
}

type rig struct {
	kv       storage.Store
	bus      *tabsync.LocalBus
	orders   *fakeOrders
	shipping *fakeShipping
	capture  payment.CaptureProvider
}

type session struct {
	cart *cart.Store
	sync *tabsync.Synchronizer
	ctrl *Controller
}

func newRig(t *testing.T) *rig {
	t.Helper()
	kv, err := storage.NewMemStore()
	require.NoError(t, err)
	return &rig{
		kv:       kv,
		bus:      tabsync.NewLocalBus(nil),
		orders:   &fakeOrders{},
		shipping: &fakeShipping{quote: backend.Quote{Price: decimal.RequireFromString("9.00"), ZoneLabel: "CH"}},
	}
}

func (r *rig) open(t *testing.T, name string, opts ...Option) *session {
	t.Helper()
	ctx := context.Background()
	clock := func() time.Time { return testNow }
	c := cart.Open(ctx, r.kv, name, cart.WithNotifier(tabsync.NewBusNotifier(r.bus, nil)), cart.WithClock(clock))
	s := tabsync.NewSynchronizer(c, r.kv, r.bus, tabsync.WithSyncClock(clock))
	gwOpts := []payment.Option{
		payment.WithClock(clock),
		payment.WithWallet(payment.WalletConfig{
			MerchantID:   "m-1",
			RedirectBase: "https://wallet.example/pay",
			ReturnURL:    "https://shop.example/return",
		}),
	}
	if r.capture != nil {
		gwOpts = append(gwOpts, payment.WithCapture(r.capture))
	}
	gw := payment.NewGateway(r.orders, r.kv, gwOpts...)
	opts = append([]Option{WithShipping(r.shipping), WithClock(clock)}, opts...)
	return &session{cart: c, sync: s, ctrl: NewController(c, s, gw, r.kv, opts...)}
}

func (s *session) add(t *testing.T, id int, price string, qty int) {
	t.Helper()
	_, err := s.cart.AddLine(context.Background(), cartlogic.CartLine{ProductID: id, UnitPrice: decimal.RequireFromString(price)}, qty)
	require.NoError(t, err)
}

func profile() logic.CustomerProfile {
	return logic.CustomerProfile{
		FirstName: "Ada", LastName: "Muster", Email: "ada@example.ch", Phone: "+41 79 000 00 00",
		Address: logic.Address{Street: "Bahnhofstrasse 1", PostalCode: "8001", City: "Zürich", Country: "CH"},
	}
}

func TestCheckout_ValidationNeverReachesNetwork(t *testing.T) {
	r := newRig(t)
	s := r.open(t, "tab-1")
	s.add(t, 7, "14.00", 1)
	p := profile()
	p.Address = logic.Address{}

	_, err := s.ctrl.Checkout(context.Background(), CheckoutRequest{Profile: p, Method: logic.MethodInvoice})

	var verr *logic.ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.True(t, verr.Has("address"))
	assert.True(t, verr.Has("postalCode"))
	assert.Equal(t, logic.StateDraft, s.ctrl.State())
	assert.Zero(t, r.orders.calls())
	assert.Zero(t, r.shipping.calls)
}

func TestCheckout_EmptyCartRejected(t *testing.T) {
	r := newRig(t)
	s := r.open(t, "tab-1")

	_, err := s.ctrl.Checkout(context.Background(), CheckoutRequest{Profile: profile(), Method: logic.MethodInvoice})
	var verr *logic.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.True(t, verr.Has("cart"))
}

func TestCheckout_InvoiceHappyPath(t *testing.T) {
	r := newRig(t)
	s := r.open(t, "tab-1")
	s.add(t, 7, "14.00", 1)

	res, err := s.ctrl.Checkout(context.Background(), CheckoutRequest{Profile: profile(), Method: logic.MethodInvoice})
	require.NoError(t, err)

	assert.Equal(t, logic.StateCompleted, res.State)
	require.Equal(t, 1, r.orders.calls())
	req := r.orders.requests[0]
	assert.Equal(t, "pending", req.PaymentStatus)
	assert.Equal(t, 7, req.Lines[0].ProductID)
	assert.True(t, req.Total.Equal(decimal.RequireFromString("23.00")))
	assert.Empty(t, s.cart.Snapshot())

	conf := s.ctrl.Confirmation()
	require.NotNil(t, conf)
	assert.Equal(t, "SO-2001", conf.OrderNumber)
	assert.Equal(t, logic.MethodInvoice, conf.Method)
	assert.NotEmpty(t, conf.NextSteps)

	last, ok, err := tabsync.ReadLastPayment(context.Background(), r.kv)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, res.Token, last.Token)
}

func TestCheckout_ManualIsDeferredWithReference(t *testing.T) {
	r := newRig(t)
	settings := &fakeSettings{dto: backend.PaymentSettings{
		Currency:        "CHF",
		Methods:         []backend.MethodSetting{{Method: "manual", Enabled: true}},
		ManualRecipient: "+41 79 123 45 67",
	}}
	s := r.open(t, "tab-1", WithSettings(settings))
	s.add(t, 3, "10.00", 2)

	res, err := s.ctrl.Checkout(context.Background(), CheckoutRequest{Profile: profile()})
	require.NoError(t, err)

	assert.Equal(t, logic.StateCompleted, res.State)
	require.NotNil(t, res.Instructions)
	assert.Equal(t, "SO-2001", res.Instructions.Reference)
	assert.True(t, res.Confirmation.Deferred)
	assert.Contains(t, res.Confirmation.NextSteps, "Reference: SO-2001")
	assert.Empty(t, s.cart.Snapshot())
}

func TestCheckout_NoEnabledMethods(t *testing.T) {
	r := newRig(t)
	s := r.open(t, "tab-1", WithSettings(&fakeSettings{dto: backend.PaymentSettings{Currency: "CHF"}}))
	s.add(t, 7, "14.00", 1)

	_, err := s.ctrl.Checkout(context.Background(), CheckoutRequest{Profile: profile(), Method: logic.MethodInvoice})
	assert.ErrorIs(t, err, payment.ErrNoPaymentMethods)
	assert.Equal(t, logic.StateDraft, s.ctrl.State())
	assert.Zero(t, r.orders.calls())
}

func TestCheckout_ShippingQuoteAndFallback(t *testing.T) {
	r := newRig(t)
	s := r.open(t, "tab-1")
	s.add(t, 7, "14.00", 1)

	res, err := s.ctrl.Checkout(context.Background(), CheckoutRequest{Profile: profile(), Method: logic.MethodInvoice})
	require.NoError(t, err)
	assert.True(t, res.Confirmation.ShippingCost.Equal(decimal.RequireFromString("9.00")))
	assert.Equal(t, "CH", r.shipping.country)

	r.shipping.err = errors.New("zone lookup failed")
	require.NoError(t, s.ctrl.NewOrder())
	s.add(t, 7, "14.00", 1)
	res, err = s.ctrl.Checkout(context.Background(), CheckoutRequest{Profile: profile(), Method: logic.MethodInvoice})
	require.NoError(t, err)
	assert.True(t, res.Confirmation.ShippingCost.Equal(DefaultShipping))
}

func TestCheckout_WalletRoundTripInFreshSession(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	s := r.open(t, "tab-1")
	s.add(t, 7, "14.00", 2)

	res, err := s.ctrl.Checkout(ctx, CheckoutRequest{Profile: profile(), Method: logic.MethodWallet})
	require.NoError(t, err)
	require.Equal(t, logic.StateAwaitingExternalConfirmation, res.State)
	assert.Contains(t, res.RedirectURL, "amount=37.00")
	assert.Zero(t, r.orders.calls())

	_, err = tabsync.ReadClearMarker(ctx, r.kv, res.Token)
	require.NoError(t, err, "pending clear marker must exist before leaving")

	// The shopper comes back in a new context with nothing in memory.
	back := r.open(t, "tab-2")
	done, err := back.ctrl.HandleReturn(ctx, res.Token, "success")
	require.NoError(t, err)
	assert.Equal(t, logic.StateCompleted, done.State)
	assert.Equal(t, "SO-2001", done.Confirmation.OrderNumber)
	assert.Empty(t, back.cart.Snapshot())
	require.Equal(t, 1, r.orders.calls())
	assert.Equal(t, "completed", r.orders.requests[0].PaymentStatus)

	// The original tab converges on its next signal.
	_, err = s.sync.Reconcile(ctx, tabsync.Signal{Source: tabsync.SourcePoll})
	require.NoError(t, err)
	_, err = s.cart.Reload(ctx)
	require.NoError(t, err)
	assert.Empty(t, s.cart.Snapshot())

	// Landing on the confirmation route again changes nothing.
	again, err := back.ctrl.HandleReturn(ctx, res.Token, "success")
	require.NoError(t, err)
	assert.Equal(t, logic.StateCompleted, again.State)
	assert.Equal(t, 1, r.orders.calls())
}

func TestCheckout_WalletNegativeOrMissingStatusKeepsCart(t *testing.T) {
	for _, status := range []string{"cancelled", ""} {
		t.Run("status="+status, func(t *testing.T) {
			r := newRig(t)
			ctx := context.Background()
			s := r.open(t, "tab-1")
			s.add(t, 7, "14.00", 2)

			res, err := s.ctrl.Checkout(ctx, CheckoutRequest{Profile: profile(), Method: logic.MethodWallet})
			require.NoError(t, err)

			done, err := s.ctrl.HandleReturn(ctx, res.Token, status)
			require.NoError(t, err)
			assert.Equal(t, logic.StateFailed, done.State)
			assert.NotEmpty(t, done.Reason)
			assert.Len(t, s.cart.Snapshot(), 1)
			assert.Zero(t, r.orders.calls())

			_, err = tabsync.ReadClearMarker(ctx, r.kv, res.Token)
			assert.ErrorIs(t, err, storage.ErrNotFound)
		})
	}
}

func TestHandleReturn_UnknownTokenIsAmbiguous(t *testing.T) {
	r := newRig(t)
	s := r.open(t, "tab-1")

	res, err := s.ctrl.HandleReturn(context.Background(), "ORD-nope", "success")
	var amb *payment.ReconciliationAmbiguity
	assert.True(t, errors.As(err, &amb))
	assert.Equal(t, payment.FailureAmbiguity, res.Failure)
	assert.Equal(t, logic.StateDraft, res.State)
}

func TestCheckout_DuplicateWhileAwaitingIsIgnored(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	s := r.open(t, "tab-1")
	s.add(t, 7, "14.00", 2)

	first, err := s.ctrl.Checkout(ctx, CheckoutRequest{Profile: profile(), Method: logic.MethodWallet})
	require.NoError(t, err)

	second, err := s.ctrl.Checkout(ctx, CheckoutRequest{Profile: profile(), Method: logic.MethodWallet})
	assert.ErrorIs(t, err, logic.ErrDuplicateSubmission)
	assert.Equal(t, first.Token, second.Token)

	tokens, err := payment.ListAttempts(ctx, r.kv)
	require.NoError(t, err)
	assert.Len(t, tokens, 1)
}

func TestCheckout_ConcurrentSubmitsCreateOneOrder(t *testing.T) {
	r := newRig(t)
	release := make(chan struct{})
	r.orders.gate = release
	ctx := context.Background()
	s := r.open(t, "tab-1")
	s.add(t, 7, "14.00", 1)

	type outcome struct {
		res Result
		err error
	}
	results := make(chan outcome, 8)
	var start, done sync.WaitGroup
	start.Add(1)
	for i := 0; i < 8; i++ {
		done.Add(1)
		go func() {
			defer done.Done()
			start.Wait()
			res, err := s.ctrl.Checkout(ctx, CheckoutRequest{Profile: profile(), Method: logic.MethodInvoice})
			results <- outcome{res: res, err: err}
		}()
	}
	start.Done()

	// Seven submissions are turned away while the first waits on the backend.
	for i := 0; i < 7; i++ {
		select {
		case o := <-results:
			assert.ErrorIs(t, o.err, logic.ErrDuplicateSubmission)
		case <-time.After(5 * time.Second):
			close(release)
			t.Fatal("duplicate submission blocked on the order in flight")
		}
	}
	close(release)
	done.Wait()

	o := <-results
	require.NoError(t, o.err)
	assert.Equal(t, logic.StateCompleted, o.res.State)
	assert.Equal(t, 1, r.orders.calls())
}

func TestHandleReturn_FailedAttemptCannotCompleteLater(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	s := r.open(t, "tab-1")
	s.add(t, 7, "14.00", 1)

	res, err := s.ctrl.Checkout(ctx, CheckoutRequest{Profile: profile(), Method: logic.MethodWallet})
	require.NoError(t, err)
	cancelled, err := s.ctrl.HandleReturn(ctx, res.Token, "cancelled")
	require.NoError(t, err)
	require.Equal(t, logic.StateFailed, cancelled.State)

	rec, err := payment.LoadAttempt(ctx, r.kv, res.Token)
	require.NoError(t, err)
	assert.True(t, rec.Failed())

	late, err := s.ctrl.HandleReturn(ctx, res.Token, "success")
	assert.ErrorIs(t, err, logic.ErrAttemptClosed)
	assert.Equal(t, logic.StateFailed, late.State)
	assert.Equal(t, payment.FailureRejected, late.Failure)

	// A session with nothing in memory finds the closed snapshot.
	other := r.open(t, "tab-2")
	late, err = other.ctrl.HandleReturn(ctx, res.Token, "success")
	assert.ErrorIs(t, err, logic.ErrAttemptClosed)
	assert.Equal(t, logic.StateDraft, late.State)
	assert.Equal(t, payment.ReasonAttemptClosed, late.Reason)

	assert.Zero(t, r.orders.calls())
	assert.Len(t, s.cart.Snapshot(), 1)
	require.NoError(t, s.ctrl.Retry())
}

func TestHandleReturn_CancelInOtherSessionFailsWaitingSession(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	s := r.open(t, "tab-1")
	s.add(t, 7, "14.00", 1)

	res, err := s.ctrl.Checkout(ctx, CheckoutRequest{Profile: profile(), Method: logic.MethodWallet})
	require.NoError(t, err)
	other := r.open(t, "tab-2")
	cancelled, err := other.ctrl.HandleReturn(ctx, res.Token, "cancelled")
	require.NoError(t, err)
	require.Equal(t, logic.StateFailed, cancelled.State)

	// The first session is still waiting when a late success arrives.
	late, err := s.ctrl.HandleReturn(ctx, res.Token, "success")
	require.NoError(t, err)
	assert.Equal(t, logic.StateFailed, late.State)
	assert.Equal(t, payment.FailureRejected, late.Failure)
	assert.Zero(t, r.orders.calls())
}

func TestCheckout_CapturedButUnrecordedIsRecoveredNotCharged(t *testing.T) {
	r := newRig(t)
	capture := &fakeCapture{}
	r.capture = capture
	r.orders.err = &backend.NetworkError{Op: "POST /orders", Err: context.DeadlineExceeded}
	ctx := context.Background()
	s := r.open(t, "tab-1")
	s.add(t, 7, "14.00", 1)
	card := testCard

	res, err := s.ctrl.Checkout(ctx, CheckoutRequest{Profile: profile(), Method: logic.MethodCard, Card: &card})
	require.NoError(t, err)
	require.Equal(t, logic.StateFailed, res.State)
	assert.Equal(t, payment.FailureAmbiguity, res.Failure)
	assert.Len(t, s.cart.Snapshot(), 1)

	err = s.ctrl.Retry()
	code, ok := shop.CodeOf(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, shop.StatusFailedPrecondition, code)
	assert.Equal(t, logic.StateFailed, s.ctrl.State())

	// Still failing: the capture stays on record.
	again, err := s.ctrl.RecoverPayment(ctx)
	require.NoError(t, err)
	assert.Equal(t, logic.StateFailed, again.State)
	assert.Error(t, s.ctrl.Retry())

	r.orders.mu.Lock()
	r.orders.err = nil
	r.orders.mu.Unlock()
	done, err := s.ctrl.RecoverPayment(ctx)
	require.NoError(t, err)
	assert.Equal(t, logic.StateCompleted, done.State)
	require.NotNil(t, done.Confirmation)
	assert.Equal(t, "SO-2001", done.Confirmation.OrderNumber)
	assert.Equal(t, 1, capture.confirmed(), "card is charged once")
	require.Equal(t, 1, r.orders.calls())
	assert.Equal(t, "ch_pi_"+res.Token, r.orders.requests[0].ProviderRef)
	assert.Empty(t, s.cart.Snapshot())

	_, err = s.ctrl.RecoverPayment(ctx)
	code, ok = shop.CodeOf(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, shop.StatusFailedPrecondition, code)
}

func TestPruneAttempts_KeepsCapturedPayments(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	s := r.open(t, "tab-1")

	captured := logic.NewAttempt("ORD-paid", nil, profile(), logic.MethodCard, decimal.Zero, "CHF", testNow.Add(-72*time.Hour))
	require.NoError(t, payment.SaveAttempt(ctx, r.kv, payment.AttemptRecord{Attempt: captured, ProviderRef: "ch_1"}))

	n, err := s.ctrl.PruneAttempts(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCheckout_FailureKeepsCartAndRetryReturnsToDraft(t *testing.T) {
	r := newRig(t)
	r.orders.err = &backend.NetworkError{Op: "POST /orders", Err: context.DeadlineExceeded}
	ctx := context.Background()
	s := r.open(t, "tab-1")
	s.add(t, 7, "14.00", 1)

	res, err := s.ctrl.Checkout(ctx, CheckoutRequest{Profile: profile(), Method: logic.MethodInvoice})
	require.NoError(t, err)
	assert.Equal(t, logic.StateFailed, res.State)
	assert.Equal(t, payment.FailureNetwork, res.Failure)
	assert.Equal(t, payment.ReasonNetwork, res.Reason)
	assert.Len(t, s.cart.Snapshot(), 1)

	_, err = s.ctrl.Checkout(ctx, CheckoutRequest{Profile: profile(), Method: logic.MethodInvoice})
	assert.ErrorIs(t, err, logic.ErrInvalidTransition)

	require.NoError(t, s.ctrl.Retry())
	assert.Equal(t, logic.StateDraft, s.ctrl.State())
	assert.ErrorIs(t, s.ctrl.Retry(), logic.ErrInvalidTransition)

	r.orders.mu.Lock()
	r.orders.err = nil
	r.orders.mu.Unlock()
	res, err = s.ctrl.Checkout(ctx, CheckoutRequest{Profile: profile(), Method: logic.MethodInvoice})
	require.NoError(t, err)
	assert.Equal(t, logic.StateCompleted, res.State)
}

func TestCheckout_AccountCreatedBeforeOrder(t *testing.T) {
	r := newRig(t)
	accounts := &fakeAccounts{orders: r.orders}
	s := r.open(t, "tab-1", WithAccounts(accounts))
	s.add(t, 7, "14.00", 1)

	_, err := s.ctrl.Checkout(context.Background(), CheckoutRequest{
		Profile: profile(), Method: logic.MethodInvoice, CreateAccount: true, Password: "hunter2",
	})
	require.NoError(t, err)

	require.Len(t, accounts.seen, 1)
	assert.Zero(t, accounts.ordersAtRegister)
	require.Equal(t, 1, r.orders.calls())
	assert.Equal(t, "user-9", r.orders.requests[0].UserID)
}

func TestCheckout_AccountFailureStopsOrder(t *testing.T) {
	r := newRig(t)
	accounts := &fakeAccounts{orders: r.orders, err: &backend.APIError{Status: 409, Message: "Email already registered"}}
	s := r.open(t, "tab-1", WithAccounts(accounts))
	s.add(t, 7, "14.00", 1)

	_, err := s.ctrl.Checkout(context.Background(), CheckoutRequest{
		Profile: profile(), Method: logic.MethodInvoice, CreateAccount: true, Password: "hunter2",
	})
	var accErr *AccountError
	require.True(t, errors.As(err, &accErr))
	assert.Equal(t, "Email already registered", accErr.Message)
	assert.Zero(t, r.orders.calls())
	assert.Equal(t, logic.StateDraft, s.ctrl.State())
}

func TestCheckout_AccountNeedsPassword(t *testing.T) {
	r := newRig(t)
	s := r.open(t, "tab-1", WithAccounts(&fakeAccounts{orders: r.orders}))
	s.add(t, 7, "14.00", 1)

	_, err := s.ctrl.Checkout(context.Background(), CheckoutRequest{Profile: profile(), Method: logic.MethodInvoice, CreateAccount: true})
	var verr *logic.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.True(t, verr.Has("password"))
}

func TestCheckout_CardWithoutDetailsStaysDraft(t *testing.T) {
	r := newRig(t)
	s := r.open(t, "tab-1")
	s.add(t, 7, "14.00", 1)

	_, err := s.ctrl.Checkout(context.Background(), CheckoutRequest{Profile: profile(), Method: logic.MethodCard})
	var verr *logic.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.True(t, verr.Has("card"))
	assert.Equal(t, logic.StateDraft, s.ctrl.State())
}

func TestPruneAttempts(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	s := r.open(t, "tab-1")

	old := logic.NewAttempt("ORD-old", nil, profile(), logic.MethodWallet, decimal.Zero, "CHF", testNow.Add(-48*time.Hour))
	fresh := logic.NewAttempt("ORD-fresh", nil, profile(), logic.MethodWallet, decimal.Zero, "CHF", testNow.Add(-time.Hour))
	recorded := logic.NewAttempt("ORD-done", nil, profile(), logic.MethodWallet, decimal.Zero, "CHF", testNow.Add(-time.Hour))
	require.NoError(t, payment.SaveAttempt(ctx, r.kv, payment.AttemptRecord{Attempt: old}))
	require.NoError(t, payment.SaveAttempt(ctx, r.kv, payment.AttemptRecord{Attempt: fresh}))
	require.NoError(t, payment.SaveAttempt(ctx, r.kv, payment.AttemptRecord{Attempt: recorded, OrderNumber: "SO-1", RecordedAt: testNow.Add(-time.Hour)}))

	n, err := s.ctrl.PruneAttempts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	tokens, err := payment.ListAttempts(ctx, r.kv)
	require.NoError(t, err)
	assert.Equal(t, []string{"ORD-fresh"}, tokens)
}
