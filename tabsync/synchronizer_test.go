package tabsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benjaminabbitt/storefront/cart"
	"github.com/benjaminabbitt/storefront/cart/logic"
	"github.com/benjaminabbitt/storefront/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// plainStore hides the Watch method so only bus and poll signals remain.
type plainStore struct {
	storage.Store
}

// deafBus accepts publishes and refuses subscriptions.
type deafBus struct{}

func (deafBus) Publish(context.Context, Message) error { return nil }

func (deafBus) Subscribe(context.Context) (<-chan Message, error) {
	return nil, errors.New("bus unavailable")
}

type tab struct {
	cart *cart.Store
	sync *Synchronizer
}

func openTab(t *testing.T, kv storage.Store, bus Bus, name string, clock *fakeClock, start bool) *tab {
	t.Helper()
	ctx := context.Background()
	c := cart.Open(ctx, kv, name,
		cart.WithNotifier(NewBusNotifier(bus, nil)),
		cart.WithClock(clock.Now))
	s := NewSynchronizer(c, kv, bus,
		WithPollInterval(20*time.Millisecond),
		WithSyncClock(clock.Now))
	if start {
		s.Start(ctx)
		t.Cleanup(func() { require.NoError(t, s.Close()) })
	}
	return &tab{cart: c, sync: s}
}

func line(id int, price string) logic.CartLine {
	return logic.CartLine{ProductID: id, UnitPrice: decimal.RequireFromString(price)}
}

func quantities(lines []logic.CartLine) map[logic.LineKey]int {
	out := make(map[logic.LineKey]int, len(lines))
	for _, l := range lines {
		out[l.Key()] = l.Quantity
	}
	return out
}

func TestSynchronizer_CrossTabConvergence(t *testing.T) {
	ctx := context.Background()
	kv := newMem(t)
	bus := NewLocalBus(nil)
	clock := newFakeClock()
	a := openTab(t, kv, bus, "tab-a", clock, true)
	b := openTab(t, kv, bus, "tab-b", clock, true)

	_, err := a.cart.AddLine(ctx, line(7, "14.00"), 2)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return quantities(b.cart.Snapshot())["product:7"] == 2
	}, 2*time.Second, 5*time.Millisecond)

	b.cart.RemoveOne(ctx, "product:7")
	require.Eventually(t, func() bool {
		return quantities(a.cart.Snapshot())["product:7"] == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, err = b.cart.AddLine(ctx, line(8, "3.50"), 1)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		rec, err := cart.LoadRecord(ctx, kv, cart.DefaultKey)
		if err != nil {
			return false
		}
		want := quantities(rec.Lines)
		return assert.ObjectsAreEqual(want, quantities(a.cart.Snapshot())) &&
			assert.ObjectsAreEqual(want, quantities(b.cart.Snapshot()))
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSynchronizer_PollConvergesWithoutBusOrWatch(t *testing.T) {
	ctx := context.Background()
	kv := plainStore{newMem(t)}
	clock := newFakeClock()
	a := openTab(t, kv, deafBus{}, "tab-a", clock, false)
	b := openTab(t, kv, deafBus{}, "tab-b", clock, true)

	_, err := a.cart.AddLine(ctx, line(7, "14.00"), 1)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !b.cart.Empty() }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, ConfirmPendingClear(ctx, kv, "ORD-1", clock.Now()))
	require.Eventually(t, func() bool { return b.cart.Empty() }, 2*time.Second, 5*time.Millisecond)

	_, err = ReadClearMarker(ctx, kv, "ORD-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestReconcile_UnconfirmedMarkerKeepsCart(t *testing.T) {
	ctx := context.Background()
	kv := newMem(t)
	clock := newFakeClock()
	a := openTab(t, kv, NewLocalBus(nil), "tab-a", clock, false)
	_, err := a.cart.AddLine(ctx, line(7, "14.00"), 1)
	require.NoError(t, err)

	require.NoError(t, a.sync.MarkPending(ctx, "ORD-1"))
	cleared, err := a.sync.Reconcile(ctx, Signal{Source: SourcePoll})
	require.NoError(t, err)
	assert.False(t, cleared)
	assert.False(t, a.cart.Empty())
}

func TestReconcile_ConfirmedMarkerClearsOnce(t *testing.T) {
	ctx := context.Background()
	kv := newMem(t)
	clock := newFakeClock()
	a := openTab(t, kv, NewLocalBus(nil), "tab-a", clock, false)
	_, err := a.cart.AddLine(ctx, line(7, "14.00"), 2)
	require.NoError(t, err)
	require.NoError(t, a.sync.MarkPending(ctx, "ORD-1"))
	require.NoError(t, ConfirmPendingClear(ctx, kv, "ORD-1", clock.Now()))

	cleared, err := a.sync.Reconcile(ctx, Signal{Source: SourcePoll})
	require.NoError(t, err)
	assert.True(t, cleared)
	assert.True(t, a.cart.Empty())

	markers, err := ListClearMarkers(ctx, kv)
	require.NoError(t, err)
	assert.Empty(t, markers)

	for _, src := range []Source{SourcePoll, SourceStorage, SourceResume} {
		cleared, err = a.sync.Reconcile(ctx, Signal{Source: src})
		require.NoError(t, err)
		assert.False(t, cleared, "source %s", src)
	}
}

func TestReconcile_MessageSignalClears(t *testing.T) {
	ctx := context.Background()
	kv := newMem(t)
	clock := newFakeClock()
	a := openTab(t, kv, NewLocalBus(nil), "tab-a", clock, false)
	_, err := a.cart.AddLine(ctx, line(7, "14.00"), 1)
	require.NoError(t, err)

	cleared, err := a.sync.Reconcile(ctx, Signal{Source: SourceMessage, Token: "ORD-1"})
	require.NoError(t, err)
	assert.True(t, cleared)

	rec, err := cart.LoadRecord(ctx, kv, cart.DefaultKey)
	require.NoError(t, err)
	assert.Empty(t, rec.Lines)
}

func TestReconcile_OrphanHeuristic(t *testing.T) {
	ctx := context.Background()
	kv := newMem(t)
	clock := newFakeClock()
	a := openTab(t, kv, NewLocalBus(nil), "tab-a", clock, false)
	_, err := a.cart.AddLine(ctx, line(7, "14.00"), 1)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	require.NoError(t, WriteLastPayment(ctx, kv, PaymentMarker{Token: "ORD-1", Method: "wallet", CompletedAt: clock.Now()}))
	clock.Advance(time.Minute)

	cleared, err := a.sync.Reconcile(ctx, Signal{Source: SourcePoll})
	require.NoError(t, err)
	assert.True(t, cleared, "lines written before a recent payment are orphaned")
	assert.True(t, a.cart.Empty())

	clock.Advance(time.Minute)
	_, err = a.cart.AddLine(ctx, line(8, "3.50"), 1)
	require.NoError(t, err)
	cleared, err = a.sync.Reconcile(ctx, Signal{Source: SourcePoll})
	require.NoError(t, err)
	assert.False(t, cleared, "a cart refilled after the payment is kept")
	assert.False(t, a.cart.Empty())
}

func TestReconcile_OrphanWindowExpires(t *testing.T) {
	ctx := context.Background()
	kv := newMem(t)
	clock := newFakeClock()
	a := openTab(t, kv, NewLocalBus(nil), "tab-a", clock, false)
	_, err := a.cart.AddLine(ctx, line(7, "14.00"), 1)
	require.NoError(t, err)
	require.NoError(t, WriteLastPayment(ctx, kv, PaymentMarker{Token: "ORD-1", CompletedAt: clock.Now()}))

	clock.Advance(DefaultOrphanWindow + time.Second)

	cleared, err := a.sync.Reconcile(ctx, Signal{Source: SourcePoll})
	require.NoError(t, err)
	assert.False(t, cleared)
	assert.False(t, a.cart.Empty())
}

func TestReconcile_DropsAbandonedMarkers(t *testing.T) {
	ctx := context.Background()
	kv := newMem(t)
	clock := newFakeClock()
	a := openTab(t, kv, NewLocalBus(nil), "tab-a", clock, false)
	require.NoError(t, a.sync.MarkPending(ctx, "ORD-1"))

	clock.Advance(DefaultMarkerTTL + time.Minute)

	_, err := a.sync.Reconcile(ctx, Signal{Source: SourcePoll})
	require.NoError(t, err)
	markers, err := ListClearMarkers(ctx, kv)
	require.NoError(t, err)
	assert.Empty(t, markers)
}

func TestSynchronizer_ConfirmPaymentClearsEverySession(t *testing.T) {
	ctx := context.Background()
	kv := newMem(t)
	bus := NewLocalBus(nil)
	clock := newFakeClock()
	a := openTab(t, kv, bus, "tab-a", clock, true)
	b := openTab(t, kv, bus, "tab-b", clock, true)

	_, err := a.cart.AddLine(ctx, line(7, "14.00"), 2)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !b.cart.Empty() }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, a.sync.MarkPending(ctx, "ORD-1"))

	// The provider returns the shopper into a brand new session.
	c := openTab(t, kv, bus, "tab-c", clock, false)
	clock.Advance(time.Second)
	require.NoError(t, c.sync.ConfirmPayment(ctx, PaymentMarker{Token: "ORD-1", Method: "wallet"}))

	require.Eventually(t, func() bool {
		return a.cart.Empty() && b.cart.Empty() && c.cart.Empty()
	}, 2*time.Second, 5*time.Millisecond)

	markers, err := ListClearMarkers(ctx, kv)
	require.NoError(t, err)
	assert.Empty(t, markers)
	last, ok, err := ReadLastPayment(ctx, kv)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ORD-1", last.Token)
}

func TestSynchronizer_StartCloseIdempotent(t *testing.T) {
	kv := newMem(t)
	clock := newFakeClock()
	a := openTab(t, kv, NewLocalBus(nil), "tab-a", clock, false)

	require.NoError(t, a.sync.Close())
	a.sync.Start(context.Background())
	a.sync.Start(context.Background())
	require.NoError(t, a.sync.Close())
	require.NoError(t, a.sync.Close())
}
