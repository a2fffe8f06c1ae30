package tabsync

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/benjaminabbitt/storefront/cart"
	"github.com/benjaminabbitt/storefront/shop"
	"github.com/benjaminabbitt/storefront/storage"
)

// Defaults for the reconciliation loop.
const (
	DefaultPollInterval = time.Second
	DefaultOrphanWindow = 10 * time.Minute
	DefaultMarkerTTL    = 24 * time.Hour
)

// Source names the signal that triggered a reconciliation.
type Source string

const (
	SourceMessage Source = "message"
	SourceStorage Source = "storage"
	SourcePoll    Source = "poll"
	SourceResume  Source = "resume"
)

// Signal is one input to Reconcile. Token is set by a same-origin message
// naming the attempt whose payment completed.
type Signal struct {
	Source Source
	Token  string
}

// Synchronizer keeps one session's cart in step with the durable store. All
// three signal sources funnel into Reconcile, which is safe to run any number
// of times.
type Synchronizer struct {
	cart     *cart.Store
	kv       storage.Store
	bus      Bus
	notifier *BusNotifier

	pollInterval time.Duration
	orphanWindow time.Duration
	markerTTL    time.Duration
	logger       *zap.Logger
	events       *shop.EventLogger
	clock        func() time.Time

	reconcileMu sync.Mutex

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
}

// SyncOption customizes a Synchronizer.
type SyncOption func(*Synchronizer)

// WithPollInterval sets how often the durable markers are polled.
func WithPollInterval(d time.Duration) SyncOption {
	return func(s *Synchronizer) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithOrphanWindow sets how recent a completed payment must be for a
// non-empty cart to count as orphaned.
func WithOrphanWindow(d time.Duration) SyncOption {
	return func(s *Synchronizer) {
		if d > 0 {
			s.orphanWindow = d
		}
	}
}

// WithMarkerTTL sets the age after which unconfirmed markers are dropped.
func WithMarkerTTL(d time.Duration) SyncOption {
	return func(s *Synchronizer) {
		if d > 0 {
			s.markerTTL = d
		}
	}
}

// WithSyncLogger sets the structured logger.
func WithSyncLogger(l *zap.Logger) SyncOption {
	return func(s *Synchronizer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSyncEventLogger renders reconciliations for operators.
func WithSyncEventLogger(l *shop.EventLogger) SyncOption {
	return func(s *Synchronizer) { s.events = l }
}

// WithSyncClock allows tests to control time.
func WithSyncClock(clock func() time.Time) SyncOption {
	return func(s *Synchronizer) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewSynchronizer binds a session's cart to the shared store and bus.
func NewSynchronizer(c *cart.Store, kv storage.Store, bus Bus, opts ...SyncOption) *Synchronizer {
	s := &Synchronizer{
		cart:         c,
		kv:           kv,
		bus:          bus,
		pollInterval: DefaultPollInterval,
		orphanWindow: DefaultOrphanWindow,
		markerTTL:    DefaultMarkerTTL,
		logger:       zap.NewNop(),
		clock:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = s.logger.With(zap.String("session", c.Session()))
	s.notifier = NewBusNotifier(bus, s.logger)
	return s
}

// Start runs the signal loop until ctx is cancelled or Close is called.
// Starting twice is a no-op.
func (s *Synchronizer) Start(ctx context.Context) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// Close stops the signal loop and waits for it to exit.
func (s *Synchronizer) Close() error {
	s.lifecycleMu.Lock()
	cancel, done := s.cancel, s.done
	s.lifecycleMu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (s *Synchronizer) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	msgs := s.subscribe(ctx)
	changes := s.watch(ctx)
	s.poll(ctx, SourceResume)

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			s.NotifyMessage(ctx, m)
		case c, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			s.handleChange(ctx, c)
		case <-ticker.C:
			if msgs == nil && ctx.Err() == nil {
				msgs = s.subscribe(ctx)
			}
			s.poll(ctx, SourcePoll)
		}
	}
}

func (s *Synchronizer) subscribe(ctx context.Context) <-chan Message {
	msgs, err := s.bus.Subscribe(ctx)
	if err != nil {
		s.logger.Warn("bus subscription failed; relying on poll", zap.Error(err))
		return nil
	}
	return msgs
}

func (s *Synchronizer) watch(ctx context.Context) <-chan storage.Change {
	w, ok := s.kv.(storage.Watcher)
	if !ok {
		return nil
	}
	changes, err := w.Watch(ctx, "")
	if err != nil {
		s.logger.Warn("storage watch failed; relying on poll", zap.Error(err))
		return nil
	}
	return changes
}

// NotifyMessage handles one message from another session.
func (s *Synchronizer) NotifyMessage(ctx context.Context, m Message) {
	switch m.Kind {
	case KindCartChanged:
		if m.Writer == s.cart.Session() || (m.Key != "" && m.Key != s.cart.Key()) {
			return
		}
		s.reload(ctx)
	case KindMarkerChanged:
		s.reconcileLogged(ctx, Signal{Source: SourceStorage})
	case KindPaymentCompleted:
		s.reconcileLogged(ctx, Signal{Source: SourceMessage, Token: m.Token})
	}
}

func (s *Synchronizer) handleChange(ctx context.Context, c storage.Change) {
	switch {
	case c.Key == s.cart.Key():
		s.reload(ctx)
	case strings.HasPrefix(c.Key, ClearMarkerPrefix), c.Key == LastPaymentKey:
		if c.Deleted {
			return
		}
		s.reconcileLogged(ctx, Signal{Source: SourceStorage})
	}
}

func (s *Synchronizer) poll(ctx context.Context, source Source) {
	s.reload(ctx)
	s.reconcileLogged(ctx, Signal{Source: source})
}

// Resume re-reads the durable state, as when a session regains focus.
func (s *Synchronizer) Resume(ctx context.Context) (bool, error) {
	if _, err := s.cart.Reload(ctx); err != nil {
		return false, err
	}
	return s.Reconcile(ctx, Signal{Source: SourceResume})
}

func (s *Synchronizer) reload(ctx context.Context) {
	if _, err := s.cart.Reload(ctx); err != nil {
		s.logger.Warn("cart reload failed", zap.Error(err))
	}
}

func (s *Synchronizer) reconcileLogged(ctx context.Context, sig Signal) {
	if _, err := s.Reconcile(ctx, sig); err != nil {
		s.logger.Warn("reconcile failed", zap.String("source", string(sig.Source)), zap.Error(err))
	}
}

// Reconcile clears the cart if any completed payment is pending a clear, or
// if the cart looks orphaned by an interrupted clear. Reports whether lines
// were removed from the session's cart.
func (s *Synchronizer) Reconcile(ctx context.Context, sig Signal) (bool, error) {
	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()

	markers, err := ListClearMarkers(ctx, s.kv)
	if err != nil {
		return false, err
	}

	now := s.clock()
	var confirmed []string
	var errs error
	if sig.Source == SourceMessage && sig.Token != "" {
		confirmed = append(confirmed, sig.Token)
	}
	for _, m := range markers {
		switch {
		case m.Confirmed && m.Token != sig.Token:
			confirmed = append(confirmed, m.Token)
		case !m.Confirmed && now.Sub(m.CreatedAt) > s.markerTTL:
			s.logger.Info("dropping abandoned clear marker", zap.String("token", m.Token))
			errs = multierr.Append(errs, RemoveClearMarker(ctx, s.kv, m.Token))
		}
	}

	if len(confirmed) > 0 {
		s.reload(ctx)
		cleared := !s.cart.Empty()
		if cleared {
			s.cart.RequestClear(ctx)
		}
		for _, token := range confirmed {
			errs = multierr.Append(errs, RemoveClearMarker(ctx, s.kv, token))
		}
		s.logger.Info("pending clear consumed",
			zap.String("source", string(sig.Source)),
			zap.Strings("tokens", confirmed),
			zap.Bool("cleared", cleared))
		s.logReconcile(sig, "PendingClearConsumed", shop.F("tokens", strings.Join(confirmed, ",")), shop.F("cleared", cleared))
		return cleared, errs
	}

	orphaned, err := s.orphaned(ctx, now)
	if err != nil {
		return false, multierr.Append(errs, err)
	}
	if orphaned {
		s.cart.Clear(ctx)
		s.logger.Info("orphaned cart cleared", zap.String("source", string(sig.Source)))
		s.logReconcile(sig, "OrphanCleared")
		return true, errs
	}
	return false, errs
}

// orphaned reports whether a payment completed recently and the durable cart
// still holds lines written before it.
func (s *Synchronizer) orphaned(ctx context.Context, now time.Time) (bool, error) {
	if s.cart.Empty() {
		return false, nil
	}
	last, ok, err := ReadLastPayment(ctx, s.kv)
	if err != nil || !ok {
		return false, err
	}
	if now.Sub(last.CompletedAt) > s.orphanWindow {
		return false, nil
	}
	rec, err := cart.LoadRecord(ctx, s.kv, s.cart.Key())
	if err != nil {
		return false, err
	}
	return !rec.UpdatedAt.After(last.CompletedAt), nil
}

// MarkPending writes the pending-clear marker for token. Called before the
// session leaves for a redirect payment.
func (s *Synchronizer) MarkPending(ctx context.Context, token string) error {
	if err := WritePendingClear(ctx, s.kv, token, s.clock()); err != nil {
		return err
	}
	s.notifier.NotifyMarkerChanged(ctx, token, s.cart.Session())
	return nil
}

// ConfirmPayment records a completed payment, clears this session's cart and
// tells every other session to do the same.
func (s *Synchronizer) ConfirmPayment(ctx context.Context, marker PaymentMarker) error {
	if marker.CompletedAt.IsZero() {
		marker.CompletedAt = s.clock()
	}
	errs := multierr.Combine(
		ConfirmPendingClear(ctx, s.kv, marker.Token, marker.CompletedAt),
		WriteLastPayment(ctx, s.kv, marker),
	)
	if _, err := s.Reconcile(ctx, Signal{Source: SourceMessage, Token: marker.Token}); err != nil {
		errs = multierr.Append(errs, err)
	}
	s.notifier.NotifyPaymentCompleted(ctx, marker.Token, s.cart.Session())
	return errs
}

func (s *Synchronizer) logReconcile(sig Signal, eventType string, fields ...shop.Field) {
	s.events.LogEvent(shop.Event{
		Domain:  "sync",
		Subject: s.cart.Session(),
		Type:    eventType,
		At:      s.clock(),
		Fields:  append([]shop.Field{shop.F("source", sig.Source)}, fields...),
	})
}
