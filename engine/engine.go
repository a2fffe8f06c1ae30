// Package engine is the UI-facing facade of the storefront. An Engine holds
// what sessions share: the durable store, the broadcast bus and the remote
// collaborators. A Session is one execution context with its own cart view
// and checkout lifecycle.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/benjaminabbitt/storefront/backend"
	"github.com/benjaminabbitt/storefront/cart"
	"github.com/benjaminabbitt/storefront/identity"
	"github.com/benjaminabbitt/storefront/order"
	"github.com/benjaminabbitt/storefront/payment"
	"github.com/benjaminabbitt/storefront/shop"
	"github.com/benjaminabbitt/storefront/storage"
	"github.com/benjaminabbitt/storefront/tabsync"
)

// DefaultSessionIdle is how long a session may go unused before it is closed.
const DefaultSessionIdle = 30 * time.Minute

// Config tunes an Engine. Zero values take each component's default. A
// negative SessionIdle keeps sessions until they are closed explicitly.
type Config struct {
	CartKey         string
	MaxLineQuantity int
	PollInterval    time.Duration
	OrphanWindow    time.Duration
	MarkerTTL       time.Duration
	RequestTimeout  time.Duration
	Currency        string
	DefaultShipping decimal.Decimal
	Wallet          payment.WalletConfig
	SessionSecret   string
	SessionIdle     time.Duration
}

// Remote groups the collaborators reached over the network. Any may be nil:
// a nil Orders makes every checkout fail, the rest degrade gracefully.
type Remote struct {
	Orders   payment.OrderCreator
	Capture  payment.CaptureProvider
	Settings order.SettingsSource
	Shipping backend.ShippingPricer
	Accounts order.AccountCreator
	Identity identity.SessionAPI
}

// RemoteFromClient wires every collaborator to one backend client.
func RemoteFromClient(c *backend.Client, capture payment.CaptureProvider, quoteCache int) Remote {
	var shipping backend.ShippingPricer = c
	if quoteCache > 0 {
		if cached, err := backend.NewCachedPricer(c, quoteCache); err == nil {
			shipping = cached
		}
	}
	return Remote{
		Orders:   c,
		Capture:  capture,
		Settings: c,
		Shipping: shipping,
		Accounts: c,
		Identity: c,
	}
}

// Engine creates and tracks sessions.
type Engine struct {
	kv      storage.Store
	bus     tabsync.Bus
	cfg     Config
	remote  Remote
	gateway *payment.Gateway
	logger  *zap.Logger
	events  *shop.EventLogger
	clock   func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	lastSeen map[string]time.Time

	idle     time.Duration
	stop     chan struct{}
	stopOnce sync.Once
	reaper   sync.WaitGroup
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithEventLogger renders lifecycle events for operators.
func WithEventLogger(l *shop.EventLogger) Option {
	return func(e *Engine) { e.events = l }
}

// WithClock allows tests to control time in every component.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// New creates an engine over kv and bus.
func New(kv storage.Store, bus tabsync.Bus, cfg Config, remote Remote, opts ...Option) *Engine {
	e := &Engine{
		kv:       kv,
		bus:      bus,
		cfg:      cfg,
		remote:   remote,
		logger:   zap.NewNop(),
		clock:    func() time.Time { return time.Now().UTC() },
		sessions: make(map[string]*Session),
		lastSeen: make(map[string]time.Time),
		idle:     cfg.SessionIdle,
		stop:     make(chan struct{}),
	}
	if e.idle == 0 {
		e.idle = DefaultSessionIdle
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	orders := remote.Orders
	if orders == nil {
		orders = unavailableOrders{}
	}
	gwOpts := []payment.Option{
		payment.WithWallet(cfg.Wallet),
		payment.WithRequestTimeout(cfg.RequestTimeout),
		payment.WithLogger(e.logger),
		payment.WithEventLogger(e.events),
		payment.WithClock(e.clock),
	}
	if remote.Capture != nil {
		gwOpts = append(gwOpts, payment.WithCapture(remote.Capture))
	}
	e.gateway = payment.NewGateway(orders, kv, gwOpts...)
	if e.idle > 0 {
		e.reaper.Add(1)
		go e.reap(reapInterval(e.idle))
	}
	return e
}

// Open returns the session with id, creating and starting it if needed. An
// empty id gets a fresh one.
func (e *Engine) Open(ctx context.Context, id string) *Session {
	if id == "" {
		id = shop.NewSessionID()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastSeen[id] = e.clock()
	if s, ok := e.sessions[id]; ok {
		return s
	}
	s := e.newSession(ctx, id)
	e.sessions[id] = s
	e.logger.Info("session opened", zap.String("session", id))
	return s
}

// Session returns an open session and counts the lookup as use, so it
// postpones idle eviction. It never creates a session.
func (e *Engine) Session(id string) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[id]
	if ok {
		e.lastSeen[id] = e.clock()
	}
	return s, ok
}

// Sessions returns the number of open sessions.
func (e *Engine) Sessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// CloseSession stops and forgets the session with id.
func (e *Engine) CloseSession(id string) error {
	e.mu.Lock()
	s, ok := e.sessions[id]
	delete(e.sessions, id)
	delete(e.lastSeen, id)
	e.mu.Unlock()
	if !ok {
		return nil
	}
	return s.close()
}

// EvictIdle closes every session unused for longer than the idle timeout as
// of now and returns how many were closed.
func (e *Engine) EvictIdle(now time.Time) int {
	if e.idle <= 0 {
		return 0
	}
	e.mu.Lock()
	var idle []*Session
	for id, seen := range e.lastSeen {
		if now.Sub(seen) <= e.idle {
			continue
		}
		if s, ok := e.sessions[id]; ok {
			idle = append(idle, s)
		}
		delete(e.sessions, id)
		delete(e.lastSeen, id)
	}
	e.mu.Unlock()

	for _, s := range idle {
		if err := s.close(); err != nil {
			e.logger.Warn("idle session close failed", zap.String("session", s.ID()), zap.Error(err))
		}
		e.logger.Info("idle session closed", zap.String("session", s.ID()))
	}
	return len(idle)
}

func (e *Engine) reap(interval time.Duration) {
	defer e.reaper.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.EvictIdle(e.clock())
		}
	}
}

func reapInterval(idle time.Duration) time.Duration {
	interval := idle / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	return interval
}

// Publish relays a same-origin message, such as one posted by a
// confirmation page, to every session.
func (e *Engine) Publish(ctx context.Context, m tabsync.Message) error {
	if m.At.IsZero() {
		m.At = e.clock()
	}
	if err := m.Validate(); err != nil {
		return err
	}
	return e.bus.Publish(ctx, m)
}

// Close stops the idle reaper and every session.
func (e *Engine) Close() error {
	e.stopOnce.Do(func() { close(e.stop) })
	e.reaper.Wait()

	e.mu.Lock()
	sessions := e.sessions
	e.sessions = make(map[string]*Session)
	e.lastSeen = make(map[string]time.Time)
	e.mu.Unlock()

	var errs error
	for _, s := range sessions {
		errs = multierr.Append(errs, s.close())
	}
	return errs
}

func (e *Engine) newSession(ctx context.Context, id string) *Session {
	logger := e.logger.With(zap.String("session", id))
	c := cart.Open(ctx, e.kv, id,
		cart.WithKey(e.cfg.CartKey),
		cart.WithMaxQuantity(e.cfg.MaxLineQuantity),
		cart.WithNotifier(tabsync.NewBusNotifier(e.bus, logger)),
		cart.WithLogger(e.logger),
		cart.WithEventLogger(e.events),
		cart.WithClock(e.clock))

	syncOpts := []tabsync.SyncOption{
		tabsync.WithSyncLogger(e.logger),
		tabsync.WithSyncEventLogger(e.events),
		tabsync.WithSyncClock(e.clock),
	}
	if e.cfg.PollInterval > 0 {
		syncOpts = append(syncOpts, tabsync.WithPollInterval(e.cfg.PollInterval))
	}
	if e.cfg.OrphanWindow > 0 {
		syncOpts = append(syncOpts, tabsync.WithOrphanWindow(e.cfg.OrphanWindow))
	}
	if e.cfg.MarkerTTL > 0 {
		syncOpts = append(syncOpts, tabsync.WithMarkerTTL(e.cfg.MarkerTTL))
	}
	synchronizer := tabsync.NewSynchronizer(c, e.kv, e.bus, syncOpts...)

	ctrlOpts := []order.Option{
		order.WithCurrency(e.cfg.Currency),
		order.WithRequestTimeout(e.cfg.RequestTimeout),
		order.WithAttemptRetention(e.cfg.OrphanWindow, 0),
		order.WithLogger(e.logger),
		order.WithEventLogger(e.events),
		order.WithClock(e.clock),
	}
	if !e.cfg.DefaultShipping.IsZero() {
		ctrlOpts = append(ctrlOpts, order.WithDefaultShipping(e.cfg.DefaultShipping))
	}
	if e.remote.Settings != nil {
		ctrlOpts = append(ctrlOpts, order.WithSettings(e.remote.Settings))
	}
	if e.remote.Shipping != nil {
		ctrlOpts = append(ctrlOpts, order.WithShipping(e.remote.Shipping))
	}
	if e.remote.Accounts != nil {
		ctrlOpts = append(ctrlOpts, order.WithAccounts(e.remote.Accounts))
	}
	ctrl := order.NewController(c, synchronizer, e.gateway, e.kv, ctrlOpts...)

	resolver := identity.NewResolver(e.remote.Identity, e.kv,
		identity.WithSigningSecret(e.cfg.SessionSecret),
		identity.WithTimeout(e.cfg.RequestTimeout),
		identity.WithLogger(logger),
		identity.WithClock(e.clock))

	s := &Session{id: id, cart: c, sync: synchronizer, orders: ctrl, identity: resolver, logger: logger}
	synchronizer.Start(context.WithoutCancel(ctx))
	return s
}

type unavailableOrders struct{}

func (unavailableOrders) CreateOrder(context.Context, backend.CreateOrderRequest) (backend.OrderReceipt, error) {
	return backend.OrderReceipt{}, &backend.NetworkError{Op: "POST /orders", Err: errNoBackend}
}
