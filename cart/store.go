// Package cart implements the persistent cart store: the in-memory view one
// session works against, backed by a durable record shared with every other
// session.
package cart

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/benjaminabbitt/storefront/cart/logic"
	"github.com/benjaminabbitt/storefront/shop"
	"github.com/benjaminabbitt/storefront/storage"
)

// Notifier is told about every successful durable write so other sessions
// can re-read the record.
type Notifier interface {
	NotifyCartChanged(ctx context.Context, key, writer string)
}

// Listener receives the current lines after every change to the view.
type Listener func(lines []logic.CartLine)

// Store is one session's cart. The in-memory view is authoritative for the
// session; the durable record is last-writer-wins across sessions.
type Store struct {
	mu        sync.Mutex
	key       string
	session   string
	kv        storage.Store
	logic     logic.CartLogic
	state     *logic.CartState
	notifier  Notifier
	listeners map[int]Listener
	nextID    int
	logger    *zap.Logger
	events    *shop.EventLogger
	clock     func() time.Time
	dirty     bool
}

// Option customizes store construction.
type Option func(*Store)

// WithKey overrides the durable record key.
func WithKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

// WithMaxQuantity overrides the per-line quantity cap.
func WithMaxQuantity(n int) Option {
	return func(s *Store) { s.logic = logic.NewCartLogic(n) }
}

// WithNotifier sets the change notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithEventLogger renders cart events for operators.
func WithEventLogger(l *shop.EventLogger) Option {
	return func(s *Store) { s.events = l }
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// Open builds a session's cart and loads the durable record. A failed read
// leaves the session with an empty cart.
func Open(ctx context.Context, kv storage.Store, session string, opts ...Option) *Store {
	s := &Store{
		key:       DefaultKey,
		session:   session,
		kv:        kv,
		logic:     logic.NewCartLogic(0),
		state:     logic.EmptyState(),
		listeners: make(map[int]Listener),
		logger:    zap.NewNop(),
		clock:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = s.logger.With(zap.String("session", session), zap.String("cart_key", s.key))
	if _, err := s.Reload(ctx); err != nil {
		s.logger.Warn("initial cart load failed", zap.Error(err))
	}
	return s
}

// Key returns the durable record key.
func (s *Store) Key() string {
	return s.key
}

// Session returns the id of the owning session.
func (s *Store) Session() string {
	return s.session
}

// AddLine merges quantity into the line with item's identity, or appends a
// new line. Returns the updated cart.
func (s *Store) AddLine(ctx context.Context, item logic.CartLine, quantity int) ([]logic.CartLine, error) {
	s.mu.Lock()
	event, err := s.logic.HandleAddLine(s.state, item, quantity)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.applyLocked(ctx, event, false)
	lines, listeners := s.snapshotLocked()
	s.mu.Unlock()

	s.fire(listeners, lines)
	return logic.CloneLines(lines), nil
}

// RemoveOne decrements the line with key, deleting it at zero. An absent key
// is a no-op.
func (s *Store) RemoveOne(ctx context.Context, key logic.LineKey) []logic.CartLine {
	s.mu.Lock()
	event := s.logic.HandleRemoveOne(s.state, key)
	if event == nil {
		lines := s.state.Snapshot()
		s.mu.Unlock()
		return lines
	}
	s.applyLocked(ctx, event, false)
	lines, listeners := s.snapshotLocked()
	s.mu.Unlock()

	s.fire(listeners, lines)
	return logic.CloneLines(lines)
}

// Clear empties the cart. Clearing an empty cart is a no-op unless a
// previous write failed, in which case the empty state is written again.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	event := s.logic.HandleClear(s.state)
	if event == nil {
		if s.dirty {
			s.persistLocked(ctx, false)
		}
		s.mu.Unlock()
		return
	}
	s.applyLocked(ctx, event, false)
	lines, listeners := s.snapshotLocked()
	s.mu.Unlock()

	s.fire(listeners, lines)
}

// RequestClear empties the cart and raises the durable clear flag so every
// session reading the record empties its own view too.
func (s *Store) RequestClear(ctx context.Context) {
	s.mu.Lock()
	event := s.logic.HandleClear(s.state)
	if event == nil {
		s.persistLocked(ctx, true)
		s.mu.Unlock()
		return
	}
	s.applyLocked(ctx, event, true)
	lines, listeners := s.snapshotLocked()
	s.mu.Unlock()

	s.fire(listeners, lines)
}

// Snapshot returns an immutable copy of the current lines.
func (s *Store) Snapshot() []logic.CartLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Snapshot()
}

// Empty reports whether the session's cart has no lines.
func (s *Store) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.state.Exists()
}

// Reload replaces the in-memory view with the durable record. If the record
// carries the clear flag the view is emptied and the flag reset. A view whose
// last write failed is newer than the record, so it is kept and written
// again instead. Reports whether the view changed.
func (s *Store) Reload(ctx context.Context) (bool, error) {
	rec, err := LoadRecord(ctx, s.kv, s.key)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	before := s.state.Snapshot()
	if rec.ClearRequested {
		s.state = logic.EmptyState()
		s.logger.Info("clear flag observed", zap.String("writer", rec.Writer))
		s.persistLocked(ctx, false)
	} else if s.dirty {
		s.logger.Debug("unsaved cart kept over stored record", zap.Int("stored_lines", len(rec.Lines)))
		s.persistLocked(ctx, false)
	} else {
		s.state = logic.FromLines(rec.Lines)
	}
	changed := !sameLines(before, s.state.Lines)
	lines, listeners := s.snapshotLocked()
	s.mu.Unlock()

	if changed {
		s.logger.Debug("cart reloaded", zap.Int("lines", len(lines)))
		s.fire(listeners, lines)
	}
	return changed, nil
}

// Subscribe registers fn for change notifications and returns a function
// that removes it.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Store) applyLocked(ctx context.Context, event logic.Event, clearRequested bool) {
	s.logic.Apply(s.state, event)
	s.logEvent(event)
	s.persistLocked(ctx, clearRequested)
}

// persistLocked writes the whole record. Failure is logged and remembered;
// the next mutation carries the full state again.
func (s *Store) persistLocked(ctx context.Context, clearRequested bool) {
	rec := Record{
		Lines:          s.state.Snapshot(),
		ClearRequested: clearRequested,
		UpdatedAt:      s.clock(),
		Writer:         s.session,
	}
	if err := SaveRecord(ctx, s.kv, s.key, rec); err != nil {
		s.dirty = true
		s.logger.Warn("cart write failed; in-memory cart stays authoritative", zap.Error(err))
		return
	}
	s.dirty = false
	if s.notifier != nil {
		s.notifier.NotifyCartChanged(ctx, s.key, s.session)
	}
}

func (s *Store) snapshotLocked() ([]logic.CartLine, []Listener) {
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	return s.state.Snapshot(), listeners
}

func (s *Store) fire(listeners []Listener, lines []logic.CartLine) {
	for _, l := range listeners {
		l(logic.CloneLines(lines))
	}
}

func (s *Store) logEvent(event logic.Event) {
	fields := []zap.Field{zap.String("event", event.EventType())}
	pretty := shop.Event{Domain: "cart", Subject: s.session, Type: event.EventType(), At: s.clock()}
	switch e := event.(type) {
	case *logic.LineAdded:
		fields = append(fields, zap.String("line", string(e.Line.Key())), zap.Int("quantity", e.Line.Quantity), zap.Bool("clamped", e.Clamped))
		pretty.Fields = []shop.Field{shop.F("line", e.Line.Key()), shop.F("quantity", e.Line.Quantity), shop.F("unit_price", e.Line.UnitPrice.StringFixed(2))}
	case *logic.LineDecremented:
		fields = append(fields, zap.String("line", string(e.Key)), zap.Int("quantity", e.NewQuantity))
		pretty.Fields = []shop.Field{shop.F("line", e.Key), shop.F("quantity", e.NewQuantity)}
	case *logic.LineRemoved:
		fields = append(fields, zap.String("line", string(e.Key)))
		pretty.Fields = []shop.Field{shop.F("line", e.Key)}
	case *logic.CartCleared:
		fields = append(fields, zap.Int("lines_removed", e.LinesRemoved))
		pretty.Fields = []shop.Field{shop.F("lines_removed", e.LinesRemoved), shop.F("subtotal", e.Subtotal.StringFixed(2))}
	}
	s.logger.Debug("cart event", fields...)
	s.events.LogEvent(pretty)
}

func sameLines(a, b []logic.CartLine) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Key() != b[i].Key() || a[i].Quantity != b[i].Quantity || !a[i].UnitPrice.Equal(b[i].UnitPrice) {
			return false
		}
	}
	return true
}
