// Package tabsync keeps carts consistent across sessions that share no
// memory: other tabs, other processes, and a session resumed after a full
// redirect to a payment provider and back.
package tabsync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/benjaminabbitt/storefront/shop"
)

// Kind classifies a broadcast message.
type Kind string

const (
	// KindCartChanged announces a durable cart write (a storage-change event).
	KindCartChanged Kind = "cart_changed"
	// KindMarkerChanged announces a durable marker write (a storage-change event).
	KindMarkerChanged Kind = "marker_changed"
	// KindPaymentCompleted is the same-origin message a confirmation view
	// sends once it has observed a successful payment.
	KindPaymentCompleted Kind = "payment_completed"
)

// ErrMsgUnknownKind rejects messages the synchronizer cannot interpret.
const ErrMsgUnknownKind = "unknown message kind"

// Message is one broadcast between sessions.
type Message struct {
	Kind   Kind      `json:"kind"`
	Key    string    `json:"key,omitempty"`
	Writer string    `json:"writer,omitempty"`
	Token  string    `json:"token,omitempty"`
	At     time.Time `json:"at"`
}

// Validate rejects messages with an unknown kind.
func (m Message) Validate() error {
	switch m.Kind {
	case KindCartChanged, KindMarkerChanged, KindPaymentCompleted:
		return nil
	default:
		return shop.NewInvalidArgument(ErrMsgUnknownKind)
	}
}

// Bus fans messages out to every subscriber, including the publisher's own
// subscription. Subscriptions end when ctx is cancelled.
type Bus interface {
	Publish(ctx context.Context, m Message) error
	Subscribe(ctx context.Context) (<-chan Message, error)
}

const subscriberBuffer = 256

// LocalBus delivers messages between sessions of one process.
type LocalBus struct {
	mu     sync.Mutex
	subs   map[int]chan Message
	next   int
	logger *zap.Logger
}

// NewLocalBus creates an in-process bus.
func NewLocalBus(logger *zap.Logger) *LocalBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalBus{subs: make(map[int]chan Message), logger: logger}
}

// Publish never blocks. A subscriber whose buffer is full misses the message;
// its poll loop still converges on the durable state.
func (b *LocalBus) Publish(_ context.Context, m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- m:
		default:
			b.logger.Warn("subscriber buffer full; message dropped",
				zap.Int("subscriber", id), zap.String("kind", string(m.Kind)))
		}
	}
	return nil
}

// Subscribe registers a subscriber until ctx is cancelled.
func (b *LocalBus) Subscribe(ctx context.Context) (<-chan Message, error) {
	ch := make(chan Message, subscriberBuffer)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

// Subscribers returns the number of live subscriptions.
func (b *LocalBus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

const defaultPublishTimeout = 2 * time.Second

// BusNotifier announces durable cart writes on a bus. It satisfies
// cart.Notifier.
type BusNotifier struct {
	bus     Bus
	timeout time.Duration
	logger  *zap.Logger
	clock   func() time.Time
}

// NewBusNotifier wraps bus as a cart change notifier.
func NewBusNotifier(bus Bus, logger *zap.Logger) *BusNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BusNotifier{
		bus:     bus,
		timeout: defaultPublishTimeout,
		logger:  logger,
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// NotifyCartChanged publishes a cart-changed message. Failure is logged; the
// poll loop of every other session still converges.
func (n *BusNotifier) NotifyCartChanged(ctx context.Context, key, writer string) {
	n.publish(ctx, Message{Kind: KindCartChanged, Key: key, Writer: writer, At: n.clock()})
}

// NotifyMarkerChanged publishes a marker-changed message for token.
func (n *BusNotifier) NotifyMarkerChanged(ctx context.Context, token, writer string) {
	n.publish(ctx, Message{Kind: KindMarkerChanged, Key: ClearMarkerKey(token), Token: token, Writer: writer, At: n.clock()})
}

// NotifyPaymentCompleted publishes the same-origin completion message.
func (n *BusNotifier) NotifyPaymentCompleted(ctx context.Context, token, writer string) {
	n.publish(ctx, Message{Kind: KindPaymentCompleted, Token: token, Writer: writer, At: n.clock()})
}

func (n *BusNotifier) publish(ctx context.Context, m Message) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if err := n.bus.Publish(ctx, m); err != nil {
		n.logger.Warn("broadcast failed",
			zap.String("kind", string(m.Kind)),
			zap.String("key", m.Key),
			zap.Error(err))
	}
}
