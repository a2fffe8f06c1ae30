package logic

import "fmt"

// State is the lifecycle position of the session's current order.
type State string

const (
	// StateDraft is the initial state: the shopper is still editing.
	StateDraft State = "draft"
	// StateSubmitting is entered once validation passes and the payment
	// adapter has been invoked.
	StateSubmitting State = "submitting"
	// StateAwaitingExternalConfirmation waits for the shopper to return
	// from a redirect provider.
	StateAwaitingExternalConfirmation State = "awaiting_external_confirmation"
	// StateCompleted means the order was recorded and the cart cleared.
	StateCompleted State = "completed"
	// StateFailed means the attempt failed; the cart is untouched.
	StateFailed State = "failed"
)

func (s State) String() string {
	return string(s)
}

// transitions lists every allowed move. Anything else is rejected.
var transitions = map[State][]State{
	StateDraft:                        {StateSubmitting},
	StateSubmitting:                   {StateAwaitingExternalConfirmation, StateCompleted, StateFailed},
	StateAwaitingExternalConfirmation: {StateCompleted, StateFailed},
	StateFailed:                       {StateDraft},
	StateCompleted:                    {StateDraft},
}

// CanTransition reports whether the table allows from -> to.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates from -> to and returns to.
func Transition(from, to State) (State, error) {
	if !CanTransition(from, to) {
		return from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return to, nil
}

// Method is a payment method offered at checkout.
type Method string

const (
	MethodWallet  Method = "wallet"
	MethodCard    Method = "card"
	MethodManual  Method = "manual"
	MethodInvoice Method = "invoice"
)

// Methods lists every method in display order.
var Methods = []Method{MethodWallet, MethodCard, MethodManual, MethodInvoice}

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	for _, known := range Methods {
		if m == known {
			return true
		}
	}
	return false
}

// Redirects reports whether the method leaves the session for a provider.
func (m Method) Redirects() bool {
	return m == MethodWallet
}

// PaymentStatus is the status sent with createOrder.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)
