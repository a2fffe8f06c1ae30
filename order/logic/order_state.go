// Package logic provides the pure order lifecycle: states, the transition
// table, profile validation and attempt snapshots. It performs no I/O.
package logic

// OrderState is the lifecycle of one session's current order.
type OrderState struct {
	State         State
	Attempt       *Attempt
	Fingerprint   string
	RedirectURL   string
	FailureReason string
	Confirmation  *Confirmation
}

// EmptyState returns a Draft order.
func EmptyState() *OrderState {
	return &OrderState{State: StateDraft}
}

// InFlight reports whether an attempt is being submitted or awaits return.
func (s *OrderState) InFlight() bool {
	return s.State == StateSubmitting || s.State == StateAwaitingExternalConfirmation
}
