package logic

import (
	"fmt"

	"github.com/benjaminabbitt/storefront/shop"

	cartlogic "github.com/benjaminabbitt/storefront/cart/logic"
)

// OrderLogic decides lifecycle changes. Handlers validate and return an
// event; Apply folds it into the state.
type OrderLogic interface {
	HandleSubmit(state *OrderState, attempt *Attempt) (*SubmissionStarted, error)
	HandleAwait(state *OrderState, token, redirectURL string) (*ExternalConfirmationRequested, error)
	HandleComplete(state *OrderState, confirmation *Confirmation) (*OrderCompleted, error)
	HandleFail(state *OrderState, reason string) (*OrderFailed, error)
	HandleResume(state *OrderState) (*DraftResumed, error)
	HandleRestore(state *OrderState, attempt *Attempt) (*AttemptRestored, error)
	Apply(state *OrderState, event Event)
}

// DefaultOrderLogic is the default implementation of OrderLogic.
type DefaultOrderLogic struct{}

// NewOrderLogic creates a new OrderLogic instance.
func NewOrderLogic() OrderLogic {
	return &DefaultOrderLogic{}
}

// ValidateOrder checks the cart and the profile.
func ValidateOrder(lines []cartlogic.CartLine, profile CustomerProfile) error {
	v := &ValidationError{}
	if err := shop.RequireNotEmpty(lines, ErrMsgCartEmpty); err != nil {
		v.add("cart", err)
	}
	v.Merge("profile", ValidateProfile(profile))
	return v.orNil()
}

// ValidateSubmission checks everything that must hold before any remote
// call: a non-empty cart, a complete profile and a known method.
func ValidateSubmission(lines []cartlogic.CartLine, profile CustomerProfile, method Method) error {
	v := &ValidationError{}
	v.Merge("order", ValidateOrder(lines, profile))
	switch {
	case method == "":
		v.add("paymentMethod", shop.NewInvalidArgument(ErrMsgMethodRequired))
	case !method.Valid():
		v.add("paymentMethod", shop.NewInvalidArgument(ErrMsgMethodUnknown))
	}
	return v.orNil()
}

// HandleSubmit starts submitting attempt. A repeat of the submission already
// in flight yields ErrDuplicateSubmission.
func (l *DefaultOrderLogic) HandleSubmit(state *OrderState, attempt *Attempt) (*SubmissionStarted, error) {
	fingerprint := Fingerprint(attempt.CartSnapshot, attempt.PaymentMethod)
	if state.InFlight() && state.Fingerprint == fingerprint {
		return nil, ErrDuplicateSubmission
	}
	if _, err := Transition(state.State, StateSubmitting); err != nil {
		return nil, err
	}
	if err := ValidateSubmission(attempt.CartSnapshot, attempt.Profile, attempt.PaymentMethod); err != nil {
		return nil, err
	}
	return &SubmissionStarted{Attempt: attempt.Clone(), Fingerprint: fingerprint}, nil
}

// HandleAwait parks the attempt until the shopper returns from the provider.
func (l *DefaultOrderLogic) HandleAwait(state *OrderState, token, redirectURL string) (*ExternalConfirmationRequested, error) {
	if err := l.requireAttempt(state, token); err != nil {
		return nil, err
	}
	if _, err := Transition(state.State, StateAwaitingExternalConfirmation); err != nil {
		return nil, err
	}
	return &ExternalConfirmationRequested{Token: token, RedirectURL: redirectURL}, nil
}

// HandleComplete records the receipt.
func (l *DefaultOrderLogic) HandleComplete(state *OrderState, confirmation *Confirmation) (*OrderCompleted, error) {
	if confirmation == nil {
		return nil, shop.NewInvalidArgument(ErrMsgNoAttempt)
	}
	if err := l.requireAttempt(state, confirmation.LocalOrderID); err != nil {
		return nil, err
	}
	if _, err := Transition(state.State, StateCompleted); err != nil {
		return nil, err
	}
	return &OrderCompleted{Confirmation: confirmation.Clone()}, nil
}

// HandleFail records a failed attempt.
func (l *DefaultOrderLogic) HandleFail(state *OrderState, reason string) (*OrderFailed, error) {
	if _, err := Transition(state.State, StateFailed); err != nil {
		return nil, err
	}
	return &OrderFailed{Reason: reason}, nil
}

// HandleResume returns to Draft from Failed or Completed.
func (l *DefaultOrderLogic) HandleResume(state *OrderState) (*DraftResumed, error) {
	if _, err := Transition(state.State, StateDraft); err != nil {
		return nil, err
	}
	return &DraftResumed{From: state.State}, nil
}

// HandleRestore adopts a redirect attempt found in durable storage. It is
// not a table transition: the attempt already reached
// AwaitingExternalConfirmation in the session that started it, and this
// session only catches up. A session with its own attempt in flight refuses.
func (l *DefaultOrderLogic) HandleRestore(state *OrderState, attempt *Attempt) (*AttemptRestored, error) {
	if attempt == nil {
		return nil, shop.NewInvalidArgument(ErrMsgNoAttempt)
	}
	if err := shop.RequireExists(attempt.LocalOrderID, ErrMsgNoAttempt); err != nil {
		return nil, err
	}
	if state.InFlight() {
		return nil, fmt.Errorf("%w: restore while %s", ErrInvalidTransition, state.State)
	}
	if attempt.PaymentStatus == PaymentFailed {
		return nil, fmt.Errorf("%w: %s", ErrAttemptClosed, attempt.LocalOrderID)
	}
	if !attempt.PaymentMethod.Redirects() {
		return nil, shop.NewFailedPrecondition(ErrMsgNotRedirect)
	}
	return &AttemptRestored{Attempt: attempt.Clone()}, nil
}

func (l *DefaultOrderLogic) requireAttempt(state *OrderState, token string) error {
	if state.Attempt == nil {
		return shop.NewFailedPrecondition(ErrMsgNoAttempt)
	}
	if err := shop.RequireStatus(state.Attempt.LocalOrderID, token, ErrMsgTokenMismatch); err != nil {
		return err
	}
	return nil
}

// Apply folds event into state.
func (l *DefaultOrderLogic) Apply(state *OrderState, event Event) {
	switch e := event.(type) {
	case *SubmissionStarted:
		state.State = StateSubmitting
		state.Attempt = e.Attempt
		state.Fingerprint = e.Fingerprint
		state.RedirectURL = ""
		state.FailureReason = ""
		state.Confirmation = nil
	case *ExternalConfirmationRequested:
		state.State = StateAwaitingExternalConfirmation
		state.RedirectURL = e.RedirectURL
	case *OrderCompleted:
		state.State = StateCompleted
		state.Confirmation = e.Confirmation
		state.Fingerprint = ""
	case *OrderFailed:
		state.State = StateFailed
		state.FailureReason = e.Reason
		state.Fingerprint = ""
	case *AttemptRestored:
		state.State = StateAwaitingExternalConfirmation
		state.Attempt = e.Attempt
		state.Fingerprint = Fingerprint(e.Attempt.CartSnapshot, e.Attempt.PaymentMethod)
		state.RedirectURL = ""
		state.FailureReason = ""
		state.Confirmation = nil
	case *DraftResumed:
		state.State = StateDraft
		state.RedirectURL = ""
		state.FailureReason = ""
		if e.From == StateCompleted {
			state.Attempt = nil
			state.Confirmation = nil
		}
	}
}
