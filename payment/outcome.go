// Package payment adapts the four payment methods to one Initiate call whose
// Outcome the order controller acts on. Remote errors never cross this
// boundary: they are converted to Failed outcomes.
package payment

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/benjaminabbitt/storefront/order/logic"
)

// OutcomeKind is the result class of a payment attempt.
type OutcomeKind string

const (
	// Redirected: the shopper must be sent to RedirectURL.
	Redirected OutcomeKind = "redirected"
	// Confirmed: the order was recorded and needs no further payment step.
	Confirmed OutcomeKind = "confirmed"
	// Failed: nothing was recorded; the cart stays as it is.
	Failed OutcomeKind = "failed"
	// Deferred: the order was recorded and the shopper pays out of band.
	Deferred OutcomeKind = "deferred"
)

// FailureKind classifies a Failed outcome.
type FailureKind string

const (
	FailureValidation FailureKind = "validation"
	FailureNetwork    FailureKind = "network"
	FailureDecline    FailureKind = "decline"
	FailureRejected   FailureKind = "rejected"
	FailureAmbiguity  FailureKind = "ambiguity"
)

// Instructions tell the shopper how to pay a deferred order.
type Instructions struct {
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Reference string          `json:"reference"`
	Recipient string          `json:"recipient,omitempty"`
	Note      string          `json:"note,omitempty"`
}

// Lines renders the instructions as display lines.
func (i *Instructions) Lines() []string {
	if i == nil {
		return nil
	}
	lines := []string{fmt.Sprintf("Amount: %s %s", i.Currency, i.Amount.StringFixed(2))}
	if i.Recipient != "" {
		lines = append(lines, "Send to: "+i.Recipient)
	}
	if i.Reference != "" {
		lines = append(lines, "Reference: "+i.Reference)
	}
	if note := strings.TrimSpace(i.Note); note != "" {
		lines = append(lines, note)
	}
	return lines
}

// Outcome is the result of Initiate or CompleteRedirect. Attempt carries the
// snapshot with its final payment status.
type Outcome struct {
	Kind         OutcomeKind
	RedirectURL  string
	OrderNumber  string
	ProviderRef  string
	Instructions *Instructions
	Attempt      *logic.Attempt

	Failure FailureKind
	Reason  string
	Err     error
}

// Succeeded reports whether an order was recorded.
func (o Outcome) Succeeded() bool {
	return o.Kind == Confirmed || o.Kind == Deferred
}

// ProviderDeclineError is a refusal by the payment provider.
type ProviderDeclineError struct {
	Reason string
}

func (e *ProviderDeclineError) Error() string {
	return "payment declined: " + e.Reason
}

// ReconciliationAmbiguity means the engine cannot tell whether the payment
// and the order agree. It is handled as a failure.
type ReconciliationAmbiguity struct {
	Token  string
	Detail string
	Err    error
}

func (e *ReconciliationAmbiguity) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("reconciliation ambiguity for %s: %s: %v", e.Token, e.Detail, e.Err)
	}
	return fmt.Sprintf("reconciliation ambiguity for %s: %s", e.Token, e.Detail)
}

func (e *ReconciliationAmbiguity) Unwrap() error {
	return e.Err
}

func failed(kind FailureKind, reason string, err error) Outcome {
	return Outcome{Kind: Failed, Failure: kind, Reason: reason, Err: err}
}
