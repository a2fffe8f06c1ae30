package payment

import (
	"context"
	"errors"

	"github.com/benjaminabbitt/storefront/backend"
)

// Shopper-facing failure reasons.
const (
	ReasonNetwork           = "The payment service could not be reached. Please try again."
	ReasonUnexpected        = "The payment could not be completed. Please try again."
	ReasonDeclined          = "The payment was declined."
	ReasonCancelled         = "The payment was cancelled or declined."
	ReasonNoResult          = "The payment provider did not report a result."
	ReasonActionRequired    = "The card requires additional authentication."
	ReasonCardRequired      = "Card details are required"
	ReasonUnknownReturn     = "This payment return does not match any order."
	ReasonRecordFailed      = "The payment was received but the order could not be recorded. Please contact us with reference %s."
	ReasonWalletUnavailable = "Wallet payments are not configured"
	ReasonSnapshotFailed    = "The order could not be prepared for payment. Please try again."
	ReasonMethodUnsupported = "Payment method is not supported"
	ReasonAttemptClosed     = "This payment attempt has already failed. Please start checkout again."
	ReasonNotCaptured       = "No captured payment is waiting for this order."
)

// convert maps a remote error to a Failed outcome. Structured API errors are
// shown verbatim.
func convert(err error) Outcome {
	if apiErr := backend.AsAPIError(err); apiErr != nil {
		return failed(FailureRejected, apiErr.Message, err)
	}
	if backend.IsNetwork(err) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return failed(FailureNetwork, ReasonNetwork, err)
	}
	return failed(FailureNetwork, ReasonUnexpected, err)
}
