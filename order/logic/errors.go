package logic

import (
	"errors"
	"strings"

	"github.com/benjaminabbitt/storefront/shop"
)

// Error message constants for the order domain.
const (
	ErrMsgCartEmpty          = "Cart is empty"
	ErrMsgFirstNameRequired  = "First name is required"
	ErrMsgLastNameRequired   = "Last name is required"
	ErrMsgEmailRequired      = "Email is required"
	ErrMsgEmailInvalid       = "Email address is not valid"
	ErrMsgPhoneRequired      = "Phone number is required"
	ErrMsgStreetRequired     = "Address is required"
	ErrMsgPostalCodeRequired = "Postal code is required"
	ErrMsgCityRequired       = "City is required"
	ErrMsgCountryRequired    = "Country is required"
	ErrMsgMethodRequired     = "Payment method is required"
	ErrMsgMethodUnknown      = "Payment method is not supported"
	ErrMsgPasswordRequired   = "Password is required to create an account"
	ErrMsgNoAttempt          = "No order attempt in progress"
	ErrMsgTokenMismatch      = "Return does not match the order in progress"
	ErrMsgNotRedirect        = "Order attempt did not leave for a payment provider"
	ErrMsgPaymentUnrecorded  = "Payment was taken but the order is not recorded yet; recover it instead of paying again"
)

var (
	// ErrInvalidTransition rejects a state change outside the table.
	ErrInvalidTransition = errors.New("order: invalid state transition")
	// ErrDuplicateSubmission is returned for a repeated submit of the same
	// snapshot while it is already in flight. Callers ignore it silently.
	ErrDuplicateSubmission = errors.New("order: duplicate submission")
	// ErrAttemptClosed refuses to revive an attempt that already failed.
	ErrAttemptClosed = errors.New("order: payment attempt already failed")
)

// FieldError is one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every field that failed validation. It never
// reaches the network.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes the error as an invalid-argument CommandError.
func (e *ValidationError) Unwrap() error {
	return shop.NewInvalidArgument(e.Error())
}

// Has reports whether field failed.
func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// Add records a failing field.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// Merge appends the fields of err when it is a *ValidationError. Any other
// non-nil error is recorded under field.
func (e *ValidationError) Merge(field string, err error) {
	if err == nil {
		return
	}
	var other *ValidationError
	if errors.As(err, &other) {
		e.Fields = append(e.Fields, other.Fields...)
		return
	}
	e.Add(field, err.Error())
}

// Err returns e, or nil when no field failed.
func (e *ValidationError) Err() error {
	return e.orNil()
}

func (e *ValidationError) add(field string, err *shop.CommandError) {
	if err != nil {
		e.Fields = append(e.Fields, FieldError{Field: field, Message: err.Message})
	}
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
