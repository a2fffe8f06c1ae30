package shop

import (
	"net/mail"
	"strings"
)

// RequireExists checks that a field is non-empty (entity exists).
func RequireExists(field, errMsg string) *CommandError {
	if field == "" {
		return NewFailedPrecondition(errMsg)
	}
	return nil
}

// RequirePositive checks that a value is greater than zero.
func RequirePositive(value int, errMsg string) *CommandError {
	if value <= 0 {
		return NewInvalidArgument(errMsg)
	}
	return nil
}

// RequireNotEmpty checks that a slice has at least one element.
func RequireNotEmpty[T any](items []T, errMsg string) *CommandError {
	if len(items) == 0 {
		return NewFailedPrecondition(errMsg)
	}
	return nil
}

// RequireStatus checks that the current status matches the expected value.
func RequireStatus[S comparable](actual, expected S, errMsg string) *CommandError {
	if actual != expected {
		return NewFailedPrecondition(errMsg)
	}
	return nil
}

// RequireText checks that a free-text field has non-blank content.
func RequireText(value, errMsg string) *CommandError {
	if strings.TrimSpace(value) == "" {
		return NewInvalidArgument(errMsg)
	}
	return nil
}

// RequireEmail checks that value parses as a bare address (no display name).
func RequireEmail(value, errMsg string) *CommandError {
	value = strings.TrimSpace(value)
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value || !strings.Contains(addr.Address[strings.LastIndex(addr.Address, "@"):], ".") {
		return NewInvalidArgument(errMsg)
	}
	return nil
}
