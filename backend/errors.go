package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// APIError is a structured rejection from a remote service. Its message is
// meant to be shown to the shopper as is.
type APIError struct {
	Status  int               `json:"-"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%d %s)", e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Status)
}

// Unauthorized reports a rejected or expired credential.
func (e *APIError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// NetworkError is a transport failure: the request may not have reached the
// service. It is safe to retry.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("backend: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a deadline.
func (e *NetworkError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// AsAPIError extracts an APIError from an error chain.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}

// IsNetwork reports whether err is a transport failure.
func IsNetwork(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

func retryable(err error) bool {
	if IsNetwork(err) {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	if apiErr := AsAPIError(err); apiErr != nil {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500
	}
	return false
}

// decodeAPIError accepts {"code","message","fields"}, the same wrapped in
// {"error": {...}}, or {"error": "text"}. Anything else keeps the raw body.
func decodeAPIError(status int, raw []byte) *APIError {
	apiErr := &APIError{Status: status}

	var flat APIError
	if json.Unmarshal(raw, &flat) == nil && flat.Message != "" {
		flat.Status = status
		return &flat
	}
	var wrapped struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(raw, &wrapped) == nil && len(wrapped.Error) > 0 {
		var inner APIError
		if json.Unmarshal(wrapped.Error, &inner) == nil && inner.Message != "" {
			inner.Status = status
			return &inner
		}
		var text string
		if json.Unmarshal(wrapped.Error, &text) == nil && text != "" {
			apiErr.Message = text
			return apiErr
		}
	}

	apiErr.Message = strings.TrimSpace(string(raw))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
