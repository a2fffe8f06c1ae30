package payment

import (
	"github.com/benjaminabbitt/storefront/backend"
	"github.com/benjaminabbitt/storefront/order/logic"
	"github.com/benjaminabbitt/storefront/shop"
)

// Error message constants for payment settings.
const (
	ErrMsgNoPaymentMethods = "No payment methods are available"
	ErrMsgMethodDisabled   = "Payment method is not available"
)

// ErrNoPaymentMethods is returned when the shop has no enabled method.
var ErrNoPaymentMethods = shop.NewFailedPrecondition(ErrMsgNoPaymentMethods)

// Settings is the shop's payment configuration.
type Settings struct {
	Currency        string
	Enabled         []logic.Method
	Labels          map[logic.Method]string
	ManualRecipient string
	InvoiceNote     string
}

// SettingsFrom converts the backend's settings. Unknown methods are ignored.
func SettingsFrom(dto backend.PaymentSettings) Settings {
	s := Settings{
		Currency:        dto.Currency,
		Labels:          make(map[logic.Method]string),
		ManualRecipient: dto.ManualRecipient,
		InvoiceNote:     dto.InvoiceNote,
	}
	for _, m := range dto.Methods {
		method := logic.Method(m.Method)
		if !method.Valid() || !m.Enabled || s.Allows(method) {
			continue
		}
		s.Enabled = append(s.Enabled, method)
		if m.Label != "" {
			s.Labels[method] = m.Label
		}
	}
	return s
}

// AllMethods enables every method. Used when no settings service is
// configured.
func AllMethods(currency string) Settings {
	return Settings{Currency: currency, Enabled: append([]logic.Method(nil), logic.Methods...)}
}

// Allows reports whether m is enabled.
func (s Settings) Allows(m logic.Method) bool {
	for _, enabled := range s.Enabled {
		if enabled == m {
			return true
		}
	}
	return false
}

// Resolve picks the method to use. With no request and exactly one enabled
// method, that method is the default.
func (s Settings) Resolve(requested logic.Method) (logic.Method, error) {
	if len(s.Enabled) == 0 {
		return "", ErrNoPaymentMethods
	}
	if requested == "" {
		if len(s.Enabled) == 1 {
			return s.Enabled[0], nil
		}
		return "", fieldError(logic.ErrMsgMethodRequired)
	}
	if !s.Allows(requested) {
		return "", fieldError(ErrMsgMethodDisabled)
	}
	return requested, nil
}

func fieldError(msg string) error {
	return &logic.ValidationError{Fields: []logic.FieldError{{Field: "paymentMethod", Message: msg}}}
}
