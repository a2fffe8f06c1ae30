package payment

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/benjaminabbitt/storefront/order/logic"
)

// WalletConfig describes the redirect wallet provider.
type WalletConfig struct {
	MerchantID   string
	RedirectBase string
	ReturnURL    string
}

// Configured reports whether redirects can be built.
func (c WalletConfig) Configured() bool {
	return c.MerchantID != "" && c.RedirectBase != "" && c.ReturnURL != ""
}

// RedirectURL builds the provider URL for a. The return URL carries the
// correlation token so any session can complete the attempt.
func (c WalletConfig) RedirectURL(a *logic.Attempt) (string, error) {
	ret, err := url.Parse(c.ReturnURL)
	if err != nil {
		return "", fmt.Errorf("payment: return url: %w", err)
	}
	rq := ret.Query()
	rq.Set("token", a.LocalOrderID)
	ret.RawQuery = rq.Encode()

	u, err := url.Parse(c.RedirectBase)
	if err != nil {
		return "", fmt.Errorf("payment: redirect base: %w", err)
	}
	q := u.Query()
	q.Set("amount", a.Total.StringFixed(2))
	q.Set("currency", strings.ToUpper(a.Currency))
	q.Set("merchant", c.MerchantID)
	q.Set("reference", a.LocalOrderID)
	q.Set("return", ret.String())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ReturnStatus is the provider's verdict carried on the return URL.
type ReturnStatus string

const (
	ReturnMissing ReturnStatus = ""
	ReturnSuccess ReturnStatus = "success"
	ReturnFailure ReturnStatus = "failure"
)

// ParseReturnStatus normalizes a provider status. Anything unrecognized is a
// failure; absence stays ReturnMissing, which is also handled as failure.
func ParseReturnStatus(raw string) ReturnStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return ReturnMissing
	case "success", "succeeded", "ok", "paid", "completed", "approved":
		return ReturnSuccess
	default:
		return ReturnFailure
	}
}
