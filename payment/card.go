package payment

import (
	"strings"
	"time"

	"github.com/benjaminabbitt/storefront/backend"
)

// Error message constants for card input.
const (
	ErrMsgCardNumber = "Card number is not valid"
	ErrMsgCardExpiry = "Card has expired"
	ErrMsgCardCVC    = "Security code is not valid"
)

// ValidateCard checks card locally before it reaches the provider. Returns
// the first problem found.
func ValidateCard(card backend.Card, now time.Time) string {
	number := strings.ReplaceAll(card.Number, " ", "")
	if len(number) < 12 || len(number) > 19 || !digits(number) || !luhn(number) {
		return ErrMsgCardNumber
	}
	if card.ExpMonth < 1 || card.ExpMonth > 12 {
		return ErrMsgCardExpiry
	}
	year := card.ExpYear
	if year < 100 {
		year += 2000
	}
	// Cards are valid through the last day of the expiry month.
	expires := time.Date(year, time.Month(card.ExpMonth)+1, 1, 0, 0, 0, 0, time.UTC)
	if !now.Before(expires) {
		return ErrMsgCardExpiry
	}
	if l := len(card.CVC); l < 3 || l > 4 || !digits(card.CVC) {
		return ErrMsgCardCVC
	}
	return ""
}

func digits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func luhn(number string) bool {
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		d := int(number[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
