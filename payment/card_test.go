package payment

import (
	"testing"
	"time"

	"github.com/benjaminabbitt/storefront/backend"
)

func TestValidateCard(t *testing.T) {
	now := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		card backend.Card
		want string
	}{
		{"valid", backend.Card{Number: "4242424242424242", ExpMonth: 3, ExpYear: 2026, CVC: "123"}, ""},
		{"two digit year", backend.Card{Number: "4242 4242 4242 4242", ExpMonth: 1, ExpYear: 31, CVC: "1234"}, ""},
		{"luhn", backend.Card{Number: "4242424242424241", ExpMonth: 1, ExpYear: 2030, CVC: "123"}, ErrMsgCardNumber},
		{"letters", backend.Card{Number: "4242abcd42424242", ExpMonth: 1, ExpYear: 2030, CVC: "123"}, ErrMsgCardNumber},
		{"short", backend.Card{Number: "42424242", ExpMonth: 1, ExpYear: 2030, CVC: "123"}, ErrMsgCardNumber},
		{"expired", backend.Card{Number: "4242424242424242", ExpMonth: 2, ExpYear: 2026, CVC: "123"}, ErrMsgCardExpiry},
		{"bad month", backend.Card{Number: "4242424242424242", ExpMonth: 13, ExpYear: 2030, CVC: "123"}, ErrMsgCardExpiry},
		{"cvc", backend.Card{Number: "4242424242424242", ExpMonth: 1, ExpYear: 2030, CVC: "12"}, ErrMsgCardCVC},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidateCard(tc.card, now); got != tc.want {
				t.Errorf("ValidateCard() = %q, want %q", got, tc.want)
			}
		})
	}
}
