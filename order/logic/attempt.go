package logic

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	cartlogic "github.com/benjaminabbitt/storefront/cart/logic"
)

// Attempt is the immutable snapshot of the cart and customer taken when the
// shopper confirms checkout. LocalOrderID doubles as the correlation token.
type Attempt struct {
	LocalOrderID  string               `json:"localOrderId"`
	CartSnapshot  []cartlogic.CartLine `json:"cartSnapshot"`
	Subtotal      decimal.Decimal      `json:"subtotal"`
	ShippingCost  decimal.Decimal      `json:"shippingCost"`
	Total         decimal.Decimal      `json:"total"`
	Currency      string               `json:"currency"`
	ShippingZone  string               `json:"shippingZone,omitempty"`
	PaymentMethod Method               `json:"paymentMethod"`
	PaymentStatus PaymentStatus        `json:"paymentStatus"`
	CreatedAt     time.Time            `json:"createdAt"`
	Profile       CustomerProfile      `json:"profile"`
	UserID        string               `json:"userId,omitempty"`
}

// NewAttempt snapshots lines and profile. The total is the cart subtotal
// plus shipping.
func NewAttempt(token string, lines []cartlogic.CartLine, profile CustomerProfile, method Method, shipping decimal.Decimal, currency string, now time.Time) *Attempt {
	snapshot := cartlogic.CloneLines(lines)
	subtotal := cartlogic.Subtotal(snapshot)
	return &Attempt{
		LocalOrderID:  token,
		CartSnapshot:  snapshot,
		Subtotal:      subtotal,
		ShippingCost:  shipping,
		Total:         subtotal.Add(shipping),
		Currency:      currency,
		PaymentMethod: method,
		PaymentStatus: PaymentPending,
		CreatedAt:     now,
		Profile:       profile.Clone(),
		UserID:        profile.UserID,
	}
}

// Clone returns a deep copy.
func (a *Attempt) Clone() *Attempt {
	if a == nil {
		return nil
	}
	c := *a
	c.CartSnapshot = cartlogic.CloneLines(a.CartSnapshot)
	c.Profile = a.Profile.Clone()
	return &c
}

// Fingerprint identifies a submission by its cart contents and method. Two
// submits of the same cart with the same method share a fingerprint.
func Fingerprint(lines []cartlogic.CartLine, method Method) string {
	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l.Key()))
		h.Write([]byte{0})
		h.Write([]byte(strconv.Itoa(l.Quantity)))
		h.Write([]byte{0})
		h.Write([]byte(l.UnitPrice.String()))
		h.Write([]byte{'\n'})
	}
	h.Write([]byte(method))
	return hex.EncodeToString(h.Sum(nil))
}

// Confirmation is the immutable receipt kept after a completed order.
type Confirmation struct {
	LocalOrderID  string               `json:"localOrderId"`
	OrderNumber   string               `json:"orderNumber"`
	Method        Method               `json:"method"`
	PaymentStatus PaymentStatus        `json:"paymentStatus"`
	Lines         []cartlogic.CartLine `json:"lines"`
	Subtotal      decimal.Decimal      `json:"subtotal"`
	ShippingCost  decimal.Decimal      `json:"shippingCost"`
	Total         decimal.Decimal      `json:"total"`
	Currency      string               `json:"currency"`
	Email         string               `json:"email"`
	ProviderRef   string               `json:"providerRef,omitempty"`
	Deferred      bool                 `json:"deferred,omitempty"`
	NextSteps     []string             `json:"nextSteps,omitempty"`
	CompletedAt   time.Time            `json:"completedAt"`
}

// NewConfirmation builds the receipt for attempt.
func NewConfirmation(a *Attempt, orderNumber, providerRef string, now time.Time) *Confirmation {
	return &Confirmation{
		LocalOrderID:  a.LocalOrderID,
		OrderNumber:   orderNumber,
		Method:        a.PaymentMethod,
		PaymentStatus: a.PaymentStatus,
		Lines:         cartlogic.CloneLines(a.CartSnapshot),
		Subtotal:      a.Subtotal,
		ShippingCost:  a.ShippingCost,
		Total:         a.Total,
		Currency:      a.Currency,
		Email:         a.Profile.Email,
		ProviderRef:   providerRef,
		CompletedAt:   now,
	}
}

// Clone returns a deep copy.
func (c *Confirmation) Clone() *Confirmation {
	if c == nil {
		return nil
	}
	out := *c
	out.Lines = cartlogic.CloneLines(c.Lines)
	out.NextSteps = append([]string(nil), c.NextSteps...)
	return &out
}
