package backend

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Address is the wire form of a postal address.
type Address struct {
	Street     string `json:"street"`
	PostalCode string `json:"postalCode"`
	City       string `json:"city"`
	Country    string `json:"country"`
}

// Customer is the wire form of the checkout profile.
type Customer struct {
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Email     string  `json:"email"`
	Phone     string  `json:"phone"`
	Address   Address `json:"address"`
}

// OrderLine is one purchased line.
type OrderLine struct {
	ProductID int             `json:"productId,omitempty"`
	ComboID   string          `json:"comboId,omitempty"`
	Name      string          `json:"name,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// CreateOrderRequest records an order with the backend.
type CreateOrderRequest struct {
	LocalOrderID  string          `json:"localOrderId"`
	UserID        string          `json:"userId,omitempty"`
	Customer      Customer        `json:"customer"`
	Billing       *Address        `json:"billing,omitempty"`
	Lines         []OrderLine     `json:"lines"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	ShippingCost  decimal.Decimal `json:"shippingCost"`
	Total         decimal.Decimal `json:"total"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"paymentMethod"`
	PaymentStatus string          `json:"paymentStatus"`
	ProviderRef   string          `json:"providerRef,omitempty"`
}

// OrderReceipt is the backend's acknowledgement of a recorded order.
type OrderReceipt struct {
	OrderNumber string    `json:"orderNumber"`
	CreatedAt   time.Time `json:"createdAt"`
}

// CreateOrder records an order. The local order id is sent as the
// idempotency key; the request itself is never retried.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (OrderReceipt, error) {
	var receipt OrderReceipt
	err := c.post(ctx, "/orders", req, &receipt, requestOptions{idempotencyKey: req.LocalOrderID})
	return receipt, err
}
