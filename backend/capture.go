package backend

import (
	"context"
	"fmt"
	"net/url"

	"github.com/shopspring/decimal"
)

// Card is raw card data. It is sent to the capture provider and nowhere
// else; String masks it for logs.
type Card struct {
	Number   string `json:"number"`
	ExpMonth int    `json:"expMonth"`
	ExpYear  int    `json:"expYear"`
	CVC      string `json:"cvc"`
	Holder   string `json:"holder,omitempty"`
}

func (c Card) String() string {
	last4 := c.Number
	if len(last4) > 4 {
		last4 = last4[len(last4)-4:]
	}
	return fmt.Sprintf("card ****%s %02d/%d", last4, c.ExpMonth, c.ExpYear)
}

// Intent is a payment intent created ahead of confirmation.
type Intent struct {
	ID           string          `json:"id"`
	ClientSecret string          `json:"clientSecret,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
}

// CaptureStatus is the provider's verdict on a confirmation.
type CaptureStatus string

const (
	CaptureSucceeded      CaptureStatus = "succeeded"
	CaptureDeclined       CaptureStatus = "declined"
	CaptureRequiresAction CaptureStatus = "requires_action"
)

// Capture is the result of confirming an intent.
type Capture struct {
	ID            string        `json:"id"`
	Status        CaptureStatus `json:"status"`
	DeclineReason string        `json:"declineReason,omitempty"`
}

type intentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Reference string          `json:"reference"`
}

type confirmRequest struct {
	Card Card `json:"card"`
}

// CaptureClient talks to the card capture provider.
type CaptureClient struct {
	*Client
}

// NewCaptureClient creates a client for the provider at baseURL,
// authenticated with secretKey.
func NewCaptureClient(baseURL, secretKey string, opts ...Option) *CaptureClient {
	return &CaptureClient{Client: New(baseURL, append([]Option{WithAPIKey(secretKey)}, opts...)...)}
}

// CreateIntent reserves an intent for amount.
func (c *CaptureClient) CreateIntent(ctx context.Context, amount decimal.Decimal, currency, reference string) (Intent, error) {
	var intent Intent
	err := c.post(ctx, "/payment_intents", intentRequest{Amount: amount, Currency: currency, Reference: reference}, &intent,
		requestOptions{idempotencyKey: "intent-" + reference})
	return intent, err
}

// Confirm submits card against intentID.
func (c *CaptureClient) Confirm(ctx context.Context, intentID string, card Card) (Capture, error) {
	var capture Capture
	err := c.post(ctx, "/payment_intents/"+url.PathEscape(intentID)+"/confirm", confirmRequest{Card: card}, &capture, requestOptions{})
	return capture, err
}
