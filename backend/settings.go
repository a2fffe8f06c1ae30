package backend

import "context"

// MethodSetting is the backend's view of one payment method.
type MethodSetting struct {
	Method  string `json:"method"`
	Enabled bool   `json:"enabled"`
	Label   string `json:"label,omitempty"`
}

// PaymentSettings lists the methods the shop accepts.
type PaymentSettings struct {
	Currency        string          `json:"currency"`
	Methods         []MethodSetting `json:"methods"`
	ManualRecipient string          `json:"manualRecipient,omitempty"`
	InvoiceNote     string          `json:"invoiceNote,omitempty"`
}

// PaymentSettings fetches the shop's payment configuration.
func (c *Client) PaymentSettings(ctx context.Context) (PaymentSettings, error) {
	var settings PaymentSettings
	err := c.get(ctx, "/settings/payment", &settings, requestOptions{})
	return settings, err
}
