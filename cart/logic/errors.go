package logic

import "github.com/benjaminabbitt/storefront/shop"

// Error message constants for cart domain.
const (
	ErrMsgProductIDRequired = "Product ID is required"
	ErrMsgComboIDRequired   = "Combo ID is required"
	ErrMsgQuantityPositive  = "Quantity must be positive"
	ErrMsgPriceNegative     = "Unit price cannot be negative"
	ErrMsgCartEmpty         = "Cart is empty"
)

func invalid(msg string) error {
	return shop.NewInvalidArgument(msg)
}
