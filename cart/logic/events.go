package logic

import "github.com/shopspring/decimal"

// Event is a change to the cart produced by a command handler.
type Event interface {
	EventType() string
}

// LineAdded records a new line or a merge into an existing one.
type LineAdded struct {
	Line      CartLine
	Requested int
	Merged    bool
	Clamped   bool
}

// LineDecremented records a quantity drop that keeps the line.
type LineDecremented struct {
	Key         LineKey
	NewQuantity int
}

// LineRemoved records deletion of a line whose quantity reached zero.
type LineRemoved struct {
	Key LineKey
}

// CartCleared records removal of every line.
type CartCleared struct {
	LinesRemoved int
	Subtotal     decimal.Decimal
}

func (LineAdded) EventType() string       { return "LineAdded" }
func (LineDecremented) EventType() string { return "LineDecremented" }
func (LineRemoved) EventType() string     { return "LineRemoved" }
func (CartCleared) EventType() string     { return "CartCleared" }
