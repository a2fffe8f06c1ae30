package logic

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// LineKey identifies a cart line: the product id for simple items, the combo
// id for bundles.
type LineKey string

// ProductKey returns the key of a simple product line.
func ProductKey(productID int) LineKey {
	return LineKey("product:" + strconv.Itoa(productID))
}

// ComboKey returns the key of a bundle line.
func ComboKey(comboID string) LineKey {
	return LineKey("combo:" + comboID)
}

// CartLine is one product or bundle entry with its quantity.
type CartLine struct {
	ProductID     int              `json:"productId"`
	IsCombo       bool             `json:"isCombo,omitempty"`
	ComboID       string           `json:"comboId,omitempty"`
	Name          string           `json:"name,omitempty"`
	UnitPrice     decimal.Decimal  `json:"unitPrice"`
	Quantity      int              `json:"quantity"`
	OriginalPrice *decimal.Decimal `json:"originalPrice,omitempty"`
	WeightGrams   int              `json:"weightGrams,omitempty"`
}

// Key returns the line identity.
func (l CartLine) Key() LineKey {
	if l.IsCombo {
		return ComboKey(l.ComboID)
	}
	return ProductKey(l.ProductID)
}

// Total returns unit price times quantity.
func (l CartLine) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Clone returns a copy that shares no memory with l.
func (l CartLine) Clone() CartLine {
	if l.OriginalPrice != nil {
		p := *l.OriginalPrice
		l.OriginalPrice = &p
	}
	return l
}

// CartState is the in-memory view of the cart. Lines keep insertion order.
type CartState struct {
	Lines []CartLine
}

// EmptyState returns a cart with no lines.
func EmptyState() *CartState {
	return &CartState{}
}

// FromLines builds a state from a persisted line list, dropping lines that
// violate the quantity invariant.
func FromLines(lines []CartLine) *CartState {
	state := EmptyState()
	for _, l := range lines {
		if l.Quantity < 1 {
			continue
		}
		if l.IsCombo && l.ComboID == "" {
			continue
		}
		if state.indexOf(l.Key()) >= 0 {
			continue
		}
		state.Lines = append(state.Lines, l.Clone())
	}
	return state
}

// Exists reports whether the cart has at least one line.
func (s *CartState) Exists() bool {
	return len(s.Lines) > 0
}

// Find returns the line with key, if present.
func (s *CartState) Find(key LineKey) (CartLine, bool) {
	if i := s.indexOf(key); i >= 0 {
		return s.Lines[i], true
	}
	return CartLine{}, false
}

func (s *CartState) indexOf(key LineKey) int {
	for i, l := range s.Lines {
		if l.Key() == key {
			return i
		}
	}
	return -1
}

// Snapshot returns a deep copy of the lines.
func (s *CartState) Snapshot() []CartLine {
	return CloneLines(s.Lines)
}

// CloneLines deep-copies a line slice. A nil or empty input yields an empty,
// non-nil slice.
func CloneLines(lines []CartLine) []CartLine {
	out := make([]CartLine, len(lines))
	for i, l := range lines {
		out[i] = l.Clone()
	}
	return out
}

// Subtotal sums line totals.
func Subtotal(lines []CartLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Total())
	}
	return total
}

// Savings sums the discount against original prices.
func Savings(lines []CartLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		if l.OriginalPrice == nil || !l.OriginalPrice.GreaterThan(l.UnitPrice) {
			continue
		}
		total = total.Add(l.OriginalPrice.Sub(l.UnitPrice).Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return total
}

// ItemCount sums quantities.
func ItemCount(lines []CartLine) int {
	n := 0
	for _, l := range lines {
		n += l.Quantity
	}
	return n
}

// WeightGrams sums line weights times quantities.
func WeightGrams(lines []CartLine) int {
	n := 0
	for _, l := range lines {
		n += l.WeightGrams * l.Quantity
	}
	return n
}
