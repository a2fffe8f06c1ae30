package logic

import "github.com/benjaminabbitt/storefront/shop"

// DefaultMaxQuantity bounds a single line to block runaway increments.
const DefaultMaxQuantity = 10

// CartLogic validates cart commands and turns them into events.
type CartLogic interface {
	HandleAddLine(state *CartState, item CartLine, quantity int) (*LineAdded, error)
	HandleRemoveOne(state *CartState, key LineKey) Event
	HandleClear(state *CartState) *CartCleared
	Apply(state *CartState, event Event)
}

// DefaultCartLogic implements CartLogic with a per-line quantity cap.
type DefaultCartLogic struct {
	MaxQuantity int
}

// NewCartLogic returns cart logic clamping lines to maxQuantity (or
// DefaultMaxQuantity when maxQuantity is not positive).
func NewCartLogic(maxQuantity int) CartLogic {
	if maxQuantity <= 0 {
		maxQuantity = DefaultMaxQuantity
	}
	return &DefaultCartLogic{MaxQuantity: maxQuantity}
}

func (l *DefaultCartLogic) HandleAddLine(state *CartState, item CartLine, quantity int) (*LineAdded, error) {
	if item.IsCombo {
		if item.ComboID == "" {
			return nil, invalid(ErrMsgComboIDRequired)
		}
	} else if err := shop.RequirePositive(item.ProductID, ErrMsgProductIDRequired); err != nil {
		return nil, err
	}
	if err := shop.RequirePositive(quantity, ErrMsgQuantityPositive); err != nil {
		return nil, err
	}
	if item.UnitPrice.IsNegative() {
		return nil, invalid(ErrMsgPriceNegative)
	}

	line := item.Clone()
	event := &LineAdded{Requested: quantity}
	newQuantity := quantity
	if existing, ok := state.Find(item.Key()); ok {
		// The stored line keeps its price; only quantity merges.
		line = existing.Clone()
		newQuantity = existing.Quantity + quantity
		event.Merged = true
	}
	if newQuantity > l.MaxQuantity {
		newQuantity = l.MaxQuantity
		event.Clamped = true
	}
	line.Quantity = newQuantity
	event.Line = line
	return event, nil
}

func (l *DefaultCartLogic) HandleRemoveOne(state *CartState, key LineKey) Event {
	line, ok := state.Find(key)
	if !ok {
		return nil
	}
	if line.Quantity > 1 {
		return &LineDecremented{Key: key, NewQuantity: line.Quantity - 1}
	}
	return &LineRemoved{Key: key}
}

func (l *DefaultCartLogic) HandleClear(state *CartState) *CartCleared {
	if !state.Exists() {
		return nil
	}
	return &CartCleared{LinesRemoved: len(state.Lines), Subtotal: Subtotal(state.Lines)}
}

// Apply folds event into state.
func (l *DefaultCartLogic) Apply(state *CartState, event Event) {
	switch e := event.(type) {
	case *LineAdded:
		if i := state.indexOf(e.Line.Key()); i >= 0 {
			state.Lines[i] = e.Line.Clone()
		} else {
			state.Lines = append(state.Lines, e.Line.Clone())
		}
	case *LineDecremented:
		if i := state.indexOf(e.Key); i >= 0 {
			state.Lines[i].Quantity = e.NewQuantity
		}
	case *LineRemoved:
		if i := state.indexOf(e.Key); i >= 0 {
			state.Lines = append(state.Lines[:i:i], state.Lines[i+1:]...)
		}
	case *CartCleared:
		state.Lines = nil
	}
}
