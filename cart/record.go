package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/benjaminabbitt/storefront/cart/logic"
	"github.com/benjaminabbitt/storefront/storage"
)

// DefaultKey is the fixed namespace the cart record lives under.
const DefaultKey = "cart"

// Record is the durable form of the cart. ClearRequested asks every session
// that reads it to empty its in-memory cart and reset the flag.
type Record struct {
	Lines          []logic.CartLine `json:"lines"`
	ClearRequested bool             `json:"clearRequested,omitempty"`
	UpdatedAt      time.Time        `json:"updatedAt"`
	Writer         string           `json:"writer,omitempty"`
}

// LoadRecord reads the record under key. A missing record is an empty cart.
func LoadRecord(ctx context.Context, kv storage.Store, key string) (Record, error) {
	data, err := kv.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return Record{Lines: []logic.CartLine{}}, nil
	}
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("cart: decode record %s: %w", key, err)
	}
	if rec.Lines == nil {
		rec.Lines = []logic.CartLine{}
	}
	return rec, nil
}

// SaveRecord replaces the record under key.
func SaveRecord(ctx context.Context, kv storage.Store, key string, rec Record) error {
	if rec.Lines == nil {
		rec.Lines = []logic.CartLine{}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("cart: encode record: %w", err)
	}
	return kv.Put(ctx, key, data)
}
