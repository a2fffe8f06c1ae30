package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benjaminabbitt/storefront/order/logic"
	"github.com/benjaminabbitt/storefront/storage"
)

// AttemptPrefix namespaces durable attempt snapshots.
const AttemptPrefix = "attempt:"

// AttemptRecord is the durable snapshot of an attempt. OrderNumber is set
// once the backend has recorded the order, after which the attempt is never
// sent again. ProviderRef without an OrderNumber means the money was taken
// but the order is still missing. A failed attempt is closed for good.
type AttemptRecord struct {
	Attempt       *logic.Attempt `json:"attempt"`
	OrderNumber   string         `json:"orderNumber,omitempty"`
	ProviderRef   string         `json:"providerRef,omitempty"`
	RecordedAt    time.Time      `json:"recordedAt,omitempty"`
	FailureReason string         `json:"failureReason,omitempty"`
	FailedAt      time.Time      `json:"failedAt,omitempty"`
}

// Recorded reports whether the order was created.
func (r AttemptRecord) Recorded() bool {
	return r.OrderNumber != ""
}

// Captured reports whether the provider took the payment but no order was
// recorded for it yet.
func (r AttemptRecord) Captured() bool {
	return r.ProviderRef != "" && !r.Recorded()
}

// Failed reports whether the attempt was closed as failed.
func (r AttemptRecord) Failed() bool {
	return r.Attempt != nil && r.Attempt.PaymentStatus == logic.PaymentFailed
}

// AttemptKey returns the durable key for token.
func AttemptKey(token string) string {
	return AttemptPrefix + token
}

// SaveAttempt replaces the record for its attempt's token.
func SaveAttempt(ctx context.Context, kv storage.Store, rec AttemptRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("payment: encode attempt: %w", err)
	}
	return kv.Put(ctx, AttemptKey(rec.Attempt.LocalOrderID), data)
}

// LoadAttempt reads the record for token. Returns storage.ErrNotFound when
// there is none.
func LoadAttempt(ctx context.Context, kv storage.Store, token string) (AttemptRecord, error) {
	data, err := kv.Get(ctx, AttemptKey(token))
	if err != nil {
		return AttemptRecord{}, err
	}
	var rec AttemptRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return AttemptRecord{}, fmt.Errorf("payment: decode attempt %s: %w", token, err)
	}
	if rec.Attempt == nil {
		return AttemptRecord{}, fmt.Errorf("payment: attempt %s has no snapshot", token)
	}
	return rec, nil
}

// DeleteAttempt removes the record for token.
func DeleteAttempt(ctx context.Context, kv storage.Store, token string) error {
	return kv.Delete(ctx, AttemptKey(token))
}

// ListAttempts returns the tokens of every stored attempt.
func ListAttempts(ctx context.Context, kv storage.Store) ([]string, error) {
	keys, err := kv.List(ctx, AttemptPrefix)
	if err != nil {
		return nil, err
	}
	tokens := make([]string, 0, len(keys))
	for _, k := range keys {
		tokens = append(tokens, strings.TrimPrefix(k, AttemptPrefix))
	}
	return tokens, nil
}

// CloseAttempt marks the attempt for token as failed so that no later return
// can complete it. Recorded and captured attempts are left alone, as is a
// token with no snapshot. Reports whether the record was closed.
func CloseAttempt(ctx context.Context, kv storage.Store, token, reason string, at time.Time) (bool, error) {
	rec, err := LoadAttempt(ctx, kv, token)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if rec.Recorded() || rec.Captured() || rec.Failed() {
		return false, nil
	}
	rec.Attempt.PaymentStatus = logic.PaymentFailed
	rec.FailureReason = reason
	rec.FailedAt = at
	if err := SaveAttempt(ctx, kv, rec); err != nil {
		return false, err
	}
	return true, nil
}
