package tabsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benjaminabbitt/storefront/storage"
)

// Durable key layout shared by every session.
const (
	ClearMarkerPrefix = "clear:"
	LastPaymentKey    = "last_payment"
)

// ClearMarker is written before a session leaves for a redirect payment. It
// is confirmed by whichever session observes the successful return, and
// removed by whichever session clears the cart first.
type ClearMarker struct {
	Token       string    `json:"token"`
	CreatedAt   time.Time `json:"createdAt"`
	Confirmed   bool      `json:"confirmed"`
	ConfirmedAt time.Time `json:"confirmedAt,omitempty"`
}

// PaymentMarker records the most recent completed payment.
type PaymentMarker struct {
	Token       string    `json:"token"`
	Method      string    `json:"method"`
	CompletedAt time.Time `json:"completedAt"`
}

// ClearMarkerKey returns the durable key of token's marker.
func ClearMarkerKey(token string) string {
	return ClearMarkerPrefix + token
}

// WritePendingClear records that token's payment is in flight.
func WritePendingClear(ctx context.Context, kv storage.Store, token string, now time.Time) error {
	return putJSON(ctx, kv, ClearMarkerKey(token), ClearMarker{Token: token, CreatedAt: now})
}

// ConfirmPendingClear marks token's payment as completed. A missing marker is
// recreated already confirmed, so a return in a fresh session still clears
// every other session's cart.
func ConfirmPendingClear(ctx context.Context, kv storage.Store, token string, now time.Time) error {
	marker, err := ReadClearMarker(ctx, kv, token)
	if errors.Is(err, storage.ErrNotFound) {
		marker = ClearMarker{Token: token, CreatedAt: now}
	} else if err != nil {
		return err
	}
	marker.Confirmed = true
	marker.ConfirmedAt = now
	return putJSON(ctx, kv, ClearMarkerKey(token), marker)
}

// ReadClearMarker loads token's marker.
func ReadClearMarker(ctx context.Context, kv storage.Store, token string) (ClearMarker, error) {
	var marker ClearMarker
	err := getJSON(ctx, kv, ClearMarkerKey(token), &marker)
	return marker, err
}

// RemoveClearMarker deletes token's marker. Removing twice is harmless.
func RemoveClearMarker(ctx context.Context, kv storage.Store, token string) error {
	return kv.Delete(ctx, ClearMarkerKey(token))
}

// ListClearMarkers returns every marker in the store.
func ListClearMarkers(ctx context.Context, kv storage.Store) ([]ClearMarker, error) {
	keys, err := kv.List(ctx, ClearMarkerPrefix)
	if err != nil {
		return nil, err
	}
	markers := make([]ClearMarker, 0, len(keys))
	for _, key := range keys {
		token := strings.TrimPrefix(key, ClearMarkerPrefix)
		marker, err := ReadClearMarker(ctx, kv, token)
		if errors.Is(err, storage.ErrNotFound) {
			// Removed by another session between List and Get.
			continue
		}
		if err != nil {
			return nil, err
		}
		markers = append(markers, marker)
	}
	return markers, nil
}

// WriteLastPayment replaces the last-payment marker.
func WriteLastPayment(ctx context.Context, kv storage.Store, marker PaymentMarker) error {
	return putJSON(ctx, kv, LastPaymentKey, marker)
}

// ReadLastPayment loads the last-payment marker, if any.
func ReadLastPayment(ctx context.Context, kv storage.Store) (PaymentMarker, bool, error) {
	var marker PaymentMarker
	err := getJSON(ctx, kv, LastPaymentKey, &marker)
	if errors.Is(err, storage.ErrNotFound) {
		return PaymentMarker{}, false, nil
	}
	if err != nil {
		return PaymentMarker{}, false, err
	}
	return marker, true, nil
}

func putJSON(ctx context.Context, kv storage.Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("tabsync: encode %s: %w", key, err)
	}
	return kv.Put(ctx, key, data)
}

func getJSON(ctx context.Context, kv storage.Store, key string, v any) error {
	data, err := kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("tabsync: decode %s: %w", key, err)
	}
	return nil
}
