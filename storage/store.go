// Package storage holds the durable key/value records shared by every
// session of the storefront: the cart record, in-flight redirect attempts,
// pending-clear markers and the last-payment marker.
//
// Values are replaced wholesale on every write. There is no partial update.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when the key has no record.
var ErrNotFound = errors.New("storage: record not found")

// Store is a durable key/value store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Change describes a write observed on a watched key.
type Change struct {
	Key     string
	Deleted bool
	Version uint64
}

// Watcher is implemented by stores that can push change notifications for a
// key prefix, the way a browser fires storage events at other tabs.
type Watcher interface {
	Watch(ctx context.Context, prefix string) (<-chan Change, error)
}

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// Open returns the store backing the given driver.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case DriverMemory, "":
		return NewMemStore()
	case DriverSQLite, DriverPostgres:
		return OpenSQL(ctx, driver, dsn)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", driver)
	}
}
