package storage

import (
	"context"
	"fmt"
	"sync/atomic"

	memdb "github.com/hashicorp/go-memdb"
)

const memTable = "kv"

type memRecord struct {
	Key     string
	Data    []byte
	Version uint64
}

// MemStore keeps records in an immutable radix tree. Every session in the
// process shares it, and Watch delivers changes the way a browser fires
// storage events at sibling tabs.
type MemStore struct {
	db      *memdb.MemDB
	version atomic.Uint64
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() (*MemStore, error) {
	schema := &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			memTable: {
				Name: memTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Key"},
					},
				},
			},
		},
	}
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("storage: memdb schema: %w", err)
	}
	return &MemStore{db: db}, nil
}

// Get returns a copy of the record stored under key.
func (s *MemStore) Get(_ context.Context, key string) ([]byte, error) {
	txn := s.db.Txn(false)
	raw, err := txn.First(memTable, "id", key)
	if err != nil {
		return nil, fmt.Errorf("storage: get %s: %w", key, err)
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	data := raw.(*memRecord).Data
	return append([]byte(nil), data...), nil
}

// Put replaces the record stored under key.
func (s *MemStore) Put(_ context.Context, key string, value []byte) error {
	rec := &memRecord{
		Key:     key,
		Data:    append([]byte(nil), value...),
		Version: s.version.Add(1),
	}
	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(memTable, rec); err != nil {
		return fmt.Errorf("storage: put %s: %w", key, err)
	}
	txn.Commit()
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *MemStore) Delete(_ context.Context, key string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll(memTable, "id", key); err != nil {
		return fmt.Errorf("storage: delete %s: %w", key, err)
	}
	txn.Commit()
	return nil
}

// List returns the keys starting with prefix in lexical order.
func (s *MemStore) List(_ context.Context, prefix string) ([]string, error) {
	versions, _, err := s.scan(prefix)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), versions.order...), nil
}

// Watch streams changes under prefix until ctx is cancelled. Writes made
// before the call are not reported.
func (s *MemStore) Watch(ctx context.Context, prefix string) (<-chan Change, error) {
	last, watchCh, err := s.scan(prefix)
	if err != nil {
		return nil, err
	}

	out := make(chan Change, 16)
	go func() {
		defer close(out)
		for {
			ws := memdb.NewWatchSet()
			ws.Add(watchCh)
			if err := ws.WatchCtx(ctx); err != nil {
				return
			}

			var current versionSet
			current, watchCh, err = s.scan(prefix)
			if err != nil {
				return
			}
			for _, change := range diff(last, current) {
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
			last = current
		}
	}()
	return out, nil
}

// Close is a no-op; the tree is garbage collected with the store.
func (s *MemStore) Close() error {
	return nil
}

type versionSet struct {
	order    []string
	versions map[string]uint64
}

func (s *MemStore) scan(prefix string) (versionSet, <-chan struct{}, error) {
	txn := s.db.Txn(false)
	it, err := txn.Get(memTable, "id_prefix", prefix)
	if err != nil {
		return versionSet{}, nil, fmt.Errorf("storage: scan %s: %w", prefix, err)
	}
	set := versionSet{versions: make(map[string]uint64)}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		rec := raw.(*memRecord)
		set.order = append(set.order, rec.Key)
		set.versions[rec.Key] = rec.Version
	}
	return set, it.WatchCh(), nil
}

func diff(before, after versionSet) []Change {
	var changes []Change
	for _, k := range after.order {
		if v := after.versions[k]; before.versions[k] != v {
			changes = append(changes, Change{Key: k, Version: v})
		}
	}
	for _, k := range before.order {
		if _, ok := after.versions[k]; !ok {
			changes = append(changes, Change{Key: k, Deleted: true})
		}
	}
	return changes
}
