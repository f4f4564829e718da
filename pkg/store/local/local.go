// Package local implements the local backend: workspace files persisted
// in an embedded BadgerDB key-value store.
//
// One BadgerDB database is shared by all local workspaces; each Store
// instance owns a key space under a per-workspace prefix, so dropping a
// workspace is a prefix drop and never touches other workspaces.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/quillfs/quillfs/pkg/metrics"
	"github.com/quillfs/quillfs/pkg/store"
)

// keyPrefixFormat namespaces workspace entries inside the shared
// database: ws/<workspaceUID>/<itemKey>.
const keyPrefixFormat = "ws/%s/"

// Store is the BadgerDB-backed implementation of store.Store.
//
// Thread Safety: BadgerDB transactions provide isolation; each contract
// method runs in its own transaction, which gives the "each SetItem is
// individually atomic" guarantee and nothing stronger.
type Store struct {
	db      *badger.DB
	prefix  []byte
	metrics metrics.StoreMetrics
}

// Option configures a Store.
type Option func(*Store)

// WithMetrics attaches store metrics.
func WithMetrics(m metrics.StoreMetrics) Option {
	return func(s *Store) {
		if m != nil {
			s.metrics = m
		}
	}
}

// New creates a local store for the workspace identified by uid. The
// database is shared and stays open after Close; its lifecycle belongs
// to the caller.
func New(db *badger.DB, workspaceUID string, opts ...Option) *Store {
	s := &Store{
		db:      db,
		prefix:  []byte(fmt.Sprintf(keyPrefixFormat, workspaceUID)),
		metrics: metrics.NewNoopStoreMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend implements store.Store.
func (s *Store) Backend() store.BackendType {
	return store.BackendLocal
}

// GetItem implements store.Store.
func (s *Store) GetItem(ctx context.Context, key string) (entry store.Entry, err error) {
	defer s.observe("get", time.Now(), &err)

	if err = ctx.Err(); err != nil {
		return store.Entry{}, err
	}

	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.itemKey(key))
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("key %q: %w", key, store.ErrFileNotFound)
		}
		if err != nil {
			return fmt.Errorf("%w: %v", store.ErrRead, err)
		}

		return item.Value(func(val []byte) error {
			return decodeEntry(val, &entry)
		})
	})
	if err != nil {
		return store.Entry{}, err
	}
	return entry, nil
}

// SetItem implements store.Store.
func (s *Store) SetItem(ctx context.Context, key string, entry store.Entry) (err error) {
	defer s.observe("set", time.Now(), &err)

	if err = ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: failed to encode entry for %q: %v", store.ErrWrite, key, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.itemKey(key), data)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrWrite, err)
	}
	return nil
}

// RemoveItem implements store.Store.
func (s *Store) RemoveItem(ctx context.Context, key string) (err error) {
	defer s.observe("remove", time.Now(), &err)

	if err = ctx.Err(); err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(s.itemKey(key)); err == badger.ErrKeyNotFound {
			return fmt.Errorf("key %q: %w", key, store.ErrFileNotFound)
		} else if err != nil {
			return fmt.Errorf("%w: %v", store.ErrRead, err)
		}
		if err := txn.Delete(s.itemKey(key)); err != nil {
			return fmt.Errorf("%w: %v", store.ErrWrite, err)
		}
		return nil
	})
	return err
}

// Iterate implements store.Store. Entries are visited in key order.
func (s *Store) Iterate(ctx context.Context, fn store.IterateFunc) (err error) {
	defer s.observe("iterate", time.Now(), &err)

	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = s.prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(s.prefix); it.ValidForPrefix(s.prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			key := strings.TrimPrefix(string(item.Key()), string(s.prefix))

			var entry store.Entry
			if err := item.Value(func(val []byte) error {
				return decodeEntry(val, &entry)
			}); err != nil {
				return err
			}

			if err := fn(key, entry); err != nil {
				return err
			}
		}
		return nil
	})
	return err
}

// CreateNewItemKey implements store.Store. When suggested is empty a
// random identifier is generated; a colliding suggestion gets a random
// suffix so the returned key is always free.
func (s *Store) CreateNewItemKey(ctx context.Context, suggested string) (key string, err error) {
	defer s.observe("create_key", time.Now(), &err)

	if suggested == "" {
		return uuid.NewString(), nil
	}

	exists, err := s.hasKey(ctx, suggested)
	if err != nil {
		return "", err
	}
	if !exists {
		return suggested, nil
	}

	stem, ext := splitExt(suggested)
	deduped := fmt.Sprintf("%s-%s%s", stem, uuid.NewString()[:8], ext)
	return deduped, nil
}

// Drop implements store.Store: it deletes the workspace's entire key
// space from the shared database.
func (s *Store) Drop(ctx context.Context) (err error) {
	defer s.observe("drop", time.Now(), &err)

	if err = ctx.Err(); err != nil {
		return err
	}
	if err := s.db.DropPrefix(s.prefix); err != nil {
		return fmt.Errorf("%w: failed to drop workspace keys: %v", store.ErrWrite, err)
	}
	return nil
}

// Close implements store.Store. The shared database is owned by the
// caller, so this is a no-op.
func (s *Store) Close() error {
	return nil
}

func (s *Store) itemKey(key string) []byte {
	return append(append([]byte(nil), s.prefix...), key...)
}

func (s *Store) hasKey(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var exists bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(s.itemKey(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", store.ErrRead, err)
		}
		exists = true
		return nil
	})
	return exists, err
}

func (s *Store) observe(op string, start time.Time, err *error) {
	s.metrics.ObserveOp(op, time.Since(start), *err)
}

func decodeEntry(val []byte, entry *store.Entry) error {
	if err := json.Unmarshal(val, entry); err != nil {
		return fmt.Errorf("%w: corrupt entry: %v", store.ErrRead, err)
	}
	return nil
}

func splitExt(name string) (stem, ext string) {
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[:i], name[i:]
	}
	return name, ""
}
