package prefs

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore keeps preferences in an embedded badger database. An empty
// path opens an in-memory database.
type BadgerStore struct {
	db     *badger.DB
	prefix string
}

// OpenBadger opens (or creates) the database at path.
func OpenBadger(path, namespace string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	} else {
		opts = opts.WithSyncWrites(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("prefs: open badger: %w", err)
	}
	return &BadgerStore{db: db, prefix: keyPrefix(namespace)}, nil
}

func (s *BadgerStore) Get(_ context.Context, key string) (string, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(s.prefix + key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("prefs: get %s: %w", key, err)
	}
	return string(out), nil
}

func (s *BadgerStore) Set(_ context.Context, key, value string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(s.prefix+key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("prefs: set %s: %w", key, err)
	}
	return nil
}

func (s *BadgerStore) Delete(_ context.Context, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(s.prefix + key))
	})
	if err != nil {
		return fmt.Errorf("prefs: delete %s: %w", key, err)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func keyPrefix(namespace string) string {
	if namespace == "" {
		return ""
	}
	return namespace + ":"
}
