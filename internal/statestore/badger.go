package statestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const sessionKeyPrefix = "session/"

// BadgerStore implements Store on an embedded badger database. Sessions expire
// after ttl when ttl is positive.
type BadgerStore struct {
	db  *badger.DB
	ttl time.Duration
}

// Ensure BadgerStore implements Store.
var _ Store = (*BadgerStore)(nil)

// NewBadgerStore opens a badger database at path. An empty path opens an
// in-memory database.
func NewBadgerStore(path string, ttl time.Duration) (*BadgerStore, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", path, err)
		}
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &BadgerStore{db: db, ttl: ttl}, nil
}

func sessionKey(id uuid.UUID) []byte {
	return []byte(sessionKeyPrefix + id.String())
}

func (b *BadgerStore) Get(ctx context.Context, id uuid.UUID) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(id))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get session %s: %w", id, err)
	}
	return string(value), true, nil
}

func (b *BadgerStore) GetOrCreate(ctx context.Context, id uuid.UUID) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var history string
	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return txn.SetEntry(b.entry(id, ""))
		}
		if err != nil {
			return err
		}
		value, err := item.ValueCopy(nil)
		history = string(value)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("create session %s: %w", id, err)
	}
	return history, nil
}

func (b *BadgerStore) Set(ctx context.Context, id uuid.UUID, history string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(b.entry(id, history))
	}); err != nil {
		return fmt.Errorf("set session %s: %w", id, err)
	}
	return nil
}

func (b *BadgerStore) Remove(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(sessionKey(id))
	}); err != nil {
		return fmt.Errorf("remove session %s: %w", id, err)
	}
	return nil
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}

func (b *BadgerStore) entry(id uuid.UUID, history string) *badger.Entry {
	e := badger.NewEntry(sessionKey(id), []byte(history))
	if b.ttl > 0 {
		e = e.WithTTL(b.ttl)
	}
	return e
}
