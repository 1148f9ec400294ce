package storage

import (
	"errors"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
)

// Badger is a KV backed by an embedded badger database.
type Badger struct {
	db *badger.DB
}

type Options struct {
	Path     string
	InMemory bool
}

func Open(opts Options) (*Badger, error) {
	if !opts.InMemory && strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("storage: path is required")
	}
	bopts := badger.DefaultOptions(opts.Path).WithLogger(nil)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, err
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Get(key string) (string, bool, error) {
	k := []byte(strings.TrimSpace(key))
	if len(k) == 0 {
		return "", false, ErrEmptyKey
	}
	var (
		out   string
		found bool
	)
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			out = string(val)
			return nil
		})
	})
	if err != nil {
		return "", false, err
	}
	return out, found, nil
}

func (b *Badger) Set(key, value string) error {
	k := []byte(strings.TrimSpace(key))
	if len(k) == 0 {
		return ErrEmptyKey
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, []byte(value))
	})
}

// Delete removes every key in one transaction. Missing keys are ignored.
func (b *Badger) Delete(keys ...string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			k := []byte(strings.TrimSpace(key))
			if len(k) == 0 {
				continue
			}
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Badger) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
