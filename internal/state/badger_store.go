package state

import (
	"errors"
	"fmt"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerStore implements Store using BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Clean(dir)).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Close() error { return b.db.Close() }

func txnTally(txn *badger.Txn, key string) (Tally, bool, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Tally{}, false, nil
	}
	if err != nil {
		return Tally{}, false, err
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return Tally{}, false, err
	}
	t, err := decodeTally(v)
	if err != nil {
		return Tally{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return t, true, nil
}

// ApplyOnce writes the ops and the guard in one transaction. The txn sees its
// own writes, so repeated keys in ops accumulate.
func (b *BadgerStore) ApplyOnce(guard string, seq int64, ops []Op) (bool, error) {
	if err := checkBatch(guard, ops); err != nil {
		return false, err
	}
	var applied bool
	err := b.db.Update(func(txn *badger.Txn) error {
		applied = false
		if _, done, err := txnTally(txn, guard); err != nil || done {
			return err
		}
		for _, op := range ops {
			cur, _, err := txnTally(txn, op.Key)
			if err != nil {
				return err
			}
			v, err := encodeTally(add(cur, op, seq))
			if err != nil {
				return err
			}
			if err := txn.Set([]byte(op.Key), v); err != nil {
				return err
			}
		}
		v, err := encodeTally(guardTally(seq))
		if err != nil {
			return err
		}
		applied = true
		return txn.Set([]byte(guard), v)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (b *BadgerStore) Get(key string) (Tally, bool) {
	var t Tally
	err := b.db.View(func(txn *badger.Txn) error {
		item, e := txn.Get([]byte(key))
		if e != nil {
			return e
		}
		return item.Value(func(v []byte) error {
			var dErr error
			t, dErr = decodeTally(v)
			return dErr
		})
	})
	if err != nil {
		return Tally{}, false
	}
	return t, true
}

func (b *BadgerStore) Range(fn func(key string, t Tally) error) error {
	return b.Prefix("", fn)
}

func (b *BadgerStore) Prefix(prefix string, fn func(key string, t Tally) error) error {
	p := []byte(prefix)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = p
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			k := string(item.KeyCopy(nil))
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			t, err := decodeTally(v)
			if err != nil {
				return fmt.Errorf("decode %s: %w", k, err)
			}
			if err := fn(k, t); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return stopOK(err)
	}
	return nil
}

// LoadAll replaces all keys with the snapshot in one transaction.
func (b *BadgerStore) LoadAll(all map[string]Tally) error {
	return b.db.Update(func(txn *badger.Txn) error {
		// Collect keys first to avoid mutating while iterating.
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
		var stale [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		for k, t := range all {
			v, err := encodeTally(t)
			if err != nil {
				return err
			}
			if err := txn.Set([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}
