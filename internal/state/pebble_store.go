package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble"
)

// PebbleStore implements Store using PebbleDB.
type PebbleStore struct {
	mu sync.Mutex // serializes read-modify-write in ApplyOnce
	db *pebble.DB
}

func NewPebbleStore(dir string) (*PebbleStore, error) {
	opts := &pebble.Options{
		// A shop's tallies are small; keep the memtable modest.
		MemTableSize:          16 << 20,
		L0CompactionThreshold: 4,
		L0StopWritesThreshold: 8,
		WALBytesPerSync:       1 << 20,
	}
	d, err := pebble.Open(filepath.Clean(dir), opts)
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &PebbleStore{db: d}, nil
}

func (p *PebbleStore) Close() error { return p.db.Close() }

func encodeTally(t Tally) ([]byte, error) { return json.Marshal(t) }

func decodeTally(val []byte) (Tally, error) {
	var t Tally
	if err := json.Unmarshal(val, &t); err != nil {
		return Tally{}, err
	}
	return t, nil
}

func (p *PebbleStore) get(k string) (Tally, bool, error) {
	v, closer, err := p.db.Get([]byte(k))
	if errors.Is(err, pebble.ErrNotFound) {
		return Tally{}, false, nil
	}
	if err != nil {
		return Tally{}, false, err
	}
	defer closer.Close()
	t, err := decodeTally(v)
	if err != nil {
		return Tally{}, false, fmt.Errorf("decode %s: %w", k, err)
	}
	return t, true, nil
}

// ApplyOnce commits the ops and the guard in one synced batch.
func (p *PebbleStore) ApplyOnce(guard string, seq int64, ops []Op) (bool, error) {
	if err := checkBatch(guard, ops); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, done, err := p.get(guard); err != nil || done {
		return false, err
	}

	pending := make(map[string]Tally, len(ops)+1)
	for _, op := range ops {
		cur, seen := pending[op.Key]
		if !seen {
			var err error
			if cur, _, err = p.get(op.Key); err != nil {
				return false, err
			}
		}
		pending[op.Key] = add(cur, op, seq)
	}
	pending[guard] = guardTally(seq)

	wb := p.db.NewBatch()
	defer wb.Close()
	for k, t := range pending {
		b, err := encodeTally(t)
		if err != nil {
			return false, err
		}
		if err := wb.Set([]byte(k), b, nil); err != nil {
			return false, err
		}
	}
	// Every order is a money record, so each batch is synced.
	if err := wb.Commit(pebble.Sync); err != nil {
		return false, err
	}
	return true, nil
}

func (p *PebbleStore) Get(key string) (Tally, bool) {
	v, closer, err := p.db.Get([]byte(key))
	if err != nil {
		return Tally{}, false
	}
	defer closer.Close()
	t, e := decodeTally(v)
	if e != nil {
		return Tally{}, false
	}
	return t, true
}

func (p *PebbleStore) Range(fn func(key string, t Tally) error) error {
	return p.iterate(nil, fn)
}

func (p *PebbleStore) Prefix(prefix string, fn func(key string, t Tally) error) error {
	if prefix == "" {
		return p.iterate(nil, fn)
	}
	lower := []byte(prefix)
	return p.iterate(&pebble.IterOptions{LowerBound: lower, UpperBound: prefixEnd(lower)}, fn)
}

func (p *PebbleStore) iterate(opts *pebble.IterOptions, fn func(key string, t Tally) error) error {
	it, err := p.db.NewIter(opts)
	if err != nil {
		return fmt.Errorf("pebble iter: %w", err)
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		k := string(it.Key())
		t, err := decodeTally(it.Value())
		if err != nil {
			return fmt.Errorf("decode %s: %w", k, err)
		}
		if err := fn(k, t); err != nil {
			return stopOK(err)
		}
	}
	return it.Error()
}

// prefixEnd is the smallest key greater than every key starting with p.
func prefixEnd(p []byte) []byte {
	end := bytes.Clone(p)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// LoadAll replaces all keys with the snapshot in a single batch.
func (p *PebbleStore) LoadAll(all map[string]Tally) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	wb := p.db.NewBatch()
	defer wb.Close()

	it, err := p.db.NewIter(nil)
	if err != nil {
		return fmt.Errorf("pebble iter: %w", err)
	}
	for it.First(); it.Valid(); it.Next() {
		if err := wb.Delete(bytes.Clone(it.Key()), nil); err != nil {
			it.Close()
			return err
		}
	}
	if err := it.Close(); err != nil {
		return err
	}
	for k, t := range all {
		b, err := encodeTally(t)
		if err != nil {
			return err
		}
		if err := wb.Set([]byte(k), b, nil); err != nil {
			return err
		}
	}
	return wb.Commit(pebble.Sync)
}
