// Package state keeps running sales tallies keyed by day, box type and variant.
package state

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Tally is the aggregate of every delta applied to one key.
type Tally struct {
	Amount  int64 `json:"amount"`
	Qty     int64 `json:"qty"`
	Orders  int64 `json:"orders"`
	LastSeq int64 `json:"last_seq"`
}

// Op adds Amount and Qty to the tally of Key.
type Op struct {
	Key    string `json:"key"`
	Amount int64  `json:"amount"`
	Qty    int64  `json:"qty,omitempty"`
}

// Store is a tally backend. ApplyOnce writes a batch of ops atomically at
// most once per guard key: while the guard exists the batch is skipped.
// Range and Prefix visit keys in ascending byte order.
type Store interface {
	ApplyOnce(guard string, seq int64, ops []Op) (applied bool, err error)
	Get(key string) (Tally, bool)
	Range(fn func(key string, t Tally) error) error
	Prefix(prefix string, fn func(key string, t Tally) error) error
	LoadAll(all map[string]Tally) error
	Close() error
}

const (
	BackendMemory = "memory"
	BackendPebble = "pebble"
	BackendBadger = "badger"
)

// Open returns the named backend rooted at dir.
func Open(backend, dir string) (Store, error) {
	switch backend {
	case "", BackendMemory:
		return NewInMemoryStore(), nil
	case BackendPebble:
		return NewPebbleStore(dir)
	case BackendBadger:
		return NewBadgerStore(dir)
	}
	return nil, fmt.Errorf("state: unknown backend %q", backend)
}

// ErrStop ends a Range or Prefix walk early without reporting an error.
var ErrStop = errors.New("state: stop iteration")

// ErrNoGuard is returned by ApplyOnce for an empty guard key.
var ErrNoGuard = errors.New("state: batch has no guard key")

// add folds one op of the batch seq into t. LastSeq keeps the highest seq.
func add(t Tally, op Op, seq int64) Tally {
	t.Amount += op.Amount
	t.Qty += op.Qty
	t.Orders++
	if seq > t.LastSeq {
		t.LastSeq = seq
	}
	return t
}

// guardTally marks a batch as applied.
func guardTally(seq int64) Tally { return Tally{Orders: 1, LastSeq: seq} }

func checkBatch(guard string, ops []Op) error {
	if guard == "" {
		return ErrNoGuard
	}
	for _, op := range ops {
		if op.Key == guard {
			return fmt.Errorf("state: op key %q is the guard", op.Key)
		}
	}
	return nil
}

// InMemoryStore is a simple thread-safe map store.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]Tally
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string]Tally)}
}

// LoadAll replaces the store contents with the provided snapshot.
func (s *InMemoryStore) LoadAll(all map[string]Tally) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]Tally, len(all))
	for k, v := range all {
		s.data[k] = v
	}
	return nil
}

func (s *InMemoryStore) ApplyOnce(guard string, seq int64, ops []Op) (bool, error) {
	if err := checkBatch(guard, ops); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.data[guard]; done {
		return false, nil
	}
	for _, op := range ops {
		s.data[op.Key] = add(s.data[op.Key], op, seq)
	}
	s.data[guard] = guardTally(seq)
	return true, nil
}

func (s *InMemoryStore) Get(key string) (Tally, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.data[key]
	return t, ok
}

func (s *InMemoryStore) Range(fn func(key string, t Tally) error) error {
	return s.Prefix("", fn)
}

func (s *InMemoryStore) Prefix(prefix string, fn func(key string, t Tally) error) error {
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	vals := make([]Tally, len(keys))
	for i, k := range keys {
		vals[i] = s.data[k]
	}
	s.mu.RUnlock()

	for i, k := range keys {
		if err := fn(k, vals[i]); err != nil {
			return stopOK(err)
		}
	}
	return nil
}

func (s *InMemoryStore) Close() error { return nil }

func stopOK(err error) error {
	if errors.Is(err, ErrStop) {
		return nil
	}
	return fmt.Errorf("range callback failed: %w", err)
}
