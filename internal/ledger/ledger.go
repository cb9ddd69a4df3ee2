// Package ledger remembers which orders have already been printed, so an
// order delivered twice comes out of the printer once.
package ledger

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrAlreadyClaimed = errors.New("ledger: order already claimed")

// DefaultTTL bounds how long a claim is remembered. Orders are picked up
// within days, so anything older cannot be redelivered.
const DefaultTTL = 7 * 24 * time.Hour

type Ledger interface {
	// Claim marks orderNumber as printed. It returns ErrAlreadyClaimed if a
	// live claim exists.
	Claim(ctx context.Context, orderNumber string) error
	// Release drops a claim, so a failed print can be retried.
	Release(ctx context.Context, orderNumber string) error
	Claimed(ctx context.Context, orderNumber string) (bool, error)
}

// MemoryLedger keeps claims in process memory.
type MemoryLedger struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	claims map[string]time.Time
}

func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryLedger{ttl: ttl, now: time.Now, claims: make(map[string]time.Time)}
}

func (m *MemoryLedger) live(orderNumber string) bool {
	exp, ok := m.claims[orderNumber]
	if ok && !m.now().Before(exp) {
		delete(m.claims, orderNumber)
		return false
	}
	return ok
}

func (m *MemoryLedger) Claim(_ context.Context, orderNumber string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live(orderNumber) {
		return ErrAlreadyClaimed
	}
	m.claims[orderNumber] = m.now().Add(m.ttl)
	return nil
}

func (m *MemoryLedger) Release(_ context.Context, orderNumber string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, orderNumber)
	return nil
}

func (m *MemoryLedger) Claimed(_ context.Context, orderNumber string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live(orderNumber), nil
}
