package feedstore

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// LastTradeStore keeps the most recent traded price for the instrument. It
// backs the last-traded fallback used when the feed monitor suspends index
// derivation.
type LastTradeStore struct {
	mu    sync.RWMutex
	price decimal.Decimal
	at    time.Time
	has   bool
}

// NewLastTradeStore creates an empty last-trade store.
func NewLastTradeStore() *LastTradeStore {
	return &LastTradeStore{}
}

// Record stores the traded price. Non-positive prices are rejected and trades
// older than the stored one are ignored.
func (s *LastTradeStore) Record(price decimal.Decimal, at time.Time) error {
	if price.Sign() <= 0 {
		return fmt.Errorf("last trade: %w", ErrNonPositivePrice)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.has && !at.After(s.at) {
		return nil
	}

	s.price = price
	s.at = at
	s.has = true
	return nil
}

// Last returns the most recent traded price and its timestamp.
func (s *LastTradeStore) Last() (decimal.Decimal, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.price, s.at, s.has
}
