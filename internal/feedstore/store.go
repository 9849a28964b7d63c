package feedstore

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"markflow/models"
)

// Rejection errors wrap models.ErrInvalidSample so callers can classify
// failures with errors.Is while metrics keep the specific reason.
var (
	ErrNonPositivePrice = fmt.Errorf("%w: non-positive price", models.ErrInvalidSample)
	ErrOutOfOrder       = fmt.Errorf("%w: out-of-order observed_at", models.ErrInvalidSample)
	ErrStaleOnArrival   = fmt.Errorf("%w: stale on arrival", models.ErrInvalidSample)
)

// Reject reasons used as metric labels.
const (
	ReasonNonPositivePrice = "non_positive_price"
	ReasonOutOfOrder       = "out_of_order"
	ReasonStaleOnArrival   = "stale_on_arrival"
)

// RejectReason maps a Submit error to its metric label. Unknown errors map to
// "invalid".
func RejectReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNonPositivePrice):
		return ReasonNonPositivePrice
	case errors.Is(err, ErrOutOfOrder):
		return ReasonOutOfOrder
	case errors.Is(err, ErrStaleOnArrival):
		return ReasonStaleOnArrival
	default:
		return "invalid"
	}
}

// Store keeps the latest validated sample per source for a single instrument.
// Only the newest accepted sample survives per source; history is not retained.
type Store struct {
	mu           sync.RWMutex
	samples      map[string]models.FeedSample
	sequences    map[string]uint64
	maxStaleness time.Duration
	now          func() time.Time
}

// NewStore creates an empty store. maxStaleness bounds how old a sample may be
// at submission time before it is rejected outright.
func NewStore(maxStaleness time.Duration) *Store {
	return &Store{
		samples:      make(map[string]models.FeedSample),
		sequences:    make(map[string]uint64),
		maxStaleness: maxStaleness,
		now:          time.Now,
	}
}

// Submit validates the sample and stores it as the latest for its source.
// Rejected samples leave the previously stored sample untouched. The stored
// sample receives a per-source monotonic sequence number.
func (s *Store) Submit(sample models.FeedSample) error {
	if sample.SourceID == "" {
		return fmt.Errorf("%w: empty source id", models.ErrInvalidSample)
	}

	if sample.Price.Sign() <= 0 {
		return fmt.Errorf("source %s: %w", sample.SourceID, ErrNonPositivePrice)
	}

	now := s.now()
	if sample.ReceivedAt.IsZero() {
		sample.ReceivedAt = now
	}

	if age := now.Sub(sample.ObservedAt); age > s.maxStaleness {
		return fmt.Errorf("source %s: %w (age %s)", sample.SourceID, ErrStaleOnArrival, age)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.samples[sample.SourceID]; ok && !sample.ObservedAt.After(prev.ObservedAt) {
		return fmt.Errorf("source %s: %w", sample.SourceID, ErrOutOfOrder)
	}

	s.sequences[sample.SourceID]++
	sample.Sequence = s.sequences[sample.SourceID]
	s.samples[sample.SourceID] = sample

	return nil
}

// Snapshot returns a copy of the latest sample per source with staleness
// computed against the provided reference time.
func (s *Store) Snapshot(now time.Time) map[string]models.SourceHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]models.SourceHealth, len(s.samples))
	for source, sample := range s.samples {
		out[source] = models.SourceHealth{
			Sample:    sample,
			Staleness: now.Sub(sample.ObservedAt),
		}
	}
	return out
}

// Len reports how many sources currently hold a sample.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples)
}

// Latest returns the stored sample for one source.
func (s *Store) Latest(source string) (models.FeedSample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sample, ok := s.samples[source]
	return sample, ok
}
