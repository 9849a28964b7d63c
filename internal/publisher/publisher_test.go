package publisher

import (
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"markflow/models"
)

func candidateOf(value int64) models.MarkPriceSnapshot {
	return models.MarkPriceSnapshot{
		Symbol:     "BTC-USDT",
		Value:      decimal.NewFromInt(value),
		Derivation: models.DerivationNormal,
	}
}

func TestPublishAssignsStrictlyIncreasingVersions(t *testing.T) {
	p := New(8)

	for i := 1; i <= 20; i++ {
		snap, err := p.Publish(candidateOf(int64(50000 + i)))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if snap.Version != uint64(i) {
			t.Fatalf("expected version %d, got %d", i, snap.Version)
		}
	}

	current, ok := p.Current()
	if !ok || current.Version != 20 {
		t.Fatalf("expected current version 20, got %+v", current)
	}
}

func TestCurrentBeforeFirstPublication(t *testing.T) {
	p := New(4)
	if _, ok := p.Current(); ok {
		t.Fatalf("expected no current snapshot before first publish")
	}
	if p.Version() != 0 {
		t.Fatalf("expected version 0 before first publish")
	}
}

func TestPublishRejectsPreVersionedCandidate(t *testing.T) {
	p := New(4)

	candidate := candidateOf(50000)
	candidate.Version = 7

	if _, err := p.Publish(candidate); !errors.Is(err, models.ErrPublicationConflict) {
		t.Fatalf("expected publication conflict, got %v", err)
	}
}

func TestPublishDetectsVersionRace(t *testing.T) {
	p := New(4)

	if _, err := p.Publish(candidateOf(50000)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Simulate a concurrency-model violation: the counter drifts from the
	// published snapshot.
	p.mu.Lock()
	p.version = 5
	p.mu.Unlock()

	if _, err := p.Publish(candidateOf(50001)); !errors.Is(err, models.ErrPublicationConflict) {
		t.Fatalf("expected publication conflict, got %v", err)
	}
}

func TestHistoryRange(t *testing.T) {
	p := New(4)

	for i := 1; i <= 6; i++ {
		if _, err := p.Publish(candidateOf(int64(100 + i))); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	// Depth 4 retains versions 3..6.
	all := p.History(0, 0)
	if len(all) != 4 || all[0].Version != 3 || all[3].Version != 6 {
		t.Fatalf("unexpected retained history: %+v", all)
	}

	slice := p.History(4, 5)
	if len(slice) != 2 || slice[0].Version != 4 || slice[1].Version != 5 {
		t.Fatalf("unexpected history slice: %+v", slice)
	}

	if out := p.History(7, 9); out != nil {
		t.Fatalf("expected nil for future range, got %+v", out)
	}
}

func TestCurrentNeverBlocksDuringPublishes(t *testing.T) {
	p := New(16)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			if _, err := p.Publish(candidateOf(int64(50000 + i))); err != nil {
				t.Errorf("publish failed: %v", err)
				return
			}
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last uint64
			for i := 0; i < 500; i++ {
				snap, ok := p.Current()
				if !ok {
					continue
				}
				if snap.Version < last {
					t.Errorf("version went backwards: %d after %d", snap.Version, last)
					return
				}
				if snap.Value.IsZero() {
					t.Errorf("observed incomplete snapshot at version %d", snap.Version)
					return
				}
				last = snap.Version
			}
		}()
	}

	wg.Wait()
}
