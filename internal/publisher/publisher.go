package publisher

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"markflow/models"
)

// Publisher owns the versioned mark price snapshot chain. Publication swaps
// one fully-formed snapshot pointer; readers through Current never block and
// never observe a partially written value.
type Publisher struct {
	current atomic.Pointer[models.MarkPriceSnapshot]

	mu      sync.Mutex
	version uint64
	history []models.MarkPriceSnapshot
	depth   int
}

// New creates a publisher retaining depth snapshots for audit queries.
func New(depth int) *Publisher {
	if depth <= 0 {
		depth = 1
	}
	return &Publisher{
		history: make([]models.MarkPriceSnapshot, depth),
		depth:   depth,
	}
}

// Publish assigns the next version, stamps the snapshot and makes it visible
// to all readers in one step. The candidate must arrive without a version.
// A version race means the serialized-cycle model was violated; the returned
// conflict error is fatal to the caller.
func (p *Publisher) Publish(candidate models.MarkPriceSnapshot) (models.MarkPriceSnapshot, error) {
	if candidate.Version != 0 {
		return models.MarkPriceSnapshot{}, fmt.Errorf("%w: candidate already versioned (%d)",
			models.ErrPublicationConflict, candidate.Version)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if cur := p.current.Load(); cur != nil && cur.Version != p.version {
		return models.MarkPriceSnapshot{}, fmt.Errorf("%w: current version %d does not match counter %d",
			models.ErrPublicationConflict, cur.Version, p.version)
	}

	p.version++
	candidate.Version = p.version
	if candidate.ComputedAt.IsZero() {
		candidate.ComputedAt = time.Now()
	}

	p.history[int((candidate.Version-1)%uint64(p.depth))] = candidate

	stored := candidate
	p.current.Store(&stored)

	return candidate, nil
}

// Current returns the latest complete snapshot. It never blocks and reports
// false before the first publication.
func (p *Publisher) Current() (models.MarkPriceSnapshot, bool) {
	cur := p.current.Load()
	if cur == nil {
		return models.MarkPriceSnapshot{}, false
	}
	return *cur, true
}

// Version returns the latest published version, zero before any publication.
func (p *Publisher) Version() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.version
}

// History returns the snapshots with versions in [from, to], ascending.
// Versions evicted from the ring or not yet published are omitted; from <= 0
// means the oldest retained version.
func (p *Publisher) History(from, to uint64) []models.MarkPriceSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.version == 0 {
		return nil
	}

	oldest := uint64(1)
	if p.version > uint64(p.depth) {
		oldest = p.version - uint64(p.depth) + 1
	}

	if from < oldest {
		from = oldest
	}
	if to == 0 || to > p.version {
		to = p.version
	}
	if from > to {
		return nil
	}

	out := make([]models.MarkPriceSnapshot, 0, to-from+1)
	for v := from; v <= to; v++ {
		out = append(out, p.history[int((v-1)%uint64(p.depth))])
	}
	return out
}
