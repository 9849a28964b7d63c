package monitor

import (
	"sync"
	"time"

	"markflow/internal/metrics"
	"markflow/logger"
)

// State is the feed health state driving the publication fallback policy.
type State string

const (
	// StateHealthy means enough fresh sources exist; publish as computed.
	StateHealthy State = "healthy"
	// StateDegraded means aggregation is below the minimum source count but
	// the last valid mark is recent; publish LastValidFallback.
	StateDegraded State = "degraded"
	// StateSuspended means the outage outlasted the configured bound; publish
	// LastTradedFallback or halt, and require an explicit re-arm before
	// normal derivation resumes.
	StateSuspended State = "suspended"
)

// Config holds the monitor parameters.
type Config struct {
	MaxOutage time.Duration
}

// Status is the externally visible monitor state.
type Status struct {
	State         State         `json:"state"`
	Since         time.Time     `json:"since"`
	OutageFor     time.Duration `json:"outage_for"`
	RearmPending  bool          `json:"rearm_pending"`
	RearmRequired bool          `json:"rearm_required"`
}

// Monitor tracks feed health across cycles. It never resumes normal
// derivation from Suspended on its own: recovered sources keep the state
// Suspended until an operator re-arms.
type Monitor struct {
	cfg Config
	log *logger.Log

	mu            sync.Mutex
	state         State
	since         time.Time
	degradedSince time.Time
	rearm         bool
}

// New creates a monitor starting in the Healthy state.
func New(cfg Config) *Monitor {
	now := time.Now()
	return &Monitor{
		cfg:   cfg,
		log:   logger.GetLogger(),
		state: StateHealthy,
		since: now,
	}
}

// Observe advances the state machine with this cycle's aggregation outcome.
// valid reports whether the aggregator produced an index this cycle. The
// returned state decides the publication path for the same cycle.
func (m *Monitor) Observe(valid bool, now time.Time) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateHealthy:
		if !valid {
			m.transition(StateDegraded, now)
			m.degradedSince = now
		}
	case StateDegraded:
		if valid {
			m.transition(StateHealthy, now)
		} else if now.Sub(m.degradedSince) > m.cfg.MaxOutage {
			m.transition(StateSuspended, now)
		}
	case StateSuspended:
		if valid && m.rearm {
			m.rearm = false
			m.transition(StateHealthy, now)
		}
	}

	return m.state
}

// ReArm records the operator's approval to resume normal derivation. The
// transition out of Suspended still waits for the next cycle with a valid
// index; re-arming with sources still down keeps the request pending.
func (m *Monitor) ReArm() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateSuspended {
		m.log.WithComponent("monitor").WithFields(logger.Fields{"state": string(m.state)}).Info("re-arm ignored outside suspended state")
		return
	}

	m.rearm = true
	m.log.WithComponent("monitor").Warn("operator re-arm requested; normal derivation resumes on next valid cycle")
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns the externally visible status.
func (m *Monitor) Snapshot(now time.Time) Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := Status{
		State:         m.state,
		Since:         m.since,
		RearmPending:  m.rearm,
		RearmRequired: m.state == StateSuspended,
	}
	if m.state != StateHealthy && !m.degradedSince.IsZero() {
		status.OutageFor = now.Sub(m.degradedSince)
	}
	return status
}

// transition records the state change. Callers hold the lock.
func (m *Monitor) transition(to State, now time.Time) {
	from := m.state
	m.state = to
	m.since = now

	metrics.IncrementTransition(string(from), string(to))
	metrics.EmitMetric(m.log, "monitor", "state_transition", 1, "counter", logger.Fields{
		"from": string(from),
		"to":   string(to),
	})

	entry := m.log.WithComponent("monitor").WithFields(logger.Fields{
		"from": string(from),
		"to":   string(to),
	})
	if to == StateHealthy {
		entry.Info("feed monitor recovered")
		return
	}
	entry.Warn("feed monitor state worsened")
}
